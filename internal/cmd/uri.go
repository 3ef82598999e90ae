package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/cloudres/pkg/match"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates an s3 URI without a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// InputURI is a parsed input location.
//
//   - s3://bucket/run-1/reads_R1.fastq.gz
//   - s3://bucket/run-1/*.fastq.gz
//   - file:///data/reads/sample_R1.fastq.gz
type InputURI struct {
	// Provider is "s3" or "file".
	Provider string

	// Bucket is the bucket name. Empty for file URIs.
	Bucket string

	// Key is the object key, or the absolute path for file URIs. For patterns
	// it is the listing prefix before the first glob character.
	Key string

	// Pattern is the full glob when the location contains one.
	Pattern string
}

// String returns the URI in canonical form.
func (u *InputURI) String() string {
	path := u.Key
	if u.Pattern != "" {
		path = u.Pattern
	}
	if u.Provider == "file" {
		return "file://" + path
	}
	return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, path)
}

// IsPattern reports whether the URI names a set of objects.
func (u *InputURI) IsPattern() bool {
	return u.Pattern != ""
}

// ParseURI parses an input location. Glob metacharacters may be escaped with
// a backslash to match them literally.
func ParseURI(uri string) (*InputURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	// url.Parse would treat '?' as a query delimiter.
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3:// or file://)", ErrInvalidURI)
	}
	scheme := strings.ToLower(uri[:schemeEnd])
	remainder := uri[schemeEnd+3:]

	var out *InputURI
	switch scheme {
	case "s3":
		bucket, key, _ := strings.Cut(remainder, "/")
		if bucket == "" {
			return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
		}
		if strings.ContainsAny(bucket, `*?[]{}\ `) {
			return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
		}
		out = &InputURI{Provider: scheme, Bucket: bucket, Key: key}
	case "file":
		if !strings.HasPrefix(remainder, "/") {
			return nil, fmt.Errorf("%w: file URI must be absolute: %s", ErrInvalidURI, uri)
		}
		out = &InputURI{Provider: scheme, Key: remainder}
	default:
		return nil, fmt.Errorf("%w: %s (supported: s3, file)", ErrUnsupportedProvider, scheme)
	}

	if match.IsGlobPattern(out.Key) {
		out.Pattern = out.Key
	}
	out.Key = match.DerivePrefix(out.Key)
	return out, nil
}
