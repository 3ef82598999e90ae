package artifactstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/3leaps/cloudres/pkg/provider"
	"github.com/3leaps/cloudres/pkg/provider/file"
	"github.com/3leaps/cloudres/pkg/provider/s3"
)

// Backend settings shared by the input and output stores.
type Backend struct {
	// Provider is "s3" or "file".
	Provider string

	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool

	// BaseDir is the parent directory for file stores; each bucket becomes a
	// subdirectory.
	BaseDir string
}

// Open builds a ProviderStore for bucket on the configured backend.
func Open(ctx context.Context, b Backend, bucket string, opts ...Option) (*ProviderStore, error) {
	switch provider.ProviderType(b.Provider) {
	case provider.ProviderS3, "":
		p, err := s3.New(ctx, s3.Config{
			Bucket:         bucket,
			Region:         b.Region,
			Endpoint:       b.Endpoint,
			Profile:        b.Profile,
			ForcePathStyle: b.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewProviderStore(p, "s3", bucket, opts...), nil
	case provider.ProviderFile:
		if b.BaseDir == "" {
			return nil, fmt.Errorf("file store %s: base dir is required", bucket)
		}
		dir, err := filepath.Abs(filepath.Join(b.BaseDir, bucket))
		if err != nil {
			return nil, err
		}
		p, err := file.New(file.Config{BaseDir: dir, Create: true})
		if err != nil {
			return nil, err
		}
		return NewProviderStore(p, "file", filepath.ToSlash(dir), opts...), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", b.Provider)
	}
}
