// Package artifactstore is the object-store client used by the orchestrator.
//
// It narrows a provider.Provider to the four operations runs need (existence,
// listing, whole-object read and write) and fixes the per-run key layout.
package artifactstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/3leaps/cloudres/pkg/provider"
)

// ErrNotFound is returned by Get for a missing key. It is the provider
// sentinel, so provider.IsNotFound also recognizes it.
var ErrNotFound = provider.ErrNotFound

// ErrTooLarge is returned by Get when an object exceeds the read limit.
var ErrTooLarge = errors.New("object exceeds read limit")

// DefaultMaxObjectSize bounds whole-object reads. Result tables and HTML
// reports are far below this.
const DefaultMaxObjectSize int64 = 256 << 20

// Store is the object store as seen by the orchestrator.
//
// Exists reports a missing key as (false, nil); only real failures are errors.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error

	// URI renders a location string for key (s3://bucket/key, file:///path/key).
	URI(key string) string
}

// ProviderStore adapts a provider.Provider to Store.
type ProviderStore struct {
	p        provider.Provider
	scheme   string
	root     string
	maxBytes int64
}

var _ Store = (*ProviderStore)(nil)

// Option configures a ProviderStore.
type Option func(*ProviderStore)

// WithMaxObjectSize overrides DefaultMaxObjectSize.
func WithMaxObjectSize(n int64) Option {
	return func(s *ProviderStore) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewProviderStore wraps p. scheme and root are used only to render URIs
// (e.g. "s3", "cloudresinput").
func NewProviderStore(p provider.Provider, scheme, root string, opts ...Option) *ProviderStore {
	s := &ProviderStore{p: p, scheme: scheme, root: root, maxBytes: DefaultMaxObjectSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provider returns the underlying provider.
func (s *ProviderStore) Provider() provider.Provider { return s.p }

func (s *ProviderStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.p.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if provider.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// List returns every key under prefix, following continuation tokens.
func (s *ProviderStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		res, err := s.p.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range res.Objects {
			keys = append(keys, obj.Key)
		}
		if !res.IsTruncated || res.ContinuationToken == "" {
			return keys, nil
		}
		token = res.ContinuationToken
	}
}

func (s *ProviderStore) Get(ctx context.Context, key string) ([]byte, error) {
	g, ok := s.p.(provider.ObjectGetter)
	if !ok {
		return nil, fmt.Errorf("get %s: provider does not support reads", key)
	}
	body, size, err := g.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	if size > s.maxBytes {
		return nil, fmt.Errorf("get %s: %d bytes: %w", key, size, ErrTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("get %s: %w", key, ErrTooLarge)
	}
	return data, nil
}

func (s *ProviderStore) Put(ctx context.Context, key string, data []byte) error {
	w, ok := s.p.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("put %s: provider does not support writes", key)
	}
	return w.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// PutStream writes r without buffering it, for uploaded inputs.
func (s *ProviderStore) PutStream(ctx context.Context, key string, r io.Reader, size int64) error {
	w, ok := s.p.(provider.ObjectPutter)
	if !ok {
		return fmt.Errorf("put %s: provider does not support writes", key)
	}
	return w.PutObject(ctx, key, r, size)
}

func (s *ProviderStore) URI(key string) string {
	if s.scheme == "file" {
		return "file://" + s.root + "/" + key
	}
	return s.scheme + "://" + s.root + "/" + key
}

// Close closes the underlying provider.
func (s *ProviderStore) Close() error {
	return s.p.Close()
}
