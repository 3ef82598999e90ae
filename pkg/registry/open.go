package registry

import (
	"context"
	"fmt"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverDisabled = "disabled"
)

// Config selects and locates a registry backend.
type Config struct {
	Driver string

	// Path is the directory (file) or database path (sqlite).
	Path string

	// URL is a libsql URL (sqlite) or a PostgreSQL connection string.
	URL string

	// AuthToken authenticates remote libsql databases.
	AuthToken string
}

// Open builds the configured Registry.
func Open(ctx context.Context, cfg Config) (Registry, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("file registry: path is required")
		}
		return NewFile(cfg.Path), nil
	case DriverSQLite, "libsql":
		return OpenSQL(ctx, SQLConfig{Path: cfg.Path, URL: cfg.URL, AuthToken: cfg.AuthToken})
	case DriverPostgres, "postgresql":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("postgres registry: url is required")
		}
		return ConnectPostgres(ctx, cfg.URL)
	case DriverDisabled, "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", cfg.Driver)
	}
}
