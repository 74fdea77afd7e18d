// Package blob selects a blob backend from configuration and re-exports the
// core contract so callers depend on one import.
package blob

import (
	"context"
	"fmt"

	"plasticatlas/internal/blob/core"
	"plasticatlas/internal/infra/blob/fs"
	"plasticatlas/internal/infra/blob/memory"
	"plasticatlas/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is implemented by every backend.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = s3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// DefaultPresignExpiry applies when SignedURLOptions.Expiry is zero.
const DefaultPresignExpiry = core.DefaultPresignExpiry

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotExist    = core.ErrNotExist
	ErrExists      = core.ErrExists
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver   `yaml:"driver" env:"DRIVER"`
	FSRoot string   `yaml:"fs_root" env:"FS_ROOT"`
	S3     S3Config `yaml:"s3" envPrefix:"S3_"`
}

// Open constructs the configured backend. An empty driver selects the
// filesystem backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
