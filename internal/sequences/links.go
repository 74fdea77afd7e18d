package sequences

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"time"

	"plasticatlas/internal/blob/core"
)

// DefaultStructurePrefix is the blob key prefix structure files live under.
const DefaultStructurePrefix = "pdb_structs"

// structureKey names the structure file for pdbID under prefix.
func structureKey(prefix, pdbID string) string {
	return path.Join(strings.Trim(prefix, "/"), pdbID+".pdb")
}

// StaticLinks joins structure file names onto a public base URL, for buckets
// served without authentication.
type StaticLinks struct {
	BaseURL string
}

// StructureURL implements LinkResolver.
func (l StaticLinks) StructureURL(_ context.Context, pdbID string) (string, error) {
	return strings.TrimRight(l.BaseURL, "/") + "/" + url.PathEscape(pdbID) + ".pdb", nil
}

// BlobLinks presigns structure files held in a blob store. Backends that
// cannot presign, and structures whose file was never uploaded, yield an
// empty URL.
type BlobLinks struct {
	Store  core.Store
	Prefix string
	Expiry time.Duration
}

// StructureURL implements LinkResolver.
func (l BlobLinks) StructureURL(ctx context.Context, pdbID string) (string, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultStructurePrefix
	}
	u, err := l.Store.PresignURL(ctx, structureKey(prefix, pdbID), core.SignedURLOptions{Expiry: l.Expiry})
	if errors.Is(err, core.ErrUnsupported) || errors.Is(err, core.ErrNotExist) {
		return "", nil
	}
	return u, err
}
