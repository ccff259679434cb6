package source

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// FS serves tile content from a directory tree. Relative URIs resolve
// against the root; missing files are permanent failures.
type FS struct {
	root    string
	decoder Decoder
}

// NewFS creates a filesystem source rooted at dir.
func NewFS(dir string, decoder Decoder) *FS {
	return &FS{root: dir, decoder: decoder}
}

// GetData reads and decodes the content behind req.URI.
func (f *FS) GetData(ctx context.Context, req Request) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := req.URI
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.root, filepath.FromSlash(req.URI))
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, Permanent(eris.Wrapf(err, "read %s", path))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return decodeContent(req.URI, data, f.decoder)
}
