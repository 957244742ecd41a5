package gridstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// FileExt is appended to identifiers to form file names.
const FileExt = ".grid"

// FileStore stores each identifier as one encoded file under root.
type FileStore struct {
	fs    FileSystem
	root  string
	codec Codec
}

// NewFileStore returns a store rooted at root. A nil fsys uses the OS.
func NewFileStore(fsys FileSystem, root string) *FileStore {
	if fsys == nil {
		fsys = OSFileSystem{}
	}
	return &FileStore{fs: fsys, root: root, codec: NewCodec()}
}

// Path returns the file backing id.
func (s *FileStore) Path(id string) (string, error) {
	c, err := cleanID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(c)+FileExt), nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, id string) (*grid.Grid, error) {
	bands, err := s.LoadBands(ctx, id)
	if err != nil {
		return nil, err
	}
	return single(bands, id)
}

// LoadBands implements Store.
func (s *FileStore) LoadBands(ctx context.Context, id string) ([]*grid.Grid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	blob, err := s.fs.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	bands, err := s.codec.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return bands, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, g *grid.Grid, id string) error {
	return s.SaveBands(ctx, []*grid.Grid{g}, id)
}

// SaveBands implements Store.
func (s *FileStore) SaveBands(ctx context.Context, bands []*grid.Grid, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	blob, err := s.codec.Encode(bands)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := s.fs.WriteFile(p, blob, 0644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}
