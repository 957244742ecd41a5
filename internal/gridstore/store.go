package gridstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// ErrNotFound is returned when an identifier has no stored grid.
var ErrNotFound = errors.New("grid not found")

// Store loads and saves grids by identifier.
type Store interface {
	Load(ctx context.Context, id string) (*grid.Grid, error)
	LoadBands(ctx context.Context, id string) ([]*grid.Grid, error)
	Save(ctx context.Context, g *grid.Grid, id string) error
	SaveBands(ctx context.Context, bands []*grid.Grid, id string) error
}

// cleanID normalises an identifier to a slash-separated relative path.
func cleanID(id string) (string, error) {
	id = strings.TrimSpace(strings.ReplaceAll(id, "\\", "/"))
	if id == "" {
		return "", fmt.Errorf("empty grid identifier")
	}
	c := path.Clean(strings.TrimPrefix(id, "/"))
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("grid identifier %q escapes the store root", id)
	}
	return c, nil
}

func single(bands []*grid.Grid, id string) (*grid.Grid, error) {
	if len(bands) != 1 {
		return nil, fmt.Errorf("%s holds %d bands, want 1", id, len(bands))
	}
	return bands[0], nil
}
