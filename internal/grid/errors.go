package grid

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two grids taking part in one operation
// are not aligned.
var ErrShapeMismatch = errors.New("grid shape mismatch")

func checkAligned(op string, a, b *Grid) error {
	if !a.geom.Equal(b.geom) {
		return fmt.Errorf("%s: %w: %s vs %s", op, ErrShapeMismatch, a.geom, b.geom)
	}
	return nil
}
