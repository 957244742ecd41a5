package gridstore

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// DefaultNoData is the storage sentinel for invalid cells.
const DefaultNoData = -9999.0

const codecVersion = 1

// Codec encodes bands with gob inside gzip.
type Codec struct {
	NoData float64
}

// NewCodec returns a codec using DefaultNoData.
func NewCodec() Codec { return Codec{NoData: DefaultNoData} }

type encodedBands struct {
	Version  int
	Geometry grid.Geometry
	NoData   float64
	Bands    [][]float64
}

// Encode serialises bands, which must share geometry.
func (c Codec) Encode(bands []*grid.Grid) ([]byte, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("encode: no bands")
	}
	geom := bands[0].Geometry()
	enc := encodedBands{Version: codecVersion, Geometry: geom, NoData: c.NoData}
	for i, b := range bands {
		if !b.Geometry().Equal(geom) {
			return nil, fmt.Errorf("encode band %d: %w", i, grid.ErrShapeMismatch)
		}
		v := b.Values()
		for j, x := range v {
			if math.IsNaN(x) {
				v[j] = c.NoData
			}
		}
		enc.Bands = append(enc.Bands, v)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(enc); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode restores bands written by Encode. Cells equal to the sentinel the
// blob was written with become nodata.
func (c Codec) Decode(blob []byte) ([]*grid.Grid, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty grid blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var enc encodedBands
	if err := gob.NewDecoder(gz).Decode(&enc); err != nil {
		return nil, fmt.Errorf("failed to decode grid bands: %w", err)
	}
	if enc.Version != codecVersion {
		return nil, fmt.Errorf("unsupported grid blob version %d", enc.Version)
	}

	out := make([]*grid.Grid, len(enc.Bands))
	for i, v := range enc.Bands {
		for j, x := range v {
			if x == enc.NoData {
				v[j] = grid.NoData
			}
		}
		g, err := grid.New(enc.Geometry, v)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", i, err)
		}
		out[i] = g
	}
	return out, nil
}
