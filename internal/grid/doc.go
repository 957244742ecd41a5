// Package grid owns the raster value type shared by every pipeline stage.
//
// A Grid is a fixed-size 2-D array of float64 cells with georeference
// metadata. Invalid (nodata) cells are NaN in memory; storage codecs
// translate their own sentinel values at the boundary. Grids are never
// mutated after construction: every operation returns a new Grid.
//
// Binary operations require identical geometry. Misaligned inputs are an
// error, never silently resampled; alignment belongs to package align.
package grid
