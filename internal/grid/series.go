package grid

import (
	"fmt"
	"sort"
)

// TimeSeries is one source's monthly bands for a water year.
type TimeSeries struct {
	Source string
	Year   int
	Layers []*Grid
}

// SourceSet maps a water year to the ordered source identifiers that
// contribute to it.
type SourceSet map[int][]string

// Years returns the declared years in ascending order.
func (s SourceSet) Years() []int {
	years := make([]int, 0, len(s))
	for y := range s {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Sources returns the sources declared for year.
func (s SourceSet) Sources(year int) ([]string, error) {
	src, ok := s[year]
	if !ok || len(src) == 0 {
		return nil, fmt.Errorf("no sources declared for year %d", year)
	}
	out := make([]string, len(src))
	copy(out, src)
	return out, nil
}
