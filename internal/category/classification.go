package category

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/spatialcompare/internal/grid"
)

// ErrUnknownVariableDomain is returned when a request names a variable or
// key the classification does not declare.
var ErrUnknownVariableDomain = errors.New("unknown variable domain")

// Domain declares the key variable of a classification source and the keys
// allowed for it.
type Domain struct {
	Variable string
	Keys     []Key
}

// Has reports whether k is declared.
func (d Domain) Has(k Key) bool {
	for _, dk := range d.Keys {
		if dk == k {
			return true
		}
	}
	return false
}

// AttributeTable maps a raster code to the attribute values of its row.
type AttributeTable map[int]map[string]Key

// Classification is a grid of class codes with its declared key domain.
// Without a table, the raster code itself is the key of the domain
// variable.
type Classification struct {
	Name   string
	Grid   *grid.Grid
	Table  AttributeTable
	Domain Domain
}

// Catalog holds the classification domain declared for each year.
type Catalog map[int]Domain

// Lookup returns the domain for year.
func (c Catalog) Lookup(year int) (Domain, error) {
	d, ok := c[year]
	if !ok {
		return Domain{}, fmt.Errorf("%w: no classification declared for year %d", ErrUnknownVariableDomain, year)
	}
	return d, nil
}

// checkRequest validates variable and keys against the declared domain.
func (c *Classification) checkRequest(variable string, keys []Key) error {
	if !strings.EqualFold(variable, c.Domain.Variable) {
		return fmt.Errorf("%w: %s declares %q, requested %q", ErrUnknownVariableDomain, c.Name, c.Domain.Variable, variable)
	}
	for _, k := range keys {
		if !c.Domain.Has(k) {
			return fmt.Errorf("%w: key %s is not declared for %s.%s", ErrUnknownVariableDomain, k, c.Name, c.Domain.Variable)
		}
	}
	return nil
}

// KeyAt returns the declared key of cell i. ok is false for nodata cells,
// codes missing from the attribute table, and keys outside the domain.
func (c *Classification) KeyAt(i int) (Key, bool) {
	v := c.Grid.Index(i)
	if math.IsNaN(v) {
		return Key{}, false
	}
	code := int(math.Round(v))

	var k Key
	if c.Table != nil {
		row, ok := c.Table[code]
		if !ok {
			return Key{}, false
		}
		if k, ok = lookupFold(row, c.Domain.Variable); !ok {
			return Key{}, false
		}
	} else {
		k = Numeric(code)
	}
	if !c.Domain.Has(k) {
		return Key{}, false
	}
	return k, true
}

// Keys returns the declared key of every cell; ok[i] is false where the
// cell has none.
func (c *Classification) Keys() (keys []Key, ok []bool) {
	n := c.Grid.Len()
	keys = make([]Key, n)
	ok = make([]bool, n)
	for i := 0; i < n; i++ {
		keys[i], ok[i] = c.KeyAt(i)
	}
	return keys, ok
}

func lookupFold(row map[string]Key, variable string) (Key, bool) {
	if k, ok := row[variable]; ok {
		return k, true
	}
	for name, k := range row {
		if strings.EqualFold(name, variable) {
			return k, true
		}
	}
	return Key{}, false
}
