// Package calendar maps water-year band positions to day-count weights.
//
// A water year runs October of the prior calendar year through September.
// Band 0 is October, band 11 is September.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Bands is the number of monthly bands in one water year.
const Bands = 12

// ErrInvalidPosition is returned for band positions outside 0..11.
var ErrInvalidPosition = errors.New("invalid band position")

var bandMonthDays = [Bands]int{
	31, // October
	30, // November
	31, // December
	31, // January
	28, // February, see Weight
	31, // March
	30, // April
	31, // May
	30, // June
	31, // July
	31, // August
	30, // September
}

// februaryBand is the position of February within the water year.
const februaryBand = 4

// Weight returns the number of days in the month at position for the given
// water year.
//
// Leap years use the simple divisible-by-4 rule, so 1900 and 2100 are
// treated as leap years. Annual totals produced elsewhere depend on this
// rule; do not switch it to the full Gregorian rule.
func Weight(position, year int) (int, error) {
	if position < 0 || position >= Bands {
		return 0, fmt.Errorf("%w: %d (want 0..%d)", ErrInvalidPosition, position, Bands-1)
	}
	if position == februaryBand && year%4 == 0 {
		return 29, nil
	}
	return bandMonthDays[position], nil
}

// Weights returns the weight of every band for year.
func Weights(year int) [Bands]int {
	var w [Bands]int
	for p := range w {
		w[p], _ = Weight(p, year)
	}
	return w
}

// WaterYearDays returns the total day count of the water year.
func WaterYearDays(year int) int {
	total := 0
	for _, d := range Weights(year) {
		total += d
	}
	return total
}

// MonthOf returns the calendar month at a band position.
func MonthOf(position int) (time.Month, error) {
	if position < 0 || position >= Bands {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	return time.Month((position+9)%12 + 1), nil
}

// CalendarYearOf returns the calendar year a band falls in: bands 0-2
// (October to December) belong to year-1.
func CalendarYearOf(position, year int) (int, error) {
	if position < 0 || position >= Bands {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	if position < 3 {
		return year - 1, nil
	}
	return year, nil
}
