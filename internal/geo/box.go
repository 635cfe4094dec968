// Package geo implements the coordinate-box privacy wrap. Incoming points
// are remapped into a configured bounding box before they ever reach the
// engine, so raw coordinates are never stored or streamed.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ducktracker/ducktracker/internal/model"
)

// Box is a lat/lon bounding box with min < max on both axes.
type Box struct {
	LatMin, LonMin float64
	LatMax, LonMax float64
}

// ParseBox parses the "lat1,lng1,lat2,lng2" flag value. Corner order does
// not matter; zero-width ranges are rejected.
func ParseBox(s string) (Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Box{}, fmt.Errorf("box coords: expected lat1,lng1,lat2,lng2, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Box{}, fmt.Errorf("box coords: %w", err)
		}
		vals[i] = v
	}

	b := Box{
		LatMin: math.Min(vals[0], vals[2]),
		LatMax: math.Max(vals[0], vals[2]),
		LonMin: math.Min(vals[1], vals[3]),
		LonMax: math.Max(vals[1], vals[3]),
	}
	if b.LatMin == b.LatMax || b.LonMin == b.LonMax {
		return Box{}, fmt.Errorf("box coords: zero-width range in %q", s)
	}
	return b, nil
}

// Wrap remaps a point into the box. The mapping is modular fractional
// (Euclidean remainder over the range length) rather than an affine squash,
// so points far outside the box do not cluster on the edges.
func (b Box) Wrap(loc model.Location) model.Location {
	loc.Lat = wrap(loc.Lat, b.LatMin, b.LatMax)
	loc.Lon = wrap(loc.Lon, b.LonMin, b.LonMax)
	return loc
}

func wrap(v, min, max float64) float64 {
	span := max - min
	m := math.Mod(v-min, span)
	if m < 0 {
		m += span
	}
	return m + min
}
