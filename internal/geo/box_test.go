package geo

import (
	"math"
	"testing"

	"github.com/ducktracker/ducktracker/internal/model"
)

func TestParseBox(t *testing.T) {
	b, err := ParseBox("10,20,30,40")
	if err != nil {
		t.Fatalf("ParseBox failed: %v", err)
	}
	want := Box{LatMin: 10, LonMin: 20, LatMax: 30, LonMax: 40}
	if b != want {
		t.Errorf("ParseBox = %+v, want %+v", b, want)
	}
}

func TestParseBox_CornerOrderNormalized(t *testing.T) {
	b, err := ParseBox("30,40,10,20")
	if err != nil {
		t.Fatalf("ParseBox failed: %v", err)
	}
	if b.LatMin != 10 || b.LatMax != 30 || b.LonMin != 20 || b.LonMax != 40 {
		t.Errorf("corners not normalized: %+v", b)
	}
}

func TestParseBox_Invalid(t *testing.T) {
	for _, s := range []string{
		"1,2,3",
		"1,2,3,4,5",
		"a,2,3,4",
		"10,20,10,40", // zero-width lat
		"10,20,30,20", // zero-width lon
	} {
		if _, err := ParseBox(s); err == nil {
			t.Errorf("ParseBox(%q) should fail", s)
		}
	}
}

func TestWrap(t *testing.T) {
	b := Box{LatMin: 0, LatMax: 10, LonMin: 0, LonMax: 10}

	tests := []struct {
		lat, lon         float64
		wantLat, wantLon float64
	}{
		{5, 5, 5, 5},     // inside stays put
		{0, 0, 0, 0},     // lower edge
		{12, 3, 2, 3},    // past the top wraps around
		{-3, 5, 7, 5},    // below wraps from the top
		{25, -15, 5, 5},  // multiple spans out
		{10, 10, 0, 0},   // upper edge maps to lower
	}

	for _, tt := range tests {
		got := b.Wrap(model.Location{Lat: tt.lat, Lon: tt.lon})
		if math.Abs(got.Lat-tt.wantLat) > 1e-9 || math.Abs(got.Lon-tt.wantLon) > 1e-9 {
			t.Errorf("Wrap(%v,%v) = (%v,%v), want (%v,%v)",
				tt.lat, tt.lon, got.Lat, got.Lon, tt.wantLat, tt.wantLon)
		}
	}
}

func TestWrap_OffsetBox(t *testing.T) {
	b := Box{LatMin: 40, LatMax: 41, LonMin: -74, LonMax: -73}

	got := b.Wrap(model.Location{Lat: 51.5, Lon: 0.1})
	if got.Lat < b.LatMin || got.Lat >= b.LatMax {
		t.Errorf("wrapped lat %v outside [%v,%v)", got.Lat, b.LatMin, b.LatMax)
	}
	if got.Lon < b.LonMin || got.Lon >= b.LonMax {
		t.Errorf("wrapped lon %v outside [%v,%v)", got.Lon, b.LonMin, b.LonMax)
	}
}

func TestWrap_PreservesOtherFields(t *testing.T) {
	b := Box{LatMin: 0, LatMax: 1, LonMin: 0, LonMax: 1}
	speed := 4.2
	loc := model.Location{Lat: 2.5, Lon: 3.5, Time: 1700000000, Speed: &speed, Provider: model.ProviderNetwork}

	got := b.Wrap(loc)
	if got.Time != loc.Time || got.Speed != loc.Speed || got.Provider != loc.Provider {
		t.Error("Wrap must only touch coordinates")
	}
}
