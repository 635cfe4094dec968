// Package model defines the core DuckTracker domain types and their wire
// representations: tags, fetch identities, location points and the
// incremental update protocol delivered to subscriber streams.
package model

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Visibility selects which tag namespace a fetch is indexed under.
type Visibility int

const (
	// Private tags are routable only to subscribers that list them.
	Private Visibility = iota
	// Public tags are advertised to every subscriber.
	Public
)

func (v Visibility) String() string {
	if v == Public {
		return "public"
	}
	return "private"
}

// Tag is a normalized routing keyword: lowercase, non-empty, no commas.
type Tag string

// NormalizeTag lowercases and trims a raw tag. Returns false when the
// result is empty or contains a comma.
func NormalizeTag(raw string) (Tag, bool) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" || strings.Contains(t, ",") {
		return "", false
	}
	return Tag(t), true
}

// ParseTagList splits a comma-separated subscriber filter into a tag set.
// Empty items are skipped; an empty result means "all public".
func ParseTagList(raw string) map[Tag]struct{} {
	set := make(map[Tag]struct{})
	for _, item := range strings.Split(raw, ",") {
		if t, ok := NormalizeTag(item); ok {
			set[t] = struct{}{}
		}
	}
	return set
}

// FetchID identifies one share session. IDs are allocated monotonically and
// never reused within a process lifetime.
type FetchID uint64

// Provider enumerates the point's positioning source.
const (
	ProviderGPS     = 0
	ProviderNetwork = 1
)

// Location is one geo point. On the wire it is the fixed-arity array
// [lat, lon, time, speed, accuracy, provider]; speed and accuracy may be null.
type Location struct {
	Lat      float64
	Lon      float64
	Time     int64
	Speed    *float64
	Accuracy *float64
	Provider int
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

func (l Location) MarshalJSON() ([]byte, error) {
	arr := [6]any{l.Lat, l.Lon, l.Time, l.Speed, l.Accuracy, l.Provider}
	return json.Marshal(arr)
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 6 {
		return fmt.Errorf("location: expected 6 elements, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &l.Lat); err != nil {
		return fmt.Errorf("location lat: %w", err)
	}
	if err := json.Unmarshal(arr[1], &l.Lon); err != nil {
		return fmt.Errorf("location lon: %w", err)
	}
	if err := json.Unmarshal(arr[2], &l.Time); err != nil {
		return fmt.Errorf("location time: %w", err)
	}
	if err := json.Unmarshal(arr[3], &l.Speed); err != nil {
		return fmt.Errorf("location speed: %w", err)
	}
	if err := json.Unmarshal(arr[4], &l.Accuracy); err != nil {
		return fmt.Errorf("location accuracy: %w", err)
	}
	if err := json.Unmarshal(arr[5], &l.Provider); err != nil {
		return fmt.Errorf("location provider: %w", err)
	}
	return nil
}
