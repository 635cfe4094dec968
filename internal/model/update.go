package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Update is one flush delivered to a subscriber stream. Heartbeats are
// updates with no changes; Interval then tells the client the keepalive
// cadence.
type Update struct {
	ServerTime int64    `json:"server_time"`
	Interval   int64    `json:"interval,omitempty"`
	Changes    []Change `json:"changes"`
}

// AddFetch announces fetches newly visible to the subscriber. Public always
// carries the public-tag set the subscriber should display, even for fetches
// it has not selected.
type AddFetch struct {
	Tags      map[FetchID][]Tag  `json:"tags"`
	Public    []Tag              `json:"public"`
	Names     map[FetchID]string `json:"names,omitempty"`
	MaxPoints int                `json:"max_points"`
}

// AddPoints carries freshly appended, post-trim points per fetch.
type AddPoints struct {
	Points map[FetchID][]Location `json:"points"`
}

// ExpireFetch removes one fetch from the subscriber's view.
type ExpireFetch struct {
	FetchID FetchID `json:"fetch_id"`
}

// Change is a tagged variant. Exactly one field is set; Reset serializes as
// the bare string "reset", the rest as single-key objects.
type Change struct {
	Reset     bool
	AddFetch  *AddFetch
	AddPoints *AddPoints
	Expire    *ExpireFetch
}

// ResetChange is the directive to clear subscriber-local state.
func ResetChange() Change { return Change{Reset: true} }

func (c Change) MarshalJSON() ([]byte, error) {
	switch {
	case c.Reset:
		return json.Marshal("reset")
	case c.AddFetch != nil:
		return json.Marshal(map[string]*AddFetch{"add_fetch": c.AddFetch})
	case c.AddPoints != nil:
		return json.Marshal(map[string]*AddPoints{"add": c.AddPoints})
	case c.Expire != nil:
		return json.Marshal(map[string]*ExpireFetch{"expire_fetch": c.Expire})
	}
	return nil, fmt.Errorf("change: no variant set")
}

func (c *Change) UnmarshalJSON(data []byte) error {
	*c = Change{}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "reset" {
			return fmt.Errorf("change: unknown literal %q", s)
		}
		c.Reset = true
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("change: %w", err)
	}
	if raw, ok := obj["add_fetch"]; ok {
		c.AddFetch = &AddFetch{}
		return json.Unmarshal(raw, c.AddFetch)
	}
	if raw, ok := obj["add"]; ok {
		c.AddPoints = &AddPoints{}
		return json.Unmarshal(raw, c.AddPoints)
	}
	if raw, ok := obj["expire_fetch"]; ok {
		c.Expire = &ExpireFetch{}
		return json.Unmarshal(raw, c.Expire)
	}
	return fmt.Errorf("change: unknown variant")
}
