package model

import (
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		raw  string
		want Tag
		ok   bool
	}{
		{"ducks", "ducks", true},
		{" DUCKS ", "ducks", true},
		{"Duck Race 2026", "duck race 2026", true},
		{"", "", false},
		{"   ", "", false},
		{"a,b", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeTag(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeTag(%q) = (%q,%v), want (%q,%v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseTagList(t *testing.T) {
	set := ParseTagList(" Alpha,,beta , ALPHA")
	if len(set) != 2 {
		t.Fatalf("got %d tags, want 2: %v", len(set), set)
	}
	for _, want := range []Tag{"alpha", "beta"} {
		if _, ok := set[want]; !ok {
			t.Errorf("missing tag %q", want)
		}
	}

	if got := ParseTagList(""); len(got) != 0 {
		t.Errorf("empty filter should be empty set, got %v", got)
	}
}

func TestLocationJSON(t *testing.T) {
	speed := 1.5
	loc := Location{Lat: 55.5, Lon: 12.25, Time: 1700000000, Speed: &speed, Provider: ProviderGPS}

	data, err := json.Marshal(loc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `[55.5,12.25,1700000000,1.5,null,0]`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	var back Location
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.Lat != loc.Lat || back.Lon != loc.Lon || back.Time != loc.Time {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if back.Speed == nil || *back.Speed != speed {
		t.Errorf("speed lost in round trip: %v", back.Speed)
	}
	if back.Accuracy != nil {
		t.Errorf("accuracy should stay null, got %v", *back.Accuracy)
	}
}

func TestLocationUnmarshal_WrongArity(t *testing.T) {
	var loc Location
	if err := json.Unmarshal([]byte(`[1,2,3]`), &loc); err == nil {
		t.Error("short array should fail")
	}
	if err := json.Unmarshal([]byte(`{"lat":1}`), &loc); err == nil {
		t.Error("object form should fail")
	}
}

func TestLocationValid(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.01, 0, false},
		{0, -180.5, false},
	}
	for _, tt := range tests {
		if got := (Location{Lat: tt.lat, Lon: tt.lon}).Valid(); got != tt.want {
			t.Errorf("Valid(%v,%v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestChangeJSON_Variants(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		want   string
	}{
		{
			name:   "reset is a bare literal",
			change: ResetChange(),
			want:   `"reset"`,
		},
		{
			name:   "expire",
			change: Change{Expire: &ExpireFetch{FetchID: 7}},
			want:   `{"expire_fetch":{"fetch_id":7}}`,
		},
		{
			name: "add points",
			change: Change{AddPoints: &AddPoints{
				Points: map[FetchID][]Location{3: {{Lat: 1, Lon: 2, Time: 10}}},
			}},
			want: `{"add":{"points":{"3":[[1,2,10,null,null,0]]}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.change)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}

			var back Change
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if back.Reset != tt.change.Reset {
				t.Errorf("reset flag lost")
			}
			if (back.Expire == nil) != (tt.change.Expire == nil) {
				t.Errorf("expire variant lost")
			}
			if (back.AddPoints == nil) != (tt.change.AddPoints == nil) {
				t.Errorf("add variant lost")
			}
		})
	}
}

func TestChangeJSON_AddFetch(t *testing.T) {
	c := Change{AddFetch: &AddFetch{
		Tags:      map[FetchID][]Tag{4: {"ducks"}},
		Public:    []Tag{"race"},
		Names:     map[FetchID]string{4: "mallard"},
		MaxPoints: 100,
	}}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for _, frag := range []string{`"add_fetch"`, `"tags"`, `"public":["race"]`, `"names"`, `"max_points":100`} {
		if !strings.Contains(string(data), frag) {
			t.Errorf("marshal %s missing %s", data, frag)
		}
	}

	var back Change
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.AddFetch == nil || back.AddFetch.MaxPoints != 100 {
		t.Fatalf("round trip lost add_fetch: %+v", back)
	}
	if got := back.AddFetch.Tags[4]; len(got) != 1 || got[0] != "ducks" {
		t.Errorf("tags round trip = %v", got)
	}
}

func TestChangeJSON_Unknown(t *testing.T) {
	var c Change
	if err := json.Unmarshal([]byte(`"flush"`), &c); err == nil {
		t.Error("unknown literal should fail")
	}
	if err := json.Unmarshal([]byte(`{"nonsense":{}}`), &c); err == nil {
		t.Error("unknown variant should fail")
	}
	if err := json.Unmarshal([]byte(`42`), &c); err == nil {
		t.Error("number should fail")
	}
}

func TestUpdate_HeartbeatShape(t *testing.T) {
	u := Update{ServerTime: 1700000000, Interval: 25, Changes: []Change{}}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `{"server_time":1700000000,"interval":25,"changes":[]}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	// Regular updates omit interval entirely.
	u = Update{ServerTime: 1, Changes: []Change{ResetChange()}}
	data, _ = json.Marshal(u)
	if strings.Contains(string(data), "interval") {
		t.Errorf("interval should be omitted: %s", data)
	}
}
