package tagspec

import (
	"errors"
	"testing"

	"github.com/ducktracker/ducktracker/internal/model"
)

func TestParse_TagForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []TagSpec
	}{
		{
			name: "bare tag is private",
			raw:  "ducks",
			want: []TagSpec{{model.Private, "ducks"}},
		},
		{
			name: "pub prefix",
			raw:  "pub:race",
			want: []TagSpec{{model.Public, "race"}},
		},
		{
			name: "long prefixes",
			raw:  "public:race,private:me",
			want: []TagSpec{{model.Public, "race"}, {model.Private, "me"}},
		},
		{
			name: "mixed list keeps order",
			raw:  "alpha,pub:beta,priv:gamma",
			want: []TagSpec{
				{model.Private, "alpha"},
				{model.Public, "beta"},
				{model.Private, "gamma"},
			},
		},
		{
			name: "duplicate collapses to first occurrence",
			raw:  "pub:race,race",
			want: []TagSpec{{model.Public, "race"}},
		},
		{
			name: "unknown prefix keeps the colon in the tag",
			raw:  "gps:unit7",
			want: []TagSpec{{model.Private, "gps:unit7"}},
		},
		{
			name: "tags are lowercased and trimmed",
			raw:  " DUCKS , pub: Race ",
			want: []TagSpec{{model.Private, "ducks"}, {model.Public, "race"}},
		},
		{
			name: "empty items skipped",
			raw:  "a,,b",
			want: []TagSpec{{model.Private, "a"}, {model.Private, "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if len(got.Tags) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.raw, got.Tags, tt.want)
			}
			for i := range tt.want {
				if got.Tags[i] != tt.want[i] {
					t.Errorf("Parse(%q) tag %d = %v, want %v", tt.raw, i, got.Tags[i], tt.want[i])
				}
			}
		})
	}
}

func TestParse_PointsOption(t *testing.T) {
	got, err := Parse("ducks,points:500")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.Options.MaxPoints != 500 {
		t.Errorf("MaxPoints = %d, want 500", got.Options.MaxPoints)
	}
	if len(got.Tags) != 1 || got.Tags[0].Tag != "ducks" {
		t.Errorf("tags = %v, want just ducks", got.Tags)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{
		"points:abc",
		"points:0",
		"points:-5",
		"pub:",
		"priv:  ",
	} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidTagSpec) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidTagSpec", raw, err)
		}
	}
}

func TestParse_EmptyYieldsRandomPrivateTag(t *testing.T) {
	for _, raw := range []string{"", "  ", ",,"} {
		got, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		if len(got.Tags) != 1 {
			t.Fatalf("Parse(%q) yielded %d tags, want 1", raw, len(got.Tags))
		}
		if got.Tags[0].Visibility != model.Private {
			t.Errorf("Parse(%q) random tag should be private", raw)
		}
		if len(got.Tags[0].Tag) == 0 {
			t.Errorf("Parse(%q) random tag is empty", raw)
		}
	}

	// Two empty parses must not collide.
	a, _ := Parse("")
	b, _ := Parse("")
	if a.Tags[0].Tag == b.Tags[0].Tag {
		t.Error("random tags from separate parses collided")
	}
}
