// Package tagspec parses the Hauk "preferred link id" string into routing
// tags and out-of-band options.
package tagspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ducktracker/ducktracker/internal/ids"
	"github.com/ducktracker/ducktracker/internal/model"
)

// ErrInvalidTagSpec reports a malformed preferred link id.
var ErrInvalidTagSpec = errors.New("invalid tag spec")

// TagSpec is one parsed (visibility, tag) pair.
type TagSpec struct {
	Visibility model.Visibility
	Tag        model.Tag
}

// Options carries non-tag settings parsed out of the link id.
type Options struct {
	// MaxPoints overrides the per-fetch point cap for the whole request.
	// Zero means not set.
	MaxPoints int
}

// Parsed is the full parse result. Tags preserve left-to-right order with
// duplicates collapsed to their first occurrence.
type Parsed struct {
	Tags    []TagSpec
	Options Options
}

// Parse evaluates a comma-separated link id left to right. Each item is a
// bare tag (private by default), a pub:/public:/priv:/private: prefixed tag,
// or a points:N option. A prefix applies only to its own item. An empty
// input yields a single random private tag.
func Parse(raw string) (Parsed, error) {
	var out Parsed
	seen := make(map[model.Tag]struct{})

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		prefix, rest, hasPrefix := strings.Cut(item, ":")
		if hasPrefix {
			switch strings.ToLower(strings.TrimSpace(prefix)) {
			case "points":
				n, err := strconv.Atoi(strings.TrimSpace(rest))
				if err != nil || n <= 0 {
					return Parsed{}, fmt.Errorf("%w: bad points value %q", ErrInvalidTagSpec, rest)
				}
				out.Options.MaxPoints = n
				continue
			case "pub", "public":
				if err := appendTag(&out, seen, rest, model.Public); err != nil {
					return Parsed{}, err
				}
				continue
			case "priv", "private":
				if err := appendTag(&out, seen, rest, model.Private); err != nil {
					return Parsed{}, err
				}
				continue
			}
			// Unrecognized prefix: the colon belongs to the tag itself.
		}

		if err := appendTag(&out, seen, item, model.Private); err != nil {
			return Parsed{}, err
		}
	}

	if len(out.Tags) == 0 {
		out.Tags = append(out.Tags, TagSpec{
			Visibility: model.Private,
			Tag:        model.Tag(ids.NewRandomTag()),
		})
	}
	return out, nil
}

func appendTag(out *Parsed, seen map[model.Tag]struct{}, raw string, vis model.Visibility) error {
	tag, ok := model.NormalizeTag(raw)
	if !ok {
		return fmt.Errorf("%w: empty tag in %q", ErrInvalidTagSpec, raw)
	}
	if _, dup := seen[tag]; dup {
		return nil
	}
	seen[tag] = struct{}{}
	out.Tags = append(out.Tags, TagSpec{Visibility: vis, Tag: tag})
	return nil
}
