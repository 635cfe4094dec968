package engine

import (
	"sort"
	"time"

	"github.com/ducktracker/ducktracker/internal/model"
)

// fetch is one share session: a single routing tag plus a bounded FIFO of
// recent points. All fields are guarded by the hub lock.
type fetch struct {
	id         model.FetchID
	sid        string // lineage shared by sibling fetches from one create
	linkToken  string
	tag        model.Tag
	visibility model.Visibility
	name       string

	maxPoints   int
	maxPointAge time.Duration
	ttl         time.Duration

	points    []model.Location
	createdAt time.Time
	expiresAt time.Time
}

// appendPoints commits new points in time order and trims the ring. Points
// older than the current last point are dropped, not reordered into history.
// The returned slice holds the appended points that survived the trim, in
// stored order.
func (f *fetch) appendPoints(pts []model.Location, now time.Time) []model.Location {
	incoming := make([]model.Location, len(pts))
	copy(incoming, pts)
	sort.SliceStable(incoming, func(i, j int) bool { return incoming[i].Time < incoming[j].Time })

	pre := len(f.points)
	added := 0
	for _, p := range incoming {
		if n := len(f.points); n > 0 && p.Time < f.points[n-1].Time {
			continue
		}
		f.points = append(f.points, p)
		added++
	}

	drop := 0
	if over := len(f.points) - f.maxPoints; over > 0 {
		drop = over
	}
	if f.maxPointAge > 0 {
		cutoff := now.Unix() - int64(f.maxPointAge/time.Second)
		for drop < len(f.points) && f.points[drop].Time < cutoff {
			drop++
		}
	}
	if drop > 0 {
		remaining := make([]model.Location, len(f.points)-drop)
		copy(remaining, f.points[drop:])
		f.points = remaining
	}

	kept := added
	if trimmedFromNew := drop - pre; trimmedFromNew > 0 {
		kept -= trimmedFromNew
	}
	if kept <= 0 {
		return nil
	}
	delta := make([]model.Location, kept)
	copy(delta, f.points[len(f.points)-kept:])
	return delta
}

// history returns a copy of the stored trail. Never nil, so empty trails
// serialize as [] rather than null.
func (f *fetch) history() []model.Location {
	out := make([]model.Location, len(f.points))
	copy(out, f.points)
	return out
}
