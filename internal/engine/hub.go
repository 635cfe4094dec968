// Package engine implements the DuckTracker core: the fetch store, the tag
// index, the subscriber registry and the delta engine that fans incremental
// updates out to every live stream.
package engine

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/ids"
	"github.com/ducktracker/ducktracker/internal/model"
	"github.com/ducktracker/ducktracker/internal/tagspec"
)

var (
	// ErrUnknownShare reports a link token with no live session behind it.
	ErrUnknownShare = errors.New("unknown share")
	// ErrShareExpired reports a session found but already past its deadline.
	ErrShareExpired = errors.New("share expired")
	// ErrInvalidPoint reports coordinates outside WGS84 bounds.
	ErrInvalidPoint = errors.New("invalid point")
)

// Config bounds the engine's resources and timers.
type Config struct {
	DefaultTTL    time.Duration // fetch lifetime, refreshed on append
	MaxPoints     int           // default per-fetch point cap
	HardMaxPoints int           // absolute ceiling for points:N requests
	MaxPointAge   time.Duration // optional; 0 disables age-based trimming
	QueueSize     int           // per-subscriber outbound queue bound
	IdleTimeout   time.Duration // heartbeat-free limit before eviction
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    3600 * time.Second,
		MaxPoints:     100,
		HardMaxPoints: 10000,
		QueueSize:     256,
		IdleTimeout:   5 * time.Minute,
	}
}

// Stats is a point-in-time snapshot for the metrics endpoint.
type Stats struct {
	ActiveFetches int
	OpenStreams   int
	TotalPoints   int
	PublicTags    int
	PrivateTags   int
}

// CreatedFetch describes one fetch allocated by Create.
type CreatedFetch struct {
	ID         model.FetchID
	Tag        model.Tag
	Visibility model.Visibility
	LinkToken  string
}

// CreateResult is the publisher's view of a new share session.
type CreateResult struct {
	SID     string
	Fetches []CreatedFetch
}

// Hub owns all mutable engine state behind one coarse lock. Mutations take
// the write lock; the lock is held only for the synchronous state
// transition; subscriber queue drains happen outside it.
type Hub struct {
	cfg    Config
	clock  Clock
	logger *zap.Logger

	mu          sync.RWMutex
	fetches     map[model.FetchID]*fetch
	bySID       map[string][]model.FetchID
	byToken     map[string]string // any link token (incl. the sid) -> sid
	index       *tagIndex
	subscribers map[string]*Subscriber
	nextFetchID model.FetchID
}

// NewHub creates an empty engine.
func NewHub(cfg Config, clock Clock, logger *zap.Logger) *Hub {
	return &Hub{
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		fetches:     make(map[model.FetchID]*fetch),
		bySID:       make(map[string][]model.FetchID),
		byToken:     make(map[string]string),
		index:       newTagIndex(),
		subscribers: make(map[string]*Subscriber),
		nextFetchID: 1,
	}
}

// Create allocates one fetch per distinct parsed tag, all sharing one
// session lineage, and announces them to matching subscribers. A zero dur
// falls back to the default TTL.
func (h *Hub) Create(owner string, parsed tagspec.Parsed, dur time.Duration, name string) CreateResult {
	now := h.clock.Now()
	ttl := dur
	if ttl <= 0 {
		ttl = h.cfg.DefaultTTL
	}
	maxPoints := h.cfg.MaxPoints
	if parsed.Options.MaxPoints > 0 {
		maxPoints = parsed.Options.MaxPoints
	}
	if maxPoints > h.cfg.HardMaxPoints {
		maxPoints = h.cfg.HardMaxPoints
	}

	sid := ids.NewLinkToken()
	result := CreateResult{SID: sid}

	h.mu.Lock()
	defer h.mu.Unlock()

	created := make([]*fetch, 0, len(parsed.Tags))
	for _, spec := range parsed.Tags {
		f := &fetch{
			id:          h.nextFetchID,
			sid:         sid,
			linkToken:   ids.NewLinkToken(),
			tag:         spec.Tag,
			visibility:  spec.Visibility,
			name:        name,
			maxPoints:   maxPoints,
			maxPointAge: h.cfg.MaxPointAge,
			ttl:         ttl,
			createdAt:   now,
			expiresAt:   now.Add(ttl),
		}
		h.nextFetchID++
		h.fetches[f.id] = f
		h.bySID[sid] = append(h.bySID[sid], f.id)
		h.byToken[f.linkToken] = sid
		h.index.insert(f.id, f.tag, f.visibility)
		created = append(created, f)

		result.Fetches = append(result.Fetches, CreatedFetch{
			ID:         f.id,
			Tag:        f.tag,
			Visibility: f.visibility,
			LinkToken:  f.linkToken,
		})
	}
	h.byToken[sid] = sid

	h.announceLocked(created, maxPoints)

	h.logger.Info("share created",
		zap.String("owner", owner),
		zap.Int("fetches", len(created)),
		zap.Duration("ttl", ttl),
	)
	return result
}

// announceLocked fans an AddFetch out to every subscriber that either sees
// one of the new fetches or must learn a new public tag.
func (h *Hub) announceLocked(created []*fetch, maxPoints int) {
	currentPublic := h.index.publicTags()

	for _, sub := range h.subscribers {
		tags := make(map[model.FetchID][]model.Tag)
		names := make(map[model.FetchID]string)
		for _, f := range created {
			if !h.index.matchesFetch(f, sub.Selected) {
				continue
			}
			tags[f.id] = []model.Tag{f.tag}
			if f.name != "" {
				names[f.id] = f.name
			}
		}

		newPublic := make([]model.Tag, 0)
		for _, t := range currentPublic {
			if _, known := sub.knownPublic[t]; !known {
				newPublic = append(newPublic, t)
			}
		}

		if len(tags) == 0 && len(newPublic) == 0 {
			continue
		}
		for fid := range tags {
			sub.visible[fid] = struct{}{}
		}
		for _, t := range newPublic {
			sub.knownPublic[t] = struct{}{}
		}
		if len(names) == 0 {
			names = nil
		}
		sub.enqueue(model.Change{AddFetch: &model.AddFetch{
			Tags:      tags,
			Public:    newPublic,
			Names:     names,
			MaxPoints: maxPoints,
		}})
	}
}

// Append commits points to every sibling fetch of the session behind the
// given link token, refreshes the session deadline and fans the post-trim
// deltas out to watching subscribers.
func (h *Hub) Append(token string, points []model.Location) error {
	for _, p := range points {
		if !p.Valid() {
			return ErrInvalidPoint
		}
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	sid, ok := h.byToken[token]
	if !ok {
		return ErrUnknownShare
	}
	fids := h.bySID[sid]
	if len(fids) == 0 {
		return ErrUnknownShare
	}
	if f := h.fetches[fids[0]]; f != nil && !f.expiresAt.After(now) {
		h.evictLocked(fids, "expired on append")
		return ErrShareExpired
	}

	deltas := make(map[model.FetchID][]model.Location, len(fids))
	for _, fid := range fids {
		f := h.fetches[fid]
		if f == nil {
			continue
		}
		delta := f.appendPoints(points, now)
		f.expiresAt = now.Add(f.ttl)
		if len(delta) > 0 {
			deltas[fid] = delta
		}
	}
	if len(deltas) == 0 {
		return nil
	}

	for _, sub := range h.subscribers {
		visible := make(map[model.FetchID][]model.Location)
		for fid, pts := range deltas {
			if _, ok := sub.visible[fid]; ok {
				visible[fid] = pts
			}
		}
		if len(visible) == 0 {
			continue
		}
		sub.enqueue(model.Change{AddPoints: &model.AddPoints{Points: visible}})
	}
	return nil
}

// Stop terminates every sibling fetch of the session immediately.
func (h *Hub) Stop(token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sid, ok := h.byToken[token]
	if !ok {
		return ErrUnknownShare
	}
	fids := h.bySID[sid]
	if len(fids) == 0 {
		return ErrUnknownShare
	}
	h.evictLocked(fids, "stopped by publisher")
	return nil
}

// Tick evicts fetches past their deadline or whose newest point has aged
// out. Called by the expiry scheduler.
func (h *Hub) Tick(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var expired []model.FetchID
	for fid, f := range h.fetches {
		if !f.expiresAt.After(now) {
			expired = append(expired, fid)
			continue
		}
		if f.maxPointAge > 0 && len(f.points) > 0 {
			last := f.points[len(f.points)-1].Time
			if now.Unix()-last > int64(f.maxPointAge/time.Second) {
				expired = append(expired, fid)
			}
		}
	}
	if len(expired) > 0 {
		h.evictLocked(expired, "ttl elapsed")
	}
	return len(expired)
}

// evictLocked removes fetches in the canonical order: index first, then
// subscriber notification, then the records themselves, so no subscriber
// ever observes a dangling ID.
func (h *Hub) evictLocked(fids []model.FetchID, reason string) {
	sort.Slice(fids, func(i, j int) bool { return fids[i] < fids[j] })

	for _, fid := range fids {
		h.index.remove(fid)
	}
	for _, fid := range fids {
		for _, sub := range h.subscribers {
			if _, ok := sub.visible[fid]; !ok {
				continue
			}
			delete(sub.visible, fid)
			sub.enqueue(model.Change{Expire: &model.ExpireFetch{FetchID: fid}})
		}
	}
	for _, fid := range fids {
		f, ok := h.fetches[fid]
		if !ok {
			continue
		}
		delete(h.fetches, fid)
		delete(h.byToken, f.linkToken)

		remaining := h.bySID[f.sid][:0]
		for _, other := range h.bySID[f.sid] {
			if other != fid {
				remaining = append(remaining, other)
			}
		}
		if len(remaining) == 0 {
			delete(h.bySID, f.sid)
			delete(h.byToken, f.sid)
		} else {
			h.bySID[f.sid] = remaining
		}
		h.logger.Debug("fetch evicted",
			zap.Uint64("fetch_id", uint64(fid)),
			zap.String("reason", reason),
		)
	}
}

// Subscribe registers a new stream. The first drain delivers Reset plus a
// full snapshot for the filter.
func (h *Hub) Subscribe(user string, selected map[model.Tag]struct{}) *Subscriber {
	sub := newSubscriber(ids.NewSubscriberID(), user, selected, h.cfg.QueueSize, h.clock.Now())

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()

	sub.markSnapshot()
	h.logger.Info("subscriber attached",
		zap.String("sub_id", sub.ID),
		zap.String("user", user),
		zap.Int("tags", len(selected)),
	)
	return sub
}

// Unsubscribe removes the stream from the registry and releases its queue.
// Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[sub.ID]
	delete(h.subscribers, sub.ID)
	h.mu.Unlock()

	sub.close()
	if present {
		h.logger.Info("subscriber detached", zap.String("sub_id", sub.ID))
	}
}

// DropIdleSubscribers evicts streams with no activity inside the idle limit.
func (h *Hub) DropIdleSubscribers(now time.Time) int {
	h.mu.RLock()
	var idle []*Subscriber
	for _, sub := range h.subscribers {
		if now.Sub(sub.lastActive()) > h.cfg.IdleTimeout {
			idle = append(idle, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range idle {
		h.logger.Info("dropping idle subscriber", zap.String("sub_id", sub.ID))
		h.Unsubscribe(sub)
	}
	return len(idle)
}

// NextUpdate drains the subscriber's pending changes into a single ordered
// update. Returns false when nothing is pending.
func (h *Hub) NextUpdate(sub *Subscriber) (model.Update, bool) {
	changes, snapshot := sub.take()
	if snapshot {
		h.mu.Lock()
		changes = h.snapshotLocked(sub)
		h.mu.Unlock()
	}
	if len(changes) == 0 {
		return model.Update{}, false
	}
	return model.Update{
		ServerTime: h.clock.Now().Unix(),
		Changes:    orderChanges(changes),
	}, true
}

// Heartbeat builds an empty-change keepalive update.
func (h *Hub) Heartbeat(interval time.Duration) model.Update {
	return model.Update{
		ServerTime: h.clock.Now().Unix(),
		Interval:   int64(interval / time.Second),
		Changes:    []model.Change{},
	}
}

// snapshotLocked rebuilds the subscriber's entire visible world: Reset, one
// AddFetch covering every matching fetch, one AddPoints with their
// histories. Queued changes are discarded; the snapshot subsumes them.
func (h *Hub) snapshotLocked(sub *Subscriber) []model.Change {
	sub.mu.Lock()
	sub.queue = nil
	sub.needSnapshot = false
	sub.mu.Unlock()

	matching := h.index.matches(sub.Selected)
	tags := make(map[model.FetchID][]model.Tag, len(matching))
	points := make(map[model.FetchID][]model.Location, len(matching))
	var names map[model.FetchID]string
	for fid := range matching {
		f := h.fetches[fid]
		if f == nil {
			continue
		}
		tags[fid] = []model.Tag{f.tag}
		points[fid] = f.history()
		if f.name != "" {
			if names == nil {
				names = make(map[model.FetchID]string)
			}
			names[fid] = f.name
		}
	}

	public := h.index.publicTags()
	sub.visible = matching
	sub.knownPublic = make(map[model.Tag]struct{}, len(public))
	for _, t := range public {
		sub.knownPublic[t] = struct{}{}
	}

	return []model.Change{
		model.ResetChange(),
		{AddFetch: &model.AddFetch{
			Tags:      tags,
			Public:    public,
			Names:     names,
			MaxPoints: h.cfg.MaxPoints,
		}},
		{AddPoints: &model.AddPoints{Points: points}},
	}
}

// Stats reports engine gauges for the metrics endpoint.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalPoints := 0
	privateTags := make(map[model.Tag]struct{})
	for _, f := range h.fetches {
		totalPoints += len(f.points)
		if f.visibility == model.Private {
			privateTags[f.tag] = struct{}{}
		}
	}
	return Stats{
		ActiveFetches: len(h.fetches),
		OpenStreams:   len(h.subscribers),
		TotalPoints:   totalPoints,
		PublicTags:    len(h.index.public),
		PrivateTags:   len(privateTags),
	}
}

// orderChanges applies the flush ordering contract: Reset first, AddFetch by
// ascending fetch ID, then one merged AddPoints, then ExpireFetch by
// ascending fetch ID.
func orderChanges(in []model.Change) []model.Change {
	var (
		reset   bool
		adds    []*model.AddFetch
		merged  map[model.FetchID][]model.Location
		expires []model.FetchID
	)
	for _, c := range in {
		switch {
		case c.Reset:
			reset = true
		case c.AddFetch != nil:
			adds = append(adds, c.AddFetch)
		case c.AddPoints != nil:
			if merged == nil {
				merged = make(map[model.FetchID][]model.Location)
			}
			for fid, pts := range c.AddPoints.Points {
				if _, ok := merged[fid]; !ok {
					// Keep empty histories non-nil so they serialize
					// as [] rather than null.
					merged[fid] = make([]model.Location, 0, len(pts))
				}
				merged[fid] = append(merged[fid], pts...)
			}
		case c.Expire != nil:
			expires = append(expires, c.Expire.FetchID)
		}
	}

	sort.Slice(adds, func(i, j int) bool { return minFetchID(adds[i]) < minFetchID(adds[j]) })
	sort.Slice(expires, func(i, j int) bool { return expires[i] < expires[j] })

	out := make([]model.Change, 0, len(adds)+len(expires)+2)
	if reset {
		out = append(out, model.ResetChange())
	}
	for _, a := range adds {
		out = append(out, model.Change{AddFetch: a})
	}
	if merged != nil {
		out = append(out, model.Change{AddPoints: &model.AddPoints{Points: merged}})
	}
	for _, fid := range expires {
		out = append(out, model.Change{Expire: &model.ExpireFetch{FetchID: fid}})
	}
	return out
}

func minFetchID(a *model.AddFetch) model.FetchID {
	min := model.FetchID(0)
	first := true
	for fid := range a.Tags {
		if first || fid < min {
			min = fid
			first = false
		}
	}
	return min
}
