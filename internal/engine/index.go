package engine

import (
	"sort"

	"github.com/ducktracker/ducktracker/internal/model"
)

// tagIndex is the reverse index tag -> fetch IDs, split by visibility.
// Guarded by the hub lock.
type tagIndex struct {
	public  map[model.Tag]map[model.FetchID]struct{}
	private map[model.Tag]map[model.FetchID]struct{}
	entries map[model.FetchID]indexEntry
}

type indexEntry struct {
	tag        model.Tag
	visibility model.Visibility
}

func newTagIndex() *tagIndex {
	return &tagIndex{
		public:  make(map[model.Tag]map[model.FetchID]struct{}),
		private: make(map[model.Tag]map[model.FetchID]struct{}),
		entries: make(map[model.FetchID]indexEntry),
	}
}

func (ti *tagIndex) insert(id model.FetchID, tag model.Tag, vis model.Visibility) {
	ns := ti.namespace(vis)
	if ns[tag] == nil {
		ns[tag] = make(map[model.FetchID]struct{})
	}
	ns[tag][id] = struct{}{}
	ti.entries[id] = indexEntry{tag: tag, visibility: vis}
}

func (ti *tagIndex) remove(id model.FetchID) {
	entry, ok := ti.entries[id]
	if !ok {
		return
	}
	delete(ti.entries, id)
	ns := ti.namespace(entry.visibility)
	if ids, ok := ns[entry.tag]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(ns, entry.tag)
		}
	}
}

func (ti *tagIndex) namespace(vis model.Visibility) map[model.Tag]map[model.FetchID]struct{} {
	if vis == model.Public {
		return ti.public
	}
	return ti.private
}

// publicTags returns the live public tags in sorted order.
func (ti *tagIndex) publicTags() []model.Tag {
	tags := make([]model.Tag, 0, len(ti.public))
	for tag := range ti.public {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// matches resolves a subscriber filter to the set of matching fetch IDs.
// An empty filter means every public fetch; otherwise any fetch, public or
// private, carrying at least one selected tag matches.
func (ti *tagIndex) matches(selected map[model.Tag]struct{}) map[model.FetchID]struct{} {
	out := make(map[model.FetchID]struct{})
	if len(selected) == 0 {
		for _, ids := range ti.public {
			for id := range ids {
				out[id] = struct{}{}
			}
		}
		return out
	}
	for tag := range selected {
		for id := range ti.public[tag] {
			out[id] = struct{}{}
		}
		for id := range ti.private[tag] {
			out[id] = struct{}{}
		}
	}
	return out
}

// matchesFetch reports whether one fetch is visible under a filter.
func (ti *tagIndex) matchesFetch(f *fetch, selected map[model.Tag]struct{}) bool {
	if len(selected) == 0 {
		return f.visibility == model.Public
	}
	_, ok := selected[f.tag]
	return ok
}
