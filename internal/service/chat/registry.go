package chat

import (
	model "github.com/zhouzirui/companion/backend/internal/model/chat"
)

// Registry holds the ordered active and archived chat lists. A chat id lives
// in at most one of them. Registry is not safe for concurrent use; the Service
// serialises access.
type Registry struct {
	active   []model.Summary
	archived []model.Summary
	newID    func() string
}

// NewRegistry builds a registry from loaded lists. Nil lists are treated as
// empty.
func NewRegistry(active, archived []model.Summary, newID func() string) *Registry {
	return &Registry{
		active:   cloneSummaries(active),
		archived: cloneSummaries(archived),
		newID:    newID,
	}
}

// Create prepends a new active chat. An empty title falls back to
// model.DefaultTitle.
func (r *Registry) Create(title string) model.Summary {
	if title == "" {
		title = model.DefaultTitle
	}
	s := model.Summary{ID: r.newID(), Title: title}
	r.active = append([]model.Summary{s}, r.active...)
	return s
}

// Rename retitles id in place, looking in the active list first.
func (r *Registry) Rename(id, title string) (model.Partition, bool) {
	for _, p := range []model.Partition{model.Active, model.Archived} {
		l := *r.list(p)
		if i := indexOf(l, id); i >= 0 {
			l[i].Title = title
			return p, true
		}
	}
	return 0, false
}

// Delete removes id from both lists and returns the lists it touched.
func (r *Registry) Delete(id string) []model.Partition {
	var touched []model.Partition
	for _, p := range []model.Partition{model.Active, model.Archived} {
		l := r.list(p)
		if i := indexOf(*l, id); i >= 0 {
			*l = removeAt(*l, i)
			touched = append(touched, p)
		}
	}
	return touched
}

// Locate reports which list holds id.
func (r *Registry) Locate(id string) (model.Partition, bool) {
	if indexOf(r.active, id) >= 0 {
		return model.Active, true
	}
	if indexOf(r.archived, id) >= 0 {
		return model.Archived, true
	}
	return 0, false
}

// Lookup returns the summary for id along with its partition.
func (r *Registry) Lookup(id string) (model.Summary, model.Partition, bool) {
	if i := indexOf(r.active, id); i >= 0 {
		return r.active[i], model.Active, true
	}
	if i := indexOf(r.archived, id); i >= 0 {
		return r.archived[i], model.Archived, true
	}
	return model.Summary{}, 0, false
}

// Active returns a copy of the active list, newest first.
func (r *Registry) Active() []model.Summary { return cloneSummaries(r.active) }

// Archived returns a copy of the archived list, most recently archived first.
func (r *Registry) Archived() []model.Summary { return cloneSummaries(r.archived) }

// ArchiveAll moves every active chat to the front of the archived list,
// keeping their relative order, and returns the moved summaries.
func (r *Registry) ArchiveAll() []model.Summary {
	moved := r.active
	r.archived = append(cloneSummaries(moved), r.archived...)
	r.active = []model.Summary{}
	return moved
}

// DeleteAll empties the active list and returns what was removed. Archived
// chats are untouched.
func (r *Registry) DeleteAll() []model.Summary {
	removed := r.active
	r.active = []model.Summary{}
	return removed
}

// Reset empties both lists.
func (r *Registry) Reset() {
	r.active = []model.Summary{}
	r.archived = []model.Summary{}
}

// relocate moves id from one list to the front of the other.
func (r *Registry) relocate(id string, from, to model.Partition) bool {
	src := r.list(from)
	i := indexOf(*src, id)
	if i < 0 {
		return false
	}
	s := (*src)[i]
	*src = removeAt(*src, i)
	dst := r.list(to)
	*dst = append([]model.Summary{s}, *dst...)
	return true
}

// drop removes id from one list only. Used when an id was found in
// both lists.
func (r *Registry) drop(id string, p model.Partition) {
	l := r.list(p)
	if i := indexOf(*l, id); i >= 0 {
		*l = removeAt(*l, i)
	}
}

func (r *Registry) contains(id string, p model.Partition) bool {
	return indexOf(*r.list(p), id) >= 0
}

func (r *Registry) list(p model.Partition) *[]model.Summary {
	if p == model.Archived {
		return &r.archived
	}
	return &r.active
}

func indexOf(items []model.Summary, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func removeAt(items []model.Summary, i int) []model.Summary {
	out := make([]model.Summary, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...)
}

func cloneSummaries(items []model.Summary) []model.Summary {
	out := make([]model.Summary, len(items))
	copy(out, items)
	return out
}
