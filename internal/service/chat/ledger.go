package chat

import (
	model "github.com/zhouzirui/companion/backend/internal/model/chat"
)

// Ledger holds per-chat message histories split into an active and an
// archived mapping. Histories are append-only; Replace swaps the whole list.
type Ledger struct {
	active   map[string][]model.Message
	archived map[string][]model.Message
}

// NewLedger builds a ledger from loaded mappings. Nil mappings are treated as
// empty.
func NewLedger(active, archived map[string][]model.Message) *Ledger {
	return &Ledger{
		active:   cloneHistories(active),
		archived: cloneHistories(archived),
	}
}

// Append adds msg to the chat's history in whichever mapping holds it, creating
// an active entry when neither does.
func (l *Ledger) Append(id string, msg model.Message) model.Partition {
	return l.AppendTo(id, model.Active, msg)
}

// AppendTo is Append with an explicit home. It writes to the mapping History
// reads for home, so a chat left in both mappings by a partial move keeps
// its new messages visible.
func (l *Ledger) AppendTo(id string, home model.Partition, msgs ...model.Message) model.Partition {
	p := l.target(id, home)
	m := l.mapping(p)
	m[id] = append(m[id], msgs...)
	return p
}

// History returns a copy of id's messages, reading the expected mapping first
// and falling back to the other. A chat with no entry yields an empty slice.
func (l *Ledger) History(id string, expected model.Partition) []model.Message {
	if msgs := l.mapping(expected)[id]; len(msgs) > 0 {
		return cloneMessages(msgs)
	}
	if msgs := l.mapping(expected.Other())[id]; len(msgs) > 0 {
		return cloneMessages(msgs)
	}
	return []model.Message{}
}

// Has reports whether p holds an entry for id, empty or not.
func (l *Ledger) Has(id string, p model.Partition) bool {
	_, ok := l.mapping(p)[id]
	return ok
}

// Locate reports which mapping holds id, checking active first.
func (l *Ledger) Locate(id string) (model.Partition, bool) {
	if _, ok := l.active[id]; ok {
		return model.Active, true
	}
	if _, ok := l.archived[id]; ok {
		return model.Archived, true
	}
	return 0, false
}

// Replace overwrites id's history in the mapping History reads for home, or
// in home when neither mapping holds it.
func (l *Ledger) Replace(id string, home model.Partition, msgs []model.Message) model.Partition {
	p := l.target(id, home)
	l.mapping(p)[id] = cloneMessages(msgs)
	return p
}

// target mirrors History's read order: home when it holds messages, then the
// other mapping, then whichever holds an empty entry, then home.
func (l *Ledger) target(id string, home model.Partition) model.Partition {
	if len(l.mapping(home)[id]) > 0 {
		return home
	}
	if len(l.mapping(home.Other())[id]) > 0 {
		return home.Other()
	}
	if !l.Has(id, home) && l.Has(id, home.Other()) {
		return home.Other()
	}
	return home
}

// Delete removes id from both mappings and returns the mappings it touched.
func (l *Ledger) Delete(id string) []model.Partition {
	var touched []model.Partition
	if _, ok := l.active[id]; ok {
		delete(l.active, id)
		touched = append(touched, model.Active)
	}
	if _, ok := l.archived[id]; ok {
		delete(l.archived, id)
		touched = append(touched, model.Archived)
	}
	return touched
}

// Move transfers id's entry from one mapping to the other. It reports false
// when the source mapping has nothing to move.
func (l *Ledger) Move(id string, from, to model.Partition) bool {
	src := l.mapping(from)
	msgs, ok := src[id]
	if !ok {
		return false
	}
	l.mapping(to)[id] = msgs
	delete(src, id)
	return true
}

// Reset empties both mappings.
func (l *Ledger) Reset() {
	l.active = map[string][]model.Message{}
	l.archived = map[string][]model.Message{}
}

// IDs returns the chat ids that have an entry in p.
func (l *Ledger) IDs(p model.Partition) []string {
	m := l.mapping(p)
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

func (l *Ledger) mapping(p model.Partition) map[string][]model.Message {
	if p == model.Archived {
		return l.archived
	}
	return l.active
}

func cloneMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

func cloneHistories(m map[string][]model.Message) map[string][]model.Message {
	out := make(map[string][]model.Message, len(m))
	for id, msgs := range m {
		out[id] = cloneMessages(msgs)
	}
	return out
}
