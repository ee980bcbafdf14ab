package chat

import (
	"sort"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
)

// RepairReport lists what Reconcile changed.
type RepairReport struct {
	// DuplicateChats were listed in both partitions; the copy whose
	// partition does not hold the history was dropped.
	DuplicateChats []string `json:"duplicateChats"`
	// Relocated histories sat in the mapping opposite their chat.
	Relocated []string `json:"relocated"`
	// DroppedCopies were stale second copies of a history.
	DroppedCopies []string `json:"droppedCopies"`
	// Orphans have a history but no chat. They are kept untouched.
	Orphans []string `json:"orphans"`
}

// RegistryChanged reports whether either chat list needs rewriting.
func (r RepairReport) RegistryChanged() bool { return len(r.DuplicateChats) > 0 }

// LedgerChanged reports whether either message mapping needs rewriting.
func (r RepairReport) LedgerChanged() bool {
	return len(r.Relocated) > 0 || len(r.DroppedCopies) > 0
}

// Changed reports whether anything needs rewriting.
func (r RepairReport) Changed() bool { return r.RegistryChanged() || r.LedgerChanged() }

// Reconcile restores partition exclusivity after an interrupted move: every
// chat ends up in one list and its history in the matching mapping.
func Reconcile(reg *Registry, led *Ledger) RepairReport {
	var rep RepairReport

	for _, s := range reg.Active() {
		if !reg.contains(s.ID, model.Archived) {
			continue
		}
		rep.DuplicateChats = append(rep.DuplicateChats, s.ID)
		if led.Has(s.ID, model.Archived) && !led.Has(s.ID, model.Active) {
			reg.drop(s.ID, model.Active)
		} else {
			reg.drop(s.ID, model.Archived)
		}
	}

	for _, p := range []model.Partition{model.Active, model.Archived} {
		ids := led.IDs(p)
		sort.Strings(ids)
		for _, id := range ids {
			home, ok := reg.Locate(id)
			if !ok {
				if p == model.Active || !led.Has(id, model.Active) {
					rep.Orphans = append(rep.Orphans, id)
				}
				continue
			}
			if home == p {
				continue
			}
			if led.Has(id, home) {
				delete(led.mapping(p), id)
				rep.DroppedCopies = append(rep.DroppedCopies, id)
				continue
			}
			led.Move(id, p, home)
			rep.Relocated = append(rep.Relocated, id)
		}
	}
	return rep
}

// repairKeys returns the keys a report dirties in write order: message
// mappings before chat lists.
func repairKeys(rep RepairReport) []string {
	var keys []string
	if rep.LedgerChanged() {
		keys = append(keys, KeyArchivedMessages, KeyMessages)
	}
	if rep.RegistryChanged() {
		keys = append(keys, KeyArchivedChats, KeyChats)
	}
	return keys
}
