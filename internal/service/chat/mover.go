package chat

import (
	model "github.com/zhouzirui/companion/backend/internal/model/chat"
)

// Move describes one committed chat transfer between partitions.
type Move struct {
	ChatID       string
	From         model.Partition
	To           model.Partition
	HistoryMoved bool
}

// Mover relocates chats together with their histories so that a chat and its
// messages always share a partition.
type Mover struct {
	registry *Registry
	ledger   *Ledger
}

// NewMover binds a mover to a registry and ledger pair.
func NewMover(r *Registry, l *Ledger) *Mover {
	return &Mover{registry: r, ledger: l}
}

// Archive moves an active chat and its history to the archived partition.
func (m *Mover) Archive(id string) (Move, bool) {
	return m.move(id, model.Active, model.Archived)
}

// Unarchive moves an archived chat and its history back to the active
// partition.
func (m *Mover) Unarchive(id string) (Move, bool) {
	return m.move(id, model.Archived, model.Active)
}

// ArchiveAll archives every active chat, preserving their order at the front
// of the archived list.
func (m *Mover) ArchiveAll() []Move {
	summaries := m.registry.ArchiveAll()
	moves := make([]Move, 0, len(summaries))
	for _, s := range summaries {
		moves = append(moves, Move{
			ChatID:       s.ID,
			From:         model.Active,
			To:           model.Archived,
			HistoryMoved: m.ledger.Move(s.ID, model.Active, model.Archived),
		})
	}
	return moves
}

func (m *Mover) move(id string, from, to model.Partition) (Move, bool) {
	if !m.registry.relocate(id, from, to) {
		return Move{}, false
	}
	return Move{
		ChatID:       id,
		From:         from,
		To:           to,
		HistoryMoved: m.ledger.Move(id, from, to),
	}, true
}

// keysForMoves returns the durable keys a set of moves dirties, in write
// order: destination messages, source messages, destination list, source
// list. Message keys are skipped when no history changed mappings.
func keysForMoves(from, to model.Partition, moves ...Move) []string {
	if len(moves) == 0 {
		return nil
	}
	historyMoved := false
	for _, mv := range moves {
		historyMoved = historyMoved || mv.HistoryMoved
	}
	keys := make([]string, 0, 4)
	if historyMoved {
		keys = append(keys, messagesKey(to), messagesKey(from))
	}
	return append(keys, registryKey(to), registryKey(from))
}
