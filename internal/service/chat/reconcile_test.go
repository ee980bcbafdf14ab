package chat

import (
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/companion/backend/internal/model/chat"
)

func TestReconcileRelocatesHistory(t *testing.T) {
	r := NewRegistry(nil, summaries("x"), seqIDs("c"))
	l := NewLedger(map[string][]model.Message{"x": {msg(model.SenderAI, "hello")}}, nil)

	rep := Reconcile(r, l)
	require.Equal(t, []string{"x"}, rep.Relocated)
	require.True(t, rep.LedgerChanged())
	require.False(t, rep.RegistryChanged())
	require.True(t, l.Has("x", model.Archived))
	require.False(t, l.Has("x", model.Active))
	require.Equal(t, []string{KeyArchivedMessages, KeyMessages}, repairKeys(rep))
}

func TestReconcileDropsStaleCopy(t *testing.T) {
	// archive interrupted after the destination mapping was written
	r := NewRegistry(summaries("x"), nil, seqIDs("c"))
	h := map[string][]model.Message{"x": {msg(model.SenderAI, "hello")}}
	l := NewLedger(h, h)

	rep := Reconcile(r, l)
	require.Equal(t, []string{"x"}, rep.DroppedCopies)
	require.True(t, l.Has("x", model.Active))
	require.False(t, l.Has("x", model.Archived))
}

func TestReconcileResolvesDuplicateChatByHistory(t *testing.T) {
	// archive interrupted after the archived list was written
	r := NewRegistry(summaries("x", "y"), summaries("x", "y"), seqIDs("c"))
	l := NewLedger(nil, map[string][]model.Message{"x": {msg(model.SenderAI, "hello")}})

	rep := Reconcile(r, l)
	require.ElementsMatch(t, []string{"x", "y"}, rep.DuplicateChats)
	require.Equal(t, []string{"y"}, ids(r.Active()))
	require.Equal(t, []string{"x"}, ids(r.Archived()))
	require.Equal(t, []string{KeyArchivedChats, KeyChats}, repairKeys(rep))
}

func TestReconcileKeepsOrphans(t *testing.T) {
	r := NewRegistry(nil, nil, seqIDs("c"))
	l := NewLedger(map[string][]model.Message{"ghost": {msg(model.SenderUser, "boo")}}, nil)

	rep := Reconcile(r, l)
	require.False(t, rep.Changed())
	require.Equal(t, []string{"ghost"}, rep.Orphans)
	require.True(t, l.Has("ghost", model.Active))
}
