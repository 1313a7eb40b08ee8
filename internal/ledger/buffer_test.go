package ledger

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

func roster() []api.Actor {
	return []api.Actor{
		{ID: "lead", Role: model.RoleForeman},
		{ID: "peer-1", Role: model.RolePeer},
		{ID: "peer-2", Role: model.RolePeer},
	}
}

func chat(id, by string, to []string, priority model.Priority) api.Event {
	data, _ := json.Marshal(api.ChatMessage{Text: "msg " + id, To: to, Priority: priority})
	return api.Event{ID: id, Kind: model.KindChatMessage, By: by, Data: data}
}

func ids(b *Buffer) []string {
	out := []string{}
	for _, ev := range b.Events() {
		out = append(out, ev.ID)
	}
	return out
}

func TestAppendDedupesAndTrimsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		_, ok := b.Append(chat(fmt.Sprintf("e%d", i), "user", nil, ""), roster())
		require.True(t, ok)
	}
	_, ok := b.Append(chat("e5", "user", nil, ""), roster())
	require.False(t, ok, "duplicate id must be ignored")
	require.Equal(t, []string{"e3", "e4", "e5"}, ids(b))
	_, found := b.Find("e1")
	require.False(t, found, "trimmed entries are forgotten")
}

func TestAppendNeverReorders(t *testing.T) {
	b := NewBuffer(10)
	b.Append(api.Event{ID: "z", Kind: "actor.start", TS: "2026-01-01T00:00:02Z"}, nil)
	b.Append(api.Event{ID: "a", Kind: "actor.stop", TS: "2026-01-01T00:00:01Z"}, nil)
	require.Equal(t, []string{"z", "a"}, ids(b))
}

func TestComputedStatusWhenServerSendsNone(t *testing.T) {
	b := NewBuffer(10)
	e, _ := b.Append(chat("m1", "peer-1", []string{"@all"}, ""), roster())
	require.Equal(t, SourceComputed, e.Status.Source)
	require.Equal(t, map[string]bool{"lead": false, "peer-2": false}, e.Status.Read)
	require.Nil(t, e.Status.Ack, "normal priority carries no ack obligation")

	e, _ = b.Append(chat("m2", "user", []string{"@peers"}, model.PriorityAttention), roster())
	require.Equal(t, map[string]bool{"peer-1": false, "peer-2": false}, e.Status.Ack)
}

func TestServerStatusWinsAndIsRestrictedToRoster(t *testing.T) {
	b := NewBuffer(10)
	ev := chat("m1", "user", []string{"@all"}, "")
	ev.ReadStatus = map[string]bool{"lead": true, "retired": false}
	e, _ := b.Append(ev, roster())
	require.Equal(t, SourcePushed, e.Status.Source)
	require.Equal(t, map[string]bool{"lead": true}, e.Status.Read)

	b.Load([]api.Event{ev}, roster())
	got, _ := b.Find("m1")
	require.Equal(t, SourcePushed, got.Status.Source, "a reload never downgrades the source")
}

func TestMarkReadIsMonotonicCursor(t *testing.T) {
	b := NewBuffer(10)
	b.Append(chat("m1", "user", []string{"peer-1"}, ""), roster())
	b.Append(chat("m2", "user", []string{"peer-2"}, ""), roster())
	b.Append(chat("m3", "user", []string{"@peers"}, ""), roster())
	b.Append(chat("m4", "user", []string{"peer-1"}, ""), roster())

	changed := b.MarkRead("peer-1", "m3")
	require.Equal(t, 2, changed)

	m1, _ := b.Find("m1")
	m2, _ := b.Find("m2")
	m3, _ := b.Find("m3")
	m4, _ := b.Find("m4")
	require.True(t, m1.Status.Read["peer-1"])
	require.True(t, m3.Status.Read["peer-1"])
	require.False(t, m4.Status.Read["peer-1"], "later messages are untouched")
	_, added := m2.Status.Read["peer-1"]
	require.False(t, added, "recipients are never added")

	require.Zero(t, b.MarkRead("peer-1", "m1"), "an earlier receipt never un-marks")
	require.True(t, m3.Status.Read["peer-1"])
	require.Zero(t, b.MarkRead("peer-1", "unknown"))
}

func TestMarkReadPropertyRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	actors := []string{"lead", "peer-1", "peer-2"}
	for round := 0; round < 50; round++ {
		b := NewBuffer(64)
		n := 5 + rng.Intn(20)
		for i := 0; i < n; i++ {
			to := []string{actors[rng.Intn(len(actors))]}
			if rng.Intn(3) == 0 {
				to = nil
			}
			b.Append(chat(fmt.Sprintf("m%d", i), "user", to, ""), roster())
		}
		read := map[string]map[string]bool{}
		for step := 0; step < 10; step++ {
			actor := actors[rng.Intn(len(actors))]
			target := rng.Intn(n)
			b.MarkRead(actor, fmt.Sprintf("m%d", target))
			for i, e := range b.Entries() {
				st := e.Status.Read
				if prev, ok := read[e.Event.ID]; ok {
					for k, v := range prev {
						if v {
							require.True(t, st[k], "flag for %s on %s was un-marked", k, e.Event.ID)
						}
					}
				}
				if i <= target {
					if _, ok := st[actor]; ok {
						require.True(t, st[actor], "message %s before cursor not read by %s", e.Event.ID, actor)
					}
				}
				read[e.Event.ID] = st
			}
		}
	}
}

func TestMarkAckAffectsOnlyTarget(t *testing.T) {
	b := NewBuffer(10)
	b.Append(chat("m1", "user", []string{"peer-1"}, model.PriorityAttention), roster())
	b.Append(chat("m2", "user", []string{"peer-1"}, model.PriorityAttention), roster())
	require.True(t, b.MarkAck("peer-1", "m2"))
	require.False(t, b.MarkAck("peer-1", "m2"), "second ack is a no-op")
	m1, _ := b.Find("m1")
	m2, _ := b.Find("m2")
	require.False(t, m1.Status.Ack["peer-1"])
	require.True(t, m2.Status.Ack["peer-1"])
	require.True(t, m2.Status.Read["peer-1"])
	require.False(t, b.MarkAck("lead", "m2"), "non-recipient ack is ignored")
}

func TestViewHidesRemovedActors(t *testing.T) {
	b := NewBuffer(10)
	b.Append(chat("m1", "user", nil, model.PriorityAttention), roster())
	b.MarkAck("peer-2", "m1")
	shrunk := roster()[:2]
	entry, _ := b.Last()
	view := View(entry, shrunk)
	require.Equal(t, []RecipientState{
		{ActorID: "lead", NeedsAck: true},
		{ActorID: "peer-1", NeedsAck: true},
	}, view)

	read, acked, total := Summary(entry, roster())
	require.Equal(t, 1, read)
	require.Equal(t, 1, acked)
	require.Equal(t, 3, total)
}

func TestLoadKeepsReadFlagsAcrossRefetch(t *testing.T) {
	b := NewBuffer(10)
	b.Load([]api.Event{chat("m1", "user", []string{"peer-1"}, "")}, roster())
	b.MarkRead("peer-1", "m1")
	b.Load([]api.Event{chat("m1", "user", []string{"peer-1"}, ""), chat("m2", "user", nil, "")}, roster())
	m1, _ := b.Find("m1")
	require.True(t, m1.Status.Read["peer-1"])
	require.Equal(t, []string{"m1", "m2"}, ids(b))
}

func TestEntriesAreDetachedCopies(t *testing.T) {
	b := NewBuffer(10)
	b.Append(chat("m1", "user", []string{"peer-1"}, ""), roster())
	snap := b.Entries()
	snap[0].Status.Read["peer-1"] = true
	m1, _ := b.Find("m1")
	require.False(t, m1.Status.Read["peer-1"])
}

func TestMarkAckRecordsHumanSeparately(t *testing.T) {
	b := NewBuffer(10)
	b.Append(chat("m1", "lead", []string{"user"}, model.PriorityAttention), roster())
	b.Append(chat("m2", "lead", []string{"user"}, ""), roster())
	require.True(t, b.MarkAck(model.TokenUser, "m1"))
	require.False(t, b.MarkAck(model.TokenUser, "m1"), "second ack is a no-op")
	require.False(t, b.MarkAck(model.TokenUser, "m2"), "normal messages take no ack")

	m1, _ := b.Find("m1")
	require.True(t, m1.Status.UserAcked)
	require.Empty(t, m1.Status.Ack)
	addressed, acked := AwaitsUser(*m1)
	require.True(t, addressed)
	require.True(t, acked)

	b.Load([]api.Event{chat("m1", "lead", []string{"user"}, model.PriorityAttention)}, roster())
	m1, _ = b.Find("m1")
	require.True(t, m1.Status.UserAcked, "refetch keeps the human ack")
}

func TestReresolveOnlyTouchesComputedOverlays(t *testing.T) {
	b := NewBuffer(10)
	inline := chat("m2", "user", []string{"@peers"}, "")
	inline.ReadStatus = map[string]bool{"peer-1": true}
	b.Load([]api.Event{chat("m1", "user", []string{"@peers"}, ""), inline}, nil)
	m1, _ := b.Find("m1")
	require.Empty(t, m1.Status.Read)

	require.Equal(t, 1, b.Reresolve(roster()))
	m1, _ = b.Find("m1")
	require.Equal(t, map[string]bool{"peer-1": false, "peer-2": false}, m1.Status.Read)
	require.Equal(t, SourceComputed, m1.Status.Source)
	m2, _ := b.Find("m2")
	require.Empty(t, m2.Status.Read, "server overlays are kept as delivered")
	require.Zero(t, b.Reresolve(roster()), "same roster changes nothing")
}
