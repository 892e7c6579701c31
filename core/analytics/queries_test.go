package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chatledger/config"
	"chatledger/core/store"
	"chatledger/core/utils"
)

var base = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestQueries(t *testing.T) (*Queries, store.EventsStore) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "analytics.db"),
	}
	logger := utils.NewTestLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	events := store.NewEventsStore(db)
	return NewQueries(events), events
}

func mustInsert(t *testing.T, events store.EventsStore, ev *store.Event) {
	t.Helper()
	if _, _, err := events.InsertEvent(context.Background(), ev); err != nil {
		t.Fatalf("insert source=%d: %v", ev.SourceMessageID, err)
	}
}

func msg(sourceID int64, authorID int64, handle string, offset time.Duration) *store.Event {
	text := "message"
	return &store.Event{
		ConversationID:  "c1",
		SourceMessageID: sourceID,
		ReceivedAt:      base.Add(offset),
		AuthorID:        &authorID,
		AuthorHandle:    handle,
		Text:            &text,
		ContentKind:     "text",
		RawPayload:      "{}",
	}
}

func replyMsg(sourceID, replyTo int64, authorID int64, handle string, offset time.Duration) *store.Event {
	ev := msg(sourceID, authorID, handle, offset)
	ev.ReplyToSourceMessageID = &replyTo
	return ev
}

func TestReconstructThreadOldestFirst(t *testing.T) {
	q, events := newTestQueries(t)

	mustInsert(t, events, msg(100, 1, "alice", 0))
	mustInsert(t, events, replyMsg(101, 100, 2, "bob", 10*time.Second))
	mustInsert(t, events, replyMsg(102, 101, 1, "alice", 20*time.Second))

	chain, err := q.ReconstructThread(context.Background(), "c1", 102)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(chain))
	}
	want := []int64{100, 101, 102}
	for i, w := range want {
		if chain[i].SourceMessageID != w {
			t.Fatalf("position %d: expected source %d, got %d", i, w, chain[i].SourceMessageID)
		}
	}
}

func TestReconstructThreadStopsAtMissingReference(t *testing.T) {
	q, events := newTestQueries(t)

	// 101 references 100 which was never stored.
	mustInsert(t, events, replyMsg(101, 100, 2, "bob", 0))
	mustInsert(t, events, replyMsg(102, 101, 1, "alice", 10*time.Second))

	chain, err := q.ReconstructThread(context.Background(), "c1", 102)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected truncated chain of 2, got %d", len(chain))
	}
	if chain[0].SourceMessageID != 101 || chain[1].SourceMessageID != 102 {
		t.Fatalf("wrong chain order: %d, %d", chain[0].SourceMessageID, chain[1].SourceMessageID)
	}
}

func TestReconstructThreadTerminatesOnCycle(t *testing.T) {
	q, events := newTestQueries(t)

	// 100 <-> 101 reference each other. The walk must terminate and keep
	// each event once.
	mustInsert(t, events, replyMsg(100, 101, 1, "alice", 0))
	mustInsert(t, events, replyMsg(101, 100, 2, "bob", 10*time.Second))

	chain, err := q.ReconstructThread(context.Background(), "c1", 101)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("cycle must not duplicate events, got chain of %d", len(chain))
	}
}

func TestReconstructThreadUnknownEvent(t *testing.T) {
	q, _ := newTestQueries(t)

	_, err := q.ReconstructThread(context.Background(), "c1", 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTimeToFirstResponseMinimum(t *testing.T) {
	q, events := newTestQueries(t)

	mustInsert(t, events, msg(100, 1, "alice", 0))
	mustInsert(t, events, replyMsg(101, 100, 2, "bob", 10*time.Second))
	mustInsert(t, events, replyMsg(102, 100, 3, "carol", 5*time.Second))
	mustInsert(t, events, replyMsg(103, 100, 2, "bob", 30*time.Second))

	origin, err := events.GetEventBySourceID(context.Background(), "c1", 100)
	if err != nil {
		t.Fatalf("get origin: %v", err)
	}
	d, ok, err := q.TimeToFirstResponse(context.Background(), origin)
	if err != nil {
		t.Fatalf("ttfr: %v", err)
	}
	if !ok {
		t.Fatalf("expected a defined metric")
	}
	if d != 5*time.Second {
		t.Fatalf("expected 5s, got %v", d)
	}
}

func TestTimeToFirstResponseUndefinedWithoutReplies(t *testing.T) {
	q, events := newTestQueries(t)

	mustInsert(t, events, msg(100, 1, "alice", 0))
	origin, _ := events.GetEventBySourceID(context.Background(), "c1", 100)

	d, ok, err := q.TimeToFirstResponse(context.Background(), origin)
	if err != nil {
		t.Fatalf("ttfr: %v", err)
	}
	if ok || d != 0 {
		t.Fatalf("no replies means undefined, got ok=%v d=%v", ok, d)
	}
}

func TestReplyGraphPairCounts(t *testing.T) {
	q, events := newTestQueries(t)

	mustInsert(t, events, msg(100, 1, "alice", 0))
	mustInsert(t, events, replyMsg(101, 100, 2, "bob", 10*time.Second))
	mustInsert(t, events, replyMsg(102, 100, 2, "bob", 20*time.Second))
	mustInsert(t, events, replyMsg(103, 101, 1, "alice", 30*time.Second))

	edges, err := q.ReplyGraph(context.Background(), "c1")
	if err != nil {
		t.Fatalf("reply graph: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 aggregated pairs, got %d", len(edges))
	}
	counts := map[string]int64{}
	for _, e := range edges {
		counts[e.OriginAuthorHandle+"->"+e.ResponderAuthorHandle] = e.Count
	}
	if counts["alice->bob"] != 2 {
		t.Fatalf("expected alice->bob count 2, got %d", counts["alice->bob"])
	}
	if counts["bob->alice"] != 1 {
		t.Fatalf("expected bob->alice count 1, got %d", counts["bob->alice"])
	}
}
