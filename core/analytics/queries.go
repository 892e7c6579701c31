// Package analytics provides read-only derived views over stored events:
// thread reconstruction, time-to-first-response, reply graphs. No state of
// its own.
package analytics

import (
	"context"
	"fmt"
	"time"

	"chatledger/core/store"
)

// maxThreadHops bounds a backward reply walk. Real support threads are
// short; anything deeper than this is malformed data.
const maxThreadHops = 64

type Queries struct {
	events store.EventsStore
}

func NewQueries(events store.EventsStore) *Queries {
	return &Queries{events: events}
}

// ReconstructThread follows reply references backward from the given
// message and returns the chain oldest-first, ending at the requested
// event. A visited set guards against reference cycles in malformed data;
// the walk also stops at maxThreadHops or at a reference that was never
// stored.
func (q *Queries) ReconstructThread(ctx context.Context, conversationID string, sourceMessageID int64) ([]store.Event, error) {
	var chain []store.Event
	visited := map[int64]struct{}{}
	current := sourceMessageID
	for hop := 0; hop < maxThreadHops; hop++ {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}
		ev, err := q.events.GetEventBySourceID(ctx, conversationID, current)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			break
		}
		chain = append(chain, *ev)
		if ev.ReplyToSourceMessageID == nil {
			break
		}
		current = *ev.ReplyToSourceMessageID
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no event %d in conversation %s", store.ErrNotFound, sourceMessageID, conversationID)
	}
	// Walked leaf-to-root; callers want oldest first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// TimeToFirstResponse returns the smallest delta between ev and any event
// replying to it. ok is false when no reply exists: the metric is
// undefined then, not zero.
func (q *Queries) TimeToFirstResponse(ctx context.Context, ev *store.Event) (time.Duration, bool, error) {
	replies, err := q.events.ListRepliesTo(ctx, ev.ConversationID, ev.SourceMessageID)
	if err != nil {
		return 0, false, err
	}
	if len(replies) == 0 {
		return 0, false, nil
	}
	min := replies[0].ReceivedAt.Sub(ev.ReceivedAt)
	for _, r := range replies[1:] {
		if d := r.ReceivedAt.Sub(ev.ReceivedAt); d < min {
			min = d
		}
	}
	return min, true, nil
}

// ReplyGraph aggregates (original author -> responder) pair counts for a
// conversation.
func (q *Queries) ReplyGraph(ctx context.Context, conversationID string) ([]store.ReplyEdge, error) {
	return q.events.ReplyGraph(ctx, conversationID)
}
