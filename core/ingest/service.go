// Package ingest turns canonical normalizer records into stored events.
// Reply linkage is resolved here, once, at the replying event's own
// ingestion time; it is never backfilled later.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatledger/config"
	"chatledger/core/roster"
	"chatledger/core/store"
	"chatledger/core/utils"
)

// Inbound is the canonical event shape produced by the normalizer: every
// field of a stored event minus the internal id, which only the storage
// engine assigns.
type Inbound struct {
	ConversationID         string     `json:"conversation_id"`
	ConversationKind       string     `json:"conversation_kind"`
	ConversationLabel      string     `json:"conversation_label"`
	SourceMessageID        int64      `json:"source_message_id"`
	ReceivedAt             time.Time  `json:"received_at"`
	AuthorID               *int64     `json:"author_id"`
	AuthorHandle           string     `json:"author_handle"`
	AuthorDisplayName      string     `json:"author_display_name"`
	AuthorRole             string     `json:"author_role"`
	Text                   *string    `json:"text"`
	ContentKind            string     `json:"content_kind"`
	HasAttachment          bool       `json:"has_attachment"`
	ServiceAction          *string    `json:"service_action"`
	ReplyToSourceMessageID *int64     `json:"reply_to_source_message_id"`
	ForwardedFromID        *int64     `json:"forwarded_from_id"`
	ForwardedFromName      *string    `json:"forwarded_from_name"`
	EditedAt               *time.Time `json:"edited_at"`
	RawPayload             string     `json:"raw_payload"`
}

type Result struct {
	InternalID int64 `json:"internal_id"`
	Inserted   bool  `json:"inserted"`
}

type Service struct {
	events store.EventsStore
	roster *roster.Roster
	cfg    config.IngestConfig
	logger *utils.Logger
}

func NewService(events store.EventsStore, r *roster.Roster, cfg config.IngestConfig, logger *utils.Logger) *Service {
	return &Service{events: events, roster: r, cfg: cfg, logger: logger}
}

// Ingest persists one inbound record exactly once. Transient storage
// failures are retried a bounded number of times; anything still failing
// after that surfaces, because silently dropping an event is never
// acceptable.
func (s *Service) Ingest(ctx context.Context, in Inbound) (Result, error) {
	ev, err := s.prepare(ctx, in)
	if err != nil {
		return Result{}, err
	}

	backoff := s.cfg.RetryBackoff()
	attempts := s.cfg.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout())
		id, inserted, err := s.events.InsertEvent(callCtx, ev)
		cancel()
		if err == nil {
			return Result{InternalID: id, Inserted: inserted}, nil
		}
		if !errors.Is(err, store.ErrTransient) {
			return Result{}, err
		}
		lastErr = err
		if attempt < attempts {
			s.logger.Warnf("ingest retry %d/%d for conversation=%s source=%d: %v",
				attempt, attempts, in.ConversationID, in.SourceMessageID, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
			backoff *= 2
		}
	}
	return Result{}, fmt.Errorf("ingest gave up after %d attempts: %w", attempts, lastErr)
}

func (s *Service) prepare(ctx context.Context, in Inbound) (*store.Event, error) {
	ev := &store.Event{
		ConversationID:         in.ConversationID,
		ConversationKind:       in.ConversationKind,
		ConversationLabel:      in.ConversationLabel,
		SourceMessageID:        in.SourceMessageID,
		ReceivedAt:             in.ReceivedAt,
		AuthorID:               in.AuthorID,
		AuthorHandle:           in.AuthorHandle,
		AuthorDisplayName:      in.AuthorDisplayName,
		AuthorRole:             in.AuthorRole,
		Text:                   in.Text,
		ContentKind:            in.ContentKind,
		HasAttachment:          in.HasAttachment,
		ServiceAction:          in.ServiceAction,
		ReplyToSourceMessageID: in.ReplyToSourceMessageID,
		ForwardedFromID:        in.ForwardedFromID,
		ForwardedFromName:      in.ForwardedFromName,
		EditedAt:               in.EditedAt,
		RawPayload:             in.RawPayload,
	}
	if ev.AuthorRole == "" && ev.AuthorID != nil {
		ev.AuthorRole = s.roster.RoleOf(*ev.AuthorID)
	}
	s.resolveReplyLinkage(ctx, ev)
	return ev, nil
}

// resolveReplyLinkage derives the reply fields from the referenced event
// when it is already stored. Absence is fine (out-of-order arrival, sent
// before we joined, another conversation): the bare reference is kept and
// the derived fields stay null. Lookup failures are logged, never allowed
// to block ingestion.
func (s *Service) resolveReplyLinkage(ctx context.Context, ev *store.Event) {
	if ev.ReplyToSourceMessageID == nil {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout())
	defer cancel()
	ref, err := s.events.GetEventBySourceID(lookupCtx, ev.ConversationID, *ev.ReplyToSourceMessageID)
	if err != nil {
		s.logger.Warnf("reply lookup failed for conversation=%s source=%d: %v",
			ev.ConversationID, *ev.ReplyToSourceMessageID, err)
		return
	}
	if ref == nil {
		return
	}
	ev.ReplyToAuthorID = ref.AuthorID
	if ref.AuthorHandle != "" {
		handle := ref.AuthorHandle
		ev.ReplyToAuthorHandle = &handle
	}
	if kind, ok := s.roster.ReplyKindForRole(ref.AuthorRole); ok {
		ev.ReplyKind = &kind
	}
}
