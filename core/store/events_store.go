package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatledger/core/utils"
)

// Event is one record of a single inbound chat occurrence. Every field
// except EditedAt is immutable after the first successful insert.
type Event struct {
	ID                     int64      `json:"id"`
	ConversationID         string     `json:"conversation_id"`
	ConversationKind       string     `json:"conversation_kind,omitempty"`
	ConversationLabel      string     `json:"conversation_label,omitempty"`
	SourceMessageID        int64      `json:"source_message_id"`
	ReceivedAt             time.Time  `json:"received_at"`
	AuthorID               *int64     `json:"author_id,omitempty"`
	AuthorHandle           string     `json:"author_handle,omitempty"`
	AuthorDisplayName      string     `json:"author_display_name,omitempty"`
	AuthorRole             string     `json:"author_role,omitempty"`
	Text                   *string    `json:"text,omitempty"`
	ContentKind            string     `json:"content_kind"`
	HasAttachment          bool       `json:"has_attachment"`
	ServiceAction          *string    `json:"service_action,omitempty"`
	ReplyToSourceMessageID *int64     `json:"reply_to_source_message_id,omitempty"`
	ReplyToAuthorID        *int64     `json:"reply_to_author_id,omitempty"`
	ReplyToAuthorHandle    *string    `json:"reply_to_author_handle,omitempty"`
	ReplyKind              *string    `json:"reply_kind,omitempty"`
	ForwardedFromID        *int64     `json:"forwarded_from_id,omitempty"`
	ForwardedFromName      *string    `json:"forwarded_from_name,omitempty"`
	EditedAt               *time.Time `json:"edited_at,omitempty"`
	RawPayload             string     `json:"raw_payload,omitempty"`
}

type EventFilter struct {
	ConversationID string
	Since          *time.Time
	Until          *time.Time
	ContentKind    string
	HasAttachment  *bool
	Order          string // "asc" (default) or "desc" by internal id
	Limit          int
	Offset         int
}

// ReplyEdge is one aggregated (origin author -> responder) pair.
type ReplyEdge struct {
	OriginAuthorID        *int64 `json:"origin_author_id,omitempty"`
	OriginAuthorHandle    string `json:"origin_author_handle,omitempty"`
	ResponderAuthorID     *int64 `json:"responder_author_id,omitempty"`
	ResponderAuthorHandle string `json:"responder_author_handle,omitempty"`
	Count                 int64  `json:"count"`
}

type EventsStore interface {
	// InsertEvent records ev exactly once. Re-inserting the same
	// (conversation_id, source_message_id) pair is a no-op unless the
	// incoming record carries an edit observation, in which case only
	// edited_at is updated. The classification placeholder row is created
	// in the same transaction as the event itself.
	InsertEvent(ctx context.Context, ev *Event) (id int64, inserted bool, err error)
	GetEvent(ctx context.Context, id int64) (*Event, error)
	GetEventBySourceID(ctx context.Context, conversationID string, sourceMessageID int64) (*Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	ListRepliesTo(ctx context.Context, conversationID string, sourceMessageID int64) ([]Event, error)
	ReplyGraph(ctx context.Context, conversationID string) ([]ReplyEdge, error)
}

type eventsStore struct {
	db *DB
}

func NewEventsStore(db *DB) EventsStore {
	return &eventsStore{db: db}
}

const eventColumns = `id, conversation_id, conversation_kind, conversation_label, source_message_id, received_at,
	author_id, author_handle, author_display_name, author_role,
	text, content_kind, has_attachment, service_action,
	reply_to_source_message_id, reply_to_author_id, reply_to_author_handle, reply_kind,
	forwarded_from_id, forwarded_from_name, edited_at, raw_payload`

func (s *eventsStore) InsertEvent(ctx context.Context, ev *Event) (int64, bool, error) {
	if err := validateEvent(ev); err != nil {
		return 0, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, classify("insert event", err)
	}

	existingID, err := s.lookupIDTx(ctx, tx, ev.ConversationID, ev.SourceMessageID)
	if err != nil {
		tx.Rollback()
		return 0, false, classify("insert event", err)
	}
	if existingID != 0 {
		id, err := s.markEditTx(ctx, tx, existingID, ev.EditedAt)
		return id, false, err
	}

	now := utils.NowUTC()
	received := ev.ReceivedAt.UTC()
	id, err := s.insertRowTx(ctx, tx, ev, received)
	if err != nil {
		tx.Rollback()
		if isDuplicatePair(err) {
			// Lost the race to a concurrent insert of the same pair.
			return s.resolveDuplicate(ctx, ev)
		}
		return 0, false, classify("insert event", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(`
		INSERT INTO classifications(event_id, is_unclassified, created_at, updated_at)
		VALUES(?, TRUE, ?, ?)`), id, now, now); err != nil {
		tx.Rollback()
		return 0, false, classify("insert classification placeholder", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, classify("insert event", err)
	}
	ev.ID = id
	ev.ReceivedAt = received
	return id, true, nil
}

func (s *eventsStore) insertRowTx(ctx context.Context, tx *sql.Tx, ev *Event, received time.Time) (int64, error) {
	raw := ev.RawPayload
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	contentKind := ev.ContentKind
	if contentKind == "" {
		contentKind = "text"
	}
	query := `
		INSERT INTO events(conversation_id, conversation_kind, conversation_label, source_message_id, received_at,
			author_id, author_handle, author_display_name, author_role,
			text, content_kind, has_attachment, service_action,
			reply_to_source_message_id, reply_to_author_id, reply_to_author_handle, reply_kind,
			forwarded_from_id, forwarded_from_name, edited_at, raw_payload)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	args := []any{
		ev.ConversationID, ev.ConversationKind, ev.ConversationLabel, ev.SourceMessageID, received,
		nullableID(ev.AuthorID), ev.AuthorHandle, ev.AuthorDisplayName, ev.AuthorRole,
		nullableText(ev.Text), contentKind, ev.HasAttachment, nullableText(ev.ServiceAction),
		nullableID(ev.ReplyToSourceMessageID), nullableID(ev.ReplyToAuthorID), nullableText(ev.ReplyToAuthorHandle), nullableText(ev.ReplyKind),
		nullableID(ev.ForwardedFromID), nullableText(ev.ForwardedFromName), nullableTime(ev.EditedAt), raw,
	}
	if s.db.IsPostgres() {
		var id int64
		err := tx.QueryRowContext(ctx, s.db.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// markEditTx finishes the duplicate path: with an edit observation only
// edited_at changes, otherwise the call is a pure no-op.
func (s *eventsStore) markEditTx(ctx context.Context, tx *sql.Tx, id int64, editedAt *time.Time) (int64, error) {
	if editedAt == nil {
		tx.Rollback()
		return id, nil
	}
	if _, err := tx.ExecContext(ctx, s.db.rebind(`UPDATE events SET edited_at=? WHERE id=?`), editedAt.UTC(), id); err != nil {
		tx.Rollback()
		return 0, classify("mark edit", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, classify("mark edit", err)
	}
	return id, nil
}

func (s *eventsStore) resolveDuplicate(ctx context.Context, ev *Event) (int64, bool, error) {
	existing, err := s.GetEventBySourceID(ctx, ev.ConversationID, ev.SourceMessageID)
	if err != nil {
		return 0, false, err
	}
	if existing == nil {
		return 0, false, fatal("insert event", errors.New("duplicate reported but row not readable"))
	}
	if ev.EditedAt != nil {
		if _, err := s.db.ExecContext(ctx, s.db.rebind(`UPDATE events SET edited_at=? WHERE id=?`), ev.EditedAt.UTC(), existing.ID); err != nil {
			return 0, false, classify("mark edit", err)
		}
	}
	return existing.ID, false, nil
}

func (s *eventsStore) lookupIDTx(ctx context.Context, tx *sql.Tx, conversationID string, sourceMessageID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.db.rebind(`
		SELECT id FROM events WHERE conversation_id=? AND source_message_id=?`),
		conversationID, sourceMessageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (s *eventsStore) GetEvent(ctx context.Context, id int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`SELECT `+eventColumns+` FROM events WHERE id=?`), id)
	return scanEventRow(row)
}

func (s *eventsStore) GetEventBySourceID(ctx context.Context, conversationID string, sourceMessageID int64) (*Event, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT `+eventColumns+` FROM events WHERE conversation_id=? AND source_message_id=?`),
		conversationID, sourceMessageID)
	return scanEventRow(row)
}

func (s *eventsStore) ListEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	var clauses []string
	var args []any
	if filter.ConversationID != "" {
		clauses = append(clauses, "conversation_id=?")
		args = append(args, filter.ConversationID)
	}
	if filter.Since != nil {
		clauses = append(clauses, "received_at>=?")
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		clauses = append(clauses, "received_at<?")
		args = append(args, filter.Until.UTC())
	}
	if filter.ContentKind != "" {
		clauses = append(clauses, "content_kind=?")
		args = append(args, filter.ContentKind)
	}
	if filter.HasAttachment != nil {
		clauses = append(clauses, "has_attachment=?")
		args = append(args, *filter.HasAttachment)
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	switch filter.Order {
	case "", "asc":
		query += " ORDER BY id ASC"
	case "desc":
		query += " ORDER BY id DESC"
	default:
		return nil, fmt.Errorf("%w: order must be asc or desc", ErrValidation)
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, s.db.rebind(query), args...)
	if err != nil {
		return nil, classify("list events", err)
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, classify("list events", err)
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *eventsStore) ListRepliesTo(ctx context.Context, conversationID string, sourceMessageID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT `+eventColumns+` FROM events
		WHERE conversation_id=? AND reply_to_source_message_id=?
		ORDER BY received_at ASC, id ASC`), conversationID, sourceMessageID)
	if err != nil {
		return nil, classify("list replies", err)
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, classify("list replies", err)
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *eventsStore) ReplyGraph(ctx context.Context, conversationID string) ([]ReplyEdge, error) {
	rows, err := s.db.QueryContext(ctx, s.db.rebind(`
		SELECT o.author_id, o.author_handle, r.author_id, r.author_handle, COUNT(*) AS n
		FROM events r
		JOIN events o
			ON o.conversation_id = r.conversation_id
			AND o.source_message_id = r.reply_to_source_message_id
		WHERE r.conversation_id=? AND r.reply_to_source_message_id IS NOT NULL
		GROUP BY o.author_id, o.author_handle, r.author_id, r.author_handle
		ORDER BY n DESC, o.author_handle ASC, r.author_handle ASC`), conversationID)
	if err != nil {
		return nil, classify("reply graph", err)
	}
	defer rows.Close()
	var res []ReplyEdge
	for rows.Next() {
		var e ReplyEdge
		var origin, responder sql.NullInt64
		if err := rows.Scan(&origin, &e.OriginAuthorHandle, &responder, &e.ResponderAuthorHandle, &e.Count); err != nil {
			return nil, classify("reply graph", err)
		}
		if origin.Valid {
			e.OriginAuthorID = &origin.Int64
		}
		if responder.Valid {
			e.ResponderAuthorID = &responder.Int64
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func validateEvent(ev *Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrValidation)
	}
	if strings.TrimSpace(ev.ConversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", ErrValidation)
	}
	// Positive only, matching the id bounds the HTTP layer accepts.
	if ev.SourceMessageID <= 0 {
		return fmt.Errorf("%w: source_message_id must be positive", ErrValidation)
	}
	if ev.ReceivedAt.IsZero() {
		return fmt.Errorf("%w: received_at is required", ErrValidation)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row *sql.Row) (*Event, error) {
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("scan event", err)
	}
	return &ev, nil
}

func scanEvent(r rowScanner) (Event, error) {
	var ev Event
	var authorID, replyToSrc, replyToAuthor, fwdID sql.NullInt64
	var text, serviceAction, replyToHandle, replyKind, fwdName sql.NullString
	var editedAt sql.NullTime
	err := r.Scan(
		&ev.ID, &ev.ConversationID, &ev.ConversationKind, &ev.ConversationLabel, &ev.SourceMessageID, &ev.ReceivedAt,
		&authorID, &ev.AuthorHandle, &ev.AuthorDisplayName, &ev.AuthorRole,
		&text, &ev.ContentKind, &ev.HasAttachment, &serviceAction,
		&replyToSrc, &replyToAuthor, &replyToHandle, &replyKind,
		&fwdID, &fwdName, &editedAt, &ev.RawPayload,
	)
	if err != nil {
		return ev, err
	}
	if authorID.Valid {
		ev.AuthorID = &authorID.Int64
	}
	if text.Valid {
		ev.Text = &text.String
	}
	if serviceAction.Valid {
		ev.ServiceAction = &serviceAction.String
	}
	if replyToSrc.Valid {
		ev.ReplyToSourceMessageID = &replyToSrc.Int64
	}
	if replyToAuthor.Valid {
		ev.ReplyToAuthorID = &replyToAuthor.Int64
	}
	if replyToHandle.Valid {
		ev.ReplyToAuthorHandle = &replyToHandle.String
	}
	if replyKind.Valid {
		ev.ReplyKind = &replyKind.String
	}
	if fwdID.Valid {
		ev.ForwardedFromID = &fwdID.Int64
	}
	if fwdName.Valid {
		ev.ForwardedFromName = &fwdName.String
	}
	if editedAt.Valid {
		t := editedAt.Time.UTC()
		ev.EditedAt = &t
	}
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	return ev, nil
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableText(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}
