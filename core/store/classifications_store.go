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

// Classification is the single current annotation for one event. The
// placeholder row is created with the event; everything after that is a
// replace-in-place, last writer wins.
type Classification struct {
	EventID        int64      `json:"event_id"`
	ProblemDomain  string     `json:"problem_domain,omitempty"`
	ProblemSymptom string     `json:"problem_symptom,omitempty"`
	RuleID         string     `json:"rule_id,omitempty"`
	Confidence     float64    `json:"confidence"`
	RulesetVersion string     `json:"ruleset_version,omitempty"`
	IsUnclassified bool       `json:"is_unclassified"`
	ClassifiedAt   *time.Time `json:"classified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ClassificationResult is what an external classification producer submits.
type ClassificationResult struct {
	ProblemDomain  string  `json:"problem_domain"`
	ProblemSymptom string  `json:"problem_symptom"`
	RuleID         string  `json:"rule_id"`
	Confidence     float64 `json:"confidence"`
	RulesetVersion string  `json:"ruleset_version"`
	IsUnclassified bool    `json:"is_unclassified"`
}

// BacklogItem pairs an event with its still-unclassified annotation row.
type BacklogItem struct {
	Event          Event          `json:"event"`
	Classification Classification `json:"classification"`
}

type ClassificationsStore interface {
	GetClassification(ctx context.Context, eventID int64) (*Classification, error)
	// ApplyClassification replaces the mutable fields of the existing row.
	// A missing placeholder is an invariant violation (ErrNotFound), never
	// repaired implicitly.
	ApplyClassification(ctx context.Context, eventID int64, result ClassificationResult) error
	ListUnclassified(ctx context.Context, limit int) ([]BacklogItem, error)
}

type classificationsStore struct {
	db *DB
}

func NewClassificationsStore(db *DB) ClassificationsStore {
	return &classificationsStore{db: db}
}

const classificationColumns = `event_id, problem_domain, problem_symptom, rule_id, confidence,
	ruleset_version, is_unclassified, classified_at, created_at, updated_at`

func (s *classificationsStore) GetClassification(ctx context.Context, eventID int64) (*Classification, error) {
	row := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT `+classificationColumns+` FROM classifications WHERE event_id=?`), eventID)
	c, err := scanClassification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get classification", err)
	}
	return &c, nil
}

func (s *classificationsStore) ApplyClassification(ctx context.Context, eventID int64, result ClassificationResult) error {
	if err := validateResult(result); err != nil {
		return err
	}
	now := utils.NowUTC()
	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE classifications
		SET problem_domain=?, problem_symptom=?, rule_id=?, confidence=?, ruleset_version=?,
			is_unclassified=?, classified_at=?, updated_at=?
		WHERE event_id=?`),
		strings.TrimSpace(result.ProblemDomain), strings.TrimSpace(result.ProblemSymptom), strings.TrimSpace(result.RuleID),
		result.Confidence, strings.TrimSpace(result.RulesetVersion),
		result.IsUnclassified, now, now, eventID)
	if err != nil {
		return classify("apply classification", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("apply classification", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: no classification placeholder for event %d", ErrNotFound, eventID)
	}
	return nil
}

func (s *classificationsStore) ListUnclassified(ctx context.Context, limit int) ([]BacklogItem, error) {
	query := `
		SELECT ` + prefixColumns("e", eventColumns) + `, ` + prefixColumns("c", classificationColumns) + `
		FROM classifications c
		JOIN events e ON e.id = c.event_id
		WHERE c.is_unclassified
		ORDER BY c.event_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, s.db.rebind(query))
	if err != nil {
		return nil, classify("list unclassified", err)
	}
	defer rows.Close()
	var res []BacklogItem
	for rows.Next() {
		item, err := scanBacklogItem(rows)
		if err != nil {
			return nil, classify("list unclassified", err)
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func validateResult(result ClassificationResult) error {
	if result.Confidence < 0.0 || result.Confidence > 1.0 {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrValidation)
	}
	if !result.IsUnclassified {
		if strings.TrimSpace(result.ProblemDomain) == "" {
			return fmt.Errorf("%w: problem_domain is required for a classified result", ErrValidation)
		}
		if strings.TrimSpace(result.RuleID) == "" {
			return fmt.Errorf("%w: rule_id is required for a classified result", ErrValidation)
		}
	}
	if strings.TrimSpace(result.RulesetVersion) == "" {
		return fmt.Errorf("%w: ruleset_version is required", ErrValidation)
	}
	return nil
}

func scanClassification(r rowScanner) (Classification, error) {
	var c Classification
	var classifiedAt sql.NullTime
	err := r.Scan(&c.EventID, &c.ProblemDomain, &c.ProblemSymptom, &c.RuleID, &c.Confidence,
		&c.RulesetVersion, &c.IsUnclassified, &classifiedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if classifiedAt.Valid {
		t := classifiedAt.Time.UTC()
		c.ClassifiedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func scanBacklogItem(rows *sql.Rows) (BacklogItem, error) {
	var item BacklogItem
	var ev Event
	var authorID, replyToSrc, replyToAuthor, fwdID sql.NullInt64
	var text, serviceAction, replyToHandle, replyKind, fwdName sql.NullString
	var editedAt sql.NullTime
	var c Classification
	var classifiedAt sql.NullTime
	err := rows.Scan(
		&ev.ID, &ev.ConversationID, &ev.ConversationKind, &ev.ConversationLabel, &ev.SourceMessageID, &ev.ReceivedAt,
		&authorID, &ev.AuthorHandle, &ev.AuthorDisplayName, &ev.AuthorRole,
		&text, &ev.ContentKind, &ev.HasAttachment, &serviceAction,
		&replyToSrc, &replyToAuthor, &replyToHandle, &replyKind,
		&fwdID, &fwdName, &editedAt, &ev.RawPayload,
		&c.EventID, &c.ProblemDomain, &c.ProblemSymptom, &c.RuleID, &c.Confidence,
		&c.RulesetVersion, &c.IsUnclassified, &classifiedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return item, err
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
	if classifiedAt.Valid {
		t := classifiedAt.Time.UTC()
		c.ClassifiedAt = &t
	}
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	item.Event = ev
	item.Classification = c
	return item, nil
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias for join queries.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
