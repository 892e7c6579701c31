package store

import (
	"context"
	"errors"
	"testing"
)

func classifiedResult() ClassificationResult {
	return ClassificationResult{
		ProblemDomain:  "terminal_offline",
		ProblemSymptom: "terminal not visible at register",
		RuleID:         "r-term-001",
		Confidence:     0.85,
		RulesetVersion: "v3",
	}
}

func TestApplyClassificationReplacesPlaceholder(t *testing.T) {
	db := newTestDB(t)
	events := NewEventsStore(db)
	classifications := NewClassificationsStore(db)
	ctx := context.Background()

	id, _, err := events.InsertEvent(ctx, sampleEvent("c1", 100))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := classifications.ApplyClassification(ctx, id, classifiedResult()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c, _ := classifications.GetClassification(ctx, id)
	if c.IsUnclassified {
		t.Fatalf("row still unclassified after apply")
	}
	if c.ProblemDomain != "terminal_offline" || c.RuleID != "r-term-001" {
		t.Fatalf("fields not replaced: %+v", c)
	}
	if c.ClassifiedAt == nil {
		t.Fatalf("classified_at not set")
	}
	if !c.UpdatedAt.After(c.CreatedAt) && !c.UpdatedAt.Equal(c.CreatedAt) {
		t.Fatalf("updated_at regressed")
	}
}

func TestApplyClassificationRepeatedlyLastWriterWins(t *testing.T) {
	db := newTestDB(t)
	events := NewEventsStore(db)
	classifications := NewClassificationsStore(db)
	ctx := context.Background()

	id, _, _ := events.InsertEvent(ctx, sampleEvent("c1", 100))
	if err := classifications.ApplyClassification(ctx, id, classifiedResult()); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second := classifiedResult()
	second.ProblemDomain = "reconciliation"
	second.RuleID = "r-rec-002"
	second.RulesetVersion = "v4"
	if err := classifications.ApplyClassification(ctx, id, second); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	c, _ := classifications.GetClassification(ctx, id)
	if c.ProblemDomain != "reconciliation" || c.RulesetVersion != "v4" {
		t.Fatalf("reclassification did not replace: %+v", c)
	}
}

func TestApplyClassificationValidation(t *testing.T) {
	db := newTestDB(t)
	events := NewEventsStore(db)
	classifications := NewClassificationsStore(db)
	ctx := context.Background()

	id, _, _ := events.InsertEvent(ctx, sampleEvent("c1", 100))

	bad := classifiedResult()
	bad.Confidence = 1.5
	if err := classifications.ApplyClassification(ctx, id, bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("confidence out of range must be ErrValidation, got %v", err)
	}
	bad = classifiedResult()
	bad.ProblemDomain = ""
	if err := classifications.ApplyClassification(ctx, id, bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing domain must be ErrValidation, got %v", err)
	}
	bad = classifiedResult()
	bad.RulesetVersion = ""
	if err := classifications.ApplyClassification(ctx, id, bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("missing ruleset_version must be ErrValidation, got %v", err)
	}

	// Rejected input leaves the placeholder untouched.
	c, _ := classifications.GetClassification(ctx, id)
	if !c.IsUnclassified {
		t.Fatalf("placeholder mutated by rejected input")
	}
}

func TestApplyClassificationUnclassifiedResult(t *testing.T) {
	db := newTestDB(t)
	events := NewEventsStore(db)
	classifications := NewClassificationsStore(db)
	ctx := context.Background()

	id, _, _ := events.InsertEvent(ctx, sampleEvent("c1", 100))
	result := ClassificationResult{RulesetVersion: "v3", IsUnclassified: true}
	if err := classifications.ApplyClassification(ctx, id, result); err != nil {
		t.Fatalf("unclassified result must be accepted: %v", err)
	}
	c, _ := classifications.GetClassification(ctx, id)
	if !c.IsUnclassified || c.RulesetVersion != "v3" {
		t.Fatalf("unexpected row: %+v", c)
	}
	// Still part of the backlog, indistinguishable from never-classified.
	items, err := classifications.ListUnclassified(ctx, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("backlog: %d err=%v", len(items), err)
	}
}

func TestApplyClassificationMissingPlaceholder(t *testing.T) {
	db := newTestDB(t)
	classifications := NewClassificationsStore(db)

	err := classifications.ApplyClassification(context.Background(), 12345, classifiedResult())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing placeholder, got %v", err)
	}
}

func TestListUnclassifiedShrinksAfterApply(t *testing.T) {
	db := newTestDB(t)
	events := NewEventsStore(db)
	classifications := NewClassificationsStore(db)
	ctx := context.Background()

	var ids []int64
	for src := int64(100); src < 103; src++ {
		id, _, err := events.InsertEvent(ctx, sampleEvent("c1", src))
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		ids = append(ids, id)
	}
	items, err := classifications.ListUnclassified(ctx, 0)
	if err != nil || len(items) != 3 {
		t.Fatalf("backlog before: %d err=%v", len(items), err)
	}
	if err := classifications.ApplyClassification(ctx, ids[1], classifiedResult()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	items, err = classifications.ListUnclassified(ctx, 0)
	if err != nil || len(items) != 2 {
		t.Fatalf("backlog after: %d err=%v", len(items), err)
	}
	for _, item := range items {
		if item.Event.ID == ids[1] {
			t.Fatalf("classified event still in backlog")
		}
		if item.Event.ConversationID != "c1" {
			t.Fatalf("joined event not populated: %+v", item.Event)
		}
	}
}
