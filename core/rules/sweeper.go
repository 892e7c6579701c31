package rules

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"

	"chatledger/config"
	"chatledger/core/store"
	"chatledger/core/utils"
)

// Sweeper periodically classifies the unclassified backlog with the loaded
// ruleset. Every pass goes through the same overlay contract an external
// producer would use, so re-running it is always safe.
type Sweeper struct {
	cfg             config.SweeperConfig
	ruleset         *Ruleset
	classifications store.ClassificationsStore
	logger          *utils.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewSweeper(cfg config.SweeperConfig, rs *Ruleset, cs store.ClassificationsStore, logger *utils.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, ruleset: rs, classifications: cs, logger: logger}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if s == nil || !s.cfg.Enabled || s.ruleset == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if n, err := s.RunOnce(ctx); err != nil {
			s.logger.Errorf("sweep failed: %v", err)
		} else if n > 0 {
			s.logger.Printf("sweep classified %d events", n)
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Printf("sweeper started (schedule %q)", s.cfg.Schedule)
	return nil
}

func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// RunOnce sweeps one batch of the backlog and returns how many events got
// a definitive classification. Events the ruleset cannot match stay in the
// backlog untouched and will be seen again by later passes.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	items, err := s.classifications.ListUnclassified(ctx, s.cfg.EffectiveBatchSize())
	if err != nil {
		return 0, err
	}
	classified := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return classified, ctx.Err()
		}
		if item.Event.Text == nil {
			continue
		}
		match := s.ruleset.Classify(*item.Event.Text)
		if match == nil {
			continue
		}
		result := store.ClassificationResult{
			ProblemDomain:  match.Code,
			ProblemSymptom: match.HintSymptom,
			RuleID:         match.RuleID,
			Confidence:     match.Weight,
			RulesetVersion: s.ruleset.Version,
			IsUnclassified: false,
		}
		if err := s.classifications.ApplyClassification(ctx, item.Event.ID, result); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Placeholder missing breaks the ingestion invariant.
				s.logger.Errorf("INVARIANT: event %d has no classification placeholder", item.Event.ID)
			}
			return classified, err
		}
		classified++
	}
	return classified, nil
}
