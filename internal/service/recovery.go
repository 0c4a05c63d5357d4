package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/store"
	"github.com/capitalize-ai/persona-orchestrator/pkg/logger"
	"github.com/capitalize-ai/persona-orchestrator/pkg/metrics"
)

// RecoveryConfig tunes the operator recovery sweep.
type RecoveryConfig struct {
	Window      time.Duration
	Grace       time.Duration
	Concurrency int
	Limit       int
}

// SweepOptions overrides the configured sweep bounds. Zero values keep the defaults.
type SweepOptions struct {
	Window time.Duration
	Grace  time.Duration
	Limit  int
}

// RecoveryItem is the outcome for one conversation.
type RecoveryItem struct {
	ConversationID string     `json:"conversation_id"`
	CallID         string     `json:"call_id,omitempty"`
	Status         SaveStatus `json:"status"`
	Tier           string     `json:"tier,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// SweepReport summarises a sweep.
type SweepReport struct {
	Since   time.Time      `json:"since"`
	Until   time.Time      `json:"until"`
	Items   []RecoveryItem `json:"items"`
	Missing []string       `json:"missing"`
}

// RecoveryService force-runs the transcript pipeline for operators. Unlike
// the live-call paths, it reports per-item failures.
type RecoveryService struct {
	store       store.ConversationStore
	transcripts *TranscriptService
	logger      *logger.Logger
	cfg         RecoveryConfig
	now         func() time.Time
}

// NewRecoveryService creates a RecoveryService.
func NewRecoveryService(cfg RecoveryConfig, st store.ConversationStore, transcripts *TranscriptService, log *logger.Logger) *RecoveryService {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 500
	}
	return &RecoveryService{
		store:       st,
		transcripts: transcripts,
		logger:      log,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RecoverConversation runs the pipeline for one conversation.
func (s *RecoveryService) RecoverConversation(ctx context.Context, conversationID string) (RecoveryItem, error) {
	if conversationID == "" {
		return RecoveryItem{}, errors.New("conversation id is required")
	}
	return s.recover(ctx, SaveRequest{ConversationID: conversationID, Trigger: TriggerRecovery})
}

// RecoverCall runs the pipeline for one call reference.
func (s *RecoveryService) RecoverCall(ctx context.Context, callID string) (RecoveryItem, error) {
	if callID == "" {
		return RecoveryItem{}, ErrMissingCallID
	}
	return s.recover(ctx, SaveRequest{CallID: callID, Trigger: TriggerRecovery})
}

func (s *RecoveryService) recover(ctx context.Context, req SaveRequest) (RecoveryItem, error) {
	res := s.transcripts.Save(ctx, req)
	item := toItem(res)
	if res.Status == StatusSkipped {
		return item, store.ErrNotFound
	}
	return item, nil
}

// Sweep runs the pipeline for every conversation created in
// [now-Window, now-Grace] that still has no transcript or only an error marker.
// Conversations left holding a marker are reported as missing.
func (s *RecoveryService) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	window, grace, limit := s.cfg.Window, s.cfg.Grace, s.cfg.Limit
	if opts.Window > 0 {
		window = opts.Window
	}
	if opts.Grace > 0 {
		grace = opts.Grace
	}
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	if grace >= window {
		return nil, fmt.Errorf("%w: grace %s must be shorter than window %s", ErrInvalidSweep, grace, window)
	}

	now := s.now()
	report := &SweepReport{
		Since:   now.Add(-window),
		Until:   now.Add(-grace),
		Items:   []RecoveryItem{},
		Missing: []string{},
	}

	convs, err := s.store.ListMissingTranscripts(ctx, report.Since, report.Until, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations missing transcripts: %w", err)
	}

	items := make([]RecoveryItem, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, conv := range convs {
		i, conv := i, conv
		g.Go(func() error {
			res := s.transcripts.Save(gctx, SaveRequest{
				ConversationID: conv.ID,
				CallID:         conv.CallID,
				Trigger:        TriggerRecovery,
			})
			items[i] = toItem(res)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range items {
		report.Items = append(report.Items, item)
		if item.Status == StatusFailed || item.Status == StatusSkipped ||
			item.Tier == string(model.TranscriptSourceError) {
			report.Missing = append(report.Missing, item.ConversationID)
		}
	}

	s.logger.Info("recovery sweep finished",
		zap.Int("candidates", len(convs)),
		zap.Int("missing", len(report.Missing)),
		zap.Duration("window", window),
		zap.Duration("grace", grace),
	)
	return report, nil
}

func toItem(res SaveResult) RecoveryItem {
	metrics.RecoveryItemsTotal.WithLabelValues(string(res.Status)).Inc()
	item := RecoveryItem{
		ConversationID: res.ConversationID,
		CallID:         res.CallID,
		Status:         res.Status,
		Tier:           string(res.Tier),
	}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}
	return item
}
