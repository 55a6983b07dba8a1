package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

const staleProcessingReason = "processing timed out"

// Send job outcomes reported in RunSummary.Outcome.
const (
	RunOutcomeSent     = "sent"
	RunOutcomeIdle     = "idle"
	RunOutcomeFailed   = "failed"
	RunOutcomeSkipped  = "skipped"
	RunOutcomeRequeued = "requeued"
	RunOutcomeReleased = "released"
)

// RunSummary is what one send-queue invocation did.
type RunSummary struct {
	RunID       string `json:"run_id"`
	Outcome     string `json:"outcome"`
	ItemID      int64  `json:"item_id,omitempty"`
	Category    string `json:"category,omitempty"`
	Message     string `json:"message,omitempty"`
	StaleFailed int64  `json:"stale_failed"`
	Candidates  int    `json:"candidates"`
}

// SendQueueJob dispatches at most one queue item per run.
type SendQueueJob struct {
	Queue      repository.QueueRepositoryInterface
	Selector   *Selector
	Dispatcher *Dispatcher
	BatchSize  int
	Timeout    time.Duration
	StaleAfter time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

func (j *SendQueueJob) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

func (j *SendQueueJob) Run(ctx context.Context) (summary RunSummary, err error) {
	summary.RunID = uuid.NewString()
	base := j.Logger
	if base == nil {
		base = zap.NewNop()
	}
	log := base.With(zap.String("job", "send_queue"), zap.String("run_id", summary.RunID))
	ctx = logger.ToContext(ctx, log)

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		label := summary.Outcome
		if err != nil {
			label = "error"
		}
		metrics.JobDuration.WithLabelValues("send_queue", label).Observe(time.Since(start).Seconds())
	}()

	now := j.now()
	if j.StaleAfter > 0 {
		n, err := j.Queue.FailStaleProcessing(ctx, now.Add(-j.StaleAfter), staleProcessingReason)
		if err != nil {
			log.Error("stale processing recovery failed", zap.Error(err))
		} else if n > 0 {
			metrics.StaleFailedTotal.Add(float64(n))
			log.Warn("failed stale processing items", zap.Int64("count", n))
		}
		summary.StaleFailed = n
	}

	batch := j.BatchSize
	if batch <= 0 {
		batch = 50
	}
	items, err := j.Queue.FindDueItems(ctx, now, batch)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(items)
	if len(items) == 0 {
		summary.Outcome = RunOutcomeIdle
		log.Debug("no due items")
		return summary, nil
	}

	candidate, err := j.Selector.SelectNext(ctx, items)
	if err != nil {
		return summary, err
	}
	if candidate == nil {
		summary.Outcome = RunOutcomeIdle
		log.Info("no sendable item in batch", zap.Int("candidates", len(items)))
		return summary, nil
	}
	summary.ItemID = candidate.Item.ID

	res, err := j.Dispatcher.Dispatch(ctx, candidate)
	summary.Category = res.Category()
	summary.Message = res.Message
	switch {
	case res.Sent:
		summary.Outcome = RunOutcomeSent
	case res.Released:
		summary.Outcome = RunOutcomeReleased
	case res.Outcome != nil && res.Outcome.Requeue():
		summary.Outcome = RunOutcomeRequeued
	case res.Outcome != nil && res.Outcome.QueueStatus == model.QueueStatusSkipped:
		summary.Outcome = RunOutcomeSkipped
	default:
		summary.Outcome = RunOutcomeFailed
	}
	if err != nil {
		return summary, err
	}
	log.Info("send queue run finished", zap.String("outcome", summary.Outcome), zap.Int64("item_id", summary.ItemID))
	return summary, nil
}
