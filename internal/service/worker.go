package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SendRunner, ReplyRunner and ConnectionRunner are the periodic jobs the
// worker drives.
type SendRunner interface {
	Run(ctx context.Context) (RunSummary, error)
}

type ReplyRunner interface {
	Poll(ctx context.Context) (PollSummary, error)
}

type ConnectionRunner interface {
	Poll(ctx context.Context) (ConnectionSummary, error)
}

// Worker invokes each job on its own ticker.
// Each tick is one short-lived invocation; a failed run is logged and the
// next tick proceeds.
type Worker struct {
	Send          SendRunner
	Replies       ReplyRunner
	SendInterval  time.Duration
	ReplyInterval time.Duration
	Logger        *zap.Logger

	// Connections is optional; it runs only with a positive interval.
	Connections        ConnectionRunner
	ConnectionInterval time.Duration
}

// Constructor
func NewWorker(send SendRunner, replies ReplyRunner, sendInterval, replyInterval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		Send:          send,
		Replies:       replies,
		SendInterval:  sendInterval,
		ReplyInterval: replyInterval,
		Logger:        logger,
	}
}

// Start blocks until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if w.Send != nil && w.SendInterval > 0 {
		g.Go(func() error {
			w.loop(ctx, "send_queue", w.SendInterval, func(ctx context.Context) error {
				s, err := w.Send.Run(ctx)
				if err == nil {
					w.Logger.Debug("send tick", zap.String("run_id", s.RunID), zap.String("outcome", s.Outcome))
				}
				return err
			})
			return nil
		})
	}
	if w.Replies != nil && w.ReplyInterval > 0 {
		g.Go(func() error {
			w.loop(ctx, "reply_poll", w.ReplyInterval, func(ctx context.Context) error {
				s, err := w.Replies.Poll(ctx)
				if err == nil {
					w.Logger.Debug("reply tick", zap.String("run_id", s.RunID), zap.Int("new_replies", s.NewReplies))
				}
				return err
			})
			return nil
		})
	}
	if w.Connections != nil && w.ConnectionInterval > 0 {
		g.Go(func() error {
			w.loop(ctx, "connection_poll", w.ConnectionInterval, func(ctx context.Context) error {
				s, err := w.Connections.Poll(ctx)
				if err == nil {
					w.Logger.Debug("connection tick", zap.String("run_id", s.RunID), zap.Int("accepted", s.Accepted))
				}
				return err
			})
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, job string, every time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	w.Logger.Info("worker loop started", zap.String("job", job), zap.Duration("interval", every))
	for {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Error("job run failed", zap.String("job", job), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.Logger.Info("worker loop stopped", zap.String("job", job))
			return
		case <-ticker.C:
		}
	}
}
