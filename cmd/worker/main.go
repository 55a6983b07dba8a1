package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/app"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/logger"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// runtime is what the subcommands need from a wired app.
type runtime struct {
	Send        service.SendRunner
	Replies     service.ReplyRunner
	Connections service.ConnectionRunner
	Worker      *service.Worker
	Queue       queue.Queue
	Logger      *zap.Logger
	Close       func() error
}

type builder func(configPath string) (*runtime, error)

func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	lg, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, lg)
	if err != nil {
		return nil, err
	}
	return &runtime{
		Send:        a.SendJob,
		Replies:     a.Poller,
		Connections: a.Connections,
		Worker:      a.Worker(),
		Queue:       a.Queue,
		Logger:      lg,
		Close:       a.Close,
	}, nil
}

func newRootCmd(build builder) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "worker",
		Short:         "Runs the outreach send queue and its pollers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	withRuntime := func(fn func(ctx context.Context, rt *runtime, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			rt, err := build(configPath)
			if err != nil {
				return err
			}
			if rt.Close != nil {
				defer rt.Close()
			}
			return fn(cmd.Context(), rt, cmd.OutOrStdout())
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run every job on its interval until interrupted",
			RunE: withRuntime(func(ctx context.Context, rt *runtime, _ io.Writer) error {
				rt.Logger.Info("worker started")
				return rt.Worker.Start(ctx)
			}),
		},
		&cobra.Command{
			Use:   "send-once",
			Short: "Process at most one send and print the run summary",
			RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer) error {
				summary, err := rt.Send.Run(ctx)
				if encErr := printJSON(out, summary); encErr != nil {
					return encErr
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "poll-once",
			Short: "Poll every account for replies once and print the summary",
			RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer) error {
				summary, err := rt.Replies.Poll(ctx)
				if encErr := printJSON(out, summary); encErr != nil {
					return encErr
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "poll-connections",
			Short: "Check pending connection requests once and print the summary",
			RunE: withRuntime(func(ctx context.Context, rt *runtime, out io.Writer) error {
				summary, err := rt.Connections.Poll(ctx)
				if encErr := printJSON(out, summary); encErr != nil {
					return encErr
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "alerts",
			Short: "Log operator alerts from the broker until interrupted",
			RunE: withRuntime(func(ctx context.Context, rt *runtime, _ io.Writer) error {
				if err := queue.StartAlertSubscriber(rt.Queue, rt.Logger.Named("alerts")); err != nil {
					return fmt.Errorf("subscribe alerts: %w", err)
				}
				rt.Logger.Info("listening for alerts")
				<-ctx.Done()
				return nil
			}),
		},
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(buildRuntime).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}
