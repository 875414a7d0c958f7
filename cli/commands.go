package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/xraph/backlog/api"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/dlq"
	"github.com/xraph/backlog/worker"
)

func newFlagSet(s *session, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(s.app.Stderr)
	return fs
}

func (s *session) printJSON(v any) error {
	enc := json.NewEncoder(s.app.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runWorker(ctx context.Context, s *session, args []string) error {
	fs := newFlagSet(s, "run-worker")
	queueName := fs.String("queue", s.cfg.Queue.Name, "queue to consume")
	once := fs.Bool("once", false, "process at most one job and exit")
	timeout := fs.Duration("timeout", s.cfg.Worker.Timeout, "how long each dequeue waits for a job")
	concurrency := fs.Int("concurrency", s.cfg.Worker.Concurrency, "worker loops in this process")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *concurrency < 1 {
		return fmt.Errorf("%w: --concurrency must be at least 1", errUsage)
	}

	eng, err := s.engine(ctx)
	if err != nil {
		return err
	}
	if len(eng.Registry().Names()) == 0 {
		s.logger.Warn("no job types registered, every job will fail to decode")
	}
	opts := []worker.Option{worker.WithTimeout(*timeout)}

	if *once {
		_, err := eng.NewWorker(*queueName, opts...).RunOnce(ctx)
		return err
	}
	if *concurrency == 1 {
		w := eng.NewWorker(*queueName, opts...)
		unregister := w.HandleSignals(ctx)
		defer unregister()
		return w.Run(ctx)
	}
	pool := eng.NewPool(*queueName, *concurrency, opts...)
	unregister := pool.HandleSignals(ctx)
	defer unregister()
	return pool.Run(ctx)
}

func listen(ctx context.Context, s *session, args []string) error {
	fs := newFlagSet(s, "listen")
	queueName := fs.String("queue", s.cfg.Queue.Name, "queue to consume")
	timeout := fs.Duration("timeout", s.cfg.Worker.Timeout, "how long each worker process waits for a job")
	pause := fs.Duration("pause", time.Second, "pause after a worker process fails")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := s.app.Executable
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	spawnArgs := append(append([]string(nil), s.globalArgs...),
		"run-worker", "--once", "--queue", *queueName, "--timeout", timeout.String())
	l := worker.NewListener(&worker.ExecSpawner{
		Path:   path,
		Args:   spawnArgs,
		Stdout: s.app.Stdout,
		Stderr: s.app.Stderr,
	}, worker.WithListenerLogger(s.logger), worker.WithSpawnPause(*pause))

	s.logger.Info("listening", slog.String("queue", *queueName), slog.String("executable", path))
	n := l.Run(ctx)
	s.logger.Info("listener stopped", slog.Int("spawned", n))
	return nil
}

func failed(ctx context.Context, s *session, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(s.app.Stderr, "Usage: backlog failed list|show|retry|forget|flush")
		return errUsage
	}
	sub, args := args[0], args[1:]

	eng, err := s.engine(ctx)
	if err != nil {
		return err
	}
	svc := eng.Failed()
	if svc == nil {
		return errors.New("no failure store configured")
	}

	switch sub {
	case "list":
		return failedList(ctx, s, svc, args)
	case "show":
		if len(args) != 1 {
			return fmt.Errorf("%w: failed show <id>", errUsage)
		}
		entry, err := svc.Find(ctx, args[0])
		if err != nil {
			return err
		}
		return s.printJSON(entry)
	case "retry":
		return failedRetry(ctx, s, svc, args)
	case "forget":
		if len(args) != 1 {
			return fmt.Errorf("%w: failed forget <id>", errUsage)
		}
		if err := svc.Forget(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(s.app.Stdout, "Failed job %s deleted.\n", args[0])
		return nil
	case "flush":
		return failedFlush(ctx, s, svc, args)
	default:
		return fmt.Errorf("%w: unknown failed subcommand %q", errUsage, sub)
	}
}

func failedList(ctx context.Context, s *session, svc *dlq.Service, args []string) error {
	fs := newFlagSet(s, "failed list")
	queueName := fs.String("queue", "", "only this queue")
	limit := fs.Int("limit", 0, "maximum entries, 0 for all")
	offset := fs.Int("offset", 0, "entries to skip")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := svc.List(ctx, dlq.ListOpts{Queue: *queueName, Limit: *limit, Offset: *offset})
	if err != nil {
		return err
	}
	if *asJSON {
		if entries == nil {
			entries = []*dlq.Entry{}
		}
		return s.printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(s.app.Stdout, "No failed jobs.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(s.app.Stdout, "%s  %-12s %-20s %s  %s\n",
			e.ID, e.Queue, e.Name, e.HappenedAt.Format(time.DateTime), e.Exception.Message)
	}
	return nil
}

func failedRetry(ctx context.Context, s *session, svc *dlq.Service, args []string) error {
	fs := newFlagSet(s, "failed retry")
	all := fs.Bool("all", false, "retry every failed job")
	queueName := fs.String("queue", "", "with --all, only this queue")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *all {
		n, err := svc.RetryAll(ctx, *queueName)
		fmt.Fprintf(s.app.Stdout, "%d failed jobs pushed back.\n", n)
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: failed retry <id>... or --all", errUsage)
	}
	for _, id := range fs.Args() {
		if err := svc.Retry(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(s.app.Stdout, "Failed job %s pushed back onto its queue.\n", id)
	}
	return nil
}

func failedFlush(ctx context.Context, s *session, svc *dlq.Service, args []string) error {
	fs := newFlagSet(s, "failed flush")
	olderThan := fs.Duration("older-than", 0, "only failures older than this age")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		n   int64
		err error
	)
	if *olderThan > 0 {
		n, err = svc.Purge(ctx, time.Now().UTC().Add(-*olderThan))
	} else {
		n, err = svc.Flush(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(s.app.Stdout, "%d failed jobs deleted.\n", n)
	return nil
}

func restart(ctx context.Context, s *session, args []string) error {
	if err := newFlagSet(s, "restart").Parse(args); err != nil {
		return err
	}
	eng, err := s.engine(ctx)
	if err != nil {
		return err
	}
	if err := eng.RestartWorkers(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.app.Stdout, "Restart signal sent.")
	return nil
}

func sweep(ctx context.Context, s *session, args []string) error {
	fs := newFlagSet(s, "sweep")
	queueName := fs.String("queue", s.cfg.Queue.Name, "queue to sweep")
	watch := fs.Bool("watch", false, "keep sweeping on the queue.sweep_schedule schedule")
	if err := fs.Parse(args); err != nil {
		return err
	}

	eng, err := s.engine(ctx)
	if err != nil {
		return err
	}
	q := eng.Queue(*queueName)

	if !*watch {
		n, err := q.Sweep(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.app.Stdout, "%d jobs promoted on %s.\n", n, *queueName)
		return nil
	}

	expr := s.cfg.Queue.SweepSchedule
	if expr == "" {
		expr = "@every 1s"
	}
	sched, err := cron.ParseSchedule(expr)
	if err != nil {
		return fmt.Errorf("%w: queue.sweep_schedule %q: %w", errUsage, expr, err)
	}
	for {
		wait := time.Until(sched.Next(time.Now()))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		n, err := q.Sweep(ctx)
		if err != nil {
			s.logger.Warn("sweep error", slog.String("queue", *queueName), slog.String("error", err.Error()))
			continue
		}
		if n > 0 {
			s.logger.Info("jobs promoted", slog.String("queue", *queueName), slog.Int("count", n))
		}
	}
}

func stats(ctx context.Context, s *session, args []string) error {
	fs := newFlagSet(s, "stats")
	queueName := fs.String("queue", s.cfg.Queue.Name, "queue to count")
	if err := fs.Parse(args); err != nil {
		return err
	}
	eng, err := s.engine(ctx)
	if err != nil {
		return err
	}
	st, err := eng.Stats(ctx, *queueName)
	if err != nil {
		return err
	}
	return s.printJSON(api.QueueStatsResponse{Queue: *queueName, Stats: st, Total: st.Total()})
}

func serve(ctx context.Context, s *session, args []string) error {
	fs := newFlagSet(s, "serve")
	addr := fs.String("addr", s.cfg.API.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	eng, err := s.engine(ctx)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Stop(context.WithoutCancel(ctx)) }()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.New(eng, api.WithLogger(s.logger)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening", slog.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
