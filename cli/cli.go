// Package cli implements the backlog command line. The stock binary in
// cmd/backlog handles failed jobs, restarts, sweeps, stats and the admin
// API; applications build their own binary around Main to also run
// workers for their job types:
//
//	func main() {
//	    cli.Main(func(eng *engine.Engine) error {
//	        engine.Register(eng, jobs.SendEmail)
//	        return nil
//	    })
//	}
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/internal/logger"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// errUsage marks errors caused by bad arguments.
var errUsage = errors.New("usage")

// App is the command line application.
type App struct {
	// Setup registers job types and extensions on every engine the
	// application opens.
	Setup func(eng *engine.Engine) error

	Stdout io.Writer
	Stderr io.Writer

	// Executable is re-run by "listen". Default os.Executable().
	Executable string
}

// Main runs the application with os.Args and exits.
func Main(setup func(eng *engine.Engine) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &App{Setup: setup, Stdout: os.Stdout, Stderr: os.Stderr}
	code := app.Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

type command struct {
	summary string
	run     func(ctx context.Context, s *session, args []string) error
}

var commands = map[string]command{
	"run-worker": {"process jobs from a queue", runWorker},
	"listen":     {"supervise single-shot worker processes", listen},
	"failed":     {"list|show|retry|forget|flush failed jobs", failed},
	"restart":    {"ask running workers to exit after their current job", restart},
	"sweep":      {"promote matured delayed jobs and expired reservations", sweep},
	"stats":      {"print queue counts", stats},
	"serve":      {"serve the admin HTTP API", serve},
}

// session carries what every command needs.
type session struct {
	app        *App
	cfg        backlog.Config
	logger     *slog.Logger
	globalArgs []string
	eng        *engine.Engine
}

// engine opens the engine on first use.
func (s *session) engine(ctx context.Context) (*engine.Engine, error) {
	if s.eng != nil {
		return s.eng, nil
	}
	eng, err := engine.Open(ctx, s.cfg, s.logger)
	if err != nil {
		return nil, err
	}
	if s.app.Setup != nil {
		if err := s.app.Setup(eng); err != nil {
			_ = eng.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	s.eng = eng
	return eng, nil
}

func (s *session) close() {
	if s.eng == nil {
		return
	}
	if err := s.eng.Close(); err != nil {
		s.logger.Warn("close engine", slog.String("error", err.Error()))
	}
}

// Run parses args, runs one command and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}

	flags := flag.NewFlagSet("backlog", flag.ContinueOnError)
	flags.SetOutput(a.Stderr)
	configPath := flags.String("config", "", "YAML configuration file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flags.Usage = func() { a.usage(flags) }
	if err := flags.Parse(args); err != nil {
		return ExitUsage
	}
	rest := flags.Args()
	if len(rest) == 0 {
		a.usage(flags)
		return ExitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(a.Stderr, "backlog: unknown command %q\n\n", rest[0])
		a.usage(flags)
		return ExitUsage
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(a.Stderr, "backlog: load %s: %v\n", *envFile, err)
		return ExitError
	}
	cfg, err := backlog.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(a.Stderr, "%v\n", err)
		return ExitError
	}
	cfg.ApplyEnv()

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(a.Stderr, "%v\n", err)
		return ExitError
	}
	defer closer.Close()

	s := &session{
		app:        a,
		cfg:        cfg,
		logger:     log,
		globalArgs: args[:len(args)-len(rest)],
	}
	defer s.close()

	if err := cmd.run(ctx, s, rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitUsage
		}
		if errors.Is(err, errUsage) {
			if err != errUsage {
				fmt.Fprintf(a.Stderr, "backlog %s: %v\n", rest[0], err)
			}
			return ExitUsage
		}
		fmt.Fprintf(a.Stderr, "backlog %s: %v\n", rest[0], err)
		return ExitError
	}
	return ExitOK
}

func (a *App) usage(flags *flag.FlagSet) {
	fmt.Fprintf(a.Stderr, "Usage: backlog [global flags] <command> [flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.Stderr, "  %-11s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(a.Stderr, "\nGlobal flags:\n")
	flags.PrintDefaults()
}
