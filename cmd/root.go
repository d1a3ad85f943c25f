package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/shabi/internal/config"
	"github.com/tanq16/shabi/internal/output"
	"github.com/tanq16/shabi/internal/progress"
	"github.com/tanq16/shabi/internal/scheduler"
	"github.com/tanq16/shabi/internal/utils"
)

const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitInvalid   = 2
	ExitDirectory = 3
)

var ShabiVersion = "dev"

// exitError carries the process exit code out of cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "shabi [mode] [URL...]",
		Short: "Shabi downloads files over HTTP(S) concurrently with resume and retries",
		Long: `Mode 1 downloads a single URL, mode 2 downloads every URL given with
--urls, --urllist or as extra arguments, several at a time.`,
		Version:       ShabiVersion,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cmd.Flags(), args)
			if err != nil {
				return &exitError{code: ExitInvalid, err: err}
			}
			closer, err := utils.InitLogger(cfg.Debug, cfg.LogFile)
			if err != nil {
				return &exitError{code: ExitInvalid, err: fmt.Errorf("error opening log file: %w", err)}
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			code, err := run(ctx, cfg, stdout)
			if code != ExitOK {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg config.Config, stdout io.Writer) (int, error) {
	opts := scheduler.Options{
		Directory:   cfg.Directory,
		Concurrency: cfg.Threads,
		Resume:      cfg.Resume,
		MaxRetries:  cfg.Retries,
		BackoffUnit: cfg.Backoff,
		HTTPClientConfig: utils.HTTPClientConfig{
			Timeout:  cfg.Timeout,
			ProxyURL: cfg.Proxy,
		},
	}
	// reject bad URLs and collisions before touching the filesystem
	if _, err := scheduler.BuildTasks(cfg.URLs, opts); err != nil {
		return ExitInvalid, err
	}
	if err := utils.EnsureDirectory(cfg.Directory); err != nil {
		return ExitDirectory, err
	}

	sink := progress.NewSink(0)
	live := false
	if f, ok := stdout.(*os.File); ok {
		live = output.IsTerminal(f)
	}
	manager := output.NewManager(sink, stdout, live)
	manager.Notice(fmt.Sprintf("Starting download of %d file(s)...", len(cfg.URLs)))
	manager.StartDisplay()

	var outcomes []utils.Outcome
	var runErr error
	if cfg.Mode == config.ModeSingle {
		var outcome utils.Outcome
		outcome, runErr = scheduler.RunOne(ctx, cfg.URLs[0], opts, sink)
		if runErr == nil {
			outcomes = []utils.Outcome{outcome}
			manager.Collected(1, 1, outcome)
		}
	} else {
		outcomes, runErr = scheduler.RunAll(ctx, cfg.URLs, opts, sink, manager)
	}
	manager.StopDisplay()
	sink.Close()
	if runErr != nil {
		return ExitInvalid, runErr
	}
	manager.ShowSummary(outcomes)

	if failed := scheduler.Failures(outcomes); failed > 0 {
		log.Debug().Str("op", "cmd/root").Int("failed", failed).Msg("Finished with failures")
		return ExitFailed, fmt.Errorf("%d of %d download(s) failed", failed, len(outcomes))
	}
	return ExitOK, nil
}

// ExitCode maps an error returned by the root command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra argument and flag parsing errors
	return ExitInvalid
}

func Execute() int {
	err := newRootCmd(os.Stdout, os.Stderr).Execute()
	code := ExitCode(err)
	if err != nil && code != ExitFailed {
		output.PrintError(os.Stderr, err.Error())
	}
	return code
}
