// Package cli runs a single pipeline stage as a command: progress goes to
// stdout, structured logs to stderr.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinicalops/trialrisk/internal/config"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/logging"
	"github.com/clinicalops/trialrisk/internal/pipeline"
)

// Stage is one pipeline step run by a command.
type Stage func(ctx context.Context, p *pipeline.Pipeline) error

// Main runs the stage and exits the process with its status.
func Main(name string, stage Stage) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := Run(ctx, name, stage, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// Run executes the stage and returns the exit code. A missing prerequisite
// has already been reported on stdout and is not a failure.
func Run(ctx context.Context, name string, stage Stage, stdout, stderr io.Writer) int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	logging.Setup(cfg.Logging, stderr)

	p, err := pipeline.NewFromConfig(cfg, stdout)
	if err != nil {
		slog.Error("failed to build pipeline", "command", name, "error", err)
		return 1
	}

	err = stage(ctx, p)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrMissingPrerequisite):
		return 0
	default:
		slog.Error("command failed", "command", name, "error", err)
		fmt.Fprintf(stdout, "\n❌ %s failed: %v\n", name, err)
		return 1
	}
}
