package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinicalops/trialrisk/internal/config"
	"github.com/clinicalops/trialrisk/internal/pipeline"
)

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvDataDir, filepath.Join(dir, "data"))
	t.Setenv(config.EnvOutputDir, filepath.Join(dir, "outputs"))
	t.Setenv(config.EnvDetector, "none")
	return dir
}

func TestRun(t *testing.T) {
	t.Run("MissingPrerequisiteExitsZero", func(t *testing.T) {
		dir := setup(t)
		var stdout, stderr bytes.Buffer

		code := Run(context.Background(), "compute-dqi", func(ctx context.Context, p *pipeline.Pipeline) error {
			_, err := p.ComputeDQI(ctx)
			return err
		}, &stdout, &stderr)

		if code != 0 {
			t.Errorf("expected exit code 0, got %d", code)
		}
		if !strings.Contains(stdout.String(), pipeline.MsgNoSignals) {
			t.Errorf("expected prerequisite message, got %q", stdout.String())
		}
		if _, err := os.Stat(filepath.Join(dir, "outputs", "dqi_scores.csv")); !os.IsNotExist(err) {
			t.Error("expected no DQI artifact")
		}
	})

	t.Run("ProgressOnStdoutLogsOnStderr", func(t *testing.T) {
		setup(t)
		var stdout, stderr bytes.Buffer

		code := Run(context.Background(), "risk-ranking", func(ctx context.Context, p *pipeline.Pipeline) error {
			_, err := p.RankRisk(ctx)
			return err
		}, &stdout, &stderr)

		if code != 0 {
			t.Errorf("expected exit code 0, got %d", code)
		}
		if strings.Contains(stdout.String(), `"level"`) {
			t.Error("expected no structured logs on stdout")
		}
		if !strings.Contains(stderr.String(), "stage skipped") {
			t.Errorf("expected stage log on stderr, got %q", stderr.String())
		}
	})

	t.Run("StageFailure", func(t *testing.T) {
		setup(t)
		var stdout, stderr bytes.Buffer

		code := Run(context.Background(), "generate-summary", func(ctx context.Context, p *pipeline.Pipeline) error {
			return errors.New("disk full")
		}, &stdout, &stderr)

		if code != 1 {
			t.Errorf("expected exit code 1, got %d", code)
		}
		if !strings.Contains(stdout.String(), "generate-summary failed: disk full") {
			t.Errorf("unexpected output %q", stdout.String())
		}
	})

	t.Run("BadConfig", func(t *testing.T) {
		setup(t)
		t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "missing.yaml"))
		var stdout, stderr bytes.Buffer

		code := Run(context.Background(), "scan-schema", func(ctx context.Context, p *pipeline.Pipeline) error {
			t.Error("stage must not run without configuration")
			return nil
		}, &stdout, &stderr)

		if code != 1 {
			t.Errorf("expected exit code 1, got %d", code)
		}
	})
}
