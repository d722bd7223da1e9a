// Package pipeline runs the scoring stages over the artifact directory:
// schema discovery, DQI computation with anomaly amplification, risk ranking
// and the executive summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicalops/trialrisk/internal/anomaly"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/metrics"
	"github.com/clinicalops/trialrisk/internal/report"
	"github.com/clinicalops/trialrisk/internal/risk"
	"github.com/clinicalops/trialrisk/internal/scoring"
)

// Stage names used in logs, spans and metrics.
const (
	StageDiscover = "scan_schema"
	StageDQI      = "compute_dqi"
	StageRank     = "risk_ranking"
	StageSummary  = "generate_summary"
)

const banner = "================================================================================"

var tracer = otel.Tracer("trialrisk-pipeline")

// Options configures a Pipeline.
type Options struct {
	Paths        Paths
	Anomaly      domain.AnomalyConfig
	WriteParquet bool

	// Guidance replaces the built-in report guidance rules when non-empty.
	Guidance []report.GuidanceRule

	// Out receives the human-readable progress lines. Defaults to io.Discard.
	Out io.Writer
}

// Pipeline executes the scoring stages. It holds no per-run state and may
// be shared between goroutines.
type Pipeline struct {
	paths        Paths
	policy       domain.Policy
	aggregator   *scoring.Aggregator
	ranker       *risk.Ranker
	detector     domain.AnomalyDetector
	strength     float64
	renderer     *report.Renderer
	writeParquet bool
	out          io.Writer
	now          func() time.Time
}

// New builds a pipeline under the fixed business policy. An unknown anomaly
// method is logged and replaced by the no-op detector.
func New(opts Options) (*Pipeline, error) {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	if opts.Paths == (Paths{}) {
		opts.Paths = DefaultPaths()
	}

	detector, err := anomaly.New(opts.Anomaly)
	if err != nil {
		if !errors.Is(err, domain.ErrDetectorUnavailable) {
			return nil, err
		}
		slog.Warn("anomaly detector unavailable, continuing without it", "method", opts.Anomaly.Method, "error", err)
	}

	rules := opts.Guidance
	if len(rules) == 0 {
		rules = report.DefaultGuidance()
	}
	guidance, err := report.NewGuidanceEngine(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to load report guidance: %w", err)
	}

	policy := domain.DefaultPolicy()
	return &Pipeline{
		paths:        opts.Paths,
		policy:       policy,
		aggregator:   scoring.NewAggregator(policy),
		ranker:       risk.NewRanker(policy),
		detector:     detector,
		strength:     opts.Anomaly.Strength,
		renderer:     report.NewRenderer(guidance),
		writeParquet: opts.WriteParquet,
		out:          out,
		now:          time.Now,
	}, nil
}

// NewFromConfig builds a pipeline from the service configuration.
func NewFromConfig(cfg *domain.Config, out io.Writer) (*Pipeline, error) {
	return New(Options{
		Paths:        Paths{DataDir: cfg.Pipeline.DataDir, OutputDir: cfg.Pipeline.OutputDir},
		Anomaly:      cfg.Anomaly,
		WriteParquet: cfg.Pipeline.WriteParquet,
		Guidance:     cfg.Report.Guidance,
		Out:          out,
	})
}

// Paths returns the artifact layout.
func (p *Pipeline) Paths() Paths { return p.paths }

// Detector returns the name of the active anomaly detector.
func (p *Pipeline) Detector() string { return p.detector.Name() }

// WithClock overrides the timestamp source for the report and schema summary.
// It must be called before the pipeline is shared.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	p.renderer.WithClock(now)
	return p
}

// Outcome is the result of a full run.
type Outcome struct {
	Studies   []domain.RiskRecord
	Sites     []domain.RiskRecord
	Anomalies []domain.AnomalyResult
	Detector  string
	Report    string
}

// RunAll computes DQI, ranks risk and renders the report in sequence.
func (p *Pipeline) RunAll(ctx context.Context) (*Outcome, error) {
	dqi, err := p.ComputeDQI(ctx)
	if err != nil {
		return nil, err
	}
	ranked, err := p.RankRisk(ctx)
	if err != nil {
		return nil, err
	}
	text, err := p.GenerateSummary(ctx)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Studies:   ranked.Studies,
		Sites:     ranked.Sites,
		Anomalies: dqi.Anomalies,
		Detector:  dqi.Detector,
		Report:    text,
	}, nil
}

// stage wraps one stage in a span, a duration observation and a log line.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name, trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	switch {
	case err == nil:
		slog.Info("stage complete", "stage", name, "duration_ms", elapsed.Milliseconds())
	case errors.Is(err, domain.ErrMissingPrerequisite):
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("stage skipped", "stage", name, "error", err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("stage failed", "stage", name, "error", err)
	}
	return err
}

func (p *Pipeline) heading(title string) { heading(p.out, title) }

func heading(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n%s\n", banner, title, banner)
}

func missing(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrMissingPrerequisite, msg)
}
