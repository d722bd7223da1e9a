package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/clinicalops/trialrisk/internal/anomaly"
	"github.com/clinicalops/trialrisk/internal/discovery"
	"github.com/clinicalops/trialrisk/internal/domain"
	"github.com/clinicalops/trialrisk/internal/metrics"
	"github.com/clinicalops/trialrisk/internal/risk"
	"github.com/clinicalops/trialrisk/internal/tabular"
)

// Prerequisite messages printed when an upstream artifact is absent.
const (
	MsgNoSignals = "Signal files not found. Run the signal extraction step first."
	MsgNoDQI     = "DQI files not found. Run compute-dqi first."
	MsgNoRisk    = "Risk ranking files not found. Run risk-ranking first."
)

// DiscoverSchema scans the data directory and writes the schema summary and
// map. A missing directory or an empty scan writes nothing.
func (p *Pipeline) DiscoverSchema(ctx context.Context) (*discovery.Schema, error) {
	var schema *discovery.Schema
	err := p.stage(ctx, StageDiscover, func(ctx context.Context) error {
		p.heading("STEP 1: SCHEMA DISCOVERY")

		var err error
		schema, err = discovery.NewScanner(p.out).Scan(ctx, p.paths.DataDir)
		if errors.Is(err, domain.ErrMissingPrerequisite) {
			fmt.Fprintf(p.out, "❌ ERROR: Directory '%s' not found.\n", p.paths.DataDir)
			return err
		}
		if err != nil {
			return err
		}

		if len(schema.Files) == 0 {
			fmt.Fprintln(p.out, "\n❌ No files discovered. Check folder structure and file types.")
			return nil
		}
		fmt.Fprintf(p.out, "\n✓ Successfully discovered %d files\n", len(schema.Files))

		if err := tabular.WriteText(p.paths.SchemaSummary(), schema.Summary(p.now())); err != nil {
			return fmt.Errorf("write schema summary: %w", err)
		}
		fmt.Fprintf(p.out, "\n✓ Schema summary saved to: %s\n", p.paths.SchemaSummary())

		data, err := schema.JSON()
		if err != nil {
			return err
		}
		if err := tabular.WriteText(p.paths.SchemaMap(), string(data)); err != nil {
			return fmt.Errorf("write schema map: %w", err)
		}
		fmt.Fprintln(p.out, "✓ Schema map (JSON) saved for downstream processing")
		return nil
	})
	return schema, err
}

// DQIResult is the output of the DQI stage.
type DQIResult struct {
	Studies   []domain.DQIRecord
	Sites     []domain.DQIRecord
	Anomalies []domain.AnomalyResult
	Detector  string
}

// ComputeDQI scores the extracted signals, amplifies anomalous sites and
// writes the DQI tables (and the anomalies table when a detector ran).
func (p *Pipeline) ComputeDQI(ctx context.Context) (*DQIResult, error) {
	var result *DQIResult
	err := p.stage(ctx, StageDQI, func(ctx context.Context) error {
		p.heading("STEP 3: DATA QUALITY INDEX (DQI) COMPUTATION")

		if !tabular.Exists(p.paths.StudySignals(), p.paths.SiteSignals()) {
			fmt.Fprintf(p.out, "\n❌ %s\n", MsgNoSignals)
			return missing(MsgNoSignals)
		}
		studySignals, err := tabular.ReadSignals(p.paths.StudySignals())
		if err != nil {
			return err
		}
		siteSignals, err := tabular.ReadSignals(p.paths.SiteSignals())
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "\nLoaded signals for %d studies and %d sites\n", len(studySignals), len(siteSignals))

		fmt.Fprintln(p.out, "\nComputing rule-based DQI scores...")
		result, err = p.score(ctx, p.out, studySignals, siteSignals)
		if err != nil {
			return err
		}

		b := tabular.NewBatch()
		if err := p.stageDQI(b, result); err != nil {
			b.Abort()
			return err
		}
		if err := b.Commit(); err != nil {
			return err
		}
		if result.Anomalies == nil {
			if err := tabular.Remove(p.paths.Anomalies()); err != nil {
				return fmt.Errorf("remove stale anomalies: %w", err)
			}
		} else {
			fmt.Fprintf(p.out, "✓ Anomaly scores saved to: %s\n", p.paths.Anomalies())
		}
		fmt.Fprintf(p.out, "✓ Study-level DQI saved to: %s\n", p.paths.StudyDQI())
		fmt.Fprintf(p.out, "✓ Site-level DQI saved to: %s\n", p.paths.SiteDQI())

		p.printDQISummary(result.Studies)
		fmt.Fprintln(p.out, "\n✓ DQI computation complete.")
		return nil
	})
	return result, err
}

// score runs the aggregator and the anomaly detector over in-memory signals,
// reporting progress to out.
func (p *Pipeline) score(ctx context.Context, out io.Writer, studySignals, siteSignals []domain.SignalRecord) (*DQIResult, error) {
	studies := p.aggregator.ScoreAll(studySignals)
	sites := p.aggregator.ScoreAll(siteSignals)
	metrics.RecordsScored.WithLabelValues("study").Add(float64(len(studies)))
	metrics.RecordsScored.WithLabelValues("site").Add(float64(len(sites)))

	result := &DQIResult{Detector: p.detector.Name()}

	if p.detector.Name() == anomaly.MethodNone {
		fmt.Fprintln(out, "\n⚠ Skipping anomaly detection (module not available)")
	} else {
		heading(out, "ANOMALY DETECTION & RISK AMPLIFICATION (ML Enhancement)")
		anomalies, err := p.detector.Detect(ctx, sites)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			slog.Warn("anomaly detection failed, continuing without it", "detector", p.detector.Name(), "error", err)
			fmt.Fprintln(out, "⚠ Skipping anomaly detection (module not available)")
			result.Detector = anomaly.MethodNone
		default:
			result.Anomalies = anomalies
			flagged := anomaly.CountFlagged(anomalies)
			metrics.AnomalousSites.Set(float64(flagged))
			fmt.Fprintf(out, "Detector: %s (%d of %d sites flagged)\n", p.detector.Name(), flagged, len(sites))
		}
	}

	result.Sites = anomaly.Amplify(sites, result.Anomalies, p.strength)
	result.Studies = anomaly.SummarizeByStudy(studies, result.Anomalies)
	return result, nil
}

func (p *Pipeline) printDQISummary(studies []domain.DQIRecord) {
	fmt.Fprintf(p.out, "\n%s\n", banner)
	fmt.Fprintln(p.out, "DATA QUALITY INDEX (DQI) SUMMARY")
	fmt.Fprintln(p.out, banner)
	fmt.Fprintln(p.out, "\nDQI Scoring Methodology (Rule-Based):")
	fmt.Fprintln(p.out, "  DQI = 100 - [weighted penalty from signals vs clinical thresholds]")
	fmt.Fprintln(p.out, "  Higher DQI = Better data quality")
	fmt.Fprintln(p.out, "\nWeights (by clinical impact):")
	fmt.Fprintf(p.out, "  CRF Pages (W=%g):     Completeness foundation\n", p.policy.Weights[domain.SignalPages])
	fmt.Fprintf(p.out, "  Missing Visits (W=%g): Safety data gaps; blocks submission\n", p.policy.Weights[domain.SignalVisits])
	fmt.Fprintf(p.out, "  EDRR Queries (W=%g):   Delays database lock\n", p.policy.Weights[domain.SignalEDRR])
	fmt.Fprintf(p.out, "  Uncoded Terms (W=%g):  Safety/efficacy ambiguity\n", p.policy.Weights[domain.SignalCodes])
	fmt.Fprintf(p.out, "  SAE Reviews (W=%g):    Highest regulatory/safety priority\n", p.policy.Weights[domain.SignalSAE])
	fmt.Fprintln(p.out, "\nInterpretation:")
	fmt.Fprintln(p.out, "  DQI >= 80: Excellent (all signals at/below threshold)")
	fmt.Fprintln(p.out, "  DQI 60-80: Good (some signals moderately above threshold)")
	fmt.Fprintln(p.out, "  DQI 40-60: Fair (multiple signals significantly above threshold)")
	fmt.Fprintln(p.out, "  DQI < 40:  Poor (most signals well above threshold)")
	fmt.Fprintf(p.out, "\n%s\n", banner)

	fmt.Fprintln(p.out, "\nSTUDY-LEVEL DQI SCORES:")
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "study_id\tdqi_score\tmissing_pages_pct\tmissing_visits_pct\tunresolved_edrr_pct\t")
	records := make([]domain.RiskRecord, len(studies))
	for i, s := range studies {
		records[i].DQIRecord = s
		fmt.Fprintf(tw, "%s\t%.2f\t%g\t%g\t%g\t\n", s.StudyID, s.DQIScore,
			s.Signals[domain.SignalPages], s.Signals[domain.SignalVisits], s.Signals[domain.SignalEDRR])
	}
	tw.Flush()

	fmt.Fprintf(p.out, "\nAverage DQI: %.2f\n", risk.AverageDQI(records))
}

// RiskResult is the output of the ranking stage.
type RiskResult struct {
	Studies []domain.RiskRecord
	Sites   []domain.RiskRecord
}

// RankRisk tiers and ranks the DQI tables and writes the risk rankings.
// Legacy DQI tables without penalty columns are backfilled from the signals.
func (p *Pipeline) RankRisk(ctx context.Context) (*RiskResult, error) {
	var result *RiskResult
	err := p.stage(ctx, StageRank, func(ctx context.Context) error {
		p.heading("STEP 4: RISK RANKING & CATEGORIZATION")

		if !tabular.Exists(p.paths.StudyDQI(), p.paths.SiteDQI()) {
			fmt.Fprintf(p.out, "\n❌ %s\n", MsgNoDQI)
			return missing(MsgNoDQI)
		}
		studies, err := p.readDQI(p.paths.StudyDQI())
		if err != nil {
			return err
		}
		sites, err := p.readDQI(p.paths.SiteDQI())
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "\nLoaded DQI scores for %d studies and %d sites\n", len(studies), len(sites))

		fmt.Fprintln(p.out, "\nRanking and categorizing risk...")
		fmt.Fprintf(p.out, "\nRisk categorization using: %s\n", scoreColumn(studies))
		fmt.Fprintf(p.out, "Risk categorization using: %s\n", scoreColumn(sites))
		result = &RiskResult{
			Studies: p.ranker.RankStudies(studies),
			Sites:   p.ranker.RankSites(sites),
		}

		b := tabular.NewBatch()
		if err := p.writeRisk(b, p.paths.StudyRisk(), p.paths.StudyRiskParquet(), result.Studies); err != nil {
			b.Abort()
			return err
		}
		if err := p.writeRisk(b, p.paths.SiteRisk(), p.paths.SiteRiskParquet(), result.Sites); err != nil {
			b.Abort()
			return err
		}
		if err := b.Commit(); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "\n✓ Study-level risk rankings saved to: %s\n", p.paths.StudyRisk())
		fmt.Fprintf(p.out, "✓ Site-level risk rankings saved to: %s\n", p.paths.SiteRisk())

		fmt.Fprintln(p.out, risk.SummaryText(result.Studies, 3))
		p.printStudyRankings(result.Studies)
		fmt.Fprintln(p.out, "\n✓ Risk ranking complete.")
		return nil
	})
	return result, err
}

func (p *Pipeline) readDQI(path string) ([]domain.DQIRecord, error) {
	records, hasPenalties, err := tabular.ReadDQI(path)
	if err != nil {
		return nil, err
	}
	if !hasPenalties {
		slog.Info("backfilling penalty columns from signals", "path", path)
		p.aggregator.Backfill(records)
	}
	return records, nil
}

func (p *Pipeline) writeRisk(b *tabular.Batch, csvPath, parquetPath string, records []domain.RiskRecord) error {
	if err := b.WriteRisk(csvPath, records); err != nil {
		return fmt.Errorf("write %s: %w", csvPath, err)
	}
	if !p.writeParquet {
		return nil
	}
	if err := b.WriteRiskParquet(parquetPath, records); err != nil {
		return fmt.Errorf("write %s: %w", parquetPath, err)
	}
	return nil
}

// stageDQI stages the anomalies table (when a detector ran) and both DQI tables.
func (p *Pipeline) stageDQI(b *tabular.Batch, result *DQIResult) error {
	if result.Anomalies != nil {
		if err := b.WriteAnomalies(p.paths.Anomalies(), result.Anomalies); err != nil {
			return fmt.Errorf("write anomalies: %w", err)
		}
	}
	if err := b.WriteDQI(p.paths.StudyDQI(), result.Studies); err != nil {
		return fmt.Errorf("write study DQI: %w", err)
	}
	if err := b.WriteDQI(p.paths.SiteDQI(), result.Sites); err != nil {
		return fmt.Errorf("write site DQI: %w", err)
	}
	return nil
}

func scoreColumn(records []domain.DQIRecord) string {
	if len(records) > 0 && records[0].HasAmplified {
		return "dqi_score_amplified"
	}
	return "dqi_score"
}

func (p *Pipeline) printStudyRankings(studies []domain.RiskRecord) {
	fmt.Fprintln(p.out, "\nSTUDY RANKINGS (sorted by risk, worst first):")
	fmt.Fprintln(p.out, banner)
	tw := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tstudy_id\tdqi_score\trisk_level\ttotal_signal_pct\ttop_risk_drivers")
	for _, r := range studies {
		fmt.Fprintf(tw, "%d\t%s\t%.2f\t%s\t%.2f\t%s\n", r.Rank, r.StudyID, r.DQIScore, r.RiskLevel, r.TotalSignalPct(), r.DriversText())
	}
	tw.Flush()
}

// GenerateSummary renders the executive summary from the risk rankings.
func (p *Pipeline) GenerateSummary(ctx context.Context) (string, error) {
	var text string
	err := p.stage(ctx, StageSummary, func(ctx context.Context) error {
		p.heading("STEP 5: EXECUTIVE SUMMARY & RECOMMENDATIONS GENERATION")

		if !tabular.Exists(p.paths.StudyRisk(), p.paths.SiteRisk()) {
			fmt.Fprintf(p.out, "\n❌ %s\n", MsgNoRisk)
			return missing(MsgNoRisk)
		}
		studies, err := tabular.ReadRisk(p.paths.StudyRisk())
		if err != nil {
			return err
		}
		sites, err := tabular.ReadRisk(p.paths.SiteRisk())
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "\nLoaded risk rankings for %d studies and %d sites\n", len(studies), len(sites))

		fmt.Fprintln(p.out, "\nGenerating executive summary...")
		text, err = p.renderer.Render(studies, sites)
		if err != nil {
			return err
		}
		if err := tabular.WriteText(p.paths.Report(), text); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(p.out, "✓ Executive summary saved to: %s\n", p.paths.Report())

		fmt.Fprintf(p.out, "\n%s\n", text)
		fmt.Fprintln(p.out, "\n✓ Summary generation complete.")
		return nil
	})
	return text, err
}

// Evaluation is the in-memory result of scoring a submitted batch.
type Evaluation struct {
	Studies           []domain.RiskRecord
	Sites             []domain.RiskRecord
	Anomalies         []domain.AnomalyResult
	Detector          string
	StudyDistribution risk.Distribution
	SiteDistribution  risk.Distribution
}

// Evaluate scores and ranks a batch without touching the artifact directory.
func (p *Pipeline) Evaluate(ctx context.Context, studies, sites []domain.SignalRecord) (*Evaluation, error) {
	ctx, span := tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()

	dqi, err := p.score(ctx, io.Discard, studies, sites)
	if err != nil {
		return nil, err
	}

	eval := &Evaluation{
		Studies:   p.ranker.RankStudies(dqi.Studies),
		Sites:     p.ranker.RankSites(dqi.Sites),
		Anomalies: dqi.Anomalies,
		Detector:  dqi.Detector,
	}
	eval.StudyDistribution = risk.Distribute(eval.Studies)
	eval.SiteDistribution = risk.Distribute(eval.Sites)
	return eval, nil
}
