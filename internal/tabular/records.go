package tabular

import (
	"fmt"
	"strings"

	"github.com/clinicalops/trialrisk/internal/domain"
)

const (
	colStudyID = "study_id"
	colSiteID  = "site_id"

	colDQI          = "dqi_score"
	colAmplified    = "dqi_score_amplified"
	colAnomalyScore = "anomaly_score"
	colIsAnomalous  = "is_anomalous"
	colAvgAnomaly   = "avg_anomaly_score"
	colNumAnomalous = "num_anomalous_sites"

	colRank        = "rank"
	colGlobalRank  = "global_rank"
	colWithinRank  = "within_study_rank"
	colRiskLevel   = "risk_level"
	colRiskDriver  = "risk_driver"
	colTotalSignal = "total_signal_pct"
	colTopDrivers  = "top_risk_drivers"
)

// column renders one CSV column of a risk record. DQI tables use the same
// columns on a record whose risk fields are empty.
type column struct {
	name string
	get  func(r *domain.RiskRecord) string
}

func signalColumns(withCounts bool) []column {
	var cols []column
	for _, s := range domain.Signals {
		cols = append(cols, column{s.Column(), func(r *domain.RiskRecord) string { return formatFloat(r.Signals[s]) }})
	}
	if withCounts {
		for _, s := range domain.Signals {
			cols = append(cols, column{s.CountColumn(), func(r *domain.RiskRecord) string { return formatFloat(r.Counts[s]) }})
		}
	}
	return cols
}

func penaltyColumns() []column {
	cols := []column{{colDQI, func(r *domain.RiskRecord) string { return formatFloat(r.DQIScore) }}}
	for _, s := range domain.Signals {
		cols = append(cols, column{s.PenaltyColumn(), func(r *domain.RiskRecord) string { return formatFloat(r.Penalties[s]) }})
	}
	return cols
}

func anomalyColumns(amplified, anomaly, summary bool) []column {
	var cols []column
	if amplified {
		cols = append(cols, column{colAmplified, func(r *domain.RiskRecord) string { return formatFloat(r.Amplified) }})
	}
	if anomaly {
		cols = append(cols,
			column{colAnomalyScore, func(r *domain.RiskRecord) string { return formatFloat(r.AnomalyScore) }},
			column{colIsAnomalous, func(r *domain.RiskRecord) string { return formatBool(r.IsAnomalous) }},
		)
	}
	if summary {
		cols = append(cols,
			column{colAvgAnomaly, func(r *domain.RiskRecord) string { return formatFloat(r.AvgAnomalyScore) }},
			column{colNumAnomalous, func(r *domain.RiskRecord) string { return fmt.Sprint(r.NumAnomalousSites) }},
		)
	}
	return cols
}

func keyColumns(sites bool) []column {
	cols := []column{{colStudyID, func(r *domain.RiskRecord) string { return r.StudyID }}}
	if sites {
		cols = append(cols, column{colSiteID, func(r *domain.RiskRecord) string { return r.SiteID }})
	}
	return cols
}

// presence collects which optional column groups any record carries.
type presence struct {
	sites, counts, amplified, anomaly, summary bool
}

func presenceOf(records []domain.RiskRecord) presence {
	var p presence
	for i := range records {
		r := &records[i]
		p.sites = p.sites || r.IsSite()
		p.counts = p.counts || r.HasCounts
		p.amplified = p.amplified || r.HasAmplified
		p.anomaly = p.anomaly || r.HasAnomaly
		p.summary = p.summary || r.HasAnomalySummary
	}
	return p
}

func (b *Batch) render(path string, records []domain.RiskRecord, cols []column) error {
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.name
	}

	rows := make([][]string, len(records))
	for i := range records {
		row := make([]string, len(cols))
		for j, c := range cols {
			row[j] = c.get(&records[i])
		}
		rows[i] = row
	}
	return b.writeCSV(path, header, rows)
}

func wrap(records []domain.DQIRecord) []domain.RiskRecord {
	out := make([]domain.RiskRecord, len(records))
	for i, r := range records {
		out[i] = domain.RiskRecord{DQIRecord: r}
	}
	return out
}

// ReadSignals loads an extracted signals table. study_id and the five signal
// columns are required; site_id and the raw count columns are optional.
func ReadSignals(path string) ([]domain.SignalRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}

	required := []string{colStudyID}
	for _, s := range domain.Signals {
		required = append(required, s.Column())
	}
	for _, c := range required {
		if !t.has(c) {
			return nil, fmt.Errorf("%s: missing column %q: %w", path, c, domain.ErrInvalidInput)
		}
	}

	records := make([]domain.SignalRecord, len(t.rows))
	for i, row := range t.rows {
		records[i] = t.signalRecord(row)
	}
	return records, nil
}

func (t *table) signalRecord(row []string) domain.SignalRecord {
	rec := domain.SignalRecord{
		StudyID: t.str(row, colStudyID),
		SiteID:  t.str(row, colSiteID),
	}
	for _, s := range domain.Signals {
		rec.Signals[s] = t.float(row, s.Column())
	}

	var counts []string
	for _, s := range domain.Signals {
		counts = append(counts, s.CountColumn())
	}
	if t.hasAll(counts...) {
		rec.HasCounts = true
		for _, s := range domain.Signals {
			rec.Counts[s] = t.float(row, s.CountColumn())
		}
	}
	return rec
}

// WriteSignals writes a signals table in the extractor's layout.
func WriteSignals(path string, records []domain.SignalRecord) error {
	return single(func(b *Batch) error { return b.WriteSignals(path, records) })
}

// WriteSignals stages the table in the batch.
func (b *Batch) WriteSignals(path string, records []domain.SignalRecord) error {
	risk := make([]domain.RiskRecord, len(records))
	for i, r := range records {
		risk[i].SignalRecord = r
	}
	p := presenceOf(risk)

	cols := append(keyColumns(p.sites), signalColumns(p.counts)...)
	return b.render(path, risk, cols)
}

// WriteDQI writes a study or site DQI table.
func WriteDQI(path string, records []domain.DQIRecord) error {
	return single(func(b *Batch) error { return b.WriteDQI(path, records) })
}

// WriteDQI stages the table in the batch.
func (b *Batch) WriteDQI(path string, records []domain.DQIRecord) error {
	risk := wrap(records)
	p := presenceOf(risk)

	cols := keyColumns(p.sites)
	cols = append(cols, signalColumns(p.counts)...)
	cols = append(cols, penaltyColumns()...)
	cols = append(cols, anomalyColumns(p.amplified, p.anomaly, p.summary)...)
	return b.render(path, risk, cols)
}

// ReadDQI loads a DQI table. hasPenalties is false for legacy tables that
// predate the penalty columns; callers backfill those from the signals.
func ReadDQI(path string) (records []domain.DQIRecord, hasPenalties bool, err error) {
	t, err := readTable(path)
	if err != nil {
		return nil, false, err
	}
	if !t.hasAll(colStudyID, colDQI) {
		return nil, false, fmt.Errorf("%s: missing study_id or dqi_score: %w", path, domain.ErrInvalidInput)
	}

	hasPenalties = true
	for _, s := range domain.Signals {
		hasPenalties = hasPenalties && t.has(s.PenaltyColumn())
	}

	records = make([]domain.DQIRecord, len(t.rows))
	for i, row := range t.rows {
		records[i] = t.dqiRecord(row, hasPenalties)
	}
	return records, hasPenalties, nil
}

func (t *table) dqiRecord(row []string, withPenalties bool) domain.DQIRecord {
	rec := domain.DQIRecord{
		SignalRecord: t.signalRecord(row),
		DQIScore:     t.float(row, colDQI),
	}
	if withPenalties {
		for _, s := range domain.Signals {
			rec.Penalties[s] = t.float(row, s.PenaltyColumn())
		}
	}
	if t.has(colAmplified) {
		rec.HasAmplified = true
		rec.Amplified = t.float(row, colAmplified)
	}
	if t.hasAll(colAnomalyScore, colIsAnomalous) {
		rec.HasAnomaly = true
		rec.AnomalyScore = t.float(row, colAnomalyScore)
		rec.IsAnomalous = t.flag(row, colIsAnomalous)
	}
	if t.hasAll(colAvgAnomaly, colNumAnomalous) {
		rec.HasAnomalySummary = true
		rec.AvgAnomalyScore = t.float(row, colAvgAnomaly)
		rec.NumAnomalousSites = t.integer(row, colNumAnomalous)
	}
	return rec
}

// WriteRisk writes a ranked table. Study tables carry rank; site tables carry
// global_rank, within_study_rank and risk_driver.
func WriteRisk(path string, records []domain.RiskRecord) error {
	return single(func(b *Batch) error { return b.WriteRisk(path, records) })
}

// WriteRisk stages the table in the batch.
func (b *Batch) WriteRisk(path string, records []domain.RiskRecord) error {
	p := presenceOf(records)

	var cols []column
	if p.sites {
		cols = append(keyColumns(true),
			column{colGlobalRank, func(r *domain.RiskRecord) string { return fmt.Sprint(r.Rank) }},
			column{colWithinRank, func(r *domain.RiskRecord) string { return fmt.Sprint(r.WithinStudyRank) }},
		)
	} else {
		cols = append([]column{{colRank, func(r *domain.RiskRecord) string { return fmt.Sprint(r.Rank) }}}, keyColumns(false)...)
	}

	cols = append(cols, column{colDQI, func(r *domain.RiskRecord) string { return formatFloat(r.DQIScore) }})
	cols = append(cols, column{colRiskLevel, func(r *domain.RiskRecord) string { return string(r.RiskLevel) }})
	if p.sites {
		cols = append(cols, column{colRiskDriver, func(r *domain.RiskRecord) string { return r.RiskDriver }})
	}
	cols = append(cols,
		column{colTotalSignal, func(r *domain.RiskRecord) string { return formatFloat(r.TotalSignalPct()) }},
		column{colTopDrivers, func(r *domain.RiskRecord) string { return r.DriversText() }},
	)

	cols = append(cols, signalColumns(p.counts)...)
	cols = append(cols, penaltyColumns()[1:]...)
	cols = append(cols, anomalyColumns(p.amplified, p.anomaly, p.summary)...)
	return b.render(path, records, cols)
}

// ReadRisk loads a ranked table written by WriteRisk.
func ReadRisk(path string) ([]domain.RiskRecord, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if !t.hasAll(colStudyID, colDQI, colRiskLevel) {
		return nil, fmt.Errorf("%s: missing study_id, dqi_score or risk_level: %w", path, domain.ErrInvalidInput)
	}

	hasPenalties := true
	for _, s := range domain.Signals {
		hasPenalties = hasPenalties && t.has(s.PenaltyColumn())
	}

	records := make([]domain.RiskRecord, len(t.rows))
	for i, row := range t.rows {
		rec := domain.RiskRecord{
			DQIRecord:  t.dqiRecord(row, hasPenalties),
			RiskLevel:  domain.RiskLevel(t.str(row, colRiskLevel)),
			RiskDriver: t.str(row, colRiskDriver),
		}
		if drivers := t.str(row, colTopDrivers); drivers != "" {
			rec.TopDrivers = strings.Split(drivers, ", ")
		}
		if t.has(colGlobalRank) {
			rec.Rank = t.integer(row, colGlobalRank)
			rec.WithinStudyRank = t.integer(row, colWithinRank)
		} else {
			rec.Rank = t.integer(row, colRank)
		}
		records[i] = rec
	}
	return records, nil
}

// WriteAnomalies writes the per-site detector output.
func WriteAnomalies(path string, results []domain.AnomalyResult) error {
	return single(func(b *Batch) error { return b.WriteAnomalies(path, results) })
}

// WriteAnomalies stages the table in the batch.
func (b *Batch) WriteAnomalies(path string, results []domain.AnomalyResult) error {
	header := []string{colStudyID, colSiteID, colDQI, colAnomalyScore, colIsAnomalous}
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{r.StudyID, r.SiteID, formatFloat(r.DQIScore), formatFloat(r.AnomalyScore), formatBool(r.IsAnomalous)}
	}
	return b.writeCSV(path, header, rows)
}
