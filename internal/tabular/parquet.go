package tabular

import (
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// RiskRow is the Parquet layout of a ranked record.
type RiskRow struct {
	StudyID         string   `parquet:"study_id"`
	SiteID          string   `parquet:"site_id,optional"`
	Rank            int32    `parquet:"rank"`
	WithinStudyRank int32    `parquet:"within_study_rank,optional"`
	DQIScore        float64  `parquet:"dqi_score"`
	Amplified       float64  `parquet:"dqi_score_amplified,optional"`
	RiskLevel       string   `parquet:"risk_level"`
	RiskDriver      string   `parquet:"risk_driver,optional"`
	TotalSignalPct  float64  `parquet:"total_signal_pct"`
	TopRiskDrivers  []string `parquet:"top_risk_drivers,list"`
	PenaltyPages    float64  `parquet:"penalty_pages"`
	PenaltyVisits   float64  `parquet:"penalty_visits"`
	PenaltyEDRR     float64  `parquet:"penalty_edrr"`
	PenaltyCodes    float64  `parquet:"penalty_codes"`
	PenaltySAE      float64  `parquet:"penalty_sae"`
	AnomalyScore    float64  `parquet:"anomaly_score,optional"`
	IsAnomalous     bool     `parquet:"is_anomalous,optional"`
}

func toRiskRow(r domain.RiskRecord) RiskRow {
	row := RiskRow{
		StudyID:         r.StudyID,
		SiteID:          r.SiteID,
		Rank:            int32(r.Rank),
		WithinStudyRank: int32(r.WithinStudyRank),
		DQIScore:        r.DQIScore,
		RiskLevel:       string(r.RiskLevel),
		RiskDriver:      r.RiskDriver,
		TotalSignalPct:  r.TotalSignalPct(),
		TopRiskDrivers:  r.TopDrivers,
		PenaltyPages:    r.Penalties[domain.SignalPages],
		PenaltyVisits:   r.Penalties[domain.SignalVisits],
		PenaltyEDRR:     r.Penalties[domain.SignalEDRR],
		PenaltyCodes:    r.Penalties[domain.SignalCodes],
		PenaltySAE:      r.Penalties[domain.SignalSAE],
		AnomalyScore:    r.AnomalyScore,
		IsAnomalous:     r.IsAnomalous,
	}
	if r.HasAmplified {
		row.Amplified = r.Amplified
	}
	return row
}

// WriteRiskParquet writes a ranked table as snappy-compressed Parquet.
func WriteRiskParquet(path string, records []domain.RiskRecord) error {
	return single(func(b *Batch) error { return b.WriteRiskParquet(path, records) })
}

// WriteRiskParquet stages the Parquet table in the batch.
func (b *Batch) WriteRiskParquet(path string, records []domain.RiskRecord) error {
	rows := make([]RiskRow, len(records))
	for i, r := range records {
		rows[i] = toRiskRow(r)
	}

	return b.stage(path, func(w io.Writer) error {
		writer := parquet.NewGenericWriter[RiskRow](w, parquet.Compression(&parquet.Snappy))
		if _, err := writer.Write(rows); err != nil {
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close parquet writer: %w", err)
		}
		return nil
	})
}

// ReadRiskParquet loads rows written by WriteRiskParquet.
func ReadRiskParquet(path string) ([]RiskRow, error) {
	rows, err := parquet.ReadFile[RiskRow](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}
	return rows, nil
}
