package repository

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/clinicalops/trialrisk/internal/domain"
)

const resultFields = `run_id, position, study_id, site_id, within_study_rank, dqi_score, dqi_amplified,
	risk_level, risk_driver, top_drivers, signals, penalties, counts,
	anomaly_score, is_anomalous, avg_anomaly_score, num_anomalous_sites, flags`

const driverSep = "|"

// Presence bits for the optional column groups of a ranked record.
const (
	flagCounts = 1 << iota
	flagAmplified
	flagAnomaly
	flagAnomalySummary
)

func flagsOf(rec domain.RiskRecord) int {
	var f int
	if rec.HasCounts {
		f |= flagCounts
	}
	if rec.HasAmplified {
		f |= flagAmplified
	}
	if rec.HasAnomaly {
		f |= flagAnomaly
	}
	if rec.HasAnomalySummary {
		f |= flagAnomalySummary
	}
	return f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeValues(v domain.SignalValues) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = cast.ToString(x)
	}
	return strings.Join(parts, ",")
}

func decodeValues(s string) (domain.SignalValues, error) {
	var v domain.SignalValues
	parts := strings.Split(s, ",")
	if len(parts) != domain.NumSignals {
		return v, fmt.Errorf("expected %d values, got %q", domain.NumSignals, s)
	}
	for i, p := range parts {
		x, err := cast.ToFloat64E(p)
		if err != nil {
			return v, err
		}
		v[i] = x
	}
	return v, nil
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func scanResult(rows *sql.Rows) (domain.RiskRecord, error) {
	var rec domain.RiskRecord
	var runID, level, drivers, signals, penalties string
	var driver, counts sql.NullString
	var dqi, amplified, anomaly, avgAnomaly sql.NullFloat64
	var anomalous, flags int

	err := rows.Scan(
		&runID, &rec.Rank, &rec.StudyID, &rec.SiteID, &rec.WithinStudyRank, &dqi, &amplified,
		&level, &driver, &drivers, &signals, &penalties, &counts,
		&anomaly, &anomalous, &avgAnomaly, &rec.NumAnomalousSites, &flags,
	)
	if err != nil {
		return rec, err
	}

	rec.RiskLevel = domain.RiskLevel(level)
	rec.RiskDriver = driver.String
	if drivers != "" {
		rec.TopDrivers = strings.Split(drivers, driverSep)
	}
	rec.DQIScore = floatOrNaN(dqi)
	rec.IsAnomalous = anomalous != 0

	if rec.Signals, err = decodeValues(signals); err != nil {
		return rec, fmt.Errorf("run %s: bad signals: %w", runID, err)
	}
	if rec.Penalties, err = decodeValues(penalties); err != nil {
		return rec, fmt.Errorf("run %s: bad penalties: %w", runID, err)
	}

	rec.HasCounts = flags&flagCounts != 0
	if rec.HasCounts && counts.Valid {
		if rec.Counts, err = decodeValues(counts.String); err != nil {
			return rec, fmt.Errorf("run %s: bad counts: %w", runID, err)
		}
	}
	if rec.HasAmplified = flags&flagAmplified != 0; rec.HasAmplified {
		rec.Amplified = floatOrNaN(amplified)
	}
	if rec.HasAnomaly = flags&flagAnomaly != 0; rec.HasAnomaly {
		rec.AnomalyScore = floatOrNaN(anomaly)
	}
	if rec.HasAnomalySummary = flags&flagAnomalySummary != 0; rec.HasAnomalySummary {
		rec.AvgAnomalyScore = floatOrNaN(avgAnomaly)
	}
	return rec, nil
}
