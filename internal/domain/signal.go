// Package domain defines the core types and interfaces for trialrisk.
package domain

// Signal identifies one of the five data-quality signals extracted per study or site.
// The declaration order is significant: it is the tie-break order for driver attribution.
type Signal int

const (
	SignalPages Signal = iota
	SignalVisits
	SignalEDRR
	SignalCodes
	SignalSAE
)

// NumSignals is the number of tracked signals.
const NumSignals = 5

// Signals lists every signal in declaration order.
var Signals = [NumSignals]Signal{SignalPages, SignalVisits, SignalEDRR, SignalCodes, SignalSAE}

// SignalValues holds one float per signal, indexed by Signal.
type SignalValues [NumSignals]float64

// Sum adds the values of all signals.
func (v SignalValues) Sum() float64 {
	var total float64
	for _, x := range v {
		total += x
	}
	return total
}

type signalInfo struct {
	key     string
	column  string
	penalty string
	count   string
	label   string
	display string
}

var signalTable = [NumSignals]signalInfo{
	SignalPages:  {"pages", "missing_pages_pct", "penalty_pages", "missing_pages", "CRF Pages", "CRF Pages Incomplete"},
	SignalVisits: {"visits", "missing_visits_pct", "penalty_visits", "missing_visits", "Missing Visits", "Missing Visits"},
	SignalEDRR:   {"edrr", "unresolved_edrr_pct", "penalty_edrr", "unresolved_edrr", "EDRR Queries", "Unresolved Queries (EDRR)"},
	SignalCodes:  {"codes", "uncoded_terms_pct", "penalty_codes", "uncoded_terms", "Uncoded Terms", "Uncoded Medical Terms"},
	SignalSAE:    {"sae", "pending_sae_pct", "penalty_sae", "pending_sae_reviews", "SAE Reviews", "Pending SAE Reviews"},
}

// Key is the short name used in JSON payloads (e.g. "visits").
func (s Signal) Key() string { return signalTable[s].key }

// Column is the raw percentage column name (e.g. "missing_visits_pct").
func (s Signal) Column() string { return signalTable[s].column }

// PenaltyColumn is the weighted penalty column name (e.g. "penalty_visits").
func (s Signal) PenaltyColumn() string { return signalTable[s].penalty }

// CountColumn is the optional raw count column name (e.g. "missing_visits").
func (s Signal) CountColumn() string { return signalTable[s].count }

// Label is the driver label shown in risk tables (e.g. "Missing Visits").
func (s Signal) Label() string { return signalTable[s].label }

// DisplayName is the long name used in the report's aggregate driver section.
func (s Signal) DisplayName() string { return signalTable[s].display }

func (s Signal) String() string { return s.Key() }
