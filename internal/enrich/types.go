// Package enrich reconciles identity-resolution and profile-fetch tool
// outputs against uploaded contact rows, producing an enriched dataset that
// preserves the original row order.
package enrich

import "github.com/signalpath/enrich-cli/internal/identify"

// Row is a single uploaded record. Enrichment never mutates a source row;
// enriched output is always a fresh copy.
type Row = identify.Row

// DetectedFields names the columns of the uploaded table that carry
// identifiers, as detected upstream.
type DetectedFields = identify.DetectedFields

// Normalize trims and lower-cases an identifier for use as a map key. Every
// identifier-map read and write goes through this.
func Normalize(raw string) string {
	return identify.Normalize(raw)
}

// ToolCall is one entry in the append-only tool-call log produced by the
// conversation orchestrator and extended live during auto-resolution.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Result any            `json:"result"`
}

// ResolvedIdentity is one identity returned by the resolution tool.
// PersonID is an opaque string and must never be treated as a number.
type ResolvedIdentity struct {
	PersonID    string              `json:"person_id"`
	Identifiers map[string][]string `json:"identifiers"`
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	Rows                 []Row
	IdentifierToPersonID map[string]string
	Profiles             map[string]map[string]string
	ResolvedIDs          []string
	ExportLinks          []string
	Warnings             []string
}

// ResolvedCount reports how many uploaded rows matched a person id.
func (r *Result) ResolvedCount() int {
	n := 0
	for _, row := range r.Rows {
		if row["person_id"] != "" {
			n++
		}
	}
	return n
}

// EnrichedCount reports how many rows gained profile data beyond a bare
// person id.
func (r *Result) EnrichedCount() int {
	n := 0
	for _, row := range r.Rows {
		pid := row["person_id"]
		if pid == "" {
			continue
		}
		if len(r.Profiles[pid]) > 0 {
			n++
		}
	}
	return n
}
