// Package identify scans uploaded rows for identifier columns and produces
// deduplicated, normalized candidate sets for identity resolution.
package identify

import "strings"

// Row is a single uploaded record.
type Row = map[string]string

// DetectedFields names the columns of the uploaded table that carry
// identifiers, as detected upstream.
type DetectedFields struct {
	Emails    []string `json:"emails"`
	Phones    []string `json:"phones"`
	Addresses []string `json:"addresses"`
	PersonIDs []string `json:"personIds"`
}

// Kind classifies an identifier candidate.
type Kind string

const (
	KindEmail   Kind = "email"
	KindPhone   Kind = "phone"
	KindAddress Kind = "address"
)

// Kinds lists all identifier kinds in the fixed match-precedence order used
// during row merge: phone before email before address.
var Kinds = []Kind{KindPhone, KindEmail, KindAddress}

// Candidates holds per-kind dedup maps of normalized value → first raw
// occurrence. Every raw occurrence normalizes back to its key, so any row
// value remains resolvable from the normalized form.
type Candidates struct {
	byKind map[Kind]map[string]string
	order  map[Kind][]string
}

// Normalize trims and lower-cases an identifier for use as a map key. It is
// the same normalization the reconciler applies when reading the map back.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Extract builds candidate sets from the detected identifier columns.
// Blank and whitespace-only values are skipped; the first raw occurrence of
// each normalized value wins for display.
func Extract(rows []Row, fields DetectedFields) *Candidates {
	c := &Candidates{
		byKind: map[Kind]map[string]string{
			KindEmail:   {},
			KindPhone:   {},
			KindAddress: {},
		},
		order: map[Kind][]string{},
	}

	columns := map[Kind][]string{
		KindEmail:   fields.Emails,
		KindPhone:   fields.Phones,
		KindAddress: fields.Addresses,
	}

	for _, row := range rows {
		for kind, cols := range columns {
			for _, col := range cols {
				raw := row[col]
				norm := Normalize(raw)
				if norm == "" {
					continue
				}
				if _, seen := c.byKind[kind][norm]; !seen {
					c.byKind[kind][norm] = raw
					c.order[kind] = append(c.order[kind], norm)
				}
			}
		}
	}

	return c
}

// Kind returns the dedup map for one identifier kind.
func (c *Candidates) Kind(k Kind) map[string]string {
	return c.byKind[k]
}

// Normalized returns the normalized values for one kind in first-seen row
// order, which keeps downstream batching deterministic.
func (c *Candidates) Normalized(k Kind) []string {
	return c.order[k]
}

// Total reports the number of distinct candidates across all kinds.
func (c *Candidates) Total() int {
	n := 0
	for _, m := range c.byKind {
		n += len(m)
	}
	return n
}

// KnownIDs extracts person ids that rows already carry, keyed by row index.
// This is independent of the identifier candidate maps: a row with a person-id
// column short-circuits resolution entirely.
func KnownIDs(rows []Row, fields DetectedFields) map[int]string {
	out := make(map[int]string)
	for i, row := range rows {
		for _, col := range fields.PersonIDs {
			if id := strings.TrimSpace(row[col]); id != "" {
				out[i] = id
				break
			}
		}
	}
	return out
}
