// Package icp computes ideal-customer-profile statistics over enriched rows
// and compiles the selected attributes into a boolean cluster expression for
// audience estimation.
package icp

import (
	"sort"
	"strings"

	"github.com/signalpath/enrich-cli/internal/enrich"
)

// Caps on the attribute lists returned to the caller.
const (
	maxPositive = 20
	maxNegative = 15
	maxTotal    = 35

	preselectCount = 5

	// minShare drops attributes appearing in under 5% of profiles.
	minShare = 0.05

	// maxScalarLen excludes long free-text values from attribute counting.
	maxScalarLen = 100
)

// Operator joins a selected attribute to the next term of the cluster
// expression.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// Attribute is one attributeName=attributeValue occurrence summary.
type Attribute struct {
	AttributeName  string  `json:"attributeName"`
	AttributeValue string  `json:"attributeValue"`
	ClusterName    string  `json:"clusterName"`
	Count          int     `json:"count"`
	Percentage     float64 `json:"percentage"`
	Selected       bool    `json:"selected"`
	Operator       string  `json:"operator"`
}

// Analysis is the analyzer output.
type Analysis struct {
	TopAttributes []Attribute `json:"topAttributes"`
	TotalProfiles int         `json:"totalProfiles"`
}

// Field names never counted as attributes: identifiers, PII, and merge
// artifacts.
var excludedNames = map[string]bool{
	"email":      true,
	"phone":      true,
	"address":    true,
	"person_id":  true,
	"first_name": true,
	"last_name":  true,
	"full_name":  true,
	"name":       true,
	"city":       true,
	"state":      true,
	"zip":        true,
	"zip_code":   true,
}

var excludedSubstrings = []string{"email", "phone", "address", "name"}

var excludedSuffixes = []string{"_id", "_score", "_status", "_cluster_id"}

// Table-artifact prefixes from the upstream domain export format.
var excludedPrefixes = []string{"tbl", "raw_"}

var nullLike = map[string]bool{
	"":          true,
	"null":      true,
	"nil":       true,
	"none":      true,
	"n/a":       true,
	"na":        true,
	"undefined": true,
	"-":         true,
}

// Analyze counts attribute occurrences across the rows and returns the top
// attributes: under-5% attributes dropped, positives (value != "false")
// capped at 20, negatives (value == "false") capped at 15, recombined and
// re-sorted by percentage descending, capped at 35 total. The top 5 positive
// attributes come back pre-selected; every attribute defaults to AND.
func Analyze(rows []enrich.Row) *Analysis {
	total := len(rows)
	analysis := &Analysis{TotalProfiles: total, TopAttributes: []Attribute{}}
	if total == 0 {
		return analysis
	}

	counts := map[string]map[string]int{}
	for _, row := range rows {
		for field, value := range row {
			if !countable(field, value) {
				continue
			}
			if counts[field] == nil {
				counts[field] = map[string]int{}
			}
			counts[field][value]++
		}
	}

	var positive, negative []Attribute
	for field, values := range counts {
		for value, count := range values {
			pct := float64(count) / float64(total)
			if pct < minShare {
				continue
			}
			attr := Attribute{
				AttributeName:  field,
				AttributeValue: value,
				ClusterName:    field,
				Count:          count,
				Percentage:     pct * 100,
				Operator:       OperatorAnd,
			}
			if value == "false" {
				negative = append(negative, attr)
			} else {
				positive = append(positive, attr)
			}
		}
	}

	sortByShare(positive)
	sortByShare(negative)
	positive = capAt(positive, maxPositive)
	negative = capAt(negative, maxNegative)

	// Pre-select the strongest positives before the lists recombine.
	for i := range positive {
		if i < preselectCount {
			positive[i].Selected = true
		}
	}

	combined := append(positive, negative...)
	sortByShare(combined)
	analysis.TopAttributes = capAt(combined, maxTotal)
	return analysis
}

// countable reports whether a field/value pair participates in attribute
// counting: not excluded by name or pattern, and a short non-null scalar.
func countable(field, value string) bool {
	f := strings.ToLower(strings.TrimSpace(field))
	if excludedNames[f] {
		return false
	}
	for _, sub := range excludedSubstrings {
		if strings.Contains(f, sub) {
			return false
		}
	}
	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(f, suffix) {
			return false
		}
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(f, prefix) {
			return false
		}
	}

	v := strings.TrimSpace(value)
	if len(v) >= maxScalarLen {
		return false
	}
	return !nullLike[strings.ToLower(v)]
}

// sortByShare orders attributes by percentage descending, name/value
// ascending as a deterministic tiebreak.
func sortByShare(attrs []Attribute) {
	sort.Slice(attrs, func(i, j int) bool {
		if attrs[i].Percentage != attrs[j].Percentage {
			return attrs[i].Percentage > attrs[j].Percentage
		}
		if attrs[i].AttributeName != attrs[j].AttributeName {
			return attrs[i].AttributeName < attrs[j].AttributeName
		}
		return attrs[i].AttributeValue < attrs[j].AttributeValue
	})
}

func capAt(attrs []Attribute, n int) []Attribute {
	if len(attrs) > n {
		return attrs[:n]
	}
	return attrs
}
