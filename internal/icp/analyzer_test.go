package icp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalpath/enrich-cli/internal/enrich"
)

func TestAnalyze_FivePercentThreshold(t *testing.T) {
	t.Parallel()

	// 100 rows: "homeowner=true" appears 5 times (kept), "boater=true"
	// appears 4 times (dropped).
	rows := make([]enrich.Row, 100)
	for i := range rows {
		rows[i] = enrich.Row{"segment": "general"}
		if i < 5 {
			rows[i]["homeowner"] = "true"
		}
		if i < 4 {
			rows[i]["boater"] = "true"
		}
	}

	a := Analyze(rows)
	assert.Equal(t, 100, a.TotalProfiles)

	names := map[string]bool{}
	for _, attr := range a.TopAttributes {
		names[attr.AttributeName] = true
	}
	assert.True(t, names["homeowner"])
	assert.False(t, names["boater"])
	assert.True(t, names["segment"])
}

func TestAnalyze_ExclusionsAndScalars(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 120)
	rows := make([]enrich.Row, 10)
	for i := range rows {
		rows[i] = enrich.Row{
			"email":               "a@x.com",    // excluded exact
			"person_id":           "p1",         // excluded exact
			"work_phone":          "555",        // excluded substring
			"wealth_score":        "9",          // excluded suffix
			"segment_cluster_id":  "c42",        // excluded suffix
			"tblDemographics":     "artifact",   // excluded prefix
			"bio":                 long,         // too long
			"notes":               "null",       // null-like
			"household_size":      "3",          // counted
		}
	}

	a := Analyze(rows)
	require.Len(t, a.TopAttributes, 1)
	assert.Equal(t, "household_size", a.TopAttributes[0].AttributeName)
	assert.Equal(t, "3", a.TopAttributes[0].AttributeValue)
	assert.Equal(t, 10, a.TopAttributes[0].Count)
	assert.InDelta(t, 100.0, a.TopAttributes[0].Percentage, 0.001)
}

func TestAnalyze_PositiveNegativeSplitAndCaps(t *testing.T) {
	t.Parallel()

	// 30 distinct positive attributes and 20 distinct negative ones, each on
	// every row so nothing falls under the threshold.
	rows := make([]enrich.Row, 10)
	for i := range rows {
		row := enrich.Row{}
		for p := 0; p < 30; p++ {
			row[fmt.Sprintf("pos_attr_%02d", p)] = "true"
		}
		for n := 0; n < 20; n++ {
			row[fmt.Sprintf("neg_attr_%02d", n)] = "false"
		}
		rows[i] = row
	}

	a := Analyze(rows)
	require.Len(t, a.TopAttributes, maxTotal)

	var pos, neg, selected int
	for _, attr := range a.TopAttributes {
		if attr.AttributeValue == "false" {
			neg++
		} else {
			pos++
		}
		if attr.Selected {
			selected++
		}
		assert.Equal(t, OperatorAnd, attr.Operator)
	}
	assert.Equal(t, maxPositive, pos)
	assert.Equal(t, maxNegative, neg)
	assert.Equal(t, preselectCount, selected)
}

func TestAnalyze_NegativeSplitIsExactMatch(t *testing.T) {
	t.Parallel()

	// Only the literal lowercase "false" counts as negative; any other
	// casing is an ordinary positive value.
	rows := make([]enrich.Row, 4)
	for i := range rows {
		rows[i] = enrich.Row{"homeowner": "False", "renter": "false"}
	}

	a := Analyze(rows)
	require.Len(t, a.TopAttributes, 2)
	for _, attr := range a.TopAttributes {
		switch attr.AttributeName {
		case "homeowner":
			assert.True(t, attr.Selected)
		case "renter":
			assert.False(t, attr.Selected)
		}
	}
}

func TestAnalyze_EmptyRows(t *testing.T) {
	t.Parallel()

	a := Analyze(nil)
	assert.Equal(t, 0, a.TotalProfiles)
	assert.Empty(t, a.TopAttributes)
}

func TestBuildClusterExpression(t *testing.T) {
	t.Parallel()

	selected := []Attribute{
		{ClusterName: "homeowner", AttributeValue: "true", Selected: true, Operator: OperatorAnd},
		{ClusterName: "income_band", AttributeValue: "high", Selected: true, Operator: OperatorOr},
		{ClusterName: "boater", AttributeValue: "true", Selected: true, Operator: OperatorAnd},
	}
	ids := map[string]string{
		"homeowner=true":   "c1",
		"income_band=high": "c2",
		"boater=true":      "c3",
	}

	// Each attribute's operator joins it to the next term.
	assert.Equal(t, "c1 AND c2 OR c3", BuildClusterExpression(selected, ids))
}

func TestBuildClusterExpression_SkipsUnmappedAndUnselected(t *testing.T) {
	t.Parallel()

	selected := []Attribute{
		{ClusterName: "homeowner", AttributeValue: "true", Selected: true, Operator: OperatorAnd},
		{ClusterName: "unknown", AttributeValue: "x", Selected: true, Operator: OperatorAnd},
		{ClusterName: "boater", AttributeValue: "true", Selected: false, Operator: OperatorAnd},
	}
	ids := map[string]string{
		"homeowner=true": "c1",
		"boater=true":    "c3",
	}

	assert.Equal(t, "c1", BuildClusterExpression(selected, ids))
	assert.Equal(t, "", BuildClusterExpression(selected, map[string]string{}))
	assert.Equal(t, "", BuildClusterExpression(nil, ids))
}
