package icp

import "strings"

// BuildClusterExpression compiles the selected attributes into a boolean
// expression over external cluster ids. Each attribute maps through a
// "clusterName=value" key; each term joins to the next with its own
// attribute's operator. Attributes without a known cluster id are skipped;
// the result is "" when nothing maps.
func BuildClusterExpression(selected []Attribute, clusterIDs map[string]string) string {
	type term struct {
		id string
		op string
	}

	var terms []term
	for _, attr := range selected {
		if !attr.Selected {
			continue
		}
		key := attr.ClusterName + "=" + attr.AttributeValue
		id, ok := clusterIDs[key]
		if !ok || id == "" {
			continue
		}
		op := attr.Operator
		if op != OperatorOr {
			op = OperatorAnd
		}
		terms = append(terms, term{id: id, op: op})
	}
	if len(terms) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, t := range terms {
		if i > 0 {
			sb.WriteString(" ")
			sb.WriteString(terms[i-1].op)
			sb.WriteString(" ")
		}
		sb.WriteString(t.id)
	}
	return sb.String()
}
