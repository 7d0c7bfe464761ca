package enrich

import "strings"

// PersonIDColumn is the synthetic column set on rows that resolve.
const PersonIDColumn = "person_id"

// mergeRows joins profile data back onto the original rows. Output row i
// always corresponds to input row i. Profile fields never overwrite a
// non-empty original column; rows that resolve gain the person_id column.
func mergeRows(
	rows []Row,
	fields DetectedFields,
	ids map[string]string,
	profiles map[string]map[string]string,
) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		pid := rowPersonID(row, fields, ids)
		profile := profiles[pid]
		if pid == "" || profile == nil {
			out[i] = row
			continue
		}
		out[i] = mergeRow(row, pid, profile)
	}
	return out
}

// rowPersonID finds the row's person id: the explicit person-id column wins,
// then the first identifier-map hit in fixed kind precedence (phone, email,
// address).
func rowPersonID(row Row, fields DetectedFields, ids map[string]string) string {
	for _, col := range fields.PersonIDs {
		// Person ids are opaque and case-sensitive; trim only.
		if raw := strings.TrimSpace(row[col]); raw != "" {
			return raw
		}
	}
	for _, cols := range [][]string{fields.Phones, fields.Emails, fields.Addresses} {
		for _, col := range cols {
			norm := Normalize(row[col])
			if norm == "" {
				continue
			}
			if pid, ok := ids[norm]; ok {
				return pid
			}
		}
	}
	return ""
}

// mergeRow builds a fresh enriched row. The original columns are applied
// first and win over profile fields of the same name unless empty.
func mergeRow(row Row, pid string, profile map[string]string) Row {
	merged := make(Row, len(row)+len(profile)+1)
	for k, v := range row {
		merged[k] = v
	}
	for k, v := range profile {
		if existing, ok := merged[k]; ok && existing != "" {
			continue
		}
		merged[k] = v
	}
	merged[PersonIDColumn] = pid
	return merged
}
