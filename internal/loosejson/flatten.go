package loosejson

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Flatten converts an arbitrarily nested decoded value into a flat
// string-keyed record. Nested objects flatten to parent_child keys. A nested
// object carrying a "value" key is treated as a leaf with metadata: its value
// becomes the flattened scalar, and a sibling parent_child_cluster_id entry is
// emitted when the object also carries a cluster_id. Arrays join with ", ".
// Nil values become the empty string.
func Flatten(v any) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", v)
	return out
}

func flattenInto(out map[string]string, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		// Nested leaf-with-metadata shape: {"value": ..., "cluster_id": ...}.
		// Only applies below the top level; a root object keeps its keys.
		if inner, ok := val["value"]; ok && prefix != "" {
			out[prefix] = Scalar(inner)
			if cid, ok := val["cluster_id"]; ok {
				out[prefix+"_cluster_id"] = Scalar(cid)
			}
			return
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			flattenInto(out, key, val[k])
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, Scalar(item))
		}
		out[prefix] = strings.Join(parts, ", ")
	default:
		if prefix != "" {
			out[prefix] = Scalar(v)
		}
	}
}

// Scalar renders a decoded JSON value as a display string. Nil becomes "".
func Scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		// JSON numbers decode to float64; render integers without a mantissa.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, Scalar(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", val)
	}
}
