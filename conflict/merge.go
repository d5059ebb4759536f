package conflict

import (
	"reflect"
	"sort"
)

// mergeFields applies rules to client/server payloads and returns the merged
// result plus a coverage-based confidence in [0.3, 0.9] (spec §4.10). Fields
// present in the server payload but absent from rules default to
// FieldServer, since the server payload is always the merge base.
func mergeFields(rules MergeRules, client, server map[string]any, localTS, serverTS int64) (map[string]any, float64) {
	merged := make(map[string]any, len(server))
	for k, v := range server {
		merged[k] = v
	}

	fieldCount := 0
	coveredByRule := 0
	for field := range unionKeys(client, server) {
		fieldCount++
		strategy, explicit := rules.Fields[field]
		if explicit {
			coveredByRule++
		} else {
			strategy = FieldServer
		}

		switch strategy {
		case FieldClient:
			if v, ok := client[field]; ok {
				merged[field] = v
			}
		case FieldServer:
			if v, ok := server[field]; ok {
				merged[field] = v
			}
		case FieldLatestTimestamp:
			if localTS >= serverTS {
				if v, ok := client[field]; ok {
					merged[field] = v
				}
			} else if v, ok := server[field]; ok {
				merged[field] = v
			}
		case FieldArrayMerge:
			merged[field] = arrayMerge(server[field], client[field])
		case FieldCustom:
			if fn, ok := rules.Custom[field]; ok {
				merged[field] = fn(client[field], server[field])
			}
		default:
			if v, ok := server[field]; ok {
				merged[field] = v
			}
		}
	}

	confidence := 0.3
	if fieldCount > 0 {
		coverage := float64(coveredByRule) / float64(fieldCount)
		confidence = 0.3 + 0.6*coverage
	}
	return merged, confidence
}

func unionKeys(a, b map[string]any) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

// arrayMerge performs a set union of base (server) and extra (client)
// elements by deep equality, preserving base order with extra-only elements
// appended (spec §8 scenario 4: items=[y,z] ∪ [x,y] ⇒ [y,z,x]).
func arrayMerge(base, extra any) []any {
	baseSlice := toSlice(base)
	extraSlice := toSlice(extra)

	out := make([]any, 0, len(baseSlice)+len(extraSlice))
	out = append(out, baseSlice...)
	for _, e := range extraSlice {
		if !containsDeep(out, e) {
			out = append(out, e)
		}
	}
	return out
}

func toSlice(v any) []any {
	s, ok := v.([]any)
	if !ok {
		return nil
	}
	return s
}

func containsDeep(slice []any, v any) bool {
	for _, item := range slice {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

// sortedFieldNames is used by tests to assert merge coverage deterministically.
func sortedFieldNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
