// Package merge implements the structural merge used to accumulate
// schedule payloads across incremental fetches. Values are decoded JSON
// (map[string]any, []any, scalars).
package merge

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"reflect"

	appLog "schedcal/internal/log"
)

// Merge combines two decoded JSON values.
//
//   - map + map: keys from existing are retained; keys from incoming are
//     inserted, recursing where both sides have the key.
//   - list + list: elements of incoming are appended only if no deeply
//     equal element is already present. First-appearance order is kept;
//     pre-existing duplicates are left alone.
//   - anything else: incoming replaces existing.
//
// The policy is deliberately asymmetric: scalars take the incoming
// value, collections only grow. Repeated merges of term fetches
// converge to the union of all lesson dates ever seen.
func Merge(existing, incoming any) any {
	switch ex := existing.(type) {
	case map[string]any:
		in, ok := incoming.(map[string]any)
		if !ok {
			return incoming
		}
		result := make(map[string]any, len(ex)+len(in))
		for k, v := range ex {
			result[k] = v
		}
		for k, newVal := range in {
			if oldVal, found := result[k]; found {
				result[k] = Merge(oldVal, newVal)
			} else {
				result[k] = newVal
			}
		}
		return result

	case []any:
		in, ok := incoming.([]any)
		if !ok {
			return incoming
		}
		result := make([]any, len(ex), len(ex)+len(in))
		copy(result, ex)
		for _, item := range in {
			if !containsDeep(result, item) {
				result = append(result, item)
			}
		}
		return result

	default:
		return incoming
	}
}

func containsDeep(list []any, item any) bool {
	for _, v := range list {
		if reflect.DeepEqual(v, item) {
			return true
		}
	}
	return false
}

// MergeFile merges incoming into the JSON document stored at path and
// writes the result back, pretty-printed.
//
// A file that exists but does not parse is treated as corrupt: the
// merge is abandoned and the file is overwritten with incoming alone.
// Any I/O failure returns false without a partial write; the caller is
// expected to fall back to an unconditional overwrite.
func MergeFile(path string, incoming any) bool {
	merged := incoming

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var existing any
		if jerr := json.Unmarshal(data, &existing); jerr != nil {
			appLog.Warn("schedule store is corrupt, overwriting", "path", path, "parse_err", jerr)
		} else {
			merged = Merge(existing, normalize(incoming))
		}
	case errors.Is(err, fs.ErrNotExist):
		// First run: nothing to merge with.
	default:
		appLog.Error("schedule store read failed", err, "path", path)
		return false
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return false
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		appLog.Error("schedule store write failed", err, "path", path)
		return false
	}
	return true
}

// normalize round-trips a value through JSON so that typed structs and
// decoded documents compare under the same representation.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
