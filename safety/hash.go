package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// DetailHash produces a stable hash of an action detail map so identical
// actions audit to identical hashes regardless of map iteration order.
func DetailHash(detail map[string]any) (string, error) {
	b, err := canonicalJSON(detail)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v any) ([]byte, error) {
	cv, err := canonicalizeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cv)
}

func canonicalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k)
			vv, err := canonicalizeValue(x[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vv)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, vv := range x {
			cv, err := canonicalizeValue(vv)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	case string, float64, bool, nil, int, int64, json.Number:
		return x, nil
	default:
		// Best-effort for JSON-ish values.
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("cannot canonicalize value of type %T", v)
		}
		var y any
		if err := json.Unmarshal(b, &y); err != nil {
			return nil, fmt.Errorf("cannot canonicalize value of type %T", v)
		}
		return canonicalizeValue(y)
	}
}
