package utils

import (
	"dario.cat/mergo"
)

// MergeObjects returns the recursive union of base and overlay; overlay wins
// on conflicts and nested maps are merged key by key. Used by PUT ?merge=true.
func MergeObjects(base, overlay map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	if err := mergo.Merge(&out, overlay, mergo.WithOverride); err != nil {
		return nil, err
	}
	return out, nil
}
