package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobToLike(t *testing.T) {
	assert.Equal(t, "app%", GlobToLike("app*"))
	assert.Equal(t, "%prd%", GlobToLike("*prd*"))
	assert.Equal(t, "app%", GlobToLike("app"))
	assert.Equal(t, "a%b", GlobToLike("a*b"))
	assert.Equal(t, "%", GlobToLike(""))
}

func TestMergeObjects(t *testing.T) {
	base := map[string]interface{}{
		"name":   "app1",
		"status": "old",
		"address": map[string]interface{}{
			"host": "10.0.0.1",
			"port": "8080",
		},
	}
	overlay := map[string]interface{}{
		"status": "ok",
		"address": map[string]interface{}{
			"port": "9090",
		},
	}

	merged, err := MergeObjects(base, overlay)
	require.NoError(t, err)

	assert.Equal(t, "app1", merged["name"])
	assert.Equal(t, "ok", merged["status"])
	addr := merged["address"].(map[string]interface{})
	assert.Equal(t, "10.0.0.1", addr["host"])
	assert.Equal(t, "9090", addr["port"])

	// the base map itself is not replaced
	assert.Equal(t, "old", base["status"])
}

func TestMergeObjectsEmpty(t *testing.T) {
	merged, err := MergeObjects(map[string]interface{}{}, map[string]interface{}{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, merged["a"])

	merged, err = MergeObjects(map[string]interface{}{"a": 1}, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, merged["a"])
}
