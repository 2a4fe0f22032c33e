package fingerprint

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestComputeKnownValue(t *testing.T) {
	fp, err := Compute(map[string]interface{}{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "ecf9e98ec0641e23113ff3ce8bdc78d0ddd249886517fd4a7f68cc83d4e65667", fp)

	fp, err = Compute(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a", fp)
}

func TestComputeKeyOrderIndependent(t *testing.T) {
	first, err := Compute(json.RawMessage(`{"b": 1, "a": {"d": [1, 2], "c": "x"}, "e": null}`))
	require.NoError(t, err)
	second, err := Compute(json.RawMessage(`{"e":null,"a":{"c":"x","d":[1,2]},"b":1}`))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Regexp(t, hexDigest, first)
}

func TestComputeStructAndMapAgree(t *testing.T) {
	type params struct {
		Origin string `json:"origin"`
		Debug  bool   `json:"debug"`
		Count  int    `json:"count"`
	}

	fromStruct, err := Compute(params{Origin: "https://github.com/thoth-station", Debug: true, Count: 3})
	require.NoError(t, err)
	fromMap, err := Compute(map[string]interface{}{"count": 3, "debug": true, "origin": "https://github.com/thoth-station"})
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
}

func TestComputeDistinguishesValues(t *testing.T) {
	corpus := []interface{}{
		map[string]interface{}{"image": "fedora:32"},
		map[string]interface{}{"image": "fedora:33"},
		map[string]interface{}{"image": "fedora:33", "debug": true},
		map[string]interface{}{"image": "fedora:33", "debug": false},
		map[string]interface{}{"image": "fedora:33", "registry_user": "a", "registry_password": "b"},
		map[string]interface{}{"image": "fedora:33", "registry_user": "a", "registry_password": "c"},
		map[string]interface{}{"count": 1},
		map[string]interface{}{"count": "1"},
		[]interface{}{1, 2},
		[]interface{}{2, 1},
	}

	seen := map[string]int{}
	for i, parameters := range corpus {
		fp, err := Compute(parameters)
		require.NoError(t, err)
		if previous, ok := seen[fp]; ok {
			t.Fatalf("entries %d and %d collide on %s", previous, i, fp)
		}
		seen[fp] = i
	}
}

func TestComputeStable(t *testing.T) {
	parameters := map[string]interface{}{
		"requirements": map[string]interface{}{"packages": map[string]interface{}{"flask": "*", "tensorflow": "==2.0"}},
		"origin":       "local",
	}
	expected, err := Compute(parameters)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		fp, err := Compute(parameters)
		require.NoError(t, err)
		assert.Equal(t, expected, fp)
	}
}

func TestComputeUnserializable(t *testing.T) {
	_, err := Compute(map[string]interface{}{"fn": func() {}})
	assert.Error(t, err)
}

func TestWithContent(t *testing.T) {
	fp, err := Compute(map[string]interface{}{"debug": false})
	require.NoError(t, err)

	first := WithContent("sha256:aaaa", fp)
	second := WithContent("sha256:bbbb", fp)

	assert.Equal(t, "sha256:aaaa+"+fp, first)
	assert.NotEqual(t, first, second)
}
