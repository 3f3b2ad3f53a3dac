package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestTranslateRewritesModelAndDefaultsFormat(t *testing.T) {
	in := []byte(`{"model":"imagen-4","prompt":"a cat"}`)

	out, tr, err := Translate(in, DefaultModelMap)
	require.NoError(t, err)

	assert.Equal(t, "imagen-4.0-generate-preview-06-06", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "b64_json", gjson.GetBytes(out, "response_format").String())
	assert.Equal(t, "a cat", gjson.GetBytes(out, "prompt").String())
	assert.Equal(t, "imagen-4", tr.Model)
	assert.Equal(t, "imagen-4.0-generate-preview-06-06", tr.UpstreamModel)
	assert.Equal(t, `{"model":"imagen-4","prompt":"a cat"}`, string(in), "input must not be modified")
}

func TestTranslateDropsSeed(t *testing.T) {
	in := []byte(`{"model":"imagen-3","prompt":"a dog","seed":42,"n":2,"size":"1024x1024"}`)

	out, tr, err := Translate(in, DefaultModelMap)
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(out, "seed").Exists())
	assert.Equal(t, []string{"seed"}, tr.Dropped)
	assert.Equal(t, int64(2), gjson.GetBytes(out, "n").Int())
	assert.Equal(t, "1024x1024", gjson.GetBytes(out, "size").String())
}

func TestTranslateKeepsCallerChoices(t *testing.T) {
	in := []byte(`{"model":"custom-model","prompt":"x","response_format":"url"}`)

	out, tr, err := Translate(in, DefaultModelMap)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "url", gjson.GetBytes(out, "response_format").String())
	assert.Empty(t, tr.Dropped)
}

func TestTranslateNullResponseFormatIsDefaulted(t *testing.T) {
	out, _, err := Translate([]byte(`{"model":"m","prompt":"x","response_format":null}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "b64_json", gjson.GetBytes(out, "response_format").String())
}

func TestTranslateRejectsNonObject(t *testing.T) {
	for _, body := range []string{`[]`, `"text"`, `{"model":`, ``} {
		_, _, err := Translate([]byte(body), DefaultModelMap)
		assert.Error(t, err, "body %q", body)
	}
}

func TestMergeModelMaps(t *testing.T) {
	merged := MergeModelMaps(DefaultModelMap, map[string]string{"imagen-4": "override", "new": "target"})

	assert.Equal(t, "override", merged["imagen-4"])
	assert.Equal(t, "target", merged["new"])
	assert.Equal(t, DefaultModelMap["imagen-3"], merged["imagen-3"])
	assert.Equal(t, "imagen-4.0-generate-preview-06-06", DefaultModelMap["imagen-4"], "base must not be modified")
}

func TestTranslateDropsEscapedSeedKey(t *testing.T) {
	out, tr, err := Translate([]byte(`{"model":"imagen-4","prompt":"a","se\u0065d":7}`), DefaultModelMap)
	require.NoError(t, err)

	assert.Equal(t, []string{"seed"}, tr.Dropped)
	assert.NotContains(t, string(out), "se\\u0065d")
	assert.False(t, gjson.GetBytes(out, "seed").Exists())
}

func TestTranslateRejectsDuplicateFields(t *testing.T) {
	for _, body := range []string{
		`{"model":"imagen-4","prompt":"a","seed":1,"seed":2}`,
		`{"model":"x","model":"imagen-4","prompt":"a"}`,
		`{"model":"imagen-4","prompt":"a","model":"x"}`,
	} {
		_, _, err := Translate([]byte(body), DefaultModelMap)
		require.Error(t, err, "body %s", body)
		assert.ErrorIs(t, err, ErrDuplicateField)
	}
}

func TestDuplicateField(t *testing.T) {
	name, ok := DuplicateField([]byte(`{"a":1,"b":{"a":2},"c":3,"b":4}`))
	assert.True(t, ok)
	assert.Equal(t, "b", name)

	_, ok = DuplicateField([]byte(`{"a":1,"b":{"a":2,"a":3}}`))
	assert.False(t, ok, "nested objects are forwarded untouched")
}

func TestTranslatePreservesNestedValues(t *testing.T) {
	in := []byte(`{"model": "imagen-4", "prompt": "a \"quoted\" cat", "extra": {"k": [1, 2]}}`)

	out, _, err := Translate(in, DefaultModelMap)
	require.NoError(t, err)

	assert.True(t, gjson.ValidBytes(out))
	assert.Equal(t, `a "quoted" cat`, gjson.GetBytes(out, "prompt").String())
	assert.Equal(t, int64(2), gjson.GetBytes(out, "extra.k.1").Int())
	assert.Equal(t, "imagen-4.0-generate-preview-06-06", gjson.GetBytes(out, "model").String())
}
