package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultResponseFormat is applied when the caller does not pick one.
const DefaultResponseFormat = "b64_json"

// DefaultModelMap rewrites public model aliases to upstream model ids.
// Unmapped names pass through unchanged.
var DefaultModelMap = map[string]string{
	"imagen-4":       "imagen-4.0-generate-preview-06-06",
	"imagen-4-ultra": "imagen-4.0-ultra-generate-preview-06-06",
	"imagen-4-fast":  "imagen-4.0-fast-generate-001",
	"imagen-3":       "imagen-3.0-generate-002",
}

// unsupportedFields are dropped before forwarding.
var unsupportedFields = []string{"seed"}

// ErrDuplicateField reports a top-level key that appears more than once.
// Parsers disagree on which occurrence wins, so such bodies are refused.
var ErrDuplicateField = errors.New("duplicate field in request body")

// Translation describes what Translate changed.
type Translation struct {
	Model         string
	UpstreamModel string
	Dropped       []string
}

// DuplicateField returns the first top-level key of body that occurs twice.
func DuplicateField(body []byte) (string, bool) {
	seen := make(map[string]struct{})
	var (
		dup   string
		found bool
	)
	gjson.ParseBytes(body).ForEach(func(key, _ gjson.Result) bool {
		name := key.String()
		if _, ok := seen[name]; ok {
			dup, found = name, true
			return false
		}
		seen[name] = struct{}{}
		return true
	})
	return dup, found
}

// Translate returns a rewritten copy of body. The input is not modified.
// Keys are compared after unescaping, so "se\u0065d" is dropped like "seed".
func Translate(body []byte, models map[string]string) ([]byte, Translation, error) {
	var tr Translation
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, tr, fmt.Errorf("request body is not a JSON object")
	}
	if name, ok := DuplicateField(body); ok {
		return nil, tr, fmt.Errorf("%w: %q", ErrDuplicateField, name)
	}

	var (
		buf       bytes.Buffer
		hasFormat bool
		err       error
	)
	buf.Grow(len(body) + 32)
	buf.WriteByte('{')
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if slices.Contains(unsupportedFields, name) {
			tr.Dropped = append(tr.Dropped, name)
			return true
		}

		raw := value.Raw
		switch name {
		case "model":
			tr.Model = value.String()
			tr.UpstreamModel = tr.Model
			if mapped, ok := models[tr.Model]; ok && value.Type == gjson.String {
				tr.UpstreamModel = mapped
				raw = jsonString(mapped)
			}
		case "response_format":
			if value.Type == gjson.Null {
				raw = jsonString(DefaultResponseFormat)
			}
			hasFormat = true
		}

		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.WriteString(key.Raw)
		buf.WriteByte(':')
		buf.WriteString(raw)
		return true
	})
	buf.WriteByte('}')

	out := buf.Bytes()
	if !hasFormat {
		if out, err = sjson.SetBytes(out, "response_format", DefaultResponseFormat); err != nil {
			return nil, tr, fmt.Errorf("default response_format: %w", err)
		}
	}
	return out, tr, nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// MergeModelMaps returns base overlaid with overrides.
func MergeModelMaps(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
