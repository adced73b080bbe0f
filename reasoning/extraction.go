package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/xeipuuv/gojsonschema"
)

// extractionSchema is the envelope every backend's extraction output must
// match. Field values are loosely typed; conversion happens per FieldSpec.
const extractionSchema = `{
  "type": "object",
  "required": ["extracted_info"],
  "properties": {
    "extracted_info": {
      "type": "object",
      "additionalProperties": {
        "type": ["string", "number", "boolean", "array", "null"],
        "items": {"type": ["string", "number"]}
      }
    },
    "confidence": {"type": ["string", "number", "null"]},
    "notes": {"type": ["string", "null"]}
  }
}`

// Confidence levels for the model's qualitative labels.
const (
	confidenceHigh    = 0.9
	confidenceMedium  = 0.6
	confidenceLow     = 0.3
	confidenceDefault = 0.5
)

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func extractionValidator() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(extractionSchema))
	})
	return compiledSchema, schemaErr
}

// ParseExtraction decodes a model's extraction output. Malformed JSON is
// repaired before decoding, the envelope is validated against the
// extraction schema, and only values for known fields are kept.
func ParseExtraction(raw string, fields []FieldSpec) (Extraction, error) {
	body := jsonObject(raw)
	if body == "" {
		return Extraction{}, fmt.Errorf("%w: no json object in output", ErrInvalidOutput)
	}

	var envelope map[string]any
	if err := unmarshalJSON([]byte(body), &envelope); err != nil {
		return Extraction{}, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	if _, ok := envelope["extracted_info"]; !ok {
		// Some models drop the envelope and return the fields directly.
		envelope = map[string]any{"extracted_info": envelope}
	}

	schema, err := extractionValidator()
	if err != nil {
		return Extraction{}, fmt.Errorf("invalid extraction schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(envelope))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			msgs[i] = desc.String()
		}
		return Extraction{}, fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; "))
	}

	info, _ := envelope["extracted_info"].(map[string]any)
	confidence := parseConfidence(envelope["confidence"])
	notes, _ := envelope["notes"].(string)

	out := Extraction{Values: map[string]Value{}, Confidence: confidence, Notes: notes}
	for _, f := range fields {
		v, ok := convertValue(info[f.Name], f.List)
		if !ok {
			continue
		}
		v.Confidence = confidence
		out.Values[f.Name] = v
	}
	return out, nil
}

// unmarshalJSON unmarshals data into v, repairing it first when the model
// produced a syntax error.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return fmt.Errorf("repair failed: %w", rerr)
	}
	return json.Unmarshal([]byte(fixed), v)
}

// jsonObject strips code fences and prose around the outermost object.
// An unterminated object is returned as-is for repair.
func jsonObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(raw, "}")
	if end < start {
		return strings.TrimSpace(raw[start:])
	}
	return raw[start : end+1]
}

func parseConfidence(v any) float64 {
	switch c := v.(type) {
	case string:
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "high":
			return confidenceHigh
		case "medium":
			return confidenceMedium
		case "low":
			return confidenceLow
		}
	case float64:
		if c < 0 {
			return 0
		}
		if c > 1 {
			return 1
		}
		return c
	}
	return confidenceDefault
}

// placeholders are values models use for "not stated".
var placeholders = map[string]bool{
	"":        true,
	"null":    true,
	"none":    true,
	"unknown": true,
	"n/a":     true,
}

func convertValue(raw any, list bool) (Value, bool) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if placeholders[strings.ToLower(s)] {
			return Value{}, false
		}
		if list {
			return Value{List: []string{s}}, true
		}
		return Value{Text: s}, true
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if list {
			return Value{List: []string{s}}, true
		}
		return Value{Text: s}, true
	case bool:
		if list {
			return Value{}, false
		}
		if v {
			return Value{Text: "yes"}, true
		}
		return Value{Text: "no"}, true
	case []any:
		var items []string
		for _, item := range v {
			var s string
			switch it := item.(type) {
			case string:
				s = strings.TrimSpace(it)
			case float64:
				s = strconv.FormatFloat(it, 'f', -1, 64)
			}
			if !placeholders[strings.ToLower(s)] {
				items = append(items, s)
			}
		}
		if len(items) == 0 {
			return Value{}, false
		}
		if list {
			return Value{List: items}, true
		}
		return Value{Text: strings.Join(items, ", ")}, true
	}
	return Value{}, false
}
