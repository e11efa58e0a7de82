package metadata

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mohammed-shakir/estate-geolayers/internal/geojson"
)

// SampleSize is how many leading features feed the schema.
const SampleSize = 10

// Field describes one property key.
type Field struct {
	Type     string `json:"type"`
	Sample   any    `json:"sample"`
	Nullable bool   `json:"nullable"`
}

// Schema maps property names to their inferred description.
type Schema map[string]Field

var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// SchemaOf samples the first SampleSize features (or a bare feature's own
// properties). The first value seen for a key fixes its type; any null
// seen for that key within the sample marks it nullable.
func SchemaOf(obj geojson.Object) Schema {
	var sample []map[string]any
	switch o := obj.(type) {
	case *geojson.FeatureCollection:
		for i, f := range o.Features {
			if i == SampleSize {
				break
			}
			sample = append(sample, f.Properties)
		}
	case *geojson.Feature:
		sample = append(sample, o.Properties)
	}

	schema := Schema{}
	for _, props := range sample {
		for k, v := range props {
			f, seen := schema[k]
			if !seen {
				schema[k] = Field{Type: ValueType(v), Sample: v, Nullable: v == nil}
				continue
			}
			if v == nil && !f.Nullable {
				f.Nullable = true
				schema[k] = f
			}
		}
	}
	return schema
}

// ValueType classifies a decoded JSON value as null, boolean, integer,
// float, string, date, array or object.
func ValueType(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number:
		if strings.ContainsAny(string(t), ".eE") {
			return "float"
		}
		return "integer"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	case float32, float64:
		return "float"
	case string:
		if datePrefix.MatchString(t) {
			return "date"
		}
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "string"
}
