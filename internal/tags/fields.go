package tags

import (
	"encoding/json"
	"strconv"
)

// Report payloads arrive with inconsistent field spellings depending on
// the stream source generation. Each logical field has an ordered alias
// list; the first alias present in the payload wins.
var (
	idAliases       = []string{"ID", "id", "tagId", "tag_id"}
	xAliases        = []string{"X", "x"}
	yAliases        = []string{"Y", "y"}
	zAliases        = []string{"Z", "z"}
	sequenceAliases = []string{"Sequence", "sequence", "seq"}
	zoneAliases     = []string{"zone_id", "zoneId", "ZoneID"}
)

func stringField(raw map[string]interface{}, aliases []string) (string, bool) {
	for _, alias := range aliases {
		value, ok := raw[alias]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case int:
			return strconv.Itoa(v), true
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

func floatField(raw map[string]interface{}, aliases []string) (float64, bool) {
	for _, alias := range aliases {
		value, ok := raw[alias]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func intField(raw map[string]interface{}, aliases []string) (int64, bool) {
	if f, ok := floatField(raw, aliases); ok {
		return int64(f), true
	}
	return 0, false
}
