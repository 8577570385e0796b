package screenshot

import (
	"encoding/json"
	"math"

	"desktop-commander/src/apperr"
)

var regionKeys = []string{"x", "y", "width", "height"}

// ParseRegion decodes a {x, y, width, height} object. A nil or JSON null input
// yields a nil region (full screen).
func ParseRegion(raw json.RawMessage) (*Region, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, apperr.Invalid("region", "region must have keys: x, y, width, height")
	}

	values := make([]int, len(regionKeys))
	for i, key := range regionKeys {
		v, ok := fields[key]
		if !ok {
			return nil, apperr.Invalid("region", "region must have keys: x, y, width, height")
		}
		n, ok := toInt(v)
		if !ok {
			return nil, apperr.Invalid("region", "region %s must be numeric, got %v", key, v)
		}
		values[i] = n
	}

	region := &Region{X: values[0], Y: values[1], Width: values[2], Height: values[3]}
	if region.Width <= 0 || region.Height <= 0 {
		return nil, apperr.Invalid("region", "invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}
	return region, nil
}

// toInt accepts JSON numbers and numeric strings, truncating fractions.
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case string:
		var f float64
		if err := json.Unmarshal([]byte(n), &f); err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}
