package walletfleet

import (
	"strconv"
	"strings"
)

// ElapsedExtractor reads the server-reported elapsed time from a decoded
// JSON payload.
//
// The payload is whatever encoding/json produced when decoding into an
// empty interface (maps, slices, float64, string, bool, nil). ok is false
// when the payload carries no usable number; the loop then leaves the
// wallet's cumulative server time unchanged.
type ElapsedExtractor func(payload any) (value float64, ok bool)

// JSONNumberField returns an [ElapsedExtractor] that reads a numeric field
// using dot notation to navigate nested objects.
//
// For example, "data.totalTime" reads {"data": {"totalTime": 12.5}}.
// Numeric strings such as "12.5" are accepted; anything else yields ok=false.
//
// Example:
//
//	fleet, err := walletfleet.New(
//	    ...,
//	    walletfleet.WithElapsedExtractor(walletfleet.JSONNumberField("elapsedMs")),
//	)
func JSONNumberField(path string) ElapsedExtractor {
	parts := strings.Split(path, ".")

	return func(payload any) (float64, bool) {
		value, ok := walkJSONPath(payload, parts)
		if !ok {
			return 0, false
		}
		return toNumber(value)
	}
}

// walkJSONPath walks a decoded JSON structure using dot notation parts.
func walkJSONPath(data any, parts []string) (any, bool) {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FirstNumber returns an [ElapsedExtractor] that tries multiple extractors
// in order, returning the first one that finds a number.
//
// Example:
//
//	extractor := walletfleet.FirstNumber(
//	    walletfleet.JSONNumberField("data.totalTime"),
//	    walletfleet.JSONNumberField("elapsedMs"),
//	)
func FirstNumber(extractors ...ElapsedExtractor) ElapsedExtractor {
	return func(payload any) (float64, bool) {
		for _, extractor := range extractors {
			if v, ok := extractor(payload); ok {
				return v, true
			}
		}
		return 0, false
	}
}

// DefaultElapsedExtractor is used when no extractor is configured.
//
// It reads "data.totalTime" (the bandwidth service's field), then falls back
// to a top-level "elapsedMs".
var DefaultElapsedExtractor = FirstNumber(
	JSONNumberField("data.totalTime"),
	JSONNumberField("elapsedMs"),
)
