// Package jsonutil provides helper functions for extracting typed values
// from unstructured JSON maps (map[string]any).
package jsonutil

import "encoding/json"

// IntFromAny converts various numeric types to int.
func IntFromAny(value any) int {
	switch num := value.(type) {
	case float64:
		return int(num)
	case int:
		return num
	case int64:
		return int(num)
	case json.Number:
		i, _ := num.Int64()
		return int(i)
	default:
		return 0
	}
}

// StringFromAny safely converts any value to string.
func StringFromAny(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// IntFromMap extracts an int from a map by key.
func IntFromMap(data map[string]any, key string) int {
	if v, ok := data[key]; ok {
		return IntFromAny(v)
	}
	return 0
}

// StringFromMap extracts a string from a map by key.
func StringFromMap(data map[string]any, key string) string {
	if v, ok := data[key]; ok {
		return StringFromAny(v)
	}
	return ""
}

// MapFromMap extracts a nested object from a map by key.
func MapFromMap(data map[string]any, key string) map[string]any {
	if v, ok := data[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// SliceFromMap extracts an array from a map by key.
func SliceFromMap(data map[string]any, key string) []any {
	if v, ok := data[key]; ok {
		if s, ok := v.([]any); ok {
			return s
		}
	}
	return nil
}
