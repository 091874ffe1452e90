package transform

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// isTrue accepts only the JSON literal true.
func isTrue(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "true"
}

// isPresent reports whether a key carried any non-null value.
func isPresent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

// looseString reads a string or number field as text.
func looseString(raw json.RawMessage) string {
	if !isPresent(raw) {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String()
	}
	return ""
}

// parseTimestamp reads an ISO string or an epoch-milliseconds number.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if !isPresent(raw) {
		return time.Time{}, false
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		millis, err := asNumber.Int64()
		if err != nil || millis <= 0 {
			return time.Time{}, false
		}
		return normalizeTime(time.UnixMilli(millis)), true
	}
	return parseTimestampString(looseString(raw))
}

func parseTimestampString(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return normalizeTime(parsed), true
		}
	}
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil && millis > 0 {
		return normalizeTime(time.UnixMilli(millis)), true
	}
	return time.Time{}, false
}

// timestampOrNow parses raw, falling back to now. The second value reports
// whether the fallback was used.
func timestampOrNow(raw json.RawMessage, now time.Time) (time.Time, bool) {
	if parsed, ok := parseTimestamp(raw); ok {
		return parsed, false
	}
	return normalizeTime(now), true
}

// normalizeTime drops precision PostgreSQL cannot store so rows compare equal
// after a round trip.
func normalizeTime(value time.Time) time.Time {
	return value.UTC().Truncate(time.Microsecond)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func optionalString(raw json.RawMessage) *string {
	value := looseString(raw)
	if value == "" {
		return nil
	}
	return &value
}
