// Package ids converts document-store identifiers into relational keys.
package ids

import (
	"encoding/json"
	"strings"
)

const idMarker = "/id/"

// Normalize returns the canonical key for a raw document-store identifier.
// URI-shaped values yield the path segment following "/id/" (or the last path
// segment when no marker is present); any other value is returned trimmed.
func Normalize(rawID string) string {
	trimmed := strings.TrimSpace(rawID)
	if trimmed == "" || !isURIShaped(trimmed) {
		return trimmed
	}

	path := stripQueryAndFragment(trimmed)
	if schemeEnd := strings.Index(path, "://"); schemeEnd >= 0 {
		path = path[schemeEnd+3:]
	}
	path = strings.TrimRight(path, "/")

	if markerIndex := strings.LastIndex(path, idMarker); markerIndex >= 0 {
		remainder := path[markerIndex+len(idMarker):]
		if slash := strings.Index(remainder, "/"); slash >= 0 {
			remainder = remainder[:slash]
		}
		if remainder != "" {
			return remainder
		}
	}

	if slash := strings.LastIndex(path, "/"); slash >= 0 {
		return path[slash+1:]
	}
	return ""
}

// NormalizeCreator accepts the three creator shapes seen upstream: a plain id,
// an id URI, or an embedded object carrying "@id" or "id". An empty result
// means the creator is missing.
func NormalizeCreator(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return Normalize(asString)
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return ""
	}
	for _, key := range []string{"@id", "id"} {
		value, ok := asObject[key]
		if !ok {
			continue
		}
		var nested string
		if err := json.Unmarshal(value, &nested); err != nil {
			continue
		}
		if normalized := Normalize(nested); normalized != "" {
			return normalized
		}
	}
	return ""
}

func isURIShaped(value string) bool {
	return strings.Contains(value, "://") || strings.HasPrefix(value, "/")
}

func stripQueryAndFragment(value string) string {
	if index := strings.IndexAny(value, "?#"); index >= 0 {
		return value[:index]
	}
	return value
}
