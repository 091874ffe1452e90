package rerum

const (
	// TypeNote is the document type used for notes.
	TypeNote = "message"
	// TypeComment is the document type used for comments.
	TypeComment = "comment"
)

// LatestVersionsFilter restricts a query to the newest version of each
// document of the given type.
func LatestVersionsFilter(documentType string) map[string]any {
	return map[string]any{
		"type":                 documentType,
		"__rerum.history.next": map[string]any{"$exists": true, "$size": 0},
	}
}
