// Package transform maps loosely typed document-store records onto relational
// rows and back. Every function here is pure: expected shape variance yields a
// skipped Result, never an error.
package transform

// SkipReason explains why a document was not written.
type SkipReason string

const (
	SkipMalformed      SkipReason = "malformed_document"
	SkipArchived       SkipReason = "archived"
	SkipMissingID      SkipReason = "missing_id"
	SkipMissingCreator SkipReason = "missing_creator"
	SkipMissingAuthor  SkipReason = "missing_author"
	SkipMissingNote    SkipReason = "missing_note"
)

// Result is either a transformed row or a skip with its reason.
type Result[T any] struct {
	Row    T
	Reason SkipReason
	Detail string
}

// Skipped reports whether the document produced no row.
func (r Result[T]) Skipped() bool {
	return r.Reason != ""
}

func accept[T any](row T) Result[T] {
	return Result[T]{Row: row}
}

func skip[T any](reason SkipReason, detail string) Result[T] {
	return Result[T]{Reason: reason, Detail: detail}
}
