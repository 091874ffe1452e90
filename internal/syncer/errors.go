package syncer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("sync run already in progress")

	errMissingDocuments = errors.New("document store is required")
	errMissingNotes     = errors.New("note store is required")
	errMissingUsers     = errors.New("user directory is required")
	errMissingCursor    = errors.New("cursor store is required")
	errMissingMappings  = errors.New("mapping store is required")
	errMissingExecutor  = errors.New("executor is required")
	errUnknownDirection = errors.New("unknown sync direction")
	noOpLogger          = zap.NewNop()
)

// ServiceError carries an "<operation>.<reason>" code for sync failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opForwardNew      = "syncer.forward.new"
	opReverseNew      = "syncer.reverse.new"
	opOrchestratorNew = "syncer.orchestrator.new"
	opForwardNotes    = "syncer.forward.notes"
	opForwardComments = "syncer.forward.comments"
	opReverseNotes    = "syncer.reverse.notes"
	opReverseComments = "syncer.reverse.comments"
	opRun             = "syncer.run"

	reasonMissingDependency = "missing_dependency"
	reasonCursorRead        = "cursor_read_failed"
	reasonCursorWrite       = "cursor_write_failed"
	reasonQueryFailed       = "query_failed"
	reasonEnsureTables      = "ensure_tables_failed"
	reasonPreflight         = "preflight_failed"
	reasonInterrupted       = "interrupted"
	reasonUnknownDirection  = "unknown_direction"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("sync error", attrs...)
}
