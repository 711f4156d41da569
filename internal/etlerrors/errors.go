// Package etlerrors defines the typed error taxonomy shared across pipeline
// phases (spec §7). Every error carries the phase it occurred in, a
// human-readable message, an optional wrapped cause, and whether it is
// fatal to the phase.
package etlerrors

import "fmt"

// Phase identifies which pipeline phase an error occurred in.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseExtract   Phase = "extract"
	PhaseTransform Phase = "transform"
	PhaseLoad      Phase = "load"
	PhaseStreaming Phase = "streaming"
)

type kind string

const (
	kindExtraction     kind = "ExtractionError"
	kindTransformation kind = "TransformationError"
	kindLoad           kind = "LoadError"
	kindValidation     kind = "ValidationError"
	kindCheckpoint     kind = "CheckpointError"
	kindCancelled      kind = "CancelledError"
	kindInvalidState   kind = "InvalidStateError"
	kindAmbiguous      kind = "AmbiguousArchiveError"
)

// PipelineError is the common shape for every typed error in this package.
type PipelineError struct {
	kind    kind
	Phase   Phase
	Message string
	Cause   error
	Fatal   bool
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.kind, e.Phase, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.kind, e.Phase, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// IsFatal reports whether the error should stop the owning phase.
func (e *PipelineError) IsFatal() bool { return e.Fatal }

func newErr(k kind, phase Phase, fatal bool, msg string, cause error) *PipelineError {
	return &PipelineError{kind: k, Phase: phase, Message: msg, Cause: cause, Fatal: fatal}
}

// NewExtractionError reports malformed input or I/O failure during extraction.
// Extraction errors are always fatal per spec §4.3.
func NewExtractionError(phase Phase, msg string, cause error) *PipelineError {
	return newErr(kindExtraction, phase, true, msg, cause)
}

// NewTransformationError reports a per-message or per-conversation failure.
// Non-fatal by default per spec §4.4; pass fatal=true for the top-level
// result-construction failure case.
func NewTransformationError(phase Phase, msg string, cause error, fatal bool) *PipelineError {
	return newErr(kindTransformation, phase, fatal, msg, cause)
}

// NewLoadError reports a database constraint or connectivity failure.
func NewLoadError(phase Phase, msg string, cause error, fatal bool) *PipelineError {
	return newErr(kindLoad, phase, fatal, msg, cause)
}

// NewValidationError reports a contract violation at a component boundary.
func NewValidationError(phase Phase, msg string) *PipelineError {
	return newErr(kindValidation, phase, true, msg, nil)
}

// NewCheckpointError reports a checkpoint serialize/deserialize failure.
func NewCheckpointError(phase Phase, msg string, cause error) *PipelineError {
	return newErr(kindCheckpoint, phase, true, msg, cause)
}

// NewCancelledError reports that the orchestrator stopped a phase on request.
func NewCancelledError(phase Phase) *PipelineError {
	return newErr(kindCancelled, phase, true, "operation cancelled", nil)
}

// NewInvalidStateError reports a Context contract violation, e.g. starting a
// phase while one is already active.
func NewInvalidStateError(phase Phase, msg string) *PipelineError {
	return newErr(kindInvalidState, phase, true, msg, nil)
}

// NewAmbiguousArchiveError reports a TAR archive with multiple JSON entries
// when FileReader was asked not to auto-select.
func NewAmbiguousArchiveError(msg string) *PipelineError {
	return newErr(kindAmbiguous, PhaseExtract, true, msg, nil)
}

// isKind reports whether err is itself a *PipelineError of the given kind.
// It does not unwrap err. The exported IsXxx helpers below wrap it so callers
// can branch on the kind without seeing the unexported kind type.
func isKind(err error, k kind) bool {
	pe, ok := err.(*PipelineError)
	return ok && pe.kind == k
}

func IsExtraction(err error) bool   { return isKind(err, kindExtraction) }
func IsTransformation(err error) bool { return isKind(err, kindTransformation) }
func IsLoad(err error) bool         { return isKind(err, kindLoad) }
func IsValidation(err error) bool   { return isKind(err, kindValidation) }
func IsCheckpoint(err error) bool   { return isKind(err, kindCheckpoint) }
func IsCancelled(err error) bool    { return isKind(err, kindCancelled) }
func IsInvalidState(err error) bool { return isKind(err, kindInvalidState) }
func IsAmbiguousArchive(err error) bool { return isKind(err, kindAmbiguous) }
