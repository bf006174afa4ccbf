package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration is fatal and aborts startup.
	KindConfiguration
	// KindInput is a caller mistake, such as a missing directory.
	KindInput
	// KindBackendUnavailable means a stage backend could not serve the call.
	KindBackendUnavailable
	// KindTimeout means a stage exceeded its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindInput:
		return "input error"
	case KindBackendUnavailable:
		return "backend unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// Stage names the pipeline step that failed.
type Stage string

const (
	StageConfig     Stage = "config"
	StageChunking   Stage = "chunking"
	StageIngest     Stage = "ingest"
	StageEmbedding  Stage = "embedding"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
)

// Cause refines KindBackendUnavailable for remote stages.
type Cause int

const (
	CauseNone Cause = iota
	// CauseUnreachable means no connection could be made to the service.
	CauseUnreachable
	// CauseInternal means the service answered with an internal failure.
	CauseInternal
)

func (c Cause) String() string {
	switch c {
	case CauseUnreachable:
		return "unreachable"
	case CauseInternal:
		return "internal"
	default:
		return ""
	}
}

// Error is the single error type reported across stage boundaries.
type Error struct {
	Kind  Kind
	Stage Stage
	Cause Cause
	Op    string
	Err   error
}

// Sentinels for errors.Is. A sentinel matches any *Error whose non-zero
// fields equal the sentinel's.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrInput              = &Error{Kind: KindInput}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrUnreachable        = &Error{Kind: KindBackendUnavailable, Cause: CauseUnreachable}
	ErrInternal           = &Error{Kind: KindBackendUnavailable, Cause: CauseInternal}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Cause != CauseNone {
		fmt.Fprintf(&b, " (%s)", e.Cause)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches e against sentinel-shaped targets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != KindUnknown && t.Kind != e.Kind {
		return false
	}
	if t.Stage != "" && t.Stage != e.Stage {
		return false
	}
	if t.Cause != CauseNone && t.Cause != e.Cause {
		return false
	}
	return t.Kind != KindUnknown || t.Stage != "" || t.Cause != CauseNone
}

// Configf returns a configuration error.
func Configf(stage Stage, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Inputf returns an input error.
func Inputf(stage Stage, format string, args ...any) error {
	return &Error{Kind: KindInput, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Unavailable wraps err as a backend failure of stage.
func Unavailable(stage Stage, op string, err error) error {
	return &Error{Kind: KindBackendUnavailable, Stage: stage, Op: op, Err: err}
}

// Classify wraps a backend error for stage. Errors already carrying a Kind
// are returned unchanged; deadline errors become KindTimeout and everything
// else becomes KindBackendUnavailable.
func Classify(stage Stage, op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Stage: stage, Op: op, Err: err}
	}
	return &Error{Kind: KindBackendUnavailable, Stage: stage, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// StageOf returns the Stage carried by err, or "".
func StageOf(err error) Stage {
	var re *Error
	if errors.As(err, &re) {
		return re.Stage
	}
	return ""
}
