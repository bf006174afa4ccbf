package rpc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

const errorDomain = "ragpipe"

// Reasons carried in errdetails.ErrorInfo.
const (
	reasonConfiguration = "CONFIGURATION"
	reasonInput         = "INPUT"
	reasonUnavailable   = "BACKEND_UNAVAILABLE"
	reasonTimeout       = "TIMEOUT"
	reasonUnknown       = "UNKNOWN"
)

func codeFor(k rag.Kind) (codes.Code, string) {
	switch k {
	case rag.KindInput:
		return codes.InvalidArgument, reasonInput
	case rag.KindConfiguration:
		return codes.FailedPrecondition, reasonConfiguration
	case rag.KindTimeout:
		return codes.DeadlineExceeded, reasonTimeout
	case rag.KindBackendUnavailable:
		return codes.Unavailable, reasonUnavailable
	default:
		return codes.Internal, reasonUnknown
	}
}

// toStatus converts a handler error into a gRPC status error. Pipeline
// errors keep their stage in an ErrorInfo detail so the caller can tell a
// failing service from an unreachable one.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var re *rag.Error
	if errors.As(err, &re) {
		code, reason := codeFor(re.Kind)
		st := status.New(code, err.Error())
		md := map[string]string{"stage": string(re.Stage)}
		if re.Op != "" {
			md["op"] = re.Op
		}
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
			Reason:   reason,
			Domain:   errorDomain,
			Metadata: md,
		}); derr == nil {
			st = detailed
		}
		return st.Err()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

func errorInfo(st *status.Status) *errdetails.ErrorInfo {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == errorDomain {
			return info
		}
	}
	return nil
}

// fromStatus maps a call error back to a *rag.Error for stage. An
// Unavailable status without ragpipe details was produced by the transport
// and means the service could not be reached.
func fromStatus(stage rag.Stage, op string, err error) error {
	if err == nil {
		return nil
	}
	var re *rag.Error
	if errors.As(err, &re) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return rag.Classify(stage, op, err)
	}
	info := errorInfo(st)
	if info != nil && info.GetMetadata()["stage"] != "" {
		stage = rag.Stage(info.GetMetadata()["stage"])
	}

	e := &rag.Error{Stage: stage, Op: op, Err: err}
	switch st.Code() {
	case codes.InvalidArgument:
		e.Kind = rag.KindInput
	case codes.FailedPrecondition:
		e.Kind = rag.KindConfiguration
	case codes.DeadlineExceeded:
		e.Kind = rag.KindTimeout
	case codes.Unavailable:
		e.Kind = rag.KindBackendUnavailable
		e.Cause = rag.CauseUnreachable
		if info != nil {
			e.Cause = rag.CauseInternal
		}
	default:
		e.Kind = rag.KindBackendUnavailable
		e.Cause = rag.CauseInternal
	}
	return e
}
