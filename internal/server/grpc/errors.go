package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/golemcloud/golem-sub031/internal/component"
	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/shard"
	"github.com/golemcloud/golem-sub031/internal/trap"
	"github.com/golemcloud/golem-sub031/internal/worker"
)

// Status converts err to a gRPC status error. Callers can tell where to
// retry from the code: FailedPrecondition means another executor owns the
// worker, Unavailable means retry later and Aborted means the worker is
// permanently broken.
func Status(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// Code classifies err.
func Code(err error) codes.Code {
	var invalidShard *shard.InvalidShardIDError
	var interrupted *trap.InterruptedError
	switch {
	case errors.As(err, &invalidShard):
		return codes.FailedPrecondition
	case errors.Is(err, worker.ErrNotFound),
		errors.Is(err, component.ErrNotFound),
		errors.Is(err, oplog.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, worker.ErrAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, executor.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidWorkerID),
		errors.Is(err, worker.ErrInvalidJump):
		return codes.InvalidArgument
	case errors.Is(err, worker.ErrNotRunning):
		return codes.FailedPrecondition
	case worker.IsFailed(err),
		errors.Is(err, worker.ErrWorkerExited),
		durability.IsDivergence(err),
		errors.As(err, &interrupted):
		return codes.Aborted
	case errors.Is(err, worker.ErrStopped),
		errors.Is(err, worker.ErrRegistryFull):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		var prog *trap.ProgramError
		if errors.As(err, &prog) {
			return codes.Aborted
		}
		return codes.Internal
	}
}
