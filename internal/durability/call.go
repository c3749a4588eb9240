package durability

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

// result is the recorded response of a durable operation.
type result struct {
	Ok  json.RawMessage `json:"ok,omitempty"`
	Err *string         `json:"err,omitempty"`
}

// Call runs fn as the durable operation function. Live, fn is executed with
// nested recording suppressed and its outcome is appended to the oplog.
// During replay fn is not executed; the recorded outcome is returned.
// Operations the current persistence level does not record always run fn.
func Call[Req, Resp any](ctx context.Context, e *Execution, function string, ft oplog.FunctionType, req Req, fn func(context.Context, Req) (Resp, error)) (Resp, error) {
	var zero Resp
	raw, err := call(ctx, e, function, ft, oplog.PayloadV2,
		func() (json.RawMessage, error) { return json.Marshal(req) },
		func(ctx context.Context) (json.RawMessage, error) {
			resp, err := fn(ctx, req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		},
		func(ctx context.Context) (json.RawMessage, error) {
			resp, err := fn(ctx, req)
			if err != nil {
				return nil, err
			}
			zero = resp
			return nil, nil
		})
	if err != nil || raw == nil {
		return zero, err
	}
	var resp Resp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return zero, fmt.Errorf("decode recorded result of %s: %w", function, err)
	}
	return resp, nil
}

// CallBytes is Call for operations exchanging opaque byte payloads.
func CallBytes(ctx context.Context, e *Execution, function string, ft oplog.FunctionType, req []byte, fn func(context.Context, []byte) ([]byte, error)) ([]byte, error) {
	var direct []byte
	raw, err := call(ctx, e, function, ft, oplog.PayloadV1,
		func() (json.RawMessage, error) { return json.Marshal(req) },
		func(ctx context.Context) (json.RawMessage, error) {
			resp, err := fn(ctx, req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		},
		func(ctx context.Context) (json.RawMessage, error) {
			resp, err := fn(ctx, req)
			direct = resp
			return nil, err
		})
	if err != nil || raw == nil {
		return direct, err
	}
	var resp []byte
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode recorded result of %s: %w", function, err)
	}
	return resp, nil
}

// call returns the encoded response, or nil with no error when the operation
// was not recorded and direct already ran it.
func call(
	ctx context.Context,
	e *Execution,
	function string,
	ft oplog.FunctionType,
	version oplog.PayloadVersion,
	encodeReq func() (json.RawMessage, error),
	live func(context.Context) (json.RawMessage, error),
	direct func(context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	if err := e.Checkpoint(); err != nil {
		return nil, err
	}
	if !e.level.Records(ft) {
		_, err := direct(ctx)
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "durable "+function)
	defer span.End()
	isLive := e.IsLive()
	span.SetAttributes(
		attribute.String("golem.worker_id", e.worker.String()),
		attribute.String("golem.function_type", ft.String()),
		attribute.Bool("golem.live", isLive),
	)
	e.observer.ObserveDurableCall(function, isLive)

	var (
		raw json.RawMessage
		err error
	)
	if isLive {
		raw, err = e.callLive(ctx, function, ft, version, encodeReq, live)
	} else {
		raw, err = e.callReplay(ctx, function)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := e.Checkpoint(); err != nil {
		return nil, err
	}
	return raw, nil
}

func (e *Execution) callLive(
	ctx context.Context,
	function string,
	ft oplog.FunctionType,
	version oplog.PayloadVersion,
	encodeReq func() (json.RawMessage, error),
	live func(context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	request, err := encodeReq()
	if err != nil {
		return nil, fmt.Errorf("encode request of %s: %w", function, err)
	}

	var out json.RawMessage
	var opErr error
	_ = e.WithPersistenceLevel(PersistNothing, func() error {
		out, opErr = live(ctx)
		return nil
	})

	var res result
	if opErr != nil {
		// Interruptions are not outcomes of the operation.
		if f := trap.FromError(opErr); f.Kind == trap.FailureInterrupted {
			return nil, opErr
		}
		msg := opErr.Error()
		res.Err = &msg
	} else {
		res.Ok = out
	}
	response, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result of %s: %w", function, err)
	}
	if err := e.append(ctx, oplog.ImportedFunctionInvoked(function, ft, request, response, version)); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return out, nil
}

func (e *Execution) callReplay(ctx context.Context, function string) (json.RawMessage, error) {
	expected := oplog.KindImportedFunctionInvoked.String() + " " + function
	rec, err := e.nextReplay(ctx, expected)
	if err != nil {
		return nil, err
	}
	if rec.Entry.Kind != oplog.KindImportedFunctionInvoked || rec.Entry.FunctionName != function {
		found := rec.Entry.Kind.String()
		if rec.Entry.FunctionName != "" {
			found += " " + rec.Entry.FunctionName
		}
		return nil, &DivergenceError{Worker: e.worker, Index: rec.Index, Expected: expected, Found: found}
	}
	var res result
	if err := json.Unmarshal(rec.Entry.Response, &res); err != nil {
		return nil, fmt.Errorf("decode recorded result of %s at %d: %w", function, rec.Index, err)
	}
	if res.Err != nil {
		return nil, &RecordedError{Function: function, Message: *res.Err}
	}
	if res.Ok == nil {
		return json.RawMessage("null"), nil
	}
	return res.Ok, nil
}
