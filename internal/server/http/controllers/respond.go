package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"google.golang.org/grpc/codes"

	"github.com/golemcloud/golem-sub031/internal/executor"
	grpcserver "github.com/golemcloud/golem-sub031/internal/server/grpc"
)

// errorBody is the JSON body of every failed request. Code is the gRPC code
// the same failure gets on the gRPC surface.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func replyOK(w http.ResponseWriter, v any) { reply(w, http.StatusOK, v) }

func replyEmpty(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) }

// replyError classifies err like the gRPC server does.
func replyError(w http.ResponseWriter, err error) {
	c := grpcserver.Code(err)
	reply(w, statusOf(c), errorBody{Error: err.Error(), Code: c.String()})
}

// replyInvalid reports a malformed request.
func replyInvalid(w http.ResponseWriter, err error) {
	if !errors.Is(err, executor.ErrInvalidRequest) {
		err = fmt.Errorf("%w: %v", executor.ErrInvalidRequest, err)
	}
	replyError(w, err)
}

func statusOf(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusRequestEntityTooLarge
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	}
	return http.StatusInternalServerError
}

// decode reads a JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: request body: %v", executor.ErrInvalidRequest, err)
	}
	return nil
}

// query reads typed query parameters and keeps the first malformed one.
type query struct {
	values url.Values
	err    error
}

func queryOf(r *http.Request) *query { return &query{values: r.URL.Query()} }

func (q *query) str(name string) string { return q.values.Get(name) }

func (q *query) uint(name string) uint64 {
	s := q.values.Get(name)
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		q.fail(name, s)
	}
	return n
}

func (q *query) flag(name string) bool {
	s := q.values.Get(name)
	if s == "" {
		return false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		q.fail(name, s)
	}
	return b
}

func (q *query) fail(name, value string) {
	if q.err == nil {
		q.err = fmt.Errorf("%w: query parameter %s=%q", executor.ErrInvalidRequest, name, value)
	}
}
