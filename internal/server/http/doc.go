// Package httpserver is the admin HTTP surface of the worker executor:
// liveness and readiness checks, Prometheus metrics, JSON worker endpoints
// and a Server-Sent Events stream of worker status changes. Routes live in
// the controllers subpackage; errors carry the code the gRPC surface would
// return for the same failure.
//
// Example:
//
//	s := httpserver.New(rt, exec, m, logger)
//	_ = s.ListenAndServe(ctx, ":8082")
package httpserver
