package executor

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// WorkerFilter selects workers by a CEL expression over their metadata. The
// zero value matches every worker.
type WorkerFilter struct {
	prog cel.Program
}

// ParseWorkerFilter compiles expr. Available variables:
//
//	component, name, status, phase   string
//	component_type                   string ("durable" or "ephemeral")
//	version, oplog_index, retry_count int
//	active                           bool
//	args                             list(string)
//	env                              map(string, string)
//	updated_ms                       int
//
// For example: status == "Failed" || (active && retry_count > 2).
func ParseWorkerFilter(expr string) (WorkerFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return WorkerFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("component", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("phase", cel.StringType),
		cel.Variable("component_type", cel.StringType),
		cel.Variable("version", cel.IntType),
		cel.Variable("oplog_index", cel.IntType),
		cel.Variable("retry_count", cel.IntType),
		cel.Variable("active", cel.BoolType),
		cel.Variable("args", cel.ListType(cel.StringType)),
		cel.Variable("env", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("updated_ms", cel.IntType),
	)
	if err != nil {
		return WorkerFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return WorkerFilter{}, fmt.Errorf("%w: filter: %v", ErrInvalidRequest, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return WorkerFilter{}, fmt.Errorf("%w: filter must be a boolean expression, got %s", ErrInvalidRequest, ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return WorkerFilter{}, fmt.Errorf("%w: filter: %v", ErrInvalidRequest, err)
	}
	return WorkerFilter{prog: prog}, nil
}

// Match reports whether md satisfies the filter. Evaluation errors do not
// match.
func (f WorkerFilter) Match(md Metadata) bool {
	if f.prog == nil {
		return true
	}
	r := md.Record
	env := make(map[string]string, len(r.Env))
	for _, v := range r.Env {
		env[v.Key] = v.Value
	}
	args := r.Args
	if args == nil {
		args = []string{}
	}
	phase := ""
	if md.Active {
		phase = md.Phase.String()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"component":      md.Worker.ComponentID.String(),
		"name":           md.Worker.WorkerName,
		"status":         r.Status.String(),
		"phase":          phase,
		"component_type": r.ComponentType.String(),
		"version":        int64(r.ComponentVersion),
		"oplog_index":    int64(r.OplogIdx),
		"retry_count":    int64(r.ErrorCount),
		"active":         md.Active,
		"args":           args,
		"env":            env,
		"updated_ms":     r.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
