package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/status"
)

func TestWorkerFilter(t *testing.T) {
	md := Metadata{
		Worker: model.WorkerID{ComponentID: model.NewComponentID(), WorkerName: "w1"},
		Record: status.Record{
			Status:           status.Retrying,
			ComponentVersion: 3,
			Args:             []string{"--verbose"},
			Env:              []model.EnvVar{{Key: "REGION", Value: "eu"}},
			OplogIdx:         12,
			ErrorCount:       2,
			UpdatedAt:        time.Now(),
		},
		Active: true,
		Phase:  status.Loading,
	}

	for expr, want := range map[string]bool{
		``:                                       true,
		`status == "Retrying"`:                   true,
		`status == "Failed"`:                     false,
		`active && phase == "Loading"`:           true,
		`version >= 3 && oplog_index > 10`:       true,
		`retry_count > 2`:                        false,
		`env["REGION"] == "eu"`:                  true,
		`"--verbose" in args`:                    true,
		`name.startsWith("w")`:                   true,
		`component_type == "durable"`:            true,
		`component_type == "ephemeral"`:          false,
		`type(version) == int`:                   true,
		`env["MISSING"] == "x"`:                  false,
		`updated_ms > 0 && component.size() > 0`: true,
	} {
		f, err := ParseWorkerFilter(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, f.Match(md), expr)
	}
}

func TestWorkerFilterRejectsInvalidExpressions(t *testing.T) {
	for _, expr := range []string{`status ==`, `retry_count`, `unknown == 1`} {
		_, err := ParseWorkerFilter(expr)
		require.ErrorIs(t, err, ErrInvalidRequest, expr)
	}
}
