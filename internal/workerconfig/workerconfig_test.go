package workerconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
)

func TestBuildInjectsReservedKeys(t *testing.T) {
	w, err := model.ParseWorkerID("5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11/worker-name")
	require.NoError(t, err)

	cfg := Build(w, 3, []string{}, nil, oplog.DeletedRegions{}, 0)

	env := cfg.EnvMap()
	assert.Len(t, env, 3)
	assert.Equal(t, "worker-name", env[EnvWorkerName])
	assert.Equal(t, "5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11", env[EnvComponentID])
	assert.Equal(t, "3", env[EnvComponentVersion])
	assert.Empty(t, cfg.Args)
}

func TestBuildStripsUserSuppliedReservedKeys(t *testing.T) {
	w, err := model.ParseWorkerID("5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11/worker-name")
	require.NoError(t, err)
	env := []model.EnvVar{
		{Key: EnvWorkerName, Value: "spoofed"},
		{Key: "USER_KEY", Value: "kept"},
		{Key: EnvComponentVersion, Value: "99"},
		{Key: EnvComponentID, Value: "nope"},
	}

	cfg := Build(w, 3, []string{"--flag"}, env, oplog.NewDeletedRegions(oplog.Region{Start: 2, End: 4}), 64<<20)

	assert.Equal(t, []model.EnvVar{
		{Key: "USER_KEY", Value: "kept"},
		{Key: EnvWorkerName, Value: "worker-name"},
		{Key: EnvComponentID, Value: "5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11"},
		{Key: EnvComponentVersion, Value: "3"},
	}, cfg.Env)
	assert.Equal(t, []string{"--flag"}, cfg.Args)
	assert.Equal(t, uint64(64<<20), cfg.TotalLinearMemorySize)
	assert.True(t, cfg.DeletedRegions.IsDeleted(3))

	v, ok := cfg.Lookup(EnvWorkerName)
	assert.True(t, ok)
	assert.Equal(t, "worker-name", v)
	_, ok = cfg.Lookup("MISSING")
	assert.False(t, ok)
}

func TestBuildIsDeterministic(t *testing.T) {
	w, err := model.ParseWorkerID("5d1ba6a3-2f4b-4c1a-9a0f-6f2c7c1a8b11/w")
	require.NoError(t, err)
	env := []model.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}}
	assert.Equal(t, Build(w, 7, []string{"x"}, env, oplog.DeletedRegions{}, 1), Build(w, 7, []string{"x"}, env, oplog.DeletedRegions{}, 1))
}
