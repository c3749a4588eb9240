package serverrun

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/golemcloud/golem-sub031/internal/config"
	"github.com/golemcloud/golem-sub031/internal/host"
	logpkg "github.com/golemcloud/golem-sub031/pkg/log"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func testConfig(t *testing.T) cfgpkg.Config {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.GRPCAddr = freeAddr(t)
	cfg.HTTPAddr = freeAddr(t)
	cfg.Blob.Backend = "memory"
	return cfg
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{Config: cfg, Host: host.NewNativeHost(), Logger: logpkg.NewNopLogger()})
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.HTTPAddr + "/v1/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + cfg.HTTPAddr + "/v1/shards")
	require.NoError(t, err)
	var shards struct {
		NumberOfShards int     `json:"numberOfShards"`
		ShardIDs       []int64 `json:"shardIds"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shards))
	resp.Body.Close()
	assert.Equal(t, 1, shards.NumberOfShards)
	assert.Equal(t, []int64{0}, shards.ShardIDs)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.DirExists(t, cfg.DataDir)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Shards.NumberOfShards = 2
	cfg.Shards.Owned = []int64{3}
	err := Run(context.Background(), Options{Config: cfg, Logger: logpkg.NewNopLogger()})
	require.ErrorContains(t, err, "out of range")

	cfg = testConfig(t)
	cfg.Fsync = "sometimes"
	require.Error(t, Run(context.Background(), Options{Config: cfg, Logger: logpkg.NewNopLogger()}))
}

func TestNewShardManager(t *testing.T) {
	m, source, err := newShardManager(cfgpkg.Shards{NumberOfShards: 4, Owned: []int64{1, 3}}, nil)
	require.NoError(t, err)
	assert.Nil(t, source)
	assert.Equal(t, 4, m.Current().NumberOfShards)
	assert.Len(t, m.Current().Sorted(), 2)

	path := filepath.Join(t.TempDir(), "shards.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"numberOfShards":8,"shardIds":[2]}`), 0o644))
	m, source, err = newShardManager(cfgpkg.Shards{NumberOfShards: 1, AssignmentFile: path}, logpkg.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, source)
	assert.Equal(t, 8, m.Current().NumberOfShards)

	_, _, err = newShardManager(cfgpkg.Shards{AssignmentFile: filepath.Join(t.TempDir(), "missing.json")}, nil)
	require.Error(t, err)
}
