package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	transports "github.com/golemcloud/golem-sub031/internal/cmd/client/transports"
)

const (
	// GRPCAddrEnv names the variable holding the executor address.
	GRPCAddrEnv = "GOLEM_EXECUTOR_GRPC"
	// TimeoutEnv bounds each call, as a Go duration such as 30s.
	TimeoutEnv = "GOLEM_EXECUTOR_TIMEOUT"

	defaultTimeout = 5 * time.Minute
)

// grpcAddrFromEnv returns the gRPC server address from GOLEM_EXECUTOR_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv(GRPCAddrEnv); addr != "" {
		return addr
	}
	return "127.0.0.1:9000"
}

// dialGRPCContext dials the executor with insecure transport for local/dev.
func dialGRPCContext(_ context.Context) (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// timeoutFromEnv reads TimeoutEnv. Unset or unparsable values give the
// default; "0" disables the bound.
func timeoutFromEnv() time.Duration {
	if s := os.Getenv(TimeoutEnv); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			return d
		}
	}
	return defaultTimeout
}

func getTransport() transports.ExecutorTransport {
	return transports.NewGrpcTransport(dialGRPCContext, timeoutFromEnv())
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseShardIDs parses a comma separated list of shard ids.
func parseShardIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("no shard ids given")
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid shard id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
