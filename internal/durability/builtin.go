package durability

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/golemcloud/golem-sub031/internal/oplog"
)

// Durable function names of the built-in operations.
const (
	FunctionWallClockNow = "wall-clock::now"
	FunctionRandomU64    = "random::get-random-u64"
)

// Now returns the wall clock time, recorded so replays observe the same value.
func Now(ctx context.Context, e *Execution) (time.Time, error) {
	nanos, err := Call(ctx, e, FunctionWallClockNow, oplog.ReadLocal, struct{}{}, func(context.Context, struct{}) (int64, error) {
		return time.Now().UnixNano(), nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

// RandomU64 returns a random number, recorded so replays observe the same value.
func RandomU64(ctx context.Context, e *Execution) (uint64, error) {
	return Call(ctx, e, FunctionRandomU64, oplog.ReadLocal, struct{}{}, func(context.Context, struct{}) (uint64, error) {
		return rand.Uint64(), nil
	})
}
