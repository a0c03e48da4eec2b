package master

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/seantiz/concord/internal/rpc"
)

// DefaultRetryInterval is the fixed delay between readiness attempts.
const DefaultRetryInterval = 5 * time.Second

// waitUntilReady waits for conn to become ready, logging and retrying every
// interval. There is no attempt limit; only ctx ends the loop.
func waitUntilReady(ctx context.Context, conn *grpc.ClientConn, interval time.Duration, logger *slog.Logger) error {
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, interval)
		err := rpc.WaitReady(attemptCtx, conn)
		cancel()
		if err == nil {
			logger.Info("channel ready", "target", conn.Target(), "attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("channel not ready, retrying", "target", conn.Target(), "attempt", attempt, "retry_in", interval)
	}
}

// channelHealth fails unless conn is connected or idle.
func channelHealth(conn *grpc.ClientConn) error {
	switch st := conn.GetState(); st {
	case connectivity.Ready, connectivity.Idle:
		return nil
	default:
		return fmt.Errorf("channel to %s is %s", conn.Target(), st)
	}
}
