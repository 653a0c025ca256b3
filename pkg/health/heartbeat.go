package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetctl/pkg/rpc"
)

// HeartbeatChecker performs the master→node liveness probe: an
// rpc.Client call to "node_info", the same node-daemon RPC the rest of
// the master uses, over the same mTLS channel.
type HeartbeatChecker struct {
	client *rpc.Client
	target rpc.Target
}

// NewHeartbeatChecker builds a checker for one node's RPC target.
func NewHeartbeatChecker(client *rpc.Client, target rpc.Target) *HeartbeatChecker {
	return &HeartbeatChecker{client: client, target: target}
}

// Check performs the heartbeat RPC. ctx is accepted to satisfy Checker;
// the deadline that actually bounds the call is rpc.Client's configured
// timeout, since Client.Call doesn't take a context.
func (h *HeartbeatChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := h.client.Call(h.target, "node_info", nil)

	healthy := res.Status == rpc.StatusOK
	message := fmt.Sprintf("node_info: %s", res.Status)
	if res.Status == rpc.StatusFailed && res.Message != "" {
		message = fmt.Sprintf("node_info failed: %s", res.Message)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns CheckTypeHeartbeat.
func (h *HeartbeatChecker) Type() CheckType { return CheckTypeHeartbeat }
