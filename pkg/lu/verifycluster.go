package lu

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cuemby/fleetctl/pkg/luerrors"
	"github.com/cuemby/fleetctl/pkg/rpc"
)

// verifyCluster implements OP_VERIFY_CLUSTER: a read-only health sweep
// that fans node_verify out to every node and reports per-node findings,
// per the table row "VerifyCluster | shared BGL | shared all | shared all".
type verifyCluster struct {
	Base
}

func newVerifyCluster(fields map[string]interface{}) (LogicalUnit, error) {
	return &verifyCluster{}, nil
}

func (lu *verifyCluster) Locks(ctx *Context) (LockRequest, error) {
	return LockRequest{
		BGLMode:      ModeShared,
		AllInstances: true,
		InstMode:     ModeShared,
		AllNodes:     true,
		NodeMode:     ModeShared,
	}, nil
}

func (lu *verifyCluster) CheckPrereq(ctx *Context) error {
	cluster, err := ctx.Master.GetCluster()
	if err != nil || cluster == nil || cluster.Name == "" {
		return luerrors.Prereqf("OP_VERIFY_CLUSTER", "cluster is not initialized")
	}
	return nil
}

// VerifyClusterResult is the per-node outcome OP_VERIFY_CLUSTER returns.
type VerifyClusterResult struct {
	NodeID   string
	OK       bool
	Problems []string
}

func (lu *verifyCluster) Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error) {
	nodes, err := ctx.Master.ListNodes()
	if err != nil {
		return nil, luerrors.Execf("OP_VERIFY_CLUSTER", "list nodes: %w", err)
	}

	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	feedback("verifying %d nodes", len(ids))
	results := ctx.CallAll(ids, "node_verify")

	out := make([]VerifyClusterResult, 0, len(ids))
	for _, id := range ids {
		res := results[id]
		r := VerifyClusterResult{NodeID: id}
		switch res.Status {
		case rpc.StatusOK:
			var problems []string
			if err := json.Unmarshal(res.Payload, &problems); err != nil {
				problems = []string{fmt.Sprintf("node_verify: unreadable result: %v", err)}
			}
			r.Problems = problems
			r.OK = len(problems) == 0
		case rpc.StatusOffline:
			r.Problems = []string{"node is offline"}
		default:
			r.Problems = []string{fmt.Sprintf("node_verify failed: %s", res.Message)}
		}
		out = append(out, r)
		feedback("node %s: ok=%v", id, r.OK)
	}
	return out, nil
}
