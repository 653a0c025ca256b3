package lu

import (
	"context"

	"github.com/cuemby/fleetctl/pkg/lock"
	"github.com/cuemby/fleetctl/pkg/luerrors"
)

func toLockMode(m Mode) lock.Mode {
	if m == ModeExclusive {
		return lock.Exclusive
	}
	return lock.Shared
}

// AcquireLocks asks inst for its LockRequest and acquires it on job, for
// use by pkg/processor's lifecycle runner. The returned release func must
// be called regardless of what the caller does next.
func AcquireLocks(ctx context.Context, job *lock.Job, op string, luCtx *Context, inst LogicalUnit) (release func(), err error) {
	req, err := inst.Locks(luCtx)
	if err != nil {
		return nil, luerrors.Prereqf(op, "compute lock request: %w", err)
	}
	return acquire(ctx, job, op, req)
}

// acquire walks req in the cluster < instance < node order 
// requires, acquiring exactly the locks the LU declared. The returned
// release func must run regardless of what Exec does next.
func acquire(ctx context.Context, job *lock.Job, op string, req LockRequest) (release func(), err error) {
	if err := job.AcquireBGL(ctx, toLockMode(req.BGLMode), lockAcquireTimeout); err != nil {
		return nil, luerrors.RetryRequiredf(op, "acquire BGL: %w", err)
	}
	release = job.Release

	if req.AllInstances {
		if err := job.AcquireAllInstances(ctx, toLockMode(req.InstMode), lockAcquireTimeout); err != nil {
			release()
			return nil, luerrors.RetryRequiredf(op, "acquire all instances: %w", err)
		}
	} else if len(req.Instances) > 0 {
		if err := job.AcquireInstances(ctx, req.Instances, toLockMode(req.InstMode), lockAcquireTimeout); err != nil {
			release()
			return nil, luerrors.RetryRequiredf(op, "acquire instances %v: %w", req.Instances, err)
		}
	}

	if req.AllNodes {
		if err := job.AcquireAllNodes(ctx, toLockMode(req.NodeMode), lockAcquireTimeout); err != nil {
			release()
			return nil, luerrors.RetryRequiredf(op, "acquire all nodes: %w", err)
		}
	} else if len(req.Nodes) > 0 {
		if err := job.AcquireNodes(ctx, req.Nodes, toLockMode(req.NodeMode), lockAcquireTimeout); err != nil {
			release()
			return nil, luerrors.RetryRequiredf(op, "acquire nodes %v: %w", req.Nodes, err)
		}
	}

	return release, nil
}
