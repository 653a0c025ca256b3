// Package lock implements the hierarchical lock manager jobs acquire
// before touching cluster, instance, or node state: three totally
// ordered levels (cluster < instance < node), each a named set of
// shared/exclusive locks with FIFO fair queueing, built on top of the
// single Lock and Set primitives in lock.go and set.go.
//
// Manager ties the three levels together behind the single BGL
// ("big-ganeti-lock") precondition: a Job must acquire BGL before
// touching any instance or node lock, and releases in reverse order.
// Job is not goroutine-safe; each running job owns exactly one
// execution goroutine, matching the processor's one-worker-per-job
// model.
package lock
