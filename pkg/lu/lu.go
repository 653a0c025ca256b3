// Package lu implements the Logical Unit framework: one type per
// administrative opcode, each declaring the locks it needs and the
// CheckPrereq/Exec/hooks contract the processor drives it through. A
// registry of constructors rather than a flat dispatch switch, since LUs
// carry substantially more per-type behavior (locks, hooks, prereq
// checks) than a typical command handler.
package lu

import (
	"fmt"

	"github.com/cuemby/fleetctl/pkg/types"
)

// FeedbackFunc lets Exec report incremental progress, e.g. the
// step-of-total messages a long-running migrate or replace-disks job emits.
type FeedbackFunc func(format string, args ...interface{})

// HookEnv is the (env, pre_nodes, post_nodes) triple BuildHooksEnv
// returns, .
type HookEnv struct {
	Env       map[string]string
	PreNodes  []string
	PostNodes []string
}

// LogicalUnit is one administrative operation, 
// contract list.
type LogicalUnit interface {
	// Locks declares the levels/names/modes this LU needs; the processor
	// acquires them in level order before CheckPrereq.
	Locks(ctx *Context) (LockRequest, error)
	// CheckPrereq validates inputs and cluster state; it must not mutate
	// anything. A non-nil error here is a luerrors Prereq-kind failure.
	CheckPrereq(ctx *Context) error
	// Exec performs the mutation; it is the only phase allowed to
	// change cluster or node state.
	Exec(ctx *Context, feedback FeedbackFunc) (interface{}, error)
	// BuildHooksEnv names which nodes receive which hook phase.
	BuildHooksEnv(ctx *Context) (*HookEnv, error)
	// HooksCallBack may downgrade result based on post-hook outcomes;
	// most LUs use the no-op default via Base.
	HooksCallBack(ctx *Context, phase string, hookResults interface{}, prevResult interface{}) interface{}
	// HookPath names the hook directory prefix this LU scans, or "" for
	// LUs with no hooks.
	HookPath() string
}

// LockRequest is the set of locks one LU instance needs, named per level.
// Cluster is always "BGL"; Instances/Nodes name specific resources, or
// All=true to acquire every currently registered name at that level.
type LockRequest struct {
	BGLMode  Mode
	Instances []string
	InstMode Mode
	AllInstances bool
	Nodes    []string
	NodeMode Mode
	AllNodes bool
}

// Mode mirrors pkg/lock.Mode so pkg/lu does not need to import pkg/lock
// into every LU file's signature; Processor translates it when acquiring.
type Mode int

const (
	ModeShared Mode = iota
	ModeExclusive
)

// Base provides the common no-op HooksCallBack/BuildHooksEnv/HookPath
// implementations so individual LUs only override what they need, an
// embedding-for-defaults idiom also used by pkg/health's checker types.
type Base struct{}

func (Base) HooksCallBack(ctx *Context, phase string, hookResults interface{}, prevResult interface{}) interface{} {
	return prevResult
}

func (Base) BuildHooksEnv(ctx *Context) (*HookEnv, error) { return nil, nil }

func (Base) HookPath() string { return "" }

// Registry maps an opcode type to a constructor for its LU. One entry per
// opcode type, plus Export/RemoveInstance/Import supplemented as natural
// counterparts to the core create/start/stop/migrate set.
var registry = map[types.OpcodeType]func(fields map[string]interface{}) (LogicalUnit, error){
	types.OpInitCluster:      newInitCluster,
	types.OpVerifyCluster:    newVerifyCluster,
	types.OpAddNode:          newAddNode,
	types.OpRemoveNode:       newRemoveNode,
	types.OpCreateInstance:   newCreateInstance,
	types.OpRemoveInstance:   newRemoveInstance,
	types.OpStartInstance:    newStartInstance,
	types.OpShutdownInstance: newShutdownInstance,
	types.OpFailoverInstance: newFailoverInstance,
	types.OpMigrateInstance:  newMigrateInstance,
	types.OpReplaceDisks:     newReplaceDisks,
	types.OpExportInstance:   newExportInstance,
	types.OpImportInstance:   newImportInstance,
}

// New constructs the LU for opcode.Type, type-asserting opcode.Fields
// into its specific argument shape.
func New(opcode *types.Opcode) (LogicalUnit, error) {
	ctor, ok := registry[opcode.Type]
	if !ok {
		return nil, fmt.Errorf("lu: no logical unit registered for opcode %s", opcode.Type)
	}
	return ctor(opcode.Fields)
}

func fieldString(fields map[string]interface{}, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return s, nil
}

func fieldStringSlice(fields map[string]interface{}, key string) []string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func fieldBool(fields map[string]interface{}, key string) bool {
	v, _ := fields[key].(bool)
	return v
}

func fieldInt(fields map[string]interface{}, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func fieldStringMap(fields map[string]interface{}, key string) map[string]string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, e := range raw {
		if s, ok := e.(string); ok {
			out[k] = s
		}
	}
	return out
}
