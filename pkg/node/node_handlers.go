package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/cuemby/fleetctl/pkg/rpc"
)

func (d *Dispatcher) registerNode(srv *rpc.Server) {
	srv.Register("upload_file", d.uploadFile)
	srv.Register("write_ssconf_files", d.writeSsconfFiles)
	srv.Register("jobqueue_update", d.jobqueueUpdate)
	srv.Register("jobqueue_rename", d.jobqueueRename)
	srv.Register("jobqueue_set_drain", d.jobqueueSetDrain)
	srv.Register("jobqueue_purge", d.jobqueuePurge)
	srv.Register("node_info", d.nodeInfo)
	srv.Register("node_verify", d.nodeVerify)
	srv.Register("node_start_master", d.nodeStartMaster)
	srv.Register("node_stop_master", d.nodeStopMaster)
	srv.Register("node_leave_cluster", d.nodeLeaveCluster)
	srv.Register("node_demote_from_mc", d.nodeDemoteFromMC)
}

// uploadFile writes content to path, refusing anything outside a
// constant whitelist of allowed upload destinations.
func (d *Dispatcher) uploadFile(args []json.RawMessage) (bool, interface{}) {
	var path string
	var content []byte
	if err := decodeArg(args, 0, &path); err != nil {
		return fail(err)
	}
	if err := decodeArg(args, 1, &content); err != nil {
		return fail(err)
	}
	if !uploadWhitelist[path] {
		return failf("upload_file: %q is not in the allowed target list", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fail(err)
	}
	if err := os.WriteFile(path, content, 0640); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// writeSsconfFiles writes the small distributed key-value ssconf files
// ( GLOSSARY: "replicated to every node carrying cluster
// identity") under dataDir/ssconf/.
func (d *Dispatcher) writeSsconfFiles(args []json.RawMessage) (bool, interface{}) {
	var files map[string]string
	if err := decodeArg(args, 0, &files); err != nil {
		return fail(err)
	}
	dir := filepath.Join(d.dataDir, "ssconf")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fail(err)
	}
	for name, content := range files {
		if strings.ContainsAny(name, "/\\") {
			return failf("write_ssconf_files: invalid ssconf name %q", name)
		}
		if err := os.WriteFile(filepath.Join(dir, "ssconf_"+name), []byte(content), 0644); err != nil {
			return fail(err)
		}
	}
	return ok(nil)
}

// queuePath resolves name under the jobqueue directory, refusing anything
// that would escape it (: "jobqueue_* operations target paths
// under the queue directory").
func (d *Dispatcher) queuePath(name string) (string, error) {
	full := filepath.Join(d.queueDir, name)
	if !strings.HasPrefix(full, filepath.Clean(d.queueDir)+string(filepath.Separator)) && full != filepath.Clean(d.queueDir) {
		return "", fmt.Errorf("jobqueue: %q escapes queue directory", name)
	}
	return full, nil
}

func (d *Dispatcher) jobqueueUpdate(args []json.RawMessage) (bool, interface{}) {
	var name string
	var content []byte
	if err := decodeArg(args, 0, &name); err != nil {
		return fail(err)
	}
	if err := decodeArg(args, 1, &content); err != nil {
		return fail(err)
	}
	path, err := d.queuePath(name)
	if err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fail(err)
	}
	if err := os.WriteFile(path, content, 0640); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (d *Dispatcher) jobqueueRename(args []json.RawMessage) (bool, interface{}) {
	var oldName, newName string
	if err := decodeArg(args, 0, &oldName); err != nil {
		return fail(err)
	}
	if err := decodeArg(args, 1, &newName); err != nil {
		return fail(err)
	}
	oldPath, err := d.queuePath(oldName)
	if err != nil {
		return fail(err)
	}
	newPath, err := d.queuePath(newName)
	if err != nil {
		return fail(err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (d *Dispatcher) jobqueueSetDrain(args []json.RawMessage) (bool, interface{}) {
	var drain bool
	if err := decodeArg(args, 0, &drain); err != nil {
		return fail(err)
	}
	path, err := d.queuePath("drain")
	if err != nil {
		return fail(err)
	}
	if drain {
		if err := os.WriteFile(path, nil, 0640); err != nil {
			return fail(err)
		}
	} else {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fail(err)
		}
	}
	return ok(nil)
}

func (d *Dispatcher) jobqueuePurge(args []json.RawMessage) (bool, interface{}) {
	if err := os.RemoveAll(d.queueDir); err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(d.queueDir, 0755); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// nodeInfo reports local resource capacity, the payload for 
// node_info procedure.
func (d *Dispatcher) nodeInfo(args []json.RawMessage) (bool, interface{}) {
	var stat syscall.Statfs_t
	var freeBytes, totalBytes uint64
	if err := syscall.Statfs(d.dataDir, &stat); err == nil {
		freeBytes = stat.Bavail * uint64(stat.Bsize)
		totalBytes = stat.Blocks * uint64(stat.Bsize)
	}
	return ok(map[string]interface{}{
		"node_id":     d.nodeID,
		"cpu_cores":   runtime.NumCPU(),
		"disk_free":   freeBytes,
		"disk_total":  totalBytes,
	})
}

// nodeVerify runs a minimal set of local sanity checks: that the data and
// queue directories are writable. Deeper verification (hypervisor
// reachability, DRBD module presence) is layered on top by
// pkg/lu.VerifyCluster, which calls this per node and aggregates.
func (d *Dispatcher) nodeVerify(args []json.RawMessage) (bool, interface{}) {
	problems := []string{}
	for _, dir := range []string{d.dataDir, d.queueDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", dir, err))
		}
	}
	return ok(problems)
}

// nodeStartMaster / nodeStopMaster are retained as named procedures for
// RPC-surface completeness, but master role is decided by pkg/master's
// Raft leadership rather than a separately-started master daemon per
// node — see DESIGN.md for the Open-Question decision. Both are no-ops.
func (d *Dispatcher) nodeStartMaster(args []json.RawMessage) (bool, interface{}) { return ok(nil) }
func (d *Dispatcher) nodeStopMaster(args []json.RawMessage) (bool, interface{})  { return ok(nil) }

// nodeLeaveCluster wipes this node's local cluster-derived state so it can
// rejoin fresh or be decommissioned.
func (d *Dispatcher) nodeLeaveCluster(args []json.RawMessage) (bool, interface{}) {
	if err := os.RemoveAll(filepath.Join(d.dataDir, "ssconf")); err != nil {
		return fail(err)
	}
	return ok(nil)
}

// nodeDemoteFromMC is a no-op on the node side: master-candidate status is
// a master-side role assignment (pkg/master), not local node state.
func (d *Dispatcher) nodeDemoteFromMC(args []json.RawMessage) (bool, interface{}) { return ok(nil) }
