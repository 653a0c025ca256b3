/*
Package node implements the per-node RPC backend: a Dispatcher that
registers the named node procedures onto a pkg/rpc.Server.

	block device family  -> pkg/blockdev, rebuilt per call from a descriptor
	DRBD orchestration    -> pkg/blockdev.DRBD8's DisconnectNet/Assemble/GetSyncStatus
	instance lifecycle    -> pkg/hypervisor.Hypervisor
	node housekeeping      -> local filesystem (upload_file, ssconf, jobqueue)
	storage introspection -> vgs/lvs/pvs subprocess queries
	hooks and allocator    -> pkg/hooks, a local iallocator script invocation

Every procedure is a func([]json.RawMessage) (bool, interface{}) — the
Handler type pkg/rpc.Server dispatches by name.
*/
package node
