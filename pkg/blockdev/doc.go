// Package blockdev is the node-local storage layer: the Device
// interface and its four concrete implementations (LogicalVolume,
// DRBD8, FileDevice, Absent), each carrying the five-state lifecycle
//
//	absent --Create--> existing --Assemble--> active-ro --Open--> active-rw
//	                          ^                                       |
//	                          +--------------- Shutdown ---------------+
//	existing --Remove--> absent
//
// Every operation must be idempotent on an already-correct state.
//
// DRBD8 is the package's centerpiece: Assemble takes the fast path
// (drbdassemble.go's fastAssemble) when the minor is Unconfigured, or
// the slow path (slowAssemble) that reconciles an already-partially-
// configured minor against the desired local/network attachment.
// DisconnectNet (drbddisconnect.go) polls /proc/drbd with exponential
// backoff until the minor reaches StandAlone. checkMetaDeviceSanity
// (drbd.go) rejects meta LVs outside [128MiB, 1GiB] before metadata is
// written.
//
// FromDescriptor/AttachTree (descriptor.go) implement the two-phase
// "build a descriptor, then attach to the live backing device"
// constructor: a Device tree can be built from a types.Disk purely in
// memory, and Attach populates dev_path/attached from the node's actual
// state.
package blockdev
