package types

import (
	"fmt"
	"net"
	"time"
)

// Cluster represents the entire fleetctl cluster.
type Cluster struct {
	Name               string
	MasterNode         string
	MasterIP           net.IP
	MasterNetdev       string
	CreatedAt          time.Time
	EnabledHypervisors []string
	DefaultHVParams    map[string]string
	DefaultBEParams    map[string]string
	DefaultNICParams   map[string]string
	Tags               []string
	FileStorageRoots   []string
	UIDPoolStart       int
	UIDPoolEnd         int
	DRBDUsermodeHelper string

	// NextDRBDPort / NextVNCPort / UniqueSeq back the monotonic allocators
	// of DRBD port, VNC port, and general unique IDs; persisted by
	// pkg/config so they survive master failover and never go backwards.
	NextDRBDPort int
	NextVNCPort  int
	UniqueSeq    int
}

// ExecutionContext seeds the unique-ID generator for one LU execution: a
// unique-ID generator keyed by an execution-context id (job id and opcode
// index) so IDs stay distinct across concurrent jobs.
type ExecutionContext struct {
	Seed string // job id + opcode index, e.g. "job-7-op-0"
}

// NodeRole defines the role of a node.
type NodeRole string

const (
	NodeRoleMaster          NodeRole = "master"
	NodeRoleMasterCandidate NodeRole = "master-candidate"
	NodeRoleRegular         NodeRole = "regular"
	NodeRoleDrained         NodeRole = "drained"
	NodeRoleOffline         NodeRole = "offline"
)

// NodeStatus represents the liveness of a node as derived by pkg/health.
type NodeStatus string

const (
	NodeStatusReady   NodeStatus = "ready"
	NodeStatusDown    NodeStatus = "down"
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusUnknown NodeStatus = "unknown"
)

// NodeGroup is a named subset of nodes sharing an allocation policy.
type NodeGroup struct {
	ID   string
	Name string
}

// Node represents a hypervisor host in the cluster.
type Node struct {
	ID            string
	Name          string // FQDN
	PrimaryIP     net.IP
	SecondaryIP   net.IP // DRBD replication traffic; nil if none configured
	Role          NodeRole
	VMCapable     bool
	MasterCapable bool
	GroupID       string
	Tags          []string
	Resources     *NodeResources
	Status        NodeStatus
	Offline       bool
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// Live reports whether an RPC attempt to this node should even be made, per
// : "offline ⇒ RPC skipped; result synthesized as offline-failure".
func (n *Node) Live() bool {
	return n != nil && !n.Offline
}

// NodeResources tracks resource capacity and allocation.
type NodeResources struct {
	CPUCores    int
	MemoryBytes int64
	DiskBytes   int64

	CPUAllocated    float64
	MemoryAllocated int64
	DiskAllocated   int64
}

// DiskTemplate enumerates the supported instance storage templates.
type DiskTemplate string

const (
	DiskTemplateDiskless   DiskTemplate = "diskless"
	DiskTemplatePlain      DiskTemplate = "plain"
	DiskTemplateDRBD8      DiskTemplate = "drbd8"
	DiskTemplateFile       DiskTemplate = "file"
	DiskTemplateSharedFile DiskTemplate = "shared-file"
)

// AdminState is the operator-requested power state of an instance.
type AdminState string

const (
	AdminStateUp   AdminState = "up"
	AdminStateDown AdminState = "down"
)

// NIC describes a single virtual network interface.
type NIC struct {
	MAC    string
	IP     net.IP
	Bridge string
	Mode   string
}

// Instance represents a single VM instance.
type Instance struct {
	Name           string // FQDN
	PrimaryNode    string
	SecondaryNodes []string
	OS             string
	DiskTemplate   DiskTemplate
	Disks          []*Disk
	NICs           []*NIC
	HVParams       map[string]string
	BEParams       map[string]string
	AdminState     AdminState
	AutoBalance    bool
	NetworkPort    int // e.g. VNC
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the structural invariants spelled out in .
func (i *Instance) Validate() error {
	switch i.DiskTemplate {
	case DiskTemplateDRBD8:
		if len(i.SecondaryNodes) != 1 {
			return fmt.Errorf("drbd8 instance %s must have exactly one secondary node, got %d", i.Name, len(i.SecondaryNodes))
		}
		for _, d := range i.Disks {
			if d.DevType != DevTypeDRBD8 {
				return fmt.Errorf("drbd8 instance %s has non-drbd8 disk %s", i.Name, d.IVName)
			}
		}
	case DiskTemplatePlain:
		if len(i.SecondaryNodes) != 0 {
			return fmt.Errorf("plain instance %s must have no secondary nodes", i.Name)
		}
		for _, d := range i.Disks {
			if d.DevType != DevTypeLV {
				return fmt.Errorf("plain instance %s has non-lv disk %s", i.Name, d.IVName)
			}
		}
	}
	seen := make(map[string]bool, len(i.Disks))
	for idx, d := range i.Disks {
		want := fmt.Sprintf("disk/%d", idx)
		if d.IVName != want {
			return fmt.Errorf("disk %d has iv_name %q, want %q", idx, d.IVName, want)
		}
		if seen[d.IVName] {
			return fmt.Errorf("duplicate iv_name %q", d.IVName)
		}
		seen[d.IVName] = true
	}
	return nil
}

// DevType tags the variant of a Disk node in the recursive device tree, per
//  ("recursive heterogeneous trees -> tagged variants").
type DevType string

const (
	DevTypeLV     DevType = "lv"
	DevTypeDRBD8  DevType = "drbd8"
	DevTypeFile   DevType = "file"
	DevTypeAbsent DevType = "absent"
)

// DiskMode controls read-only vs read-write attachment.
type DiskMode string

const (
	DiskModeRO DiskMode = "ro"
	DiskModeRW DiskMode = "rw"
)

// LVLogicalID identifies a logical volume by volume group and LV name.
type LVLogicalID struct {
	VG   string
	Name string
}

// DRBD8LogicalID identifies one DRBD8 peering.
type DRBD8LogicalID struct {
	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int
	LocalMinor int
	Secret     string
}

// FileLogicalID identifies a file-backed disk.
type FileLogicalID struct {
	Driver string
	Path   string
}

// Disk is one node of the recursive block-device descriptor tree. Exactly
// one of LV / DRBD8 / File is populated, selected by DevType.
type Disk struct {
	DevType DevType
	Size    *int64 // MiB; nil means unset, distinct from an explicit zero
	Mode    DiskMode
	IVName  string // canonical form "disk/<index>"

	LV    *LVLogicalID
	DRBD8 *DRBD8LogicalID
	File  *FileLogicalID

	// PhysicalID is resolved at runtime, per node; it is never meaningful
	// across nodes.
	PhysicalID string

	// Children holds exactly two entries for DRBD8 (data LV, meta LV); nil
	// for LV and File.
	Children []*Disk
}

// SizeMiB returns the disk size, or -1 if unset (None, not a real size).
func (d *Disk) SizeMiB() int64 {
	if d.Size == nil {
		return -1
	}
	return *d.Size
}

// DRBDConnState mirrors the connection-state column of /proc/drbd.
type DRBDConnState string

const (
	DRBDConnUnconfigured DRBDConnState = "Unconfigured"
	DRBDConnStandAlone   DRBDConnState = "StandAlone"
	DRBDConnWFConnection DRBDConnState = "WFConnection"
	DRBDConnConnected    DRBDConnState = "Connected"
	DRBDConnSyncSource   DRBDConnState = "SyncSource"
	DRBDConnSyncTarget   DRBDConnState = "SyncTarget"
)

// DRBDRole is Primary or Secondary, for either the local or remote side.
type DRBDRole string

const (
	DRBDRolePrimary   DRBDRole = "Primary"
	DRBDRoleSecondary DRBDRole = "Secondary"
	DRBDRoleUnknown   DRBDRole = "Unknown"
)

// DRBDDiskState mirrors the disk-state column of /proc/drbd.
type DRBDDiskState string

const (
	DRBDDiskDiskless     DRBDDiskState = "Diskless"
	DRBDDiskInconsistent DRBDDiskState = "Inconsistent"
	DRBDDiskUpToDate     DRBDDiskState = "UpToDate"
	DRBDDiskOutdated     DRBDDiskState = "Outdated"
)

// DRBDMinorState is parsed from /proc/drbd for one minor number.
type DRBDMinorState struct {
	Minor       int
	Conn        DRBDConnState
	LocalRole   DRBDRole
	RemoteRole  DRBDRole
	LocalDisk   DRBDDiskState
	RemoteDisk  DRBDDiskState
	SyncPercent *float64 // nil when not resyncing
	SyncETA     *time.Duration
}

// IsStandAlone reports whether the minor is fully disconnected.
func (s *DRBDMinorState) IsStandAlone() bool { return s.Conn == DRBDConnStandAlone }

// IsConnected reports whether the minor is in the Connected state.
func (s *DRBDMinorState) IsConnected() bool { return s.Conn == DRBDConnConnected }

// IsInResync reports whether the minor is actively synchronizing.
func (s *DRBDMinorState) IsInResync() bool {
	return s.Conn == DRBDConnSyncSource || s.Conn == DRBDConnSyncTarget
}

// IsDiskUpToDate reports whether local backing storage is fully synced.
func (s *DRBDMinorState) IsDiskUpToDate() bool { return s.LocalDisk == DRBDDiskUpToDate }

// Degraded reports whether this side lacks a fully up-to-date local disk,
// used by the disk-replacement peer-consistency check.
func (s *DRBDMinorState) Degraded() bool {
	return s.LocalDisk != DRBDDiskUpToDate
}

// JobStatus is the lifecycle state of a Job as tracked by pkg/processor.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusError     JobStatus = "error"
	JobStatusCanceling JobStatus = "canceling"
	JobStatusCanceled  JobStatus = "canceled"
)

// OpcodeType names one administrative operation.
type OpcodeType string

const (
	OpInitCluster      OpcodeType = "OP_INIT_CLUSTER"
	OpVerifyCluster    OpcodeType = "OP_VERIFY_CLUSTER"
	OpAddNode          OpcodeType = "OP_ADD_NODE"
	OpRemoveNode       OpcodeType = "OP_REMOVE_NODE"
	OpCreateInstance   OpcodeType = "OP_CREATE_INSTANCE"
	OpRemoveInstance   OpcodeType = "OP_REMOVE_INSTANCE"
	OpStartInstance    OpcodeType = "OP_START_INSTANCE"
	OpShutdownInstance OpcodeType = "OP_SHUTDOWN_INSTANCE"
	OpFailoverInstance OpcodeType = "OP_FAILOVER_INSTANCE"
	OpMigrateInstance  OpcodeType = "OP_MIGRATE_INSTANCE"
	OpReplaceDisks     OpcodeType = "OP_REPLACE_DISKS"
	OpExportInstance   OpcodeType = "OP_EXPORT_INSTANCE"
	OpImportInstance   OpcodeType = "OP_IMPORT_INSTANCE"
)

// Opcode is one tagged, typed administrative operation within a Job.
type Opcode struct {
	Type     OpcodeType
	Priority int
	DryRun   bool
	Depends  []int // indices into the owning Job's Opcodes that must finish first
	Comment  string

	// Fields is the opcode-specific argument bag; each LU type-asserts the
	// concrete fields it expects (see pkg/lu).
	Fields map[string]interface{}
}

// Secret holds a piece of sensitive data encrypted at rest with the
// cluster's AES-256-GCM key (pkg/security.SecretsManager). Instances that
// need a credential at boot time, a cloud-init user-data blob or a
// registry auth token, for example, reference a Secret by ID rather than
// carrying it in their own Fields.
type Secret struct {
	ID        string
	Name      string
	Data      []byte // encrypted with AES-256-GCM
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job is an ordered list of Opcodes submitted and executed as one unit.
type Job struct {
	ID       int64
	Opcodes  []*Opcode
	Status   JobStatus
	Results  []interface{}
	Error    string
	SubmitAt time.Time
	StartAt  time.Time
	EndAt    time.Time
}
