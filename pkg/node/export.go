package node

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/blockdev"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
)

const snapshotTimeout = 2 * time.Minute

// snapshotArgs is the blockdev_snapshot argument shape: the disk to
// snapshot plus a size for the LVM snapshot's copy-on-write space.
type snapshotArgs struct {
	Disk       types.Disk
	SizeMiB    int64
}

// snapshotHandler creates a short-lived LVM snapshot of a plain or DRBD8
// data volume for blockdev_export to read from, so the export doesn't
// require quiescing the running instance.
func snapshotHandler(d *Dispatcher) rpc.Handler {
	return func(args []json.RawMessage) (bool, interface{}) {
		var a snapshotArgs
		if err := decodeArg(args, 0, &a); err != nil {
			return fail(err)
		}

		lv, err := dataLV(&a.Disk)
		if err != nil {
			return fail(err)
		}

		snapName := lv.Name + ".snap"
		ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
		defer cancel()
		out, err := exec.CommandContext(ctx, "lvcreate",
			"--snapshot", "--size", fmt.Sprintf("%dm", a.SizeMiB),
			"--name", snapName, fmt.Sprintf("%s/%s", lv.VG, lv.Name)).CombinedOutput()
		if err != nil {
			return fail(fmt.Errorf("lvcreate snapshot: %w: %s", err, out))
		}
		return ok(types.LVLogicalID{VG: lv.VG, Name: snapName})
	}
}

// dataLV extracts the data logical volume backing disk, following into
// the DRBD8 data child when the disk is DRBD8-backed.
func dataLV(disk *types.Disk) (*types.LVLogicalID, error) {
	switch disk.DevType {
	case types.DevTypeLV:
		return disk.LV, nil
	case types.DevTypeDRBD8:
		if len(disk.Children) != 2 || disk.Children[0].LV == nil {
			return nil, fmt.Errorf("drbd8 disk %s missing data child", disk.IVName)
		}
		return disk.Children[0].LV, nil
	default:
		return nil, fmt.Errorf("disk %s: snapshot not supported for devtype %s", disk.IVName, disk.DevType)
	}
}

// exportArgs holds the blockdev_export arguments, passed positionally:
// the instance and the export directory.
type exportArgs struct {
	Instance   types.Instance
	ExportDir  string
}

// exportHandler writes the export archive described in :
// one gzip-compressed disk<N>_dump file per disk plus a config.ini,
// published atomically via a .new staging directory and rename.
func exportHandler(d *Dispatcher) rpc.Handler {
	return func(args []json.RawMessage) (bool, interface{}) {
		var a exportArgs
		if err := decodeArg(args, 0, &a.Instance); err != nil {
			return fail(err)
		}
		if err := decodeArg(args, 1, &a.ExportDir); err != nil {
			return fail(err)
		}

		finalDir := filepath.Join(a.ExportDir, a.Instance.Name)
		stagingDir := finalDir + ".new"
		if err := os.RemoveAll(stagingDir); err != nil {
			return fail(err)
		}
		if err := os.MkdirAll(stagingDir, 0750); err != nil {
			return fail(err)
		}

		diskSizes := make([]int64, len(a.Instance.Disks))
		for i, disk := range a.Instance.Disks {
			dev, err := d.deviceFor(disk)
			if err != nil {
				return fail(err)
			}
			size, err := dumpDisk(dev, stagingDir, i)
			if err != nil {
				return fail(err)
			}
			diskSizes[i] = size
		}

		if err := writeExportConfig(stagingDir, &a.Instance, diskSizes); err != nil {
			return fail(err)
		}

		if err := os.RemoveAll(finalDir); err != nil {
			return fail(err)
		}
		if err := os.Rename(stagingDir, finalDir); err != nil {
			return fail(err)
		}
		return ok(finalDir)
	}
}

func dumpDisk(dev blockdev.Device, stagingDir string, idx int) (int64, error) {
	src, err := os.Open(dev.DevPath())
	if err != nil {
		return 0, fmt.Errorf("open disk %d for export: %w", idx, err)
	}
	defer src.Close()

	dstPath := filepath.Join(stagingDir, fmt.Sprintf("disk%d_dump", idx))
	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	n, err := io.Copy(gz, src)
	if err != nil {
		gz.Close()
		return 0, fmt.Errorf("dump disk %d: %w", idx, err)
	}
	if err := gz.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

// writeExportConfig writes config.ini  [export]/[instance]
// section layout. No INI library exists anywhere in the example corpus,
// so this is hand-written text rather than borrowed from a dependency.
func writeExportConfig(dir string, inst *types.Instance, diskSizes []int64) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[export]\n")
	fmt.Fprintf(&buf, "version = 1\n")
	fmt.Fprintf(&buf, "timestamp = %d\n", time.Now().Unix())
	fmt.Fprintf(&buf, "source = %s\n", inst.PrimaryNode)
	fmt.Fprintf(&buf, "os = %s\n", inst.OS)
	fmt.Fprintf(&buf, "compression = gzip\n\n")

	fmt.Fprintf(&buf, "[instance]\n")
	fmt.Fprintf(&buf, "name = %s\n", inst.Name)
	fmt.Fprintf(&buf, "disk_template = %s\n", inst.DiskTemplate)
	fmt.Fprintf(&buf, "disk_count = %d\n", len(inst.Disks))
	for i, disk := range inst.Disks {
		fmt.Fprintf(&buf, "disk%d_ivname = %s\n", i, disk.IVName)
		fmt.Fprintf(&buf, "disk%d_dump = disk%d_dump\n", i, i)
		fmt.Fprintf(&buf, "disk%d_size = %d\n", i, diskSizes[i])
	}
	fmt.Fprintf(&buf, "nic_count = %d\n", len(inst.NICs))
	for i, nic := range inst.NICs {
		fmt.Fprintf(&buf, "nic%d_mac = %s\n", i, nic.MAC)
		fmt.Fprintf(&buf, "nic%d_ip = %s\n", i, nic.IP)
		fmt.Fprintf(&buf, "nic%d_bridge = %s\n", i, nic.Bridge)
	}

	return os.WriteFile(filepath.Join(dir, "config.ini"), buf.Bytes(), 0640)
}

// importArgs holds the blockdev_import arguments, passed positionally:
// the already-created instance whose disks should receive the dumped
// contents, and the export archive directory written by exportHandler.
type importArgs struct {
	Instance  types.Instance
	ExportDir string
}

// importHandler reads the dump files config.ini describes and streams
// them onto the instance's already-assembled disks, the mirror image of
// exportHandler. The instance's disks must already exist (blockdev_create
// having run as part of instance creation) before import is invoked.
func importHandler(d *Dispatcher) rpc.Handler {
	return func(args []json.RawMessage) (bool, interface{}) {
		var a importArgs
		if err := decodeArg(args, 0, &a.Instance); err != nil {
			return fail(err)
		}
		if err := decodeArg(args, 1, &a.ExportDir); err != nil {
			return fail(err)
		}

		srcDir := filepath.Join(a.ExportDir, a.Instance.Name)
		cfg, err := readExportConfig(srcDir)
		if err != nil {
			return fail(err)
		}
		diskCount := cfg["instance"]["disk_count"]
		if diskCount == "" {
			return failf("config.ini for %s has no disk_count", a.Instance.Name)
		}

		for i, disk := range a.Instance.Disks {
			dev, err := d.deviceFor(disk)
			if err != nil {
				return fail(err)
			}
			dumpName := cfg["instance"][fmt.Sprintf("disk%d_dump", i)]
			if dumpName == "" {
				dumpName = fmt.Sprintf("disk%d_dump", i)
			}
			if err := restoreDisk(filepath.Join(srcDir, dumpName), dev); err != nil {
				return fail(fmt.Errorf("restore disk %d: %w", i, err))
			}
		}
		return ok(srcDir)
	}
}

func restoreDisk(dumpPath string, dev blockdev.Device) error {
	src, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return fmt.Errorf("open gzip dump: %w", err)
	}
	defer gz.Close()

	dst, err := os.OpenFile(dev.DevPath(), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, gz)
	return err
}

// readExportConfig parses the flat "[section]\nkey = value" INI format
// writeExportConfig produces. No INI library exists anywhere in the
// example corpus, so parsing is hand-written to mirror the hand-written
// writer rather than pulled in from an unused dependency.
func readExportConfig(dir string) (map[string]map[string]string, error) {
	f, err := os.Open(filepath.Join(dir, "config.ini"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]map[string]string{}
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			out[section] = map[string]string{}
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 || section == "" {
			continue
		}
		out[section][strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, scanner.Err()
}
