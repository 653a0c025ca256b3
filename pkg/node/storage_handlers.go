package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/rpc"
)

const storageQueryTimeout = 15 * time.Second

// vgInfo is one row of vg_list's output.
type vgInfo struct {
	Name    string
	FreeMiB float64
	SizeMiB float64
}

// lvInfo is one row of lv_list's output.
type lvInfo struct {
	VG      string
	Name    string
	SizeMiB float64
}

// runLVMQuery runs an LVM reporting tool (vgs/lvs/pvs) with the
// --noheadings --nosuffix --units=m --separator=<c> convention 
// specifies for storage introspection, and splits the output into fields.
func runLVMQuery(tool string, fields string) ([][]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storageQueryTimeout)
	defer cancel()

	const sep = "|"
	cmd := exec.CommandContext(ctx, tool, "--noheadings", "--nosuffix", "--units=m", "--separator="+sep, "-o", fields)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", tool, err, out.String())
	}

	var rows [][]string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rows = append(rows, strings.Split(line, sep))
	}
	return rows, nil
}

func (d *Dispatcher) registerStorage(srv *rpc.Server) {
	srv.Register("vg_list", d.vgList)
	srv.Register("lv_list", d.lvList)
	srv.Register("node_volumes", d.nodeVolumes)
	srv.Register("bridges_exist", d.bridgesExist)
}

func (d *Dispatcher) vgList(args []json.RawMessage) (bool, interface{}) {
	rows, err := runLVMQuery("vgs", "vg_name,vg_free,vg_size")
	if err != nil {
		return fail(err)
	}
	vgs := make([]vgInfo, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		free, _ := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		size, _ := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		vgs = append(vgs, vgInfo{Name: strings.TrimSpace(row[0]), FreeMiB: free, SizeMiB: size})
	}
	return ok(vgs)
}

func (d *Dispatcher) lvList(args []json.RawMessage) (bool, interface{}) {
	rows, err := runLVMQuery("lvs", "vg_name,lv_name,lv_size")
	if err != nil {
		return fail(err)
	}
	lvs := make([]lvInfo, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		size, _ := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		lvs = append(lvs, lvInfo{VG: strings.TrimSpace(row[0]), Name: strings.TrimSpace(row[1]), SizeMiB: size})
	}
	return ok(lvs)
}

// pvInfo is one row of node_volumes' output.
type pvInfo struct {
	Name    string
	VG      string
	FreeMiB float64
}

func (d *Dispatcher) nodeVolumes(args []json.RawMessage) (bool, interface{}) {
	rows, err := runLVMQuery("pvs", "pv_name,vg_name,pv_free")
	if err != nil {
		return fail(err)
	}
	pvs := make([]pvInfo, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		free, _ := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		pvs = append(pvs, pvInfo{Name: strings.TrimSpace(row[0]), VG: strings.TrimSpace(row[1]), FreeMiB: free})
	}
	return ok(pvs)
}

func (d *Dispatcher) bridgesExist(args []json.RawMessage) (bool, interface{}) {
	var names []string
	if err := decodeArg(args, 0, &names); err != nil {
		return fail(err)
	}
	missing := make([]string, 0)
	for _, name := range names {
		if _, err := net.InterfaceByName(name); err != nil {
			missing = append(missing, name)
		}
	}
	return ok(missing)
}
