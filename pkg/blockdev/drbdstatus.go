package blockdev

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fleetctl/pkg/types"
)

// minorHeaderRe matches a /proc/drbd per-minor header line, e.g.:
// " 0: cs:Connected ro:Primary/Secondary ds:UpToDate/UpToDate C r-----"
var minorHeaderRe = regexp.MustCompile(`^\s*(\d+):\s+cs:(\S+)\s+ro:(\S+)/(\S+)\s+ds:(\S+)/(\S+)`)

// syncLineRe matches the "sync'ed: NN.N%" progress line that follows a
// resyncing minor's header.
var syncLineRe = regexp.MustCompile(`sync'ed:\s*([\d.]+)%.*finish:\s*([\d:.]+)`)

// ParseProcDRBD parses the contents of /proc/drbd into one
// DRBDMinorState per minor.
func ParseProcDRBD(contents string) ([]types.DRBDMinorState, error) {
	var states []types.DRBDMinorState
	var cur *types.DRBDMinorState

	scanner := bufio.NewScanner(strings.NewReader(contents))
	for scanner.Scan() {
		line := scanner.Text()
		if m := minorHeaderRe.FindStringSubmatch(line); m != nil {
			if cur != nil {
				states = append(states, *cur)
			}
			minor, _ := strconv.Atoi(m[1])
			cur = &types.DRBDMinorState{
				Minor:      minor,
				Conn:       types.DRBDConnState(m[2]),
				LocalRole:  types.DRBDRole(m[3]),
				RemoteRole: types.DRBDRole(m[4]),
				LocalDisk:  types.DRBDDiskState(m[5]),
				RemoteDisk: types.DRBDDiskState(m[6]),
			}
			continue
		}
		if cur == nil {
			continue
		}
		if m := syncLineRe.FindStringSubmatch(line); m != nil {
			pct, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				cur.SyncPercent = &pct
			}
			if eta, err := parseDRBDDuration(m[2]); err == nil {
				cur.SyncETA = &eta
			}
		}
	}
	if cur != nil {
		states = append(states, *cur)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse /proc/drbd: %w", err)
	}
	return states, nil
}

// parseDRBDDuration parses drbdsetup's "H:MM:SS" or "MM:SS.t" finish-ETA
// format into a time.Duration.
func parseDRBDDuration(s string) (time.Duration, error) {
	s = strings.TrimSuffix(s, ".")
	parts := strings.Split(s, ":")
	var h, m int
	var sec float64
	var err error
	switch len(parts) {
	case 3:
		h, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, err
		}
		m, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, err
		}
		sec, err = strconv.ParseFloat(parts[2], 64)
	case 2:
		m, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, err
		}
		sec, err = strconv.ParseFloat(parts[1], 64)
	default:
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}
	if err != nil {
		return 0, err
	}
	total := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second))
	return total, nil
}

// ReadProcDRBD reads and parses /proc/drbd from disk.
func ReadProcDRBD() ([]types.DRBDMinorState, error) {
	data, err := os.ReadFile("/proc/drbd")
	if err != nil {
		return nil, fmt.Errorf("read /proc/drbd: %w", err)
	}
	return ParseProcDRBD(string(data))
}

// minorState looks up one minor's state from /proc/drbd, returning
// (nil, nil) if the minor is not present (unconfigured).
func minorState(minor int) (*types.DRBDMinorState, error) {
	states, err := ReadProcDRBD()
	if err != nil {
		return nil, err
	}
	for i := range states {
		if states[i].Minor == minor {
			return &states[i], nil
		}
	}
	return nil, nil
}
