package hypervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDominfo(t *testing.T) {
	out := `Id:             3
Name:           vm1.example.com
UUID:           1234
OS Type:        hvm
State:          running
CPU(s):         2
CPU time:       12.3s
Max memory:     2097152 KiB
Used memory:    2097152 KiB
`
	info := parseDominfo("vm1.example.com", out)
	assert.Equal(t, "running", info.State)
	assert.Equal(t, 2, info.VCPUs)
	assert.Equal(t, int64(2097152), info.MemoryKiB)
	assert.Equal(t, time.Duration(12.3*float64(time.Second)), info.CPUTime)
}

func TestParseDominfoIgnoresUnknownFields(t *testing.T) {
	info := parseDominfo("vm1", "Some: thing\n")
	assert.Equal(t, "vm1", info.Name)
	assert.Empty(t, info.State)
}
