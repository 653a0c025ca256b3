package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombineTakesMinPercentMaxETA(t *testing.T) {
	acc := SyncStatus{SyncPercent: 80, ETASeconds: 10}
	child := SyncStatus{SyncPercent: 40, ETASeconds: 30, Degraded: true}

	out := combine(acc, child)
	assert.Equal(t, 40.0, out.SyncPercent)
	assert.Equal(t, 30.0, out.ETASeconds)
	assert.True(t, out.Degraded)
}

func TestCombineIgnoresNegativePercent(t *testing.T) {
	acc := SyncStatus{SyncPercent: 50, ETASeconds: -1}
	child := SyncStatus{SyncPercent: -1, ETASeconds: -1}

	out := combine(acc, child)
	assert.Equal(t, 50.0, out.SyncPercent)
}
