package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHook(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
}

func TestRunnerOrdersAndRunsHooks(t *testing.T) {
	base := t.TempDir()
	hookDir := filepath.Join(base, "instance-add-pre.d")
	require.NoError(t, os.MkdirAll(hookDir, 0755))

	writeHook(t, hookDir, "20-second", "#!/bin/sh\necho second\n")
	writeHook(t, hookDir, "10-first", "#!/bin/sh\necho first\n")

	r := NewRunner(base)
	results, err := r.Run(context.Background(), "instance-add", PhasePre, map[string]string{"INSTANCE_NAME": "vm1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "10-first", results[0].Name)
	assert.Equal(t, "20-second", results[1].Name)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
}

func TestRunnerSkipsNonExecutableAndBadNames(t *testing.T) {
	base := t.TempDir()
	hookDir := filepath.Join(base, "instance-add-pre.d")
	require.NoError(t, os.MkdirAll(hookDir, 0755))

	writeHook(t, hookDir, "not executable!", "#!/bin/sh\necho bad\n")
	require.NoError(t, os.Chmod(filepath.Join(hookDir, "not executable!"), 0644))

	r := NewRunner(base)
	results, err := r.Run(context.Background(), "instance-add", PhasePre, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSkip, results[0].Outcome)
}

func TestRunnerReportsFailure(t *testing.T) {
	base := t.TempDir()
	hookDir := filepath.Join(base, "instance-add-pre.d")
	require.NoError(t, os.MkdirAll(hookDir, 0755))
	writeHook(t, hookDir, "10-fails", "#!/bin/sh\necho oops\nexit 1\n")

	r := NewRunner(base)
	results, err := r.Run(context.Background(), "instance-add", PhasePre, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFail, results[0].Outcome)
	assert.Error(t, results[0].Err)
}

func TestRunnerMissingDirIsNotAnError(t *testing.T) {
	base := t.TempDir()
	r := NewRunner(base)
	results, err := r.Run(context.Background(), "no-such-hook", PhasePre, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBoundedBufferTruncates(t *testing.T) {
	var b boundedBuffer
	b.limit = 4
	n, err := b.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "abcd", b.String())
}
