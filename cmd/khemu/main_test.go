package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDoMainUsageOnNoArgs(t *testing.T) {
	var stderr bytes.Buffer
	code := doMain(nil, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "usage: khemu")
}

func TestDoMainHelp(t *testing.T) {
	var stderr bytes.Buffer
	code := doMain([]string{"-h"}, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stderr.String(), "usage: khemu")
}

func TestDoMainMissingFile(t *testing.T) {
	var stderr bytes.Buffer
	code := doMain([]string{"/nonexistent/does-not-exist.elf"}, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "failed to read")
}
