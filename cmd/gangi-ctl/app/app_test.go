package app

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSetThenDumpRoundTrips(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "pool0.yaml")

	_, err := runCLI(t, "set", "-p", "0", "--config", cfg, "--num-cpus", "4",
		"-d", "1", "-c", "0,1", "-t", "tt,100,20,sf")
	require.NoError(t, err)

	out, err := runCLI(t, "dump", "-p", "0", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "DOMID")
	assert.Contains(t, out, "TimeTriggered")
}

func TestSetSecondDomainKeepsFirst(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "pool0.yaml")

	_, err := runCLI(t, "set", "-p", "0", "--config", cfg, "--num-cpus", "4",
		"-d", "1", "-c", "0,1", "-t", "no")
	require.NoError(t, err)

	_, err = runCLI(t, "set", "-p", "0", "--config", cfg,
		"-d", "2", "-c", "2,3", "-t", "be,256")
	require.NoError(t, err)

	out, err := runCLI(t, "dump", "-p", "0", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Exclusive")
	assert.Contains(t, out, "BestEffort")
}

func TestSetRejectsOverlappingExclusiveDomains(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "pool0.yaml")

	_, err := runCLI(t, "set", "-p", "0", "--config", cfg, "--num-cpus", "4",
		"-d", "1", "-c", "0,1", "-t", "no")
	require.NoError(t, err)

	_, err = runCLI(t, "set", "-p", "0", "--config", cfg,
		"-d", "2", "-c", "1,2", "-t", "no")
	require.Error(t, err)
}

func TestDumpUnknownPoolFails(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := runCLI(t, "dump", "-p", "0", "--config", cfg)
	require.Error(t, err)
}

func TestDumpSingleDomain(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "pool0.yaml")
	_, err := runCLI(t, "set", "-p", "0", "--config", cfg, "--num-cpus", "4",
		"-d", "1", "-c", "0,1", "-t", "no")
	require.NoError(t, err)

	out, err := runCLI(t, "dump", "-p", "0", "--config", cfg, "-d", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Exclusive")

	_, err = runCLI(t, "dump", "-p", "0", "--config", cfg, "-d", "9")
	require.Error(t, err)
}
