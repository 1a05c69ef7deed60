package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	out, err := execute("--version")
	require.NoError(t, err)
	assert.Equal(t, "server version "+version+"\n", out)
}

func TestSettingsErrorsStopBeforeServing(t *testing.T) {
	_, err := execute("--config", filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "failed to read settings file")

	path := filepath.Join(t.TempDir(), "server.yml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mysql\n"), 0o644))
	_, err = execute("--config", path)
	assert.ErrorContains(t, err, `unsupported driver "mysql"`)
}

func TestRejectsPositionalArgs(t *testing.T) {
	_, err := execute("configs/server.yml")
	assert.Error(t, err)
}

func TestSameFile(t *testing.T) {
	assert.True(t, sameFile("configs/config.yml", "./configs/../configs/config.yml"))
	assert.False(t, sameFile("configs/config.yml", "configs/other.yml"))
}
