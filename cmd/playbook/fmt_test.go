package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unformatted = "  @task   --prompt hello\n"

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunFmtPrintsFormatted(t *testing.T) {
	path := writeDoc(t, unformatted)

	var out bytes.Buffer
	require.NoError(t, runFmt(path, NewFmtConfig(), &out))
	assert.Equal(t, "@task --prompt \"hello\"\n", out.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, unformatted, string(data), "file must be untouched without --write")
}

func TestRunFmtDiff(t *testing.T) {
	path := writeDoc(t, unformatted)

	var out bytes.Buffer
	require.NoError(t, runFmt(path, &FmtConfig{Diff: true}, &out))
	assert.Contains(t, out.String(), "-  @task   --prompt hello")
	assert.Contains(t, out.String(), "+@task --prompt \"hello\"")
}

func TestRunFmtWrite(t *testing.T) {
	path := writeDoc(t, unformatted)

	var out bytes.Buffer
	require.NoError(t, runFmt(path, &FmtConfig{Write: true}, &out))
	assert.Empty(t, out.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "@task --prompt \"hello\"\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out.Reset()
	require.NoError(t, runFmt(path, &FmtConfig{Diff: true}, &out))
	assert.Empty(t, out.String(), "formatted file has no diff")
}

func TestRunFmtRejectsParseErrors(t *testing.T) {
	path := writeDoc(t, "@task --prompt \"unterminated\n")

	var out bytes.Buffer
	err := runFmt(path, &FmtConfig{Write: true}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "@task --prompt \"unterminated\n", string(data))
}

func TestRunFmtMissingFile(t *testing.T) {
	err := runFmt(filepath.Join(t.TempDir(), "missing.md"), NewFmtConfig(), &bytes.Buffer{})
	assert.Error(t, err)
}
