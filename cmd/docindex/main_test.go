package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
index:
  root: %s
  type: flat
  chunk_size: 60
  chunk_overlap: 0
embed:
  provider: hash
  dimensions: 256
database:
  enable: false
log:
  level: error
`, filepath.Join(dir, "index"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return dir, path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buildName, queryK, withScores = "", 0, false
	enqueueName, enqueueWait, enqueueIn = "", false, 0

	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLIBuildQueryDelete(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	env := filepath.Join(dir, ".env")

	// 每句补齐到一个分块宽度
	var sb strings.Builder
	for _, s := range []string{
		"The quick brown fox jumps over the lazy dog.",
		"Quantum mechanics describes nature at small scales.",
		"Apple pie is a traditional dessert recipe.",
	} {
		sb.WriteString(s + strings.Repeat(" ", 60-len(s)))
	}
	text := sb.String()
	docPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(docPath, []byte(text), 0o644))

	out, err := runCLI(t, "--config", cfgPath, "--env-file", env, "build", "--file", docPath)
	require.NoError(t, err)

	var res services.BuildResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Skipped)
	assert.Len(t, res.DocumentID, document.IdentityLength)
	assert.Equal(t, 3, res.ChunkCount)

	out, err = runCLI(t, "--config", cfgPath, "--env-file", env, "query", res.DocumentID, "apple pie dessert", "-k", "1")
	require.NoError(t, err)
	assert.Equal(t, "[1] Apple pie is a traditional dessert recipe.\n", out)

	out, err = runCLI(t, "--config", cfgPath, "--env-file", env, "list")
	require.NoError(t, err)
	assert.Contains(t, out, res.DocumentID)
	assert.Contains(t, out, "notes.txt")

	out, err = runCLI(t, "--config", cfgPath, "--env-file", env, "delete", res.DocumentID)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	out, err = runCLI(t, "--config", cfgPath, "--env-file", env, "query", res.DocumentID, "apple")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCLIBuildSkipsShortText(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	docPath := filepath.Join(dir, "short.txt")
	require.NoError(t, os.WriteFile(docPath, []byte("  too short  "), 0o644))

	out, err := runCLI(t, "--config", cfgPath, "--env-file", filepath.Join(dir, ".env"), "build", "--file", docPath)
	require.NoError(t, err)

	var res services.BuildResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Skipped)
	assert.Equal(t, services.ReasonTooShort, res.Reason)
	assert.Empty(t, res.DocumentID)
}

func TestCLIEnqueueDelayedAndListTasks(t *testing.T) {
	mr := miniredis.RunT(t)
	dir, cfgPath := writeConfig(t)
	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "queue:\n  redis_addr: %s\n", mr.Addr())
	require.NoError(t, err)
	require.NoError(t, f.Close())
	env := filepath.Join(dir, ".env")

	text := "Quantum mechanics describes nature at small scales."
	docPath := filepath.Join(dir, "physics.txt")
	require.NoError(t, os.WriteFile(docPath, []byte(text), 0o644))
	id := document.Identify(text)

	out, err := runCLI(t, "--config", cfgPath, "--env-file", env, "enqueue", "--file", docPath, "--delay", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "for document "+id)

	out, err = runCLI(t, "--config", cfgPath, "--env-file", env, "tasks", id)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "index:build")
	assert.Contains(t, lines[1], "pending")

	_, err = runCLI(t, "--config", cfgPath, "--env-file", env, "tasks", "not-an-id")
	assert.Error(t, err)
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "notes.txt", sourceName("/tmp/docs/notes.txt", ""))
	assert.Equal(t, "custom", sourceName("/tmp/docs/notes.txt", "custom"))
	assert.Equal(t, "", sourceName("-", ""))
}
