package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTestConfig returns a config with a persistent default store and a
// memory store that only lives for a single command.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	content := fmt.Sprintf(`
logging:
  level: error
stores:
  - id: default
    type: sqlite
    settings:
      dsn: %q
  - id: scratch
    type: memory
`, filepath.Join(dir, "default.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, configPath, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", configPath}, args...))

	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestFileCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	run := func(stdin string, args ...string) string {
		t.Helper()
		out, err := execute(t, cfg, stdin, args...)
		require.NoError(t, err, "cachefs %s", strings.Join(args, " "))
		return out
	}

	run("hello", "put", "-p", "/docs/a.txt")
	require.Equal(t, "hello", run("", "cat", "/docs/a.txt"))
	require.Equal(t, "docs/\n", run("", "ls"))
	require.Equal(t, "a.txt\n", run("", "ls", "/docs"))

	run("x", "put", "/docs/.hidden", "-")
	require.Equal(t, "a.txt\n", run("", "ls", "/docs"))
	require.Equal(t, ".hidden\na.txt\n", run("", "ls", "-a", "/docs"))

	run("", "cp", "/docs/a.txt", "/docs/b.txt")
	_, err := execute(t, cfg, "", "cp", "/docs/a.txt", "/docs/b.txt")
	require.Error(t, err)
	run("", "cp", "--force", "/docs/a.txt", "/docs/b.txt")

	run("", "mkdir", "/backup")
	run("", "cp", "/docs/a.txt", "/backup")
	require.Equal(t, "hello", run("", "cat", "/backup/a.txt"))

	run("", "mv", "/docs/b.txt", "/docs/c.txt")
	_, err = execute(t, cfg, "", "cat", "/docs/b.txt")
	require.Error(t, err)
	require.Equal(t, "hello", run("", "cat", "cache://default/docs/c.txt"))

	require.Equal(t, "/backup/a.txt\n/docs/a.txt\n/docs/c.txt\n", run("", "find", "--name", "*.txt"))
	require.Equal(t, "/docs/.hidden\n/docs/a.txt\n/docs/c.txt\n", run("", "find", "/docs", "--type", "f"))
	require.Equal(t, "/\n/backup\n/docs\n", run("", "find", "--type", "d"))

	_, err = execute(t, cfg, "", "rm", "/docs")
	require.Error(t, err)
	run("", "rm", "-r", "/docs")
	require.Equal(t, "backup/\n", run("", "ls"))

	_, err = execute(t, cfg, "", "rm", "/missing")
	require.Error(t, err)
	run("", "rm", "-f", "/missing")
}

func TestStatCommand(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, cfg, "hello", "put", "/a.txt")
	require.NoError(t, err)

	out, err := execute(t, cfg, "", "stat", "-o", "json", "/a.txt")
	require.NoError(t, err)

	var results []StatResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	require.Equal(t, "a.txt", results[0].Name)
	require.Equal(t, "file", results[0].Type)
	require.Equal(t, int64(5), results[0].Size)
	require.Equal(t, "cache://default/a.txt", results[0].URI)
	require.Equal(t, "default:/a.txt", results[0].FileKey)

	out, err = execute(t, cfg, "", "stat", "/a.txt")
	require.NoError(t, err)
	require.Contains(t, out, "5 B (5 bytes)")

	_, err = execute(t, cfg, "", "stat", "-o", "xml", "/a.txt")
	require.ErrorContains(t, err, "invalid output format")
}

func TestCrossStoreCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := execute(t, cfg, "hello", "put", "/a.txt")
	require.NoError(t, err)

	_, err = execute(t, cfg, "", "mv", "/a.txt", "cache://scratch/a.txt")
	require.NoError(t, err)

	out, err := execute(t, cfg, "", "ls")
	require.NoError(t, err)
	require.Empty(t, out)

	// The scratch store is a memory store, so the moved file is gone again.
	_, err = execute(t, cfg, "", "--store", "scratch", "cat", "/a.txt")
	require.Error(t, err)

	_, err = execute(t, cfg, "", "ls", "cache://unknown/")
	require.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, cfg, "", "config", "validate")
	require.NoError(t, err)
	require.Equal(t, "Configuration is valid (2 stores)\n", out)

	out, err = execute(t, cfg, "", "config", "show")
	require.NoError(t, err)
	require.Contains(t, out, "id: scratch")
	require.Contains(t, out, "level: ERROR")

	out, err = execute(t, cfg, "", "stores")
	require.NoError(t, err)
	require.Contains(t, out, "cache://scratch/")

	path := filepath.Join(t.TempDir(), "init.yaml")
	_, err = execute(t, path, "", "config", "init")
	require.NoError(t, err)
	_, err = execute(t, path, "", "config", "init")
	require.ErrorContains(t, err, "already exists")

	out, err = execute(t, path, "", "config", "validate")
	require.NoError(t, err)
	require.Equal(t, "Configuration is valid (1 stores)\n", out)
}
