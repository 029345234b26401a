package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "factflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: openai
sources:
  - name: kb
    kind: http
    endpoint: http://localhost:8081/search
`)
	out, err := execute(t, "--env-file", "", "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")
	assert.Contains(t, out, "sources=1")
}

func TestConfigValidateRejectsBadSource(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: jira
    kind: http
`)
	_, err := execute(t, "--env-file", "", "--config", path, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sources[0].name")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := writeConfig(t, `
provider:
  name: openai
  api_key: sk-secret
`)
	out, err := execute(t, "--env-file", "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "********")
}

func TestEnvFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("FACTFLOW_SESSION_BACKEND=bogus\n"), 0o600))
	t.Setenv("FACTFLOW_SESSION_BACKEND", "")
	require.NoError(t, os.Unsetenv("FACTFLOW_SESSION_BACKEND"))

	_, err := execute(t, "--env-file", env, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.backend")
}

func TestHistoryOfUnknownSession(t *testing.T) {
	out, err := execute(t, "--env-file", "", "history", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "session nobody has no history")
}

func TestClosersRunInReverse(t *testing.T) {
	var order []int
	var c closers
	c.add(func() error { order = append(order, 1); return nil })
	c.add(nil)
	c.add(func() error { order = append(order, 2); return errors.New("second failed") })

	err := c.Close()
	assert.EqualError(t, err, "second failed")
	assert.Equal(t, []int{2, 1}, order)
}
