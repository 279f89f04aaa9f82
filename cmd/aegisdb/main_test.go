package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_SQLite(t *testing.T) {
	t.Setenv("AEGIS_DB_DATABASE_DATABASE", ":memory:")
	t.Setenv("AEGIS_DB_LOG_LEVEL", "error")

	out, err := run(t, "--type", "sqlite", "ping")
	require.NoError(t, err)
	assert.Equal(t, "sqlite: ok\n", out)

	out, err = run(t, "--type", "sqlite", "query", "SELECT ? AS v", "aegis")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "aegis", rows[0]["v"])

	_, err = run(t, "--type", "sqlite", "query", "DELETE FROM x")
	assert.ErrorContains(t, err, "query rejected")

	_, err = run(t, "--type", "sqlite", "columns", "definitely_missing_table")
	assert.ErrorContains(t, err, "does not exist")
}

func TestCommands_UnsupportedType(t *testing.T) {
	_, err := run(t, "--type", "oracle", "ping")
	assert.ErrorContains(t, err, "unsupported database type")
}
