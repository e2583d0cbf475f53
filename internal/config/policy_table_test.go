package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPolicyTable_SeedsBuiltInDefaults(t *testing.T) {
	table := NewPolicyTable(zap.NewNop())

	tx, ok := table.Get("TX")
	require.True(t, ok)
	require.Equal(t, "TX", tx.StateCode)

	_, ok = table.Get("ZZ")
	require.False(t, ok)
}

func TestLoadFile_OverridesNamedStateAndKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"TX":{"StateCode":"TX","GeofenceRadiusMeters":250}}`), 0o644))

	table := NewPolicyTable(zap.NewNop())
	require.NoError(t, table.LoadFile(path))

	tx, ok := table.Get("TX")
	require.True(t, ok)
	require.Equal(t, 250.0, tx.GeofenceRadiusMeters)

	fl, ok := table.Get("FL")
	require.True(t, ok)
	require.Equal(t, 150.0, fl.GeofenceRadiusMeters)
}

func TestLoadFile_RejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	table := NewPolicyTable(zap.NewNop())
	require.Error(t, table.LoadFile(path))
}

func TestWatchFile_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"TX":{"StateCode":"TX","GeofenceRadiusMeters":100}}`), 0o644))

	table := NewPolicyTable(zap.NewNop())
	require.NoError(t, table.LoadFile(path))
	require.NoError(t, table.WatchFile(path))
	defer table.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"TX":{"StateCode":"TX","GeofenceRadiusMeters":333}}`), 0o644))

	require.Eventually(t, func() bool {
		row, _ := table.Get("TX")
		return row.GeofenceRadiusMeters == 333.0
	}, 2*time.Second, 20*time.Millisecond)
}
