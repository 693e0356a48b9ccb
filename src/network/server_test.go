package network_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffasante/kv-store/src/client"
	"github.com/jeffasante/kv-store/src/config"
	"github.com/jeffasante/kv-store/src/network"
	"github.com/jeffasante/kv-store/src/replication"
	"github.com/jeffasante/kv-store/src/store"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		SnapshotPath:      filepath.Join(t.TempDir(), "db.json"),
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
		DialTimeout:       time.Second,
		QueueSize:         64,
	}
}

// startNode brings up a full node on a loopback port.
func startNode(t *testing.T, role replication.Role, primaryAddr string) (string, *store.Store, *replication.Manager) {
	t.Helper()

	cfg := testConfig(t)
	st := store.New(cfg.SnapshotPath)
	repl := replication.NewManager(st, cfg, nil)

	if role == replication.RolePrimary {
		repl.StartPrimary()
	} else {
		repl.StartBackup(primaryAddr)
	}

	srv := network.NewServer(st, repl, "127.0.0.1:0", nil)
	require.NoError(t, srv.Start())
	go srv.Serve()

	t.Cleanup(func() {
		srv.Close()
		repl.Stop()
	})
	return srv.Addr(), st, repl
}

func TestClientServerOperations(t *testing.T) {
	addr, _, _ := startNode(t, replication.RolePrimary, "")
	cl := client.New(addr)

	require.NoError(t, cl.Put("network_key", "network_value"))

	value, ok, err := cl.Get("network_key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "network_value", value)

	keys, err := cl.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "network_key")

	existed, err := cl.Delete("network_key")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err = cl.Get("network_key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutValueWithSpaces(t *testing.T) {
	addr, st, _ := startNode(t, replication.RolePrimary, "")
	cl := client.New(addr)

	require.NoError(t, cl.Put("greeting", "hello there world"))

	value, ok := st.Get("greeting")
	assert.True(t, ok)
	assert.Equal(t, "hello there world", value)
}

func TestDeleteAbsentKey(t *testing.T) {
	addr, _, _ := startNode(t, replication.RolePrimary, "")

	existed, err := client.New(addr).Delete("missing")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestParseErrorKeepsConnectionOpen(t *testing.T) {
	addr, _, _ := startNode(t, replication.RolePrimary, "")

	conn, err := client.New(addr).Connect()
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.Send("BOGUS nonsense")
	require.NoError(t, err)
	assert.Contains(t, resp, "ERROR")

	// Same connection still works.
	resp, err = conn.Send("PUT a 1")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)
}

func TestBackupRejectsClientWrites(t *testing.T) {
	addr, st, _ := startNode(t, replication.RoleBackup, "127.0.0.1:1")
	cl := client.New(addr)

	resp, err := cl.Send("PUT k v")
	require.NoError(t, err)
	assert.Equal(t, "ERROR not primary", resp)

	resp, err = cl.Send("DELETE k")
	require.NoError(t, err)
	assert.Equal(t, "ERROR not primary", resp)

	assert.Equal(t, 0, st.Len())

	// Reads are still served locally.
	resp, err = cl.Send("KEYS")
	require.NoError(t, err)
	assert.Equal(t, "KEYS", resp)
}

func TestHeartbeatLivenessProbe(t *testing.T) {
	addr, st, repl := startNode(t, replication.RoleBackup, "127.0.0.1:1")

	before := repl.LastHeartbeat()
	resp, err := client.New(addr).Send("HEARTBEAT")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)

	// Liveness only: timestamp advanced, store untouched.
	assert.True(t, repl.LastHeartbeat().After(before) || repl.LastHeartbeat().Equal(before))
	assert.Equal(t, 0, st.Len())
}

func TestReplicateAppliedOnBackup(t *testing.T) {
	addr, st, _ := startNode(t, replication.RoleBackup, "127.0.0.1:1")
	cl := client.New(addr)

	resp, err := cl.Send("REPLICATE PUT replicated some value")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)

	value, ok := st.Get("replicated")
	assert.True(t, ok)
	assert.Equal(t, "some value", value)

	resp, err = cl.Send("REPLICATE DELETE replicated")
	require.NoError(t, err)
	assert.Equal(t, "OK", resp)
	assert.Equal(t, 0, st.Len())
}

func TestReplicateRejectedOnPrimary(t *testing.T) {
	addr, _, _ := startNode(t, replication.RolePrimary, "")

	resp, err := client.New(addr).Send("REPLICATE PUT k v")
	require.NoError(t, err)
	assert.Equal(t, "ERROR not backup", resp)
}

func TestAddBackupRejectedOnBackup(t *testing.T) {
	addr, _, _ := startNode(t, replication.RoleBackup, "127.0.0.1:1")

	resp, err := client.New(addr).Send("ADD_BACKUP 127.0.0.1:9999")
	require.NoError(t, err)
	assert.Equal(t, "ERROR not primary", resp)
}
