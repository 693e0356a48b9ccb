package replication_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffasante/kv-store/src/client"
	"github.com/jeffasante/kv-store/src/config"
	"github.com/jeffasante/kv-store/src/network"
	"github.com/jeffasante/kv-store/src/protocol"
	"github.com/jeffasante/kv-store/src/replication"
	"github.com/jeffasante/kv-store/src/store"
	"github.com/jeffasante/kv-store/src/util"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		SnapshotPath:      filepath.Join(t.TempDir(), "db.json"),
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  500 * time.Millisecond,
		DialTimeout:       500 * time.Millisecond,
		QueueSize:         64,
	}
}

type node struct {
	addr  string
	store *store.Store
	repl  *replication.Manager
}

func startNode(t *testing.T, role replication.Role, primaryAddr string) *node {
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
	return &node{addr: srv.Addr(), store: st, repl: repl}
}

func eventuallyHas(t *testing.T, st *store.Store, key, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		value, ok := st.Get(key)
		return ok && value == want
	}, 3*time.Second, 10*time.Millisecond, "key %q never converged to %q", key, want)
}

func TestPropagationToTwoBackups(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")
	b1 := startNode(t, replication.RoleBackup, primary.addr)
	b2 := startNode(t, replication.RoleBackup, primary.addr)

	cl := client.New(primary.addr)
	for _, backup := range []*node{b1, b2} {
		resp, err := cl.Send("ADD_BACKUP " + backup.addr)
		require.NoError(t, err)
		require.Equal(t, "OK", resp)
	}

	require.NoError(t, cl.Put("a", "1"))
	eventuallyHas(t, b1.store, "a", "1")
	eventuallyHas(t, b2.store, "a", "1")

	// Deletes propagate too.
	existed, err := cl.Delete("a")
	require.NoError(t, err)
	require.True(t, existed)

	require.Eventually(t, func() bool {
		_, ok := b1.store.Get("a")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUnreachableBackupDoesNotBlockOthers(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")
	live := startNode(t, replication.RoleBackup, primary.addr)

	cl := client.New(primary.addr)
	for _, addr := range []string{live.addr, "127.0.0.1:1"} {
		resp, err := cl.Send("ADD_BACKUP " + addr)
		require.NoError(t, err)
		require.Equal(t, "OK", resp)
	}

	// The primary's own write and the live backup are unaffected by the
	// unreachable one.
	require.NoError(t, cl.Put("a", "1"))

	value, ok := primary.store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", value)

	eventuallyHas(t, live.store, "a", "1")
}

func TestPerBackupOrdering(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")
	backup := startNode(t, replication.RoleBackup, primary.addr)

	cl := client.New(primary.addr)
	resp, err := cl.Send("ADD_BACKUP " + backup.addr)
	require.NoError(t, err)
	require.Equal(t, "OK", resp)

	// Pushes to one backup are delivered in issue order, so the backup
	// converges to the last write.
	for i := 1; i <= 20; i++ {
		require.NoError(t, cl.Put("counter", fmt.Sprintf("%d", i)))
	}
	eventuallyHas(t, backup.store, "counter", "20")
}

func TestHeartbeatMarksStaleWithoutEviction(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")
	live := startNode(t, replication.RoleBackup, primary.addr)

	require.NoError(t, primary.repl.AddBackup(live.addr))
	require.NoError(t, primary.repl.AddBackup("127.0.0.1:1"))

	require.Eventually(t, func() bool {
		var liveHealthy, deadStale bool
		for _, b := range primary.repl.Backups() {
			switch b.Addr {
			case live.addr:
				liveHealthy = b.Healthy
			case "127.0.0.1:1":
				deadStale = !b.Healthy
			}
		}
		return liveHealthy && deadStale
	}, 5*time.Second, 20*time.Millisecond)

	// Stale entries stay in the registry.
	assert.Len(t, primary.repl.Backups(), 2)
}

func TestConfiguredDialTimeoutBoundsStaleMark(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")

	// Non-routable address: the probe's dial can only fail via the
	// configured 500ms timeout, well inside the Eventually budget. The
	// default 5s dial timeout would blow it.
	require.NoError(t, primary.repl.AddBackup("10.255.255.1:9999"))

	require.Eventually(t, func() bool {
		backups := primary.repl.Backups()
		return len(backups) == 1 && !backups[0].Healthy
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUpstreamStalenessLoggedWithoutPromotion(t *testing.T) {
	hook := logrustest.NewGlobal()
	backup := startNode(t, replication.RoleBackup, "127.0.0.1:1")

	// No heartbeats arrive, so the upstream goes stale and is logged.
	require.Eventually(t, backup.repl.PrimaryStale, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, entry := range hook.AllEntries() {
			if entry.Message == "primary heartbeat stale" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// Staleness never promotes by itself.
	assert.Equal(t, replication.RoleBackup, backup.repl.Role())

	// A heartbeat clears the mark.
	backup.repl.RecordHeartbeat()
	assert.False(t, backup.repl.PrimaryStale())
}

func TestManualPromotion(t *testing.T) {
	backup := startNode(t, replication.RoleBackup, "127.0.0.1:1")
	cl := client.New(backup.addr)

	// Writes rejected before promotion.
	resp, err := cl.Send("PUT k v")
	require.NoError(t, err)
	require.Equal(t, "ERROR not primary", resp)

	resp, err = cl.Send("PROMOTE")
	require.NoError(t, err)
	require.Equal(t, "OK", resp)

	assert.Equal(t, replication.RolePrimary, backup.repl.Role())
	assert.Empty(t, backup.repl.PrimaryAddr())

	// Accepts writes afterwards.
	require.NoError(t, cl.Put("k", "v"))
	value, ok := backup.store.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestPromoteRejectedOnPrimary(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")
	assert.ErrorIs(t, primary.repl.Promote(), util.ErrNotBackup)
}

func TestAddBackupIdempotent(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")

	require.NoError(t, primary.repl.AddBackup("127.0.0.1:7001"))
	require.NoError(t, primary.repl.AddBackup("127.0.0.1:7001"))
	assert.Len(t, primary.repl.Backups(), 1)
}

func TestApplyRejectedOnPrimary(t *testing.T) {
	primary := startNode(t, replication.RolePrimary, "")

	op := &protocol.Command{Kind: protocol.Put, Key: "k", Value: "v"}
	assert.ErrorIs(t, primary.repl.Apply(op), util.ErrNotBackup)
	assert.Equal(t, 0, primary.store.Len())
}
