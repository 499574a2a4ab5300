package engine

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
)

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	cfg.InMemory = true
	m := NewManager(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func countingOpener(count *atomic.Int32, delay time.Duration) Opener {
	return func(ctx context.Context, path string) (*sql.DB, error) {
		count.Add(1)
		time.Sleep(delay)
		return OpenDuckDB(ctx, path)
	}
}

func TestKey_Validate(t *testing.T) {
	assert.NoError(t, Key{Workspace: "/ws", ConversationID: "c1"}.Validate())
	assert.Error(t, Key{ConversationID: "c1"}.Validate())
	assert.Error(t, Key{Workspace: "/ws"}.Validate())
	assert.Error(t, Key{Workspace: "/ws", ConversationID: "../escape"}.Validate())
	assert.Error(t, Key{Workspace: "/ws", ConversationID: ".."}.Validate())
}

func TestManager_GetInstance_NotFoundWithoutCreate(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})

	_, err := m.GetInstance(context.Background(), Key{Workspace: "/ws", ConversationID: "c1"}, false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = m.GetConnection(context.Background(), Key{Workspace: "/ws", ConversationID: "c1"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestManager_GetInstance_SingleFlight(t *testing.T) {
	var opened atomic.Int32
	m := newTestManager(t, ManagerConfig{Opener: countingOpener(&opened, 50*time.Millisecond)})
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}

	const callers = 20
	instances := make([]*Instance, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			instances[i], errs[i] = m.GetInstance(context.Background(), key, true)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, instances[0], instances[i])
	}
	assert.Equal(t, int32(1), opened.Load())
	assert.Equal(t, 1, m.GetStats().TotalInstances)
}

func TestManager_GetInstance_DistinctKeysAreIsolated(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	ctx := context.Background()

	a, err := m.GetInstance(ctx, Key{Workspace: "/ws", ConversationID: "a"}, true)
	require.NoError(t, err)
	b, err := m.GetInstance(ctx, Key{Workspace: "/ws", ConversationID: "b"}, true)
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	conn, err := m.GetConnection(ctx, a.Key())
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "CREATE TABLE only_in_a (id INTEGER)")
	require.NoError(t, err)
	m.ReturnConnection(a.Key(), conn)

	conn, err = m.GetConnection(ctx, b.Key())
	require.NoError(t, err)
	defer m.ReturnConnection(b.Key(), conn)
	_, err = conn.ExecContext(ctx, "SELECT * FROM only_in_a")
	assert.Error(t, err)
}

func TestManager_GetInstance_FailureSharedAndRetryable(t *testing.T) {
	var attempts atomic.Int32
	openErr := errors.New("disk unavailable")
	opener := func(ctx context.Context, path string) (*sql.DB, error) {
		if attempts.Add(1) == 1 {
			time.Sleep(50 * time.Millisecond)
			return nil, openErr
		}
		return OpenDuckDB(ctx, path)
	}
	m := newTestManager(t, ManagerConfig{Opener: opener})
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetInstance(context.Background(), key, true)
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.ErrorIs(t, err, openErr)
		}
	}
	assert.Equal(t, callers, failed, "all waiters of the failed creation observe the error")
	assert.Equal(t, int32(1), attempts.Load())

	_, err := m.GetInstance(context.Background(), key, false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "no half-initialized instance is reachable")

	inst, err := m.GetInstance(context.Background(), key, true)
	require.NoError(t, err)
	assert.NotNil(t, inst)
}

func TestManager_GetInstance_CallerCancellationDoesNotAbortCreation(t *testing.T) {
	var opened atomic.Int32
	m := newTestManager(t, ManagerConfig{Opener: countingOpener(&opened, 100*time.Millisecond)})
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.GetInstance(ctx, key, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	inst, err := m.GetInstance(context.Background(), key, true)
	require.NoError(t, err)
	assert.NotNil(t, inst)
	assert.Equal(t, int32(1), opened.Load())
}

func TestManager_GetConnection_PoolExhausted(t *testing.T) {
	m := newTestManager(t, ManagerConfig{PoolMaxConns: 1, AcquireTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}

	_, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	first, err := m.GetConnection(ctx, key)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.GetConnection(ctx, key)
	assert.ErrorIs(t, err, apperrors.ErrPoolExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	m.ReturnConnection(key, first)

	second, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	m.ReturnConnection(key, second)
}

func TestManager_GetConnection_WaitsForReturn(t *testing.T) {
	m := newTestManager(t, ManagerConfig{PoolMaxConns: 1, AcquireTimeout: 2 * time.Second})
	ctx := context.Background()
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}
	_, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	held, err := m.GetConnection(ctx, key)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		m.ReturnConnection(key, held)
	}()

	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	m.ReturnConnection(key, conn)
}

func TestManager_ReturnConnection_Idempotent(t *testing.T) {
	m := newTestManager(t, ManagerConfig{PoolMaxConns: 2})
	ctx := context.Background()
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}
	inst, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, inst.Stats(time.Now()).InUse)

	m.ReturnConnection(key, conn)
	m.ReturnConnection(key, conn)
	m.ReturnConnection(key, nil)

	stats := inst.Stats(time.Now())
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 0, stats.Outstanding)
}

func TestManager_EvictIdle_SkipsCheckedOutInstances(t *testing.T) {
	m := newTestManager(t, ManagerConfig{IdleTTL: time.Minute})
	ctx := context.Background()
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}
	inst, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)
	dataDir := inst.DataDir()

	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	assert.Equal(t, 0, m.evictIdle(later))
	_, err = m.GetInstance(ctx, key, false)
	require.NoError(t, err)

	var one int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT 1").Scan(&one))
	m.ReturnConnection(key, conn)

	assert.Equal(t, 0, m.evictIdle(time.Now()), "recently used instance stays")
	assert.Equal(t, 1, m.evictIdle(later))

	_, err = m.GetInstance(ctx, key, false)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, statErr := os.Stat(dataDir)
	assert.True(t, os.IsNotExist(statErr), "in-memory data directory is removed on eviction")
}

func TestManager_FileBackedInstance(t *testing.T) {
	workspace := t.TempDir()
	m := NewManager(ManagerConfig{}, zaptest.NewLogger(t))
	defer m.Close()

	ctx := context.Background()
	key := Key{Workspace: workspace, ConversationID: "conv-1"}
	inst, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(workspace, "conv-1", DatabaseFileName), inst.Path())
	assert.DirExists(t, inst.DataDir())

	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "CREATE TABLE kept (id INTEGER)")
	m.ReturnConnection(key, conn)
	require.NoError(t, err)

	require.NoError(t, m.CloseInstance(key))
	assert.FileExists(t, inst.Path())

	reopened, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID(), reopened.ID())

	conn, err = m.GetConnection(ctx, key)
	require.NoError(t, err)
	defer m.ReturnConnection(key, conn)
	var count int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT count(*) FROM kept").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestManager_FileBackedInstanceRestoresViewNames(t *testing.T) {
	workspace := t.TempDir()
	m := NewManager(ManagerConfig{}, zaptest.NewLogger(t))
	defer m.Close()

	ctx := context.Background()
	key := Key{Workspace: workspace, ConversationID: "conv-1"}
	inst, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	for id, suffix := range map[string]string{"ds-a": "a", "ds-b": "b"} {
		name, _ := inst.ReserveView(id, "orders", suffix)
		_, err = conn.ExecContext(ctx, "CREATE OR REPLACE VIEW "+QuoteIdentifier(name)+" AS SELECT 1 AS id")
		require.NoError(t, err)
		require.NoError(t, RecordView(ctx, conn, id, name))
		inst.CommitView(id)
	}
	m.ReturnConnection(key, conn)
	views := inst.Views()

	require.NoError(t, m.CloseInstance(key))

	reopened, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)
	assert.Empty(t, reopened.Views())

	// Arrival order after the reopen does not move names between datasources.
	for _, id := range []string{"ds-b", "ds-a"} {
		name, registered := reopened.ReserveView(id, "orders", "z")
		assert.False(t, registered)
		assert.Equal(t, views[id], name, id)
	}
}

func TestManager_Close(t *testing.T) {
	m := NewManager(ManagerConfig{InMemory: true}, zaptest.NewLogger(t))
	ctx := context.Background()
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}

	_, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.GetInstance(ctx, key, true)
	assert.ErrorIs(t, err, apperrors.ErrInstanceClosed)
	assert.Equal(t, 0, m.GetStats().TotalInstances)
}

func TestManager_CloseInstance_Unknown(t *testing.T) {
	m := newTestManager(t, ManagerConfig{})
	assert.ErrorIs(t, m.CloseInstance(Key{Workspace: "/ws", ConversationID: "nope"}), apperrors.ErrNotFound)
}

func TestManager_GetStats(t *testing.T) {
	m := newTestManager(t, ManagerConfig{PoolMaxConns: 3, IdleTTL: 2 * time.Minute})
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		_, err := m.GetInstance(ctx, Key{Workspace: "/ws", ConversationID: id}, true)
		require.NoError(t, err)
	}

	stats := m.GetStats()
	assert.Equal(t, 2, stats.TotalInstances)
	assert.Equal(t, 3, stats.PoolMaxConns)
	assert.Equal(t, 120, stats.IdleTTLSeconds)
	require.Len(t, stats.Instances, 2)
	assert.Equal(t, "a", stats.Instances[0].ConversationID)
	assert.Equal(t, 3, stats.Instances[0].MaxConns)
}

func TestManager_ConfigureRunsSettings(t *testing.T) {
	m := newTestManager(t, ManagerConfig{Threads: 2, MemoryLimit: "512MB"})
	ctx := context.Background()
	key := Key{Workspace: "/ws", ConversationID: "conv-1"}

	_, err := m.GetInstance(ctx, key, true)
	require.NoError(t, err)

	conn, err := m.GetConnection(ctx, key)
	require.NoError(t, err)
	defer m.ReturnConnection(key, conn)

	var threads string
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT current_setting('threads')::VARCHAR").Scan(&threads))
	assert.Equal(t, "2", threads)
}
