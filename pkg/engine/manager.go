// Package engine manages embedded DuckDB instances, one per
// (workspace, conversation) key, and lends out pooled connections to them.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
)

const (
	DefaultPoolMaxConns    = 4
	DefaultAcquireTimeout  = 30 * time.Second
	DefaultIdleTTL         = 15 * time.Minute
	DefaultCleanupInterval = 1 * time.Minute

	// DatabaseFileName is the instance database inside <workspace>/<conversation>/.
	DatabaseFileName = "database.db"
)

// Key identifies a conversation instance. Workspace is a directory.
type Key struct {
	Workspace      string `json:"workspace"`
	ConversationID string `json:"conversation_id"`
}

func (k Key) String() string {
	return k.Workspace + ":" + k.ConversationID
}

// Validate rejects keys that cannot be mapped onto a database path.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Workspace) == "" {
		return fmt.Errorf("workspace is required")
	}
	id := strings.TrimSpace(k.ConversationID)
	if id == "" {
		return fmt.Errorf("conversation id is required")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid conversation id %q", k.ConversationID)
	}
	return nil
}

// Opener opens the engine database at path. An empty path is in-memory.
type Opener func(ctx context.Context, path string) (*sql.DB, error)

// ManagerConfig holds configuration for the instance manager.
type ManagerConfig struct {
	PoolMaxConns    int
	AcquireTimeout  time.Duration
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	InMemory        bool
	Threads         int
	MemoryLimit     string
	Extensions      []string
	// Opener defaults to OpenDuckDB.
	Opener Opener
}

// Manager owns the conversation instances of one process. It is created at
// service start and torn down with Close.
type Manager struct {
	mu        sync.RWMutex
	instances map[Key]*Instance
	creating  singleflight.Group
	cfg       ManagerConfig
	stopped   bool
	stopChan  chan struct{}
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates an instance manager with the given configuration.
// Starts a background eviction goroutine that runs until Close() is called.
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenDuckDB
	}

	m := &Manager{
		instances: make(map[Key]*Instance),
		cfg:       cfg,
		stopChan:  make(chan struct{}),
		logger:    logger.Named("engine"),
		now:       time.Now,
	}

	go m.evictIdleInstances()
	return m
}

// PoolMaxConns returns the per-instance connection limit.
func (m *Manager) PoolMaxConns() int {
	return m.cfg.PoolMaxConns
}

// GetInstance returns the instance for key. When it does not exist and
// createIfNotExists is set, exactly one creation runs per key no matter how
// many callers race; all of them observe the same instance or the same
// error. Creation is not cancelled when the calling context is; the caller
// simply stops waiting.
func (m *Manager) GetInstance(ctx context.Context, key Key, createIfNotExists bool) (*Instance, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if inst, ok, err := m.lookup(key); err != nil || ok {
		return inst, err
	}
	if !createIfNotExists {
		return nil, fmt.Errorf("instance %s: %w", key, apperrors.ErrNotFound)
	}

	ch := m.creating.DoChan(key.Workspace+"\x00"+key.ConversationID, func() (any, error) {
		return m.createInstance(context.WithoutCancel(ctx), key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Instance), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns a live instance and marks it used. The manager read lock
// keeps eviction from deciding concurrently.
func (m *Manager) lookup(key Key) (*Instance, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return nil, false, fmt.Errorf("instance manager: %w", apperrors.ErrInstanceClosed)
	}
	inst, ok := m.instances[key]
	if ok {
		inst.touch(m.now())
	}
	return inst, ok, nil
}

func (m *Manager) createInstance(ctx context.Context, key Key) (*Instance, error) {
	// A previous flight may have finished between lookup and DoChan.
	if inst, ok, err := m.lookup(key); err != nil || ok {
		return inst, err
	}

	path, dataDir, ownsDataDir, err := m.prepareLocation(key)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if ownsDataDir {
			_ = os.RemoveAll(dataDir)
		}
	}

	db, err := m.cfg.Opener(ctx, path)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open instance %s: %w", key, err)
	}
	db.SetMaxOpenConns(m.cfg.PoolMaxConns)
	db.SetMaxIdleConns(m.cfg.PoolMaxConns)

	if err := m.configure(ctx, db); err != nil {
		_ = db.Close()
		cleanup()
		return nil, fmt.Errorf("failed to configure instance %s: %w", key, err)
	}

	recorded, err := loadViewRegistry(ctx, db)
	if err != nil {
		_ = db.Close()
		cleanup()
		return nil, fmt.Errorf("failed to configure instance %s: %w", key, err)
	}

	inst := newInstance(key, db, path, dataDir, ownsDataDir, m.cfg.PoolMaxConns, m.now(), m.logger)
	inst.restoreViews(recorded)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = inst.close()
		return nil, fmt.Errorf("instance manager: %w", apperrors.ErrInstanceClosed)
	}
	m.instances[key] = inst
	total := len(m.instances)
	m.mu.Unlock()

	m.logger.Info("created instance",
		zap.String("key", key.String()),
		zap.String("instance_id", inst.ID()),
		zap.String("path", path),
		zap.Int("pool_max_conns", m.cfg.PoolMaxConns),
		zap.Int("total_instances", total),
	)
	return inst, nil
}

// prepareLocation returns the database path and the directory for source
// snapshots. In-memory instances get a private temporary directory.
func (m *Manager) prepareLocation(key Key) (path, dataDir string, ownsDataDir bool, err error) {
	if m.cfg.InMemory {
		dataDir, err = os.MkdirTemp("", "ekaya-analyst-*")
		if err != nil {
			return "", "", false, fmt.Errorf("failed to create data directory: %w", err)
		}
		return "", dataDir, true, nil
	}

	dir := filepath.Join(key.Workspace, key.ConversationID)
	dataDir = filepath.Join(dir, "sources")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", "", false, fmt.Errorf("failed to create instance directory: %w", err)
	}
	return filepath.Join(dir, DatabaseFileName), dataDir, false, nil
}

func (m *Manager) configure(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var statements []string
	if m.cfg.Threads > 0 {
		statements = append(statements, fmt.Sprintf("SET threads = %d", m.cfg.Threads))
	}
	if m.cfg.MemoryLimit != "" {
		statements = append(statements, "SET memory_limit = "+QuoteLiteral(m.cfg.MemoryLimit))
	}
	for _, ext := range m.cfg.Extensions {
		statements = append(statements, "INSTALL "+QuoteIdentifier(ext), "LOAD "+QuoteIdentifier(ext))
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// GetConnection borrows a pooled connection from an existing instance,
// waiting up to the acquire timeout. Every successful call must be paired
// with ReturnConnection.
func (m *Manager) GetConnection(ctx context.Context, key Key) (*Conn, error) {
	inst, ok, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", key, apperrors.ErrNotFound)
	}
	return inst.acquire(ctx, m.cfg.AcquireTimeout, m.now)
}

// ReturnConnection gives a borrowed connection back to its instance.
// Returning the same connection twice is a no-op.
func (m *Manager) ReturnConnection(key Key, conn *Conn) {
	if conn == nil {
		return
	}
	if conn.instance.key != key {
		m.logger.Warn("connection returned under a different key",
			zap.String("key", key.String()),
			zap.String("owner", conn.instance.key.String()),
		)
	}
	if err := conn.instance.release(conn, m.now()); err != nil {
		m.logger.Debug("error closing returned connection",
			zap.String("key", key.String()),
			zap.String("connection_id", conn.ID()),
			zap.Error(err),
		)
	}
}

// CloseInstance closes and removes the instance for key.
func (m *Manager) CloseInstance(key Key) error {
	m.mu.Lock()
	inst, ok := m.instances[key]
	delete(m.instances, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("instance %s: %w", key, apperrors.ErrNotFound)
	}
	m.logger.Info("closing instance", zap.String("key", key.String()))
	return inst.close()
}

// evictIdleInstances runs periodically to close idle instances.
// Runs in a background goroutine until stopChan is closed.
func (m *Manager) evictIdleInstances() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle(m.now())
		case <-m.stopChan:
			return
		}
	}
}

// evictIdle closes instances with no outstanding connections that have not
// been used within the idle TTL. Lock order: manager, then instance.
func (m *Manager) evictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}

	evicted := 0
	for key, inst := range m.instances {
		if !inst.markEvicted(now, m.cfg.IdleTTL) {
			continue
		}
		delete(m.instances, key)
		if err := inst.close(); err != nil {
			m.logger.Warn("error closing evicted instance", zap.String("key", key.String()), zap.Error(err))
		}
		evicted++
		m.logger.Debug("evicted idle instance",
			zap.String("key", key.String()),
			zap.Duration("ttl", m.cfg.IdleTTL),
		)
	}

	if evicted > 0 {
		m.logger.Info("evicted idle instances",
			zap.Int("count", evicted),
			zap.Int("remaining", len(m.instances)),
		)
	}
	return evicted
}

// Close closes all instances and stops the eviction goroutine.
// This method is idempotent and safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	var firstErr error
	for key, inst := range m.instances {
		if err := inst.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close instance %s: %w", key, err)
		}
	}
	m.instances = make(map[Key]*Instance)

	m.logger.Info("instance manager closed")
	return firstErr
}

// Stats contains statistics about the manager state.
type Stats struct {
	TotalInstances    int             `json:"total_instances"`
	PoolMaxConns      int             `json:"pool_max_conns"`
	IdleTTLSeconds    int             `json:"idle_ttl_seconds"`
	OldestIdleSeconds int             `json:"oldest_idle_seconds"`
	Instances         []InstanceStats `json:"instances"`
}

// GetStats returns statistics about the manager. Safe to call concurrently.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	stats := Stats{
		TotalInstances: len(m.instances),
		PoolMaxConns:   m.cfg.PoolMaxConns,
		IdleTTLSeconds: int(m.cfg.IdleTTL.Seconds()),
		Instances:      make([]InstanceStats, 0, len(m.instances)),
	}
	for _, inst := range m.instances {
		is := inst.Stats(now)
		if is.IdleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = is.IdleSeconds
		}
		stats.Instances = append(stats.Instances, is)
	}
	sort.Slice(stats.Instances, func(i, j int) bool {
		a, b := stats.Instances[i], stats.Instances[j]
		if a.Workspace != b.Workspace {
			return a.Workspace < b.Workspace
		}
		return a.ConversationID < b.ConversationID
	})
	return stats
}
