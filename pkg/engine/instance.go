package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
)

// AttachedDatabase is a foreign database attached to an instance.
type AttachedDatabase struct {
	DatasourceID string            `json:"datasource_id"`
	Alias        string            `json:"alias"`
	Tables       []models.TableRef `json:"tables"`
	// SchemaExtracted is false after a fast-path attach.
	SchemaExtracted bool `json:"schema_extracted"`
}

// Instance is one isolated DuckDB database scoped to a conversation.
type Instance struct {
	id          string
	key         Key
	db          *sql.DB
	path        string
	dataDir     string
	ownsDataDir bool
	slots       chan struct{}
	logger      *zap.Logger

	mu          sync.Mutex
	views       map[string]string // datasourceID -> view name
	reserved    map[string]string // datasourceID -> view name being created
	recorded    map[string]string // datasourceID -> view name from an earlier opening
	attached    map[string]*AttachedDatabase
	dsLocks     map[string]*sync.Mutex
	outstanding int
	lastUsed    time.Time
	closed      bool
}

func newInstance(key Key, db *sql.DB, path, dataDir string, ownsDataDir bool, poolSize int, now time.Time, logger *zap.Logger) *Instance {
	id := uuid.NewString()
	return &Instance{
		id:          id,
		key:         key,
		db:          db,
		path:        path,
		dataDir:     dataDir,
		ownsDataDir: ownsDataDir,
		slots:       make(chan struct{}, poolSize),
		logger:      logger.With(zap.String("instance_id", id)),
		views:       make(map[string]string),
		reserved:    make(map[string]string),
		recorded:    make(map[string]string),
		attached:    make(map[string]*AttachedDatabase),
		dsLocks:     make(map[string]*sync.Mutex),
		lastUsed:    now,
	}
}

func (i *Instance) ID() string { return i.id }
func (i *Instance) Key() Key   { return i.key }

// Path is the database file, or "" for an in-memory instance.
func (i *Instance) Path() string { return i.path }

// DataDir holds local snapshots of remote or converted sources.
func (i *Instance) DataDir() string { return i.dataDir }

func (i *Instance) touch(now time.Time) {
	i.mu.Lock()
	i.lastUsed = now
	i.mu.Unlock()
}

func (i *Instance) acquire(ctx context.Context, timeout time.Duration, now func() time.Time) (*Conn, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil, fmt.Errorf("instance %s: %w", i.key, apperrors.ErrInstanceClosed)
	}
	// Counted while waiting too, so eviction cannot close the instance under a waiter.
	i.outstanding++
	i.lastUsed = now()
	i.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case i.slots <- struct{}{}:
	case <-timer.C:
		i.finish(now())
		return nil, fmt.Errorf("instance %s: no connection available after %s: %w", i.key, timeout, apperrors.ErrPoolExhausted)
	case <-ctx.Done():
		i.finish(now())
		return nil, ctx.Err()
	}

	conn, err := i.db.Conn(ctx)
	if err != nil {
		<-i.slots
		i.finish(now())
		return nil, fmt.Errorf("instance %s: open connection: %w", i.key, err)
	}

	return &Conn{id: uuid.NewString(), conn: conn, instance: i}, nil
}

func (i *Instance) release(c *Conn, now time.Time) error {
	if !c.returned.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close()
	<-i.slots
	i.finish(now)
	return err
}

func (i *Instance) finish(now time.Time) {
	i.mu.Lock()
	i.outstanding--
	i.lastUsed = now
	i.mu.Unlock()
}

// markEvicted closes the instance for new work if it is idle past ttl and
// has nothing checked out.
func (i *Instance) markEvicted(now time.Time, ttl time.Duration) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return true
	}
	if i.outstanding > 0 || now.Sub(i.lastUsed) <= ttl {
		return false
	}
	i.closed = true
	return true
}

func (i *Instance) close() error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	err := i.db.Close()
	if i.ownsDataDir {
		if rmErr := os.RemoveAll(i.dataDir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// LockDatasource serializes work on one datasource within the instance and
// returns the unlock function. Different datasources proceed concurrently.
func (i *Instance) LockDatasource(datasourceID string) func() {
	i.mu.Lock()
	l, ok := i.dsLocks[datasourceID]
	if !ok {
		l = &sync.Mutex{}
		i.dsLocks[datasourceID] = l
	}
	i.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ViewFor returns the registered view of a datasource.
func (i *Instance) ViewFor(datasourceID string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	name, ok := i.views[datasourceID]
	return name, ok
}

// Views returns a copy of the view registry.
func (i *Instance) Views() map[string]string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]string, len(i.views))
	for k, v := range i.views {
		out[k] = v
	}
	return out
}

// restoreViews seeds the names recorded in the database by an earlier
// opening. Those views are recreated on first use under the same name.
func (i *Instance) restoreViews(recorded map[string]string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, name := range recorded {
		i.recorded[id] = name
	}
}

// ReserveView picks the view name for a datasource. An already registered
// datasource gets its existing name and registered=true. A datasource
// recorded by an earlier opening gets its recorded name back. Otherwise
// base is used unless another datasource holds it, in which case
// base_suffix is. The reservation is made permanent with CommitView or
// dropped with ReleaseView.
func (i *Instance) ReserveView(datasourceID, base, suffix string) (name string, registered bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if name, ok := i.views[datasourceID]; ok {
		return name, true
	}
	if name, ok := i.reserved[datasourceID]; ok {
		return name, false
	}
	if name, ok := i.recorded[datasourceID]; ok && !i.nameTakenLocked(datasourceID, name) {
		i.reserved[datasourceID] = name
		return name, false
	}

	name = base
	if i.nameTakenLocked(datasourceID, name) {
		name = base + "_" + suffix
		for n := 2; i.nameTakenLocked(datasourceID, name); n++ {
			name = fmt.Sprintf("%s_%s_%d", base, suffix, n)
		}
	}
	i.reserved[datasourceID] = name
	return name, false
}

func (i *Instance) nameTakenLocked(datasourceID, name string) bool {
	for id, v := range i.views {
		if id != datasourceID && v == name {
			return true
		}
	}
	for id, v := range i.reserved {
		if id != datasourceID && v == name {
			return true
		}
	}
	for id, v := range i.recorded {
		if id != datasourceID && v == name {
			return true
		}
	}
	for _, a := range i.attached {
		if a.Alias == name {
			return true
		}
	}
	return false
}

// CommitView registers the reserved view of a datasource.
func (i *Instance) CommitView(datasourceID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if name, ok := i.reserved[datasourceID]; ok {
		i.views[datasourceID] = name
		i.recorded[datasourceID] = name
		delete(i.reserved, datasourceID)
	}
}

// ReleaseView drops an uncommitted reservation.
func (i *Instance) ReleaseView(datasourceID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.reserved, datasourceID)
}

// Attached returns the attachment record of a datasource.
func (i *Instance) Attached(datasourceID string) (*AttachedDatabase, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	a, ok := i.attached[datasourceID]
	if !ok {
		return nil, false
	}
	cp := *a
	cp.Tables = append([]models.TableRef(nil), a.Tables...)
	return &cp, true
}

// AttachedDatabases lists attachments ordered by alias.
func (i *Instance) AttachedDatabases() []AttachedDatabase {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]AttachedDatabase, 0, len(i.attached))
	for _, a := range i.attached {
		cp := *a
		cp.Tables = append([]models.TableRef(nil), a.Tables...)
		out = append(out, cp)
	}
	sort.Slice(out, func(x, y int) bool { return out[x].Alias < out[y].Alias })
	return out
}

// RegisterAttached records an attachment, replacing any previous record
// for the same datasource. It fails with ErrConflict when another
// datasource already uses the alias.
func (i *Instance) RegisterAttached(a AttachedDatabase) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for id, other := range i.attached {
		if id != a.DatasourceID && other.Alias == a.Alias {
			return fmt.Errorf("alias %s already attached for datasource %s: %w", a.Alias, id, apperrors.ErrConflict)
		}
	}
	a.Tables = append([]models.TableRef(nil), a.Tables...)
	i.attached[a.DatasourceID] = &a
	return nil
}

// InstanceStats describes the pool usage of one instance.
type InstanceStats struct {
	Workspace      string `json:"workspace"`
	ConversationID string `json:"conversation_id"`
	InUse          int    `json:"in_use"`
	Outstanding    int    `json:"outstanding"`
	MaxConns       int    `json:"max_conns"`
	Views          int    `json:"views"`
	Attached       int    `json:"attached"`
	IdleSeconds    int    `json:"idle_seconds"`
}

// Stats reports pool and registry usage.
func (i *Instance) Stats(now time.Time) InstanceStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return InstanceStats{
		Workspace:      i.key.Workspace,
		ConversationID: i.key.ConversationID,
		InUse:          len(i.slots),
		Outstanding:    i.outstanding,
		MaxConns:       cap(i.slots),
		Views:          len(i.views),
		Attached:       len(i.attached),
		IdleSeconds:    int(now.Sub(i.lastUsed).Seconds()),
	}
}

// Conn is a connection loaned from an instance pool.
type Conn struct {
	id       string
	conn     *sql.Conn
	instance *Instance
	returned atomic.Bool
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) Instance() *Instance { return c.instance }

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}
