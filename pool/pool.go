// Package pool provides a bounded connection pool and transaction
// management on top of database/sql.
//
// The pool implements dialect.Driver, so the query engine can run
// against it transparently. It adds what database/sql does not offer
// out of the box: a hard acquire timeout, idle-connection eviction with
// a minimum idle floor, optional liveness validation on acquire, and
// transactions with savepoint support and ambient context scoping.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/syssam/strata/dialect"
	strsql "github.com/syssam/strata/dialect/sql"
)

const (
	defaultMaxOpen        = 10
	defaultAcquireTimeout = 30 * time.Second
	defaultIdleTimeout    = 5 * time.Minute
)

// Option configures a Pool.
type Option func(*Pool)

// MaxOpen limits the number of connections handed out concurrently.
// Defaults to 10.
func MaxOpen(n int) Option {
	return func(p *Pool) { p.maxOpen = n }
}

// MinIdle keeps at least n idle connections open; the janitor does not
// evict below this floor and the pool pre-warms this many connections
// at startup. Defaults to 0.
func MinIdle(n int) Option {
	return func(p *Pool) { p.minIdle = n }
}

// AcquireTimeout bounds how long Acquire waits for a free connection
// before failing with ErrAcquireTimeout. Defaults to 30s.
func AcquireTimeout(d time.Duration) Option {
	return func(p *Pool) { p.acquireTimeout = d }
}

// IdleTimeout sets how long a connection may sit idle before the
// janitor closes it. Defaults to 5m.
func IdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// ValidateOnAcquire pings every connection before handing it out and
// replaces it if the ping fails. Off by default.
func ValidateOnAcquire() Option {
	return func(p *Pool) { p.validate = true }
}

// WithLogger sets the logger used for background maintenance warnings.
// Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// Pool is a bounded connection pool. It implements dialect.Driver.
type Pool struct {
	db      *sql.DB
	ownDB   bool
	dialect string
	log     *slog.Logger

	maxOpen        int
	minIdle        int
	acquireTimeout time.Duration
	idleTimeout    time.Duration
	validate       bool

	sem  *semaphore.Weighted
	done chan struct{}

	mu     sync.Mutex
	idle   []*pooledConn
	inUse  int
	closed bool
}

type pooledConn struct {
	conn     *sql.Conn
	returned time.Time
}

// Open opens a database through dialect/sql and wraps it with a Pool.
// The pool owns the database handle and closes it on Close.
func Open(dialectName, source string, opts ...Option) (*Pool, error) {
	drv, err := strsql.Open(dialectName, source)
	if err != nil {
		return nil, err
	}
	p := New(drv.Dialect(), drv.DB(), opts...)
	p.ownDB = true
	return p, nil
}

// New wraps an existing database handle with a Pool. The caller keeps
// ownership of db.
func New(dialectName string, db *sql.DB, opts ...Option) *Pool {
	p := &Pool{
		db:             db,
		dialect:        dialectName,
		log:            slog.Default(),
		maxOpen:        defaultMaxOpen,
		acquireTimeout: defaultAcquireTimeout,
		idleTimeout:    defaultIdleTimeout,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	// The pool enforces its own bound; database/sql must not cap below
	// it or acquires would block inside the driver instead.
	db.SetMaxOpenConns(p.maxOpen)
	p.sem = semaphore.NewWeighted(int64(p.maxOpen))
	p.prewarm()
	go p.janitor()
	return p
}

// prewarm opens MinIdle connections ahead of demand. Failures are
// logged and ignored; the pool opens lazily on acquire anyway.
func (p *Pool) prewarm() {
	ctx, cancel := context.WithTimeout(context.Background(), p.acquireTimeout)
	defer cancel()
	for i := 0; i < p.minIdle; i++ {
		conn, err := p.db.Conn(ctx)
		if err != nil {
			p.log.Warn("pool: prewarm failed", "error", err)
			return
		}
		p.mu.Lock()
		p.idle = append(p.idle, &pooledConn{conn: conn, returned: time.Now()})
		p.mu.Unlock()
	}
}

func (p *Pool) janitor() {
	interval := p.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

// evictIdle closes connections idle longer than IdleTimeout, keeping
// the MinIdle floor. Idle connections are a stack, so the stalest sit
// at the front.
func (p *Pool) evictIdle() {
	cutoff := time.Now().Add(-p.idleTimeout)
	var victims []*pooledConn
	p.mu.Lock()
	for len(p.idle) > p.minIdle && p.idle[0].returned.Before(cutoff) {
		victims = append(victims, p.idle[0])
		p.idle = p.idle[1:]
	}
	p.mu.Unlock()
	for _, pc := range victims {
		if err := pc.conn.Close(); err != nil {
			p.log.Warn("pool: closing idle connection", "error", err)
		}
	}
}

// Acquire returns a connection from the pool, opening one if none is
// idle. It blocks until a connection is available, the acquire timeout
// expires, or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	acquireCtx := ctx
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		// The caller's own cancellation or deadline keeps its identity;
		// ErrAcquireTimeout covers only the pool's acquire deadline.
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: %v", ErrAcquireTimeout, err)
	}
	conn, err := p.checkout(acquireCtx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()
	return &Conn{pool: p, conn: conn}, nil
}

// checkout pops an idle connection or opens a new one. A stale or dead
// idle connection is closed and replaced once.
func (p *Pool) checkout(ctx context.Context) (*sql.Conn, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		var pc *pooledConn
		if n := len(p.idle); n > 0 {
			pc = p.idle[n-1]
			p.idle = p.idle[:n-1]
		}
		p.mu.Unlock()
		if pc == nil {
			return p.db.Conn(ctx)
		}
		if p.validate {
			if err := pc.conn.PingContext(ctx); err != nil {
				pc.conn.Close()
				continue
			}
		}
		return pc.conn, nil
	}
}

// release returns a connection to the idle list, or closes it when the
// pool is closed or the connection is marked broken.
func (p *Pool) release(conn *sql.Conn, broken bool) {
	p.mu.Lock()
	p.inUse--
	closed := p.closed
	if !closed && !broken {
		p.idle = append(p.idle, &pooledConn{conn: conn, returned: time.Now()})
	}
	p.mu.Unlock()
	if closed || broken {
		conn.Close()
	}
	p.sem.Release(1)
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	MaxOpen int
	InUse   int
	Idle    int
}

// Stats returns current pool usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{MaxOpen: p.maxOpen, InUse: p.inUse, Idle: len(p.idle)}
}

// Dialect implements dialect.Driver.
func (p *Pool) Dialect() string { return p.dialect }

// Exec acquires a connection, executes the statement and releases the
// connection.
func (p *Pool) Exec(ctx context.Context, query string, args, v any) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Exec(ctx, query, args, v)
}

// Query acquires a connection and executes the query. The connection
// is held until the returned rows are closed.
func (p *Pool) Query(ctx context.Context, query string, args, v any) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	vr, ok := v.(*strsql.Rows)
	if !ok {
		conn.Release()
		return fmt.Errorf("pool: invalid type %T. expect *sql.Rows", v)
	}
	var rows strsql.Rows
	if err := conn.Query(ctx, query, args, &rows); err != nil {
		conn.Release()
		return err
	}
	*vr = strsql.Rows{ColumnScanner: &releasingRows{ColumnScanner: rows.ColumnScanner, conn: conn}}
	return nil
}

// releasingRows returns the connection to the pool when the rows are
// closed.
type releasingRows struct {
	strsql.ColumnScanner
	conn *Conn
	once sync.Once
}

func (r *releasingRows) Close() error {
	err := r.ColumnScanner.Close()
	r.once.Do(r.conn.Release)
	return err
}

// Close closes the pool: idle connections are closed immediately and
// in-use connections are closed as they are released. The database
// handle is closed only if the pool opened it.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	var errs []error
	for _, pc := range idle {
		if err := pc.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.ownDB {
		if err := p.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Conn is a pooled connection. It implements dialect.ExecQuerier and
// must be returned with Release (or Close, which discards it).
type Conn struct {
	pool *Pool
	conn *sql.Conn
	mu   sync.Mutex
	done bool
}

// Raw returns the underlying database/sql connection.
func (c *Conn) Raw() *sql.Conn { return c.conn }

// Exec implements dialect.ExecQuerier.
func (c *Conn) Exec(ctx context.Context, query string, args, v any) error {
	return strsql.Conn{ExecQuerier: c.conn}.Exec(ctx, query, args, v)
}

// Query implements dialect.ExecQuerier.
func (c *Conn) Query(ctx context.Context, query string, args, v any) error {
	return strsql.Conn{ExecQuerier: c.conn}.Query(ctx, query, args, v)
}

// Release returns the connection to the pool. It is safe to call more
// than once; calls after the first are no-ops.
func (c *Conn) Release() {
	c.finish(false)
}

// Close discards the connection instead of returning it to the pool.
// Use it after an error that leaves the connection state unknown.
func (c *Conn) Close() {
	c.finish(true)
}

func (c *Conn) finish(broken bool) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.mu.Unlock()
	c.pool.release(c.conn, broken)
}

var _ dialect.Driver = (*Pool)(nil)
