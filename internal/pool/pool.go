package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/litecore/internal/extension"
	"github.com/nerrad567/litecore/internal/sqlerr"
)

// Filesystem permissions for the database directory and file.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// driverSeq numbers the driver registered by each pool. database/sql has no
// way to unregister a driver, so every pool gets its own name.
var driverSeq atomic.Int64

// Pool owns one writer handle and a fixed set of reader handles.
//
// Pool is safe for concurrent use. Handles are not; each is used only by
// the holder of its lease.
type Pool struct {
	cfg        Config
	logger     *slog.Logger
	driverName string

	writerSlot chan struct{} // one token while the writer is free
	idle       chan int      // free reader slot indexes

	// handles[0] is the writer, handles[1+i] reader slot i. A nil entry
	// is reopened on the next acquisition.
	mu      sync.Mutex
	handles []*Handle
	nextID  int
	closed  bool

	closing chan struct{}
	leases  sync.WaitGroup

	acquired  atomic.Uint64
	exhausted atomic.Uint64
	replaced  atomic.Uint64
	readersIn atomic.Int64
	writerIn  atomic.Bool
}

// Stats is a point-in-time snapshot of pool usage.
type Stats struct {
	Readers       int
	ReadersInUse  int
	WriterInUse   bool
	Acquired      uint64
	Exhausted     uint64
	Replaced      uint64
	FileSizeBytes int64
}

// Open creates the pool: it freezes reg, registers a driver whose
// ConnectHook installs reg on every connection, then opens the writer
// followed by the readers. reg may be nil for a pool without extension
// functions.
//
// The writer is opened first so the database file and its WAL exist before
// the read-only handles attach.
func Open(ctx context.Context, cfg Config, reg *extension.Registry) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = extension.NewRegistry()
	}
	reg.Freeze()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	driverName := fmt.Sprintf("sqlite3_litecore_%d", driverSeq.Add(1))
	sql.Register(driverName, &sqlite3.SQLiteDriver{ConnectHook: reg.Install})

	p := &Pool{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "pool", "path", cfg.Path),
		driverName: driverName,
		writerSlot: make(chan struct{}, 1),
		idle:       make(chan int, cfg.Readers),
		handles:    make([]*Handle, 1+cfg.Readers),
		closing:    make(chan struct{}),
	}

	writer, err := p.openSlot(ctx, 0)
	if err != nil {
		return nil, err
	}
	p.handles[0] = writer

	// Set file permissions (owner read/write only)
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // Best effort, umask may already be tighter

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= cfg.Readers; i++ {
		g.Go(func() error {
			h, err := p.openSlot(gctx, i)
			if err != nil {
				return err
			}
			p.mu.Lock()
			p.handles[i] = h
			p.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.closeHandles() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	p.writerSlot <- struct{}{}
	for i := range cfg.Readers {
		p.idle <- i
	}

	p.logger.Info("pool opened",
		"readers", cfg.Readers,
		"wal", cfg.WALMode,
		"registry_functions", len(reg.Descriptors()),
		"size", humanize.Bytes(uint64(max(p.fileSize(), 0))), //nolint:gosec // G115: clamped non-negative
	)
	return p, nil
}

// AcquireWriter waits for the writer handle. It fails with
// sqlerr.ErrPoolExhausted when ctx or Config.AcquireTimeout expires first,
// and with sqlerr.ErrClosed after Close.
func (p *Pool) AcquireWriter(ctx context.Context) (*WriterLease, error) {
	ctx, cancel := p.acquireContext(ctx)
	defer cancel()

	select {
	case <-p.writerSlot:
	case <-p.closing:
		return nil, sqlerr.New(sqlerr.KindClosed, "acquire writer", nil)
	case <-ctx.Done():
		p.exhausted.Add(1)
		return nil, sqlerr.New(sqlerr.KindPoolExhausted, "acquire writer", ctx.Err())
	}

	h, err := p.checkout(ctx, 0)
	if err != nil {
		p.writerSlot <- struct{}{}
		return nil, err
	}
	p.writerIn.Store(true)
	return &WriterLease{lease: lease{pool: p, slot: 0, handle: h}}, nil
}

// AcquireReader waits for a free reader handle, with the same failure
// modes as AcquireWriter.
func (p *Pool) AcquireReader(ctx context.Context) (*ReaderLease, error) {
	ctx, cancel := p.acquireContext(ctx)
	defer cancel()

	var slot int
	select {
	case slot = <-p.idle:
	case <-p.closing:
		return nil, sqlerr.New(sqlerr.KindClosed, "acquire reader", nil)
	case <-ctx.Done():
		p.exhausted.Add(1)
		return nil, sqlerr.New(sqlerr.KindPoolExhausted, "acquire reader", ctx.Err())
	}

	h, err := p.checkout(ctx, 1+slot)
	if err != nil {
		p.idle <- slot
		return nil, err
	}
	p.readersIn.Add(1)
	return &ReaderLease{lease: lease{pool: p, slot: 1 + slot, handle: h}}, nil
}

// acquireContext bounds the wait by AcquireTimeout. A caller deadline that
// ends sooner still wins.
func (p *Pool) acquireContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.AcquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.AcquireTimeout)
}

// checkout registers an outstanding lease on slot, reopening its handle if
// an earlier replacement failed.
func (p *Pool) checkout(ctx context.Context, slot int) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, sqlerr.New(sqlerr.KindClosed, "acquire", nil)
	}
	p.leases.Add(1)
	h := p.handles[slot]
	p.mu.Unlock()

	if h == nil {
		var err error
		h, err = p.openSlot(ctx, slot)
		if err != nil {
			p.leases.Done()
			return nil, err
		}
		p.mu.Lock()
		p.handles[slot] = h
		p.mu.Unlock()
	}
	p.acquired.Add(1)
	return h, nil
}

// checkin returns slot's handle, replacing it when broken.
func (p *Pool) checkin(slot int, h *Handle) {
	defer p.leases.Done()

	if !h.Broken() {
		if err := h.rollbackOpen(context.Background()); err != nil {
			p.logger.Warn("reset on release failed, replacing handle", "handle", h.ID(), "error", err)
			h.broken.Store(true)
		}
	}
	if h.Broken() {
		p.replace(slot, h)
	}

	if slot == 0 {
		p.writerIn.Store(false)
		p.writerSlot <- struct{}{}
		return
	}
	p.readersIn.Add(-1)
	p.idle <- slot - 1
}

// replace closes a broken handle and opens a fresh one in its slot. When
// reopening fails the slot is left empty and retried on next acquisition.
func (p *Pool) replace(slot int, old *Handle) {
	if err := old.Close(); err != nil {
		p.logger.Warn("closing broken handle", "handle", old.ID(), "error", err)
	}
	p.replaced.Add(1)

	p.mu.Lock()
	closed := p.closed
	p.handles[slot] = nil
	p.mu.Unlock()
	if closed {
		return
	}

	h, err := p.openSlot(context.Background(), slot)
	if err != nil {
		p.logger.Error("reopening handle failed", "slot", slot, "error", err)
		return
	}
	p.mu.Lock()
	p.handles[slot] = h
	p.mu.Unlock()
	p.logger.Info("handle replaced", "slot", slot, "old_handle", old.ID(), "new_handle", h.ID())
}

// openSlot opens the handle for slot 0 (writer) or a reader slot.
func (p *Pool) openSlot(ctx context.Context, slot int) (*Handle, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	role, dsn := RoleWriter, p.dsn("rwc")
	if slot > 0 {
		role, dsn = RoleReader, p.dsn("ro")
	}
	return openHandle(ctx, p.driverName, dsn, id, role, p.cfg)
}

func (p *Pool) dsn(mode string) string {
	return fmt.Sprintf("file:%s?mode=%s", p.cfg.Path, mode)
}

// Path returns the filesystem path to the database file.
func (p *Pool) Path() string {
	return p.cfg.Path
}

// Readers returns the configured number of reader handles.
func (p *Pool) Readers() int {
	return p.cfg.Readers
}

// Stats returns pool usage counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Readers:       p.cfg.Readers,
		ReadersInUse:  int(p.readersIn.Load()),
		WriterInUse:   p.writerIn.Load(),
		Acquired:      p.acquired.Load(),
		Exhausted:     p.exhausted.Load(),
		Replaced:      p.replaced.Load(),
		FileSizeBytes: p.fileSize(),
	}
}

func (p *Pool) fileSize() int64 {
	info, err := os.Stat(p.cfg.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close stops new acquisitions, waits for outstanding leases to be
// released, then closes every handle. Calling Close twice is a no-op.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closing)
	p.mu.Unlock()

	p.leases.Wait()
	if err := p.closeHandles(); err != nil {
		p.logger.Error("pool close error", "error", err)
		return fmt.Errorf("closing pool %s: %w", p.cfg.Path, err)
	}
	p.logger.Info("pool closed")
	return nil
}

// closeHandles closes every open handle concurrently.
func (p *Pool) closeHandles() error {
	p.mu.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for i, h := range p.handles {
		if h != nil {
			handles = append(handles, h)
			p.handles[i] = nil
		}
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, h := range handles {
		g.Go(h.Close)
	}
	return g.Wait()
}
