package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/packing_backend/config"
	"github.com/mmdatafocus/packing_backend/utils"
	"gorm.io/gorm"
)

// ErrLockNotObtained is returned when a material lock cannot be taken in time.
var ErrLockNotObtained = errors.New("could not obtain material lock")

// ErrLockLost is the cause of a held context whose lock expired before release.
var ErrLockLost = errors.New("material lock lost before release")

// MaterialLocker serializes writers per material. Lock takes the locks of all
// given ids in ascending order and returns a func releasing all of them.
// Work done under the locks uses the returned held context, which is
// cancelled with ErrLockLost if a lock lapses before release.
type MaterialLocker interface {
	Lock(ctx context.Context, materialIds ...int) (held context.Context, release func(), err error)
}

// NewMaterialLocker builds the locker selected by cfg.Backend.
func NewMaterialLocker(cfg config.LockConfig, db *gorm.DB, redisLock *redislock.Client) (MaterialLocker, error) {
	switch cfg.Backend {
	case config.LockBackendMemory, "":
		return NewMemoryMaterialLocker(), nil
	case config.LockBackendRedis:
		if redisLock == nil {
			return nil, errors.New("redis lock backend selected but redis is not connected")
		}
		return NewRedisMaterialLocker(redisLock, cfg.TTL, cfg.Wait), nil
	case config.LockBackendMySQL:
		if db == nil {
			return nil, errors.New("mysql lock backend selected but database is not connected")
		}
		return NewAdvisoryMaterialLocker(db, cfg.Wait), nil
	}
	return nil, fmt.Errorf("unsupported lock backend %q", cfg.Backend)
}

// MemoryMaterialLocker is a per-material mutex map for a single instance.
type MemoryMaterialLocker struct {
	mu    sync.Mutex
	slots map[int]chan struct{}
}

func NewMemoryMaterialLocker() *MemoryMaterialLocker {
	return &MemoryMaterialLocker{slots: make(map[int]chan struct{})}
}

func (l *MemoryMaterialLocker) slot(id int) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[id] = s
	}
	return s
}

func (l *MemoryMaterialLocker) Lock(ctx context.Context, materialIds ...int) (context.Context, func(), error) {
	ids := utils.SortedUniqueInts(materialIds)
	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ids {
		s := l.slot(id)
		select {
		case s <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			release()
			return nil, nil, fmt.Errorf("%w: material_id=%d: %v", ErrLockNotObtained, id, ctx.Err())
		}
	}
	return ctx, release, nil
}

// RedisMaterialLocker shares material locks across instances through bsm/redislock.
type RedisMaterialLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisMaterialLocker(client *redislock.Client, ttl time.Duration, wait time.Duration) *RedisMaterialLocker {
	return &RedisMaterialLocker{client: client, ttl: ttl, wait: wait}
}

func materialLockKey(id int) string {
	return fmt.Sprintf("lock:material:%d", id)
}

// refreshableLock is the part of *redislock.Lock the keep-alive loop needs.
type refreshableLock interface {
	Key() string
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive refreshes locks every ttl/2 until stop is closed. The first failed
// refresh cancels the held context with ErrLockLost and ends the loop.
func keepAlive(locks []refreshableLock, ttl time.Duration, stop <-chan struct{}, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		for _, lock := range locks {
			refreshCtx, cancel := context.WithTimeout(context.Background(), ttl/2)
			err := lock.Refresh(refreshCtx, ttl, nil)
			cancel()
			if err != nil {
				config.LogError(config.GetLogger(), "materialLock.go", "keepAlive", "Refresh", lock.Key(), err)
				lost(fmt.Errorf("%w: %s: %v", ErrLockLost, lock.Key(), err))
				return
			}
		}
	}
}

func (l *RedisMaterialLocker) Lock(ctx context.Context, materialIds ...int) (context.Context, func(), error) {
	ids := utils.SortedUniqueInts(materialIds)
	obtainCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(ids))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// Release with a fresh context: the caller's may already be done.
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := held[i].Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				config.LogError(config.GetLogger(), "materialLock.go", "RedisMaterialLocker.release", "Release", held[i].Key(), err)
			}
			releaseCancel()
		}
	}
	for _, id := range ids {
		lock, err := l.client.Obtain(obtainCtx, materialLockKey(id), l.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, nil, fmt.Errorf("%w: material_id=%d", ErrLockNotObtained, id)
			}
			return nil, nil, err
		}
		held = append(held, lock)
	}

	heldCtx, lost := context.WithCancelCause(ctx)
	refreshed := make([]refreshableLock, len(held))
	for i, lock := range held {
		refreshed[i] = lock
	}
	stop := make(chan struct{})
	go keepAlive(refreshed, l.ttl, stop, lost)
	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			releaseAll()
			lost(nil)
		})
	}
	return heldCtx, release, nil
}

// AdvisoryMaterialLocker uses MySQL GET_LOCK on a dedicated connection.
// GET_LOCK is connection-scoped, so the connection is held until release.
type AdvisoryMaterialLocker struct {
	db   *gorm.DB
	wait time.Duration
}

func NewAdvisoryMaterialLocker(db *gorm.DB, wait time.Duration) *AdvisoryMaterialLocker {
	return &AdvisoryMaterialLocker{db: db, wait: wait}
}

func (l *AdvisoryMaterialLocker) Lock(ctx context.Context, materialIds ...int) (context.Context, func(), error) {
	ids := utils.SortedUniqueInts(materialIds)
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}

	held := make([]string, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			var ok sql.NullInt64
			_ = conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", held[i]).Scan(&ok)
		}
		_ = conn.Close()
	}
	timeout := int(l.wait.Seconds())
	if timeout < 1 {
		timeout = 1
	}
	for _, id := range ids {
		name := fmt.Sprintf("material:%d", id)
		var ok sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, timeout).Scan(&ok); err != nil {
			release()
			return nil, nil, err
		}
		if !ok.Valid || ok.Int64 != 1 {
			release()
			return nil, nil, fmt.Errorf("%w: material_id=%d", ErrLockNotObtained, id)
		}
		held = append(held, name)
	}
	return ctx, release, nil
}
