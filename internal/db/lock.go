package db

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema changes across replicas.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker returns a locker for the database dialect: an advisory
// lock on Postgres and a lock table elsewhere.
func NewMigrationLocker(gdb *gorm.DB) (MigrationLocker, error) {
	if gdb == nil {
		return noopLock{}, nil
	}
	if gdb.Dialector.Name() == "postgres" {
		return &advisoryLock{
			db:     gdb,
			lockID: int64(crc32.ChecksumIEEE([]byte("finding-overrides-migration"))),
		}, nil
	}
	// The table must exist before two replicas race on their first insert.
	if err := gdb.AutoMigrate(&migrationLockRecord{}); err != nil {
		return nil, fmt.Errorf("create migration lock table: %w", err)
	}
	return &tableLock{db: gdb, retries: 30, interval: time.Second, staleAfter: 5 * time.Minute}, nil
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

type advisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *advisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Advisory locks are per session, so lock and unlock on one connection.
	conn, err := l.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	c, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve connection: %w", err)
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, "SELECT pg_advisory_lock($1)", l.lockID); err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_, _ = c.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", l.lockID)
	}()
	return fn()
}

type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;type:varchar(32)"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by;type:varchar(255)"`
}

func (migrationLockRecord) TableName() string { return "override_migration_lock" }

const lockRowID = "migration"

// tableLock inserts a single row as the lock. Rows older than staleAfter are
// treated as left behind by a crashed holder.
type tableLock struct {
	db         *gorm.DB
	retries    int
	interval   time.Duration
	staleAfter time.Duration
}

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}

	var lastErr error
	acquired := false
	for i := 0; i < l.retries; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", lockRowID, time.Now().Add(-l.staleAfter)).
			Delete(&migrationLockRecord{})

		lastErr = l.db.WithContext(ctx).Create(&migrationLockRecord{
			ID:       lockRowID,
			LockedAt: time.Now(),
			LockedBy: holder,
		}).Error
		if lastErr == nil {
			acquired = true
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.interval):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock after %d attempts: %w", l.retries, lastErr)
	}

	defer l.db.WithContext(context.WithoutCancel(ctx)).Where("id = ?", lockRowID).Delete(&migrationLockRecord{})
	return fn()
}
