// Package sql implements the metadata Store on a relational database via
// GORM. SQLite (default, single node) and PostgreSQL are supported by the
// same codebase; the schema is created with AutoMigrate.
package sql

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/satchel-edu/satchel/pkg/cache"
)

// Dialect selects the relational backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// PostgresOptions contains PostgreSQL connection settings.
type PostgresOptions struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string.
func (o *PostgresOptions) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		o.Host, o.Port, o.User, o.Password, o.Database)
	if o.SSLMode != "" {
		dsn += " sslmode=" + o.SSLMode
	}
	return dsn
}

// Options configures the SQL store.
type Options struct {
	Dialect  Dialect
	Path     string // SQLite database file
	Postgres PostgresOptions
}

// Store is the GORM-backed metadata store.
type Store struct {
	db *gorm.DB
}

var _ cache.Store = (*Store)(nil)

// Open connects to the database and migrates the schema.
func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Dialect {
	case DialectSQLite, "":
		if opts.Path == "" {
			return nil, cache.NewInvalidArgumentError("sqlite store requires a path")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// WAL for concurrent readers, busy_timeout to ride out writer locks.
		dsn := opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(opts.Postgres.DSN())
	default:
		return nil, cache.NewInvalidArgumentError(fmt.Sprintf("unsupported sql dialect: %s", opts.Dialect))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Store{db: db}, nil
}

// PutContent inserts or replaces a content row.
func (s *Store) PutContent(ctx context.Context, content *cache.CachedContent) error {
	row := toContentRow(content)
	return s.db.WithContext(ctx).Save(row).Error
}

// GetContent retrieves a content row by owner and id.
func (s *Store) GetContent(ctx context.Context, owner cache.OwnerID, id cache.ContentID) (*cache.CachedContent, error) {
	var row contentRow
	err := s.db.WithContext(ctx).
		Where("content_id = ? AND owner_id = ?", string(id), string(owner)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cache.NewNotFoundError(id)
	}
	if err != nil {
		return nil, err
	}
	return fromContentRow(&row), nil
}

// DeleteContent removes a content row.
func (s *Store) DeleteContent(ctx context.Context, owner cache.OwnerID, id cache.ContentID) error {
	result := s.db.WithContext(ctx).
		Where("content_id = ? AND owner_id = ?", string(id), string(owner)).
		Delete(&contentRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cache.NewNotFoundError(id)
	}
	return nil
}

// ListContent returns the owner's rows in one category ordered by
// (priority desc, last_accessed desc).
func (s *Store) ListContent(ctx context.Context, owner cache.OwnerID, category cache.Category) ([]*cache.CachedContent, error) {
	var rows []contentRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND category = ?", string(owner), string(category)).
		Order("priority DESC, last_accessed DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromContentRows(rows), nil
}

// ListOwnerContent returns every row of one owner.
func (s *Store) ListOwnerContent(ctx context.Context, owner cache.OwnerID) ([]*cache.CachedContent, error) {
	var rows []contentRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", string(owner)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromContentRows(rows), nil
}

// TotalSize returns the sum of size_bytes over the owner's rows.
func (s *Store) TotalSize(ctx context.Context, owner cache.OwnerID) (int64, error) {
	var total *int64
	err := s.db.WithContext(ctx).
		Model(&contentRow{}).
		Where("owner_id = ?", string(owner)).
		Select("SUM(size_bytes)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// Owners returns every owner with content or queued operations.
func (s *Store) Owners(ctx context.Context) ([]cache.OwnerID, error) {
	var ownerIDs []string
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT owner_id FROM cached_content
		     UNION SELECT DISTINCT owner_id FROM sync_operations
		     ORDER BY owner_id`).
		Scan(&ownerIDs).Error
	if err != nil {
		return nil, err
	}

	owners := make([]cache.OwnerID, len(ownerIDs))
	for i, id := range ownerIDs {
		owners[i] = cache.OwnerID(id)
	}
	return owners, nil
}

// EnqueueOperation appends a sync operation to the owner's queue.
func (s *Store) EnqueueOperation(ctx context.Context, op *cache.SyncOperation) error {
	return s.db.WithContext(ctx).Create(toOperationRow(op)).Error
}

// ListOperations returns the owner's operations in FIFO (insertion) order.
func (s *Store) ListOperations(ctx context.Context, owner cache.OwnerID) ([]*cache.SyncOperation, error) {
	var rows []operationRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", string(owner)).
		Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ops := make([]*cache.SyncOperation, len(rows))
	for i := range rows {
		ops[i] = fromOperationRow(&rows[i])
	}
	return ops, nil
}

// UpdateOperation replaces an existing operation.
func (s *Store) UpdateOperation(ctx context.Context, op *cache.SyncOperation) error {
	var row operationRow
	err := s.db.WithContext(ctx).
		Where("operation_id = ?", op.OperationID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cache.NewNotFoundError(op.ContentID)
	}
	if err != nil {
		return err
	}

	updated := toOperationRow(op)
	updated.Seq = row.Seq
	return s.db.WithContext(ctx).Save(updated).Error
}

// DeleteOperation removes an operation from the queue.
func (s *Store) DeleteOperation(ctx context.Context, owner cache.OwnerID, operationID string) error {
	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND operation_id = ?", string(owner), operationID).
		Delete(&operationRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cache.NewNotFoundError("")
	}
	return nil
}

// SetLastSync records the owner's most recent successful sync time.
func (s *Store) SetLastSync(ctx context.Context, owner cache.OwnerID, t time.Time) error {
	return s.db.WithContext(ctx).Save(&ownerSyncRow{
		OwnerID:  string(owner),
		LastSync: t,
	}).Error
}

// LastSync returns the owner's most recent successful sync time.
func (s *Store) LastSync(ctx context.Context, owner cache.OwnerID) (time.Time, error) {
	var row ownerSyncRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", string(owner)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return row.LastSync, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func fromContentRows(rows []contentRow) []*cache.CachedContent {
	items := make([]*cache.CachedContent, len(rows))
	for i := range rows {
		items[i] = fromContentRow(&rows[i])
	}
	return items
}
