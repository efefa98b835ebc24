package sql

import (
	"encoding/json"
	"time"

	"github.com/satchel-edu/satchel/pkg/cache"
)

// contentRow is the GORM model for the cached_content table.
type contentRow struct {
	ContentID    string `gorm:"primaryKey"`
	OwnerID      string `gorm:"index:idx_owner_category"`
	Category     string `gorm:"index:idx_owner_category"`
	Payload      []byte
	SizeBytes    int64
	Checksum     string
	CreatedAt    time.Time
	// The engine owns this timestamp; GORM must not rewrite it on save.
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
	ExpiresAt    *time.Time
	SyncStatus   string
	Version      int64
	Priority     int
	AccessCount  int64
	LastAccessed time.Time
}

func (contentRow) TableName() string { return "cached_content" }

// operationRow is the GORM model for the sync_operations table. Seq is the
// autoincrement FIFO position.
type operationRow struct {
	Seq         int64  `gorm:"primaryKey;autoIncrement"`
	OperationID string `gorm:"uniqueIndex"`
	OwnerID     string `gorm:"index"`
	Type        string
	ContentID   string
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
	RetryCount  int
	Error       string
}

func (operationRow) TableName() string { return "sync_operations" }

// ownerSyncRow records the most recent successful sync per owner.
type ownerSyncRow struct {
	OwnerID  string `gorm:"primaryKey"`
	LastSync time.Time
}

func (ownerSyncRow) TableName() string { return "owner_sync" }

func allModels() []any {
	return []any{&contentRow{}, &operationRow{}, &ownerSyncRow{}}
}

func toContentRow(c *cache.CachedContent) *contentRow {
	row := &contentRow{
		ContentID:    string(c.ContentID),
		OwnerID:      string(c.OwnerID),
		Category:     string(c.Category),
		Payload:      []byte(c.Payload),
		SizeBytes:    c.SizeBytes,
		Checksum:     c.Checksum,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		SyncStatus:   string(c.SyncStatus),
		Version:      c.Version,
		Priority:     c.Priority,
		AccessCount:  c.AccessCount,
		LastAccessed: c.LastAccessed,
	}
	if !c.ExpiresAt.IsZero() {
		expires := c.ExpiresAt
		row.ExpiresAt = &expires
	}
	return row
}

func fromContentRow(row *contentRow) *cache.CachedContent {
	c := &cache.CachedContent{
		ContentID:    cache.ContentID(row.ContentID),
		OwnerID:      cache.OwnerID(row.OwnerID),
		Category:     cache.Category(row.Category),
		Payload:      json.RawMessage(row.Payload),
		SizeBytes:    row.SizeBytes,
		Checksum:     row.Checksum,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		SyncStatus:   cache.SyncStatus(row.SyncStatus),
		Version:      row.Version,
		Priority:     row.Priority,
		AccessCount:  row.AccessCount,
		LastAccessed: row.LastAccessed,
	}
	if row.ExpiresAt != nil {
		c.ExpiresAt = *row.ExpiresAt
	}
	return c
}

func toOperationRow(op *cache.SyncOperation) *operationRow {
	row := &operationRow{
		OperationID: op.OperationID,
		OwnerID:     string(op.OwnerID),
		Type:        string(op.Type),
		ContentID:   string(op.ContentID),
		Status:      string(op.Status),
		CreatedAt:   op.CreatedAt,
		RetryCount:  op.RetryCount,
		Error:       op.Error,
	}
	if !op.CompletedAt.IsZero() {
		completed := op.CompletedAt
		row.CompletedAt = &completed
	}
	return row
}

func fromOperationRow(row *operationRow) *cache.SyncOperation {
	op := &cache.SyncOperation{
		OperationID: row.OperationID,
		OwnerID:     cache.OwnerID(row.OwnerID),
		Type:        cache.OperationType(row.Type),
		ContentID:   cache.ContentID(row.ContentID),
		Status:      cache.OperationStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		RetryCount:  row.RetryCount,
		Error:       row.Error,
	}
	if row.CompletedAt != nil {
		op.CompletedAt = *row.CompletedAt
	}
	return op
}
