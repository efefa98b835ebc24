// Package cache implements the offline content cache: durable per-owner
// storage of educational content under a size ceiling, with expiry,
// priority-based eviction and synchronization state tracking.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// OwnerID identifies the student a cached item belongs to.
type OwnerID string

// ContentID is the stable identifier of a cached item, derived from
// owner, category and payload content.
type ContentID string

// Category classifies cached content.
type Category string

const (
	CategoryLessonPlan      Category = "lesson_plan"
	CategoryAssessment      Category = "assessment"
	CategoryContentMaterial Category = "content_material"
	CategoryUserProgress    Category = "user_progress"
	CategoryCompanionData   Category = "companion_data"
	CategoryAnalyticsData   Category = "analytics_data"
	CategorySettings        Category = "settings"
)

// Categories returns all known content categories.
func Categories() []Category {
	return []Category{
		CategoryLessonPlan,
		CategoryAssessment,
		CategoryContentMaterial,
		CategoryUserProgress,
		CategoryCompanionData,
		CategoryAnalyticsData,
		CategorySettings,
	}
}

// Valid reports whether the category is a known one.
func (c Category) Valid() bool {
	switch c {
	case CategoryLessonPlan, CategoryAssessment, CategoryContentMaterial,
		CategoryUserProgress, CategoryCompanionData, CategoryAnalyticsData,
		CategorySettings:
		return true
	}
	return false
}

// SyncStatus is the synchronization state of a cached item.
type SyncStatus string

const (
	StatusSynced          SyncStatus = "synced"
	StatusPendingUpload   SyncStatus = "pending_upload"
	StatusPendingDownload SyncStatus = "pending_download"
	StatusConflict        SyncStatus = "conflict"
	StatusError           SyncStatus = "error"
)

// Priority bounds and defaults. Priority is the primary eviction sort key;
// there is no non-evictable tier.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// DefaultTTL is the expiry applied when a submission carries no explicit TTL.
const DefaultTTL = 72 * time.Hour

// CachedContent is one cached item with its metadata. Payload is an opaque
// structured blob; SizeBytes and Checksum are computed over its canonical
// (key-sorted) JSON encoding.
type CachedContent struct {
	ContentID    ContentID       `json:"content_id"`
	OwnerID      OwnerID         `json:"owner_id"`
	Category     Category        `json:"category"`
	Payload      json.RawMessage `json:"payload"`
	SizeBytes    int64           `json:"size_bytes"`
	Checksum     string          `json:"checksum"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiresAt    time.Time       `json:"expires_at,omitzero"` // zero = never expires
	SyncStatus   SyncStatus      `json:"sync_status"`
	Version      int64           `json:"version"`
	Priority     int             `json:"priority"`
	AccessCount  int64           `json:"access_count"`
	LastAccessed time.Time       `json:"last_accessed"`
}

// Expired reports whether the item's TTL has passed at the given instant.
func (c *CachedContent) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// Clone returns a deep copy. Stores return clones so callers can never
// mutate persisted state through a shared pointer.
func (c *CachedContent) Clone() *CachedContent {
	cp := *c
	if c.Payload != nil {
		cp.Payload = make(json.RawMessage, len(c.Payload))
		copy(cp.Payload, c.Payload)
	}
	return &cp
}

// OperationType is the kind of sync intent.
type OperationType string

const (
	OpUpload   OperationType = "upload"
	OpDownload OperationType = "download"
	OpDelete   OperationType = "delete"
)

// OperationStatus is the state of a sync operation.
type OperationStatus string

const (
	OpPending    OperationStatus = "pending"
	OpInProgress OperationStatus = "in_progress"
	OpCompleted  OperationStatus = "completed"
	OpFailed     OperationStatus = "failed"
)

// SyncOperation is one outstanding sync intent for a cached item.
type SyncOperation struct {
	OperationID string          `json:"operation_id"`
	OwnerID     OwnerID         `json:"owner_id"`
	Type        OperationType   `json:"operation_type"`
	ContentID   ContentID       `json:"content_id"`
	Status      OperationStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"`
	RetryCount  int             `json:"retry_count"`
	Error       string          `json:"error,omitempty"`
}

// Clone returns a copy of the operation.
func (op *SyncOperation) Clone() *SyncOperation {
	cp := *op
	return &cp
}

// Capabilities is the read-only offline summary for one owner.
type Capabilities struct {
	OwnerID               OwnerID          `json:"owner_id"`
	TotalItems            int              `json:"total_items"`
	TotalBytes            int64            `json:"total_bytes"`
	PerCategory           map[Category]int `json:"per_category_counts"`
	LastSync              time.Time        `json:"last_sync,omitzero"`
	ConflictCount         int              `json:"conflict_count"`
	EstimatedOfflineHours float64          `json:"estimated_offline_hours"`
}

// CanonicalPayload returns the canonical encoding of an opaque JSON payload:
// re-marshaled with object keys sorted, so identical content always yields
// identical bytes regardless of the caller's key order.
func CanonicalPayload(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, NewInvalidArgumentError("payload must not be empty")
	}

	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, NewInvalidArgumentError(fmt.Sprintf("payload is not valid JSON: %v", err))
	}

	// encoding/json sorts map keys deterministically.
	canonical, err := json.Marshal(v)
	if err != nil {
		return nil, NewInvalidArgumentError(fmt.Sprintf("payload cannot be canonicalized: %v", err))
	}
	return canonical, nil
}

// DeriveContentID computes the stable content identifier
// <owner>_<category>_<hex12> from the canonical payload bytes.
func DeriveContentID(owner OwnerID, category Category, canonical []byte) ContentID {
	sum := sha256.Sum256(canonical)
	return ContentID(fmt.Sprintf("%s_%s_%s", owner, category, hex.EncodeToString(sum[:])[:12]))
}

// PayloadChecksum returns the integrity hash of the canonical payload bytes.
func PayloadChecksum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
