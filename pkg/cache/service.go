package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/satchel-edu/satchel/internal/logger"
	"github.com/satchel-edu/satchel/pkg/metrics"
	"github.com/satchel-edu/satchel/pkg/registry"
)

// Config carries the cache policy knobs.
type Config struct {
	// MaxBytes is the per-owner size ceiling. An item larger than this can
	// never be cached.
	MaxBytes int64

	// DefaultTTL applies when a submission carries no explicit TTL.
	DefaultTTL time.Duration
}

// DefaultMaxBytes is the per-owner ceiling when none is configured.
const DefaultMaxBytes = 500 * 1024 * 1024

// Service is the offline content cache engine. All mutations for one owner
// run under that owner's lock, so size accounting and eviction decisions
// never race within an owner.
type Service struct {
	store      Store
	owners     *registry.Registry
	maxBytes   int64
	defaultTTL time.Duration
	clock      func() time.Time
	metrics    metrics.CacheMetrics
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMetrics attaches a metrics implementation. nil disables collection.
func WithMetrics(m metrics.CacheMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the cache engine on top of a metadata store.
func NewService(st Store, owners *registry.Registry, cfg Config, opts ...Option) *Service {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	s := &Service{
		store:      st,
		owners:     owners,
		maxBytes:   cfg.MaxBytes,
		defaultTTL: cfg.DefaultTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitOptions tunes one submission.
type SubmitOptions struct {
	// Priority is the eviction priority (1 low .. 10 high). Zero means
	// DefaultPriority.
	Priority int

	// TTL overrides the configured default expiry. Zero means default.
	TTL time.Duration

	// NoExpiry pins the item until it is deleted or evicted for capacity.
	NoExpiry bool

	// MarkForUpload flags locally-produced data that must reach the backend:
	// the item enters the cache as pending_upload with an upload operation
	// queued.
	MarkForUpload bool
}

// Submit stores a payload in the owner's cache, evicting other items if the
// ceiling requires it. Submitting a payload that is already cached (same
// owner, category, and canonical content) refreshes the existing item
// instead of duplicating it.
func (s *Service) Submit(ctx context.Context, owner OwnerID, category Category, payload json.RawMessage, opts SubmitOptions) (*CachedContent, error) {
	start := time.Now()

	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, NewInvalidArgumentError(fmt.Sprintf("unknown category: %s", category))
	}
	if opts.Priority == 0 {
		opts.Priority = DefaultPriority
	}
	if opts.Priority < MinPriority || opts.Priority > MaxPriority {
		return nil, NewInvalidArgumentError(fmt.Sprintf("priority must be between %d and %d, got %d", MinPriority, MaxPriority, opts.Priority))
	}

	canonical, err := CanonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	id := DeriveContentID(owner, category, canonical)

	unlock := s.owners.Lock(string(owner))
	defer unlock()

	now := s.clock().UTC()
	expiresAt := s.expiry(now, opts)

	existing, err := s.store.GetContent(ctx, owner, id)
	switch {
	case err == nil && !existing.Expired(now):
		refreshed, err := s.refresh(ctx, existing, opts, expiresAt, now)
		if err != nil {
			return nil, err
		}
		metrics.RecordSubmit(s.metrics, string(category), refreshed.SizeBytes, time.Since(start))
		return refreshed, nil

	case err == nil:
		// The same content expired earlier: purge the stale row, then insert
		// a fresh one below.
		if err := s.store.DeleteContent(ctx, owner, id); err != nil {
			return nil, err
		}
		metrics.RecordEviction(s.metrics, string(ReasonExpired), existing.SizeBytes)

	case !IsNotFound(err):
		return nil, err
	}

	size := int64(len(canonical))
	if err := s.makeRoom(ctx, owner, size, now); err != nil {
		return nil, err
	}

	content := &CachedContent{
		ContentID:    id,
		OwnerID:      owner,
		Category:     category,
		Payload:      canonical,
		SizeBytes:    size,
		Checksum:     PayloadChecksum(canonical),
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    expiresAt,
		SyncStatus:   StatusSynced,
		Version:      1,
		Priority:     opts.Priority,
		LastAccessed: now,
	}
	if opts.MarkForUpload {
		content.SyncStatus = StatusPendingUpload
	}

	if err := s.store.PutContent(ctx, content); err != nil {
		return nil, err
	}
	if opts.MarkForUpload {
		if err := s.enqueueUpload(ctx, content, now); err != nil {
			return nil, err
		}
	}

	logger.Debug("cached content",
		"owner", owner,
		"content_id", id,
		"category", category,
		"size_bytes", size,
		"priority", opts.Priority)

	metrics.RecordSubmit(s.metrics, string(category), size, time.Since(start))
	s.publishUsage(ctx, owner)
	return content.Clone(), nil
}

// refresh applies an idempotent re-submission to an existing live item. The
// payload is identical by construction (the content id covers it), so only
// bookkeeping moves: version, timestamps, expiry, and priority. Access
// statistics and sync state are preserved.
func (s *Service) refresh(ctx context.Context, existing *CachedContent, opts SubmitOptions, expiresAt time.Time, now time.Time) (*CachedContent, error) {
	existing.Version++
	existing.UpdatedAt = now
	existing.ExpiresAt = expiresAt
	existing.Priority = opts.Priority

	if opts.MarkForUpload && existing.SyncStatus == StatusSynced {
		existing.SyncStatus = StatusPendingUpload
		if err := s.enqueueUpload(ctx, existing, now); err != nil {
			return nil, err
		}
	}

	if err := s.store.PutContent(ctx, existing); err != nil {
		return nil, err
	}
	return existing.Clone(), nil
}

// makeRoom plans and applies evictions so that size fits under the ceiling.
// Planning is pure; if it fails nothing has been removed.
func (s *Service) makeRoom(ctx context.Context, owner OwnerID, size int64, now time.Time) error {
	current, err := s.store.TotalSize(ctx, owner)
	if err != nil {
		return err
	}
	if current+size <= s.maxBytes && size <= s.maxBytes {
		return nil
	}

	items, err := s.store.ListOwnerContent(ctx, owner)
	if err != nil {
		return err
	}

	events, err := planEviction(items, size, current, s.maxBytes, now)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := s.store.DeleteContent(ctx, owner, event.ContentID); err != nil {
			return err
		}
		logger.Debug("evicted content",
			"owner", owner,
			"content_id", event.ContentID,
			"reason", event.Reason,
			"size_bytes", event.SizeBytes)
		metrics.RecordEviction(s.metrics, string(event.Reason), event.SizeBytes)
	}
	return nil
}

// Fetch returns a cached item and records the access. Expired items are
// purged on touch and reported as missing.
func (s *Service) Fetch(ctx context.Context, owner OwnerID, id ContentID) (*CachedContent, error) {
	start := time.Now()

	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	unlock := s.owners.Lock(string(owner))
	defer unlock()

	now := s.clock().UTC()
	content, err := s.store.GetContent(ctx, owner, id)
	if err != nil {
		metrics.RecordFetch(s.metrics, "", false, time.Since(start))
		return nil, err
	}

	if content.Expired(now) {
		if err := s.store.DeleteContent(ctx, owner, id); err != nil {
			return nil, err
		}
		metrics.RecordEviction(s.metrics, string(ReasonExpired), content.SizeBytes)
		metrics.RecordFetch(s.metrics, string(content.Category), false, time.Since(start))
		s.publishUsage(ctx, owner)
		return nil, NewNotFoundError(id)
	}

	content.AccessCount++
	content.LastAccessed = now
	if err := s.store.PutContent(ctx, content); err != nil {
		return nil, err
	}

	metrics.RecordFetch(s.metrics, string(content.Category), true, time.Since(start))
	return content.Clone(), nil
}

// List returns the owner's live items in one category, best first
// (priority desc, last accessed desc). limit <= 0 means no limit. Expired
// items are filtered out but left for the sweep to purge.
func (s *Service) List(ctx context.Context, owner OwnerID, category Category, limit int) ([]*CachedContent, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, NewInvalidArgumentError(fmt.Sprintf("unknown category: %s", category))
	}

	items, err := s.store.ListContent(ctx, owner, category)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	live := items[:0]
	for _, item := range items {
		if item.Expired(now) {
			continue
		}
		live = append(live, item)
		if limit > 0 && len(live) == limit {
			break
		}
	}
	return live, nil
}

// Delete removes an item from the owner's cache.
func (s *Service) Delete(ctx context.Context, owner OwnerID, id ContentID) error {
	if err := validateOwner(owner); err != nil {
		return err
	}

	unlock := s.owners.Lock(string(owner))
	defer unlock()

	if err := s.store.DeleteContent(ctx, owner, id); err != nil {
		return err
	}
	logger.Debug("deleted content", "owner", owner, "content_id", id)
	s.publishUsage(ctx, owner)
	return nil
}

// TotalSize returns the owner's cached byte total.
func (s *Service) TotalSize(ctx context.Context, owner OwnerID) (int64, error) {
	if err := validateOwner(owner); err != nil {
		return 0, err
	}
	return s.store.TotalSize(ctx, owner)
}

// SweepExpired purges every expired item of one owner and returns how many
// were removed.
func (s *Service) SweepExpired(ctx context.Context, owner OwnerID) (int, error) {
	if err := validateOwner(owner); err != nil {
		return 0, err
	}

	unlock := s.owners.Lock(string(owner))
	defer unlock()

	now := s.clock().UTC()
	items, err := s.store.ListOwnerContent(ctx, owner)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, item := range items {
		if !item.Expired(now) {
			continue
		}
		if err := s.store.DeleteContent(ctx, owner, item.ContentID); err != nil {
			return purged, err
		}
		metrics.RecordEviction(s.metrics, string(ReasonExpired), item.SizeBytes)
		purged++
	}
	if purged > 0 {
		logger.Debug("purged expired content", "owner", owner, "count", purged)
		s.publishUsage(ctx, owner)
	}
	return purged, nil
}

// Owners returns every owner with cached content or queued operations.
func (s *Service) Owners(ctx context.Context) ([]OwnerID, error) {
	return s.store.Owners(ctx)
}

// Store exposes the underlying metadata store to sibling components (the
// sync manager shares it).
func (s *Service) Store() Store {
	return s.store
}

func (s *Service) enqueueUpload(ctx context.Context, content *CachedContent, now time.Time) error {
	return s.store.EnqueueOperation(ctx, &SyncOperation{
		OperationID: uuid.NewString(),
		OwnerID:     content.OwnerID,
		Type:        OpUpload,
		ContentID:   content.ContentID,
		Status:      OpPending,
		CreatedAt:   now,
	})
}

func (s *Service) expiry(now time.Time, opts SubmitOptions) time.Time {
	if opts.NoExpiry {
		return time.Time{}
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	return now.Add(ttl)
}

func (s *Service) publishUsage(ctx context.Context, owner OwnerID) {
	if s.metrics == nil {
		return
	}
	items, err := s.store.ListOwnerContent(ctx, owner)
	if err != nil {
		return
	}
	total, err := s.store.TotalSize(ctx, owner)
	if err != nil {
		return
	}
	s.metrics.SetOwnerUsage(string(owner), total, len(items))
}

func validateOwner(owner OwnerID) error {
	if owner == "" {
		return NewInvalidArgumentError("owner id must not be empty")
	}
	if strings.Contains(string(owner), "/") {
		return NewInvalidArgumentError(fmt.Sprintf("owner id must not contain '/': %s", owner))
	}
	return nil
}
