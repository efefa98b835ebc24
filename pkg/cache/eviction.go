package cache

import (
	"sort"
	"time"
)

// EvictionReason explains why an item was selected for removal.
type EvictionReason string

const (
	// ReasonExpired marks items removed because their TTL has passed.
	ReasonExpired EvictionReason = "expired"

	// ReasonCapacity marks items removed to make room under the size ceiling.
	ReasonCapacity EvictionReason = "capacity"
)

// EvictionEvent records one planned removal.
type EvictionEvent struct {
	ContentID ContentID      `json:"content_id"`
	SizeBytes int64          `json:"size_bytes"`
	Reason    EvictionReason `json:"reason"`
}

// planEviction computes which items to remove so that requiredBytes fits
// under the ceiling. It is pure: the caller applies the returned events.
//
// An item larger than the ceiling itself can never fit, so that case fails
// up front with no events; nothing is evicted for a write that cannot
// succeed. Otherwise expired items go first, then live victims ordered by
// (priority asc, access count asc, last accessed asc). Items awaiting upload
// hold unsynchronized local changes and are only taken as a last resort,
// after every other candidate is exhausted.
func planEviction(items []*CachedContent, requiredBytes, currentSize, ceiling int64, now time.Time) ([]EvictionEvent, error) {
	if requiredBytes > ceiling {
		return nil, NewCapacityExceededError(requiredBytes, ceiling)
	}

	needed := currentSize + requiredBytes - ceiling
	if needed <= 0 {
		return nil, nil
	}

	var events []EvictionEvent
	freed := int64(0)

	remaining := make([]*CachedContent, 0, len(items))
	for _, item := range items {
		if item.Expired(now) {
			events = append(events, EvictionEvent{
				ContentID: item.ContentID,
				SizeBytes: item.SizeBytes,
				Reason:    ReasonExpired,
			})
			freed += item.SizeBytes
			continue
		}
		remaining = append(remaining, item)
	}
	if freed >= needed {
		return events, nil
	}

	sortEvictionOrder(remaining)

	// Two passes over the live candidates: first everything that is safe to
	// drop, then pending uploads if there is still no room.
	for _, protectUploads := range []bool{true, false} {
		for _, item := range remaining {
			if freed >= needed {
				return events, nil
			}
			if (item.SyncStatus == StatusPendingUpload) == protectUploads {
				continue
			}
			events = append(events, EvictionEvent{
				ContentID: item.ContentID,
				SizeBytes: item.SizeBytes,
				Reason:    ReasonCapacity,
			})
			freed += item.SizeBytes
		}
	}
	if freed >= needed {
		return events, nil
	}
	return nil, NewCapacityExceededError(requiredBytes, ceiling)
}

// sortEvictionOrder orders candidates cheapest-to-lose first: low priority,
// then rarely accessed, then least recently accessed.
func sortEvictionOrder(items []*CachedContent) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		if items[i].AccessCount != items[j].AccessCount {
			return items[i].AccessCount < items[j].AccessCount
		}
		return items[i].LastAccessed.Before(items[j].LastAccessed)
	})
}
