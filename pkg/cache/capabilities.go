package cache

import (
	"context"
)

// Estimated offline study time contributed by one item of each interactive
// category, in hours. Other categories support the session but do not add
// study time of their own.
const (
	lessonHours     = 0.5
	assessmentHours = 1.0 / 3.0
	materialHours   = 0.25
)

// Capabilities summarizes what the owner can do offline right now. Expired
// items are excluded from every figure even when the sweep has not purged
// them yet.
func (s *Service) Capabilities(ctx context.Context, owner OwnerID) (*Capabilities, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}

	unlock := s.owners.Lock(string(owner))
	defer unlock()

	now := s.clock().UTC()
	items, err := s.store.ListOwnerContent(ctx, owner)
	if err != nil {
		return nil, err
	}

	caps := &Capabilities{
		OwnerID:     owner,
		PerCategory: make(map[Category]int),
	}
	for _, item := range items {
		if item.Expired(now) {
			continue
		}
		caps.TotalItems++
		caps.TotalBytes += item.SizeBytes
		caps.PerCategory[item.Category]++
		if item.SyncStatus == StatusConflict {
			caps.ConflictCount++
		}

		switch item.Category {
		case CategoryLessonPlan:
			caps.EstimatedOfflineHours += lessonHours
		case CategoryAssessment:
			caps.EstimatedOfflineHours += assessmentHours
		case CategoryContentMaterial:
			caps.EstimatedOfflineHours += materialHours
		}
	}

	last, err := s.store.LastSync(ctx, owner)
	if err != nil {
		return nil, err
	}
	caps.LastSync = last
	return caps, nil
}
