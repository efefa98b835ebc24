package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Per-category caching profiles. Lesson plans and assessments are what a
// student needs most during an outage, so they carry high priorities;
// reference material is bulkier and longer-lived but cheaper to lose.
const (
	LessonPlanPriority = 8
	LessonPlanTTL      = 7 * 24 * time.Hour

	AssessmentPriority = 9
	AssessmentTTL      = 72 * time.Hour

	MaterialPriority = 7
	MaterialTTL      = 14 * 24 * time.Hour

	// ProgressPriority is the maximum: locally recorded progress is the one
	// thing that cannot be re-downloaded.
	ProgressPriority = 10
)

// SubmitLessonPlan caches a lesson plan with the lesson profile.
func (s *Service) SubmitLessonPlan(ctx context.Context, owner OwnerID, payload json.RawMessage) (*CachedContent, error) {
	return s.Submit(ctx, owner, CategoryLessonPlan, payload, SubmitOptions{
		Priority: LessonPlanPriority,
		TTL:      LessonPlanTTL,
	})
}

// SubmitAssessment caches an assessment with the assessment profile.
func (s *Service) SubmitAssessment(ctx context.Context, owner OwnerID, payload json.RawMessage) (*CachedContent, error) {
	return s.Submit(ctx, owner, CategoryAssessment, payload, SubmitOptions{
		Priority: AssessmentPriority,
		TTL:      AssessmentTTL,
	})
}

// SubmitLearningMaterial caches reference material with the material profile.
func (s *Service) SubmitLearningMaterial(ctx context.Context, owner OwnerID, payload json.RawMessage) (*CachedContent, error) {
	return s.Submit(ctx, owner, CategoryContentMaterial, payload, SubmitOptions{
		Priority: MaterialPriority,
		TTL:      MaterialTTL,
	})
}

// SubmitProgressSnapshot caches a locally recorded progress snapshot. It is
// pinned at maximum priority and queued for upload, since the device is the
// only place this data exists until a sync succeeds.
func (s *Service) SubmitProgressSnapshot(ctx context.Context, owner OwnerID, payload json.RawMessage) (*CachedContent, error) {
	return s.Submit(ctx, owner, CategoryUserProgress, payload, SubmitOptions{
		Priority:      ProgressPriority,
		MarkForUpload: true,
	})
}
