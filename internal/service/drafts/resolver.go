// Package drafts decides the conflict state of section drafts against the
// section's approved version: clean saves pass through, stale bases get a
// rebase payload plus an audit log entry, and blocked drafts stay blocked.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/storage"
	"github.com/inkwell-ai/inkwell/internal/telemetry"
)

// Repository is the persistence contract for sections, drafts, and the
// conflict audit log.
type Repository interface {
	GetSection(ctx context.Context, sectionID string) (model.Section, error)
	UpsertSection(ctx context.Context, section model.Section) error
	GetDraftBySection(ctx context.Context, sectionID string) (model.Draft, error)
	UpsertDraft(ctx context.Context, draft model.Draft) error
	UpdateDraftConflict(ctx context.Context, draft model.Draft) error
	CreateConflictLogEntry(ctx context.Context, entry model.ConflictLogEntry) error
	ListConflictLog(ctx context.Context, sectionID string) ([]model.ConflictLogEntry, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Resolver runs draft conflict checks and draft persistence for sections.
type Resolver struct {
	repo   Repository
	clock  Clock
	logger *slog.Logger

	conflictsDetected metric.Int64Counter
}

// NewResolver creates a Resolver. A nil clock defaults to the system clock.
func NewResolver(repo Repository, clock Clock, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = systemClock{}
	}
	meter := telemetry.Meter("inkwell/drafts")
	conflicts, _ := meter.Int64Counter("inkwell.draft.conflicts",
		metric.WithDescription("Draft saves that detected a stale base version"))
	return &Resolver{repo: repo, clock: clock, logger: logger, conflictsDetected: conflicts}
}

// CheckOnSave decides the conflict state for a draft save against the
// section's approved version. A caller-supplied approved version newer than
// the stored one is taken as authoritative and persisted.
//
// Blocked drafts short-circuit; a base at or ahead of the approved version is
// clean; anything else is rebase_required, which persists an audit entry,
// flips the draft's conflict state, and returns a rebase payload built from
// the approved content with the draft's formatting annotations carried over.
func (r *Resolver) CheckOnSave(ctx context.Context, sectionID string, req model.SaveDraftCheckRequest) (model.SaveDraftCheckResponse, error) {
	section, err := r.repo.GetSection(ctx, sectionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.SaveDraftCheckResponse{}, model.NotFound("section", sectionID)
		}
		return model.SaveDraftCheckResponse{}, fmt.Errorf("drafts: load section: %w", err)
	}

	if req.ApprovedVersion != nil && *req.ApprovedVersion > section.ApprovedVersion {
		section.ApprovedVersion = *req.ApprovedVersion
		if err := r.repo.UpsertSection(ctx, section); err != nil {
			return model.SaveDraftCheckResponse{}, fmt.Errorf("drafts: advance approved version: %w", err)
		}
	}

	draft, err := r.repo.GetDraftBySection(ctx, sectionID)
	draftExists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.SaveDraftCheckResponse{}, fmt.Errorf("drafts: load draft: %w", err)
	}

	if draftExists && draft.ConflictState == model.DraftBlocked {
		res := model.SaveDraftCheckResponse{Status: model.DraftBlocked}
		if draft.ConflictReason != nil {
			res.ConflictReason = *draft.ConflictReason
		}
		return res, nil
	}

	if section.ApprovedVersion <= req.DraftBaseVersion {
		return model.SaveDraftCheckResponse{Status: model.DraftClean}, nil
	}

	now := r.clock.Now()
	trigger := req.TriggeredBy
	if trigger == "" {
		trigger = "entry"
	}
	reason := fmt.Sprintf("approved version advanced from %d to %d", req.DraftBaseVersion, section.ApprovedVersion)

	rebased := model.RebasedDraft{
		DraftVersion:    req.DraftVersion + 1,
		ContentMarkdown: section.ApprovedContent,
	}

	if draftExists {
		if draft.DraftVersion > req.DraftVersion {
			rebased.DraftVersion = draft.DraftVersion + 1
		}
		rebased.FormattingAnnotations = draft.FormattingAnnotations

		if err := r.repo.CreateConflictLogEntry(ctx, model.ConflictLogEntry{
			ID:                      uuid.New(),
			SectionID:               sectionID,
			DraftID:                 draft.ID,
			DetectedAt:              now,
			DetectedDuring:          trigger,
			PreviousApprovedVersion: req.DraftBaseVersion,
			LatestApprovedVersion:   section.ApprovedVersion,
		}); err != nil {
			return model.SaveDraftCheckResponse{}, fmt.Errorf("drafts: record conflict: %w", err)
		}

		draft.ConflictState = model.DraftRebaseRequired
		draft.ConflictReason = &reason
		draft.UpdatedAt = now
		if err := r.repo.UpdateDraftConflict(ctx, draft); err != nil {
			return model.SaveDraftCheckResponse{}, fmt.Errorf("drafts: update draft state: %w", err)
		}
	} else {
		r.logger.Warn("drafts: conflict detected with no draft record, nothing persisted",
			"section_id", sectionID, "draft_base_version", req.DraftBaseVersion,
			"approved_version", section.ApprovedVersion)
	}

	r.conflictsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	r.logger.Info("drafts: rebase required",
		"section_id", sectionID, "trigger", trigger,
		"previous_version", req.DraftBaseVersion, "latest_version", section.ApprovedVersion)

	return model.SaveDraftCheckResponse{
		Status:         model.DraftRebaseRequired,
		ConflictReason: reason,
		RebasedDraft:   &rebased,
	}, nil
}

// SaveDraft persists a draft, enforcing that draft versions strictly increase
// and that blocked drafts stay read-only until unblocked.
func (r *Resolver) SaveDraft(ctx context.Context, draft model.Draft) (model.Draft, error) {
	existing, err := r.repo.GetDraftBySection(ctx, draft.SectionID)
	switch {
	case err == nil:
		if existing.ConflictState == model.DraftBlocked {
			return model.Draft{}, model.PreconditionFailed(model.StatusDraftBlocked,
				"draft is blocked and cannot be saved", nil)
		}
		if draft.DraftVersion <= existing.DraftVersion {
			return model.Draft{}, model.Conflict(model.StatusNonMonotonicDraft,
				fmt.Sprintf("draftVersion must exceed existing version %d", existing.DraftVersion),
				map[string]any{"existingVersion": existing.DraftVersion})
		}
		draft.ID = existing.ID
	case errors.Is(err, storage.ErrNotFound):
		if draft.ID == uuid.Nil {
			draft.ID = uuid.New()
		}
	default:
		return model.Draft{}, fmt.Errorf("drafts: load draft: %w", err)
	}

	if draft.ConflictState == "" {
		draft.ConflictState = model.DraftClean
	}
	draft.UpdatedAt = r.clock.Now()
	if err := r.repo.UpsertDraft(ctx, draft); err != nil {
		return model.Draft{}, fmt.Errorf("drafts: save draft: %w", err)
	}
	return draft, nil
}

// GetDraft returns the working draft for a section.
func (r *Resolver) GetDraft(ctx context.Context, sectionID string) (model.Draft, error) {
	draft, err := r.repo.GetDraftBySection(ctx, sectionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Draft{}, model.NotFound("draft", sectionID)
		}
		return model.Draft{}, fmt.Errorf("drafts: load draft: %w", err)
	}
	return draft, nil
}

// ConflictLog returns a section's conflict audit log, newest first.
func (r *Resolver) ConflictLog(ctx context.Context, sectionID string) ([]model.ConflictLogEntry, error) {
	entries, err := r.repo.ListConflictLog(ctx, sectionID)
	if err != nil {
		return nil, fmt.Errorf("drafts: list conflict log: %w", err)
	}
	return entries, nil
}

// UpdateApprovedSection records a section's latest approved version and
// content, creating the section when unknown.
func (r *Resolver) UpdateApprovedSection(ctx context.Context, section model.Section) error {
	if err := r.repo.UpsertSection(ctx, section); err != nil {
		return fmt.Errorf("drafts: upsert section: %w", err)
	}
	return nil
}
