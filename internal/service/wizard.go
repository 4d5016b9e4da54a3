package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	"github.com/noah-isme/studyplan-api/pkg/clock"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

// wizardEngine is the part of the reschedule engine the wizard drives.
type wizardEngine interface {
	ListContents(ctx context.Context, actor models.Actor, groupID string) (*models.PlanGroup, []models.PlanContent, error)
	GetReschedulePreview(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange) (*models.ReschedulePreviewResult, error)
	ProposeReschedule(ctx context.Context, actor models.Actor, groupID string, adjustments []models.AdjustmentInput, dateRange *models.PlacementDateRange, reason string) (*models.RescheduleProposal, error)
}

// wizardSession is copied on every update and stored back whole, so a failed
// operation never leaves a half-applied session behind.
type wizardSession struct {
	id           string
	groupID      string
	studentID    string
	periodEnd    models.Date
	step         models.WizardStep
	contents     []models.PlanContent
	selected     []string
	adjustments  AdjustmentSet
	replacements map[string]models.CatalogSummary
	placement    models.WizardPlacement
}

func (s wizardSession) clone() wizardSession {
	next := s
	next.selected = append([]string(nil), s.selected...)
	next.replacements = make(map[string]models.CatalogSummary, len(s.replacements))
	for k, v := range s.replacements {
		next.replacements[k] = v
	}
	return next
}

func (s wizardSession) isSelected(contentID string) bool {
	for _, id := range s.selected {
		if id == contentID {
			return true
		}
	}
	return false
}

func (s wizardSession) content(contentID string) (models.PlanContent, bool) {
	for _, c := range s.contents {
		if c.ID == contentID {
			return c, true
		}
	}
	return models.PlanContent{}, false
}

func (s wizardSession) selectedContents() []models.PlanContent {
	out := make([]models.PlanContent, 0, len(s.selected))
	for _, id := range s.selected {
		if c, ok := s.content(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// WizardService keeps the server side of the select, adjust and preview flow.
// Sessions are in-memory only; nothing is written until a proposal is committed.
type WizardService struct {
	engine   wizardEngine
	catalog  *CatalogService
	clock    clock.Clock
	logger   *zap.Logger
	sessions *ttlStore[wizardSession]
}

// NewWizardService constructs a wizard service whose sessions expire after ttl
// of inactivity.
func NewWizardService(engine wizardEngine, catalog *CatalogService, clk clock.Clock, logger *zap.Logger, ttl time.Duration) *WizardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewReal("")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &WizardService{
		engine:   engine,
		catalog:  catalog,
		clock:    clk,
		logger:   logger,
		sessions: newTTLStore[wizardSession](ttl, clk),
	}
}

// CreateSession starts a wizard for a plan group.
func (s *WizardService) CreateSession(ctx context.Context, actor models.Actor, groupID string) (*models.WizardSession, error) {
	group, contents, err := s.engine.ListContents(ctx, actor, groupID)
	if err != nil {
		return nil, err
	}
	session := wizardSession{
		id:           uuid.NewString(),
		groupID:      group.ID,
		studentID:    group.StudentID,
		periodEnd:    group.PeriodEnd,
		step:         models.WizardStepSelect,
		contents:     contents,
		replacements: map[string]models.CatalogSummary{},
		placement:    models.WizardPlacement{Mode: models.PlacementModeAuto},
	}
	return s.save(session), nil
}

// GetSession returns a session's current state.
func (s *WizardService) GetSession(ctx context.Context, actor models.Actor, sessionID string) (*models.WizardSession, error) {
	session, err := s.load(actor, sessionID)
	if err != nil {
		return nil, err
	}
	return s.save(session), nil
}

// SelectContents replaces the selection. Adjustments of contents that are no
// longer selected are dropped.
func (s *WizardService) SelectContents(ctx context.Context, actor models.Actor, sessionID string, contentIDs []string) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		seen := make(map[string]struct{}, len(contentIDs))
		selected := make([]string, 0, len(contentIDs))
		for _, id := range contentIDs {
			if _, ok := session.content(id); !ok {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content %s does not belong to this plan group", id))
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			selected = append(selected, id)
		}
		for _, adj := range session.adjustments.List() {
			if _, keep := seen[adj.PlanContentID]; !keep {
				session.adjustments = session.adjustments.Without(adj.PlanContentID)
				delete(session.replacements, adj.PlanContentID)
			}
		}
		session.selected = selected
		return nil
	})
}

// SetRangeAdjustment records a new remaining range for a selected content.
func (s *WizardService) SetRangeAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string, r models.ContentRange) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		content, existing, err := adjustable(session, contentID)
		if err != nil {
			return err
		}
		adj, err := NewRangeAdjustment(content, existing, r)
		if err != nil {
			return err
		}
		session.adjustments = session.adjustments.With(adj)
		delete(session.replacements, contentID)
		return nil
	})
}

// SetReplaceAdjustment swaps a selected content for a catalog item.
func (s *WizardService) SetReplaceAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string, replacementType models.ContentType, replacementID string, r models.ContentRange) (*models.WizardSession, error) {
	if s.catalog == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "content catalog unavailable")
	}
	item, err := s.catalog.Lookup(ctx, replacementType, replacementID)
	if err != nil {
		return nil, err
	}
	return s.update(actor, sessionID, func(session *wizardSession) error {
		content, existing, err := adjustable(session, contentID)
		if err != nil {
			return err
		}
		adj, err := NewReplaceAdjustment(content, existing, item, r)
		if err != nil {
			return err
		}
		session.adjustments = session.adjustments.With(adj)
		session.replacements[contentID] = models.SummarizeCatalogItem(item)
		return nil
	})
}

// SetFullAdjustment marks a selected content for full regeneration.
func (s *WizardService) SetFullAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		content, existing, err := adjustable(session, contentID)
		if err != nil {
			return err
		}
		session.adjustments = session.adjustments.With(NewFullAdjustment(content, existing))
		delete(session.replacements, contentID)
		return nil
	})
}

// RemoveAdjustment discards the adjustment of a content.
func (s *WizardService) RemoveAdjustment(ctx context.Context, actor models.Actor, sessionID, contentID string) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		if _, ok := session.adjustments.Get(contentID); !ok {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("content %s has no adjustment", contentID))
		}
		session.adjustments = session.adjustments.Without(contentID)
		delete(session.replacements, contentID)
		return nil
	})
}

// ApplyBatch previews a batch transform over the selected contents and, when
// apply is set, merges its adjustments into the session. Contents already
// adjusted keep their original before snapshot.
func (s *WizardService) ApplyBatch(ctx context.Context, actor models.Actor, sessionID string, cfg models.BatchConfig, apply bool) (models.BatchPreview, *models.WizardSession, error) {
	var preview models.BatchPreview
	view, err := s.update(actor, sessionID, func(session *wizardSession) error {
		contents := session.selectedContents()
		if len(contents) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "select at least one content before a batch adjustment")
		}
		var err error
		preview, err = PreviewBatchAdjustment(contents, cfg)
		if err != nil || !apply {
			return err
		}
		adjustments, err := ApplyBatchAdjustment(contents, cfg)
		if err != nil {
			return err
		}
		for _, adj := range adjustments {
			if existing, ok := session.adjustments.Get(adj.PlanContentID); ok {
				adj.Before = existing.Before
			}
			session.adjustments = session.adjustments.With(adj)
			delete(session.replacements, adj.PlanContentID)
		}
		return nil
	})
	if err != nil {
		return models.BatchPreview{}, nil, err
	}
	return preview, view, nil
}

// SetPlacement chooses the placement window. A manual window is validated right
// away against today and the plan group period.
func (s *WizardService) SetPlacement(ctx context.Context, actor models.Actor, sessionID string, mode models.PlacementMode, dateRange *models.PlacementDateRange) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		switch mode {
		case models.PlacementModeAuto, "":
			session.placement = models.WizardPlacement{Mode: models.PlacementModeAuto}
			return nil
		case models.PlacementModeManual:
			if dateRange.Empty() {
				return appErrors.Clone(appErrors.ErrValidation, "manual placement requires a date range")
			}
			if _, err := ResolvePlacementWindow(dateRange, models.NewDate(s.clock.Today()), session.periodEnd); err != nil {
				return err
			}
			r := *dateRange
			session.placement = models.WizardPlacement{Mode: models.PlacementModeManual, Range: &r}
			return nil
		}
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown placement mode %q", mode))
	})
}

// Advance moves to the next step once the current one is complete.
func (s *WizardService) Advance(ctx context.Context, actor models.Actor, sessionID string) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		switch session.step {
		case models.WizardStepSelect:
			if len(session.selected) == 0 {
				return appErrors.Clone(appErrors.ErrValidation, "select at least one content to continue")
			}
			session.step = models.WizardStepAdjust
		case models.WizardStepAdjust:
			if session.adjustments.Len() == 0 {
				return appErrors.Clone(appErrors.ErrValidation, "adjust at least one content to continue")
			}
			session.step = models.WizardStepPreview
		default:
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "wizard is already on the last step")
		}
		return nil
	})
}

// Back returns to the previous step without discarding any input.
func (s *WizardService) Back(ctx context.Context, actor models.Actor, sessionID string) (*models.WizardSession, error) {
	return s.update(actor, sessionID, func(session *wizardSession) error {
		if session.step <= models.WizardStepSelect {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "wizard is already on the first step")
		}
		session.step--
		return nil
	})
}

// Preview runs the engine over the session's adjustments.
func (s *WizardService) Preview(ctx context.Context, actor models.Actor, sessionID string) (*models.ReschedulePreviewResult, error) {
	session, err := s.ready(actor, sessionID)
	if err != nil {
		return nil, err
	}
	return s.engine.GetReschedulePreview(ctx, actor, session.groupID, session.adjustments.List(), session.placement.Range)
}

// Propose turns the session into a commit token. The session stays open so the
// user can still go back and change the adjustments.
func (s *WizardService) Propose(ctx context.Context, actor models.Actor, sessionID, reason string) (*models.RescheduleProposal, error) {
	session, err := s.ready(actor, sessionID)
	if err != nil {
		return nil, err
	}
	return s.engine.ProposeReschedule(ctx, actor, session.groupID, session.adjustments.List(), session.placement.Range, reason)
}

// Abandon drops a session. Nothing has been persisted, so there is nothing to undo.
func (s *WizardService) Abandon(ctx context.Context, actor models.Actor, sessionID string) error {
	if _, err := s.load(actor, sessionID); err != nil {
		return err
	}
	s.sessions.Delete(sessionID)
	return nil
}

// Purge drops expired sessions.
func (s *WizardService) Purge() int {
	return s.sessions.Purge()
}

func (s *WizardService) ready(actor models.Actor, sessionID string) (wizardSession, error) {
	session, err := s.load(actor, sessionID)
	if err != nil {
		return wizardSession{}, err
	}
	if session.step != models.WizardStepPreview {
		return wizardSession{}, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("wizard is on the %s step", session.step))
	}
	if session.adjustments.Len() == 0 {
		return wizardSession{}, appErrors.Clone(appErrors.ErrValidation, "adjust at least one content to continue")
	}
	return session, nil
}

func (s *WizardService) load(actor models.Actor, sessionID string) (wizardSession, error) {
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		return wizardSession{}, appErrors.Clone(appErrors.ErrNotFound, "wizard session not found or expired")
	}
	if !actor.CanAccess(session.studentID) {
		return wizardSession{}, appErrors.Clone(appErrors.ErrForbidden, "plan group belongs to another student")
	}
	return session, nil
}

// update applies mutate to a copy of the session and stores it in one step, so
// concurrent requests on a session never overwrite each other's edits.
func (s *WizardService) update(actor models.Actor, sessionID string, mutate func(*wizardSession) error) (*models.WizardSession, error) {
	next, expiresAt, err := s.sessions.Update(sessionID, func(session wizardSession) (wizardSession, error) {
		if !actor.CanAccess(session.studentID) {
			return wizardSession{}, appErrors.Clone(appErrors.ErrForbidden, "plan group belongs to another student")
		}
		next := session.clone()
		if err := mutate(&next); err != nil {
			return wizardSession{}, err
		}
		return next, nil
	})
	if errors.Is(err, errEntryMissing) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "wizard session not found or expired")
	}
	if err != nil {
		return nil, err
	}
	return next.view(expiresAt), nil
}

func (s *WizardService) save(session wizardSession) *models.WizardSession {
	return session.view(s.sessions.Put(session.id, session))
}

func (session wizardSession) view(expiresAt time.Time) *models.WizardSession {
	view := &models.WizardSession{
		ID:          session.id,
		PlanGroupID: session.groupID,
		StudentID:   session.studentID,
		Step:        session.step,
		StepName:    session.step.String(),
		Contents:    session.contents,
		SelectedIDs: append([]string{}, session.selected...),
		Adjustments: session.adjustments.List(),
		Placement:   session.placement,
		ExpiresAt:   expiresAt,
	}
	if len(session.replacements) > 0 {
		view.Replacements = session.replacements
	}
	return view
}

func adjustable(session *wizardSession, contentID string) (models.PlanContent, *models.AdjustmentInput, error) {
	content, ok := session.content(contentID)
	if !ok {
		return models.PlanContent{}, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("content %s does not belong to this plan group", contentID))
	}
	if !session.isSelected(contentID) {
		return models.PlanContent{}, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content %s is not selected", contentID))
	}
	if existing, ok := session.adjustments.Get(contentID); ok {
		return content, &existing, nil
	}
	return content, nil, nil
}
