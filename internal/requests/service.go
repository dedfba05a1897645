// Package requests holds the service request store and its status machine:
// open -> matched -> completed, open -> cancelled, matched -> cancelled.
// Completed and cancelled are terminal.
package requests

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/internal/matching"
	"github.com/aldoetobex/weka-backend/internal/monitoring"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/patch"
	"github.com/aldoetobex/weka-backend/pkg/utils"
	"github.com/aldoetobex/weka-backend/pkg/validation"
)

// writeAttempts bounds the read/conditional-write loop when another writer
// changes the row between our read and our update.
const writeAttempts = 3

// Notifier is the matching side effect of Create.
type Notifier interface {
	Candidates(ctx context.Context, category string) ([]matching.Candidate, error)
	Dispatch(req models.ServiceRequest, candidates []matching.Candidate)
}

type Service struct {
	db       *gorm.DB
	notifier Notifier
	log      *logrus.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, notifier Notifier, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, notifier: notifier, log: log, now: func() time.Time { return time.Now().UTC() }}
}

/* ================================ Errors ================================ */

func errNotFound() error {
	return apperr.NotFound("REQUEST_NOT_FOUND", "Service request not found")
}

func errClosed(s models.RequestStatus) error {
	return apperr.InvalidTransition("REQUEST_CLOSED", fmt.Sprintf("Service request is already %s", s))
}

func errAlreadyClaimed() error {
	return apperr.InvalidTransition("ALREADY_CLAIMED", "Service request is already matched to another provider")
}

func errTransition(msg string) error {
	return apperr.InvalidTransition("INVALID_STATUS_TRANSITION", msg)
}

/* ================================ Create ================================ */

// CreateInput is the customer's request form.
type CreateInput struct {
	CustomerName     string `json:"customerName" validate:"notblank,max=120"`
	CustomerPhone    string `json:"customerPhone" validate:"notblank,phone"`
	CustomerLocation string `json:"customerLocation" validate:"notblank,max=200"`
	ServiceCategory  string `json:"serviceCategory" validate:"notblank,max=80"`
	Description      string `json:"description" validate:"notblank,max=2000"`
	Budget           *int   `json:"budget" validate:"omitempty,gte=0"`
}

func (in *CreateInput) trim() {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerPhone = strings.TrimSpace(in.CustomerPhone)
	in.CustomerLocation = strings.TrimSpace(in.CustomerLocation)
	in.ServiceCategory = strings.TrimSpace(in.ServiceCategory)
	in.Description = strings.TrimSpace(in.Description)
}

func (in CreateInput) errorCode(errs map[string][]string) string {
	for _, v := range []string{in.CustomerName, in.CustomerPhone, in.CustomerLocation, in.ServiceCategory, in.Description} {
		if v == "" {
			return "MISSING_REQUIRED_FIELDS"
		}
	}
	if _, ok := errs["customerPhone"]; ok {
		return "INVALID_PHONE"
	}
	if _, ok := errs["budget"]; ok {
		return "INVALID_BUDGET"
	}
	return "VALIDATION_FAILED"
}

// Create stores a new open request and hands it to the matching notifier.
// It returns the number of providers selected for alerts. Notification
// problems never fail the call.
func (s *Service) Create(ctx context.Context, in CreateInput, actor *uuid.UUID) (models.ServiceRequest, int, error) {
	in.trim()
	if errs, err := validation.Validate(in); err != nil {
		return models.ServiceRequest{}, 0, err
	} else if errs != nil {
		code := in.errorCode(errs)
		msg := "All fields are required"
		if code != "MISSING_REQUIRED_FIELDS" {
			msg = "Validation failed"
		}
		return models.ServiceRequest{}, 0, &apperr.Error{Kind: apperr.KindValidation, Code: code, Message: msg, Fields: errs}
	}

	req := models.ServiceRequest{
		CustomerName:     in.CustomerName,
		CustomerPhone:    in.CustomerPhone,
		CustomerLocation: in.CustomerLocation,
		ServiceCategory:  in.ServiceCategory,
		Description:      in.Description,
		Budget:           in.Budget,
		Status:           models.RequestOpen,
		CreatedAt:        s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return models.ServiceRequest{}, 0, fmt.Errorf("create service request: %w", err)
	}
	monitoring.RequestsCreated.Inc()
	utils.LogRequestHistory(ctx, s.db, s.log, req.ID, actorString(actor), "created", "", models.RequestOpen, "")

	if s.notifier == nil {
		return req, 0, nil
	}
	candidates, err := s.notifier.Candidates(ctx, req.ServiceCategory)
	if err != nil {
		s.log.WithField("request_id", req.ID).WithError(err).Warn("matching lookup failed")
		return req, 0, nil
	}
	s.notifier.Dispatch(req, candidates)
	return req, len(candidates), nil
}

/* ================================ Claim ================================= */

// Claim matches an open request to providerID. Claiming a request already
// matched to the same provider returns it unchanged.
func (s *Service) Claim(ctx context.Context, id, providerID uuid.UUID) (models.ServiceRequest, error) {
	for attempt := 0; attempt < writeAttempts; attempt++ {
		cur, err := s.load(ctx, id)
		if err != nil {
			return models.ServiceRequest{}, err
		}

		switch {
		case cur.Status == models.RequestMatched && sameID(cur.MatchedProviderID, providerID):
			return cur, nil
		case cur.Status.Terminal():
			monitoring.Transitions.WithLabelValues(string(models.RequestMatched), "rejected").Inc()
			return models.ServiceRequest{}, errClosed(cur.Status)
		case cur.Status == models.RequestMatched:
			monitoring.Transitions.WithLabelValues(string(models.RequestMatched), "rejected").Inc()
			return models.ServiceRequest{}, errAlreadyClaimed()
		}

		now := s.now()
		ok, err := s.conditionalUpdate(ctx, cur, map[string]any{
			"status":              models.RequestMatched,
			"matched_provider_id": providerID,
			"matched_at":          now,
			"response_time":       responseMinutes(cur.CreatedAt, now),
		})
		if err != nil {
			return models.ServiceRequest{}, err
		}
		if ok {
			monitoring.Transitions.WithLabelValues(string(models.RequestMatched), "ok").Inc()
			utils.LogRequestHistory(ctx, s.db, s.log, id, providerID.String(), "claimed", cur.Status, models.RequestMatched, "")
			return s.load(ctx, id)
		}
		// Lost the race: re-read and decide again.
	}
	return models.ServiceRequest{}, apperr.Conflict("CONCURRENT_UPDATE", "Service request changed concurrently, retry")
}

/* ============================== Set status ============================== */

// StatusChange is the partial update accepted by SetStatus.
type StatusChange struct {
	Status            patch.Field[models.RequestStatus] `json:"status"`
	MatchedProviderID patch.Field[uuid.UUID]            `json:"matchedProviderId"`
	MatchedAt         patch.Field[time.Time]            `json:"matchedAt"`
}

// target resolves the requested status: supplying a provider without a
// status means "matched".
func (ch StatusChange) target() (models.RequestStatus, bool) {
	if ch.Status.Present() {
		return ch.Status.Value, true
	}
	if ch.MatchedProviderID.Present() {
		return models.RequestMatched, true
	}
	return "", false
}

// requiresAuth mirrors the public form: anyone may touch an open request
// without changing its state, everything else needs a caller.
func (ch StatusChange) requiresAuth() bool {
	if ch.MatchedProviderID.Set {
		return true
	}
	return ch.Status.Set && ch.Status.Value != models.RequestOpen
}

// SetStatus applies a generalized transition. Writes are conditional on the
// status (and provider) that the decision was made against. Requests the
// caller may not see are reported as not found.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, caller *uuid.UUID, ch StatusChange) (models.ServiceRequest, error) {
	if ch.requiresAuth() && caller == nil {
		return models.ServiceRequest{}, apperr.Unauthenticated("AUTHENTICATION_REQUIRED", "Authentication required")
	}
	if ch.Status.Null {
		return models.ServiceRequest{}, apperr.Validation("INVALID_STATUS", "Invalid status. Must be one of: open, matched, completed, cancelled")
	}
	if ch.MatchedProviderID.Null {
		return models.ServiceRequest{}, errTransition("matchedProviderId cannot be cleared")
	}
	if !ch.Status.Set && !ch.MatchedProviderID.Set && !ch.MatchedAt.Set {
		return models.ServiceRequest{}, apperr.Validation("NO_UPDATES", "Nothing to update")
	}

	for attempt := 0; attempt < writeAttempts; attempt++ {
		cur, err := s.load(ctx, id)
		if err != nil {
			return models.ServiceRequest{}, err
		}
		// hidden requests answer exactly like missing ones
		if !Visible(cur, caller) {
			return models.ServiceRequest{}, errNotFound()
		}
		if ch.Status.Set && !ch.Status.Value.Valid() {
			return models.ServiceRequest{}, apperr.Validation("INVALID_STATUS", "Invalid status. Must be one of: open, matched, completed, cancelled")
		}

		updates, action, err := s.plan(cur, caller, ch)
		if err != nil {
			if t, ok := ch.target(); ok {
				monitoring.Transitions.WithLabelValues(string(t), "rejected").Inc()
			}
			return models.ServiceRequest{}, err
		}
		if len(updates) == 0 {
			return cur, nil
		}

		ok, err := s.conditionalUpdate(ctx, cur, updates)
		if err != nil {
			return models.ServiceRequest{}, err
		}
		if ok {
			next, _ := updates["status"].(models.RequestStatus)
			if next == "" {
				next = cur.Status
			}
			monitoring.Transitions.WithLabelValues(string(next), "ok").Inc()
			utils.LogRequestHistory(ctx, s.db, s.log, id, actorString(caller), action, cur.Status, next, "")
			return s.load(ctx, id)
		}
	}
	return models.ServiceRequest{}, apperr.Conflict("CONCURRENT_UPDATE", "Service request changed concurrently, retry")
}

// plan decides the column updates for ch against cur. An empty map means
// nothing changes.
func (s *Service) plan(cur models.ServiceRequest, caller *uuid.UUID, ch StatusChange) (map[string]any, string, error) {
	target, ok := ch.target()
	if !ok {
		target = cur.Status
	}

	if cur.Status.Terminal() {
		return nil, "", errClosed(cur.Status)
	}

	isMatchedProvider := caller != nil && sameID(cur.MatchedProviderID, *caller)
	provider := cur.MatchedProviderID
	if ch.MatchedProviderID.Present() {
		p := ch.MatchedProviderID.Value
		provider = &p
	}

	updates := map[string]any{}
	switch target {
	case models.RequestOpen:
		if cur.Status != models.RequestOpen {
			return nil, "", errTransition("A matched request cannot be reopened")
		}
		if ch.MatchedProviderID.Present() || ch.MatchedAt.Set {
			return nil, "", errTransition("An open request cannot carry a matched provider")
		}
		return nil, "", nil

	case models.RequestMatched:
		if provider == nil {
			return nil, "", errTransition("Cannot set status to 'matched' without a matched provider")
		}
		matchedAt := s.now()
		if ch.MatchedAt.Present() {
			matchedAt = ch.MatchedAt.Value.UTC()
		}
		if cur.Status == models.RequestMatched {
			if !sameID(cur.MatchedProviderID, *provider) {
				return nil, "", errAlreadyClaimed()
			}
			if !isMatchedProvider {
				return nil, "", apperr.Permission("NOT_MATCHED_PROVIDER", "Only the matched provider can update this request")
			}
			if !ch.MatchedAt.Present() {
				return nil, "", nil
			}
			updates["matched_at"] = matchedAt
			updates["response_time"] = responseMinutes(cur.CreatedAt, matchedAt)
			return updates, "matched_at_changed", nil
		}
		updates["status"] = models.RequestMatched
		updates["matched_provider_id"] = *provider
		updates["matched_at"] = matchedAt
		updates["response_time"] = responseMinutes(cur.CreatedAt, matchedAt)
		return updates, "claimed", nil

	case models.RequestCompleted:
		if cur.Status != models.RequestMatched {
			return nil, "", errTransition("Only a matched request can be completed")
		}
		if !isMatchedProvider {
			return nil, "", apperr.Permission("NOT_MATCHED_PROVIDER", "Only the matched provider can complete this request")
		}
		if ch.MatchedProviderID.Present() && !sameID(cur.MatchedProviderID, *provider) {
			return nil, "", errAlreadyClaimed()
		}
		updates["status"] = models.RequestCompleted
		return updates, "completed", nil

	case models.RequestCancelled:
		if cur.Status == models.RequestMatched && !isMatchedProvider {
			return nil, "", apperr.Permission("NOT_MATCHED_PROVIDER", "Only the matched provider can cancel this request")
		}
		if ch.MatchedProviderID.Present() && !sameID(cur.MatchedProviderID, *provider) {
			return nil, "", errTransition("A provider cannot be assigned while cancelling")
		}
		updates["status"] = models.RequestCancelled
		return updates, "cancelled", nil
	}
	return nil, "", apperr.Validation("INVALID_STATUS", "Invalid status. Must be one of: open, matched, completed, cancelled")
}

// conditionalUpdate writes updates only if the row still has the status and
// provider it had in cur. It reports whether the row was changed.
func (s *Service) conditionalUpdate(ctx context.Context, cur models.ServiceRequest, updates map[string]any) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.ServiceRequest{}).
		Where("id = ? AND status = ?", cur.ID, cur.Status)
	if cur.MatchedProviderID != nil {
		q = q.Where("matched_provider_id = ?", *cur.MatchedProviderID)
	} else {
		q = q.Where("matched_provider_id IS NULL")
	}
	var res *gorm.DB
	err := monitoring.RecordDBTime("request_transition", func() error {
		res = q.Updates(updates)
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("update service request: %w", err)
	}
	return res.RowsAffected == 1, nil
}

/* ================================ Delete ================================ */

// Delete removes a request that is still open, or one matched to caller.
func (s *Service) Delete(ctx context.Context, id, caller uuid.UUID) (models.ServiceRequest, error) {
	for attempt := 0; attempt < writeAttempts; attempt++ {
		cur, err := s.load(ctx, id)
		if err != nil {
			return models.ServiceRequest{}, err
		}
		if cur.Status != models.RequestOpen && !sameID(cur.MatchedProviderID, caller) {
			return models.ServiceRequest{}, apperr.Permission("UNAUTHORIZED_DELETE",
				"You do not have permission to delete this service request").WithStatus(401)
		}

		res := s.db.WithContext(ctx).
			Where("id = ? AND (status = ? OR matched_provider_id = ?)", id, models.RequestOpen, caller).
			Delete(&models.ServiceRequest{})
		if res.Error != nil {
			return models.ServiceRequest{}, fmt.Errorf("delete service request: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			utils.LogRequestHistory(ctx, s.db, s.log, id, caller.String(), "deleted", cur.Status, "", "")
			return cur, nil
		}
	}
	return models.ServiceRequest{}, apperr.Conflict("CONCURRENT_UPDATE", "Service request changed concurrently, retry")
}

/* ================================= Read ================================= */

// Get returns a request, hiding matched/completed requests from everyone but
// the matched provider.
func (s *Service) Get(ctx context.Context, id uuid.UUID, caller *uuid.UUID) (models.ServiceRequest, error) {
	cur, err := s.load(ctx, id)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if !Visible(cur, caller) {
		return models.ServiceRequest{}, errNotFound()
	}
	return cur, nil
}

// Visible reports whether caller may see r at all.
func Visible(r models.ServiceRequest, caller *uuid.UUID) bool {
	if (r.Status == models.RequestMatched || r.Status == models.RequestCompleted) && r.MatchedProviderID != nil {
		return caller != nil && *caller == *r.MatchedProviderID
	}
	return true
}

// List returns requests matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]models.ServiceRequest, error) {
	f = f.Normalize()
	var out []models.ServiceRequest
	err := monitoring.RecordDBTime("request_list", func() error {
		return f.Apply(s.db.WithContext(ctx).Model(&models.ServiceRequest{})).Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list service requests: %w", err)
	}
	return out, nil
}

// History returns the audit trail of a request, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]models.RequestHistory, error) {
	var out []models.RequestHistory
	if err := s.db.WithContext(ctx).Where("request_id = ?", id).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("request history: %w", err)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (models.ServiceRequest, error) {
	var r models.ServiceRequest
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ServiceRequest{}, errNotFound()
		}
		return models.ServiceRequest{}, fmt.Errorf("load service request: %w", err)
	}
	return r, nil
}

/* =============================== Helpers ================================ */

func sameID(p *uuid.UUID, id uuid.UUID) bool { return p != nil && *p == id }

func actorString(id *uuid.UUID) string {
	if id == nil {
		return utils.AnonymousActor
	}
	return id.String()
}

// responseMinutes is the whole minutes from creation to match, never negative.
func responseMinutes(created, matched time.Time) int {
	m := int(math.Floor(matched.Sub(created).Minutes()))
	if m < 0 {
		return 0
	}
	return m
}
