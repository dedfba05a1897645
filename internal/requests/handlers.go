package requests

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aldoetobex/weka-backend/internal/auth"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/sanitize"
)

// ===== DTOs =====

type CreateResponse struct {
	Success          bool                  `json:"success"`
	Request          models.ServiceRequest `json:"request"`
	Message          string                `json:"message"`
	MatchedProviders int                   `json:"matchedProviders"`
}

type DeleteResponse struct {
	Message       string                `json:"message"`
	DeletedRecord models.ServiceRequest `json:"deletedRecord"`
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// publicView hides contact details from anyone who is not the matched provider.
func publicView(r models.ServiceRequest, caller *uuid.UUID) models.ServiceRequest {
	if caller != nil && sameID(r.MatchedProviderID, *caller) {
		return r
	}
	r.CustomerPhone = sanitize.MaskPhone(r.CustomerPhone)
	r.Description = sanitize.RedactPII(r.Description)
	return r
}

// listPreviewRunes bounds the description shown in public listings.
const listPreviewRunes = 280

// previewView is publicView with the description shortened for listings.
func previewView(r models.ServiceRequest, caller *uuid.UUID) models.ServiceRequest {
	if caller != nil && sameID(r.MatchedProviderID, *caller) {
		return r
	}
	r = publicView(r, caller)
	r.Description = sanitize.Summary(r.Description, listPreviewRunes)
	return r
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("INVALID_ID", "Valid ID is required")
	}
	return id, nil
}

// List or Get godoc
// @Summary      List service requests, or get one by id
// @Description  Anonymous callers see open requests. Authenticated callers also see requests matched to them.
// @Tags         service-requests
// @Produce      json
// @Param        id        query  string  false  "Request ID"
// @Param        status    query  string  false  "open|matched|completed|cancelled"
// @Param        category  query  string  false  "Exact category"
// @Param        location  query  string  false  "Location substring"
// @Param        limit     query  int     false  "Max 100, default 10"
// @Param        offset    query  int     false  "Offset"
// @Success      200  {array}   models.ServiceRequest
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /service-requests [get]
func (h *Handler) List(c *fiber.Ctx) error {
	caller := auth.CallerPtr(c)

	if raw := c.Query("id"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return err
		}
		r, err := h.svc.Get(c.UserContext(), id, caller)
		if err != nil {
			return err
		}
		return c.JSON(publicView(r, caller))
	}

	f := Filter{
		Category: c.Query("category"),
		Location: c.Query("location"),
		Caller:   caller,
	}
	if raw := c.Query("status"); raw != "" {
		st := models.RequestStatus(raw)
		if !st.Valid() {
			return apperr.Validation("INVALID_STATUS", "Invalid status. Must be one of: open, matched, completed, cancelled")
		}
		f.Status = &st
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit", "10"))
	f.Offset, _ = strconv.Atoi(c.Query("offset", "0"))

	rows, err := h.svc.List(c.UserContext(), f)
	if err != nil {
		return err
	}
	out := make([]models.ServiceRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, previewView(r, caller))
	}
	return c.JSON(out)
}

// Create godoc
// @Summary      Post a service request
// @Description  Customers (no account needed) describe a job; matching providers are alerted in the background.
// @Tags         service-requests
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateInput  true  "Request form"
// @Success      200  {object}  CreateResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      429  {object}  models.ErrorResponse
// @Router       /service-requests [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	r, matched, err := h.svc.Create(c.UserContext(), in, auth.CallerPtr(c))
	if err != nil {
		return err
	}
	return c.JSON(CreateResponse{
		Success:          true,
		Request:          r,
		Message:          "Request submitted successfully! Providers will contact you soon.",
		MatchedProviders: matched,
	})
}

// Update godoc
// @Summary      Change request status or assign a provider
// @Description  Authentication is required for any status other than open or when a provider is supplied.
// @Tags         service-requests
// @Accept       json
// @Produce      json
// @Param        id       query  string        true  "Request ID"
// @Param        payload  body   StatusChange  true  "status?, matchedProviderId?, matchedAt?"
// @Success      200  {object}  models.ServiceRequest
// @Failure      400  {object}  models.ErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /service-requests [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	id, err := parseID(c.Query("id"))
	if err != nil {
		return err
	}
	var ch StatusChange
	if err := c.BodyParser(&ch); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	caller := auth.CallerPtr(c)
	r, err := h.svc.SetStatus(c.UserContext(), id, caller, ch)
	if err != nil {
		return err
	}
	return c.JSON(publicView(r, caller))
}

// Delete godoc
// @Summary      Delete a service request
// @Description  Allowed while the request is open, or for its matched provider.
// @Tags         service-requests
// @Security     BearerAuth
// @Produce      json
// @Param        id  query  string  true  "Request ID"
// @Success      200  {object}  DeleteResponse
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /service-requests [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	id, err := parseID(c.Query("id"))
	if err != nil {
		return err
	}
	caller, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	r, err := h.svc.Delete(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return c.JSON(DeleteResponse{
		Message:       "Service request deleted successfully",
		DeletedRecord: publicView(r, &caller),
	})
}

// Claim godoc
// @Summary      Claim an open request
// @Tags         service-requests
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Request ID"
// @Success      200  {object}  models.ServiceRequest
// @Failure      400  {object}  models.ErrorResponse  "closed or claimed by someone else"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /service-requests/{id}/claim [post]
func (h *Handler) Claim(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return err
	}
	caller, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	r, err := h.svc.Claim(c.UserContext(), id, caller)
	if err != nil {
		return err
	}
	return c.JSON(r)
}

// History godoc
// @Summary      Audit trail of a request
// @Tags         service-requests
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Request ID"
// @Success      200  {array}   models.RequestHistory
// @Failure      404  {object}  models.ErrorResponse
// @Router       /service-requests/{id}/history [get]
func (h *Handler) History(c *fiber.Ctx) error {
	id, err := parseID(c.Params("id"))
	if err != nil {
		return err
	}
	// same visibility as the request itself
	if _, err := h.svc.Get(c.UserContext(), id, auth.CallerPtr(c)); err != nil {
		return err
	}
	items, err := h.svc.History(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(items)
}

// Live godoc
// @Summary      Live marketplace counters
// @Tags         stats
// @Produce      json
// @Success      200  {object}  LiveStats
// @Router       /stats/live [get]
func (h *Handler) Live(c *fiber.Ctx) error {
	st, err := h.svc.Live(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(st)
}
