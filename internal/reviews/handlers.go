package reviews

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aldoetobex/weka-backend/internal/auth"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/patch"
)

// ===== DTOs =====

// SubmitRequest is the POST body. Rating is decoded as a number so that
// 4.5 is reported as INVALID_RATING rather than a parse error.
type SubmitRequest struct {
	ServiceID        string   `json:"service_id" example:"5f7c..."`
	Rating           *float64 `json:"rating" example:"5"`
	Title            string   `json:"title" example:"Fixed it in an hour"`
	Comment          string   `json:"comment" example:"Arrived on time and cleaned up after."`
	VerifiedPurchase bool     `json:"verified_purchase"`
}

type UpdateRequest struct {
	Rating  patch.Field[float64] `json:"rating" swaggertype:"number"`
	Title   patch.Field[string]  `json:"title" swaggertype:"string"`
	Comment patch.Field[string]  `json:"comment" swaggertype:"string"`
}

type RespondRequest struct {
	Response string `json:"response" example:"Thank you for the kind words!"`
}

type DeleteResponse struct {
	Message       string        `json:"message"`
	DeletedRecord models.Review `json:"deletedRecord"`
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// identity fields are taken from the token, never the body
var identityKeys = []string{"userId", "user_id", "reviewerId", "reviewer_id"}

func bodyNames(c *fiber.Ctx, keys ...string) (string, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return "", false
	}
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			return k, true
		}
	}
	return "", false
}

// ratingValue maps a missing, fractional or out-of-range rating to 0, which
// the field check reports as INVALID_RATING along with any other field errors.
func ratingValue(v *float64) int {
	if v == nil || *v != math.Trunc(*v) || *v < 1 || *v > 5 {
		return 0
	}
	return int(*v)
}

func parsePathID(c *fiber.Ctx, code string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation(code, "Valid review ID is required")
	}
	return id, nil
}

// List godoc
// @Summary      List reviews of a service
// @Description  Stats cover every review of the service; verified_only narrows the page only.
// @Tags         reviews
// @Produce      json
// @Param        service_id     query  string  true   "Service ID"
// @Param        sort           query  string  false  "newest|highest_rated|lowest_rated|most_helpful"
// @Param        verified_only  query  bool    false  "Only verified purchases"
// @Param        limit          query  int     false  "Max 50, default 10"
// @Param        offset         query  int     false  "Offset"
// @Success      200  {object}  Page
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system [get]
func (h *Handler) List(c *fiber.Ctx) error {
	serviceID, err := uuid.Parse(c.Query("service_id"))
	if err != nil {
		return apperr.Validation("INVALID_SERVICE_ID", "Valid service_id is required")
	}
	opts := ListOptions{
		Sort:         c.Query("sort", SortNewest),
		VerifiedOnly: c.QueryBool("verified_only", false),
	}
	opts.Limit, _ = strconv.Atoi(c.Query("limit", "10"))
	opts.Offset, _ = strconv.Atoi(c.Query("offset", "0"))

	page, err := h.svc.List(c.UserContext(), serviceID, opts)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// Get godoc
// @Summary      Get one review
// @Tags         reviews
// @Produce      json
// @Param        id  path  string  true  "Review ID"
// @Success      200  {object}  models.Review
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system/{id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := parsePathID(c, "INVALID_ID")
	if err != nil {
		return err
	}
	rv, err := h.svc.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(rv)
}

// Submit godoc
// @Summary      Review a service
// @Tags         reviews
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  SubmitRequest  true  "Review"
// @Success      201  {object}  models.Review
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system [post]
func (h *Handler) Submit(c *fiber.Ctx) error {
	reviewer, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	if k, found := bodyNames(c, identityKeys...); found {
		return apperr.Validation("USER_ID_NOT_ALLOWED", k+" cannot be set in the request body")
	}

	var body SubmitRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	serviceID, err := uuid.Parse(body.ServiceID)
	if err != nil {
		return apperr.Validation("INVALID_SERVICE_ID", "Valid service_id is required")
	}

	rv, err := h.svc.Submit(c.UserContext(), reviewer, SubmitInput{
		ServiceID:        serviceID,
		Rating:           ratingValue(body.Rating),
		Title:            body.Title,
		Comment:          body.Comment,
		VerifiedPurchase: body.VerifiedPurchase,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rv)
}

// Update godoc
// @Summary      Edit your review
// @Tags         reviews
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "Review ID"
// @Param        payload  body  UpdateRequest  true  "rating?, title?, comment?"
// @Success      200  {object}  models.Review
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system/{id} [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parsePathID(c, "INVALID_ID")
	if err != nil {
		return err
	}
	if k, found := bodyNames(c, identityKeys...); found {
		return apperr.Validation("REVIEWER_ID_NOT_ALLOWED", k+" cannot be changed")
	}

	var body UpdateRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	in := UpdateInput{Title: body.Title, Comment: body.Comment}
	switch {
	case body.Rating.Null:
		in.Rating = patch.Field[int]{Set: true, Null: true}
	case body.Rating.Present():
		in.Rating = patch.Some(ratingValue(&body.Rating.Value))
	}

	rv, err := h.svc.Update(c.UserContext(), id, owner, in)
	if err != nil {
		return err
	}
	return c.JSON(rv)
}

// Delete godoc
// @Summary      Delete your review
// @Tags         reviews
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Review ID"
// @Success      200  {object}  DeleteResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parsePathID(c, "INVALID_ID")
	if err != nil {
		return err
	}
	rv, err := h.svc.Delete(c.UserContext(), id, owner)
	if err != nil {
		return err
	}
	return c.JSON(DeleteResponse{Message: "Review deleted successfully", DeletedRecord: rv})
}

// Helpful godoc
// @Summary      Mark a review helpful
// @Tags         reviews
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "Review ID"
// @Success      200  {object}  models.Review
// @Failure      400  {object}  models.ErrorResponse  "already voted"
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system/{id}/helpful [post]
func (h *Handler) Helpful(c *fiber.Ctx) error {
	user, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parsePathID(c, "INVALID_REVIEW_ID")
	if err != nil {
		return err
	}
	rv, err := h.svc.MarkHelpful(c.UserContext(), id, user)
	if err != nil {
		return err
	}
	return c.JSON(rv)
}

// Respond godoc
// @Summary      Respond to a review of your service
// @Description  One response per review, by the service owner.
// @Tags         reviews
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string          true  "Review ID"
// @Param        payload  body  RespondRequest  true  "10 to 500 characters"
// @Success      200  {object}  models.Review
// @Failure      400  {object}  models.ErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /reviews-system/{id}/response [post]
func (h *Handler) Respond(c *fiber.Ctx) error {
	responder, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parsePathID(c, "INVALID_REVIEW_ID")
	if err != nil {
		return err
	}
	var body RespondRequest
	if err := c.BodyParser(&body); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	rv, err := h.svc.Respond(c.UserContext(), id, responder, body.Response)
	if err != nil {
		return err
	}
	return c.JSON(rv)
}
