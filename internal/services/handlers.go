package services

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aldoetobex/weka-backend/internal/auth"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/patch"
	"github.com/aldoetobex/weka-backend/pkg/utils"
	"github.com/aldoetobex/weka-backend/pkg/validation"
)

// ===== DTOs =====

type CreateServiceRequest struct {
	Name        string   `json:"name" example:"Emergency plumbing"`
	Description string   `json:"description" validate:"max=2000"`
	Category    string   `json:"category" example:"Plumbing"`
	Price       *float64 `json:"price" example:"1500"`
	Duration    string   `json:"duration" validate:"max=60" example:"2 hours"`
	Status      string   `json:"status" example:"active"`
}

type UpdateServiceRequest struct {
	Name        patch.Field[string]  `json:"name" swaggertype:"string"`
	Description patch.Field[string]  `json:"description" swaggertype:"string"`
	Category    patch.Field[string]  `json:"category" swaggertype:"string"`
	Price       patch.Field[float64] `json:"price" swaggertype:"number"`
	Duration    patch.Field[string]  `json:"duration" swaggertype:"string"`
	Status      patch.Field[string]  `json:"status" swaggertype:"string"`
}

type DeleteServiceResponse struct {
	Message string         `json:"message"`
	Service models.Service `json:"service"`
}

type Handler struct {
	db  *gorm.DB
	now func() time.Time
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func errNotFound() error {
	return apperr.NotFound("SERVICE_NOT_FOUND", "Service not found")
}

func rejectOwnerInBody(c *fiber.Ctx) error {
	var raw map[string]json.RawMessage
	if json.Unmarshal(c.Body(), &raw) != nil {
		return nil
	}
	for _, k := range []string{"userId", "user_id", "ownerId", "owner_id"} {
		if _, ok := raw[k]; ok {
			return apperr.Validation("USER_ID_NOT_ALLOWED", "User ID cannot be provided in request body")
		}
	}
	return nil
}

// price must be a positive whole amount of shillings
func parsePrice(v float64) (int, error) {
	if v <= 0 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, apperr.Validation("INVALID_PRICE", "Price must be a positive number")
	}
	return int(v), nil
}

func parseStatus(s string) (models.ServiceStatus, error) {
	st := models.ServiceStatus(strings.TrimSpace(s))
	if st != models.ServiceActive && st != models.ServiceInactive {
		return "", apperr.Validation("INVALID_STATUS", `Status must be either "active" or "inactive"`)
	}
	return st, nil
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Query("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("INVALID_ID", "Valid ID is required")
	}
	return id, nil
}

func (h *Handler) mine(c *fiber.Ctx, id, owner uuid.UUID) (models.Service, error) {
	var s models.Service
	err := h.db.WithContext(c.UserContext()).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s, errNotFound()
	}
	return s, err
}

// Create Service godoc
// @Summary      Create service
// @Description  Provider lists a new offering. Active services are matched to incoming requests by category.
// @Tags         services
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateServiceRequest  true  "Service payload"
// @Success      201  {object}  models.Service
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Router       /services [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	if err := rejectOwnerInBody(c); err != nil {
		return err
	}
	var in CreateServiceRequest
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Validation("MISSING_SERVICE_NAME", "Service name is required")
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return apperr.Validation("MISSING_CATEGORY", "Category is required")
	}
	if in.Price == nil {
		return apperr.Validation("MISSING_PRICE", "Price is required")
	}
	price, err := parsePrice(*in.Price)
	if err != nil {
		return err
	}
	status := models.ServiceActive
	if strings.TrimSpace(in.Status) != "" {
		if status, err = parseStatus(in.Status); err != nil {
			return err
		}
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, "", errs)
	}

	now := h.now()
	s := models.Service{
		OwnerID:     owner,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Category:    category,
		Price:       price,
		Duration:    strings.TrimSpace(in.Duration),
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.db.WithContext(c.UserContext()).Create(&s).Error; err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(s)
}

// List My Services godoc
// @Summary      List my services, or get one by id
// @Tags         services
// @Security     BearerAuth
// @Produce      json
// @Param        id      query  string  false  "Service ID"
// @Param        search  query  string  false  "Name or description substring"
// @Param        status  query  string  false  "active|inactive"
// @Param        limit   query  int     false  "Max 100, default 10"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {array}   models.Service
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /services [get]
func (h *Handler) List(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}

	if c.Query("id") != "" {
		id, err := parseID(c)
		if err != nil {
			return err
		}
		s, err := h.mine(c, id, owner)
		if err != nil {
			return err
		}
		return c.JSON(s)
	}

	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	q := h.db.WithContext(c.UserContext()).Model(&models.Service{}).Where("owner_id = ?", owner)
	if s := strings.TrimSpace(c.Query("search")); s != "" {
		like := utils.ContainsPattern(s)
		q = q.Where("(LOWER(name) LIKE ?"+utils.LikeEscape+" OR LOWER(description) LIKE ?"+utils.LikeEscape+")", like, like)
	}
	if raw := c.Query("status"); raw != "" {
		st, err := parseStatus(raw)
		if err != nil {
			return err
		}
		q = q.Where("status = ?", st)
	}

	rows := make([]models.Service, 0, limit)
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Limit(limit).Offset(offset).
		Find(&rows).Error; err != nil {
		return err
	}
	return c.JSON(rows)
}

// Update Service godoc
// @Summary      Update service
// @Description  Partial update: absent fields are kept.
// @Tags         services
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       query  string                true  "Service ID"
// @Param        payload  body   UpdateServiceRequest  true  "Fields to change"
// @Success      200  {object}  models.Service
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /services [put]
func (h *Handler) Update(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := rejectOwnerInBody(c); err != nil {
		return err
	}
	var in UpdateServiceRequest
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	if _, err := h.mine(c, id, owner); err != nil {
		return err
	}

	updates, err := in.changes()
	if err != nil {
		return err
	}
	updates["updated_at"] = h.now()

	db := h.db.WithContext(c.UserContext())
	res := db.Model(&models.Service{}).Where("id = ? AND owner_id = ?", id, owner).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFound()
	}
	s, err := h.mine(c, id, owner)
	if err != nil {
		return err
	}
	return c.JSON(s)
}

// changes validates each present field on its own and returns the column map.
func (in UpdateServiceRequest) changes() (map[string]any, error) {
	out := map[string]any{}

	if in.Name.Set {
		name := strings.TrimSpace(in.Name.Value)
		if name == "" {
			return nil, apperr.Validation("INVALID_SERVICE_NAME", "Service name cannot be empty")
		}
		out["name"] = name
	}
	if in.Category.Set {
		cat := strings.TrimSpace(in.Category.Value)
		if cat == "" {
			return nil, apperr.Validation("INVALID_CATEGORY", "Category cannot be empty")
		}
		out["category"] = cat
	}
	if in.Price.Set {
		if in.Price.Null {
			return nil, apperr.Validation("INVALID_PRICE", "Price must be a positive number")
		}
		p, err := parsePrice(in.Price.Value)
		if err != nil {
			return nil, err
		}
		out["price"] = p
	}
	if in.Status.Set {
		st, err := parseStatus(in.Status.Value)
		if err != nil {
			return nil, err
		}
		out["status"] = st
	}
	// description and duration may be cleared with null
	if in.Description.Set {
		out["description"] = strings.TrimSpace(in.Description.Value)
	}
	if in.Duration.Set {
		out["duration"] = strings.TrimSpace(in.Duration.Value)
	}
	return out, nil
}

// Delete Service godoc
// @Summary      Delete service
// @Tags         services
// @Security     BearerAuth
// @Produce      json
// @Param        id  query  string  true  "Service ID"
// @Success      200  {object}  DeleteServiceResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /services [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	s, err := h.mine(c, id, owner)
	if err != nil {
		return err
	}
	res := h.db.WithContext(c.UserContext()).
		Where("id = ? AND owner_id = ?", id, owner).
		Delete(&models.Service{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFound()
	}
	return c.JSON(DeleteServiceResponse{Message: "Service deleted successfully", Service: s})
}
