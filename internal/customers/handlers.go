// Package customers is the provider's private customer book.
package customers

import (
	"encoding/json"
	"errors"
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

type CreateCustomerRequest struct {
	Name     string `json:"name" validate:"max=120" example:"Achieng Otieno"`
	Phone    string `json:"phone" validate:"omitempty,phone" example:"+254722000333"`
	Email    string `json:"email" validate:"omitempty,email,max=254" example:"achieng@example.com"`
	Location string `json:"location" validate:"max=200" example:"South B, Nairobi"`
	Notes    string `json:"notes" validate:"max=2000"`
	Status   string `json:"status" example:"active"`
}

// UpdateCustomerRequest changes only the fields present. Phone, email,
// location and notes may be cleared with null.
type UpdateCustomerRequest struct {
	Name     patch.Field[string] `json:"name" swaggertype:"string"`
	Phone    patch.Field[string] `json:"phone" swaggertype:"string"`
	Email    patch.Field[string] `json:"email" swaggertype:"string"`
	Location patch.Field[string] `json:"location" swaggertype:"string"`
	Notes    patch.Field[string] `json:"notes" swaggertype:"string"`
	Status   patch.Field[string] `json:"status" swaggertype:"string"`
}

type DeleteCustomerResponse struct {
	Message  string          `json:"message"`
	Customer models.Customer `json:"customer"`
}

type Handler struct {
	db  *gorm.DB
	now func() time.Time
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func errNotFound() error {
	return apperr.NotFound("CUSTOMER_NOT_FOUND", "Customer not found")
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

func parseStatus(s string) (models.CustomerStatus, error) {
	st := models.CustomerStatus(strings.TrimSpace(s))
	if st != models.CustomerActive && st != models.CustomerInactive {
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

func (h *Handler) mine(c *fiber.Ctx, id, owner uuid.UUID) (models.Customer, error) {
	var cu models.Customer
	err := h.db.WithContext(c.UserContext()).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&cu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cu, errNotFound()
	}
	return cu, err
}

// Create Customer godoc
// @Summary      Add a customer
// @Tags         customers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCustomerRequest  true  "Customer"
// @Success      201  {object}  models.Customer
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /customers [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	if err := rejectOwnerInBody(c); err != nil {
		return err
	}
	var in CreateCustomerRequest
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Validation("MISSING_NAME", "Name is required")
	}
	status := models.CustomerActive
	if strings.TrimSpace(in.Status) != "" {
		var err error
		if status, err = parseStatus(in.Status); err != nil {
			return err
		}
	}
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, "", errs)
	}

	now := h.now()
	cu := models.Customer{
		OwnerID:   owner,
		Name:      name,
		Phone:     in.Phone,
		Email:     in.Email,
		Location:  strings.TrimSpace(in.Location),
		Notes:     strings.TrimSpace(in.Notes),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.db.WithContext(c.UserContext()).Create(&cu).Error; err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(cu)
}

// List My Customers godoc
// @Summary      List my customers, or get one by id
// @Tags         customers
// @Security     BearerAuth
// @Produce      json
// @Param        id      query  string  false  "Customer ID"
// @Param        search  query  string  false  "Name, email or phone substring"
// @Param        status  query  string  false  "active|inactive"
// @Param        limit   query  int     false  "Max 100, default 10"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {array}   models.Customer
// @Failure      401  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /customers [get]
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
		cu, err := h.mine(c, id, owner)
		if err != nil {
			return err
		}
		return c.JSON(cu)
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

	q := h.db.WithContext(c.UserContext()).Model(&models.Customer{}).Where("owner_id = ?", owner)
	if term := strings.TrimSpace(c.Query("search")); term != "" {
		like := utils.ContainsPattern(term)
		q = q.Where("(LOWER(name) LIKE ?"+utils.LikeEscape+
			" OR LOWER(email) LIKE ?"+utils.LikeEscape+
			" OR phone LIKE ?"+utils.LikeEscape+")", like, like, like)
	}
	if raw := c.Query("status"); raw != "" {
		st, err := parseStatus(raw)
		if err != nil {
			return err
		}
		q = q.Where("status = ?", st)
	}

	rows := make([]models.Customer, 0, limit)
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true}).
		Limit(limit).Offset(offset).
		Find(&rows).Error; err != nil {
		return err
	}
	return c.JSON(rows)
}

// Update Customer godoc
// @Summary      Update customer
// @Description  Partial update: absent fields are kept, null clears optional contact fields.
// @Tags         customers
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       query  string                 true  "Customer ID"
// @Param        payload  body   UpdateCustomerRequest  true  "Fields to change"
// @Success      200  {object}  models.Customer
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /customers [put]
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
	var in UpdateCustomerRequest
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

	res := h.db.WithContext(c.UserContext()).Model(&models.Customer{}).
		Where("id = ? AND owner_id = ?", id, owner).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotFound()
	}
	cu, err := h.mine(c, id, owner)
	if err != nil {
		return err
	}
	return c.JSON(cu)
}

func (in UpdateCustomerRequest) changes() (map[string]any, error) {
	out := map[string]any{}

	if in.Name.Set {
		name := strings.TrimSpace(in.Name.Value)
		if in.Name.Null || name == "" {
			return nil, apperr.Validation("INVALID_NAME", "Name cannot be empty")
		}
		out["name"] = name
	}
	if in.Status.Set {
		st, err := parseStatus(in.Status.Value)
		if err != nil {
			return nil, err
		}
		out["status"] = st
	}

	contact := struct {
		Phone string `json:"phone" validate:"omitempty,phone"`
		Email string `json:"email" validate:"omitempty,email,max=254"`
	}{strings.TrimSpace(in.Phone.Value), strings.TrimSpace(in.Email.Value)}
	if errs, _ := validation.Validate(contact); errs != nil {
		e := apperr.Validation("VALIDATION_FAILED", "Validation failed")
		for f, msgs := range errs {
			for _, m := range msgs {
				e.WithField(f, m)
			}
		}
		return nil, e
	}

	// a null Field carries the empty string
	if in.Phone.Set {
		out["phone"] = contact.Phone
	}
	if in.Email.Set {
		out["email"] = contact.Email
	}
	if in.Location.Set {
		out["location"] = strings.TrimSpace(in.Location.Value)
	}
	if in.Notes.Set {
		out["notes"] = strings.TrimSpace(in.Notes.Value)
	}
	return out, nil
}

// Delete Customer godoc
// @Summary      Delete customer
// @Description  Ledger entries linked to the customer are kept and unlinked.
// @Tags         customers
// @Security     BearerAuth
// @Produce      json
// @Param        id  query  string  true  "Customer ID"
// @Success      200  {object}  DeleteCustomerResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /customers [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cu, err := h.mine(c, id, owner)
	if err != nil {
		return err
	}

	err = h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Transaction{}).
			Where("customer_id = ? AND owner_id = ?", id, owner).
			Update("customer_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ? AND owner_id = ?", id, owner).Delete(&models.Customer{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errNotFound()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(DeleteCustomerResponse{Message: "Customer deleted successfully", Customer: cu})
}
