package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Request body for /signup
type SignupRequest struct {
	Role     string `json:"role" validate:"required,oneof=customer provider"`
	Name     string `json:"name" validate:"required,min=2,max=80"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	// Optional: providers who linked the Telegram bot get alerts there
	TelegramChatID *int64 `json:"telegram_chat_id"`
}

// Request body for /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required"`
}

// Standard auth response
type AuthResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// Profile response for /me
type UserProfileResponse struct {
	ID             uuid.UUID   `json:"id"`
	Email          string      `json:"email"`
	Role           models.Role `json:"role"`
	Name           string      `json:"name"`
	Phone          string      `json:"phone"`
	TelegramChatID *int64      `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

/* ============================== Handler ================================= */

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

/* =============================== Signup ================================= */

// @Summary      Sign up
// @Description  Register a new customer or provider account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  SignupRequest  true  "Signup payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "email already exists"
// @Router       /signup [post]
func (h *Handler) Signup(c *fiber.Ctx) error {
	var in SignupRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, "", errs)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	u := models.User{
		Email:          in.Email,
		PasswordHash:   string(hash),
		Role:           models.Role(in.Role),
		Name:           in.Name,
		Phone:          in.Phone,
		TelegramChatID: in.TelegramChatID,
	}
	if err := h.db.WithContext(c.UserContext()).Create(&u).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return apperr.Conflict("EMAIL_TAKEN", "email already exists")
		}
		return err
	}

	token, err := IssueToken(u.ID.String(), string(u.Role))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================ Login ================================= */

var errBadCredentials = apperr.Unauthenticated("INVALID_CREDENTIALS", "Invalid email or password")

// @Summary      Login
// @Description  Authenticate and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Router       /login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, "", errs)
	}

	var u models.User
	if err := h.db.WithContext(c.UserContext()).Where("email = ?", in.Email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errBadCredentials
		}
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return errBadCredentials
	}

	token, err := IssueToken(u.ID.String(), string(u.Role))
	if err != nil {
		return err
	}
	return c.JSON(AuthResponse{Token: token, Role: string(u.Role)})
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  UserProfileResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	userID, ok := Caller(c)
	if !ok {
		return ErrAuthRequired
	}

	var u models.User
	if err := h.db.WithContext(c.UserContext()).First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAuthRequired
		}
		return err
	}

	return c.JSON(UserProfileResponse{
		ID:             u.ID,
		Email:          u.Email,
		Role:           u.Role,
		Name:           u.Name,
		Phone:          u.Phone,
		TelegramChatID: u.TelegramChatID,
		CreatedAt:      u.CreatedAt,
	})
}
