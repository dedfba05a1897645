package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aldoetobex/weka-backend/internal/logging"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
)

/* ============================== JWT Claims ============================== */

// Claims represents the JWT payload we issue and expect.
type Claims struct {
	Sub  string `json:"sub"`  // user ID
	Role string `json:"role"` // "customer" | "provider"
	jwt.RegisteredClaims
}

var (
	secretMu sync.RWMutex
	secret   []byte
)

// SetSecret installs the HMAC key used to sign and verify tokens.
func SetSecret(s string) {
	secretMu.Lock()
	secret = []byte(s)
	secretMu.Unlock()
}

func signingKey() []byte {
	secretMu.RLock()
	defer secretMu.RUnlock()
	return secret
}

/* ============================== JWT Helpers ============================= */

// IssueToken signs a JWT (7 days) for the given user and role.
func IssueToken(userID, role string) (string, error) {
	claims := &Claims{
		Sub:  userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(signingKey())
}

// parseBearer returns the claims of a valid Bearer token, or ok=false.
func parseBearer(c *fiber.Ctx) (*Claims, bool) {
	h := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, false
	}
	tokenStr := strings.TrimPrefix(h, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return signingKey(), nil
	})
	if err != nil || !token.Valid {
		return nil, false
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Sub == "" {
		return nil, false
	}
	return claims, true
}

// SetIdentity stores the resolved caller on the request context.
func SetIdentity(c *fiber.Ctx, userID, role string) {
	c.Locals("userID", userID)
	c.Locals("role", role)
}

/* ============================== Middleware ============================== */

// ErrAuthRequired is returned when a route needs a caller and none was resolved.
var ErrAuthRequired = apperr.Unauthenticated("AUTHENTICATION_REQUIRED", "Authentication required")

// RequireAuth validates a Bearer JWT and injects userID and role into the context.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := c.Locals("userID").(string); ok {
			return c.Next()
		}
		claims, ok := parseBearer(c)
		if !ok {
			return ErrAuthRequired
		}
		SetIdentity(c, claims.Sub, claims.Role)
		return c.Next()
	}
}

// OptionalAuth resolves the caller when a valid token is present and
// continues anonymously otherwise.
func OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if claims, ok := parseBearer(c); ok {
			SetIdentity(c, claims.Sub, claims.Role)
		}
		return c.Next()
	}
}

// MustUserID reads the authenticated user ID from context or panics (programming error).
func MustUserID(c *fiber.Ctx) string {
	if v, ok := c.Locals("userID").(string); ok {
		return v
	}
	panic(errors.New("user not in context"))
}

// MustRole reads the authenticated user role from context or panics (programming error).
func MustRole(c *fiber.Ctx) string {
	if v, ok := c.Locals("role").(string); ok {
		return v
	}
	panic(errors.New("role not in context"))
}

// Caller returns the resolved caller id, if any.
func Caller(c *fiber.Ctx) (uuid.UUID, bool) {
	v, ok := c.Locals("userID").(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// CallerPtr is Caller as an optional value for business calls.
func CallerPtr(c *fiber.Ctx) *uuid.UUID {
	if id, ok := Caller(c); ok {
		return &id
	}
	return nil
}

// RequireRole ensures the authenticated user has the expected role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if MustRole(c) != role {
			return apperr.Permission("FORBIDDEN", "This action requires the "+role+" role")
		}
		return c.Next()
	}
}

/* =========================== Error Formatting =========================== */

// httpCodeToString converts an HTTP status code to a short, stable string.
func httpCodeToString(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "UNPROCESSABLE_ENTITY"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// ErrorHandler is the global Fiber error handler: {error, code} for every failure.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// Expected business failures carry their own code and status
	if ae, ok := apperr.As(err); ok {
		if len(ae.Fields) > 0 {
			return c.Status(ae.HTTPStatus()).JSON(models.ValidationErrorResponse{
				Error:  ae.Message,
				Code:   ae.Code,
				Errors: ae.Fields,
			})
		}
		return c.Status(ae.HTTPStatus()).JSON(models.ErrorResponse{Error: ae.Message, Code: ae.Code})
	}

	// Fiber errors carry status codes
	var fe *fiber.Error
	if errors.As(err, &fe) {
		msg := fe.Message
		if strings.TrimSpace(msg) == "" {
			msg = fiber.ErrInternalServerError.Message
		}
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: msg, Code: httpCodeToString(fe.Code)})
	}

	// Anything else is internal: log it in full, return a generic body
	logging.FromCtx(c).WithFields(logrus.Fields{
		"method": c.Method(),
		"path":   c.Path(),
	}).WithError(err).Error("unhandled error")
	return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
		Error: "Internal Server Error",
		Code:  httpCodeToString(fiber.StatusInternalServerError),
	})
}
