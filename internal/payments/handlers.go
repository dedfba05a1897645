package payments

import (
	"crypto/subtle"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aldoetobex/weka-backend/internal/auth"
	"github.com/aldoetobex/weka-backend/internal/logging"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
)

// CallbackSecretHeader carries the secret shared with the gateway adapter.
const CallbackSecretHeader = "X-Callback-Secret"

// CallbackAck is the gateway's expected reply. ResultCode 0 acknowledges.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

type Handler struct {
	svc    *Service
	secret string
}

func NewHandler(svc *Service, callbackSecret string) *Handler {
	return &Handler{svc: svc, secret: callbackSecret}
}

// Record Transaction godoc
// @Summary      Record a transaction
// @Description  With checkout_request_id the entry stays pending until the gateway result arrives.
// @Tags         transactions
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  RecordInput  true  "Transaction"
// @Success      201  {object}  models.Transaction
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /transactions [post]
func (h *Handler) Record(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	var raw map[string]json.RawMessage
	if json.Unmarshal(c.Body(), &raw) == nil {
		for _, k := range []string{"userId", "user_id", "ownerId", "owner_id"} {
			if _, found := raw[k]; found {
				return apperr.Validation("USER_ID_NOT_ALLOWED", "User ID cannot be provided in request body")
			}
		}
	}

	var in RecordInput
	if err := c.BodyParser(&in); err != nil {
		return apperr.Validation("INVALID_BODY", "invalid json")
	}
	t, err := h.svc.Record(c.UserContext(), owner, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

// List Transactions godoc
// @Summary      List my transactions, or get one by id
// @Tags         transactions
// @Security     BearerAuth
// @Produce      json
// @Param        id      query  string  false  "Transaction ID"
// @Param        type    query  string  false  "payment|expense"
// @Param        search  query  string  false  "Receipt or description substring"
// @Param        limit   query  int     false  "Max 100, default 10"
// @Param        offset  query  int     false  "Offset"
// @Success      200  {array}   models.Transaction
// @Failure      400  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /transactions [get]
func (h *Handler) List(c *fiber.Ctx) error {
	owner, ok := auth.Caller(c)
	if !ok {
		return auth.ErrAuthRequired
	}
	if raw := c.Query("id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("INVALID_ID", "Valid ID is required")
		}
		t, err := h.svc.Get(c.UserContext(), owner, id)
		if err != nil {
			return err
		}
		return c.JSON(t)
	}

	f := ListFilter{Type: c.Query("type"), Search: c.Query("search")}
	f.Limit, _ = strconv.Atoi(c.Query("limit", "10"))
	f.Offset, _ = strconv.Atoi(c.Query("offset", "0"))
	rows, err := h.svc.List(c.UserContext(), owner, f)
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

// Callback godoc
// @Summary      Mobile-money result callback
// @Description  Called by the gateway adapter. Settling is idempotent; the reply is always 200 once the secret matches.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        X-Callback-Secret  header  string         true  "Shared secret"
// @Param        payload            body    GatewayResult  true  "Parsed gateway result"
// @Success      200  {object}  CallbackAck
// @Failure      401  {object}  models.ErrorResponse
// @Router       /payments/mobile-money/callback [post]
func (h *Handler) Callback(c *fiber.Ctx) error {
	got := c.Get(CallbackSecretHeader)
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		return apperr.Unauthenticated("INVALID_CALLBACK_SECRET", "missing/invalid "+CallbackSecretHeader)
	}

	log := logging.FromCtx(c)
	var res GatewayResult
	if err := c.BodyParser(&res); err != nil {
		log.WithError(err).Warn("payment callback parsing failed")
		return c.JSON(CallbackAck{ResultCode: 1, ResultDesc: "Callback parsing failed"})
	}

	t, changed, err := h.svc.Settle(c.UserContext(), res)
	switch {
	case err == nil:
		log.WithField("checkout_request_id", res.CheckoutRequestID).
			WithField("status", t.Status).
			WithField("changed", changed).
			Info("payment callback processed")
		return c.JSON(CallbackAck{ResultCode: 0, ResultDesc: "Callback received successfully"})
	case apperr.Is(err, apperr.KindValidation):
		log.WithError(err).Warn("payment callback rejected")
		return c.JSON(CallbackAck{ResultCode: 1, ResultDesc: "Callback parsing failed"})
	case apperr.Is(err, apperr.KindNotFound):
		// nothing of ours to settle; acknowledge so the gateway stops retrying
		log.WithField("checkout_request_id", res.CheckoutRequestID).Warn("payment callback for unknown checkout request")
		return c.JSON(CallbackAck{ResultCode: 0, ResultDesc: "Callback received successfully"})
	default:
		log.WithError(err).Error("payment callback failed")
		return c.JSON(CallbackAck{ResultCode: 1, ResultDesc: "Internal server error"})
	}
}
