// Package payments keeps the provider's mobile-money ledger and settles
// pending transactions from gateway results.
package payments

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
	"gorm.io/gorm/clause"

	"github.com/aldoetobex/weka-backend/internal/monitoring"
	"github.com/aldoetobex/weka-backend/pkg/apperr"
	"github.com/aldoetobex/weka-backend/pkg/models"
	"github.com/aldoetobex/weka-backend/pkg/utils"
	"github.com/aldoetobex/weka-backend/pkg/validation"
)

// PaymentNotifier confirms a completed payment to the payer. It must return
// without waiting for delivery; failures never reach the caller.
type PaymentNotifier interface {
	NotifyPayment(ctx context.Context, phone string, amount int, receipt string)
}

type Service struct {
	db       *gorm.DB
	notifier PaymentNotifier
	log      *logrus.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, notifier PaymentNotifier, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, notifier: notifier, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func errNotFound() error {
	return apperr.NotFound("TRANSACTION_NOT_FOUND", "Transaction not found")
}

/* ================================ Record ================================ */

// RecordInput is a ledger entry. A checkout request id marks a payment that
// waits for the gateway result; anything else is recorded as completed.
type RecordInput struct {
	Amount            *float64 `json:"amount" example:"2500"`
	Type              string   `json:"type" example:"payment"`
	Phone             string   `json:"phone" validate:"omitempty,phone" example:"+254711000111"`
	Description       string   `json:"description" validate:"max=500"`
	ServiceID         *string  `json:"service_id"`
	RequestID         *string  `json:"request_id"`
	CustomerID        *string  `json:"customer_id"`
	CheckoutRequestID *string  `json:"checkout_request_id" example:"ws_CO_191220191020363925"`
}

func parseType(raw string) (models.TxType, error) {
	t := models.TxType(strings.TrimSpace(raw))
	if t != models.TxPayment && t != models.TxExpense {
		return "", apperr.Validation("INVALID_TRANSACTION_TYPE", `Transaction type must be either "payment" or "expense"`)
	}
	return t, nil
}

func optionalID(raw *string, code string) (*uuid.UUID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(*raw))
	if err != nil {
		return nil, apperr.Validation(code, "Invalid identifier")
	}
	return &id, nil
}

// Record appends a transaction to owner's ledger.
func (s *Service) Record(ctx context.Context, owner uuid.UUID, in RecordInput) (models.Transaction, error) {
	if in.Amount == nil {
		return models.Transaction{}, apperr.Validation("MISSING_AMOUNT", "Amount is required")
	}
	amount := *in.Amount
	if amount <= 0 || amount != math.Trunc(amount) || amount > math.MaxInt32 {
		return models.Transaction{}, apperr.Validation("INVALID_AMOUNT", "Amount must be a positive whole number")
	}
	if strings.TrimSpace(in.Type) == "" {
		return models.Transaction{}, apperr.Validation("MISSING_TRANSACTION_TYPE", "Transaction type is required")
	}
	typ, err := parseType(in.Type)
	if err != nil {
		return models.Transaction{}, err
	}
	in.Phone = strings.TrimSpace(in.Phone)
	if errs, _ := validation.Validate(in); errs != nil {
		code := "VALIDATION_FAILED"
		if _, bad := errs["phone"]; bad {
			code = "INVALID_PHONE"
		}
		e := apperr.Validation(code, "Validation failed")
		for f, msgs := range errs {
			for _, m := range msgs {
				e.WithField(f, m)
			}
		}
		return models.Transaction{}, e
	}

	serviceID, err := optionalID(in.ServiceID, "INVALID_SERVICE")
	if err != nil {
		return models.Transaction{}, err
	}
	requestID, err := optionalID(in.RequestID, "INVALID_REQUEST")
	if err != nil {
		return models.Transaction{}, err
	}
	customerID, err := optionalID(in.CustomerID, "INVALID_CUSTOMER")
	if err != nil {
		return models.Transaction{}, err
	}

	db := s.db.WithContext(ctx)
	if serviceID != nil {
		var n int64
		if err := db.Model(&models.Service{}).Where("id = ? AND owner_id = ?", *serviceID, owner).Count(&n).Error; err != nil {
			return models.Transaction{}, fmt.Errorf("check service: %w", err)
		}
		if n == 0 {
			return models.Transaction{}, apperr.Validation("INVALID_SERVICE", "Service not found or does not belong to user")
		}
	}
	if requestID != nil {
		var n int64
		if err := db.Model(&models.ServiceRequest{}).Where("id = ? AND matched_provider_id = ?", *requestID, owner).Count(&n).Error; err != nil {
			return models.Transaction{}, fmt.Errorf("check request: %w", err)
		}
		if n == 0 {
			return models.Transaction{}, apperr.Validation("INVALID_REQUEST", "Service request not found or not matched to user")
		}
	}
	if customerID != nil {
		var n int64
		if err := db.Model(&models.Customer{}).Where("id = ? AND owner_id = ?", *customerID, owner).Count(&n).Error; err != nil {
			return models.Transaction{}, fmt.Errorf("check customer: %w", err)
		}
		if n == 0 {
			return models.Transaction{}, apperr.Validation("INVALID_CUSTOMER", "Customer not found or does not belong to user")
		}
	}

	now := s.now()
	t := models.Transaction{
		OwnerID:     owner,
		ServiceID:   serviceID,
		RequestID:   requestID,
		CustomerID:  customerID,
		Amount:      int(amount),
		Phone:       in.Phone,
		Type:        typ,
		Description: strings.TrimSpace(in.Description),
		Status:      models.TxCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.CheckoutRequestID != nil {
		if id := strings.TrimSpace(*in.CheckoutRequestID); id != "" {
			t.CheckoutRequestID = &id
			t.Status = models.TxPending
		}
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		return creditCustomer(tx, t, now)
	})
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			return models.Transaction{}, apperr.Duplicate("DUPLICATE_CHECKOUT_REQUEST", "A transaction with this checkout request id already exists")
		}
		return models.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

// creditCustomer adds a completed payment to its customer's running total.
func creditCustomer(tx *gorm.DB, t models.Transaction, at time.Time) error {
	if t.CustomerID == nil || t.Type != models.TxPayment || t.Status != models.TxCompleted {
		return nil
	}
	return tx.Model(&models.Customer{}).
		Where("id = ? AND owner_id = ?", *t.CustomerID, t.OwnerID).
		Updates(map[string]any{
			"total_spent":       gorm.Expr("total_spent + ?", t.Amount),
			"last_service_date": at,
			"updated_at":        at,
		}).Error
}

/* ================================= Read ================================= */

type ListFilter struct {
	Type   string
	Search string
	Limit  int
	Offset int
}

func (s *Service) List(ctx context.Context, owner uuid.UUID, f ListFilter) ([]models.Transaction, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("owner_id = ?", owner)
	if strings.TrimSpace(f.Type) != "" {
		typ := models.TxType(strings.TrimSpace(f.Type))
		if typ != models.TxPayment && typ != models.TxExpense {
			return nil, apperr.Validation("INVALID_TYPE", `Transaction type must be either "payment" or "expense"`)
		}
		q = q.Where("type = ?", typ)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := utils.ContainsPattern(term)
		q = q.Where("(LOWER(receipt) LIKE ?"+utils.LikeEscape+" OR LOWER(description) LIKE ?"+utils.LikeEscape+")", like, like)
	}

	out := make([]models.Transaction, 0, f.Limit)
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, owner, id uuid.UUID) (models.Transaction, error) {
	var t models.Transaction
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, owner).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return t, errNotFound()
	}
	if err != nil {
		return t, fmt.Errorf("load transaction: %w", err)
	}
	return t, nil
}

/* ================================ Settle ================================ */

// GatewayResult is the already-parsed outcome of a mobile-money push.
// ResultCode 0 means the payer completed it.
type GatewayResult struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	ResultCode        *int   `json:"result_code"`
	Receipt           string `json:"receipt"`
}

// Settle moves a pending transaction to completed or failed. A transaction
// that is already settled is returned unchanged with changed=false.
func (s *Service) Settle(ctx context.Context, res GatewayResult) (t models.Transaction, changed bool, err error) {
	checkoutID := strings.TrimSpace(res.CheckoutRequestID)
	if checkoutID == "" || res.ResultCode == nil {
		return t, false, apperr.Validation("INVALID_CALLBACK", "checkout_request_id and result_code are required")
	}
	status := models.TxFailed
	if *res.ResultCode == 0 {
		status = models.TxCompleted
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// row lock on postgres; sqlite serialises writers anyway
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&t, "checkout_request_id = ?", checkoutID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound()
			}
			return err
		}
		if t.Status != models.TxPending {
			return nil
		}

		now := s.now()
		updates := map[string]any{"status": status, "updated_at": now}
		if receipt := strings.TrimSpace(res.Receipt); receipt != "" && status == models.TxCompleted {
			updates["receipt"] = receipt
		}
		upd := tx.Model(&models.Transaction{}).
			Where("id = ? AND status = ?", t.ID, models.TxPending).
			Updates(updates)
		if upd.Error != nil {
			return upd.Error
		}
		changed = upd.RowsAffected == 1
		if err := tx.First(&t, "id = ?", t.ID).Error; err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return creditCustomer(tx, t, now)
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			monitoring.PaymentCallbacks.WithLabelValues("unknown").Inc()
			return t, false, err
		}
		return t, false, fmt.Errorf("settle transaction: %w", err)
	}

	if !changed {
		monitoring.PaymentCallbacks.WithLabelValues("duplicate").Inc()
		return t, false, nil
	}
	monitoring.PaymentCallbacks.WithLabelValues(string(status)).Inc()
	s.log.WithFields(logrus.Fields{
		"transaction_id":      t.ID,
		"checkout_request_id": checkoutID,
		"status":              status,
	}).Info("payment settled")

	if status == models.TxCompleted && t.Receipt != nil && t.Phone != "" && s.notifier != nil {
		s.notifier.NotifyPayment(ctx, t.Phone, t.Amount, *t.Receipt)
	}
	return t, true, nil
}
