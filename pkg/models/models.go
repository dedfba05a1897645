package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)

// RequestStatus defines lifecycle states for a service request.
type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestMatched   RequestStatus = "matched"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

// Valid reports whether s is one of the known request statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestOpen, RequestMatched, RequestCompleted, RequestCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// ServiceStatus defines whether a provider's service is listed.
type ServiceStatus string

const (
	ServiceActive   ServiceStatus = "active"
	ServiceInactive ServiceStatus = "inactive"
)

// CustomerStatus marks whether a provider still serves a customer.
type CustomerStatus string

const (
	CustomerActive   CustomerStatus = "active"
	CustomerInactive CustomerStatus = "inactive"
)

// TxType separates money coming in from money going out.
type TxType string

const (
	TxPayment TxType = "payment"
	TxExpense TxType = "expense"
)

// TxStatus defines lifecycle states for a mobile-money transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

/* =============================== Entities =============================== */

// Base carries the UUID primary key. IDs are generated client-side so the
// same models work on Postgres and SQLite.
type Base struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
}

func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// User represents a customer or provider account.
type User struct {
	Base
	Email          string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash   string    `gorm:"not null" json:"-"`
	Role           Role      `gorm:"type:varchar(20);not null" json:"role"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Service is an offering listed by a provider.
type Service struct {
	Base
	OwnerID     uuid.UUID     `gorm:"type:uuid;not null;index" json:"owner_id"`
	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	Category    string        `gorm:"not null;index" json:"category"`
	Price       int           `gorm:"not null" json:"price"`
	Duration    string        `json:"duration"`
	Status      ServiceStatus `gorm:"type:varchar(20);default:'active';index" json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ServiceRequest is a job posted by a (possibly anonymous) customer.
type ServiceRequest struct {
	Base
	CustomerName      string        `gorm:"not null" json:"customerName"`
	CustomerPhone     string        `gorm:"not null" json:"customerPhone"`
	CustomerLocation  string        `gorm:"not null" json:"customerLocation"`
	ServiceCategory   string        `gorm:"not null;index" json:"serviceCategory"`
	Description       string        `gorm:"not null" json:"description"`
	Budget            *int          `json:"budget"`
	Status            RequestStatus `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	MatchedProviderID *uuid.UUID    `gorm:"type:uuid;index" json:"matchedProviderId"`
	CreatedAt         time.Time     `gorm:"<-:create" json:"createdAt"`
	MatchedAt         *time.Time    `json:"matchedAt"`
	ResponseTime      *int          `json:"responseTime"` // minutes from creation to match
}

// RequestHistory is an audit log entry for request status changes.
type RequestHistory struct {
	Base
	RequestID uuid.UUID     `gorm:"type:uuid;not null;index" json:"requestId"`
	ActorID   string        `gorm:"type:varchar(64);not null;index" json:"actorId"` // user id, or "anonymous"
	Action    string        `gorm:"type:varchar(50);not null" json:"action"`       // created, claimed, completed, cancelled, deleted
	OldStatus RequestStatus `gorm:"type:varchar(20)" json:"oldStatus"`
	NewStatus RequestStatus `gorm:"type:varchar(20)" json:"newStatus"`
	Reason    string        `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"createdAt"`
}

// Review is one reviewer's rating of one service.
type Review struct {
	Base
	ServiceID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_review_service_reviewer" json:"service_id"`
	ReviewerID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_review_service_reviewer" json:"reviewer_id"`
	ReviewerName     string     `gorm:"not null" json:"reviewer_name"`
	Rating           int        `gorm:"not null" json:"rating"`
	Title            string     `gorm:"not null" json:"title"`
	Comment          string     `gorm:"not null" json:"comment"`
	HelpfulCount     int        `gorm:"not null;default:0" json:"helpful_count"`
	VerifiedPurchase bool       `gorm:"not null;default:false" json:"verified_purchase"`
	ProviderResponse *string    `json:"provider_response"`
	ResponseDate     *time.Time `json:"response_date"`
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ReviewHelpful records one user's helpful vote on one review.
type ReviewHelpful struct {
	Base
	ReviewID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_helpful_review_user"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_helpful_review_user"`
	CreatedAt time.Time
}

// Customer is an entry in a provider's own customer book.
type Customer struct {
	Base
	OwnerID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Name            string         `gorm:"not null" json:"name"`
	Phone           string         `json:"phone"`
	Email           string         `json:"email"`
	Location        string         `json:"location"`
	Notes           string         `gorm:"type:text" json:"notes"`
	TotalSpent      int            `gorm:"not null;default:0" json:"total_spent"` // completed payments, whole shillings
	LastServiceDate *time.Time     `json:"last_service_date"`
	Status          CustomerStatus `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Transaction is a mobile-money payment or expense recorded by a provider.
type Transaction struct {
	Base
	OwnerID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_id"`
	ServiceID         *uuid.UUID `gorm:"type:uuid" json:"service_id"`
	RequestID         *uuid.UUID `gorm:"type:uuid" json:"request_id"`
	CustomerID        *uuid.UUID `gorm:"type:uuid;index" json:"customer_id"`
	Amount            int        `gorm:"not null" json:"amount"` // whole shillings
	Phone             string     `gorm:"not null" json:"phone"`
	Type              TxType     `gorm:"type:varchar(20);not null" json:"type"`
	Description       string     `json:"description"`
	CheckoutRequestID *string    `gorm:"uniqueIndex" json:"checkout_request_id"`
	Receipt           *string    `json:"receipt"`
	Status            TxStatus   `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// All lists every entity for migrations.
func All() []any {
	return []any{
		&User{}, &Service{}, &ServiceRequest{}, &RequestHistory{},
		&Review{}, &ReviewHelpful{}, &Customer{}, &Transaction{},
	}
}
