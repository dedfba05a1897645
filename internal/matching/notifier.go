// Package matching finds providers for a new service request and alerts
// them. Delivery is best-effort: every send failure is logged and dropped.
package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/internal/monitoring"
	"github.com/aldoetobex/weka-backend/pkg/models"
)

// DefaultCandidateLimit caps how many providers are alerted per request.
const DefaultCandidateLimit = 5

const (
	ChannelTelegram = "telegram"
	ChannelSMS      = "sms"
	ChannelLog      = "log"
)

const dispatchTimeout = 30 * time.Second

// SMSSender sends a text to a phone number.
type SMSSender interface {
	Send(ctx context.Context, phone, text string) error
}

// ChatSender sends a text to a chat id.
type ChatSender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Candidate is a provider with at least one active service in the category.
type Candidate struct {
	ProviderID     uuid.UUID `gorm:"column:provider_id"`
	Name           string    `gorm:"column:name"`
	Phone          string    `gorm:"column:phone"`
	TelegramChatID *int64    `gorm:"column:telegram_chat_id"`
}

// Options configures a Notifier. Nil senders disable that channel.
type Options struct {
	SMS      SMSSender
	Telegram ChatSender
	Limit    int
	Logger   *logrus.Logger
}

type Notifier struct {
	db    *gorm.DB
	sms   SMSSender
	tg    ChatSender
	limit int
	log   *logrus.Logger
	wg    sync.WaitGroup
}

func NewNotifier(db *gorm.DB, opts Options) *Notifier {
	if opts.Limit <= 0 {
		opts.Limit = DefaultCandidateLimit
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Notifier{db: db, sms: opts.SMS, tg: opts.Telegram, limit: opts.Limit, log: opts.Logger}
}

// Candidates returns up to the configured limit of distinct providers owning an
// active service whose category equals category exactly.
func (n *Notifier) Candidates(ctx context.Context, category string) ([]Candidate, error) {
	var out []Candidate
	err := monitoring.RecordDBTime("matching_candidates", func() error {
		return n.db.WithContext(ctx).
			Table("services AS s").
			Select("DISTINCT u.id AS provider_id, u.name AS name, u.phone AS phone, u.telegram_chat_id AS telegram_chat_id").
			Joins("JOIN users u ON u.id = s.owner_id").
			Where("s.category = ? AND s.status = ?", category, models.ServiceActive).
			Order("provider_id").
			Limit(n.limit).
			Scan(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	return out, nil
}

// OnRequestCreated alerts every candidate and then confirms to the customer.
// Sends run sequentially and each failure is isolated. It returns the number of
// provider dispatch attempts.
func (n *Notifier) OnRequestCreated(ctx context.Context, req models.ServiceRequest, candidates []Candidate) int {
	attempts := 0
	for _, cand := range candidates {
		attempts++
		channel, err := n.sendToProvider(ctx, cand, providerAlert(req))
		n.record(channel, err, logrus.Fields{
			"request_id":  req.ID,
			"provider_id": cand.ProviderID,
		})
	}

	channel, err := n.sendToPhone(ctx, req.CustomerPhone, customerConfirmation(req))
	n.record(channel, err, logrus.Fields{"request_id": req.ID, "recipient": "customer"})
	return attempts
}

// Dispatch runs OnRequestCreated in the background. Wait blocks until every
// dispatched batch has finished.
func (n *Notifier) Dispatch(req models.ServiceRequest, candidates []Candidate) {
	n.background(context.Background(), logrus.Fields{"request_id": req.ID}, func(ctx context.Context) {
		n.OnRequestCreated(ctx, req, candidates)
	})
}

// NotifyPayment confirms a settled mobile-money payment to the payer in the
// background; the caller does not wait for the gateway.
func (n *Notifier) NotifyPayment(ctx context.Context, phone string, amount int, receipt string) {
	text := fmt.Sprintf("Weka: payment of KES %d received. M-Pesa receipt %s. Thank you!", amount, receipt)
	fields := logrus.Fields{"receipt": receipt, "recipient": "payer"}
	n.background(ctx, fields, func(ctx context.Context) {
		channel, err := n.sendToPhone(ctx, phone, text)
		n.record(channel, err, fields)
	})
}

// background runs fn on a goroutine tracked by Wait. The context keeps the
// values of parent but not its cancellation.
func (n *Notifier) background(parent context.Context, fields logrus.Fields, fn func(ctx context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.log.WithFields(fields).Errorf("notification dispatch panic: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), dispatchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until in-flight dispatches finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendToProvider prefers Telegram when the provider linked a chat, then SMS.
func (n *Notifier) sendToProvider(ctx context.Context, cand Candidate, text string) (string, error) {
	if cand.TelegramChatID != nil && n.tg != nil {
		return ChannelTelegram, n.tg.Send(ctx, *cand.TelegramChatID, text)
	}
	return n.sendToPhone(ctx, cand.Phone, text)
}

func (n *Notifier) sendToPhone(ctx context.Context, phone, text string) (string, error) {
	if n.sms != nil && phone != "" {
		return ChannelSMS, n.sms.Send(ctx, phone, text)
	}
	n.log.WithField("channel", ChannelLog).Info(text)
	return ChannelLog, nil
}

func (n *Notifier) record(channel string, err error, fields logrus.Fields) {
	result := "ok"
	if err != nil {
		result = "error"
		n.log.WithFields(fields).WithField("channel", channel).WithError(err).Warn("notification failed")
	}
	monitoring.NotificationsSent.WithLabelValues(channel, result).Inc()
}

func providerAlert(req models.ServiceRequest) string {
	msg := fmt.Sprintf("Weka: new %s request from %s in %s.", req.ServiceCategory, req.CustomerName, req.CustomerLocation)
	if req.Budget != nil {
		msg += fmt.Sprintf(" Budget KES %d.", *req.Budget)
	}
	return msg + " Open the app to claim it."
}

func customerConfirmation(req models.ServiceRequest) string {
	return fmt.Sprintf("Your service request for %s has been received! Service providers in your area will contact you soon. Thank you for using Weka!", req.ServiceCategory)
}
