package utils

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/pkg/models"
)

// AnonymousActor is recorded when an unauthenticated customer acts.
const AnonymousActor = "anonymous"

// LogRequestHistory inserts an audit record into request_histories.
// A failed write is logged at warn level and never returned.
func LogRequestHistory(
	ctx context.Context,
	db *gorm.DB,
	log logrus.FieldLogger,
	requestID uuid.UUID,
	actorID string,
	action string,
	oldS, newS models.RequestStatus,
	reason string,
) {
	if actorID == "" {
		actorID = AnonymousActor
	}
	err := db.WithContext(ctx).Create(&models.RequestHistory{
		RequestID: requestID,
		ActorID:   actorID,
		Action:    action,
		OldStatus: oldS,
		NewStatus: newS,
		Reason:    reason,
		CreatedAt: time.Now(),
	}).Error
	if err != nil && log != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID,
			"action":     action,
			"actor_id":   actorID,
		}).Warn("request history write failed")
	}
}
