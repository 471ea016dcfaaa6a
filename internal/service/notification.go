package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ecard/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationPaymentConfirmed NotificationType = "PAYMENT_CONFIRMED"
	NotificationPaymentFailed    NotificationType = "PAYMENT_FAILED"
	NotificationPaymentRefunded  NotificationType = "PAYMENT_REFUNDED"
	NotificationECardIssued      NotificationType = "ECARD_ISSUED"
	NotificationECardActivated   NotificationType = "ECARD_ACTIVATED"
	NotificationECardSuspended   NotificationType = "ECARD_SUSPENDED"
	NotificationECardReinstated  NotificationType = "ECARD_REINSTATED"
	NotificationECardExpired     NotificationType = "ECARD_EXPIRED"
	NotificationECardRevoked     NotificationType = "ECARD_REVOKED"
)

// Notification represents a notification to be sent to a driver.
type Notification struct {
	Type        NotificationType
	RecipientID string
	Title       string
	Message     string
	Data        map[string]string
	CreatedAt   time.Time
}

// NotificationService turns driver-facing ledger events into notifications.
// It is registered with the Notifier as a sink.
type NotificationService struct {
	logger *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(logger *slog.Logger) *NotificationService {
	return &NotificationService{logger: logger}
}

func (s *NotificationService) Name() string { return "driver_notifications" }

// Handle notifies the event's driver. Events drivers do not see are ignored.
func (s *NotificationService) Handle(ctx context.Context, event *domain.Event) error {
	notification, ok := buildNotification(event)
	if !ok {
		return nil
	}
	return s.send(ctx, notification)
}

func buildNotification(event *domain.Event) (Notification, bool) {
	n := Notification{
		RecipientID: event.DriverID,
		Data:        map[string]string{"entity_id": event.EntityID},
		CreatedAt:   event.OccurredAt,
	}
	if n.RecipientID == "" {
		return n, false
	}

	switch event.Type {
	case domain.EventPaymentConfirmed:
		n.Type = NotificationPaymentConfirmed
		n.Title = "Payment Confirmed"
		n.Message = "Your E-Card fee payment was confirmed."
	case domain.EventPaymentFailed:
		n.Type = NotificationPaymentFailed
		n.Title = "Payment Failed"
		n.Message = withReason("Your E-Card fee payment failed. Please try again.", event.Data["reason"])
	case domain.EventPaymentRefunded:
		n.Type = NotificationPaymentRefunded
		n.Title = "Payment Refunded"
		n.Message = "Your E-Card fee payment was refunded."
	case domain.EventECardIssued:
		n.Type = NotificationECardIssued
		n.Title = "E-Card Issued"
		n.Message = fmt.Sprintf("Your E-Card is issued and valid until %s. It activates at your first border scan.", event.Data["expires_at"])
	case domain.EventECardActivated:
		n.Type = NotificationECardActivated
		n.Title = "E-Card Active"
		n.Message = "Your E-Card is now active."
	case domain.EventECardSuspended:
		n.Type = NotificationECardSuspended
		n.Title = "E-Card Suspended"
		n.Message = withReason("Your E-Card has been suspended.", event.Data["reason"])
	case domain.EventECardReinstated:
		n.Type = NotificationECardReinstated
		n.Title = "E-Card Reinstated"
		n.Message = "Your E-Card is active again."
	case domain.EventECardExpired:
		n.Type = NotificationECardExpired
		n.Title = "E-Card Expired"
		n.Message = "Your E-Card has expired."
	case domain.EventECardRevoked:
		n.Type = NotificationECardRevoked
		n.Title = "E-Card Revoked"
		n.Message = withReason("Your E-Card has been revoked.", event.Data["reason"])
	default:
		return n, false
	}
	return n, true
}

func withReason(message, reason string) string {
	if reason == "" {
		return message
	}
	return fmt.Sprintf("%s Reason: %s", message, reason)
}

// send delivers a notification. Delivery channels (push, SMS) sit behind the
// log line for now.
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	s.logger.InfoContext(ctx, "notification sent",
		"type", notification.Type,
		"recipient", notification.RecipientID,
		"title", notification.Title,
		"message", notification.Message,
	)
	return nil
}
