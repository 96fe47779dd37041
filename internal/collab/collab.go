// Package collab holds local implementations of the external
// collaborator interfaces: a zap-logging notifier and conversation
// service (delivery systems live elsewhere), and a static payment
// verifier stand-in for environments without a gateway.
package collab

import (
	"context"

	"github.com/ridepoolhq/ridepool/pkg/booking"
	"go.uber.org/zap"
)

// LogNotifier logs notifications instead of dispatching them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wraps a zap logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements booking.Notifier.
func (notifier *LogNotifier) Notify(_ context.Context, userID string, title string, body string, data map[string]string) error {
	notifier.logger.Info("notify",
		zap.String("user_id", userID),
		zap.String("title", title),
		zap.String("body", body),
		zap.Any("data", data))
	return nil
}

// LogConversations logs conversation side effects instead of touching a
// chat backend.
type LogConversations struct {
	logger *zap.Logger
}

// NewLogConversations wraps a zap logger.
func NewLogConversations(logger *zap.Logger) *LogConversations {
	return &LogConversations{logger: logger}
}

// CloseConversation implements booking.ConversationService.
func (conversations *LogConversations) CloseConversation(_ context.Context, bookingID string) error {
	conversations.logger.Info("close conversation", zap.String("booking_id", bookingID))
	return nil
}

// InsertSystemMessage implements booking.ConversationService.
func (conversations *LogConversations) InsertSystemMessage(_ context.Context, bookingID string, templateKey string) error {
	conversations.logger.Info("system message",
		zap.String("booking_id", bookingID),
		zap.String("template", templateKey))
	return nil
}

// StaticVerifier returns a fixed verdict for every provider reference.
// Real gateway verification (Razorpay/Stripe webhook signatures) plugs
// in behind booking.PaymentVerifier.
type StaticVerifier struct {
	Verdict booking.PaymentVerification
}

// VerifyPayment implements booking.PaymentVerifier.
func (verifier StaticVerifier) VerifyPayment(_ context.Context, _ string, _ string) (booking.PaymentVerification, error) {
	return verifier.Verdict, nil
}
