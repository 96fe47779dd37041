package booking

import "context"

// PaymentVerification is the gateway's verdict on a provider reference.
type PaymentVerification string

const (
	PaymentVerified PaymentVerification = "paid"
	PaymentFailed   PaymentVerification = "failed"
)

// PaymentVerifier consults the payment gateway about a provider
// reference. Implementations live outside the core.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, bookingID string, providerRef string) (PaymentVerification, error)
}

// Notifier is a fire-and-forget push/SMS dispatcher. Failures are
// logged by callers, never propagated.
type Notifier interface {
	Notify(ctx context.Context, userID string, title string, body string, data map[string]string) error
}

// ConversationService closes booking chat threads and injects system
// messages. Best-effort on completion.
type ConversationService interface {
	CloseConversation(ctx context.Context, bookingID string) error
	InsertSystemMessage(ctx context.Context, bookingID string, templateKey string) error
}

// CronRunRecorder persists a background-job run for observability.
type CronRunRecorder interface {
	RecordCronRun(ctx context.Context, jobName string, status string, message string) error
}
