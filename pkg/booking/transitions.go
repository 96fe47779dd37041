package booking

import "fmt"

// transitionTargets drives the state machine: for each event, the legal
// source statuses and the resulting status. Accept is the one event
// whose target depends on the payment path and is resolved by the
// service, not this table.
var transitionTargets = map[Event]struct {
	sources []BookingStatus
	target  BookingStatus
}{
	EventAccepted: {
		sources: []BookingStatus{BookingStatusRequested},
		target:  BookingStatusAccepted,
	},
	EventRejected: {
		sources: []BookingStatus{BookingStatusRequested, BookingStatusPaymentPending},
		target:  BookingStatusRejected,
	},
	EventPaymentConfirmed: {
		sources: []BookingStatus{BookingStatusPaymentPending},
		target:  BookingStatusConfirmed,
	},
	EventCancelled: {
		sources: []BookingStatus{BookingStatusRequested, BookingStatusPaymentPending, BookingStatusAccepted, BookingStatusConfirmed},
		target:  BookingStatusCancelled,
	},
	EventExpired: {
		sources: []BookingStatus{BookingStatusRequested, BookingStatusPaymentPending},
		target:  BookingStatusExpired,
	},
	EventCompleted: {
		sources: []BookingStatus{BookingStatusConfirmed},
		target:  BookingStatusCompleted,
	},
	EventRefunded: {
		// Completed admits a refund: the gateway can claw a settled trip
		// back, and the service reverses the payout.
		sources: []BookingStatus{BookingStatusRequested, BookingStatusAccepted, BookingStatusPaymentPending, BookingStatusConfirmed, BookingStatusCompleted},
		target:  BookingStatusRefunded,
	},
}

// releasesSeats marks the events whose transition hands seats back to
// the ride. Completion keeps them: the trip happened.
var releasesSeats = map[Event]bool{
	EventRejected:  true,
	EventCancelled: true,
	EventExpired:   true,
}

// CanTransition reports whether firing event against a booking in the
// given status is legal.
func CanTransition(from BookingStatus, event Event) bool {
	rule, ok := transitionTargets[event]
	if !ok {
		return false
	}
	for _, source := range rule.sources {
		if source == from {
			return true
		}
	}
	return false
}

// targetStatus resolves the post-transition status, rejecting illegal
// transitions with ErrInvalidTransition.
func targetStatus(from BookingStatus, event Event) (BookingStatus, error) {
	if !CanTransition(from, event) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, event)
	}
	return transitionTargets[event].target, nil
}
