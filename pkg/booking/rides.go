package booking

import (
	"context"
	"fmt"
	"time"
)

// RideInput carries a driver's new offer.
type RideInput struct {
	DriverID          string
	CityID            string
	DepartsAt         time.Time
	PricePerSeatCents int64
	SeatsTotal        int
}

// CreateRide persists a draft offer. Seats become inventory only on
// publish.
func (service *Service) CreateRide(ctx context.Context, input RideInput) (Ride, error) {
	driverID, err := normalizeID(input.DriverID, ErrInvalidActorID)
	if err != nil {
		return Ride{}, err
	}
	if input.SeatsTotal <= 0 {
		return Ride{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidSeatCount)
	}
	if input.PricePerSeatCents < 0 {
		return Ride{}, fmt.Errorf("%w: negative price", ErrInvalidAmountCents)
	}
	ride := Ride{
		DriverID:          driverID,
		CityID:            input.CityID,
		Status:            RideStatusDraft,
		DepartsAt:         input.DepartsAt,
		PricePerSeatCents: input.PricePerSeatCents,
		SeatsTotal:        input.SeatsTotal,
		SeatsAvailable:    input.SeatsTotal,
	}
	return service.store.CreateRide(ctx, ride)
}

// PublishRide opens a draft for booking. seats_total is immutable from
// here on.
func (service *Service) PublishRide(ctx context.Context, rideID string) (Ride, error) {
	return service.moveRide(ctx, rideID, RideStatusDraft, RideStatusPublished)
}

// CancelRide closes an offer. Open bookings against it are handled by
// their own transitions, not here.
func (service *Service) CancelRide(ctx context.Context, rideID string) (Ride, error) {
	return service.moveRide(ctx, rideID, RideStatusPublished, RideStatusCancelled)
}

// CompleteRide marks a published ride as done.
func (service *Service) CompleteRide(ctx context.Context, rideID string) (Ride, error) {
	return service.moveRide(ctx, rideID, RideStatusPublished, RideStatusCompleted)
}

// GetRide returns one ride.
func (service *Service) GetRide(ctx context.Context, rideID string) (Ride, error) {
	id, err := normalizeID(rideID, ErrInvalidRideID)
	if err != nil {
		return Ride{}, err
	}
	return service.store.GetRide(ctx, id)
}

func (service *Service) moveRide(ctx context.Context, rideID string, from, to RideStatus) (Ride, error) {
	id, err := normalizeID(rideID, ErrInvalidRideID)
	if err != nil {
		return Ride{}, err
	}
	if err := service.store.UpdateRideStatus(ctx, id, from, to); err != nil {
		return Ride{}, err
	}
	return service.store.GetRide(ctx, id)
}
