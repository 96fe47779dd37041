package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ridepoolhq/ridepool/pkg/booking"
	"github.com/ridepoolhq/ridepool/pkg/wallet"
	"go.uber.org/zap"
)

type apiHandler struct {
	services Services
	logger   *zap.Logger
}

type createRideRequest struct {
	DriverID          string `json:"driver_id"`
	CityID            string `json:"city_id"`
	DepartsAt         string `json:"departs_at"`
	PricePerSeatCents int64  `json:"price_per_seat_cents"`
	SeatsTotal        int    `json:"seats_total"`
}

type createBookingRequest struct {
	RideID        string `json:"ride_id"`
	RiderID       string `json:"rider_id"`
	Seats         int    `json:"seats"`
	PaymentMethod string `json:"payment_method"`
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

type webhookRequest struct {
	BookingID   string `json:"booking_id"`
	ProviderRef string `json:"provider_ref"`
	Event       string `json:"event"`
}

type walletAmountRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

func (handler *apiHandler) createRide(c *gin.Context) {
	var request createRideRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	departsAt, err := time.Parse(time.RFC3339, request.DepartsAt)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	ride, err := handler.services.Bookings.CreateRide(c.Request.Context(), booking.RideInput{
		DriverID:          request.DriverID,
		CityID:            request.CityID,
		DepartsAt:         departsAt,
		PricePerSeatCents: request.PricePerSeatCents,
		SeatsTotal:        request.SeatsTotal,
	})
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rideView(ride))
}

func (handler *apiHandler) getRide(c *gin.Context) {
	ride, err := handler.services.Bookings.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rideView(ride))
}

func (handler *apiHandler) publishRide(c *gin.Context) {
	handler.moveRide(c, handler.services.Bookings.PublishRide)
}

func (handler *apiHandler) cancelRide(c *gin.Context) {
	handler.moveRide(c, handler.services.Bookings.CancelRide)
}

func (handler *apiHandler) completeRide(c *gin.Context) {
	handler.moveRide(c, handler.services.Bookings.CompleteRide)
}

func (handler *apiHandler) moveRide(c *gin.Context, move func(ctx context.Context, rideID string) (booking.Ride, error)) {
	ride, err := move(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rideView(ride))
}

func (handler *apiHandler) listRideBookings(c *gin.Context) {
	records, err := handler.services.Bookings.ListForRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookingViews(records)})
}

func (handler *apiHandler) createBooking(c *gin.Context) {
	var request createBookingRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	method, err := booking.ParsePaymentMethod(request.PaymentMethod)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	record, err := handler.services.Bookings.Create(c.Request.Context(), booking.CreateRequest{
		RideID:        request.RideID,
		RiderID:       request.RiderID,
		Seats:         request.Seats,
		PaymentMethod: method,
	})
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bookingView(record))
}

func (handler *apiHandler) getBooking(c *gin.Context) {
	record, err := handler.services.Bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView(record))
}

func (handler *apiHandler) listBookingEvents(c *gin.Context) {
	events, err := handler.services.Bookings.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": eventViews(events)})
}

func (handler *apiHandler) bookingCancellable(c *gin.Context) {
	allowed, err := handler.services.Bookings.CanBeCancelled(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancellable": allowed})
}

func (handler *apiHandler) acceptBooking(c *gin.Context) {
	var request actorRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	record, err := handler.services.Bookings.Accept(c.Request.Context(), c.Param("id"), request.ActorID)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView(record))
}

func (handler *apiHandler) rejectBooking(c *gin.Context) {
	var request actorRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	record, err := handler.services.Bookings.Reject(c.Request.Context(), c.Param("id"), request.ActorID)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView(record))
}

func (handler *apiHandler) cancelBooking(c *gin.Context) {
	var request actorRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	record, err := handler.services.Bookings.Cancel(c.Request.Context(), c.Param("id"), request.ActorID, request.Reason)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView(record))
}

func (handler *apiHandler) completeBooking(c *gin.Context) {
	var request actorRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	record, err := handler.services.Bookings.Complete(c.Request.Context(), c.Param("id"), request.ActorID)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView(record))
}

func (handler *apiHandler) paymentWebhook(c *gin.Context) {
	var request webhookRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	var record booking.Booking
	var err error
	switch request.Event {
	case "payment.succeeded":
		record, err = handler.services.Bookings.ConfirmPayment(c.Request.Context(), request.BookingID, request.ProviderRef)
	case "payment.refunded":
		record, err = handler.services.Bookings.Refund(c.Request.Context(), request.BookingID, request.ProviderRef)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown webhook event", "code": "unknown_event"})
		return
	}
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bookingView(record))
}

func (handler *apiHandler) listRiderBookings(c *gin.Context) {
	records, err := handler.services.Bookings.ListForRider(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookingViews(records)})
}

func (handler *apiHandler) getWallet(c *gin.Context) {
	record, err := handler.services.Wallets.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletView(record))
}

func (handler *apiHandler) listWalletTransactions(c *gin.Context) {
	transactions, err := handler.services.Wallets.History(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": transactionViews(transactions)})
}

func (handler *apiHandler) adjustWallet(c *gin.Context) {
	var request walletAmountRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := handler.services.Wallets.Adjust(c.Request.Context(), c.Param("id"), request.AmountCents, request.Description); err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *apiHandler) requestPayout(c *gin.Context) {
	var request walletAmountRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondBadRequest(c, err)
		return
	}
	if err := handler.services.Wallets.RequestPayout(c.Request.Context(), c.Param("id"), request.AmountCents, request.Description); err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
}

func (handler *apiHandler) respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrCapacityExceeded):
		return http.StatusUnprocessableEntity, "capacity_exceeded"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, booking.ErrAlreadySettled):
		return http.StatusConflict, "already_settled"
	case errors.Is(err, booking.ErrCancellationDisabled):
		return http.StatusUnprocessableEntity, "cancellation_disabled"
	case errors.Is(err, booking.ErrCancellationTooLate):
		return http.StatusUnprocessableEntity, "cancellation_too_late"
	case errors.Is(err, booking.ErrCashDisabled):
		return http.StatusUnprocessableEntity, "cash_disabled"
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, booking.ErrRideNotFound):
		return http.StatusNotFound, "ride_not_found"
	case errors.Is(err, booking.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"
	case errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, booking.ErrRideNotPublished):
		return http.StatusUnprocessableEntity, "ride_not_published"
	case errors.Is(err, booking.ErrPaymentNotVerified):
		return http.StatusBadRequest, "payment_not_verified"
	case errors.Is(err, booking.ErrSettlementFailure):
		return http.StatusInternalServerError, "settlement_failed"
	case errors.Is(err, booking.ErrInvalidSeatCount),
		errors.Is(err, booking.ErrInvalidAmountCents),
		errors.Is(err, booking.ErrInvalidPaymentMethod),
		errors.Is(err, booking.ErrInvalidRideID),
		errors.Is(err, booking.ErrInvalidBookingID),
		errors.Is(err, booking.ErrInvalidActorID),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidDriverID):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
