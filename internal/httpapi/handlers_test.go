package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/ridepoolhq/ridepool/internal/collab"
	"github.com/ridepoolhq/ridepool/internal/settings"
	"github.com/ridepoolhq/ridepool/internal/store/gormstore"
	"github.com/ridepoolhq/ridepool/pkg/booking"
	"github.com/ridepoolhq/ridepool/pkg/wallet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(test *testing.T) *gin.Engine {
	test.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(test.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(test, err)
	require.NoError(test, db.AutoMigrate(gormstore.All()...))
	test.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	store := gormstore.New(db)
	walletStore := gormstore.NewWalletStore(db)
	provider := settings.NewProvider(db, time.Minute)

	now := func() time.Time { return time.Now().UTC() }
	walletService, err := wallet.NewService(walletStore, now)
	require.NoError(test, err)
	bookingService, err := booking.NewService(store, provider,
		collab.StaticVerifier{Verdict: booking.PaymentVerified}, walletService, now)
	require.NoError(test, err)

	cfg := Config{ListenAddr: ":0", AllowedOrigins: []string{"http://localhost:3000"}}
	return NewRouter(cfg, Services{Bookings: bookingService, Wallets: walletService}, zap.NewNop())
}

func doJSON(test *testing.T, router *gin.Engine, method, path string, body any) (int, map[string]any) {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(test, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	var parsed map[string]any
	if len(recorder.Body.Bytes()) > 0 {
		require.NoError(test, json.Unmarshal(recorder.Body.Bytes(), &parsed))
	}
	return recorder.Code, parsed
}

func createPublishedRide(test *testing.T, router *gin.Engine, seats int) string {
	test.Helper()
	status, ride := doJSON(test, router, http.MethodPost, "/api/v1/rides", map[string]any{
		"driver_id":            "driver-1",
		"city_id":              "city-1",
		"departs_at":           time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"price_per_seat_cents": 10000,
		"seats_total":          seats,
	})
	require.Equal(test, http.StatusCreated, status)
	rideID, ok := ride["ride_id"].(string)
	require.True(test, ok)

	status, _ = doJSON(test, router, http.MethodPost, "/api/v1/rides/"+rideID+"/publish", nil)
	require.Equal(test, http.StatusOK, status)
	return rideID
}

func TestHealthz(test *testing.T) {
	router := newTestRouter(test)
	status, body := doJSON(test, router, http.MethodGet, "/healthz", nil)
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, "ok", body["status"])
}

func TestBookingLifecycleOverHTTP(test *testing.T) {
	router := newTestRouter(test)
	rideID := createPublishedRide(test, router, 4)

	status, created := doJSON(test, router, http.MethodPost, "/api/v1/bookings", map[string]any{
		"ride_id":        rideID,
		"rider_id":       "rider-1",
		"seats":          2,
		"payment_method": "cash",
	})
	require.Equal(test, http.StatusCreated, status)
	require.Equal(test, "requested", created["status"])
	require.EqualValues(test, 20000, created["subtotal_cents"])
	require.EqualValues(test, 3000, created["commission_cents"])
	bookingID := created["booking_id"].(string)

	status, ride := doJSON(test, router, http.MethodGet, "/api/v1/rides/"+rideID, nil)
	require.Equal(test, http.StatusOK, status)
	require.EqualValues(test, 2, ride["seats_available"])

	status, accepted := doJSON(test, router, http.MethodPost, "/api/v1/bookings/"+bookingID+"/accept", map[string]any{
		"actor_id": "driver-1",
	})
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, "confirmed", accepted["status"])

	status, completed := doJSON(test, router, http.MethodPost, "/api/v1/bookings/"+bookingID+"/complete", map[string]any{
		"actor_id": "driver-1",
	})
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, "completed", completed["status"])
	require.NotEmpty(test, completed["settled_at"])

	status, walletBody := doJSON(test, router, http.MethodGet, "/api/v1/drivers/driver-1/wallet", nil)
	require.Equal(test, http.StatusOK, status)
	require.EqualValues(test, 17000, walletBody["balance_cents"])

	status, events := doJSON(test, router, http.MethodGet, "/api/v1/bookings/"+bookingID+"/events", nil)
	require.Equal(test, http.StatusOK, status)
	require.Len(test, events["events"], 4) // created, accepted, completed, settled
}

func TestPaymentWebhookConfirmsGatewayBooking(test *testing.T) {
	router := newTestRouter(test)
	rideID := createPublishedRide(test, router, 4)

	_, created := doJSON(test, router, http.MethodPost, "/api/v1/bookings", map[string]any{
		"ride_id":        rideID,
		"rider_id":       "rider-1",
		"seats":          1,
		"payment_method": "upi",
	})
	bookingID := created["booking_id"].(string)

	status, accepted := doJSON(test, router, http.MethodPost, "/api/v1/bookings/"+bookingID+"/accept", map[string]any{
		"actor_id": "driver-1",
	})
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, "payment_pending", accepted["status"])

	status, confirmed := doJSON(test, router, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"booking_id":   bookingID,
		"provider_ref": "pay_123",
		"event":        "payment.succeeded",
	})
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, "confirmed", confirmed["status"])
	require.Equal(test, "paid", confirmed["payment_status"])

	status, body := doJSON(test, router, http.MethodPost, "/api/v1/payments/webhook", map[string]any{
		"booking_id":   bookingID,
		"provider_ref": "pay_123",
		"event":        "payment.teleported",
	})
	require.Equal(test, http.StatusBadRequest, status)
	require.Equal(test, "unknown_event", body["code"])
}

func TestCapacityExceededMapsTo422(test *testing.T) {
	router := newTestRouter(test)
	rideID := createPublishedRide(test, router, 1)

	status, body := doJSON(test, router, http.MethodPost, "/api/v1/bookings", map[string]any{
		"ride_id":        rideID,
		"rider_id":       "rider-1",
		"seats":          2,
		"payment_method": "cash",
	})
	require.Equal(test, http.StatusUnprocessableEntity, status)
	require.Equal(test, "capacity_exceeded", body["code"])
}

func TestUnknownBookingMapsTo404(test *testing.T) {
	router := newTestRouter(test)
	status, body := doJSON(test, router, http.MethodGet, "/api/v1/bookings/missing", nil)
	require.Equal(test, http.StatusNotFound, status)
	require.Equal(test, "booking_not_found", body["code"])
}

func TestDoubleAcceptMapsTo409(test *testing.T) {
	router := newTestRouter(test)
	rideID := createPublishedRide(test, router, 4)
	_, created := doJSON(test, router, http.MethodPost, "/api/v1/bookings", map[string]any{
		"ride_id":        rideID,
		"rider_id":       "rider-1",
		"seats":          1,
		"payment_method": "cash",
	})
	bookingID := created["booking_id"].(string)

	status, _ := doJSON(test, router, http.MethodPost, "/api/v1/bookings/"+bookingID+"/accept", map[string]any{"actor_id": "driver-1"})
	require.Equal(test, http.StatusOK, status)

	status, body := doJSON(test, router, http.MethodPost, "/api/v1/bookings/"+bookingID+"/accept", map[string]any{"actor_id": "driver-1"})
	require.Equal(test, http.StatusConflict, status)
	require.Equal(test, "invalid_transition", body["code"])
}

func TestWalletEndpoints(test *testing.T) {
	router := newTestRouter(test)

	status, _ := doJSON(test, router, http.MethodPost, "/api/v1/drivers/driver-1/wallet/adjust", map[string]any{
		"amount_cents": 5000,
		"description":  "signup bonus",
	})
	require.Equal(test, http.StatusOK, status)

	status, body := doJSON(test, router, http.MethodPost, "/api/v1/drivers/driver-1/wallet/payout", map[string]any{
		"amount_cents": 9000,
		"description":  "too much",
	})
	require.Equal(test, http.StatusUnprocessableEntity, status)
	require.Equal(test, "insufficient_balance", body["code"])

	status, _ = doJSON(test, router, http.MethodPost, "/api/v1/drivers/driver-1/wallet/payout", map[string]any{
		"amount_cents": 3000,
		"description":  "weekly payout",
	})
	require.Equal(test, http.StatusOK, status)

	status, walletBody := doJSON(test, router, http.MethodGet, "/api/v1/drivers/driver-1/wallet", nil)
	require.Equal(test, http.StatusOK, status)
	require.EqualValues(test, 2000, walletBody["balance_cents"])
	require.EqualValues(test, 3000, walletBody["lifetime_withdrawn_cents"])

	status, history := doJSON(test, router, http.MethodGet, "/api/v1/drivers/driver-1/wallet/transactions", nil)
	require.Equal(test, http.StatusOK, status)
	require.Len(test, history["transactions"], 2)
}

func TestCancellableEndpoint(test *testing.T) {
	router := newTestRouter(test)
	rideID := createPublishedRide(test, router, 4)
	_, created := doJSON(test, router, http.MethodPost, "/api/v1/bookings", map[string]any{
		"ride_id":        rideID,
		"rider_id":       "rider-1",
		"seats":          1,
		"payment_method": "cash",
	})
	bookingID := created["booking_id"].(string)

	status, body := doJSON(test, router, http.MethodGet, "/api/v1/bookings/"+bookingID+"/cancellable", nil)
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, true, body["cancellable"])

	status, cancelled := doJSON(test, router, http.MethodPost, "/api/v1/bookings/"+bookingID+"/cancel", map[string]any{
		"actor_id": "rider-1",
		"reason":   "plans changed",
	})
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, "cancelled", cancelled["status"])

	status, body = doJSON(test, router, http.MethodGet, "/api/v1/bookings/"+bookingID+"/cancellable", nil)
	require.Equal(test, http.StatusOK, status)
	require.Equal(test, false, body["cancellable"])
}
