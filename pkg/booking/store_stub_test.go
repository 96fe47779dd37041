package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ridepoolhq/ridepool/pkg/wallet"
)

var testBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// stubData is the unlocked in-memory state shared by stubStore and the
// transaction view it hands out.
type stubData struct {
	rides    map[string]Ride
	bookings map[string]Booking
	events   map[string][]EventInput

	nextRide    int
	nextBooking int

	failUpdateBooking map[string]error
	failListExpired   error
}

func newStubData() *stubData {
	return &stubData{
		rides:             map[string]Ride{},
		bookings:          map[string]Booking{},
		events:            map[string][]EventInput{},
		failUpdateBooking: map[string]error{},
	}
}

func (data *stubData) createRide(ride Ride) (Ride, error) {
	if ride.RideID == "" {
		data.nextRide++
		ride.RideID = fmt.Sprintf("ride-%d", data.nextRide)
	}
	data.rides[ride.RideID] = ride
	return ride, nil
}

func (data *stubData) getRide(rideID string) (Ride, error) {
	ride, ok := data.rides[rideID]
	if !ok {
		return Ride{}, fmt.Errorf("%w: %s", ErrRideNotFound, rideID)
	}
	return ride, nil
}

func (data *stubData) setSeatsAvailable(rideID string, seats int) error {
	ride, ok := data.rides[rideID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRideNotFound, rideID)
	}
	if seats < 0 || seats > ride.SeatsTotal {
		return fmt.Errorf("%w: %d out of range", ErrInvalidSeatCount, seats)
	}
	ride.SeatsAvailable = seats
	data.rides[rideID] = ride
	return nil
}

func (data *stubData) updateRideStatus(rideID string, from, to RideStatus) error {
	ride, ok := data.rides[rideID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRideNotFound, rideID)
	}
	if ride.Status != from {
		return fmt.Errorf("%w: ride is %s", ErrInvalidTransition, ride.Status)
	}
	ride.Status = to
	data.rides[rideID] = ride
	return nil
}

func (data *stubData) createBooking(record Booking) (Booking, error) {
	if record.BookingID == "" {
		data.nextBooking++
		record.BookingID = fmt.Sprintf("booking-%d", data.nextBooking)
	}
	data.bookings[record.BookingID] = record
	return record, nil
}

func (data *stubData) getBooking(bookingID string) (Booking, error) {
	record, ok := data.bookings[bookingID]
	if !ok {
		return Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID)
	}
	return record, nil
}

func (data *stubData) updateBooking(record Booking) error {
	if err := data.failUpdateBooking[record.BookingID]; err != nil {
		return err
	}
	if _, ok := data.bookings[record.BookingID]; !ok {
		return fmt.Errorf("%w: %s", ErrBookingNotFound, record.BookingID)
	}
	data.bookings[record.BookingID] = record
	return nil
}

func (data *stubData) listForRide(rideID string) ([]Booking, error) {
	var records []Booking
	for _, record := range data.bookings {
		if record.RideID == rideID {
			records = append(records, record)
		}
	}
	sortBookings(records)
	return records, nil
}

func (data *stubData) listForRider(riderID string, limit int) ([]Booking, error) {
	var records []Booking
	for _, record := range data.bookings {
		if record.RiderID == riderID {
			records = append(records, record)
		}
	}
	sortBookings(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (data *stubData) listExpiredHolds(at time.Time, limit int) ([]Booking, error) {
	if data.failListExpired != nil {
		return nil, data.failListExpired
	}
	var records []Booking
	for _, record := range data.bookings {
		holdable := record.Status == BookingStatusRequested || record.Status == BookingStatusPaymentPending
		if holdable && !record.HoldExpiresAt.After(at) {
			records = append(records, record)
		}
	}
	sortBookings(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (data *stubData) listUnsettledCompleted(limit int) ([]Booking, error) {
	var records []Booking
	for _, record := range data.bookings {
		if record.Status == BookingStatusCompleted && record.SettledAt == nil {
			records = append(records, record)
		}
	}
	sortBookings(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (data *stubData) appendEvent(event EventInput) error {
	data.events[event.BookingID] = append(data.events[event.BookingID], event)
	return nil
}

func (data *stubData) listEvents(bookingID string) ([]EventInput, error) {
	return append([]EventInput(nil), data.events[bookingID]...), nil
}

func sortBookings(records []Booking) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].BookingID < records[j].BookingID
	})
}

// stubTx is the in-transaction view. It runs without locking because
// stubStore.WithTx already holds the mutex for the whole callback.
type stubTx struct {
	data *stubData
}

func (tx *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, tx)
}

func (tx *stubTx) CreateRide(_ context.Context, ride Ride) (Ride, error) {
	return tx.data.createRide(ride)
}
func (tx *stubTx) GetRide(_ context.Context, rideID string) (Ride, error) {
	return tx.data.getRide(rideID)
}
func (tx *stubTx) GetRideForUpdate(_ context.Context, rideID string) (Ride, error) {
	return tx.data.getRide(rideID)
}
func (tx *stubTx) SetSeatsAvailable(_ context.Context, rideID string, seats int) error {
	return tx.data.setSeatsAvailable(rideID, seats)
}
func (tx *stubTx) UpdateRideStatus(_ context.Context, rideID string, from, to RideStatus) error {
	return tx.data.updateRideStatus(rideID, from, to)
}
func (tx *stubTx) CreateBooking(_ context.Context, record Booking) (Booking, error) {
	return tx.data.createBooking(record)
}
func (tx *stubTx) GetBooking(_ context.Context, bookingID string) (Booking, error) {
	return tx.data.getBooking(bookingID)
}
func (tx *stubTx) GetBookingForUpdate(_ context.Context, bookingID string) (Booking, error) {
	return tx.data.getBooking(bookingID)
}
func (tx *stubTx) UpdateBooking(_ context.Context, record Booking) error {
	return tx.data.updateBooking(record)
}
func (tx *stubTx) ListBookingsForRide(_ context.Context, rideID string) ([]Booking, error) {
	return tx.data.listForRide(rideID)
}
func (tx *stubTx) ListBookingsForRider(_ context.Context, riderID string, limit int) ([]Booking, error) {
	return tx.data.listForRider(riderID, limit)
}
func (tx *stubTx) ListExpiredHolds(_ context.Context, at time.Time, limit int) ([]Booking, error) {
	return tx.data.listExpiredHolds(at, limit)
}
func (tx *stubTx) ListUnsettledCompleted(_ context.Context, limit int) ([]Booking, error) {
	return tx.data.listUnsettledCompleted(limit)
}
func (tx *stubTx) AppendEvent(_ context.Context, event EventInput) error {
	return tx.data.appendEvent(event)
}
func (tx *stubTx) ListEvents(_ context.Context, bookingID string) ([]EventInput, error) {
	return tx.data.listEvents(bookingID)
}

// stubStore serializes every access behind one mutex. WithTx holds the
// lock for the whole callback, mirroring the row-lock serialization the
// SQL store provides under FOR UPDATE.
type stubStore struct {
	mu   sync.Mutex
	data *stubData
}

func newStubStore() *stubStore {
	return &stubStore{data: newStubData()}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(ctx, &stubTx{data: store.data})
}

func (store *stubStore) CreateRide(_ context.Context, ride Ride) (Ride, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.createRide(ride)
}

func (store *stubStore) GetRide(_ context.Context, rideID string) (Ride, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.getRide(rideID)
}

func (store *stubStore) GetRideForUpdate(_ context.Context, rideID string) (Ride, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.getRide(rideID)
}

func (store *stubStore) SetSeatsAvailable(_ context.Context, rideID string, seats int) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.setSeatsAvailable(rideID, seats)
}

func (store *stubStore) UpdateRideStatus(_ context.Context, rideID string, from, to RideStatus) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.updateRideStatus(rideID, from, to)
}

func (store *stubStore) CreateBooking(_ context.Context, record Booking) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.createBooking(record)
}

func (store *stubStore) GetBooking(_ context.Context, bookingID string) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.getBooking(bookingID)
}

func (store *stubStore) GetBookingForUpdate(_ context.Context, bookingID string) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.getBooking(bookingID)
}

func (store *stubStore) UpdateBooking(_ context.Context, record Booking) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.updateBooking(record)
}

func (store *stubStore) ListBookingsForRide(_ context.Context, rideID string) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.listForRide(rideID)
}

func (store *stubStore) ListBookingsForRider(_ context.Context, riderID string, limit int) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.listForRider(riderID, limit)
}

func (store *stubStore) ListExpiredHolds(_ context.Context, at time.Time, limit int) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.listExpiredHolds(at, limit)
}

func (store *stubStore) ListUnsettledCompleted(_ context.Context, limit int) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.listUnsettledCompleted(limit)
}

func (store *stubStore) AppendEvent(_ context.Context, event EventInput) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.appendEvent(event)
}

func (store *stubStore) ListEvents(_ context.Context, bookingID string) ([]EventInput, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.data.listEvents(bookingID)
}

// seedRide plants a ride directly in the store.
func seedRide(test *testing.T, store *stubStore, status RideStatus, priceCents int64, seatsTotal, seatsAvailable int) Ride {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	ride, err := store.data.createRide(Ride{
		DriverID:          "driver-1",
		CityID:            "city-1",
		Status:            status,
		DepartsAt:         testBase.Add(24 * time.Hour),
		PricePerSeatCents: priceCents,
		SeatsTotal:        seatsTotal,
		SeatsAvailable:    seatsAvailable,
	})
	if err != nil {
		test.Fatalf("seed ride: %v", err)
	}
	return ride
}

// seedBooking plants a booking row directly in the store.
func seedBooking(test *testing.T, store *stubStore, record Booking) Booking {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	created, err := store.data.createBooking(record)
	if err != nil {
		test.Fatalf("seed booking: %v", err)
	}
	return created
}

// stubClock is an adjustable test clock.
type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock(start time.Time) *stubClock {
	return &stubClock{now: start}
}

func (clock *stubClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *stubClock) Advance(delta time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(delta)
}

type settingsStub struct {
	mu       sync.Mutex
	snapshot Settings
	err      error
}

func defaultTestSettings() Settings {
	return Settings{
		HoldWindow:           30 * time.Minute,
		CancellationDeadline: 3 * time.Hour,
		CancellationEnabled:  true,
		CashPaymentEnabled:   true,
		Commission:           CommissionPolicy{Type: CommissionPercent, Value: 1500},
	}
}

func (stub *settingsStub) Snapshot(context.Context) (Settings, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.snapshot, stub.err
}

func (stub *settingsStub) set(snapshot Settings) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.snapshot = snapshot
}

type verifierStub struct {
	verdict PaymentVerification
	err     error
}

func (stub verifierStub) VerifyPayment(context.Context, string, string) (PaymentVerification, error) {
	return stub.verdict, stub.err
}

// ledgerStub records posts keyed by booking and rejects duplicates the
// way the wallet store's unique index does.
type ledgerStub struct {
	mu        sync.Mutex
	earnings  map[string]int64
	refunds   map[string]int64
	earnErr   error
	refundErr error
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{earnings: map[string]int64{}, refunds: map[string]int64{}}
}

func (stub *ledgerStub) PostEarning(_ context.Context, _ string, bookingID string, amountCents int64, _ string) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.earnErr != nil {
		return stub.earnErr
	}
	if _, exists := stub.earnings[bookingID]; exists {
		return wallet.ErrDuplicateTransaction
	}
	stub.earnings[bookingID] = amountCents
	return nil
}

func (stub *ledgerStub) PostRefund(_ context.Context, _ string, bookingID string, amountCents int64, _ string) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.refundErr != nil {
		return stub.refundErr
	}
	if _, exists := stub.refunds[bookingID]; exists {
		return wallet.ErrDuplicateTransaction
	}
	stub.refunds[bookingID] = amountCents
	return nil
}

func (stub *ledgerStub) earningFor(bookingID string) (int64, bool) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	amount, ok := stub.earnings[bookingID]
	return amount, ok
}

func (stub *ledgerStub) setEarnErr(err error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.earnErr = err
}

func (stub *ledgerStub) refundFor(bookingID string) (int64, bool) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	amount, ok := stub.refunds[bookingID]
	return amount, ok
}

func (stub *ledgerStub) setRefundErr(err error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.refundErr = err
}

type cronRun struct {
	job     string
	status  string
	message string
}

type recorderStub struct {
	mu   sync.Mutex
	runs []cronRun
}

func (stub *recorderStub) RecordCronRun(_ context.Context, jobName string, status string, message string) error {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.runs = append(stub.runs, cronRun{job: jobName, status: status, message: message})
	return nil
}

func (stub *recorderStub) lastRun(test *testing.T) cronRun {
	test.Helper()
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.runs) == 0 {
		test.Fatal("expected at least one cron run record")
	}
	return stub.runs[len(stub.runs)-1]
}

type testFixture struct {
	store    *stubStore
	settings *settingsStub
	verifier verifierStub
	ledger   *ledgerStub
	clock    *stubClock
	service  *Service
}

func newFixture(test *testing.T) *testFixture {
	test.Helper()
	fixture := &testFixture{
		store:    newStubStore(),
		settings: &settingsStub{snapshot: defaultTestSettings()},
		verifier: verifierStub{verdict: PaymentVerified},
		ledger:   newLedgerStub(),
		clock:    newStubClock(testBase),
	}
	service, err := NewService(fixture.store, fixture.settings, fixture.verifier, fixture.ledger, fixture.clock.Now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	fixture.service = service
	return fixture
}

func mustCreateBooking(test *testing.T, fixture *testFixture, rideID string, seats int, method PaymentMethod) Booking {
	test.Helper()
	record, err := fixture.service.Create(context.Background(), CreateRequest{
		RideID:        rideID,
		RiderID:       "rider-1",
		Seats:         seats,
		PaymentMethod: method,
	})
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	return record
}

func mustGetBooking(test *testing.T, store *stubStore, bookingID string) Booking {
	test.Helper()
	record, err := store.GetBooking(context.Background(), bookingID)
	if err != nil {
		test.Fatalf("get booking %s: %v", bookingID, err)
	}
	return record
}

func mustGetRide(test *testing.T, store *stubStore, rideID string) Ride {
	test.Helper()
	ride, err := store.GetRide(context.Background(), rideID)
	if err != nil {
		test.Fatalf("get ride %s: %v", rideID, err)
	}
	return ride
}
