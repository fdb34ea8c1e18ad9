package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/railconnect/booking-backend/internal/database"
	"github.com/railconnect/booking-backend/internal/models"
	"github.com/railconnect/booking-backend/internal/monitoring"
	"github.com/railconnect/booking-backend/pkg/payment"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// FAKE CANONICAL STORE
// ============================================================================

type fakeStore struct {
	mu        sync.Mutex
	locks     map[models.ScheduleKey]chan struct{}
	inventory map[models.ScheduleKey]*models.InventoryRow
	bookings  map[string]*models.Booking

	failCommit error
	// commitDelay stalls every transaction between its work and its commit
	commitDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locks:     make(map[models.ScheduleKey]chan struct{}),
		inventory: make(map[models.ScheduleKey]*models.InventoryRow),
		bookings:  make(map[string]*models.Booking),
	}
}

func (s *fakeStore) seed(key models.ScheduleKey, seats int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[key] = &models.InventoryRow{
		TrainID:        key.TrainID,
		TravelDate:     key.TravelDate,
		AvailableSeats: seats,
		ScheduleInfo: models.ScheduleInfo{
			TrainNumber: "1005",
			TrainName:   "Udarata Menike",
			Source:      "Colombo Fort",
			Destination: "Badulla",
		},
	}
}

func (s *fakeStore) seats(key models.ScheduleKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory[key].AvailableSeats
}

func (s *fakeStore) booking(code string) *models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[code]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (s *fakeStore) bookingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *fakeStore) keyLock(key models.ScheduleKey) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

// lockRow waits for the row lock of key like SELECT ... FOR UPDATE does,
// giving up when ctx ends
func (s *fakeStore) lockRow(ctx context.Context, key models.ScheduleKey) (func(), error) {
	lock := s.keyLock(key)
	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to lock inventory row: %w", ctx.Err())
	}
}

// holdRow takes the row lock of key from outside any transaction
func (s *fakeStore) holdRow(key models.ScheduleKey) func() {
	release, _ := s.lockRow(context.Background(), key)
	return release
}

func (s *fakeStore) WithSeatLock(
	ctx context.Context,
	key models.ScheduleKey,
	fn func(tx database.SeatTx, inventory *models.InventoryRow) error,
) error {
	release, err := s.lockRow(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	row, ok := s.inventory[key]
	var snapshot models.InventoryRow
	if ok {
		snapshot = *row
	}
	s.mu.Unlock()
	if !ok {
		return database.ErrScheduleNotFound
	}

	tx := &fakeTx{store: s, seatDelta: map[models.ScheduleKey]int{}, cancels: map[string]time.Time{}}
	if err := fn(tx, &snapshot); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func (s *fakeStore) WithBookingLock(
	ctx context.Context,
	code string,
	fn func(tx database.SeatTx, booking *models.Booking, inventory *models.InventoryRow) error,
) error {
	existing := s.booking(code)
	if existing == nil {
		return database.ErrBookingNotFound
	}
	key := models.ScheduleKey{TrainID: existing.TrainID, TravelDate: existing.TravelDate}

	release, err := s.lockRow(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	snapshot := *s.inventory[key]
	locked := *s.bookings[code]
	s.mu.Unlock()
	locked.Schedule = snapshot.ScheduleInfo

	tx := &fakeTx{store: s, seatDelta: map[models.ScheduleKey]int{}, cancels: map[string]time.Time{}}
	if err := fn(tx, &locked, &snapshot); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func (s *fakeStore) commit(ctx context.Context, tx *fakeTx) error {
	if s.commitDelay > 0 {
		select {
		case <-time.After(s.commitDelay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failCommit != nil {
		return fmt.Errorf("failed to commit transaction: %w", s.failCommit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, delta := range tx.seatDelta {
		s.inventory[key].AvailableSeats += delta
	}
	for _, b := range tx.inserts {
		cp := *b
		s.bookings[b.ReservationCode] = &cp
	}
	for code, at := range tx.cancels {
		at := at
		s.bookings[code].Status = models.BookingStatusCancelled
		s.bookings[code].CancelledAt = &at
	}
	return nil
}

// fakeTx stages writes until commit
type fakeTx struct {
	store     *fakeStore
	seatDelta map[models.ScheduleKey]int
	inserts   []*models.Booking
	cancels   map[string]time.Time
}

func (t *fakeTx) CodeExists(code string) (bool, error) {
	return t.store.booking(code) != nil, nil
}

func (t *fakeTx) DecrementSeats(key models.ScheduleKey, seats int) error {
	available := t.store.seats(key) + t.seatDelta[key]
	if available < seats {
		return database.ErrInsufficientSeats
	}
	t.seatDelta[key] -= seats
	return nil
}

func (t *fakeTx) IncrementSeats(key models.ScheduleKey, seats int) error {
	t.seatDelta[key] += seats
	return nil
}

func (t *fakeTx) InsertBooking(b *models.Booking) error {
	if t.store.booking(b.ReservationCode) != nil {
		return database.ErrReservationCodeTaken
	}
	b.CreatedAt = time.Now().UTC()
	t.inserts = append(t.inserts, b)
	return nil
}

func (t *fakeTx) MarkCancelled(code string, at time.Time) error {
	b := t.store.booking(code)
	if b == nil || !b.Status.CanTransitionTo(models.BookingStatusCancelled) {
		return database.ErrBookingNotCancellable
	}
	t.cancels[code] = at
	return nil
}

// ============================================================================
// FAKE MIRROR, GATEWAY, NOTIFIER
// ============================================================================

type fakeMirror struct {
	mu       sync.Mutex
	records  map[string]*models.Booking
	sessions map[string]models.BookingStatus

	putErr    error
	getErr    error
	updateErr error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		records:  make(map[string]*models.Booking),
		sessions: make(map[string]models.BookingStatus),
	}
}

func (m *fakeMirror) Put(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if existing, ok := m.records[b.ReservationCode]; ok && existing.IsCancelled() && !b.IsCancelled() {
		return database.ErrMirrorStatusRegression
	}
	cp := *b
	m.records[b.ReservationCode] = &cp
	return nil
}

func (m *fakeMirror) PutSession(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[b.ReservationCode] = b.Status
	return nil
}

func (m *fakeMirror) Get(ctx context.Context, code string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.records[code]
	if !ok {
		return nil, database.ErrMirrorRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *fakeMirror) ListByUser(ctx context.Context, userID string) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.records {
		if b.UserID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *fakeMirror) UpdateStatus(ctx context.Context, code string, status models.BookingStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	b, ok := m.records[code]
	if !ok {
		return database.ErrMirrorRecordNotFound
	}
	if b.IsCancelled() && status != models.BookingStatusCancelled {
		return database.ErrMirrorStatusRegression
	}
	b.Status = status
	b.CancelledAt = &at
	return nil
}

func (m *fakeMirror) record(code string) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[code]
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   map[string]int
	decline bool
	err     error
	block   bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (g *fakeGateway) Charge(ctx context.Context, reference string, amount decimal.Decimal, contact payment.Contact) (*payment.ChargeResult, error) {
	g.mu.Lock()
	g.calls[reference]++
	decline, err, block := g.decline, g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, payment.ErrGatewayTimeout
	}
	if err != nil {
		return nil, err
	}
	if decline {
		return &payment.ChargeResult{Status: payment.StatusFailure, Detail: "card declined"}, nil
	}
	return &payment.ChargeResult{Status: payment.StatusSuccess, TransactionID: "TXN-" + reference}, nil
}

func (g *fakeGateway) GetName() string { return "fake" }

func (g *fakeGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (n *fakeNotifier) ChannelsFor(event models.NotificationEvent) []models.NotificationChannel {
	return []models.NotificationChannel{models.ChannelBroker}
}

func (n *fakeNotifier) Notify(ctx context.Context, event models.NotificationEvent, channels []models.NotificationChannel) []models.DeliveryResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return []models.DeliveryResult{{Channel: models.ChannelBroker, Err: errors.New("broker offline")}}
}

func (n *fakeNotifier) kinds() []models.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]models.EventKind, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
	err     error
}

func (a *fakeAuditor) Log(ctx context.Context, audit *models.PaymentAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, audit)
	return nil
}

func (a *fakeAuditor) events() []models.PaymentEventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := make([]models.PaymentEventType, len(a.entries))
	for i, e := range a.entries {
		types[i] = e.EventType
	}
	return types
}

// ============================================================================
// HARNESS
// ============================================================================

var testKey = models.ScheduleKey{TrainID: 7, TravelDate: "2025-03-01"}

type orchestratorHarness struct {
	svc      *BookingOrchestratorService
	store    *fakeStore
	mirror   *fakeMirror
	gateway  *fakeGateway
	notifier *fakeNotifier
	auditor  *fakeAuditor
	metrics  *monitoring.Metrics
}

func newHarness(t *testing.T, capacity int) *orchestratorHarness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &orchestratorHarness{
		store:    newFakeStore(),
		mirror:   newFakeMirror(),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		auditor:  &fakeAuditor{},
		metrics:  monitoring.NewMetrics(prometheus.NewRegistry()),
	}
	h.store.seed(testKey, capacity)
	h.svc = NewBookingOrchestratorService(h.store, h.mirror, h.gateway, h.notifier, h.auditor, h.metrics,
		DefaultOrchestratorConfig(), logger)
	return h
}

func bookingRequest(userID string) *models.CreateBookingRequest {
	return &models.CreateBookingRequest{
		UserID:         userID,
		TrainID:        testKey.TrainID,
		TravelDate:     testKey.TravelDate,
		Passenger:      models.Passenger{Name: "Asha Perera", Age: 34, Gender: "F"},
		SeatPreference: "window",
		Fare:           decimal.NewFromInt(500),
		Contact:        models.Contact{Email: "asha@example.lk", Phone: "077 123 4567"},
	}
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateBooking_HappyPathThenSoldOut(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	result, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, result.Status)
	require.NotNil(t, result.PaymentReference)
	assert.Equal(t, "TXN-"+result.ReservationCode, *result.PaymentReference)
	assert.True(t, result.MirrorSynced)
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, 1, h.gateway.calls[result.ReservationCode])

	_, err = h.svc.CreateBooking(ctx, bookingRequest("user-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeatsUnavailable)
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, 1, h.gateway.totalCalls(), "sold out requests never reach the gateway")
}

func TestCreateBooking_ConcurrentRequestsNeverOversell(t *testing.T) {
	const capacity = 5
	const requests = 40
	h := newHarness(t, capacity)

	var wg sync.WaitGroup
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.CreateBooking(context.Background(), bookingRequest(fmt.Sprintf("user-%d", i)))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrSeatsUnavailable)
	}
	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, capacity, h.store.bookingCount())
}

func TestCreateBooking_PaymentDeclineRollsBack(t *testing.T) {
	h := newHarness(t, 3)
	h.gateway.decline = true

	_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Contains(t, err.Error(), "card declined")

	assert.Equal(t, 3, h.store.seats(testKey))
	assert.Zero(t, h.store.bookingCount())
	assert.Empty(t, h.mirror.records)
	assert.Empty(t, h.notifier.kinds())
	assert.Equal(t, []models.PaymentEventType{models.PaymentEventDeclined}, h.auditor.events())
}

func TestCreateBooking_PaymentTimeoutIsPaymentFailure(t *testing.T) {
	h := newHarness(t, 1)
	h.gateway.block = true
	h.svc.config.PaymentTimeout = 20 * time.Millisecond

	_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Contains(t, err.Error(), "payment gateway timeout")
	assert.Equal(t, 1, h.store.seats(testKey))
	assert.Zero(t, h.store.bookingCount())

	require.Len(t, h.auditor.entries, 1)
	assert.Equal(t, models.PaymentEventError, h.auditor.entries[0].EventType)
	assert.Equal(t, "payment gateway timeout", *h.auditor.entries[0].ErrorMessage)
}

func TestCreateBooking_GatewayErrorIsPaymentFailure(t *testing.T) {
	h := newHarness(t, 1)
	h.gateway.err = errors.New("payment gateway returned 502")

	_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Equal(t, 1, h.store.seats(testKey))
}

func TestCreateBooking_DeferPaymentSkipsGateway(t *testing.T) {
	h := newHarness(t, 1)
	req := bookingRequest("user-1")
	req.DeferPayment = true

	result, err := h.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, result.Status)
	assert.Nil(t, result.PaymentReference)
	assert.Zero(t, h.gateway.totalCalls())
	assert.Empty(t, h.auditor.events())
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, []models.EventKind{models.EventBookingPending}, h.notifier.kinds())
}

func TestCreateBooking_MirrorRoundTrip(t *testing.T) {
	h := newHarness(t, 1)
	req := bookingRequest("user-1")

	result, err := h.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	record, err := h.svc.GetBooking(context.Background(), result.ReservationCode, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, record.Status)
	assert.True(t, req.Fare.Equal(record.Fare))
	assert.Equal(t, req.Passenger, record.Passenger)
	assert.Equal(t, "0771234567", record.Contact.Phone)
	assert.Equal(t, "Udarata Menike", record.Schedule.TrainName)
	assert.Equal(t, models.BookingStatusConfirmed, h.mirror.sessions[result.ReservationCode])
}

func TestCreateBooking_MirrorFailureIsDegradedSuccess(t *testing.T) {
	h := newHarness(t, 1)
	h.mirror.putErr = errors.New("redis: connection refused")

	result, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.NoError(t, err)
	assert.False(t, result.MirrorSynced)
	assert.NotNil(t, h.store.booking(result.ReservationCode))
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.MirrorFailures.WithLabelValues("create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.BookingOperations.WithLabelValues("create", "degraded")))
}

func TestCreateBooking_NotificationFailureDoesNotFail(t *testing.T) {
	h := newHarness(t, 1)

	result, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, result.Status)
	assert.Equal(t, []models.EventKind{models.EventBookingConfirmed}, h.notifier.kinds())
}

func TestCreateBooking_CommitFailureAfterPayment(t *testing.T) {
	h := newHarness(t, 1)
	h.store.failCommit = errors.New("connection reset by peer")

	_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfrastructure)
	assert.Equal(t, 1, h.store.seats(testKey))
	assert.Zero(t, h.store.bookingCount())
	assert.Empty(t, h.mirror.records)

	assert.Equal(t,
		[]models.PaymentEventType{models.PaymentEventCaptured, models.PaymentEventRefundRequired},
		h.auditor.events())
	refund := h.auditor.entries[1]
	require.NotNil(t, refund.GatewayReference)
	assert.Equal(t, "TXN-"+refund.ReservationCode, *refund.GatewayReference)
	assert.True(t, decimal.NewFromInt(500).Equal(refund.Amount))
	assert.Contains(t, *refund.ErrorMessage, "connection reset by peer")
}

func TestCreateBooking_TransactionTimeoutRollsBack(t *testing.T) {
	h := newHarness(t, 1)
	h.store.commitDelay = 5 * time.Second
	h.svc.config.TransactionTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, KindInfrastructure, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, h.store.seats(testKey))
	assert.Zero(t, h.store.bookingCount())
	assert.Empty(t, h.mirror.records)
	assert.Empty(t, h.notifier.kinds())

	// the charge went through before the deadline, so it is flagged for refund
	assert.Equal(t,
		[]models.PaymentEventType{models.PaymentEventCaptured, models.PaymentEventRefundRequired},
		h.auditor.events())
}

func TestCreateBooking_LockWaitTimeoutNeverCharges(t *testing.T) {
	h := newHarness(t, 1)
	h.svc.config.TransactionTimeout = 50 * time.Millisecond

	release := h.store.holdRow(testKey)
	_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	release()

	require.Error(t, err)
	assert.Equal(t, KindInfrastructure, KindOf(err))
	assert.Zero(t, h.gateway.totalCalls())
	assert.Equal(t, 1, h.store.seats(testKey))
	assert.Zero(t, h.store.bookingCount())
	assert.Empty(t, h.auditor.events())
}

func TestCreateBooking_DifferentSchedulesDoNotContend(t *testing.T) {
	h := newHarness(t, 1)
	otherKey := models.ScheduleKey{TrainID: 8, TravelDate: testKey.TravelDate}
	h.store.seed(otherKey, 1)

	release := h.store.holdRow(testKey)

	other := bookingRequest("user-2")
	other.TrainID = otherKey.TrainID
	otherDone := make(chan error, 1)
	go func() {
		_, err := h.svc.CreateBooking(context.Background(), other)
		otherDone <- err
	}()

	select {
	case err := <-otherDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		release()
		t.Fatal("create on an unlocked schedule waited for another schedule's lock")
	}
	assert.Equal(t, 0, h.store.seats(otherKey))

	// the same schedule does wait
	sameDone := make(chan error, 1)
	go func() {
		_, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
		sameDone <- err
	}()

	select {
	case <-sameDone:
		t.Fatal("create on a locked schedule did not wait for the lock")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-sameDone)
	assert.Equal(t, 0, h.store.seats(testKey))
}

func TestCancelBooking_TransactionTimeoutKeepsBooking(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	h.svc.config.TransactionTimeout = 50 * time.Millisecond
	release := h.store.holdRow(testKey)
	_, err = h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	release()

	require.Error(t, err)
	assert.Equal(t, KindInfrastructure, KindOf(err))
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, models.BookingStatusConfirmed, h.store.booking(created.ReservationCode).Status)
	assert.Equal(t, models.BookingStatusConfirmed, h.mirror.record(created.ReservationCode).Status)
}

func TestCreateBooking_AuditsCapturedCharge(t *testing.T) {
	h := newHarness(t, 1)

	result, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.NoError(t, err)

	require.Len(t, h.auditor.entries, 1)
	entry := h.auditor.entries[0]
	assert.Equal(t, models.PaymentEventCaptured, entry.EventType)
	assert.Equal(t, result.ReservationCode, entry.ReservationCode)
	assert.Equal(t, "user-1", entry.UserID)
	assert.Equal(t, "fake", entry.Gateway)
	assert.Equal(t, *result.PaymentReference, *entry.GatewayReference)
}

func TestCreateBooking_AuditFailureDoesNotFail(t *testing.T) {
	h := newHarness(t, 1)
	h.auditor.err = errors.New("payment_audits: relation does not exist")

	result, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, result.Status)
}

func TestCreateBooking_RegeneratesCollidingCode(t *testing.T) {
	h := newHarness(t, 2)
	codes := []string{"AAAAAAAAAA", "AAAAAAAAAA", "BBBBBBBBBB"}
	h.svc.newCode = func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	first, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-1"))
	require.NoError(t, err)
	second, err := h.svc.CreateBooking(context.Background(), bookingRequest("user-2"))
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAAAAA", first.ReservationCode)
	assert.Equal(t, "BBBBBBBBBB", second.ReservationCode)
	assert.Equal(t, "user-1", h.store.booking("AAAAAAAAAA").UserID)
}

func TestCreateBooking_ScheduleNotFound(t *testing.T) {
	h := newHarness(t, 1)
	req := bookingRequest("user-1")
	req.TravelDate = "2025-03-02"

	_, err := h.svc.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.Zero(t, h.gateway.totalCalls())
}

func TestCreateBooking_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *models.CreateBookingRequest)
	}{
		{"missing user", func(r *models.CreateBookingRequest) { r.UserID = "" }},
		{"bad date", func(r *models.CreateBookingRequest) { r.TravelDate = "01/03/2025" }},
		{"zero fare", func(r *models.CreateBookingRequest) { r.Fare = decimal.Zero }},
		{"missing passenger", func(r *models.CreateBookingRequest) { r.Passenger.Name = " " }},
		{"bad phone", func(r *models.CreateBookingRequest) { r.Contact.Phone = "0731234567" }},
		{"bad email", func(r *models.CreateBookingRequest) { r.Contact.Email = "asha" }},
		{"long user id", func(r *models.CreateBookingRequest) { r.UserID = strings.Repeat("u", 80) }},
		{"long passenger name", func(r *models.CreateBookingRequest) { r.Passenger.Name = strings.Repeat("a", 150) }},
		{"long gender", func(r *models.CreateBookingRequest) { r.Passenger.Gender = "prefer not to say" }},
		{"long seat preference", func(r *models.CreateBookingRequest) { r.SeatPreference = strings.Repeat("w", 40) }},
		{"fare too large", func(r *models.CreateBookingRequest) { r.Fare = decimal.RequireFromString("12345678901.00") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, 1)
			req := bookingRequest("user-1")
			tc.mutate(req)

			_, err := h.svc.CreateBooking(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Zero(t, h.gateway.totalCalls())
			assert.Equal(t, 1, h.store.seats(testKey))
		})
	}
}

// ============================================================================
// CANCEL
// ============================================================================

func TestCancelBooking_ReleasesCapacity(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	cancelled, err := h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.MirrorSynced)
	assert.Equal(t, 1, h.store.seats(testKey))
	assert.Equal(t, models.BookingStatusCancelled, h.store.booking(created.ReservationCode).Status)
	assert.Equal(t, models.BookingStatusCancelled, h.mirror.record(created.ReservationCode).Status)

	_, err = h.svc.CreateBooking(ctx, bookingRequest("user-2"))
	require.NoError(t, err)
	assert.Equal(t, 0, h.store.seats(testKey))

	assert.Equal(t, []models.EventKind{
		models.EventBookingConfirmed,
		models.EventBookingCancelled,
		models.EventBookingConfirmed,
	}, h.notifier.kinds())
}

func TestCancelBooking_SecondCancelIsRejected(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	_, err = h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	require.NoError(t, err)
	_, err = h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)

	assert.Equal(t, 2, h.store.seats(testKey))
}

func TestCancelBooking_StaleMirrorRevalidatedByCanonicalStore(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	// canonical row cancelled behind the mirror's back
	h.store.mu.Lock()
	at := time.Now()
	h.store.bookings[created.ReservationCode].Status = models.BookingStatusCancelled
	h.store.bookings[created.ReservationCode].CancelledAt = &at
	h.store.mu.Unlock()

	_, err = h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.Equal(t, 1, h.store.seats(testKey))
}

func TestCancelBooking_Forbidden(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	_, err = h.svc.CancelBooking(ctx, created.ReservationCode, "user-2")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, h.store.seats(testKey))
	assert.Equal(t, models.BookingStatusConfirmed, h.store.booking(created.ReservationCode).Status)
}

func TestCancelBooking_NotFound(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.svc.CancelBooking(context.Background(), "ZZZZZZZZZZ", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelBooking_MirrorUnavailableFallsBackToCanonical(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	h.mirror.getErr = errors.New("i/o timeout")
	delete(h.mirror.records, created.ReservationCode)

	_, err = h.svc.CancelBooking(ctx, "user-2-not-owner", "user-2")
	assert.ErrorIs(t, err, ErrNotFound)

	result, err := h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	require.NoError(t, err)
	assert.True(t, result.MirrorSynced)
	assert.Equal(t, 1, h.store.seats(testKey))

	record := h.mirror.record(created.ReservationCode)
	require.NotNil(t, record, "missing mirror record is rewritten from the canonical row")
	assert.Equal(t, models.BookingStatusCancelled, record.Status)
}

func TestCancelBooking_MirrorUpdateFailureIsDegradedSuccess(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)
	h.mirror.updateErr = errors.New("redis: connection pool timeout")

	result, err := h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	require.NoError(t, err)
	assert.False(t, result.MirrorSynced)
	assert.Equal(t, 1, h.store.seats(testKey))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.MirrorFailures.WithLabelValues("cancel")))
}

func TestCancelBooking_PendingBooking(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	req := bookingRequest("user-1")
	req.DeferPayment = true

	created, err := h.svc.CreateBooking(ctx, req)
	require.NoError(t, err)

	_, err = h.svc.CancelBooking(ctx, created.ReservationCode, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.seats(testKey))
}

// ============================================================================
// READS
// ============================================================================

func TestListBookings_NewestFirst(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()

	var codes []string
	for i := 0; i < 2; i++ {
		result, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
		require.NoError(t, err)
		codes = append(codes, result.ReservationCode)
		time.Sleep(2 * time.Millisecond)
	}
	_, err := h.svc.CreateBooking(ctx, bookingRequest("user-2"))
	require.NoError(t, err)

	bookings, err := h.svc.ListBookings(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, codes[1], bookings[0].ReservationCode)
	assert.Equal(t, codes[0], bookings[1].ReservationCode)
}

func TestGetBooking_OwnerOnly(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	created, err := h.svc.CreateBooking(ctx, bookingRequest("user-1"))
	require.NoError(t, err)

	_, err = h.svc.GetBooking(ctx, created.ReservationCode, "user-2")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.GetBooking(ctx, "NOPE", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
