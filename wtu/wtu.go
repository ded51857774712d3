// Package wtu implements the Weighted Token Unit accountant (spec §4.2,
// C2): converting raw token counts into WTU, and reserve-then-settle
// quota accounting against a per-user monthly budget.
package wtu

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// accountingError is a sentinel error, matching the teacher's
// metering.meteringError string-type pattern.
type accountingError string

func (e accountingError) Error() string { return string(e) }

const (
	ErrReservationNotFound      accountingError = "wtu: reservation not found"
	ErrReservationAlreadySettled accountingError = "wtu: reservation already settled"
	ErrUnknownUser              accountingError = "wtu: unknown user"
)

// QuotaExceeded is returned by TryConsume when a user's remaining balance
// is smaller than the amount requested. Callers inspect it via errors.As
// to report Needed/Remaining back to API clients.
type QuotaExceeded struct {
	Needed    int
	Remaining int
}

func (e *QuotaExceeded) Error() string {
	return "wtu: quota exceeded"
}

// ComputeWTU converts input/output token counts into a WTU charge using
// the catalog's per-model multipliers. The formula and the "unknown
// model falls back to (1.0, 1.0) with a warning" behavior are taken
// byte-for-byte from the original Python implementation:
//
//	wtu = max(1, ceil(in_tokens/1000*input_mult + out_tokens/1000*output_mult))
func ComputeWTU(inputTokens, outputTokens int, inputMultiplier, outputMultiplier float64) int {
	raw := float64(inputTokens)/1000.0*inputMultiplier + float64(outputTokens)/1000.0*outputMultiplier
	wtu := int(math.Ceil(raw))
	if wtu < 1 {
		wtu = 1
	}
	return wtu
}

// MultiplierLookup resolves a model alias to its WTU multipliers. The
// catalog package satisfies this narrow interface; wtu does not import
// catalog directly to keep the dependency edge one-directional per the
// spec's leaves-first build order.
type MultiplierLookup interface {
	LookupMultipliers(ctx context.Context, alias string) (inputMult, outputMult float64, found bool)
}

// Balance is a user's WTU quota state for one plan month, mirroring the
// original's plan_month-keyed UserTokenQuota row (spec §3/§4.2). ResetAt
// marks the start of the next plan month; GetBalance rolls a stale
// Balance over to a fresh one once now reaches ResetAt, the Go analog
// of the original provisioning a new plan_month row.
type Balance struct {
	UserID          string
	PlanMonth       string // "2006-01", UTC
	MonthlyQuotaWTU int
	ConsumedWTU     int
	ResetAt         time.Time
}

func (b Balance) Remaining() int {
	remaining := b.MonthlyQuotaWTU - b.ConsumedWTU
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reservation is a pending, not-yet-settled WTU hold created by
// TryConsume. RecordUsage settles it with the actual token-derived cost,
// which may differ from the pre-call estimate. PlanMonth pins it to the
// balance row it was reserved against: a settlement that lands after a
// month rollover leaves the new month's balance unchanged, since the
// reserved month's row has already been replaced.
type Reservation struct {
	ID        string
	UserID    string
	PlanMonth string
	Amount    int
	CreatedAt time.Time
	Settled   bool
}

// PurchaseEvent is an append-only ledger row recording one quota grant
// (a plan renewal, an admin top-up, a paid purchase). AddQuota appends
// one on every call; nothing ever mutates or removes a row, so the
// ledger can always be replayed to audit a balance.
type PurchaseEvent struct {
	ID        string
	UserID    string
	PlanMonth string
	Amount    int
	Reason    string
	CreatedAt time.Time
}

// Store is the persistence boundary for balances, reservations, and the
// purchase ledger. The in-memory implementation below provides the full
// API contract; production deployments back it with Postgres (see
// PostgresStore), mirroring the teacher's own documented
// pattern for its metering.ReservationStore.
type Store interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
	SaveBalance(ctx context.Context, bal Balance) error
	SaveReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	SettleReservation(ctx context.Context, id string, actualAmount int) error
	DeleteReservation(ctx context.Context, id string) error
	AppendPurchase(ctx context.Context, p PurchaseEvent) error
	ListPurchases(ctx context.Context, userID string) ([]PurchaseEvent, error)
}

// InMemoryStore is a mutex-guarded Store suitable for tests and for
// single-instance deployments that accept losing quota state on restart.
type InMemoryStore struct {
	mu           sync.RWMutex
	balances     map[string]Balance
	reservations map[string]Reservation
	purchases    map[string][]PurchaseEvent
	defaultQuota int
}

// NewInMemoryStore creates a Store with defaultQuota applied to any user
// seen for the first time.
func NewInMemoryStore(defaultQuota int) *InMemoryStore {
	return &InMemoryStore{
		balances:     make(map[string]Balance),
		reservations: make(map[string]Reservation),
		purchases:    make(map[string][]PurchaseEvent),
		defaultQuota: defaultQuota,
	}
}

func (s *InMemoryStore) AppendPurchase(ctx context.Context, p PurchaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[p.UserID] = append(s.purchases[p.UserID], p)
	return nil
}

func (s *InMemoryStore) ListPurchases(ctx context.Context, userID string) ([]PurchaseEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PurchaseEvent, len(s.purchases[userID]))
	copy(out, s.purchases[userID])
	return out, nil
}

func (s *InMemoryStore) GetBalance(ctx context.Context, userID string) (Balance, error) {
	now := time.Now().UTC()

	s.mu.RLock()
	bal, ok := s.balances[userID]
	s.mu.RUnlock()
	if !ok {
		return freshBalance(userID, s.defaultQuota, now), nil
	}

	rolled := rolloverIfNeeded(bal, s.defaultQuota, now)
	if rolled.PlanMonth != bal.PlanMonth {
		s.mu.Lock()
		s.balances[userID] = rolled
		s.mu.Unlock()
	}
	return rolled, nil
}

func (s *InMemoryStore) SaveBalance(ctx context.Context, bal Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[bal.UserID] = bal
	return nil
}

func (s *InMemoryStore) SaveReservation(ctx context.Context, r Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
	return nil
}

func (s *InMemoryStore) GetReservation(ctx context.Context, id string) (Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

func (s *InMemoryStore) SettleReservation(ctx context.Context, id string, actualAmount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	if r.Settled {
		return ErrReservationAlreadySettled
	}

	now := time.Now().UTC()
	bal, ok := s.balances[r.UserID]
	if !ok {
		bal = freshBalance(r.UserID, s.defaultQuota, now)
	} else {
		bal = rolloverIfNeeded(bal, s.defaultQuota, now)
	}
	// Reconcile the reserved estimate against the actual settled amount:
	// only the delta (actual - reserved) still needs to be applied, since
	// the reservation amount was already provisionally counted as consumed.
	delta := actualAmount - r.Amount
	if bal.PlanMonth == r.PlanMonth {
		bal.ConsumedWTU += delta
	}
	s.balances[r.UserID] = bal

	r.Settled = true
	r.Amount = actualAmount
	s.reservations[id] = r
	return nil
}

func (s *InMemoryStore) DeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, id)
	return nil
}

func nextMonthBoundary(from time.Time) time.Time {
	return time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// planMonthKey formats t as the "2006-01" plan-month identifier stored
// on Balance/Reservation/PurchaseEvent rows.
func planMonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// freshBalance is a brand-new plan-month row: zero consumption, the
// store's default quota, rolling over at the start of the following
// month.
func freshBalance(userID string, defaultQuota int, now time.Time) Balance {
	return Balance{
		UserID:          userID,
		PlanMonth:       planMonthKey(now),
		MonthlyQuotaWTU: defaultQuota,
		ResetAt:         nextMonthBoundary(now),
	}
}

// rolloverIfNeeded enforces the per-(user_id, month) accounting
// boundary: once now reaches a Balance's ResetAt, it is stale and is
// replaced with a fresh plan-month row rather than continuing to
// accumulate consumption into the month that already ended.
func rolloverIfNeeded(bal Balance, defaultQuota int, now time.Time) Balance {
	if bal.ResetAt.IsZero() || now.Before(bal.ResetAt) {
		return bal
	}
	return freshBalance(bal.UserID, defaultQuota, now)
}

// keyedMutex serializes operations per user so a check-then-act
// sequence like TryConsume's CanConsume+SaveBalance can't race with
// itself across two concurrent requests for the same user and leak
// quota. Adapted from the teacher's middleware KeyedMutex, moved here
// since the serialization this protects is an accounting invariant,
// not an HTTP-layer concern.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu      sync.Mutex
	waiters int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*userLock)}
}

func (km *keyedMutex) Lock(key string) func() {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &userLock{}
		km.locks[key] = entry
	}
	entry.waiters++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		km.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

// Accountant is the C2 WTU Accountant: the single point through which
// every caller computes, reserves, and settles WTU charges.
type Accountant struct {
	logger   zerolog.Logger
	store    Store
	catalog  MultiplierLookup
	userLock *keyedMutex
}

// NewAccountant wires a Store and a catalog-backed multiplier lookup.
func NewAccountant(logger zerolog.Logger, store Store, catalog MultiplierLookup) *Accountant {
	return &Accountant{
		logger:   logger.With().Str("component", "wtu_accountant").Logger(),
		store:    store,
		catalog:  catalog,
		userLock: newKeyedMutex(),
	}
}

// ComputeWTUForAlias resolves alias's multipliers via the catalog and
// computes the WTU charge. An unresolved alias falls back to (1.0, 1.0)
// multipliers and logs a warning, matching the original implementation.
func (a *Accountant) ComputeWTUForAlias(ctx context.Context, alias string, inputTokens, outputTokens int) int {
	inputMult, outputMult := 1.0, 1.0
	if a.catalog != nil {
		if im, om, found := a.catalog.LookupMultipliers(ctx, alias); found {
			inputMult, outputMult = im, om
		} else {
			a.logger.Warn().Str("alias", alias).Msg("unknown model alias, falling back to 1.0 WTU multipliers")
		}
	}
	return ComputeWTU(inputTokens, outputTokens, inputMult, outputMult)
}

// GetMonthlyWTU reports a user's WTU consumption so far this month,
// satisfying mode.MonthlyWTULookup for the Mode Selector's
// budget-headroom scoring term.
func (a *Accountant) GetMonthlyWTU(ctx context.Context, userID string) (float64, error) {
	bal, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return float64(bal.ConsumedWTU), nil
}

// CanConsume reports whether a user's remaining balance covers amount,
// without reserving anything.
func (a *Accountant) CanConsume(ctx context.Context, userID string, amount int) (bool, int, error) {
	bal, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	remaining := bal.Remaining()
	return remaining >= amount, remaining, nil
}

// TryConsume atomically reserves amount against a user's balance,
// returning a reservation ID to later settle via RecordUsage. If the
// reservation is never settled or refunded, it leaves the provisional
// charge in place; callers must always follow up with RecordUsage or
// Refund.
func (a *Accountant) TryConsume(ctx context.Context, userID string, amount int) (string, error) {
	unlock := a.userLock.Lock(userID)
	defer unlock()

	ok, remaining, err := a.CanConsume(ctx, userID, amount)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &QuotaExceeded{Needed: amount, Remaining: remaining}
	}

	bal, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return "", err
	}
	bal.ConsumedWTU += amount
	if err := a.store.SaveBalance(ctx, bal); err != nil {
		return "", err
	}

	res := Reservation{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanMonth: bal.PlanMonth,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveReservation(ctx, res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// RecordUsage settles a reservation with the actual WTU cost computed
// from the call's real token counts, reconciling any difference between
// the pre-call estimate and the true charge.
func (a *Accountant) RecordUsage(ctx context.Context, reservationID string, actualWTU int) error {
	return a.store.SettleReservation(ctx, reservationID, actualWTU)
}

// Refund releases a reservation's provisional charge entirely, for when
// a call fails after reservation but before any tokens were produced.
func (a *Accountant) Refund(ctx context.Context, reservationID string) error {
	res, err := a.store.GetReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.Settled {
		return ErrReservationAlreadySettled
	}
	if err := a.store.SettleReservation(ctx, reservationID, 0); err != nil {
		return err
	}
	return a.store.DeleteReservation(ctx, reservationID)
}

// ChargeActual reserves and immediately settles amount in one step, for
// callers that only learn the true WTU cost after a call has already
// completed (e.g. the Summarization Pipeline, which knows input/output
// tokens only once the LLM response is back).
func (a *Accountant) ChargeActual(ctx context.Context, userID string, amount int) error {
	resID, err := a.TryConsume(ctx, userID, amount)
	if err != nil {
		return err
	}
	return a.RecordUsage(ctx, resID, amount)
}

// AddQuota increases a user's monthly quota (e.g. a plan upgrade or
// admin grant) and appends a PurchaseEvent to the audit ledger.
func (a *Accountant) AddQuota(ctx context.Context, userID string, amount int, reason string) error {
	unlock := a.userLock.Lock(userID)
	defer unlock()

	bal, err := a.store.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	bal.MonthlyQuotaWTU += amount
	if err := a.store.SaveBalance(ctx, bal); err != nil {
		return err
	}
	return a.store.AppendPurchase(ctx, PurchaseEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanMonth: bal.PlanMonth,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
}

// ListPurchases returns a user's quota-grant audit trail in insertion
// order.
func (a *Accountant) ListPurchases(ctx context.Context, userID string) ([]PurchaseEvent, error) {
	return a.store.ListPurchases(ctx, userID)
}

// IsQuotaExceeded reports whether err is a QuotaExceeded.
func IsQuotaExceeded(err error) (*QuotaExceeded, bool) {
	var qe *QuotaExceeded
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
