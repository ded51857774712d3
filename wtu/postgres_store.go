package wtu

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store backing production deployments.
// InMemoryStore above implements the full API contract; this type backs
// it with real tables so balances and reservations survive restarts.
type PostgresStore struct {
	pool         *pgxpool.Pool
	defaultQuota int
}

// NewPostgresStore wraps an existing pool. Callers are expected to have
// already applied the orchestrator's schema migrations (wtu_balances,
// wtu_reservations, wtu_purchases tables) before passing the pool in.
func NewPostgresStore(pool *pgxpool.Pool, defaultQuota int) *PostgresStore {
	return &PostgresStore{pool: pool, defaultQuota: defaultQuota}
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (Balance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, plan_month, monthly_quota_wtu, consumed_wtu, reset_at
		FROM wtu_balances WHERE user_id = $1`, userID)

	var bal Balance
	err := row.Scan(&bal.UserID, &bal.PlanMonth, &bal.MonthlyQuotaWTU, &bal.ConsumedWTU, &bal.ResetAt)
	now := time.Now().UTC()
	if err != nil {
		// No row yet: seed an in-memory default without writing it, mirroring
		// InMemoryStore's lazy-seed behavior so both stores have identical
		// first-touch semantics.
		return freshBalance(userID, s.defaultQuota, now), nil
	}

	rolled := rolloverIfNeeded(bal, s.defaultQuota, now)
	if rolled.PlanMonth != bal.PlanMonth {
		if err := s.SaveBalance(ctx, rolled); err != nil {
			return Balance{}, err
		}
	}
	return rolled, nil
}

func (s *PostgresStore) SaveBalance(ctx context.Context, bal Balance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wtu_balances (user_id, plan_month, monthly_quota_wtu, consumed_wtu, reset_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			plan_month = EXCLUDED.plan_month,
			monthly_quota_wtu = EXCLUDED.monthly_quota_wtu,
			consumed_wtu = EXCLUDED.consumed_wtu,
			reset_at = EXCLUDED.reset_at`,
		bal.UserID, bal.PlanMonth, bal.MonthlyQuotaWTU, bal.ConsumedWTU, bal.ResetAt)
	return err
}

func (s *PostgresStore) SaveReservation(ctx context.Context, r Reservation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wtu_reservations (id, user_id, plan_month, amount, created_at, settled)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, r.PlanMonth, r.Amount, r.CreatedAt, r.Settled)
	return err
}

func (s *PostgresStore) GetReservation(ctx context.Context, id string) (Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, plan_month, amount, created_at, settled
		FROM wtu_reservations WHERE id = $1`, id)

	var r Reservation
	if err := row.Scan(&r.ID, &r.UserID, &r.PlanMonth, &r.Amount, &r.CreatedAt, &r.Settled); err != nil {
		return Reservation{}, ErrReservationNotFound
	}
	return r, nil
}

func (s *PostgresStore) SettleReservation(ctx context.Context, id string, actualAmount int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var r Reservation
	err = tx.QueryRow(ctx, `
		SELECT id, user_id, plan_month, amount, created_at, settled
		FROM wtu_reservations WHERE id = $1 FOR UPDATE`, id).
		Scan(&r.ID, &r.UserID, &r.PlanMonth, &r.Amount, &r.CreatedAt, &r.Settled)
	if err != nil {
		return ErrReservationNotFound
	}
	if r.Settled {
		return ErrReservationAlreadySettled
	}

	delta := actualAmount - r.Amount
	if _, err := tx.Exec(ctx, `
		INSERT INTO wtu_balances (user_id, plan_month, monthly_quota_wtu, consumed_wtu, reset_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			consumed_wtu = wtu_balances.consumed_wtu + $4
		WHERE wtu_balances.plan_month = $2`,
		r.UserID, r.PlanMonth, s.defaultQuota, delta, nextMonthBoundary(time.Now().UTC())); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE wtu_reservations SET settled = true, amount = $2 WHERE id = $1`,
		id, actualAmount); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteReservation(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM wtu_reservations WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) AppendPurchase(ctx context.Context, p PurchaseEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wtu_purchases (id, user_id, plan_month, amount, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.UserID, p.PlanMonth, p.Amount, p.Reason, p.CreatedAt)
	return err
}

func (s *PostgresStore) ListPurchases(ctx context.Context, userID string) ([]PurchaseEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, plan_month, amount, reason, created_at
		FROM wtu_purchases WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PurchaseEvent
	for rows.Next() {
		var p PurchaseEvent
		if err := rows.Scan(&p.ID, &p.UserID, &p.PlanMonth, &p.Amount, &p.Reason, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
