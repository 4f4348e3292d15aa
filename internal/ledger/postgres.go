package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the ledger in PostgreSQL. Rows read inside a
// transaction are locked with FOR UPDATE so concurrent operations against
// the same membership, treasury, pool or loan serialize instead of losing
// updates.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunInTransaction applies fn inside one database transaction.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(&postgresTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type postgresTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *postgresTx) Membership(circleID, userID string) (Membership, error) {
	const query = `SELECT circle_id, user_id, balance, created_at
        FROM memberships WHERE circle_id = $1 AND user_id = $2 FOR UPDATE`
	var m Membership
	err := t.tx.QueryRow(t.ctx, query, circleID, userID).Scan(&m.CircleID, &m.UserID, &m.Balance, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, fmt.Errorf("membership %s/%s: %w", circleID, userID, ErrNotFound)
		}
		return Membership{}, err
	}
	return m, nil
}

func (t *postgresTx) Memberships(circleID string) ([]Membership, error) {
	const query = `SELECT circle_id, user_id, balance, created_at
        FROM memberships WHERE circle_id = $1 ORDER BY user_id`
	rows, err := t.tx.Query(t.ctx, query, circleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.CircleID, &m.UserID, &m.Balance, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *postgresTx) EnsureMembership(circleID, userID string) (Membership, error) {
	const query = `INSERT INTO memberships (circle_id, user_id, balance, created_at)
        VALUES ($1, $2, 0, $3)
        ON CONFLICT (circle_id, user_id) DO NOTHING`
	if _, err := t.tx.Exec(t.ctx, query, circleID, userID, time.Now().UTC()); err != nil {
		return Membership{}, err
	}
	return t.Membership(circleID, userID)
}

func (t *postgresTx) AdjustMembership(circleID, userID string, delta int64) (int64, error) {
	const query = `UPDATE memberships SET balance = balance + $3
        WHERE circle_id = $1 AND user_id = $2 RETURNING balance`
	var balance int64
	err := t.tx.QueryRow(t.ctx, query, circleID, userID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("membership %s/%s: %w", circleID, userID, ErrNotFound)
		}
		return 0, err
	}
	return balance, nil
}

func (t *postgresTx) Treasury(circleID string) (Treasury, error) {
	const query = `SELECT circle_id, balance, reserved FROM treasuries
        WHERE circle_id = $1 FOR UPDATE`
	var treasury Treasury
	err := t.tx.QueryRow(t.ctx, query, circleID).Scan(&treasury.CircleID, &treasury.Balance, &treasury.Reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Treasury{CircleID: circleID}, nil
		}
		return Treasury{}, err
	}
	return treasury, nil
}

func (t *postgresTx) ensureTreasury(circleID string) error {
	const query = `INSERT INTO treasuries (circle_id, balance, reserved)
        VALUES ($1, 0, 0) ON CONFLICT (circle_id) DO NOTHING`
	_, err := t.tx.Exec(t.ctx, query, circleID)
	return err
}

func (t *postgresTx) AdjustTreasury(circleID string, delta int64) (int64, error) {
	if err := t.ensureTreasury(circleID); err != nil {
		return 0, err
	}
	const query = `UPDATE treasuries SET balance = balance + $2
        WHERE circle_id = $1 RETURNING balance`
	var balance int64
	if err := t.tx.QueryRow(t.ctx, query, circleID, delta).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (t *postgresTx) ReserveTreasury(circleID string, delta int64) error {
	if err := t.ensureTreasury(circleID); err != nil {
		return err
	}
	const query = `UPDATE treasuries SET reserved = reserved + $2 WHERE circle_id = $1`
	_, err := t.tx.Exec(t.ctx, query, circleID, delta)
	return err
}

func (t *postgresTx) Pool(circleID string) (InsurancePool, error) {
	const query = `SELECT circle_id, balance FROM insurance_pools
        WHERE circle_id = $1 FOR UPDATE`
	var pool InsurancePool
	err := t.tx.QueryRow(t.ctx, query, circleID).Scan(&pool.CircleID, &pool.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InsurancePool{CircleID: circleID}, nil
		}
		return InsurancePool{}, err
	}
	return pool, nil
}

func (t *postgresTx) AdjustPool(circleID string, delta int64) (int64, error) {
	const ensure = `INSERT INTO insurance_pools (circle_id, balance)
        VALUES ($1, 0) ON CONFLICT (circle_id) DO NOTHING`
	if _, err := t.tx.Exec(t.ctx, ensure, circleID); err != nil {
		return 0, err
	}
	const query = `UPDATE insurance_pools SET balance = balance + $2
        WHERE circle_id = $1 RETURNING balance`
	var balance int64
	if err := t.tx.QueryRow(t.ctx, query, circleID, delta).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (t *postgresTx) Hold(circleID, referenceID string) (EscrowHold, error) {
	const query = `SELECT circle_id, reference_id, user_id, amount, locked_at
        FROM escrow_holds WHERE circle_id = $1 AND reference_id = $2 FOR UPDATE`
	var h EscrowHold
	err := t.tx.QueryRow(t.ctx, query, circleID, referenceID).Scan(&h.CircleID, &h.ReferenceID, &h.UserID, &h.Amount, &h.LockedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EscrowHold{}, fmt.Errorf("hold %s/%s: %w", circleID, referenceID, ErrNotFound)
		}
		return EscrowHold{}, err
	}
	return h, nil
}

func (t *postgresTx) Holds(circleID string) ([]EscrowHold, error) {
	const query = `SELECT circle_id, reference_id, user_id, amount, locked_at
        FROM escrow_holds WHERE circle_id = $1 ORDER BY reference_id FOR UPDATE`
	rows, err := t.tx.Query(t.ctx, query, circleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EscrowHold
	for rows.Next() {
		var h EscrowHold
		if err := rows.Scan(&h.CircleID, &h.ReferenceID, &h.UserID, &h.Amount, &h.LockedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *postgresTx) PutHold(h EscrowHold) error {
	const query = `INSERT INTO escrow_holds (circle_id, reference_id, user_id, amount, locked_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (circle_id, reference_id) DO NOTHING`
	tag, err := t.tx.Exec(t.ctx, query, h.CircleID, h.ReferenceID, h.UserID, h.Amount, h.LockedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("hold %s: %w", h.ReferenceID, ErrDuplicateReference)
	}
	return nil
}

func (t *postgresTx) ReduceHold(circleID, referenceID string, amount int64) error {
	hold, err := t.Hold(circleID, referenceID)
	if err != nil {
		return err
	}
	if hold.Amount < amount {
		return ErrHoldExceeded
	}
	if hold.Amount == amount {
		const del = `DELETE FROM escrow_holds WHERE circle_id = $1 AND reference_id = $2`
		_, err := t.tx.Exec(t.ctx, del, circleID, referenceID)
		return err
	}
	const update = `UPDATE escrow_holds SET amount = amount - $3
        WHERE circle_id = $1 AND reference_id = $2`
	_, err = t.tx.Exec(t.ctx, update, circleID, referenceID, amount)
	return err
}

const loanColumns = `id, circle_id, user_id, principal, fee, remaining, installment,
        payments_remaining, status, next_payment_due, issued_at,
        snapshot_age_days, snapshot_completion_rate, snapshot_dispute_rate, snapshot_vouches`

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.CircleID, &l.UserID, &l.Principal, &l.Fee, &l.Remaining,
		&l.Installment, &l.PaymentsRemaining, &l.Status, &l.NextPaymentDue, &l.IssuedAt,
		&l.Snapshot.AgeDays, &l.Snapshot.CompletionRate, &l.Snapshot.DisputeRate, &l.Snapshot.Vouches)
	return l, err
}

func (t *postgresTx) Loan(id string) (Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`
	loan, err := scanLoan(t.tx.QueryRow(t.ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return Loan{}, err
	}
	return loan, nil
}

func (t *postgresTx) ActiveLoan(circleID, userID string) (Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
        WHERE circle_id = $1 AND user_id = $2 AND status = $3 FOR UPDATE`
	loan, err := scanLoan(t.tx.QueryRow(t.ctx, query, circleID, userID, LoanActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, fmt.Errorf("active loan for %s/%s: %w", circleID, userID, ErrNotFound)
		}
		return Loan{}, err
	}
	return loan, nil
}

func (t *postgresTx) DueLoans(asOf time.Time) ([]Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
        WHERE status = $1 AND next_payment_due <= $2 ORDER BY id`
	rows, err := t.tx.Query(t.ctx, query, LoanActive, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, rows.Err()
}

func (t *postgresTx) CreateLoan(l Loan) error {
	query := `INSERT INTO loans (` + loanColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := t.tx.Exec(t.ctx, query, l.ID, l.CircleID, l.UserID, l.Principal, l.Fee,
		l.Remaining, l.Installment, l.PaymentsRemaining, l.Status, l.NextPaymentDue, l.IssuedAt,
		l.Snapshot.AgeDays, l.Snapshot.CompletionRate, l.Snapshot.DisputeRate, l.Snapshot.Vouches)
	return err
}

func (t *postgresTx) UpdateLoan(l Loan) error {
	const query = `UPDATE loans SET remaining = $2, installment = $3,
        payments_remaining = $4, status = $5, next_payment_due = $6
        WHERE id = $1`
	tag, err := t.tx.Exec(t.ctx, query, l.ID, l.Remaining, l.Installment,
		l.PaymentsRemaining, l.Status, l.NextPaymentDue)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("loan %s: %w", l.ID, ErrNotFound)
	}
	return nil
}

func (t *postgresTx) AppendEntries(entries ...Entry) error {
	const query = `INSERT INTO ledger_entries
        (id, circle_id, entry_type, amount, from_user_id, to_user_id, reference_id, meta, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, e := range entries {
		meta, err := MarshalMeta(e.Meta)
		if err != nil {
			return err
		}
		if _, err := t.tx.Exec(t.ctx, query, e.ID, e.CircleID, e.Type, e.Amount,
			e.FromUserID, e.ToUserID, e.ReferenceID, meta, e.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (t *postgresTx) Entries(circleID string) ([]Entry, error) {
	const query = `SELECT id, circle_id, entry_type, amount, from_user_id, to_user_id, reference_id, meta, created_at
        FROM ledger_entries WHERE circle_id = $1 ORDER BY created_at, id`
	rows, err := t.tx.Query(t.ctx, query, circleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.CircleID, &e.Type, &e.Amount, &e.FromUserID, &e.ToUserID, &e.ReferenceID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Meta, err = UnmarshalMeta(meta); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
