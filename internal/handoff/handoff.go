// Package handoff persists confirmed appointment slots until they have been
// placed as orders with the backend.
package handoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/quickdrop-slots/internal/db"
	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/domain/order"
	"github.com/example/quickdrop-slots/internal/infrastructure/crypto"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StatusPending, StatusSubmitted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q: %w", s, internaltypes.ErrInvalidInput)
}

type Handoff struct {
	ID           uuid.UUID
	BusinessSlug string
	TenantID     string
	ItemID       string
	Quantity     int
	CustomerName string
	Notes        string
	// Appointment is "YYYY-MM-DDTHH:MM" as produced by the slot view.
	Appointment string

	Status        Status
	Attempts      int
	LastAttemptAt *time.Time
	LastError     *string
	OrderID       *string

	CreatedAt time.Time
}

func (h Handoff) Validate() error {
	if h.BusinessSlug == "" {
		return fmt.Errorf("business_slug required")
	}
	if h.ItemID == "" {
		return fmt.Errorf("item_id required")
	}
	if h.Quantity < 1 {
		return fmt.Errorf("quantity must be >= 1")
	}
	if strings.TrimSpace(h.CustomerName) == "" {
		return fmt.Errorf("customer_name required")
	}
	if _, _, err := h.Slot(); err != nil {
		return err
	}
	return nil
}

// Slot splits Appointment into its date and "HH:MM".
func (h Handoff) Slot() (date, clock string, err error) {
	d, c, ok := strings.Cut(h.Appointment, "T")
	if !ok {
		return "", "", fmt.Errorf("appointment %q: want YYYY-MM-DDTHH:MM", h.Appointment)
	}
	if _, err := availability.ParseDate(d, time.UTC); err != nil {
		return "", "", fmt.Errorf("appointment %q: %w", h.Appointment, err)
	}
	norm, ok := availability.NormalizeTime(c)
	if !ok || norm != c {
		return "", "", fmt.Errorf("appointment %q: want YYYY-MM-DDTHH:MM", h.Appointment)
	}
	return d, c, nil
}

// NextAttemptAt spaces retries out linearly by base.
func (h Handoff) NextAttemptAt(base time.Duration) time.Time {
	if h.LastAttemptAt == nil {
		return h.CreatedAt
	}
	return h.LastAttemptAt.Add(time.Duration(h.Attempts) * base)
}

// OrderRequest is the place-order payload for this handoff.
func (h Handoff) OrderRequest() order.Request {
	return order.Request{
		CustomerName:        h.CustomerName,
		AppointmentDateTime: h.Appointment,
		Notes:               h.Notes,
		DeliveryType:        "appointment",
		Items:               []order.Item{{ProductID: h.ItemID, Quantity: h.Quantity}},
	}
}

// Attempt is the outcome of one submission.
type Attempt struct {
	Success bool
	OrderID string
	Output  string
	Error   string
	// Final marks a failure that should not be retried.
	Final bool
}

// querier is satisfied by *db.DB.
type querier interface {
	ExecAffected(ctx context.Context, sql string, args ...any) (int64, error)
	QueryRow(ctx context.Context, sql string, args ...any) db.Row
	Query(ctx context.Context, sql string, args ...any) (db.Rows, error)
	InTx(ctx context.Context, fn func(db.Tx) error) error
}

type Repo struct {
	db   querier
	aead *crypto.AEAD
}

func NewRepo(d querier, aead *crypto.AEAD) *Repo { return &Repo{db: d, aead: aead} }

const columns = `id,business_slug,tenant_id,item_id,quantity,customer_name_enc,notes_enc,appointment_at,status,attempts,last_attempt_at,last_error,order_id,created_at`

// Create stores h as pending. A live handoff for the same slot yields
// ErrSlotBusy.
func (r *Repo) Create(ctx context.Context, h Handoff) (Handoff, error) {
	if err := h.Validate(); err != nil {
		return Handoff{}, fmt.Errorf("%w: %v", internaltypes.ErrInvalidInput, err)
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	name, err := r.aead.Seal(h.CustomerName, h.ID.String())
	if err != nil {
		return Handoff{}, err
	}
	notes, err := r.aead.Seal(h.Notes, h.ID.String())
	if err != nil {
		return Handoff{}, err
	}

	err = r.db.QueryRow(ctx, `
INSERT INTO appointment_handoffs(id,business_slug,tenant_id,item_id,quantity,customer_name_enc,notes_enc,appointment_at,status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending')
RETURNING created_at`,
		h.ID, h.BusinessSlug, h.TenantID, h.ItemID, h.Quantity, name, notes, h.Appointment,
	).Scan(&h.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Handoff{}, fmt.Errorf("handoff %s %s: %w", h.BusinessSlug, h.Appointment, internaltypes.ErrSlotBusy)
	}
	if err != nil {
		return Handoff{}, db.WrapNotFound(err)
	}
	h.Status = StatusPending
	return h, nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (Handoff, error) {
	row := r.db.QueryRow(ctx, `SELECT `+columns+` FROM appointment_handoffs WHERE id=$1`, id)
	h, err := r.scan(row)
	if err != nil {
		return Handoff{}, db.WrapNotFound(err)
	}
	return h, nil
}

// List returns the newest handoffs first; an empty status lists all.
func (r *Repo) List(ctx context.Context, status Status, limit int) ([]Handoff, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+columns+`
FROM appointment_handoffs
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// Due returns pending handoffs, oldest first.
func (r *Repo) Due(ctx context.Context, limit int) ([]Handoff, error) {
	rows, err := r.db.Query(ctx, `
SELECT `+columns+`
FROM appointment_handoffs
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// BookedTimes lists "HH:MM" of live handoffs for slug on date (YYYY-MM-DD).
func (r *Repo) BookedTimes(ctx context.Context, slug, date string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
SELECT appointment_at
FROM appointment_handoffs
WHERE business_slug = $1 AND status <> 'failed' AND appointment_at LIKE $2`, slug, date+"T%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var at string
		if err := rows.Scan(&at); err != nil {
			return nil, err
		}
		if _, c, ok := strings.Cut(at, "T"); ok {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (r *Repo) MarkAttempt(ctx context.Context, id uuid.UUID, a Attempt) error {
	return r.db.InTx(ctx, func(tx db.Tx) error {
		output := a.Output
		if !a.Success {
			output = a.Error
		}
		if _, err := tx.Exec(ctx, `INSERT INTO handoff_attempts(handoff_id, success, output) VALUES ($1,$2,$3)`,
			id, a.Success, output); err != nil {
			return err
		}
		if a.Success {
			_, err := tx.Exec(ctx, `
UPDATE appointment_handoffs
SET attempts=attempts+1, last_attempt_at=now(), status='submitted', order_id=$2, last_error=NULL, updated_at=now()
WHERE id=$1`, id, a.OrderID)
			return err
		}
		_, err := tx.Exec(ctx, `
UPDATE appointment_handoffs
SET attempts=attempts+1, last_attempt_at=now(), last_error=$2,
    status=CASE WHEN $3 THEN 'failed' ELSE status END, updated_at=now()
WHERE id=$1`, id, a.Error, a.Final)
		return err
	})
}

// SetStatus moves a handoff by hand. Going back to pending resets the attempt
// count so the dispatcher retries from scratch.
func (r *Repo) SetStatus(ctx context.Context, id uuid.UUID, status Status, lastErr *string) error {
	n, err := r.db.ExecAffected(ctx, `
UPDATE appointment_handoffs
SET status=$2, last_error=$3, attempts=CASE WHEN $2='pending' THEN 0 ELSE attempts END, updated_at=now()
WHERE id=$1`, id, string(status), lastErr)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("handoff %s: %w", id, internaltypes.ErrSlotBusy)
		}
		return err
	}
	if n == 0 {
		return fmt.Errorf("handoff %s: %w", id, internaltypes.ErrNotFound)
	}
	return nil
}

func (r *Repo) collect(rows db.Rows) ([]Handoff, error) {
	defer rows.Close()
	var out []Handoff
	for rows.Next() {
		h, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) scan(row db.Row) (Handoff, error) {
	var h Handoff
	var status, name, notes string
	if err := row.Scan(
		&h.ID, &h.BusinessSlug, &h.TenantID, &h.ItemID, &h.Quantity, &name, &notes, &h.Appointment,
		&status, &h.Attempts, &h.LastAttemptAt, &h.LastError, &h.OrderID, &h.CreatedAt,
	); err != nil {
		return Handoff{}, err
	}
	h.Status = Status(status)

	var err error
	if h.CustomerName, err = r.aead.Open(name, h.ID.String()); err != nil {
		return Handoff{}, fmt.Errorf("handoff %s customer_name: %w", h.ID, err)
	}
	if h.Notes, err = r.aead.Open(notes, h.ID.String()); err != nil {
		return Handoff{}, fmt.Errorf("handoff %s notes: %w", h.ID, err)
	}
	return h, nil
}
