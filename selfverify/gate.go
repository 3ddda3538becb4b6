// Package selfverify drives the author's explicit "this is my writing"
// certification: eligibility (is the viewer the author), a one-time
// contact gate, confirmation with consent, and submission to the
// authority.
package selfverify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/verifily/vigil/dbopen"
)

const gateSchema = `
CREATE TABLE IF NOT EXISTS selfverify_gate (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    email       TEXT NOT NULL,
    captured_at INTEGER NOT NULL
);
`

// Gate is the one-time contact capture: the first self-verification a
// user ever performs requires an email address, recorded exactly once.
// Every later verification passes the gate silently.
type Gate struct {
	db *sql.DB
}

// NewGate applies the gate schema on db and returns the Gate. The
// database is shared with the settings store.
func NewGate(db *sql.DB) (*Gate, error) {
	if _, err := db.Exec(gateSchema); err != nil {
		return nil, fmt.Errorf("selfverify: gate schema: %w", err)
	}
	return &Gate{db: db}, nil
}

// Captured reports whether contact was already collected.
func (g *Gate) Captured(ctx context.Context) (bool, error) {
	var n int
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM selfverify_gate`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("selfverify: gate check: %w", err)
	}
	return n > 0, nil
}

// Email returns the captured contact address, or empty when the gate is
// still open.
func (g *Gate) Email(ctx context.Context) (string, error) {
	var email string
	err := g.db.QueryRowContext(ctx, `SELECT email FROM selfverify_gate WHERE id = 1`).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("selfverify: gate email: %w", err)
	}
	return email, nil
}

// MarkCaptured records the contact address. Write-once: a second call
// leaves the original row untouched. The address must at least look
// like an email; the authority enforces the same rule.
func (g *Gate) MarkCaptured(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("selfverify: invalid contact address %q", email)
	}
	err := dbopen.RunTx(ctx, g.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO selfverify_gate (id, email, captured_at) VALUES (1, ?, ?)`,
			email, time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("selfverify: mark captured: %w", err)
	}
	return nil
}
