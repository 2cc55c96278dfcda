package usage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ProbeCooldown records a provider/account usage-probe failure and the
// backoff window it earned, adapted from the teacher's
// internal/db.CooldownEvent onto provider+account_id instead of
// provider+profile (cauth's probes are per stored account, not per
// profile).
type ProbeCooldown struct {
	ID            int64
	Provider      string
	AccountID     string
	HitAt         time.Time
	CooldownUntil time.Time
	Notes         string
}

// SetCooldown records a probe failure and its backoff duration.
func (d *DB) SetCooldown(provider, accountID string, hitAt time.Time, duration time.Duration, notes string) (*ProbeCooldown, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is not open")
	}
	provider = strings.TrimSpace(provider)
	accountID = strings.TrimSpace(accountID)
	if provider == "" || accountID == "" {
		return nil, fmt.Errorf("provider and account id are required")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be > 0")
	}
	if hitAt.IsZero() {
		hitAt = time.Now().UTC()
	} else {
		hitAt = hitAt.UTC()
	}
	cooldownUntil := hitAt.Add(duration)

	var notesVal sql.NullString
	if notes != "" {
		notesVal = sql.NullString{String: notes, Valid: true}
	}

	res, err := d.conn.Exec(
		`INSERT INTO probe_cooldowns (provider, account_id, hit_at, cooldown_until, notes) VALUES (?, ?, ?, ?, ?)`,
		provider, accountID, formatSQLiteTime(hitAt), formatSQLiteTime(cooldownUntil), notesVal,
	)
	if err != nil {
		return nil, fmt.Errorf("insert probe_cooldowns: %w", err)
	}
	id, _ := res.LastInsertId()
	return &ProbeCooldown{ID: id, Provider: provider, AccountID: accountID, HitAt: hitAt, CooldownUntil: cooldownUntil, Notes: notes}, nil
}

// Active returns the most recent active cooldown for provider/accountID,
// or (nil, nil) when none is active.
func (d *DB) Active(provider, accountID string, now time.Time) (*ProbeCooldown, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is not open")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}

	var (
		ev               ProbeCooldown
		hitAtStr         string
		cooldownUntilStr string
		notes            sql.NullString
	)
	err := d.conn.QueryRow(
		`SELECT id, provider, account_id, hit_at, cooldown_until, notes
		   FROM probe_cooldowns
		  WHERE provider = ? AND account_id = ? AND datetime(cooldown_until) > datetime(?)
		  ORDER BY datetime(cooldown_until) DESC, id DESC
		  LIMIT 1`,
		provider, accountID, formatSQLiteTime(now),
	).Scan(&ev.ID, &ev.Provider, &ev.AccountID, &hitAtStr, &cooldownUntilStr, &notes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query probe_cooldowns: %w", err)
	}

	hitAt, err := parseSQLiteTime(hitAtStr)
	if err != nil {
		return nil, fmt.Errorf("parse hit_at %q: %w", hitAtStr, err)
	}
	cooldownUntil, err := parseSQLiteTime(cooldownUntilStr)
	if err != nil {
		return nil, fmt.Errorf("parse cooldown_until %q: %w", cooldownUntilStr, err)
	}
	ev.HitAt = hitAt
	ev.CooldownUntil = cooldownUntil
	if notes.Valid {
		ev.Notes = notes.String
	}
	return &ev, nil
}

// Clear deletes cooldown history for provider/accountID.
func (d *DB) Clear(provider, accountID string) (int64, error) {
	if d == nil || d.conn == nil {
		return 0, fmt.Errorf("db is not open")
	}
	res, err := d.conn.Exec(`DELETE FROM probe_cooldowns WHERE provider = ? AND account_id = ?`, provider, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete probe_cooldowns: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
