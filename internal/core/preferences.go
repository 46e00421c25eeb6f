package core

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ruralcast/ruralcast/internal/model"
)

// Preference keys.
const (
	PrefKeyMode      = "rural-lms-learning-mode"
	PrefKeyIsManual  = "rural-lms-mode-is-manual"
	PrefKeyLastCheck = "rural-lms-last-bandwidth-check"
	PrefKeyDataSaver = "rural-lms-data-saver"
)

// Preferences persists the learner's mode preference as keyed values.
type Preferences struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewPreferences creates a preference store over the device database.
func NewPreferences(db *sql.DB) *Preferences {
	return &Preferences{db: db, now: time.Now}
}

// Load returns the stored preference. Missing or unreadable values fall back
// to the defaults (AUTO, not manual, never checked).
func (p *Preferences) Load(ctx context.Context) (model.ModePreference, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pref := model.DefaultPreference()

	values, err := p.getAll(ctx, PrefKeyMode, PrefKeyIsManual, PrefKeyLastCheck)
	if err != nil {
		return pref, err
	}

	if v, ok := values[PrefKeyMode]; ok {
		if mode, err := model.ParseMode(v); err == nil {
			pref.SelectedMode = mode
		}
	}
	if v, ok := values[PrefKeyIsManual]; ok {
		pref.IsManual, _ = strconv.ParseBool(v)
	}
	if v, ok := values[PrefKeyLastCheck]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			pref.LastBandwidthCheckAt = &t
		}
	}

	return pref, nil
}

// SetMode stores the selected mode and manual flag together.
func (p *Preferences) SetMode(ctx context.Context, mode model.LearningMode, isManual bool) error {
	if _, err := model.ParseMode(string(mode)); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := p.put(ctx, tx, PrefKeyMode, string(mode)); err != nil {
		return err
	}
	if err := p.put(ctx, tx, PrefKeyIsManual, strconv.FormatBool(isManual)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to save mode preference: %w", err)
	}
	return nil
}

// TouchLastCheck records when bandwidth was last checked.
func (p *Preferences) TouchLastCheck(ctx context.Context, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(ctx, p.db, PrefKeyLastCheck, at.UTC().Format(time.RFC3339Nano))
}

// DataSaver reports whether data saver is on.
func (p *Preferences) DataSaver(ctx context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	values, err := p.getAll(ctx, PrefKeyDataSaver)
	if err != nil {
		return false, err
	}
	on, _ := strconv.ParseBool(values[PrefKeyDataSaver])
	return on, nil
}

// SetDataSaver stores the data saver flag.
func (p *Preferences) SetDataSaver(ctx context.Context, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(ctx, p.db, PrefKeyDataSaver, strconv.FormatBool(on))
}

// Reset removes every stored preference.
func (p *Preferences) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.db.ExecContext(ctx, `DELETE FROM preferences`); err != nil {
		return fmt.Errorf("failed to reset preferences: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Preferences) put(ctx context.Context, ex execer, key, value string) error {
	query := `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`
	if _, err := ex.ExecContext(ctx, query, key, value, formatTime(p.now())); err != nil {
		return fmt.Errorf("failed to save preference %s: %w", key, err)
	}
	return nil
}

func (p *Preferences) getAll(ctx context.Context, keys ...string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	for _, key := range keys {
		var v string
		err := p.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read preference %s: %w", key, err)
		}
		values[key] = v
	}
	return values, nil
}
