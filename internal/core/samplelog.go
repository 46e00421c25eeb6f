package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ruralcast/ruralcast/internal/model"
)

// SampleLog records bandwidth samples for display.
// It is OBSERVATIONAL only: nothing reads it to make mode decisions.
type SampleLog struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSampleLog creates a sample log over the device database.
func NewSampleLog(db *sql.DB) *SampleLog {
	return &SampleLog{db: db}
}

// LoggedSample is a stored sample with its classified level.
type LoggedSample struct {
	ID     int64                 `json:"id"`
	Sample model.BandwidthSample `json:"sample"`
	Level  model.BandwidthLevel  `json:"level"`
}

// SampleSummary aggregates samples over a window.
type SampleSummary struct {
	Count          int                  `json:"count"`
	NumericCount   int                  `json:"numeric_count"`
	FallbackCount  int                  `json:"fallback_count"`
	AverageMbps    float64              `json:"average_mbps"`
	MinMbps        float64              `json:"min_mbps"`
	MaxMbps        float64              `json:"max_mbps"`
	LastLevel      model.BandwidthLevel `json:"last_level"`
	LastMeasuredAt *time.Time           `json:"last_measured_at,omitempty"`
}

// Record stores a sample.
func (l *SampleLog) Record(ctx context.Context, s model.BandwidthSample, level model.BandwidthLevel) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var downloadMs sql.NullInt64
	if s.DownloadTime > 0 {
		downloadMs = sql.NullInt64{Int64: s.DownloadTime.Milliseconds(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO bandwidth_samples (speed_mbps, method, level, effective_type, rtt_ms, download_ms, measured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, nullFloat(s.SpeedMbps), string(s.Method), string(level), s.EffectiveTypeHint, nullFloat(s.RTTMs), downloadMs, formatTime(s.MeasuredAt))
	if err != nil {
		return fmt.Errorf("failed to record bandwidth sample: %w", err)
	}
	return nil
}

// Recent returns up to limit samples, newest first.
func (l *SampleLog) Recent(ctx context.Context, limit int) ([]LoggedSample, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, speed_mbps, method, level, effective_type, rtt_ms, download_ms, measured_at
		FROM bandwidth_samples
		ORDER BY measured_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bandwidth samples: %w", err)
	}
	defer rows.Close()

	var out []LoggedSample
	for rows.Next() {
		var ls LoggedSample
		var speed, rtt sql.NullFloat64
		var downloadMs sql.NullInt64
		var effectiveType sql.NullString
		var method, level, measuredAt string
		if err := rows.Scan(&ls.ID, &speed, &method, &level, &effectiveType, &rtt, &downloadMs, &measuredAt); err != nil {
			return nil, fmt.Errorf("failed to scan bandwidth sample: %w", err)
		}
		ls.Sample = model.BandwidthSample{
			Method:            model.SampleMethod(method),
			MeasuredAt:        parseTime(measuredAt),
			EffectiveTypeHint: effectiveType.String,
		}
		if speed.Valid {
			v := speed.Float64
			ls.Sample.SpeedMbps = &v
		}
		if rtt.Valid {
			v := rtt.Float64
			ls.Sample.RTTMs = &v
		}
		if downloadMs.Valid {
			ls.Sample.DownloadTime = time.Duration(downloadMs.Int64) * time.Millisecond
		}
		ls.Level = model.BandwidthLevel(level)
		out = append(out, ls)
	}
	return out, rows.Err()
}

// Latest returns the newest sample, or nil if none were recorded.
func (l *SampleLog) Latest(ctx context.Context) (*LoggedSample, error) {
	recent, err := l.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return &recent[0], nil
}

// Summary aggregates samples measured at or after since.
func (l *SampleLog) Summary(ctx context.Context, since time.Time) (*SampleSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := &SampleSummary{LastLevel: model.BandwidthUnknown}

	var avg, minV, maxV sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(speed_mbps),
			COALESCE(SUM(CASE WHEN method = 'error-fallback' THEN 1 ELSE 0 END), 0),
			AVG(speed_mbps), MIN(speed_mbps), MAX(speed_mbps)
		FROM bandwidth_samples
		WHERE measured_at >= ?
	`, formatTime(since)).Scan(&summary.Count, &summary.NumericCount, &summary.FallbackCount, &avg, &minV, &maxV)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize bandwidth samples: %w", err)
	}
	summary.AverageMbps = avg.Float64
	summary.MinMbps = minV.Float64
	summary.MaxMbps = maxV.Float64

	var level, measuredAt string
	err = l.db.QueryRowContext(ctx, `
		SELECT level, measured_at FROM bandwidth_samples
		WHERE measured_at >= ?
		ORDER BY measured_at DESC, id DESC LIMIT 1
	`, formatTime(since)).Scan(&level, &measuredAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read last bandwidth sample: %w", err)
	}
	if err == nil {
		summary.LastLevel = model.BandwidthLevel(level)
		t := parseTime(measuredAt)
		summary.LastMeasuredAt = &t
	}

	return summary, nil
}

// Prune deletes samples older than before and returns how many were removed.
func (l *SampleLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `DELETE FROM bandwidth_samples WHERE measured_at < ?`, formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune bandwidth samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
