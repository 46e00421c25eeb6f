package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ruralcast/ruralcast/internal/model"
)

// DefaultStaleAfter is the age past which cached content is flagged stale.
const DefaultStaleAfter = 24 * time.Hour

// OfflineCache keeps the last successfully fetched payload per lesson.
// Cache rules:
//   - Put overwrites unconditionally (last write wins)
//   - No automatic eviction; entries leave only through Evict
//   - Staleness is advisory and never deletes anything
type OfflineCache struct {
	db         *sql.DB
	staleAfter time.Duration
	mu         sync.RWMutex
	now        func() time.Time
}

// NewOfflineCache creates a cache over the device database.
func NewOfflineCache(db *sql.DB, staleAfter time.Duration) *OfflineCache {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &OfflineCache{db: db, staleAfter: staleAfter, now: time.Now}
}

// CacheStats holds cache statistics.
type CacheStats struct {
	TotalEntries int        `json:"total_entries"`
	StaleEntries int        `json:"stale_entries"`
	TotalBytes   int64      `json:"total_bytes"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
}

// Put stores payload for the lesson, replacing any earlier entry.
func (c *OfflineCache) Put(ctx context.Context, lessonID int64, payload []byte) (*model.CachedLesson, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cachedAt := c.now().UTC()
	query := `
		INSERT INTO cached_lessons (lesson_id, payload, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(lesson_id) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at
	`
	if _, err := c.db.ExecContext(ctx, query, lessonID, payload, formatTime(cachedAt)); err != nil {
		return nil, fmt.Errorf("failed to cache lesson %d: %w", lessonID, err)
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	return &model.CachedLesson{LessonID: lessonID, Payload: stored, CachedAt: cachedAt}, nil
}

// Get returns the cached entry, or nil if the lesson is not cached.
func (c *OfflineCache) Get(ctx context.Context, lessonID int64) (*model.CachedLesson, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var entry model.CachedLesson
	var cachedAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT lesson_id, payload, cached_at FROM cached_lessons WHERE lesson_id = ?`,
		lessonID).Scan(&entry.LessonID, &entry.Payload, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached lesson %d: %w", lessonID, err)
	}
	entry.CachedAt = parseTime(cachedAt)
	return &entry, nil
}

// Has reports whether the lesson is cached.
func (c *OfflineCache) Has(ctx context.Context, lessonID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_lessons WHERE lesson_id = ?`, lessonID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check cached lesson %d: %w", lessonID, err)
	}
	return n > 0, nil
}

// Evict removes the lesson from the cache. Evicting a missing entry is not an error.
func (c *OfflineCache) Evict(ctx context.Context, lessonID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM cached_lessons WHERE lesson_id = ?`, lessonID); err != nil {
		return fmt.Errorf("failed to evict lesson %d: %w", lessonID, err)
	}
	return nil
}

// IsStale reports whether an entry is older than the stale window.
func (c *OfflineCache) IsStale(entry *model.CachedLesson) bool {
	if entry == nil {
		return false
	}
	return entry.Age(c.now()) > c.staleAfter
}

// CacheListing is one row of List, without the payload.
type CacheListing struct {
	LessonID int64     `json:"lesson_id"`
	Bytes    int64     `json:"bytes"`
	CachedAt time.Time `json:"cached_at"`
	Stale    bool      `json:"stale"`
}

// List returns cached lessons, newest first.
func (c *OfflineCache) List(ctx context.Context) ([]CacheListing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT lesson_id, LENGTH(payload), cached_at
		FROM cached_lessons
		ORDER BY cached_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached lessons: %w", err)
	}
	defer rows.Close()

	now := c.now()
	var out []CacheListing
	for rows.Next() {
		var l CacheListing
		var cachedAt string
		if err := rows.Scan(&l.LessonID, &l.Bytes, &cachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cached lesson: %w", err)
		}
		l.CachedAt = parseTime(cachedAt)
		l.Stale = now.Sub(l.CachedAt) > c.staleAfter
		out = append(out, l)
	}
	return out, rows.Err()
}

// Stats returns cache statistics.
func (c *OfflineCache) Stats(ctx context.Context) (*CacheStats, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &CacheStats{TotalEntries: len(entries)}
	for i := range entries {
		e := entries[i]
		stats.TotalBytes += e.Bytes
		if e.Stale {
			stats.StaleEntries++
		}
		if stats.Newest == nil || e.CachedAt.After(*stats.Newest) {
			stats.Newest = &entries[i].CachedAt
		}
		if stats.Oldest == nil || e.CachedAt.Before(*stats.Oldest) {
			stats.Oldest = &entries[i].CachedAt
		}
	}
	return stats, nil
}
