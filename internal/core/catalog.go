package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ruralcast/ruralcast/internal/model"
)

// VariantSource looks up lessons and their content variants.
// Lesson returns model.ErrLessonNotFound for unknown lessons; Variant returns
// model.ErrVariantNotFound when the lesson exists but the tier does not.
type VariantSource interface {
	Lesson(ctx context.Context, lessonID int64) (*model.Lesson, error)
	Variant(ctx context.Context, lessonID int64, tier model.ContentTier) (*model.ContentVariant, error)
	Tiers(ctx context.Context, lessonID int64) ([]model.ContentTier, error)
}

// Catalog is the SQLite-backed lesson and variant store.
type Catalog struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// NewCatalog creates a catalog over the device database.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

// PutLesson creates or updates a lesson.
func (c *Catalog) PutLesson(ctx context.Context, l *model.Lesson) error {
	if l.ID <= 0 {
		return fmt.Errorf("lesson id must be positive, got %d", l.ID)
	}
	if l.Title == "" {
		return fmt.Errorf("lesson %d has no title", l.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO lessons (id, title, course_title, content) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			course_title = excluded.course_title,
			content = excluded.content
	`, l.ID, l.Title, l.CourseTitle, l.Content)
	if err != nil {
		return fmt.Errorf("failed to save lesson %d: %w", l.ID, err)
	}
	return nil
}

// Lesson returns a lesson by id.
func (c *Catalog) Lesson(ctx context.Context, lessonID int64) (*model.Lesson, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var l model.Lesson
	var course sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT id, title, course_title, content FROM lessons WHERE id = ?`, lessonID).
		Scan(&l.ID, &l.Title, &course, &l.Content)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lesson %d: %w", lessonID, model.ErrLessonNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson %d: %w", lessonID, err)
	}
	l.CourseTitle = course.String
	return &l, nil
}

// ListLessons returns all lessons ordered by id.
func (c *Catalog) ListLessons(ctx context.Context) ([]*model.Lesson, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT id, title, course_title, content FROM lessons ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	var out []*model.Lesson
	for rows.Next() {
		var l model.Lesson
		var course sql.NullString
		if err := rows.Scan(&l.ID, &l.Title, &course, &l.Content); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		l.CourseTitle = course.String
		out = append(out, &l)
	}
	return out, rows.Err()
}

// PutVariant upserts the variant keyed by (lesson, tier). It reports whether
// a new row was created.
func (c *Catalog) PutVariant(ctx context.Context, v model.ContentVariant) (bool, error) {
	if err := v.Validate(); err != nil {
		return false, err
	}
	if _, err := c.Lesson(ctx, v.LessonID); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM content_variants WHERE lesson_id = ? AND tier = ?`,
		v.LessonID, string(v.Tier)).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("failed to check variant: %w", err)
	}

	r := v.Record()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO content_variants
			(lesson_id, tier, content_type, content_url, content_text, size_mb, duration_minutes, quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lesson_id, tier) DO UPDATE SET
			content_type = excluded.content_type,
			content_url = excluded.content_url,
			content_text = excluded.content_text,
			size_mb = excluded.size_mb,
			duration_minutes = excluded.duration_minutes,
			quality = excluded.quality
	`, r.LessonID, string(r.BandwidthType), string(r.ContentType),
		nullString(r.ContentURL), nullString(r.ContentText),
		nullFloat(r.SizeMB), nullInt(r.DurationMinutes), nullString(r.Quality),
		formatTime(c.now()))
	if err != nil {
		return false, fmt.Errorf("failed to save variant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to save variant: %w", err)
	}
	return existing == 0, nil
}

// Variant returns the variant for (lesson, tier).
func (c *Catalog) Variant(ctx context.Context, lessonID int64, tier model.ContentTier) (*model.ContentVariant, error) {
	if _, err := c.Lesson(ctx, lessonID); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRowContext(ctx, `
		SELECT lesson_id, tier, content_type, content_url, content_text, size_mb, duration_minutes, quality, created_at
		FROM content_variants WHERE lesson_id = ? AND tier = ?
	`, lessonID, string(tier))

	v, err := scanVariant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lesson %d tier %s: %w", lessonID, tier, model.ErrVariantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

// Variants returns every variant of a lesson, lightest tier first.
func (c *Catalog) Variants(ctx context.Context, lessonID int64) ([]*model.ContentVariant, error) {
	if _, err := c.Lesson(ctx, lessonID); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT lesson_id, tier, content_type, content_url, content_text, size_mb, duration_minutes, quality, created_at
		FROM content_variants WHERE lesson_id = ?
		ORDER BY CASE tier WHEN 'low' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END
	`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	var out []*model.ContentVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Tiers returns the tiers that have a variant, lightest first.
func (c *Catalog) Tiers(ctx context.Context, lessonID int64) ([]model.ContentTier, error) {
	variants, err := c.Variants(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	tiers := make([]model.ContentTier, 0, len(variants))
	for _, v := range variants {
		tiers = append(tiers, v.Tier)
	}
	return tiers, nil
}

// DeleteVariant removes a variant. Deleting a missing variant is not an error.
func (c *Catalog) DeleteVariant(ctx context.Context, lessonID int64, tier model.ContentTier) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM content_variants WHERE lesson_id = ? AND tier = ?`, lessonID, string(tier)); err != nil {
		return fmt.Errorf("failed to delete variant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariant(row rowScanner) (*model.ContentVariant, error) {
	var r model.VariantRecord
	var tier, contentType, createdAt string
	var url, text, quality sql.NullString
	var size sql.NullFloat64
	var duration sql.NullInt64

	if err := row.Scan(&r.LessonID, &tier, &contentType, &url, &text, &size, &duration, &quality, &createdAt); err != nil {
		return nil, err
	}

	r.BandwidthType = model.ContentTier(tier)
	r.ContentType = model.ContentType(contentType)
	r.ContentURL = url.String
	r.ContentText = text.String
	r.Quality = quality.String
	if size.Valid {
		v := size.Float64
		r.SizeMB = &v
	}
	if duration.Valid {
		v := int(duration.Int64)
		r.DurationMinutes = &v
	}
	if t := parseTime(createdAt); !t.IsZero() {
		r.CreatedAt = &t
	}

	v, err := r.Variant()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
