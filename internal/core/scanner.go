// Scanners for the device store.
//
// INVARIANTS:
// - All operations READ-ONLY
// - Report-only, repairs are explicit user commands (cache evict, mode set)
package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ruralcast/ruralcast/internal/model"
)

// Finding severities.
const (
	SeverityOK      = "ok"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Scanner provides non-destructive consistency checks.
type Scanner struct {
	db    *sql.DB
	cache *OfflineCache
	mu    sync.RWMutex
	now   func() time.Time
}

// NewScanner creates a new scanner. cache supplies the staleness window and
// may be nil.
func NewScanner(db *sql.DB, cache *OfflineCache) *Scanner {
	if cache == nil {
		cache = NewOfflineCache(db, DefaultStaleAfter)
	}
	return &Scanner{db: db, cache: cache, now: time.Now}
}

// ScanResult contains scan findings.
type ScanResult struct {
	ScanType     string        `json:"scan_type"`
	ScanTime     time.Time     `json:"scan_time"`
	TotalItems   int           `json:"total_items"`
	OKCount      int           `json:"ok_count"`
	WarningCount int           `json:"warning_count"`
	ErrorCount   int           `json:"error_count"`
	Findings     []ScanFinding `json:"findings"`
}

// ScanFinding is an individual finding.
type ScanFinding struct {
	Severity    string `json:"severity"`
	Category    string `json:"category"`
	Description string `json:"description"`
	LessonID    int64  `json:"lesson_id,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

func (r *ScanResult) add(f ScanFinding) {
	switch f.Severity {
	case SeverityError:
		r.ErrorCount++
	case SeverityWarning:
		r.WarningCount++
	default:
		r.OKCount++
	}
	r.Findings = append(r.Findings, f)
}

// ScanStore checks the schema version and stored preference values.
func (s *Scanner) ScanStore(ctx context.Context) (*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &ScanResult{ScanType: "store", ScanTime: s.now()}

	var version string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version == "" {
		result.add(ScanFinding{
			Severity:    SeverityError,
			Category:    "schema",
			Description: "Missing schema version",
			Suggestion:  "Run any ruralcast command to reinitialize the store",
		})
	} else {
		result.add(ScanFinding{
			Severity:    SeverityOK,
			Category:    "schema",
			Description: fmt.Sprintf("Schema version: %s", version),
		})
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		result.TotalItems++

		if perr := checkPreference(key, value); perr != nil {
			result.add(ScanFinding{
				Severity:    SeverityWarning,
				Category:    "preferences",
				Description: fmt.Sprintf("%s has unreadable value %q: %v", key, value, perr),
				Suggestion:  "The default is used; run 'ruralcast mode set' to overwrite it",
			})
			continue
		}
		result.add(ScanFinding{
			Severity:    SeverityOK,
			Category:    "preferences",
			Description: fmt.Sprintf("%s = %s", key, value),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var samples int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bandwidth_samples`).Scan(&samples); err != nil {
		return nil, fmt.Errorf("failed to count samples: %w", err)
	}
	result.add(ScanFinding{
		Severity:    SeverityOK,
		Category:    "samples",
		Description: fmt.Sprintf("Bandwidth samples: %d", samples),
	})

	return result, nil
}

func checkPreference(key, value string) error {
	switch key {
	case PrefKeyMode:
		_, err := model.ParseMode(value)
		return err
	case PrefKeyIsManual, PrefKeyDataSaver:
		_, err := strconv.ParseBool(value)
		return err
	case PrefKeyLastCheck:
		_, err := time.Parse(time.RFC3339Nano, value)
		return err
	}
	return nil
}

// ScanCache checks that every cached payload decodes to usable content.
func (s *Scanner) ScanCache(ctx context.Context) (*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &ScanResult{ScanType: "cache", ScanTime: s.now()}

	rows, err := s.db.QueryContext(ctx, `SELECT lesson_id, payload, cached_at FROM cached_lessons ORDER BY lesson_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	defer rows.Close()

	stale := 0
	for rows.Next() {
		var (
			id       int64
			payload  []byte
			cachedAt string
		)
		if err := rows.Scan(&id, &payload, &cachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		result.TotalItems++

		if f, bad := checkCachedPayload(id, payload); bad {
			result.add(f)
			continue
		}
		entry := &model.CachedLesson{LessonID: id, CachedAt: parseTime(cachedAt)}
		if s.cache.IsStale(entry) {
			stale++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.add(ScanFinding{
		Severity:    SeverityOK,
		Category:    "entries",
		Description: fmt.Sprintf("Cached lessons: %d", result.TotalItems),
	})
	if stale > 0 {
		result.add(ScanFinding{
			Severity:    SeverityWarning,
			Category:    "staleness",
			Description: fmt.Sprintf("%d cached lessons older than %s", stale, s.cache.staleAfter),
			Suggestion:  "Open them while online to refresh",
		})
	}

	return result, nil
}

func checkCachedPayload(id int64, payload []byte) (ScanFinding, bool) {
	bad := ScanFinding{
		Severity:   SeverityError,
		Category:   "payload",
		LessonID:   id,
		Suggestion: fmt.Sprintf("Run 'ruralcast cache evict %d'", id),
	}

	var sel model.Selection
	if err := json.Unmarshal(payload, &sel); err != nil {
		bad.Description = fmt.Sprintf("Lesson %d: payload does not decode: %v", id, err)
		return bad, true
	}
	if sel.LessonID != id {
		bad.Description = fmt.Sprintf("Lesson %d: payload belongs to lesson %d", id, sel.LessonID)
		return bad, true
	}
	if sel.Variant.Content == nil {
		bad.Description = fmt.Sprintf("Lesson %d: payload has no content", id)
		return bad, true
	}
	return ScanFinding{}, false
}

// ScanCatalog reports orphaned variants and lessons that can only be served
// as fallback text.
func (s *Scanner) ScanCatalog(ctx context.Context) (*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &ScanResult{ScanType: "catalog", ScanTime: s.now()}

	var lessons int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lessons`).Scan(&lessons); err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}
	result.TotalItems = lessons
	result.add(ScanFinding{
		Severity:    SeverityOK,
		Category:    "lessons",
		Description: fmt.Sprintf("Total lessons: %d", lessons),
	})

	var orphaned int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_variants v
		LEFT JOIN lessons l ON v.lesson_id = l.id
		WHERE l.id IS NULL
	`).Scan(&orphaned); err != nil {
		return nil, fmt.Errorf("failed to check orphaned variants: %w", err)
	}
	if orphaned > 0 {
		result.add(ScanFinding{
			Severity:    SeverityWarning,
			Category:    "variants",
			Description: fmt.Sprintf("%d variants without a lesson", orphaned),
			Suggestion:  "Re-add the lesson with 'ruralcast lesson add'",
		})
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.title, COALESCE(l.content, ''), COUNT(v.id)
		FROM lessons l
		LEFT JOIN content_variants v ON v.lesson_id = l.id
		GROUP BY l.id
		HAVING COUNT(v.id) = 0
		ORDER BY l.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to check lesson variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			title   string
			content string
			count   int
		)
		if err := rows.Scan(&id, &title, &content, &count); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		f := ScanFinding{
			Severity:    SeverityWarning,
			Category:    "variants",
			LessonID:    id,
			Description: fmt.Sprintf("Lesson %d (%s) has no variants and is always served as text", id, title),
			Suggestion:  fmt.Sprintf("Run 'ruralcast variant add %d'", id),
		}
		if content == "" {
			f.Severity = SeverityError
			f.Description = fmt.Sprintf("Lesson %d (%s) has no variants and no text", id, title)
		}
		result.add(f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
