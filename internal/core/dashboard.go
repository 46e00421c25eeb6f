package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ruralcast/ruralcast/internal/model"
)

// Dashboard provides a read-only overview of device state.
// It has no side effects.
type Dashboard struct {
	db         *sql.DB
	prefs      *Preferences
	cache      *OfflineCache
	samples    *SampleLog
	classifier *Classifier
	resolver   *Resolver
}

// NewDashboard creates a dashboard over the device database.
func NewDashboard(db *sql.DB, cache *OfflineCache, classifier *Classifier, resolver *Resolver) *Dashboard {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if resolver == nil {
		resolver = NewResolver(false, 0)
	}
	return &Dashboard{
		db:         db,
		prefs:      NewPreferences(db),
		cache:      cache,
		samples:    NewSampleLog(db),
		classifier: classifier,
		resolver:   resolver,
	}
}

// Overview is the status summary shown by the CLI.
type Overview struct {
	GeneratedAt time.Time `json:"generated_at"`

	Preference    model.ModePreference `json:"preference"`
	DataSaver     bool                 `json:"data_saver"`
	Level         model.BandwidthLevel `json:"level"`
	EffectiveMode model.LearningMode   `json:"effective_mode"`

	LastSample *LoggedSample  `json:"last_sample,omitempty"`
	Samples24h *SampleSummary `json:"samples_24h"`

	Cache *CacheStats `json:"cache"`

	Lessons  int `json:"lessons"`
	Variants int `json:"variants"`
}

// GetOverview gathers the overview. The level is the last recorded one;
// nothing is measured.
func (d *Dashboard) GetOverview(ctx context.Context) (*Overview, error) {
	o := &Overview{GeneratedAt: time.Now(), Level: model.BandwidthUnknown}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pref, err := d.prefs.Load(gctx)
		if err != nil {
			return err
		}
		saver, err := d.prefs.DataSaver(gctx)
		if err != nil {
			return err
		}
		o.Preference, o.DataSaver = pref, saver
		return nil
	})
	g.Go(func() error {
		latest, err := d.samples.Latest(gctx)
		if err != nil {
			return err
		}
		o.LastSample = latest
		summary, err := d.samples.Summary(gctx, o.GeneratedAt.Add(-24*time.Hour))
		if err != nil {
			return err
		}
		o.Samples24h = summary
		return nil
	})
	g.Go(func() error {
		stats, err := d.cache.Stats(gctx)
		if err != nil {
			return err
		}
		o.Cache = stats
		return nil
	})
	g.Go(func() error {
		err := d.db.QueryRowContext(gctx, `
			SELECT (SELECT COUNT(*) FROM lessons), (SELECT COUNT(*) FROM content_variants)
		`).Scan(&o.Lessons, &o.Variants)
		if err != nil {
			return fmt.Errorf("failed to count catalog: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if o.LastSample != nil {
		o.Level = d.classifier.Classify(o.LastSample.Sample)
	}
	if o.DataSaver {
		o.EffectiveMode = model.ModeText
	} else {
		o.EffectiveMode = d.resolver.ResolveEffective(o.Preference, o.Level)
	}
	return o, nil
}
