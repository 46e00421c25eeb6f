// Package cli provides the engine integration for the ruralcast CLI.
// This file contains the core initialization and command implementations.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ruralcast/ruralcast/internal/config"
	"github.com/ruralcast/ruralcast/internal/core"
	"github.com/ruralcast/ruralcast/internal/logging"
	"github.com/ruralcast/ruralcast/internal/model"
	"github.com/ruralcast/ruralcast/internal/provider"
	"github.com/ruralcast/ruralcast/internal/provider/httpapi"
	"github.com/ruralcast/ruralcast/internal/provider/local"
	"github.com/ruralcast/ruralcast/internal/server"
)

// Source ids registered by InitEngine. The remote backend is primary.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// sampleRetention bounds how long bandwidth samples are kept.
const sampleRetention = 30 * 24 * time.Hour

// Engine holds the ruralcast core components.
type Engine struct {
	Config     *config.Config
	Log        *zap.Logger
	Store      *core.Store
	Prefs      *core.Preferences
	Cache      *core.OfflineCache
	Samples    *core.SampleLog
	Catalog    *core.Catalog
	Classifier *core.Classifier
	Resolver   *core.Resolver
	Sampler    *core.Sampler
	Sources    *provider.DefaultRegistry
}

// Global engine instance
var engine *Engine

// loadConfig reads and validates configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// InitEngine initializes the ruralcast engine.
func InitEngine(ctx context.Context) (*Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	logger, err := logging.New(cfg.Log.Mode, level)
	if err != nil {
		return nil, err
	}

	store, err := core.OpenStore(cfg.Store.Dir, cfg.Store.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	classifier, err := core.NewClassifier(cfg.Bandwidth.HighThresholdMbps, cfg.Bandwidth.MediumThresholdMbps)
	if err != nil {
		store.Close()
		return nil, err
	}

	sampler, err := core.NewSampler(core.SamplerConfig{
		ProbeURL:     cfg.Probe.URL,
		PayloadBytes: cfg.Probe.PayloadBytes,
		Timeout:      cfg.Probe.Timeout,
		Hints:        cfg.Probe.Hint(),
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	catalog := core.NewCatalog(store.DB())

	sources, err := newSourceRegistry(cfg, catalog, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Engine{
		Config:     cfg,
		Log:        logger,
		Store:      store,
		Prefs:      core.NewPreferences(store.DB()),
		Cache:      core.NewOfflineCache(store.DB(), cfg.Cache.StaleAfter),
		Samples:    core.NewSampleLog(store.DB()),
		Catalog:    catalog,
		Classifier: classifier,
		Resolver:   core.NewResolver(cfg.Suggestion.InAuto, cfg.Suggestion.Timeout),
		Sampler:    sampler,
		Sources:    sources,
	}, nil
}

// newSourceRegistry registers the remote and local sources and makes
// content.source the primary.
func newSourceRegistry(cfg *config.Config, catalog *core.Catalog, logger *zap.Logger) (*provider.DefaultRegistry, error) {
	sources := provider.NewRegistry()
	remote, err := httpapi.NewSource(SourceRemote, cfg.Content.APIURL, cfg.Content.Timeout, logger)
	if err != nil {
		return nil, err
	}
	if err := sources.Register(remote); err != nil {
		return nil, err
	}
	if err := sources.Register(local.NewSource(SourceLocal, catalog)); err != nil {
		return nil, err
	}
	if err := sources.SetPrimary(cfg.Content.Source); err != nil {
		return nil, fmt.Errorf("invalid content.source (use %s or %s): %w", SourceRemote, SourceLocal, err)
	}
	return sources, nil
}

// GetEngine returns the engine, initializing if needed.
func GetEngine(ctx context.Context) (*Engine, error) {
	if engine != nil {
		return engine, nil
	}

	var err error
	engine, err = InitEngine(ctx)
	return engine, err
}

func closeEngine() error {
	if engine == nil {
		return nil
	}
	_ = engine.Log.Sync()
	err := engine.Store.Close()
	engine = nil
	return err
}

// NewSession builds a session reading content from src.
func (e *Engine) NewSession(src provider.Source) (*core.Session, error) {
	return core.NewSession(core.SessionConfig{
		Preferences:       e.Prefs,
		Cache:             e.Cache,
		Samples:           e.Samples,
		Source:            src,
		Sampler:           e.Sampler,
		Classifier:        e.Classifier,
		Resolver:          e.Resolver,
		CheckInterval:     e.Config.Schedule.CheckInterval,
		RemeasureInterval: e.Config.Schedule.RemeasureInterval,
		Logger:            e.Log,
	})
}

// source resolves a source id, or the primary source when id is empty.
func (e *Engine) source(id string) (provider.Source, error) {
	if id == "" {
		if p := e.Sources.Primary(); p != nil {
			return p, nil
		}
		return nil, fmt.Errorf("no content source configured")
	}
	s, ok := e.Sources.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown content source: %s (use %s or %s)", id, SourceRemote, SourceLocal)
	}
	return s, nil
}

// pruneSamples drops old samples hourly until ctx is done.
func (e *Engine) pruneSamples(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := e.Samples.Prune(ctx, time.Now().Add(-sampleRetention))
		if err != nil && ctx.Err() == nil {
			e.Log.Warn("failed to prune bandwidth samples", zap.Error(err))
		} else if n > 0 {
			e.Log.Debug("pruned bandwidth samples", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// --- Command Implementations ---

// RunServe runs the content API until ctx is canceled.
func RunServe(ctx context.Context, addr string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = e.Config.Server.Addr
	}

	h := server.NewHandler(e.Store, e.Catalog, int(e.Config.Probe.PayloadBytes), e.Log)
	return server.New(addr, h, e.Log).Run(ctx)
}

var errQuit = errors.New("session ended")

// RunSession runs an interactive session reading commands from in.
func RunSession(ctx context.Context, in io.Reader) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	src, err := e.source("")
	if err != nil {
		return err
	}
	sess, err := e.NewSession(src)
	if err != nil {
		return err
	}

	suggestions := make(chan model.ModeSuggestion, 4)
	unsubscribe := sess.OnSuggestion(func(s model.ModeSuggestion) {
		select {
		case suggestions <- s:
		default:
		}
	})
	defer unsubscribe()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Close()

	fmt.Printf("Session %s started. Commands: a(ccept) d(ismiss) r(echeck) s(tatus) q(uit)\n", sess.ID())

	g, gctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error { return e.pruneSamples(gctx) })
	g.Go(func() error { return sessionConsole(gctx, sess, suggestions, lines) })

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// sessionConsole owns all terminal output for a running session.
func sessionConsole(ctx context.Context, sess *core.Session, suggestions <-chan model.ModeSuggestion, lines <-chan string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var shown *model.ModeSuggestion
	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-suggestions:
			shown = &s
			verb := "Connection dropped"
			if s.IsUpgrade() {
				verb = "Connection improved"
			}
			fmt.Printf("\n%s (%s). Switch from %s to %s mode? [a]ccept / [d]ismiss (expires in %s)\n",
				verb, s.Level.Describe(), s.PreviousEffectiveMode.Label(), s.SuggestedMode.Label(),
				time.Until(s.ExpiresAt).Round(time.Second))

		case <-ticker.C:
			if shown == nil {
				continue
			}
			if p, ok := sess.PendingSuggestion(); !ok || p.ID != shown.ID {
				fmt.Println("Suggestion expired.")
				shown = nil
			}

		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep running without input
				lines = nil
				continue
			}
			switch strings.ToLower(line) {
			case "":
			case "a", "accept":
				sug, err := sess.AcceptSuggestion(ctx)
				switch {
				case errors.Is(err, model.ErrNoSuggestion):
					fmt.Println("No pending suggestion.")
				case err != nil:
					return err
				default:
					fmt.Printf("Switched to %s mode.\n", sug.SuggestedMode.Label())
				}
				shown = nil
			case "d", "dismiss":
				if _, err := sess.DismissSuggestion(); errors.Is(err, model.ErrNoSuggestion) {
					fmt.Println("No pending suggestion.")
				} else {
					fmt.Printf("Staying in %s mode.\n", sess.EffectiveMode().Label())
				}
				shown = nil
			case "r", "recheck":
				if !sess.RecheckNow(ctx) {
					fmt.Println("A measurement is already running.")
				}
				printSessionState(sess)
			case "s", "status":
				printSessionState(sess)
			case "q", "quit", "exit":
				return errQuit
			default:
				fmt.Println("Unknown command. Use a, d, r, s or q.")
			}
		}
	}
}

func printSessionState(sess *core.Session) {
	pref := sess.Preference()
	fmt.Printf("Mode: %s (selected %s", sess.EffectiveMode().Label(), pref.SelectedMode.Label())
	if pref.IsManual {
		fmt.Print(", manual")
	}
	if sess.DataSaver() {
		fmt.Print(", data saver")
	}
	fmt.Printf(")  Bandwidth: %s", sess.Level())
	if s := sess.LastSample(); s != nil {
		fmt.Printf(" %s", formatSpeed(s))
	}
	fmt.Println()
}

// RunMeasure takes one sample and shows the resulting level and mode.
func RunMeasure(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	src, err := e.source("")
	if err != nil {
		return err
	}
	sess, err := e.NewSession(src)
	if err != nil {
		return err
	}
	if err := sess.Load(ctx); err != nil {
		return err
	}

	sess.Evaluate(ctx, core.TriggerManual)
	sample := sess.LastSample()
	if sample == nil {
		return fmt.Errorf("measurement canceled")
	}

	level := sess.Level()
	fmt.Println("Bandwidth Check")
	fmt.Println("===============")
	fmt.Printf("Method:     %s\n", sample.Method)
	fmt.Printf("Speed:      %s\n", formatSpeed(sample))
	if sample.EffectiveTypeHint != "" {
		fmt.Printf("Hint:       %s\n", sample.EffectiveTypeHint)
	}
	if sample.RTTMs != nil {
		fmt.Printf("RTT:        %.0f ms\n", *sample.RTTMs)
	}
	if sample.DownloadTime > 0 {
		fmt.Printf("Download:   %s\n", sample.DownloadTime.Round(time.Millisecond))
	}
	fmt.Printf("Level:      %s (%s)\n", level, level.Describe())
	fmt.Printf("Mode:       %s (%s)\n", sess.EffectiveMode().Label(), sess.EffectiveMode().Description())

	return nil
}

// RunModeGet shows the stored preference.
func RunModeGet(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	pref, err := e.Prefs.Load(ctx)
	if err != nil {
		return err
	}
	saver, err := e.Prefs.DataSaver(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Selected:   %s\n", pref.SelectedMode.Label())
	fmt.Printf("Manual:     %t\n", pref.IsManual)
	fmt.Printf("Data saver: %t\n", saver)
	if pref.LastBandwidthCheckAt != nil {
		fmt.Printf("Last check: %s\n", pref.LastBandwidthCheckAt.Local().Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Last check: never")
	}
	return nil
}

// RunModeSet stores a mode choice. AUTO is never stored as manual.
func RunModeSet(ctx context.Context, raw string, isManual bool) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	mode, err := model.ParseMode(raw)
	if err != nil {
		return err
	}
	if mode == model.ModeAuto {
		isManual = false
	}
	if err := e.Prefs.SetMode(ctx, mode, isManual); err != nil {
		return err
	}

	fmt.Printf("Learning mode set to %s.\n", mode.Label())
	return nil
}

// RunDataSaver toggles data saver.
func RunDataSaver(ctx context.Context, arg string) error {
	var on bool
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		on = true
	case "off", "false", "0":
	default:
		return fmt.Errorf("expected on or off, got %q", arg)
	}

	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	if err := e.Prefs.SetDataSaver(ctx, on); err != nil {
		return err
	}

	if on {
		fmt.Println("Data saver on: lessons will be shown as text.")
	} else {
		fmt.Println("Data saver off.")
	}
	return nil
}

// RunContentGet fetches a lesson for the current or forced mode.
func RunContentGet(ctx context.Context, lessonID int64, rawMode, sourceID string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	src, err := e.source(sourceID)
	if err != nil {
		return err
	}
	sess, err := e.NewSession(src)
	if err != nil {
		return err
	}
	if err := sess.Load(ctx); err != nil {
		return err
	}

	var content *model.LessonContent
	if rawMode != "" {
		mode, perr := model.ParseMode(rawMode)
		if perr != nil {
			return perr
		}
		if !mode.Concrete() {
			return fmt.Errorf("--mode must be video, audio or text")
		}
		content, err = sess.ContentForMode(ctx, lessonID, mode)
	} else {
		sess.Evaluate(ctx, core.TriggerManual)
		content, err = sess.ContentFor(ctx, lessonID)
	}

	if err != nil {
		var fetchErr *model.FetchError
		if errors.As(err, &fetchErr) {
			return fmt.Errorf("lesson %d is not cached and the content source is unreachable, try again later: %w", lessonID, err)
		}
		return err
	}

	printLessonContent(content)
	return nil
}

func printLessonContent(c *model.LessonContent) {
	sel := c.Selection
	fmt.Printf("Lesson %d: %s\n", sel.LessonID, sel.LessonTitle)
	fmt.Printf("Requested:  %s\n", sel.RequestedTier)
	if sel.Fallback {
		avail := make([]string, 0, len(sel.Available))
		for _, t := range sel.Available {
			avail = append(avail, string(t))
		}
		if len(avail) == 0 {
			avail = append(avail, "none")
		}
		fmt.Printf("Fallback:   text (available: %s)\n", strings.Join(avail, ", "))
	}
	if c.IsOffline {
		stale := ""
		if c.IsStale {
			stale = ", may be outdated"
		}
		if c.CachedAt != nil {
			fmt.Printf("Offline:    saved %s%s\n", c.CachedAt.Local().Format("2006-01-02 15:04"), stale)
		}
	}
	fmt.Println()

	switch v := sel.Variant.Content.(type) {
	case model.VideoContent:
		fmt.Printf("Video: %s%s\n", v.URL, mediaDetails(v.SizeMB, v.DurationMinutes, v.Quality))
	case model.AudioContent:
		fmt.Printf("Audio: %s%s\n", v.URL, mediaDetails(v.SizeMB, v.DurationMinutes, v.Quality))
	case model.PDFContent:
		fmt.Printf("PDF: %s%s\n", v.URL, mediaDetails(v.SizeMB, nil, ""))
	case model.TextContent:
		if v.URL != "" {
			fmt.Printf("Text: %s\n", v.URL)
		}
		if v.Body != "" {
			fmt.Println(v.Body)
		}
	}
}

func mediaDetails(sizeMB *float64, minutes *int, quality string) string {
	var parts []string
	if quality != "" {
		parts = append(parts, quality)
	}
	if minutes != nil {
		parts = append(parts, fmt.Sprintf("%d min", *minutes))
	}
	if sizeMB != nil {
		parts = append(parts, fmt.Sprintf("%.1f MB", *sizeMB))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

// --- Cache Commands ---

// RunCacheList lists cached lessons.
func RunCacheList(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	entries, err := e.Cache.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	fmt.Printf("Cached Lessons (%d):\n", len(entries))
	fmt.Println("Lesson   Size       Stale  Cached At")
	fmt.Println("──────────────────────────────────────────────")
	for _, entry := range entries {
		stale := " "
		if entry.Stale {
			stale = "✓"
		}
		fmt.Printf("%-8d %-10s %-6s %s\n",
			entry.LessonID,
			formatBytes(entry.Bytes),
			stale,
			entry.CachedAt.Local().Format("2006-01-02 15:04"))
	}

	return nil
}

// RunCacheEvict removes one lesson from the cache.
func RunCacheEvict(ctx context.Context, lessonID int64) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	if err := e.Cache.Evict(ctx, lessonID); err != nil {
		return err
	}
	fmt.Printf("Evicted lesson %d from cache.\n", lessonID)
	return nil
}

// RunCacheStatus shows cache statistics.
func RunCacheStatus(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	stats, err := e.Cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	fmt.Println("Cache Status")
	fmt.Println("============")
	fmt.Printf("Total entries:  %d\n", stats.TotalEntries)
	fmt.Printf("Size:           %s\n", formatBytes(stats.TotalBytes))
	fmt.Printf("Stale:          %d entries (older than %s)\n", stats.StaleEntries, e.Config.Cache.StaleAfter)
	if stats.Oldest != nil {
		fmt.Printf("Oldest:         %s\n", stats.Oldest.Local().Format("2006-01-02 15:04"))
	}

	return nil
}

// formatBytes formats bytes as human-readable.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatSpeed(s *model.BandwidthSample) string {
	if s.SpeedMbps == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.2f Mbps", *s.SpeedMbps)
}

// --- Catalog Commands ---

// VariantFlags carries `variant add` flag values.
type VariantFlags struct {
	LessonID        int64
	Tier            string
	Type            string
	URL             string
	Text            string
	SizeMB          *float64
	DurationMinutes *int
	Quality         string
}

// RunVariantAdd upserts one variant into the device catalog.
func RunVariantAdd(ctx context.Context, f VariantFlags) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	v, err := model.VariantRecord{
		LessonID:        f.LessonID,
		BandwidthType:   model.ContentTier(strings.ToLower(f.Tier)),
		ContentType:     model.ContentType(strings.ToLower(f.Type)),
		ContentURL:      f.URL,
		ContentText:     f.Text,
		SizeMB:          f.SizeMB,
		DurationMinutes: f.DurationMinutes,
		Quality:         f.Quality,
	}.Variant()
	if err != nil {
		return err
	}

	created, err := e.Catalog.PutVariant(ctx, v)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Added %s variant for lesson %d.\n", v.Tier, v.LessonID)
	} else {
		fmt.Printf("Updated %s variant for lesson %d.\n", v.Tier, v.LessonID)
	}
	return nil
}

// RunVariantList lists a lesson's variants.
func RunVariantList(ctx context.Context, lessonID int64) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	lesson, err := e.Catalog.Lesson(ctx, lessonID)
	if err != nil {
		return err
	}
	variants, err := e.Catalog.Variants(ctx, lessonID)
	if err != nil {
		return err
	}

	fmt.Printf("Lesson %d: %s\n", lesson.ID, lesson.Title)
	if len(variants) == 0 {
		fmt.Println("No variants. Content falls back to lesson text.")
		return nil
	}
	fmt.Println("Tier     Type   Location")
	fmt.Println("──────────────────────────────────────────────")
	for _, v := range variants {
		r := v.Record()
		loc := r.ContentURL
		if loc == "" {
			loc = fmt.Sprintf("(inline text, %d chars)", len(r.ContentText))
		}
		fmt.Printf("%-8s %-6s %s%s\n", r.BandwidthType, r.ContentType, loc, mediaDetails(r.SizeMB, r.DurationMinutes, r.Quality))
	}
	return nil
}

// importFile is the YAML shape read by `variant import`.
type importFile struct {
	Lessons  []model.Lesson        `yaml:"lessons"`
	Variants []model.VariantRecord `yaml:"variants"`
}

// RunVariantImport loads lessons and variants from a YAML file.
func RunVariantImport(ctx context.Context, path string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	lessons, created, updated, err := importCatalog(ctx, e.Catalog, data)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d lessons, %d new variants, %d updated variants.\n", lessons, created, updated)
	return nil
}

// importCatalog applies a YAML import document to the catalog.
func importCatalog(ctx context.Context, catalog *core.Catalog, data []byte) (lessons, created, updated int, err error) {
	var doc importFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to parse import file: %w", err)
	}

	for i := range doc.Lessons {
		if err := catalog.PutLesson(ctx, &doc.Lessons[i]); err != nil {
			return lessons, created, updated, fmt.Errorf("lesson %d: %w", doc.Lessons[i].ID, err)
		}
		lessons++
	}

	for i, rec := range doc.Variants {
		v, err := rec.Variant()
		if err != nil {
			return lessons, created, updated, fmt.Errorf("variant #%d: %w", i+1, err)
		}
		isNew, err := catalog.PutVariant(ctx, v)
		if err != nil {
			return lessons, created, updated, fmt.Errorf("variant #%d (lesson %d, %s): %w", i+1, v.LessonID, v.Tier, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}
	return lessons, created, updated, nil
}

// RunLessonAdd upserts a lesson into the device catalog.
func RunLessonAdd(ctx context.Context, id int64, title, course, content string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}
	if err := e.Catalog.PutLesson(ctx, &model.Lesson{ID: id, Title: title, CourseTitle: course, Content: content}); err != nil {
		return err
	}
	fmt.Printf("Saved lesson %d.\n", id)
	return nil
}

// RunLessonList lists catalog lessons with their tiers.
func RunLessonList(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	lessons, err := e.Catalog.ListLessons(ctx)
	if err != nil {
		return err
	}
	if len(lessons) == 0 {
		fmt.Println("No lessons.")
		return nil
	}

	for _, l := range lessons {
		tiers, err := e.Catalog.Tiers(ctx, l.ID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(tiers))
		for _, t := range tiers {
			names = append(names, string(t))
		}
		fmt.Printf("%-6d %-40s [%s]\n", l.ID, l.Title, strings.Join(names, ","))
	}
	return nil
}

// --- Status ---

// RunStatus displays the overview.
func RunStatus(ctx context.Context, jsonOutput bool) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	dashboard := core.NewDashboard(e.Store.DB(), e.Cache, e.Classifier, e.Resolver)
	overview, err := dashboard.GetOverview(ctx)
	if err != nil {
		return fmt.Errorf("failed to get overview: %w", err)
	}

	if jsonOutput {
		output, _ := json.MarshalIndent(overview, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println("ruralcast Status")
	fmt.Println("================")
	fmt.Printf("Store:      %s", e.Store.Path())
	if e.Store.IsEncrypted() {
		fmt.Print(" (encrypted)")
	}
	fmt.Println()
	fmt.Println()

	fmt.Println("Learning Mode")
	fmt.Println("───────────────────────────────────────")
	fmt.Printf("   Effective:      %s\n", overview.EffectiveMode.Label())
	fmt.Printf("   Selected:       %s", overview.Preference.SelectedMode.Label())
	if overview.Preference.IsManual {
		fmt.Print(" (manual)")
	}
	fmt.Println()
	if overview.DataSaver {
		fmt.Println("   Data saver:     on")
	}
	fmt.Println()

	fmt.Println("Bandwidth")
	fmt.Println("───────────────────────────────────────")
	fmt.Printf("   Level:          %s (%s)\n", overview.Level, overview.Level.Describe())
	if overview.LastSample != nil {
		s := overview.LastSample.Sample
		fmt.Printf("   Last sample:    %s via %s at %s\n", formatSpeed(&s), s.Method, s.MeasuredAt.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Println("   Last sample:    none")
	}
	if sum := overview.Samples24h; sum != nil && sum.Count > 0 {
		fmt.Printf("   Last 24h:       %d samples, avg %.2f Mbps (min %.2f, max %.2f)\n",
			sum.Count, sum.AverageMbps, sum.MinMbps, sum.MaxMbps)
		if sum.FallbackCount > 0 {
			fmt.Printf("   Failed probes:  %d\n", sum.FallbackCount)
		}
	}
	fmt.Println()

	fmt.Println("Offline Cache")
	fmt.Println("───────────────────────────────────────")
	if overview.Cache != nil {
		fmt.Printf("   Lessons:        %d (%s)\n", overview.Cache.TotalEntries, formatBytes(overview.Cache.TotalBytes))
		if overview.Cache.StaleEntries > 0 {
			fmt.Printf("   Stale:          %d\n", overview.Cache.StaleEntries)
		}
	}
	fmt.Println()

	fmt.Println("Catalog")
	fmt.Println("───────────────────────────────────────")
	fmt.Printf("   Lessons:        %d\n", overview.Lessons)
	fmt.Printf("   Variants:       %d\n", overview.Variants)
	fmt.Println()

	if verbose {
		fmt.Println("Sources")
		fmt.Println("───────────────────────────────────────")
		primary := e.Sources.Primary()
		for _, s := range e.Sources.All() {
			mark := " "
			if primary != nil && s.ID() == primary.ID() {
				mark = "*"
			}
			fmt.Printf(" %s %-8s %-30s %s\n", mark, s.ID(), s.DisplayName(), s.CheckHealth(ctx))
		}
		fmt.Println()
	}

	fmt.Printf("Generated: %s\n", overview.GeneratedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

// --- Scan Commands ---

// RunScan runs one read-only scan and prints its findings.
func RunScan(ctx context.Context, kind string) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	scanner := core.NewScanner(e.Store.DB(), e.Cache)
	var result *core.ScanResult
	switch kind {
	case "store":
		result, err = scanner.ScanStore(ctx)
	case "cache":
		result, err = scanner.ScanCache(ctx)
	case "catalog":
		result, err = scanner.ScanCatalog(ctx)
	default:
		return fmt.Errorf("unknown scan: %s", kind)
	}
	if err != nil {
		return err
	}

	printScanResult(result)
	return nil
}

// RunScanSources checks every registered content source.
func RunScanSources(ctx context.Context) error {
	e, err := GetEngine(ctx)
	if err != nil {
		return err
	}

	result := &core.ScanResult{ScanType: "sources", ScanTime: time.Now()}
	primary := e.Sources.Primary()
	for _, s := range e.Sources.All() {
		result.TotalItems++
		state := s.CheckHealth(ctx)
		f := core.ScanFinding{
			Category:    s.Type(),
			Description: fmt.Sprintf("%s (%s): %s", s.ID(), s.DisplayName(), state),
		}
		switch state {
		case provider.HealthStateHealthy:
			f.Severity = core.SeverityOK
			result.OKCount++
		case provider.HealthStateDegraded:
			f.Severity = core.SeverityWarning
			result.WarningCount++
		default:
			f.Severity = core.SeverityWarning
			result.WarningCount++
			if primary != nil && s.ID() == primary.ID() {
				f.Suggestion = "Lessons will be served from the offline cache until it is reachable"
			}
		}
		result.Findings = append(result.Findings, f)
	}

	printScanResult(result)
	return nil
}

func printScanResult(result *core.ScanResult) {
	fmt.Printf("Scan: %s (%s)\n", result.ScanType, result.ScanTime.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Items: %d  OK: %d  Warnings: %d  Errors: %d\n",
		result.TotalItems, result.OKCount, result.WarningCount, result.ErrorCount)
	fmt.Println()

	for _, f := range result.Findings {
		icon := "✓"
		switch f.Severity {
		case core.SeverityWarning:
			icon = "⚠"
		case core.SeverityError:
			icon = "✗"
		}
		fmt.Printf("%s [%s] %s\n", icon, f.Category, f.Description)
		if f.Suggestion != "" {
			fmt.Printf("    → %s\n", f.Suggestion)
		}
	}
}

// RunConfigShow prints the effective configuration as YAML.
func RunConfigShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shown := *cfg
	if shown.Store.Passphrase != "" {
		shown.Store.Passphrase = "********"
	}

	out, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
