// Package cli implements the ruralcast command-line interface.
// Built with cobra. Commands stay thin: each one resolves the engine and
// calls a RunXxx function in engine.go.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	configPath string
)

// rootCmd is the base command for ruralcast.
var rootCmd = &cobra.Command{
	Use:   "ruralcast",
	Short: "Bandwidth-aware learning mode engine",
	Long: `ruralcast measures connection speed, picks a learning mode
(video, audio or text) and serves lessons in the matching format.

It provides:
  • Periodic bandwidth checks with mode suggestions
  • Manual mode override and data saver
  • Lesson variant catalog and content API
  • Offline cache of the last fetched lessons`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeEngine()
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to ruralcast.yaml")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(dataSaverCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(variantCmd)
	rootCmd.AddCommand(lessonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scanCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default from server.addr)")

	sessionCmd.AddCommand(sessionRunCmd)

	modeCmd.AddCommand(modeGetCmd)
	modeCmd.AddCommand(modeSetCmd)
	modeSetCmd.Flags().Bool("auto-flag", false, "Store the choice as non-manual")

	contentCmd.AddCommand(contentGetCmd)
	contentGetCmd.Flags().String("mode", "", "Force a mode instead of measuring (video, audio, text)")
	contentGetCmd.Flags().String("source", "", "Content source id (remote, local)")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheEvictCmd)
	cacheCmd.AddCommand(cacheStatusCmd)

	variantCmd.AddCommand(variantAddCmd)
	variantCmd.AddCommand(variantListCmd)
	variantCmd.AddCommand(variantImportCmd)
	variantAddCmd.Flags().String("tier", "", "Bandwidth tier: low, medium, high")
	variantAddCmd.Flags().String("type", "", "Content type: video, audio, text, pdf")
	variantAddCmd.Flags().String("url", "", "Content URL")
	variantAddCmd.Flags().String("text", "", "Inline text body")
	variantAddCmd.Flags().Float64("size-mb", 0, "Size in MB")
	variantAddCmd.Flags().Int("duration", 0, "Duration in minutes")
	variantAddCmd.Flags().String("quality", "", "Quality label, e.g. 720p")
	variantAddCmd.MarkFlagRequired("tier")
	variantAddCmd.MarkFlagRequired("type")

	lessonCmd.AddCommand(lessonAddCmd)
	lessonCmd.AddCommand(lessonListCmd)
	lessonAddCmd.Flags().String("title", "", "Lesson title")
	lessonAddCmd.Flags().String("course", "", "Course title")
	lessonAddCmd.Flags().String("content", "", "Lesson text")
	lessonAddCmd.MarkFlagRequired("title")

	statusCmd.Flags().Bool("json", false, "Output as JSON")

	configCmd.AddCommand(configShowCmd)

	scanCmd.AddCommand(scanStoreCmd)
	scanCmd.AddCommand(scanCacheCmd)
	scanCmd.AddCommand(scanCatalogCmd)
	scanCmd.AddCommand(scanSourcesCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content and speed-test API",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return RunServe(cmd.Context(), addr)
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Learner session commands",
}

var sessionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session with periodic bandwidth checks",
	Long: `Run a long-lived session. Bandwidth is measured immediately and then
periodically. Suggestions are printed as they arrive.

Commands read from stdin:
  a, accept    accept the pending suggestion
  d, dismiss   dismiss the pending suggestion
  r, recheck   measure now
  s, status    print the current mode
  q, quit      end the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunSession(cmd.Context(), os.Stdin)
	},
}

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Measure bandwidth once and show the resulting mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunMeasure(cmd.Context())
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "Learning mode commands",
}

var modeGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the stored learning mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunModeGet(cmd.Context())
	},
}

var modeSetCmd = &cobra.Command{
	Use:   "set <auto|video|audio|text>",
	Short: "Set the learning mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		autoFlag, _ := cmd.Flags().GetBool("auto-flag")
		return RunModeSet(cmd.Context(), args[0], !autoFlag)
	},
}

var dataSaverCmd = &cobra.Command{
	Use:       "datasaver <on|off>",
	Short:     "Force text mode to save data",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDataSaver(cmd.Context(), args[0])
	},
}

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Lesson content commands",
}

var contentGetCmd = &cobra.Command{
	Use:   "get <lessonId>",
	Short: "Fetch a lesson in the current mode, falling back to the offline cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLessonID(args[0])
		if err != nil {
			return err
		}
		mode, _ := cmd.Flags().GetString("mode")
		source, _ := cmd.Flags().GetString("source")
		return RunContentGet(cmd.Context(), id, mode, source)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Offline cache commands",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCacheList(cmd.Context())
	},
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict <lessonId>",
	Short: "Remove a lesson from the offline cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLessonID(args[0])
		if err != nil {
			return err
		}
		return RunCacheEvict(cmd.Context(), id)
	},
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunCacheStatus(cmd.Context())
	},
}

var variantCmd = &cobra.Command{
	Use:   "variant",
	Short: "Lesson variant catalog commands",
}

var variantAddCmd = &cobra.Command{
	Use:   "add <lessonId>",
	Short: "Add or replace a variant for one tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLessonID(args[0])
		if err != nil {
			return err
		}
		tier, _ := cmd.Flags().GetString("tier")
		ctype, _ := cmd.Flags().GetString("type")
		url, _ := cmd.Flags().GetString("url")
		text, _ := cmd.Flags().GetString("text")
		quality, _ := cmd.Flags().GetString("quality")

		rec := VariantFlags{LessonID: id, Tier: tier, Type: ctype, URL: url, Text: text, Quality: quality}
		if cmd.Flags().Changed("size-mb") {
			v, _ := cmd.Flags().GetFloat64("size-mb")
			rec.SizeMB = &v
		}
		if cmd.Flags().Changed("duration") {
			v, _ := cmd.Flags().GetInt("duration")
			rec.DurationMinutes = &v
		}
		return RunVariantAdd(cmd.Context(), rec)
	},
}

var variantListCmd = &cobra.Command{
	Use:   "list <lessonId>",
	Short: "List variants of a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLessonID(args[0])
		if err != nil {
			return err
		}
		return RunVariantList(cmd.Context(), id)
	},
}

var variantImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import lessons and variants from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunVariantImport(cmd.Context(), args[0])
	},
}

var lessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Lesson catalog commands",
}

var lessonAddCmd = &cobra.Command{
	Use:   "add <lessonId>",
	Short: "Add or update a lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLessonID(args[0])
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		course, _ := cmd.Flags().GetString("course")
		content, _ := cmd.Flags().GetString("content")
		return RunLessonAdd(cmd.Context(), id, title, course, content)
	},
}

var lessonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lessons in the device catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunLessonList(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mode, bandwidth and cache overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return RunStatus(cmd.Context(), jsonOutput)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunConfigShow()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Read-only consistency checks",
}

var scanStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Check schema and stored preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunScan(cmd.Context(), "store")
	},
}

var scanCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Check that cached lessons are readable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunScan(cmd.Context(), "cache")
	},
}

var scanCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Check lessons and variants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunScan(cmd.Context(), "catalog")
	},
}

var scanSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Check content source health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunScanSources(cmd.Context())
	},
}

func parseLessonID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid lesson id: %s", s)
	}
	return id, nil
}
