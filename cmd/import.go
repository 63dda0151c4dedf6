package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ilri/odktools-sub000/internal/config"
	"github.com/ilri/odktools-sub000/internal/document"
	"github.com/ilri/odktools-sub000/internal/hook"
	"github.com/ilri/odktools-sub000/internal/importer"
	"github.com/ilri/odktools-sub000/internal/manifest"
	"github.com/ilri/odktools-sub000/internal/metrics"
)

var (
	importManifest    string
	importErrorLog    string
	importFormat      string
	importSQLOut      string
	importHook        string
	importMapDir      string
	importAttachments string
	importDocumentID  string
	importOverwrite   bool
)

var importCmd = &cobra.Command{
	Use:   "import <document.json>...",
	Short: "Import submission documents",
	Long: `Import one or more submission documents into the database.

Every document is an independent run with its own transaction. A document
whose rows are rejected is rolled back completely and its failures are
written to the error log. Documents already imported are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyImportFlags(cmd, cfg)

		if importDocumentID != "" && len(args) > 1 {
			return fmt.Errorf("--id can only be used with a single document")
		}
		if cfg.Import.Manifest == "" {
			return fmt.Errorf("no manifest given. Use --manifest or set import.manifest")
		}

		m, err := manifest.Load(cfg.Import.Manifest)
		if err != nil {
			return err
		}

		ctx := context.Background()
		adapter, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer adapter.Close()

		store, closeStore, err := openStore(ctx, cfg, adapter)
		if err != nil {
			return err
		}
		defer closeStore()

		im := importer.New(adapter, m, store, loadHook(cfg.Import.HookScript), importer.OptionsFromConfig(cfg))

		if cfg.Import.SQLOut != "" {
			trace, err := os.OpenFile(cfg.Import.SQLOut, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open sql output: %w", err)
			}
			defer trace.Close()
			im.SetTrace(trace)
		}

		rec, err := metrics.New()
		if err != nil {
			return err
		}

		failed := 0
		for _, path := range args {
			if !importOne(ctx, im, rec, path) {
				failed++
			}
		}

		publishMetrics(cfg, rec)

		if failed > 0 {
			return fmt.Errorf("%d of %d document(s) were not imported", failed, len(args))
		}
		return nil
	},
}

// importOne runs a single document and reports whether it ended without
// failures.
func importOne(ctx context.Context, im *importer.Importer, rec *metrics.Recorder, path string) bool {
	start := time.Now()

	root, err := document.Load(path)
	if err != nil {
		color.Red("❌ %v", err)
		rec.ObserveRun("error", 0, 0, time.Since(start))
		return false
	}

	id := importDocumentID
	if id == "" {
		id = document.IDFromPath(path)
	}

	color.Cyan("🔄 Importing %s", id)
	res, err := im.Import(ctx, importer.Document{ID: id, Root: root})
	if err != nil {
		color.Red("❌ %s: %v", id, err)
		status := "error"
		if res != nil {
			status = res.Status.String()
		}
		rec.ObserveRun(status, 0, 0, time.Since(start))
		return false
	}

	rec.ObserveRun(res.Status.String(), len(res.Inserted), len(res.Failures), time.Since(start))

	if res.HookDisabled {
		color.Yellow("⚠️  %s: hook was disabled after a failure", id)
	}

	switch res.Status {
	case importer.AlreadyProcessed:
		color.Yellow("⏭️  %s was already imported", id)
		return true
	case importer.RolledBack:
		color.Red("❌ %s rolled back: %d row(s) rejected", id, len(res.Failures))
		return false
	default:
		color.Green("✅ %s imported: %d row(s)", id, len(res.Inserted))
		return true
	}
}

func loadHook(path string) hook.Hook {
	if path == "" {
		return hook.Noop{}
	}
	rules, err := hook.LoadRules(path)
	if err != nil {
		color.Yellow("⚠️  Hook disabled: %v", err)
		return hook.Noop{}
	}
	return rules
}

func publishMetrics(cfg *config.Config, rec *metrics.Recorder) {
	if cfg.Metrics.PushgatewayURL != "" {
		if err := rec.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			color.Yellow("⚠️  %v", err)
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			color.Yellow("⚠️  %v", err)
		}
	}
}

// applyImportFlags lets explicit flags override the config file.
func applyImportFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	override := func(name string, target *string, value string) {
		if flags.Changed(name) {
			*target = value
		}
	}

	override("manifest", &cfg.Import.Manifest, importManifest)
	override("error-log", &cfg.Import.ErrorLog, importErrorLog)
	override("format", &cfg.Import.ErrorFormat, importFormat)
	override("sql-out", &cfg.Import.SQLOut, importSQLOut)
	override("hook", &cfg.Import.HookScript, importHook)
	override("map-dir", &cfg.Import.MapDir, importMapDir)
	override("attachments", &cfg.Import.AttachmentsDir, importAttachments)
	if flags.Changed("overwrite-log") {
		cfg.Import.OverwriteLog = importOverwrite
	}
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importManifest, "manifest", "x", "", "Import manifest (XML or YAML)")
	importCmd.Flags().StringVarP(&importErrorLog, "error-log", "e", "", "Error log file")
	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Error log format: h (tab separated) or m (XML)")
	importCmd.Flags().StringVarP(&importSQLOut, "sql-out", "S", "", "Append every generated statement to this file")
	importCmd.Flags().StringVar(&importHook, "hook", "", "Hook rule file")
	importCmd.Flags().StringVarP(&importMapDir, "map-dir", "m", "", "Directory for record map files")
	importCmd.Flags().StringVarP(&importAttachments, "attachments", "a", "", "Directory holding OSM attachments")
	importCmd.Flags().StringVar(&importDocumentID, "id", "", "Document id (default: file name up to the first dot)")
	importCmd.Flags().BoolVarP(&importOverwrite, "overwrite-log", "w", false, "Truncate the error log before the first write")
}
