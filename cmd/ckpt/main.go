package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ckpt-go/internal/app"
	"ckpt-go/internal/ckpt"
	"ckpt-go/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Restore").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts := app.Options{LogLevel: slog.LevelInfo}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		opts.LogLevel = slog.LevelDebug
	}
	if keep, err := cmd.Flags().GetBool("keep-staging"); err == nil {
		opts.KeepStaging = keep
	}

	a, err := app.NewApp(cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// confirmed returns true when --yes was given or the user agrees on the terminal.
func confirmed(cmd *cobra.Command, question string) (bool, error) {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}
	return app.Confirm(os.Stdin, os.Stdout, question)
}

func changeIndicator(ev ckpt.Event) string {
	switch {
	case ev.Kind == ckpt.EventFileRemoved:
		return "D"
	case ev.IsNew():
		return "A"
	default:
		return "M"
	}
}

func pendingBytes(r *ckpt.Report) uint64 {
	var n uint64
	for _, ev := range r.Changes {
		if ev.Kind == ckpt.EventFileChanged {
			n += uint64(ev.Current.Size)
		}
	}
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var rootCmd = &cobra.Command{
	Use:          "ckpt",
	Short:        "Checkpoint-based incremental backups",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init SOURCE BACKUP",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get application defaults
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		sourceRoot, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving source root: %w", err)
		}
		backupRoot, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving backup root: %w", err)
		}

		// Generate a new host ID
		hostID := uuid.New().String()

		cfg := config.NewConfig(hostID, defaults.BaseDir, sourceRoot, backupRoot)
		if err := cfg.Settings().Validate(); err != nil {
			return err
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID:     %s\n", hostID)
		fmt.Printf("Source Root: %s\n", sourceRoot)
		fmt.Printf("Backup Root: %s\n", backupRoot)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		s := cfg.Settings()

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Source Root:  %s\n", s.SourceRoot)
		fmt.Printf("Backup Root:  %s\n", s.BackupRoot)
		fmt.Printf("Staging Dir:  %s\n", s.StagingDir)
		fmt.Printf("Sidecars:     *%s in %s\n", s.MetaExtension, s.ArchiveName)
		fmt.Printf("On Error:     %s\n", s.OnError)
		fmt.Printf("Lock Timeout: %s\n", cfg.Lock.Timeout())
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a new checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			p, err := newApp(cmd, "Preview")
			if err != nil {
				return err
			}
			preview, err := p.Preview()
			p.Close()
			if err != nil {
				return fmt.Errorf("preview failed: %w", err)
			}
			if preview.Changed() == 0 && len(preview.Removed) == 0 && preview.Previous != "" {
				fmt.Printf("Nothing changed since %s.\n", preview.Previous)
			}
			question := fmt.Sprintf("Copy %d new and %d modified file(s) (%s), %d removed?",
				preview.New, preview.Modified, humanize.Bytes(pendingBytes(preview)), len(preview.Removed))
			ok, err := confirmed(cmd, question)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(cmd, ckpt.OpBackup)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Backup()
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Checkpoint %s: %d file(s), %d copied (%s), %d unchanged, %d removed\n",
			report.Checkpoint, report.Files, report.Changed(), humanize.Bytes(uint64(report.BytesCopied)),
			report.Unchanged, len(report.Removed))
		if report.StagingDir != "" {
			fmt.Printf("Staging copy kept at %s\n", report.StagingDir)
		}
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the next backup would copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Preview")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Preview()
		if err != nil {
			return err
		}

		if report.Previous == "" {
			fmt.Println("No checkpoint yet; every file is new.")
		}
		if len(report.Changes) == 0 {
			fmt.Println("No changes.")
			return nil
		}
		for _, ev := range report.Changes {
			fmt.Printf("%s %s\n", changeIndicator(ev), ev.RelPath)
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListCheckpoints")
		if err != nil {
			return err
		}
		defer a.Close()

		cps, err := a.ListCheckpoints()
		if err != nil {
			return err
		}

		if len(cps) == 0 {
			fmt.Println("No checkpoints.")
			return nil
		}

		for _, cp := range cps {
			latest := ""
			if cp.IsLatest {
				latest = "  [latest]"
			}
			fmt.Printf("%s  %s%s\n", cp.Name, humanize.Time(cp.Time), latest)
		}
		return nil
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log FILENAME",
	Short: "View file history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "FileHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.FileHistory(args[0])
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No backup history.")
			return nil
		}

		for _, e := range entries {
			flags := ""
			if e.HasContent {
				flags += "  [copied]"
			}
			if e.IsLatest {
				flags += "  [latest]"
			}
			fmt.Printf("%s  %s  %8s  captured:%s%s\n",
				e.Checkpoint,
				e.Record.Hash[:12],
				humanize.IBytes(uint64(e.Record.Size)),
				e.Record.CapturedAt.Format("2006-01-02 15:04:05"),
				flags,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "Runs")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.Runs(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.Finished() {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %-18s  %s  %-9s  %-19s  %s\n",
				shortID(r.ID),
				r.Operation,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				r.Checkpoint,
				duration,
			)
			if r.Error != "" {
				fmt.Printf("          %s\n", r.Error)
			}
		}
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore [PATH]",
	Short: "Restore files from a checkpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		checkpoint, _ := cmd.Flags().GetString("checkpoint")
		dest, _ := cmd.Flags().GetString("dest")

		a, err := newApp(cmd, ckpt.OpRestore)
		if err != nil {
			return err
		}
		defer a.Close()

		target := ""
		if len(args) > 0 {
			target = args[0]
		}

		restored, absDest, err := a.Restore(checkpoint, target, dest)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		var total int64
		for _, r := range restored {
			total += r.Size
		}
		fmt.Printf("Restored %d file(s) (%s) into %s\n", len(restored), humanize.Bytes(uint64(total)), absDest)
		return nil
	},
}

// meta command
var metaCmd = &cobra.Command{
	Use:   "meta DIR",
	Short: "Regenerate the metadata of a directory tree in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := confirmed(cmd, fmt.Sprintf("Write metadata archives into every directory under %s?", args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}

		a, err := newApp(cmd, ckpt.OpRegenerate)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.RegenerateMetadata(args[0])
		if err != nil {
			return fmt.Errorf("regenerating metadata: %w", err)
		}

		fmt.Printf("Recorded %d file(s) under %s\n", report.Files, args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	backupCmd.Flags().Bool("keep-staging", false, "Keep the staging copy of the previous metadata")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringP("checkpoint", "c", "", "Checkpoint to restore (default: latest)")
	restoreCmd.Flags().StringP("dest", "d", "", "Destination directory (default: ./restore-<checkpoint>)")
	rootCmd.AddCommand(metaCmd)
	metaCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
}
