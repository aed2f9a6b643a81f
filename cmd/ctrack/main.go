package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ctrack-go/internal/app"
	"ctrack-go/internal/config"
	"ctrack-go/internal/ctrack"
	"ctrack-go/internal/export"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a CTApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "record", "watch").
func newApp(operation string) (*app.CTApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewCTApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// closeApp closes a and reports a failed flush through the command's error.
func closeApp(a *app.CTApp, err *error) {
	if cerr := a.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

var rootCmd = &cobra.Command{
	Use:          "ctrack",
	Short:        "Record and snapshot file changes during an investigation",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Storage Root: %s\n", cfg.StorageRoot)
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

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		m := &config.Manager{}
		return m.Write(cmd.OutOrStdout(), cfg)
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the key pair used to encrypt exports",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("keys")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		recipient, err := a.SetupKeys(passphrase)
		if err != nil {
			if errors.Is(err, ctrack.ErrKeysExist) {
				return fmt.Errorf("keys already exist; remove them first to generate new ones")
			}
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Println("Export keys generated.")
		if recipient != "" {
			fmt.Printf("Bundles are encrypted to %s\n", recipient)
		}
		return nil
	},
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record PATH",
	Short: "Record a change to a path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		changeType, _ := cmd.Flags().GetString("type")
		investigation, _ := cmd.Flags().GetString("investigation")
		isDir, _ := cmd.Flags().GetBool("dir")
		oldPath, _ := cmd.Flags().GetString("old-path")
		hash, _ := cmd.Flags().GetString("hash")

		a, err := newApp("record")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		rec, err := a.RecordChange(ctrack.ChangeInput{
			Path:        args[0],
			ChangeType:  changeType,
			IsDirectory: isDir,
			OldPath:     oldPath,
			FileHash:    hash,
		}, investigation)
		if err != nil {
			return err
		}

		fmt.Printf("Recorded %s %s\n", rec.ChangeType, rec.Path)
		return nil
	},
}

// changes command
var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List recorded changes, newest first",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := newRenderer(cmd)
		if err != nil {
			return err
		}

		now := time.Now()
		sinceRaw, _ := cmd.Flags().GetString("since")
		untilRaw, _ := cmd.Flags().GetString("until")
		since, err := parseTime(sinceRaw, now)
		if err != nil {
			return err
		}
		until, err := parseTime(untilRaw, now)
		if err != nil {
			return err
		}

		q := ctrack.ChangeQuery{Since: since, Until: until}
		q.InvestigationID, _ = cmd.Flags().GetString("investigation")
		q.PathContains, _ = cmd.Flags().GetString("path")
		q.ChangeType, _ = cmd.Flags().GetString("type")
		q.Limit, _ = cmd.Flags().GetInt("limit")

		a, err := newApp("changes")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		records, err := a.GetChanges(q)
		if err != nil {
			return err
		}
		if records == nil {
			records = []*ctrack.ChangeRecord{}
		}
		return r.render(records, func(w io.Writer) error { return writeChanges(w, records) })
	},
}

// summary command
var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize recorded changes",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := newRenderer(cmd)
		if err != nil {
			return err
		}

		investigation, _ := cmd.Flags().GetString("investigation")
		sinceRaw, _ := cmd.Flags().GetString("since")
		since, err := parseTime(sinceRaw, time.Now())
		if err != nil {
			return err
		}

		a, err := newApp("summary")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s, err := a.GetChangeSummary(investigation, since)
		if err != nil {
			return err
		}
		return r.render(s, func(w io.Writer) error { return writeSummary(w, s) })
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage investigation snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create INVESTIGATION [PATH]",
	Short: "Snapshot an investigation",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		pairs, _ := cmd.Flags().GetStringArray("meta")
		metadata, err := parseMetadata(pairs)
		if err != nil {
			return err
		}

		target := "."
		if len(args) > 1 {
			target = args[1]
		}

		a, err := newApp("snapshot")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		s, err := a.CreateSnapshot(args[0], target, metadata)
		if err != nil {
			return err
		}

		fmt.Printf("Snapshot of %s at %s: %d file(s), %d change(s) since last\n",
			s.InvestigationID, s.Timestamp.Format("2006-01-02 15:04:05"), s.FileCount, len(s.ChangesSinceLast))
		return nil
	},
}

var snapshotHistoryCmd = &cobra.Command{
	Use:   "history INVESTIGATION",
	Short: "View snapshot history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := newRenderer(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		history, err := a.GetSnapshotHistory(args[0], limit)
		if err != nil {
			return err
		}
		return r.render(history, func(w io.Writer) error { return writeHistory(w, history) })
	},
}

var snapshotReindexCmd = &cobra.Command{
	Use:   "reindex INVESTIGATION",
	Short: "Rebuild the snapshot chain from the snapshot files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp("reindex")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		n, backup, err := a.Reindex(args[0])
		if err != nil {
			return err
		}

		if backup != "" {
			fmt.Printf("Previous index saved to %s\n", backup)
		}
		fmt.Printf("Linked %d snapshot(s)\n", n)
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch [DIR]",
	Short: "Record changes below a directory until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		investigation, _ := cmd.Flags().GetString("investigation")
		flushInterval, _ := cmd.Flags().GetDuration("flush-interval")

		root := "."
		if len(args) > 0 {
			root = args[0]
		}

		a, err := newApp("watch")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		w, err := a.NewWatcher(root, investigation, flushInterval)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Fprintln(os.Stderr, "Watching; press Ctrl-C to stop.")
		return w.Run(ctx)
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export INVESTIGATION",
	Short: "Export an investigation's snapshots as one bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		out, _ := cmd.Flags().GetString("out")
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		a, err := newApp("export")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		if out == "-" {
			_, err := a.Export(args[0], os.Stdout, encrypt)
			return err
		}

		b, err := exportToFile(a, args[0], out, encrypt)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d snapshot(s) to %s\n", len(b.Snapshots), out)
		return nil
	},
}

// exportToFile writes the bundle to a temp file beside path and renames it
// into place once complete.
func exportToFile(a *app.CTApp, investigationID, path string, encrypt bool) (*export.Bundle, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ctrack-export-*")
	if err != nil {
		return nil, fmt.Errorf("creating export file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	b, err := a.Export(investigationID, tmp, encrypt)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing export file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("moving export into place: %w", err)
	}
	return b, nil
}

// import-view command
var importViewCmd = &cobra.Command{
	Use:   "import-view FILE",
	Short: "Show the contents of an export bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := newRenderer(cmd)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening bundle: %w", err)
		}
		defer f.Close()

		a, err := newApp("import-view")
		if err != nil {
			return err
		}
		defer closeApp(a, &err)

		b, err := a.ReadBundle(f, func() (string, error) { return readPassphrase("Passphrase: ") })
		if err != nil {
			return err
		}
		return r.render(b, func(w io.Writer) error { return writeBundle(w, b) })
	},
}

func addOutputFlag(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().String("output", "text", "Output format: text, json or yaml")
	}
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// snapshot subcommands
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCreateCmd.Flags().StringArray("meta", nil, "Metadata entry as key=value (repeatable)")
	snapshotCmd.AddCommand(snapshotHistoryCmd)
	snapshotHistoryCmd.Flags().IntP("limit", "n", ctrack.DefaultHistoryLimit, "Maximum number of snapshots to show")
	snapshotCmd.AddCommand(snapshotReindexCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(snapshotCmd)

	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringP("type", "t", ctrack.ChangeModified, "Change type (created, modified, deleted, moved, ...)")
	recordCmd.Flags().StringP("investigation", "i", "", "Investigation ID")
	recordCmd.Flags().Bool("dir", false, "The path is a directory")
	recordCmd.Flags().String("old-path", "", "Previous path of a moved file")
	recordCmd.Flags().String("hash", "", "Content hash (computed from disk when omitted)")

	rootCmd.AddCommand(changesCmd)
	changesCmd.Flags().StringP("investigation", "i", "", "Only changes of this investigation")
	changesCmd.Flags().String("since", "", "Only changes at or after this time (RFC 3339, YYYY-MM-DD or duration)")
	changesCmd.Flags().String("until", "", "Only changes at or before this time")
	changesCmd.Flags().String("path", "", "Only paths containing this substring")
	changesCmd.Flags().StringP("type", "t", "", "Only changes of this type")
	changesCmd.Flags().IntP("limit", "n", ctrack.DefaultQueryLimit, "Maximum number of changes to show")

	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().StringP("investigation", "i", "", "Only changes of this investigation")
	summaryCmd.Flags().String("since", "", "Only changes at or after this time (RFC 3339, YYYY-MM-DD or duration)")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringP("investigation", "i", "", "Investigation ID to tag changes with")
	watchCmd.Flags().Duration("flush-interval", 30*time.Second, "How often buffered changes are written to disk (0 disables)")

	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("out", "o", "", "Bundle file to write ('-' for stdout)")
	exportCmd.MarkFlagRequired("out")
	exportCmd.Flags().Bool("encrypt", false, "Encrypt the bundle with the configured public key")

	rootCmd.AddCommand(importViewCmd)

	addOutputFlag(changesCmd, summaryCmd, snapshotHistoryCmd, importViewCmd)
}
