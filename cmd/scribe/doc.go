package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scribe-go/internal/app"
	"scribe-go/internal/model"
	"scribe-go/internal/scribe"

	"github.com/spf13/cobra"
)

// readBlocksFile reads a document from path ("-" for stdin). format is
// "json" or "txt"; empty picks by file extension.
func readBlocksFile(path, format string) ([]model.Block, error) {
	parse, err := app.ParserFor(format, path)
	if err != nil {
		return nil, err
	}
	return app.ReadBlocksFile(path, parse)
}

func describeSave(res *scribe.SaveResult) string {
	switch {
	case res.Skipped:
		return "No changes to save."
	case res.Full:
		return fmt.Sprintf("Saved v%d as a full snapshot (%s).", res.Version, res.Reason)
	default:
		return fmt.Sprintf("Saved v%d with %d change(s).", res.Version, res.Changes)
	}
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimPrefix(s, "v"), 10, 64)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

// doc command
var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Manage documents",
}

var docImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Store a transcript as a new document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		blocks, err := readBlocksFile(args[0], format)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "ImportDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		id, res, err := a.ImportDocument(cmd.Context(), blocks)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Imported document %s\n", id)
		fmt.Println(describeSave(res))
		return nil
	},
}

var docEditCmd = &cobra.Command{
	Use:   "edit ID FILE",
	Short: "Save the content of FILE as the next version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		full, _ := cmd.Flags().GetBool("full")
		blocks, err := readBlocksFile(args[1], format)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "EditDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.EditDocument(cmd.Context(), args[0], blocks, full)
		if err != nil {
			return fmt.Errorf("save failed (%s): %w", scribe.Classify(err), err)
		}
		fmt.Println(describeSave(res))
		return nil
	},
}

var docWatchCmd = &cobra.Command{
	Use:   "watch ID FILE",
	Short: "Autosave FILE into the document until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		id, path := args[0], args[1]
		if path == "-" {
			return fmt.Errorf("watch needs a file, not stdin")
		}
		parse, err := app.ParserFor(format, path)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "WatchDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		onSave := func(res *scribe.SaveResult, err error) {
			stamp := time.Now().Format("15:04:05")
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s  save failed (%s): %v\n", stamp, scribe.Classify(err), err)
				return
			}
			if !res.Skipped {
				fmt.Printf("%s  %s\n", stamp, describeSave(res))
			}
		}

		fmt.Printf("Watching %s for document %s. Press Ctrl-C to stop.\n", path, id)
		return a.WatchDocument(ctx, id, app.FileLoader(path, parse), onSave)
	},
}

var docShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		versionFlag, _ := cmd.Flags().GetString("version")
		id := args[0]

		var version int64
		if versionFlag != "" {
			v, err := parseVersion(versionFlag)
			if err != nil {
				return err
			}
			version = v
		}

		a, err := newApp(cmd.Context(), "ShowDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		if version != 0 {
			if err := unlock(a); err != nil {
				return err
			}
		}
		st, err := a.ShowDocument(cmd.Context(), id, version)
		if err != nil {
			return err
		}

		switch format {
		case "json":
			return app.WriteBlocks(os.Stdout, st.Blocks)
		case "txt", "":
			h := app.TranscriptHeader{Title: id, Version: st.Version}
			history, err := a.History(cmd.Context(), id, 0)
			if err != nil {
				return err
			}
			for _, v := range history {
				if v.Version == st.Version {
					h.Date = v.Timestamp
					break
				}
			}
			return app.RenderText(os.Stdout, h, st.Blocks)
		default:
			return fmt.Errorf("unknown format %q (want txt or json)", format)
		}
	},
}

var docHistoryCmd = &cobra.Command{
	Use:   "history ID",
	Short: "List the versions of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "DocumentHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		history, err := a.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("No versions recorded.")
			return nil
		}

		rows := make([][]string, 0, len(history))
		for _, v := range history {
			kind := "delta"
			if v.IsFullSnapshot {
				kind = "full"
			}
			rows = append(rows, []string{
				fmt.Sprintf("v%d", v.Version),
				formatTime(v.Timestamp),
				kind,
				strconv.Itoa(v.ChangeCount),
				strconv.Itoa(v.BlockCount),
				strconv.Itoa(v.WordCount),
				formatBytes(v.PayloadSize),
				v.ChangeSummary,
			})
		}
		printTable(os.Stdout,
			[]string{"Version", "Saved", "Type", "Changes", "Blocks", "Words", "Size", "Summary"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft})
		return nil
	},
}

var docListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListDocuments")
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.Documents(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents.")
			return nil
		}

		rows := make([][]string, 0, len(docs))
		for _, d := range docs {
			lastFull := "-"
			if !d.LastFullAt.IsZero() {
				lastFull = formatTime(d.LastFullAt)
			}
			rows = append(rows, []string{
				d.ID,
				fmt.Sprintf("v%d", d.LatestVersion),
				formatTime(d.UpdatedAt),
				lastFull,
			})
		}
		printTable(os.Stdout,
			[]string{"Document", "Version", "Updated", "Last full"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft})
		return nil
	},
}

var docRestoreCmd = &cobra.Command{
	Use:   "restore ID VERSION",
	Short: "Make an earlier version the latest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := parseVersion(args[1])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "RestoreDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}
		st, err := a.RestoreDocument(cmd.Context(), args[0], version)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Restored v%d as v%d (%d blocks).\n", version, st.Version, len(st.Blocks))
		return nil
	},
}

var docPruneCmd = &cobra.Command{
	Use:   "prune ID",
	Short: "Drop old versions of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")

		a, err := newApp(cmd.Context(), "PruneDocument")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.PruneDocument(cmd.Context(), args[0], keep)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
		if res.Versions == 0 {
			fmt.Println("Nothing to prune.")
			return nil
		}
		fmt.Printf("Removed %d version(s) and %d payload(s).\n", res.Versions, res.Blobs)
		return nil
	},
}

var docRenameSpeakerCmd = &cobra.Command{
	Use:   "rename-speaker ID REF NAME",
	Short: "Set the display name of a speaker",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RenameSpeaker")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.RenameSpeaker(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("rename failed: %w", err)
		}
		fmt.Printf("Renamed %s in %d block(s).\n", args[1], n)
		return nil
	},
}

func init() {
	docCmd.AddCommand(docImportCmd)
	docImportCmd.Flags().String("format", "", "Input format: json or txt (default: by extension)")

	docCmd.AddCommand(docEditCmd)
	docEditCmd.Flags().String("format", "", "Input format: json or txt (default: by extension)")
	docEditCmd.Flags().Bool("full", false, "Save a full snapshot regardless of policy")

	docCmd.AddCommand(docWatchCmd)
	docWatchCmd.Flags().String("format", "", "Input format: json or txt (default: by extension)")

	docCmd.AddCommand(docShowCmd)
	docShowCmd.Flags().String("version", "", "Version to show (default: latest)")
	docShowCmd.Flags().String("format", "txt", "Output format: txt or json")

	docCmd.AddCommand(docHistoryCmd)
	docHistoryCmd.Flags().IntP("limit", "n", 0, "Maximum number of versions to show (0 for all)")

	docCmd.AddCommand(docListCmd)
	docCmd.AddCommand(docRestoreCmd)

	docCmd.AddCommand(docPruneCmd)
	docPruneCmd.Flags().Int("keep", 0, "Versions to keep (default: retention.keep_versions)")

	docCmd.AddCommand(docRenameSpeakerCmd)
}
