package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/tools/devdata/dataset"
)

var (
	newDataSrcFlag     string
	newDataDstFlag     string
	newDataSendersFlag int
	newDataDryRun      bool
)

var newDataCmd = &cobra.Command{
	Use:   "new-data",
	Short: "Create a new dataset by copying top senders from a source",
	Long:  "Creates a new dataset directory with a subset of the source database: the N most-messaged senders per account, plus the full job history.",
	RunE:  runNewData,
}

func init() {
	newDataCmd.Flags().StringVar(&newDataSrcFlag, "src", "", "source dataset name (default: active dataset)")
	newDataCmd.Flags().StringVar(&newDataDstFlag, "dst", "", "destination dataset name (required)")
	newDataCmd.Flags().IntVar(&newDataSendersFlag, "senders", 0, "number of top senders to copy per account (required)")
	newDataCmd.Flags().BoolVar(&newDataDryRun, "dry-run", false, "show what would be copied without writing")
	_ = newDataCmd.MarkFlagRequired("dst")
	_ = newDataCmd.MarkFlagRequired("senders")
	rootCmd.AddCommand(newDataCmd)
}

func runNewData(cmd *cobra.Command, args []string) error {
	if newDataSendersFlag <= 0 {
		return fmt.Errorf("--senders must be a positive integer, got %d", newDataSendersFlag)
	}
	if err := dataset.ValidateDatasetName(newDataDstFlag); err != nil {
		return fmt.Errorf("invalid --dst: %w", err)
	}
	if newDataSrcFlag != "" {
		if err := dataset.ValidateDatasetName(newDataSrcFlag); err != nil {
			return fmt.Errorf("invalid --src: %w", err)
		}
	}

	home, err := homeDir()
	if err != nil {
		return err
	}

	// Resolve source path
	var srcDir string
	if newDataSrcFlag != "" {
		srcDir, err = datasetPath(newDataSrcFlag)
		if err != nil {
			return err
		}
	} else {
		msPath, err := mailsweepPath()
		if err != nil {
			return err
		}
		resolved, err := filepath.EvalSymlinks(msPath)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", msPath, err)
		}
		srcDir = resolved
	}

	// Resolve destination path
	dstDir, err := datasetPath(newDataDstFlag)
	if err != nil {
		return err
	}

	// Canonicalize and validate paths
	srcDir, err = filepath.Abs(filepath.Clean(srcDir))
	if err != nil {
		return fmt.Errorf("resolve source path: %w", err)
	}
	dstDir, err = filepath.Abs(filepath.Clean(dstDir))
	if err != nil {
		return fmt.Errorf("resolve destination path: %w", err)
	}

	// Path traversal protection: verify both paths are within home directory.
	// Use filepath.Rel to compute the relative path from home to each target;
	// if the result starts with ".." the path escapes the home directory.
	absHome, err := filepath.Abs(filepath.Clean(home))
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	srcRel, err := filepath.Rel(absHome, srcDir)
	if err != nil || srcRel == ".." || strings.HasPrefix(srcRel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("source path %q is outside home directory", srcDir)
	}
	dstRel, err := filepath.Rel(absHome, dstDir)
	if err != nil || dstRel == ".." || strings.HasPrefix(dstRel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("destination path %q is outside home directory", dstDir)
	}

	// Validate source
	srcDBPath := filepath.Join(srcDir, "mailsweep.db")
	if !dataset.Exists(srcDBPath) {
		return fmt.Errorf("source database not found: %s", srcDBPath)
	}

	// Validate destination doesn't exist
	if dataset.Exists(dstDir) {
		return fmt.Errorf("destination already exists: %s", dstDir)
	}

	// Dry run: show what would happen
	if newDataDryRun {
		fmt.Fprintf(os.Stdout, "Source:      %s\n", srcDir)
		fmt.Fprintf(os.Stdout, "Destination: %s\n", dstDir)
		fmt.Fprintf(os.Stdout, "Senders:     %d per account (most messaged first)\n", newDataSendersFlag)
		fmt.Fprintf(os.Stderr, "devdata: dry run, no changes made\n")
		return nil
	}

	// Perform the copy
	fmt.Fprintf(os.Stderr, "devdata: copying top %d senders per account from %s to %s...\n", newDataSendersFlag, srcDir, dstDir)

	result, err := dataset.CopySubset(srcDBPath, dstDir, newDataSendersFlag)
	if err != nil {
		return fmt.Errorf("copy dataset: %w", err)
	}

	// Copy config.toml if present
	srcConfig := filepath.Join(srcDir, "config.toml")
	dstConfig := filepath.Join(dstDir, "config.toml")
	if err := dataset.CopyFileIfExists(srcConfig, dstConfig, srcDir); err != nil {
		fmt.Fprintf(os.Stderr, "devdata: warning: could not copy config.toml: %v\n", err)
	}

	// Print summary
	fmt.Fprintf(os.Stderr, "devdata: created dataset %q in %s\n", newDataDstFlag, result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stdout, "Senders:       %d\n", result.Senders)
	fmt.Fprintf(os.Stdout, "Jobs:          %d\n", result.Jobs)
	fmt.Fprintf(os.Stdout, "Database size: %s\n", formatSize(result.DBSize))

	if result.Senders == 0 {
		fmt.Fprintf(os.Stderr, "devdata: warning: source database had no senders; run 'mailsweep analyze' against it first\n")
	}

	return nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
