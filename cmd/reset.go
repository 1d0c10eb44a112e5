package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetUploads bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Database, leftover uploads)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetUploads {
			resetDB = true
			resetUploads = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all database tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return showError("Failed to reset database", err, "")
				}
			}
		}

		if resetUploads {
			if resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Delete leftover face uploads in %s?", Cfg.Upload.Dir)) {
				fmt.Println("🗑️  Clearing Uploads...")
				n := removeUploads(Cfg.Upload.Dir)
				fmt.Printf("   %d file(s) removed\n", n)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Drop the PostgreSQL tables")
	resetCmd.Flags().BoolVar(&resetUploads, "uploads", false, "Delete face images left in the upload directory")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeUploads deletes files created by the upload handler. The directory itself may be
// shared with other programs and is left alone.
func removeUploads(dir string) int {
	matches, err := filepath.Glob(filepath.Join(dir, "face-*"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to scan %s: %v\n", dir, err)
		return 0
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}
	return removed
}
