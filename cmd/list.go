package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users and their face enrollment status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	users, err := DB.ListUsers(ctx)
	if err != nil {
		return showError("Failed to list users", err, "")
	}

	if len(users) == 0 {
		fmt.Println("No users found in database.")
		return nil
	}
	writeUserTable(os.Stdout, users)
	return nil
}

func writeUserTable(out io.Writer, users []types.User) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tTYPE\tFACE\tCREATED")
	fmt.Fprintln(w, "--\t--------\t----\t----\t----\t-------")

	for _, u := range users {
		face := "-"
		if u.HasFace {
			face = "enrolled"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Name, u.Type, face, u.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
