package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facerec/internal/store"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the gallery entries saved in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Failed to open database", err, nil)
		return err
	}

	entries, err := db.ListEntries(ctx)
	if err != nil {
		utils.ShowError("Failed to list gallery entries", err, nil)
		return err
	}
	printEntries(os.Stdout, entries)
	return nil
}

func printEntries(out io.Writer, entries []store.EntryInfo) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No gallery entries found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPOS\tLABEL\tSOURCE\tDIM\tCREATED")
	fmt.Fprintln(w, "--\t---\t-----\t------\t---\t-------")

	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\n", e.ID, e.Position, e.Label, e.Source, e.Dim, e.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
