package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/facerec/internal/store"
	"github.com/andresmejia3/facerec/internal/types"
	"github.com/andresmejia3/facerec/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <old_label> <new_label>",
	Short: "Rename a subject in the saved gallery",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := validateLabel(args[1]); err != nil {
			return err
		}
		return runLabel(cmd.Context(), types.Label(args[0]), types.Label(args[1]))
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

// validateLabel rejects names the matcher could not tell apart from a miss.
func validateLabel(name string) error {
	if name == "" {
		return errors.New("label must not be empty")
	}
	if types.Label(name) == types.Unknown {
		return fmt.Errorf("label %q is reserved for unmatched faces", name)
	}
	return nil
}

func runLabel(ctx context.Context, from, to types.Label) error {
	db, err := openStore(ctx)
	if err != nil {
		utils.ShowError("Failed to open database", err, nil)
		return err
	}

	n, err := db.RenameLabel(ctx, from, to)
	if errors.Is(err, store.ErrLabelNotFound) {
		return fmt.Errorf("no gallery entries labelled %q", from)
	}
	if err != nil {
		utils.ShowError("Failed to relabel gallery entries", err, nil)
		return err
	}

	fmt.Printf("✅ %d entries relabelled from '%s' to '%s'\n", n, from, to)
	return nil
}
