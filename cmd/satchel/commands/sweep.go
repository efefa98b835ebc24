package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/satchel-edu/satchel/pkg/cache"
)

var sweepOwner string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired content from the cache",
	Long: `Remove expired content from the store in one pass.

The running daemon sweeps on its own interval; this command is for
maintenance on a store the daemon is not holding open.

Examples:
  # Sweep every owner
  satchel sweep

  # Sweep one owner
  satchel sweep --owner student-4821`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepOwner, "owner", "", "Owner ID to sweep (default: all owners)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	service, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()

	var owners []cache.OwnerID
	if sweepOwner != "" {
		owners = []cache.OwnerID{cache.OwnerID(sweepOwner)}
	} else {
		owners, err = service.Owners(ctx)
		if err != nil {
			return fmt.Errorf("failed to list owners: %w", err)
		}
	}

	total := 0
	for _, owner := range owners {
		purged, err := service.SweepExpired(ctx, owner)
		if err != nil {
			return fmt.Errorf("failed to sweep owner %s: %w", owner, err)
		}
		total += purged
	}

	fmt.Printf("Purged %d expired item(s) across %d owner(s).\n", total, len(owners))
	return nil
}
