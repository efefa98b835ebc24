package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/satchel-edu/satchel/internal/bytesize"
	"github.com/satchel-edu/satchel/internal/cli/output"
	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/config"
	"github.com/satchel-edu/satchel/pkg/registry"
)

var statusOwner string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status and offline readiness",
	Long: `Display what is cached and how long a student can work offline.

Without --owner, lists every owner in the store with item counts and sizes.
With --owner, shows the full capability summary for that owner: per-category
counts, last successful sync, unresolved conflicts, and the estimated hours
of offline work the cached content supports.

Examples:
  # List all owners
  satchel status

  # Show one student's offline readiness
  satchel status --owner student-4821`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusOwner, "owner", "", "Owner ID to summarize (default: list all owners)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	service, closeStore, err := openService()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()

	if statusOwner == "" {
		return printOwnerList(ctx, service)
	}
	return printCapabilities(ctx, service, cache.OwnerID(statusOwner))
}

// openService opens the configured store and wraps it in a cache service for
// one-shot CLI commands. The returned func closes the store.
func openService() (*cache.Service, func(), error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}

	st, err := config.OpenStore(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	service := cache.NewService(st, registry.New(registry.Options{}), cache.Config{
		MaxBytes:   cfg.Cache.MaxBytes.Int64(),
		DefaultTTL: cfg.Cache.DefaultTTL,
	})
	return service, func() { _ = st.Close() }, nil
}

func printOwnerList(ctx context.Context, service *cache.Service) error {
	owners, err := service.Owners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list owners: %w", err)
	}
	if len(owners) == 0 {
		fmt.Println("Cache is empty.")
		return nil
	}

	rows := make([][]string, 0, len(owners))
	for _, owner := range owners {
		caps, err := service.Capabilities(ctx, owner)
		if err != nil {
			return fmt.Errorf("failed to summarize owner %s: %w", owner, err)
		}
		rows = append(rows, []string{
			string(owner),
			strconv.Itoa(caps.TotalItems),
			bytesize.ByteSize(caps.TotalBytes).String(),
			strconv.Itoa(caps.ConflictCount),
			formatLastSync(caps),
		})
	}

	output.PrintTable(os.Stdout, []string{"Owner", "Items", "Size", "Conflicts", "Last Sync"}, rows)
	return nil
}

func printCapabilities(ctx context.Context, service *cache.Service, owner cache.OwnerID) error {
	caps, err := service.Capabilities(ctx, owner)
	if err != nil {
		return fmt.Errorf("failed to summarize owner %s: %w", owner, err)
	}

	fmt.Println()
	output.PrintKeyValues(os.Stdout, [][2]string{
		{"Owner", string(caps.OwnerID)},
		{"Items", strconv.Itoa(caps.TotalItems)},
		{"Size", bytesize.ByteSize(caps.TotalBytes).String()},
		{"Conflicts", strconv.Itoa(caps.ConflictCount)},
		{"Last sync", formatLastSync(caps)},
		{"Offline work", fmt.Sprintf("~%.1f hours", caps.EstimatedOfflineHours)},
	})

	if len(caps.PerCategory) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(caps.PerCategory))
		for _, category := range cache.Categories() {
			if count, ok := caps.PerCategory[category]; ok {
				rows = append(rows, []string{string(category), strconv.Itoa(count)})
			}
		}
		output.PrintTable(os.Stdout, []string{"Category", "Count"}, rows)
	}
	fmt.Println()
	return nil
}

func formatLastSync(caps *cache.Capabilities) string {
	if caps.LastSync.IsZero() {
		return "never"
	}
	return caps.LastSync.Local().Format("2006-01-02 15:04:05")
}
