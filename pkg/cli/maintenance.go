package cli

import (
	"context"
	"strconv"

	"github.com/platinummonkey/og/pkg/og"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the entity, role and membership schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, rt *og.Runtime, _ *og.Scope) error {
				if err := rt.Service.RunMigrations(ctx); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]string{"status": "ok"}, "Migrations applied")
			})
		},
	}
}

func newPurgeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete memberships and references whose group no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, rt *og.Runtime, _ *og.Scope) error {
				result, err := rt.Service.OrphanPurger().Purge(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), result,
					"Purged %d memberships and %d references", result.Memberships, result.References)
			})
		},
	}
}

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the resolution cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate [group-id...]",
		Short: "Drop cached permission snapshots",
		Long:  `Drops cached permission snapshots in every process sharing the Redis cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				sc.InvalidateCache(ctx, ids)
				return opts.print(cmd.OutOrStdout(), map[string]interface{}{"group_ids": ids}, "Cache invalidated")
			})
		},
	})
	return cmd
}
