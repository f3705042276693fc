package cli

import (
	"context"
	"strconv"

	"github.com/platinummonkey/og/pkg/og"
	"github.com/spf13/cobra"
)

func newAccessCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Answer group access questions",
	}
	cmd.AddCommand(newAccessCheckCommand(opts), newEntityAccessCommand(opts))
	return cmd
}

func newAccessCheckCommand(opts *rootOptions) *cobra.Command {
	var skipAlter bool
	cmd := &cobra.Command{
		Use:   "check <entity-type> <group-id> <permission>",
		Short: "Check a group permission for the --as user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				group, err := loadGroup(ctx, sc, args[0], args[1])
				if err != nil {
					return err
				}
				decision, err := sc.Engine.UserAccess(ctx, group, args[2], nil, skipAlter)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), decision, "%s (%s)", verdict(decision.Allowed), decision.Reason)
			})
		},
	}
	cmd.Flags().BoolVar(&skipAlter, "skip-alter", false, "ignore permission alterers")
	return cmd
}

func newEntityAccessCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entity <entity-type> <id> <permission>",
		Short: "Check a permission on an entity through its groups",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				e, err := sc.Entities.Load(ctx, args[0], id)
				if err != nil {
					return err
				}
				if e == nil {
					return errNotFound(args[0], id)
				}
				decision, err := sc.Engine.UserAccessEntity(ctx, args[2], e, nil)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), decision, "%s (%s)", verdict(decision.Allowed), decision.Reason)
			})
		},
	}
}

func verdict(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
