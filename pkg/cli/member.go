package cli

import (
	"context"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/membership"
	"github.com/platinummonkey/og/pkg/og"
	"github.com/spf13/cobra"
)

func newMemberCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage group memberships",
	}
	cmd.AddCommand(newMemberAddCommand(opts), newMemberRemoveCommand(opts), newMemberGroupsCommand(opts))
	return cmd
}

func newMemberAddCommand(opts *rootOptions) *cobra.Command {
	var state, membershipType string
	cmd := &cobra.Command{
		Use:   "add <entity-type> <group-id> <uid>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[2])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				group, err := loadGroup(ctx, sc, args[0], args[1])
				if err != nil {
					return err
				}
				m, err := sc.Subscribe(ctx, group, entity.NewUser(uid, ""), membership.State(state), membershipType)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), m, "Membership %d: user %d is %s in %s %d",
					m.ID, m.UID, m.State, m.EntityType, m.EntityID)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", string(membership.StateActive), "membership state: active, pending or blocked")
	cmd.Flags().StringVar(&membershipType, "type", "", "membership type")
	return cmd
}

func newMemberRemoveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <entity-type> <group-id> <uid>",
		Short: "Remove a user from a group",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[2])
			if err != nil {
				return err
			}
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				group, err := loadGroup(ctx, sc, args[0], args[1])
				if err != nil {
					return err
				}
				if err := sc.Unsubscribe(ctx, group, uid); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]int64{"uid": uid, "group_id": group.ID()},
					"User %d removed from %s %d", uid, group.EntityType(), group.ID())
			})
		},
	}
}

func newMemberGroupsCommand(opts *rootOptions) *cobra.Command {
	var states []string
	cmd := &cobra.Command{
		Use:   "groups <uid>",
		Short: "List the group ids of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			var filter []membership.State
			for _, s := range states {
				filter = append(filter, membership.State(s))
			}
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				ids, err := sc.Memberships.GetUserGroupIDs(ctx, uid, filter)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), ids, "%v", ids)
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "states", nil, "membership states to include (default: active)")
	return cmd
}
