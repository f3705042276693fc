package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/og"
	"github.com/platinummonkey/og/pkg/roles"
	"github.com/spf13/cobra"
)

func newRoleCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage group roles and role assignments",
	}
	cmd.AddCommand(
		newRoleShowCommand(opts),
		newRoleCreateCommand(opts),
		newRoleAssignCommand(opts, "grant", "Grant a role to a group member", (*og.Scope).GrantRole),
		newRoleAssignCommand(opts, "revoke", "Revoke a role from a group member", (*og.Scope).RevokeRole),
	)
	return cmd
}

func newRoleShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-type> <bundle> <name>",
		Short: "Show a role and its permissions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				role, err := sc.GetRole(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if role == nil {
					return fmt.Errorf("%s: %w", roles.RoleID(args[0], args[1], args[2]), og.ErrRoleNotFound)
				}
				return opts.print(cmd.OutOrStdout(), role, "%s (admin: %t): %s",
					role.ID, role.IsAdmin, strings.Join(role.Permissions, ", "))
			})
		},
	}
}

func newRoleCreateCommand(opts *rootOptions) *cobra.Command {
	var (
		permissions []string
		label       string
		admin       bool
	)
	cmd := &cobra.Command{
		Use:   "create <entity-type> <bundle> <name>",
		Short: "Create or update a role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				role := roles.New(args[0], args[1], args[2], permissions...)
				role.Label = label
				role.IsAdmin = admin
				if err := sc.Roles.Save(ctx, role); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), role, "Role %s saved", role.ID)
			})
		},
	}
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "permission to grant (repeatable)")
	cmd.Flags().StringVar(&label, "label", "", "human readable label")
	cmd.Flags().BoolVar(&admin, "admin", false, "members with this role pass every check")
	return cmd
}

type roleChange func(*og.Scope, context.Context, entity.Entity, int64, string) error

func newRoleAssignCommand(opts *rootOptions, use, short string, change roleChange) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <entity-type> <group-id> <uid> <rid>",
		Short: short,
		Args:  cobra.ExactArgs(4),
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
				if err := change(sc, ctx, group, uid, args[3]); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]interface{}{"uid": uid, "rid": args[3], "op": use},
					"Role %s %sed for user %d", args[3], strings.TrimSuffix(use, "e"), uid)
			})
		},
	}
}
