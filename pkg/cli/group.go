package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/og"
	"github.com/spf13/cobra"
)

func newGroupCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage group types and group entities",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <entity-type> <bundle>",
			Short: "Declare a bundle as a group type",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
					if err := sc.Groups.AddGroup(ctx, args[0], args[1]); err != nil {
						return err
					}
					return opts.print(cmd.OutOrStdout(), map[string]string{"entity_type": args[0], "bundle": args[1]},
						"Group type %s:%s added", args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "remove <entity-type> <bundle>",
			Short: "Stop treating a bundle as a group type",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
					if err := sc.Groups.RemoveGroup(ctx, args[0], args[1]); err != nil {
						return err
					}
					return opts.print(cmd.OutOrStdout(), map[string]string{"entity_type": args[0], "bundle": args[1]},
						"Group type %s:%s removed", args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List group types",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
					groups := sc.Groups.GetGroupMap()
					types := make([]string, 0, len(groups))
					for t := range groups {
						types = append(types, t)
					}
					sort.Strings(types)
					var lines []string
					for _, t := range types {
						lines = append(lines, fmt.Sprintf("%s: %s", t, strings.Join(groups[t], ", ")))
					}
					return opts.print(cmd.OutOrStdout(), groups, "%s", strings.Join(lines, "\n"))
				})
			},
		},
		newGroupCreateCommand(opts),
	)
	return cmd
}

func newGroupCreateCommand(opts *rootOptions) *cobra.Command {
	var owner int64
	cmd := &cobra.Command{
		Use:   "create <entity-type> <bundle> <label>",
		Short: "Create a group entity",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, _ *og.Runtime, sc *og.Scope) error {
				if !sc.Groups.IsGroup(args[0], args[1]) {
					return fmt.Errorf("%s:%s: %w", args[0], args[1], og.ErrNotGroup)
				}
				if owner == 0 {
					owner = opts.as
				}
				group := entity.NewContent(args[0], args[1], args[2], owner)
				if err := sc.Entities.Save(ctx, group); err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), group, "Created %s %d", group.EntityType(), group.ID())
			})
		},
	}
	cmd.Flags().Int64Var(&owner, "owner", 0, "owner user id (defaults to --as)")
	return cmd
}

// loadGroup resolves the <entity-type> <group-id> argument pair
func loadGroup(ctx context.Context, sc *og.Scope, entityType, rawID string) (*entity.Content, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid group id %q", rawID)
	}
	group, err := sc.LoadGroup(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, errNotFound(entityType, id)
	}
	return group, nil
}

func parseUID(raw string) (int64, error) {
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || uid <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return uid, nil
}

func errNotFound(entityType string, id int64) error {
	return fmt.Errorf("%s %d not found", entityType, id)
}
