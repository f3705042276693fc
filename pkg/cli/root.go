package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/platinummonkey/og/pkg/config"
	"github.com/platinummonkey/og/pkg/contextkeys"
	"github.com/platinummonkey/og/pkg/entity"
	"github.com/platinummonkey/og/pkg/observability"
	"github.com/platinummonkey/og/pkg/og"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Opener builds the runtime a command works against
type Opener func(ctx context.Context) (*og.Runtime, error)

// ConfigOpener opens the runtime described by cfg
func ConfigOpener(cfg *config.Config, logger logrus.FieldLogger) Opener {
	return func(ctx context.Context) (*og.Runtime, error) {
		return og.Open(ctx, cfg, observability.NewMetrics(prometheus.NewRegistry()), logger)
	}
}

type rootOptions struct {
	open        Opener
	as          int64
	name        string
	permissions []string
	output      string
}

// NewRootCommand creates the og command tree
func NewRootCommand(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}
	root := &cobra.Command{
		Use:          "og",
		Short:        "og - Organic Groups administration",
		Long:         `og manages group types, memberships and roles, and answers group access checks.`,
		SilenceUsage: true,
	}

	fs := root.PersistentFlags()
	fs.Int64Var(&opts.as, "as", 0, "user id to act as (0 is anonymous)")
	fs.StringVar(&opts.name, "name", "", "display name of the acting user")
	fs.StringSliceVar(&opts.permissions, "permissions", nil, "global permissions of the acting user")
	fs.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newMigrateCommand(opts),
		newPurgeCommand(opts),
		newCacheCommand(opts),
		newGroupCommand(opts),
		newMemberCommand(opts),
		newRoleCommand(opts),
		newAccessCommand(opts),
	)
	return root
}

// principal returns the account named by --as and --permissions
func (o *rootOptions) principal() entity.Account {
	if o.as == entity.AnonymousID {
		return entity.Anonymous()
	}
	return entity.NewUser(o.as, o.name, o.permissions...)
}

// run opens the runtime, builds a scope acting as the principal and calls fn
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, rt *og.Runtime, sc *og.Scope) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = contextkeys.WithPrincipal(ctx, o.principal())

	rt, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(ctx, rt, rt.Service.NewScope())
}

// print writes v as JSON with -o json, otherwise the text line
func (o *rootOptions) print(w io.Writer, v interface{}, text string, args ...interface{}) error {
	if o.output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintf(w, text+"\n", args...)
	return err
}
