/*
main.go - Operator CLI

PURPOSE:
  Maintenance commands against the same store and config as the server:
  schema migration, fixture seeding, counts, reset and undo.

COMMANDS:
  ledgerctl migrate
  ledgerctl seed --file fixtures.yaml
  ledgerctl summary --tenant acme --event rome-2026 [--activity id | --item id]
  ledgerctl reset   --tenant acme --event rome-2026 [--activity id]
  ledgerctl undo    --tenant acme --event rome-2026 (--code C | --participant P)

GLOBAL FLAGS:
  --config  Path to config file (or LEDGER_CONFIG_PATH)
  --db      Override database.dsn
  --actor   Operator id recorded in logs (default: $USER)

SEE ALSO:
  - cmd/server/main.go: HTTP service
  - seed/seed.go: Fixture format
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/tour-ledger/activity"
	"github.com/warp/tour-ledger/checkin"
	"github.com/warp/tour-ledger/config"
	"github.com/warp/tour-ledger/custody"
	"github.com/warp/tour-ledger/generic"
	"github.com/warp/tour-ledger/logging"
	"github.com/warp/tour-ledger/seed"
	"github.com/warp/tour-ledger/store/sqlstore"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes one command. Split from main for tests.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// =============================================================================
// SHARED STATE
// =============================================================================

type globals struct {
	configPath string
	dsn        string
	actor      string

	tenant     string
	event      string
	activityID string
	itemID     string
}

// env holds what a command opened; close releases it.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *sqlstore.Store
}

func (g *globals) open(ctx context.Context) (*env, error) {
	cfg, err := config.Load(config.DeterminePath(g.configPath))
	if err != nil {
		return nil, err
	}
	if g.dsn != "" {
		cfg.Database.DSN = g.dsn
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

func (e *env) close() {
	e.store.Close()
	_ = e.logger.Sync()
}

func (g *globals) requireScope() error {
	if g.tenant == "" || g.event == "" {
		return errors.New("--tenant and --event are required")
	}
	if g.activityID != "" && g.itemID != "" {
		return errors.New("--activity and --item are mutually exclusive")
	}
	return nil
}

func (g *globals) actorInfo() generic.Actor {
	return generic.Actor{UserID: g.actor, Role: "operator"}
}

// =============================================================================
// COMMANDS
// =============================================================================

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the tour ledger store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&g.dsn, "db", "", "database DSN (overrides config)")
	root.PersistentFlags().StringVar(&g.actor, "actor", os.Getenv("USER"), "operator id recorded in logs")

	root.AddCommand(
		migrateCmd(g),
		seedCmd(g),
		summaryCmd(g),
		resetCmd(g),
		undoCmd(g),
	)
	return root
}

func scopeFlags(cmd *cobra.Command, g *globals, withItem bool) {
	cmd.Flags().StringVar(&g.tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&g.event, "event", "", "event id")
	cmd.Flags().StringVar(&g.activityID, "activity", "", "activity id")
	if withItem {
		cmd.Flags().StringVar(&g.itemID, "item", "", "item id")
	}
}

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			// Open already migrated; run again to report errors explicitly.
			if err := e.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", e.store.Driver())
			return nil
		},
	}
}

func seedCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load participants, activities and items from YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			fx, err := seed.LoadFile(file)
			if err != nil {
				return err
			}
			e, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			sum, err := seed.Apply(cmd.Context(), e.store, fx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s/%s: %d participants, %d activities, %d items\n",
				fx.Tenant, fx.Event, sum.Participants, sum.Activities, sum.Items)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixture file")
	return cmd
}

func summaryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print active/total counts of a ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireScope(); err != nil {
				return err
			}
			e, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			tenant, event := generic.TenantID(g.tenant), generic.EventID(g.event)
			opt := generic.WithLogger(e.logger)

			var (
				label  string
				counts generic.Counts
			)
			switch {
			case g.activityID != "":
				l, err := activity.New(e.store, opt)
				if err != nil {
					return err
				}
				label = "activity " + g.activityID
				counts, err = l.Summary(ctx, tenant, event, g.activityID)
				if err != nil {
					return err
				}
			case g.itemID != "":
				l, err := custody.New(e.store, opt)
				if err != nil {
					return err
				}
				label = "item " + g.itemID
				counts, err = l.Summary(ctx, tenant, event, g.itemID)
				if err != nil {
					return err
				}
			default:
				l, err := checkin.New(e.store, opt)
				if err != nil {
					return err
				}
				label = "event " + g.event
				counts, err = l.Summary(ctx, tenant, event)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d active (%s)\n", label, counts.Active, counts.Total, counts.Rate().StringFixed(4))
			return nil
		},
	}
	scopeFlags(cmd, g, true)
	return cmd
}

func resetCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the active state of every participant in a ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireScope(); err != nil {
				return err
			}
			e, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			tenant, event := generic.TenantID(g.tenant), generic.EventID(g.event)
			opt := generic.WithLogger(e.logger)

			var removed int
			if g.activityID != "" {
				l, err := activity.New(e.store, opt)
				if err != nil {
					return err
				}
				removed, err = l.ResetAll(ctx, tenant, event, g.activityID, g.actorInfo())
				if err != nil {
					return err
				}
			} else {
				l, err := checkin.New(e.store, opt)
				if err != nil {
					return err
				}
				removed, err = l.ResetAll(ctx, tenant, event, g.actorInfo())
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", removed)
			return nil
		},
	}
	scopeFlags(cmd, g, false)
	return cmd
}

func undoCmd(g *globals) *cobra.Command {
	var code, participant string
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Clear one participant's event check-in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireScope(); err != nil {
				return err
			}
			if (code == "") == (participant == "") {
				return errors.New("exactly one of --code or --participant is required")
			}
			e, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			l, err := checkin.New(e.store, generic.WithLogger(e.logger))
			if err != nil {
				return err
			}
			ref := generic.SubjectRef{ID: generic.ParticipantID(participant), Code: code}
			out, err := l.Undo(cmd.Context(), generic.TenantID(g.tenant), generic.EventID(g.event), ref, g.actorInfo())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch {
			case out.Result != generic.ResultSuccess:
				return fmt.Errorf("undo: %s: %s", out.Result, out.Detail)
			case out.AlreadyUndone:
				fmt.Fprintf(w, "%s was not checked in\n", out.Participant.ID)
			default:
				fmt.Fprintf(w, "undone %s\n", out.Participant.ID)
			}
			return nil
		},
	}
	scopeFlags(cmd, g, false)
	cmd.Flags().StringVar(&code, "code", "", "participant code")
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	return cmd
}
