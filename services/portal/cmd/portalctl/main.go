package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"talencor/pkg/db"
	"talencor/services/portal/internal/app"
	"talencor/services/portal/internal/config"
	"talencor/services/portal/internal/export"
	"talencor/services/portal/internal/gate"
	"talencor/services/portal/internal/store"
	"talencor/services/portal/internal/sweep"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operator utility for the Talencor application portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newLinksCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newExportCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openRuntime loads configuration and connects the configured stores.
func openRuntime(ctx context.Context) (*app.Runtime, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	log := app.NewLogger(cfg, os.Stderr)
	return app.Open(ctx, cfg, log)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			if cfg.DBDSN == "" {
				return errors.New("DB_DSN is required")
			}
			pool, err := db.Open(ctx, cfg.DBDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				fmt.Fprintln(out, "database is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}

func newLinksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Application link operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newLinksIssueCommand())
	cmd.AddCommand(newLinksListCommand())
	return cmd
}

func newLinksIssueCommand() *cobra.Command {
	var recruiter, applicant string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a single-use application link",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			grant, url, err := issueLink(ctx, rt, recruiter, applicant)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"token":          grant.Token,
				"applicationUrl": url,
				"expiresAt":      grant.ExpiresAt,
			})
		},
	}

	cmd.Flags().StringVar(&recruiter, "recruiter", "", "Recruiter email issuing the link")
	cmd.Flags().StringVar(&applicant, "applicant", "", "Applicant email the link is intended for")
	_ = cmd.MarkFlagRequired("recruiter")
	_ = cmd.MarkFlagRequired("applicant")
	return cmd
}

func newLinksListCommand() *cobra.Command {
	var recruiter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List links issued by a recruiter",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			g, err := newGate(rt)
			if err != nil {
				return err
			}
			grants, err := g.ListIssued(ctx, recruiter)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), grants)
		},
	}

	cmd.Flags().StringVar(&recruiter, "recruiter", "", "Recruiter email")
	_ = cmd.MarkFlagRequired("recruiter")
	return cmd
}

func newGate(rt *app.Runtime, opts ...gate.Option) (*gate.Gate, error) {
	opts = append([]gate.Option{
		gate.WithBaseURL(rt.Config.PublicBaseURL),
		gate.WithLogger(rt.Log),
	}, opts...)
	return gate.New(rt.Store, rt.Store, opts...)
}

// issueLink issues a grant and announces it. With NATS the running portal's
// consumers pick the event up; otherwise the audit ingestor and notifier run
// here until the event has been handled.
func issueLink(ctx context.Context, rt *app.Runtime, recruiter, applicant string) (store.Grant, string, error) {
	ev, err := app.OpenEvents(rt.Config, rt.Log)
	if err != nil {
		return store.Grant{}, "", err
	}
	if rt.Config.NATSURL == "" {
		consumers, err := rt.StartConsumers(ctx, ev)
		if err != nil {
			ev.Close()
			return store.Grant{}, "", err
		}
		defer consumers.Close()
	}
	defer ev.Close()

	g, err := newGate(rt, gate.WithPublisher(ev.Publisher))
	if err != nil {
		return store.Grant{}, "", err
	}
	grant, err := g.Issue(ctx, recruiter, applicant)
	if err != nil {
		return store.Grant{}, "", err
	}
	return grant, g.ApplicationURL(grant.Token), nil
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete uploads of links that expired without a submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			sweeper, err := sweep.New(rt.Store, rt.Files,
				sweep.WithGrace(rt.Config.SweepGrace),
				sweep.WithLookback(rt.Config.SweepLookback),
				sweep.WithLogger(rt.Log),
			)
			if err != nil {
				return err
			}
			res, err := sweeper.Run(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newExportCommand() *cobra.Command {
	var (
		applicationID string
		output        string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a signed archive of an application and its documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			id, err := strconv.ParseUint(applicationID, 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid application id %q", applicationID)
			}
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			signer, err := export.NewSigner(rt.Config.ExportSecretKey, rt.Config.ExportPublicKey)
			if err != nil {
				return err
			}
			exporter, err := export.New(rt.Store, rt.Files, signer)
			if err != nil {
				return err
			}
			manifest, err := exporter.Build(ctx, id, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d entries, export %s)\n", output, len(manifest.Entries), manifest.ExportID)
			return nil
		},
	}

	cmd.Flags().StringVar(&applicationID, "application", "", "Application id")
	cmd.Flags().StringVar(&output, "output", "", "Destination archive (tar.zst)")
	_ = cmd.MarkFlagRequired("application")
	_ = cmd.MarkFlagRequired("output")

	cmd.AddCommand(newExportVerifyCommand())
	return cmd
}

func newExportVerifyCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the signature and checksums of an export archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			signer, err := export.NewSigner(cfg.ExportSecretKey, cfg.ExportPublicKey)
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			bundle, err := export.Read(ctx, f, signer)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: application %d, %d files, signed by %s\n",
				bundle.Application.ID, len(bundle.Files), bundle.Manifest.Signer)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the export archive")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
