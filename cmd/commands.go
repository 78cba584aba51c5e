package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"blogdash/logger"
	"blogdash/models"
	"blogdash/service"
)

func (e *rootEnv) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard, refreshing stale data before each view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withService(func(svc *service.Service) error {
				return svc.Start()
			})
		},
	}
}

func (e *rootEnv) syncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync stale sources into the store",
		Long: `
Syncs the roster, posts and issues whose last sync is older than
REFRESH_THRESHOLD, then backfills months. --force syncs every source.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withService(func(svc *service.Service) error {
				if err := svc.Migrate(cmd.Context()); err != nil {
					return err
				}
				report, err := svc.Sync(cmd.Context(), force)
				logger.Info("Sync finished",
					zap.Strings("ran", report.Ran),
					zap.Strings("skipped", report.Skipped),
					zap.Strings("failed", report.Failed))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Sync every source regardless of staleness")
	return cmd
}

func (e *rootEnv) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed duty stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withService(func(svc *service.Service) error {
				if err := svc.Migrate(cmd.Context()); err != nil {
					return err
				}
				logger.Info("Schema is up to date")
				return nil
			})
		},
	}
}

func (e *rootEnv) rosterAtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster-at YYYY-MM",
		Short: "Print the roster as published at the end of a month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := models.ParseMonth(args[0])
			if err != nil {
				return err
			}
			return e.withService(func(svc *service.Service) error {
				records, err := svc.RosterAt(cmd.Context(), month)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(os.Stdout)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(rosterDocument(records))
			})
		},
	}
}

// rosterDocument renders records in the roster file shape, present fields only
func rosterDocument(records []models.RosterRecord) map[string]map[string]string {
	doc := make(map[string]map[string]string, len(records))
	for _, r := range records {
		fields := map[string]string{}
		put := func(key string, f models.Field[string]) {
			if v, ok := f.Get(); ok {
				fields[key] = v
			}
		}
		put("first_name", r.FirstName)
		put("last_name", r.LastName)
		put("full_name", r.FullName)
		put("url", r.URL)
		put("pronouns", r.Pronouns)
		put("location", r.Location)
		put("team", r.Team)
		doc[r.Username] = fields
	}
	return doc
}
