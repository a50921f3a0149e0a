// Command migrate applies the BigQuery schema in migrations/bigquery.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/spf13/cobra"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/grocery-carbon/internal/config"
	"github.com/dvloznov/grocery-carbon/internal/logger"
)

type options struct {
	configFile    string
	projectID     string
	datasetID     string
	appliedBy     string
	migrationsDir string
	dryRun        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New()
	ctx = logger.WithContext(ctx, log)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply pending BigQuery schema migrations",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "Config file path; store.project and store.dataset are used when flags are empty")
	f.StringVar(&opts.projectID, "project", "", "GCP project ID")
	f.StringVar(&opts.datasetID, "dataset", "", "BigQuery dataset ID")
	f.StringVar(&opts.appliedBy, "applied-by", "migrate-cli", "Name of the tool applying migrations")
	f.StringVar(&opts.migrationsDir, "migrations", "migrations/bigquery", "Path to migrations directory")
	f.BoolVar(&opts.dryRun, "dry-run", false, "List pending migrations without applying them")
	return cmd
}

func run(ctx context.Context, opts options) error {
	log := logger.Component(ctx, "migrate")

	if opts.projectID == "" || opts.datasetID == "" {
		cfg, err := config.Load(ctx, opts.configFile)
		if err != nil {
			return err
		}
		if opts.projectID == "" {
			opts.projectID = cfg.Store.Project
		}
		if opts.datasetID == "" {
			opts.datasetID = cfg.Store.Dataset
		}
	}
	if opts.projectID == "" {
		return fmt.Errorf("a GCP project is required: pass --project or set store.project")
	}

	dir, err := resolveDir(opts.migrationsDir)
	if err != nil {
		return err
	}
	migrations, err := readMigrations(log, dir, opts.projectID, opts.datasetID)
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	log.Info().Int("count", len(migrations)).Str("dir", dir).Msg("Found migration files")

	client, err := bigquery.NewClient(ctx, opts.projectID)
	if err != nil {
		return fmt.Errorf("creating BigQuery client: %w", err)
	}
	defer client.Close()

	m := &migrator{client: client, projectID: opts.projectID, datasetID: opts.datasetID, appliedBy: opts.appliedBy}
	log.Info().Str("project", opts.projectID).Str("dataset", opts.datasetID).Msg("Connected to BigQuery")

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensuring schema_migrations table: %w", err)
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	log.Info().Int("count", len(applied)).Msg("Found applied migrations")

	pending, drifted := plan(migrations, applied)
	for _, d := range drifted {
		log.Warn().Str("migration", d.Filename).Msg("Applied migration changed on disk since it ran")
	}

	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		return nil
	}

	for _, mig := range pending {
		mlog := log.With().Str("migration", mig.Filename).Logger()
		if opts.dryRun {
			mlog.Info().Msg("Pending")
			continue
		}

		start := time.Now()
		if err := m.execute(ctx, mig); err != nil {
			return fmt.Errorf("executing %s: %w", mig.Filename, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return fmt.Errorf("recording %s: %w", mig.Filename, err)
		}
		mlog.Info().Dur("took", time.Since(start)).Msg("Applied")
	}

	if !opts.dryRun {
		log.Info().Int("count", len(pending)).Msg("Successfully applied migrations")
	}
	return nil
}

type migrator struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	appliedBy string
}

func (m *migrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", m.projectID, m.datasetID)
}

func (m *migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	q := m.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, m.table()))
	return runJob(ctx, q)
}

func (m *migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	q := m.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, m.table()))

	it, err := q.Read(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("query read: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *migrator) execute(ctx context.Context, mig Migration) error {
	return runJob(ctx, m.client.Query(mig.SQL))
}

func (m *migrator) record(ctx context.Context, mig Migration) error {
	q := m.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, m.table()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	return runJob(ctx, q)
}

func runJob(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
