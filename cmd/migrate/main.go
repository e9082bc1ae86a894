package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-doc-processor/internal/config"
	"github.com/dvloznov/finance-doc-processor/internal/logger"
	bqstore "github.com/dvloznov/finance-doc-processor/internal/store/bigquery"
	"github.com/rs/zerolog"
)

var (
	configPath    = flag.String("config", "", "Path to a YAML config file (optional)")
	projectID     = flag.String("project", "", "GCP project ID (defaults to storage.bigquery_project)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to storage.bigquery_dataset)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Directory with NNNN_name.sql files (defaults to the embedded set)")
	dryRun        = flag.Bool("dry-run", false, "List pending migrations without applying them")
)

func main() {
	flag.Parse()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	project, dataset := resolveTarget(cfg, *projectID, *datasetID)
	if project == "" {
		log.Fatal().Msg("GCP project ID is required: pass -project or set STORAGE_BIGQUERY_PROJECT")
	}

	migrations, err := loadMigrations(project, dataset, *migrationsDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", project).Str("dataset", dataset).Msg("Connected to BigQuery")

	migrator := bqstore.NewMigrator(client, project, dataset, *appliedBy, log)
	count, err := migrator.Migrate(ctx, migrations, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Int("applied", count).Msg("Migration failed")
	}

	switch {
	case *dryRun:
		log.Info().Int("pending", count).Msg("Dry run finished")
	case count == 0:
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	default:
		log.Info().Int("applied", count).Msg("Successfully applied migrations")
	}
}

// resolveTarget prefers explicit flags over configuration.
func resolveTarget(cfg *config.Config, project, dataset string) (string, string) {
	if project == "" {
		project = cfg.Storage.BigQueryProject
	}
	if dataset == "" {
		dataset = cfg.Storage.BigQueryDataset
	}
	return project, dataset
}

func loadMigrations(project, dataset, dir string, log zerolog.Logger) ([]bqstore.Migration, error) {
	if dir == "" {
		return bqstore.EmbeddedMigrations(project, dataset, log)
	}
	return bqstore.ReadMigrations(os.DirFS(dir), project, dataset, log)
}
