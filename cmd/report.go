// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/config"
	"github.com/xkilldash9x/doublex/internal/observability"
	"github.com/xkilldash9x/doublex/internal/reporting"
	"github.com/xkilldash9x/doublex/internal/store"
)

// runStore is the part of store.Store the commands use.
type runStore interface {
	core.RunStore
	GetRun(ctx context.Context, runID uuid.UUID) (*store.Run, error)
	GetFindings(ctx context.Context, runID uuid.UUID) ([]core.Finding, error)
}

// storeProvider creates the run store. Tests inject a mock instead of a
// live database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function releasing its resources,
	// and an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (runStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the database, creates the tables if needed and returns
// the store with a cleanup function closing the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (runStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (%s_DATABASE_URL)", config.EnvPrefix)
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

// openStore returns nil without error when persistence is disabled.
func openStore(ctx context.Context, cfg config.Interface, provider storeProvider) (runStore, func(), error) {
	if cfg.Database().URL == "" || provider == nil {
		return nil, func() {}, nil
	}
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup == nil {
		cleanup = func() {}
	}
	return st, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID, outputPath, format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render a persisted analysis run",
		Long: `Loads a run from the database and prints its analysis.json document, or
renders its sink calls as a SARIF log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			id, err := uuid.Parse(runID)
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", runID, err)
			}
			if outputPath == "" {
				return runReport(ctx, observability.GetLogger(), cfg, id, format, cmd.OutOrStdout(), provider)
			}
			f, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("failed to create output file %s: %w", outputPath, err)
			}
			defer f.Close()
			return runReport(ctx, observability.GetLogger(), cfg, id, format, f, provider)
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the run to report (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	reportCmd.Flags().StringVarP(&format, "format", "f", reporting.FormatJSON, "Report format: 'json' or 'sarif'.")
	return reportCmd
}

// runReport contains the testable logic of the report command.
func runReport(ctx context.Context, logger *zap.Logger, cfg config.Interface, runID uuid.UUID, format string, out io.Writer, provider storeProvider) error {
	if format != reporting.FormatJSON && format != reporting.FormatSARIF {
		return fmt.Errorf("unsupported output format: %s", format)
	}
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	logger.Info("Rendering run", zap.String("run_id", runID.String()), zap.String("extension", run.Extension), zap.String("format", format))

	if format == reporting.FormatJSON {
		_, err := out.Write(append(run.Report, '\n'))
		return err
	}

	findings, err := st.GetFindings(ctx, runID)
	if err != nil {
		return err
	}
	rep, err := reporting.NewSARIFReporter(nopCloser{out}, Version)
	if err != nil {
		return err
	}
	if err := rep.WriteFindings(run.ID.String(), run.Extension, findings); err != nil {
		_ = rep.Close()
		return err
	}
	return rep.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
