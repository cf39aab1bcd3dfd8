// Command migrate drives online table re-partitioning from the shell:
// build and verify a shadow copy, cut it over under a compensated rename
// pair, bridge reads over the retired rows, then finalize or archive.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	// database/sql drivers selected by config
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spf13/cobra"

	migration "github.com/scriptautomation123/oracle-table-migration"
	"github.com/scriptautomation123/oracle-table-migration/db"
	"github.com/scriptautomation123/oracle-table-migration/events"
	"github.com/scriptautomation123/oracle-table-migration/exchange"
	"github.com/scriptautomation123/oracle-table-migration/gate"
	"github.com/scriptautomation123/oracle-table-migration/metrics"
	"github.com/scriptautomation123/oracle-table-migration/runner"
	"github.com/scriptautomation123/oracle-table-migration/schema"
	"github.com/scriptautomation123/oracle-table-migration/store"
	"github.com/scriptautomation123/oracle-table-migration/store/memory"
	"github.com/scriptautomation123/oracle-table-migration/store/postgres"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Online table re-partitioning without downtime",
		Long: `migrate rebuilds a table under a new partition scheme while the
application keeps reading and writing it. The copy is verified by
row-count and constraint gates before a two-rename cutover swaps it in,
and the old rows stay reachable through a bridge view until finalize.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Build the shadow table, verify it and cut it over",
		RunE:  runMigration,
	}

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Build and verify the shadow table, stopping before cutover",
		RunE:  runBuild,
	}

	cutoverCmd = &cobra.Command{
		Use:   "cutover",
		Short: "Cut a built run over to the new table",
		RunE:  runCutover,
	}

	finalizeCmd = &cobra.Command{
		Use:   "finalize",
		Short: "Drop the retired table and close out a bridged run",
		RunE:  runFinalize,
	}

	abortCmd = &cobra.Command{
		Use:   "abort",
		Short: "Abort an unfinished run before cutover",
		RunE:  runAbort,
	}

	exchangeCmd = &cobra.Command{
		Use:   "exchange",
		Short: "Archive the oldest partition slice into the history table",
		RunE:  runExchange,
	}

	gateCmd = &cobra.Command{
		Use:   "gate",
		Short: "Evaluate the validation gates and print the verdicts",
		RunE:  runGates,
	}

	storeInitDown bool
	storeInitCmd  = &cobra.Command{
		Use:   "store-init",
		Short: "Print the run store DDL for the configured postgres database",
		Long: `store-init prints the SQL that creates (or, with --down, drops) the
tables the run store persists migration runs and gate results in. Apply
it with your usual schema migration tooling before the first run.`,
		RunE: runStoreInit,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "migrate.yaml", "path to the YAML config file")
	storeInitCmd.Flags().BoolVar(&storeInitDown, "down", false, "print the drop statements instead")
	rootCmd.AddCommand(runCmd, buildCmd, cutoverCmd, finalizeCmd, abortCmd, exchangeCmd, gateCmd, storeInitCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is the wiring shared by every subcommand.
type env struct {
	cfg      FileConfig
	gateway  db.Gateway
	runner   *runner.Runner
	gates    *gate.Engine
	sink     events.Sink
	identity migration.TableIdentity
	scheme   migration.PartitionScheme
	closers  []func() error
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	sink := events.NewLogSink(os.Stderr)

	conn, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	gateway := db.NewSQL(db.Config{DB: conn, StatementTimeout: cfg.StatementTimeout.Std()})

	var runStore store.RunStore
	closers := []func() error{conn.Close}
	if cfg.Store.DSN != "" {
		storeConn, err := sql.Open("postgres", cfg.Store.DSN)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("opening run store: %w", err)
		}
		runStore = postgres.New(storeConn)
		closers = append(closers, storeConn.Close)
	} else {
		runStore = memory.New()
	}

	e := &env{
		cfg:     cfg,
		gateway: gateway,
		gates:   gate.New(gateway),
		sink:    sink,
		runner: runner.New(runner.Config{
			Gateway:          gateway,
			Discovery:        schema.NewSQL(gateway),
			Store:            runStore,
			Sink:             sink,
			Parallel:         cfg.Parallel,
			ValidationWindow: cfg.ValidationWindow.Std(),
			Instrument:       cfg.MetricsAddr != "",
		}),
		identity: migration.TableIdentity{Schema: cfg.Table.Schema, Name: cfg.Table.Name},
		scheme:   migration.PartitionScheme{Clause: cfg.Partition.Clause, Column: cfg.Partition.Column},
		closers:  closers,
	}

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr)
		if err := server.Start(); err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

// signalContext cancels on SIGINT or SIGTERM so a half-finished step can
// clean up instead of being killed mid-statement.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func runMigration(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.runner.Migrate(ctx, e.identity, e.scheme)
	if err != nil {
		return err
	}
	fmt.Printf("run %s bridged; finalize after the validation window elapses\n", run.ID)
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.runner.Begin(ctx, e.identity, e.scheme)
	if err != nil {
		return err
	}
	if err := e.runner.Build(ctx, run); err != nil {
		return err
	}
	fmt.Printf("run %s built; shadow table %s ready for cutover\n", run.ID, run.Shadow.Qualified())
	return nil
}

func runCutover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.runner.Resume(ctx, e.identity)
	if err != nil {
		return err
	}
	if err := e.runner.CutOver(ctx, run); err != nil {
		return err
	}
	fmt.Printf("run %s cut over; reads bridged until finalize\n", run.ID)
	return nil
}

func runFinalize(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.runner.Resume(ctx, e.identity)
	if err != nil {
		return err
	}
	if err := e.runner.Finalize(ctx, run); err != nil {
		return err
	}
	fmt.Printf("run %s finalized\n", run.ID)
	return nil
}

func runAbort(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	run, err := e.runner.Resume(ctx, e.identity)
	if err != nil {
		return err
	}
	if err := e.runner.Abort(ctx, run); err != nil {
		return err
	}
	fmt.Printf("run %s aborted\n", run.ID)
	return nil
}

func runExchange(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if e.cfg.Archive.Staging == "" || e.cfg.Archive.History == "" {
		return fmt.Errorf("config %s: archive.staging and archive.history are required for exchange", configPath)
	}

	engine := exchange.New(exchange.Config{Gateway: e.gateway, Gates: e.gates, Sink: e.sink})
	cycle := migration.ArchiveCycle{
		Active:  migration.PhysicalTable{Schema: e.identity.Schema, Name: e.identity.Name},
		Staging: migration.PhysicalTable{Schema: e.identity.Schema, Name: e.cfg.Archive.Staging},
		History: migration.PhysicalTable{Schema: e.identity.Schema, Name: e.cfg.Archive.History},
	}
	slice, err := engine.SwapOldestSlice(ctx, cycle)
	if err != nil {
		return err
	}
	fmt.Printf("slice %s (%d rows) archived to %s\n", slice.Name, slice.Rows, cycle.History.Qualified())
	return nil
}

func runGates(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	shadowID := migration.ShadowTable(e.identity, e.scheme, migration.DefaultShadowSuffix).Identity()
	results, err := gate.RunAll(ctx,
		func(ctx context.Context) (migration.GateResult, error) {
			return e.gates.Existence(ctx, e.identity, true)
		},
		func(ctx context.Context) (migration.GateResult, error) {
			return e.gates.Existence(ctx, shadowID, true)
		},
		func(ctx context.Context) (migration.GateResult, error) {
			return e.gates.ConstraintState(ctx, e.identity)
		},
		func(ctx context.Context) (migration.GateResult, error) {
			return e.gates.ActiveWriters(ctx, e.identity.Name)
		},
	)
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Printf("%-24s %-4s %s\n", r.Gate, r.Verdict, r.Detail)
	}

	dist, slices, err := e.gates.PartitionDistribution(ctx, e.identity)
	if err != nil {
		return err
	}
	fmt.Printf("%-24s %-4s %s\n", dist.Gate, dist.Verdict, dist.Detail)
	for _, s := range slices {
		fmt.Printf("  %-30s position %-3d rows %d\n", s.Name, s.Position, s.Rows)
	}

	if failed, ok := gate.FirstFailure(results); ok {
		return fmt.Errorf("gate %s failed", failed.Gate)
	}
	return nil
}

func runStoreInit(cmd *cobra.Command, args []string) error {
	config := postgres.DefaultTableConfig()
	if storeInitDown {
		fmt.Print(postgres.MigrationDown(config))
		return nil
	}
	fmt.Print(postgres.MigrationUp(config))
	return nil
}
