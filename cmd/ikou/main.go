package main

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/root-talis/ikou"
	"github.com/root-talis/ikou/config"
	"github.com/root-talis/ikou/history"
	"github.com/root-talis/ikou/source/script"
	"github.com/root-talis/ikou/state"
	statebadger "github.com/root-talis/ikou/state/badger"
	statefiles "github.com/root-talis/ikou/state/files"
	statemysql "github.com/root-talis/ikou/state/mysql"
	"github.com/root-talis/ikou/unit"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "ikou",
		Short:         "Applies one-time migration units to this host in dependency order.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runApply(&configFile),
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "ikou.yaml", "config file path")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "apply",
			Short: "Run every pending unit in resolved order.",
			RunE:  runApply(&configFile),
		},
		&cobra.Command{
			Use:   "plan",
			Short: "Print what apply would do, without executing anything.",
			RunE:  runPlan(&configFile),
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the per-unit status table.",
			RunE:  runList(&configFile),
		},
		&cobra.Command{
			Use:   "rollback <unit-id>",
			Short: "Run the unit's paired rollback body and clear its marker.",
			Args:  cobra.ExactArgs(1),
			RunE:  runRollback(&configFile),
		},
		&cobra.Command{
			Use:   "report",
			Short: "Print current status, the full history log and statistics.",
			RunE:  runReport(&configFile),
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Clear every applied marker, forcing all units to re-run.",
			RunE:  runReset(&configFile),
		},
	)

	return cmd
}

// ---

// engineCloser releases backend resources once a command is done.
type engineCloser func() error

func buildEngine(configFile string) (ikou.Ikou, *zap.Logger, engineCloser, error) {
	conf := config.Config{}

	logger, err := config.Setup(configFile, &conf)
	if err != nil {
		return nil, logger, nil, err
	}

	store, closer, err := buildStore(&conf, logger)
	if err != nil {
		return nil, logger, nil, err
	}

	src := script.New(conf.UnitsDir,
		script.WithShell(conf.Shell),
		script.WithLogger(logger))

	opts := []ikou.Option{
		ikou.WithLogger(logger),
	}
	if conf.HistoryFile != "" {
		opts = append(opts, ikou.WithHistory(history.NewFileRecorder(conf.HistoryFile)))
	}
	if conf.State.LegacyDir != "" {
		opts = append(opts, ikou.WithLegacyState(statefiles.NewLegacyReader(conf.State.LegacyDir)))
	}

	return ikou.New(src, store, opts...), logger, closer, nil
}

func buildStore(conf *config.Config, logger *zap.Logger) (state.Store, engineCloser, error) {
	noop := func() error { return nil }

	switch conf.State.Backend {
	case "files":
		return statefiles.New(conf.State.Dir), noop, nil

	case "badger":
		badgerStore, err := statebadger.Open(statebadger.Config{
			Path:   conf.State.Dir,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return badgerStore, badgerStore.Close, nil

	case "mysql":
		conn, err := sql.Open("mysql", conf.State.Mysql.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open mysql state store: %w", err)
		}
		return statemysql.New(conn, statemysql.StoreConfig{
			DatabaseName:     conf.State.Mysql.DatabaseName,
			MarkersTableName: conf.State.Mysql.MarkersTableName,
		}), conn.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown state backend %q", conf.State.Backend)
}

// ---

func runApply(configFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, logger, closer, err := buildEngine(*configFile)
		if err != nil {
			return err
		}
		defer closeQuietly(closer, logger)

		result, err := engine.Apply(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("executed %d, skipped %d, imported %d\n",
			result.ExecutedCount, result.SkippedCount, result.ImportedCount)

		return nil
	}
}

func runPlan(configFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, logger, closer, err := buildEngine(*configFile)
		if err != nil {
			return err
		}
		defer closeQuietly(closer, logger)

		plan, err := engine.Plan()
		if err != nil {
			return err
		}

		for _, step := range plan.Steps {
			switch step.Decision {
			case ikou.Run:
				fmt.Printf("would apply  %s\n", step.Description.ID)
			case ikou.SkipApplied:
				fmt.Printf("would skip   %s (already applied)\n", step.Description.ID)
			case ikou.SkipLegacy:
				fmt.Printf("would import %s (legacy marker)\n", step.Description.ID)
			}
		}

		return nil
	}
}

func runList(configFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, logger, closer, err := buildEngine(*configFile)
		if err != nil {
			return err
		}
		defer closeQuietly(closer, logger)

		validation, err := engine.Validate()
		if err != nil {
			return err
		}

		printStatusTable(validation)

		return nil
	}
}

func runRollback(configFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, logger, closer, err := buildEngine(*configFile)
		if err != nil {
			return err
		}
		defer closeQuietly(closer, logger)

		return engine.Rollback(cmd.Context(), script.NormalizeID(args[0]))
	}
}

func runReport(configFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, logger, closer, err := buildEngine(*configFile)
		if err != nil {
			return err
		}
		defer closeQuietly(closer, logger)

		report, err := engine.Report()
		if err != nil {
			return err
		}

		printStatusTable(&report.Validation)

		fmt.Println("\nhistory:")
		for _, entry := range report.History {
			fmt.Printf("  %s  %-13s  %s\n",
				entry.Time.Format("2006-01-02 15:04:05"), entry.Action, entry.UnitID)
		}

		total := report.Validation.AppliedCount + report.Validation.PendingCount
		fmt.Printf("\ntotal %d, applied %d, pending %d, rollback-capable %d\n",
			total,
			report.Validation.AppliedCount,
			report.Validation.PendingCount,
			report.Validation.RollbackableCount)

		return nil
	}
}

func runReset(configFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, logger, closer, err := buildEngine(*configFile)
		if err != nil {
			return err
		}
		defer closeQuietly(closer, logger)

		return engine.Reset()
	}
}

// ---

func printStatusTable(validation *ikou.ValidationResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "UNIT\tSTATUS\tDEPENDS ON\tROLLBACK")
	for _, st := range validation.Units {
		status := "pending"
		if st.Status == unit.Applied {
			status = "applied"
		}

		rollback := "-"
		if st.CanRollback {
			rollback = "yes"
		}

		deps := "-"
		if len(st.Dependencies) > 0 {
			deps = ""
			for i, dep := range st.Dependencies {
				if i > 0 {
					deps += ", "
				}
				deps += dep
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.ID, status, deps, rollback)
	}

	w.Flush()
}

func closeQuietly(closer engineCloser, logger *zap.Logger) {
	if err := closer(); err != nil {
		logger.Warn("failed to close state store", zap.Error(err))
	}
}
