package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chararch/pagebatch"
	"github.com/chararch/pagebatch/config"
	"github.com/chararch/pagebatch/example/customer"
	"github.com/chararch/pagebatch/status"
	"github.com/chararch/pagebatch/util"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "customer-batch",
		Short: "Customer export batch",
		Long:  "Exports the customer table page by page to a flat file or another table, resuming from the last checkpoint after a failure",
	}
	rootCmd.PersistentFlags().String("config", "customer-batch.yaml", "Path of the job configuration")

	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the export job; a failed or stopped run with the same params resumes",
		RunE:  runExport,
	}
	runCmd.Flags().String("params", "", `Job parameters as json, e.g. {"date":"20260102"}`)
	runCmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address while the job runs")

	var initCmd = &cobra.Command{
		Use:   "init-db",
		Short: "Create the customer and checkpoint tables and load sample customers",
		RunE:  runInitDB,
	}

	rootCmd.AddCommand(runCmd, initCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func openDB(cmd *cobra.Command) (*config.Config, *sql.DB, error) {
	fileName, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(fileName)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, db, nil
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := cmd.Context()
	placeholder := util.PlaceholderFor(cfg.Database.Driver)
	exportTable := cfg.Step.Sink.Table
	if exportTable == "" {
		exportTable = cfg.Step.DataSource.Table + "_export"
	}
	if err = customer.InitSchema(ctx, db, placeholder, cfg.Step.DataSource.Table, exportTable); err != nil {
		return err
	}
	if err = pagebatch.NewSQLCheckpointStore(db, pagebatch.WithDriver(cfg.Database.Driver)).CreateTable(ctx); err != nil {
		return err
	}
	fmt.Printf("Initialized tables %s, %s and %s\n", cfg.Step.DataSource.Table, exportTable, pagebatch.DefaultCheckpointTable)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	job, err := customer.NewExportJob(cfg, db, customer.Options{Registerer: registry})
	if err != nil {
		return err
	}
	if err = pagebatch.Register(job); err != nil {
		return err
	}

	params, _ := cmd.Flags().GetString("params")
	if params == "" && len(cfg.Job.Params) > 0 {
		if params, err = util.JsonString(cfg.Job.Params); err != nil {
			return err
		}
	}

	//the running chunk completes, then the job stops with a resumable checkpoint
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	id, err := pagebatch.Start(ctx, job.Name(), params)
	execution := pagebatch.GetExecution(id)
	if execution != nil {
		fmt.Printf("Job %s finished, jobExecutionId:%s, status:%s\n", job.Name(), id, execution.JobStatus)
		for _, se := range execution.StepExecutions {
			fmt.Printf("  step %s: status:%s read:%d filtered:%d written:%d commits:%d\n", se.StepName, se.StepStatus, se.ReadCount, se.FilterCount, se.WriteCount, se.CommitCount)
		}
		if err == nil && execution.JobStatus == status.STOPPED {
			return fmt.Errorf("job %s stopped, run again with the same params to resume", job.Name())
		}
	}
	return err
}
