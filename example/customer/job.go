package customer

import (
	"database/sql"

	"github.com/chararch/pagebatch"
	"github.com/chararch/pagebatch/config"
	"github.com/chararch/pagebatch/database"
	"github.com/chararch/pagebatch/file"
	"github.com/chararch/pagebatch/orm"
	"github.com/chararch/pagebatch/util"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

//Options of NewExportJob
type Options struct {
	//Registerer receives the job's metrics when set
	Registerer prometheus.Registerer
	//CheckpointStore overrides the store chosen by the configuration
	CheckpointStore pagebatch.CheckpointStore
	//Publish target of publish.ftp, an ftp server by default
	Publish file.FileStorage
}

//NewExportJob the customer export job: an export step reading the customer table page by page, then the optional
//checksum and publish steps for a file export
func NewExportJob(cfg *config.Config, db *sql.DB, opts Options) (pagebatch.Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	stepCfg := cfg.Step
	placeholder := util.PlaceholderFor(cfg.Database.Driver)

	var source pagebatch.DataSource
	var sink pagebatch.Sink
	if stepCfg.DataSource.Type == config.SourceGorm {
		gdb, err := orm.Open(cfg.Database.Driver, db)
		if err != nil {
			return nil, err
		}
		gormSource := orm.NewGormSource[Customer](gdb, stepCfg.DataSource.OrderBy).Table(stepCfg.DataSource.Table)
		if stepCfg.DataSource.Where != "" {
			gormSource.Where(stepCfg.DataSource.Where)
		}
		source = gormSource
		sink = orm.NewGormSink[Customer](gdb).Table(stepCfg.Sink.Table)
	} else {
		var sourceOpts []database.SourceOption
		sourceOpts = append(sourceOpts, database.WithPlaceholder(placeholder))
		if stepCfg.DataSource.Where != "" {
			sourceOpts = append(sourceOpts, database.Where(stepCfg.DataSource.Where))
		}
		source = database.NewSQLSource(db, stepCfg.DataSource.Table, columns, stepCfg.DataSource.OrderBy, mapRow, sourceOpts...)
		sink = database.NewSQLSink(db, stepCfg.Sink.Table, columns, rowArgs, placeholder)
	}
	fetcher, err := pagebatch.NewPageFetcher(pagebatch.FetchStrategy(stepCfg.PageFetchStrategy), source, customerKey)
	if err != nil {
		return nil, err
	}

	stages := make([]pagebatch.Stage, 0, len(stepCfg.Stages))
	for _, sc := range stepCfg.Stages {
		stage, err := NewStage(sc)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	store := opts.CheckpointStore
	if store == nil {
		if stepCfg.CheckpointStore == config.StoreSQL {
			store = pagebatch.NewSQLCheckpointStore(db, pagebatch.WithDriver(cfg.Database.Driver))
		} else {
			store = pagebatch.NewMemoryCheckpointStore()
		}
	}

	builder := pagebatch.NewStep(stepCfg.Name).
		Pages(fetcher, stepCfg.PageSize).
		Stages(stages...).
		ChunkSize(stepCfg.ChunkSize).
		CheckpointStore(store).
		FetchTimeout(stepCfg.FetchTimeout).
		FlushTimeout(stepCfg.FlushTimeout)

	_, sqlStore := store.(*pagebatch.SQLCheckpointStore)
	switch stepCfg.Sink.Type {
	case config.SinkTable:
		builder.Sink(sink).
			TransactionManager(pagebatch.NewTransactionManager(db))
	case config.SinkFile:
		aggregator, err := file.TagAggregator(Customer{}, stepCfg.Sink.Delimiter)
		if err != nil {
			return nil, err
		}
		header, err := file.TagHeader(Customer{}, stepCfg.Sink.Delimiter)
		if err != nil {
			return nil, err
		}
		builder.Sink(file.NewFlatFileSink(stepCfg.Sink.Path, aggregator)).
			Header(func(execution *pagebatch.StepExecution) ([]byte, error) {
				return []byte(header + "\n"), nil
			}).
			Footer(Footer)
		if sqlStore {
			builder.TransactionManager(pagebatch.NewTransactionManager(db))
		}
	default:
		return nil, errors.Errorf("unsupported sink type:%v", stepCfg.Sink.Type)
	}

	job := pagebatch.NewJob(cfg.Job.Name, builder.Build())
	fs := &file.LocalFileSystem{}
	if alg := cfg.Publish.Checksum; alg != "" {
		if file.GetChecksumer(alg) == nil {
			return nil, errors.Errorf("unsupported checksum algorithm:%v", alg)
		}
		job.Step(pagebatch.NewStep("checksum", file.ChecksumTask(fs, stepCfg.Sink.Path, alg)).Build())
	}
	if ftpCfg := cfg.Publish.FTP; ftpCfg != nil {
		target := opts.Publish
		if target == nil {
			target = &file.FTPFileSystem{Host: ftpCfg.Host, Port: ftpCfg.Port, User: ftpCfg.User, Password: ftpCfg.Password, ConnTimeout: ftpCfg.Timeout}
		}
		job.Step(pagebatch.NewStep("publish", file.CopyTask(file.FileMove{
			FromFileName:  stepCfg.Sink.Path,
			FromFileStore: fs,
			ToFileName:    ftpCfg.Path,
			ToFileStore:   target,
		})).Build())
	}
	if opts.Registerer != nil {
		job.Listener(pagebatch.NewMetricsListener(opts.Registerer))
	}
	return job.Build(), nil
}
