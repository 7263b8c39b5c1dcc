package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	SinkFile  = "file"
	SinkTable = "table"

	SourceSQL  = "sql"
	SourceGorm = "gorm"

	StoreMemory = "memory"
	StoreSQL    = "sql"
)

//Config a batch job read from yaml
type Config struct {
	Job      JobConfig      `yaml:"job"`
	Database DatabaseConfig `yaml:"database"`
	Step     StepConfig     `yaml:"step"`
	Publish  PublishConfig  `yaml:"publish"`
}

type JobConfig struct {
	Name string `yaml:"name"`
	//Params default job parameters, overridden by the command line
	Params map[string]interface{} `yaml:"params"`
}

type DatabaseConfig struct {
	//Driver database/sql driver name: mysql, postgres or sqlite3
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type StepConfig struct {
	Name              string        `yaml:"name"`
	DataSource        SourceConfig  `yaml:"dataSource"`
	ChunkSize         int           `yaml:"chunkSize"`
	PageSize          int           `yaml:"pageSize"`
	PageFetchStrategy string        `yaml:"pageFetchStrategy"`
	Stages            []StageConfig `yaml:"stages"`
	Sink              SinkConfig    `yaml:"sink"`
	CheckpointStore   string        `yaml:"checkpointStore"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	FlushTimeout      time.Duration `yaml:"flushTimeout"`
}

type SourceConfig struct {
	//Type sql pages with plain queries, gorm through gorm models
	Type    string `yaml:"type"`
	Table   string `yaml:"table"`
	OrderBy string `yaml:"orderBy"`
	Where   string `yaml:"where"`
}

//StageConfig one processing stage; Options are decoded by the stage factory with DecodeOptions
type StageConfig struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

type SinkConfig struct {
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	Delimiter string `yaml:"delimiter"`
	Table     string `yaml:"table"`
}

type PublishConfig struct {
	Checksum string     `yaml:"checksum"`
	FTP      *FTPConfig `yaml:"ftp"`
}

type FTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Path     string        `yaml:"path"`
	Timeout  time.Duration `yaml:"timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

//Load read fileName, replacing ${VAR} with environment variables. A .env file next to it is loaded first,
//without overriding variables already set.
func Load(fileName string) (*Config, error) {
	envFile := filepath.Join(filepath.Dir(fileName), ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err = godotenv.Load(envFile); err != nil {
			return nil, errors.Wrapf(err, "load env file:%v", envFile)
		}
	}
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file:%v", fileName)
	}
	return Parse(data)
}

//Parse yaml content, expand ${VAR}, apply defaults and validate
func Parse(data []byte) (*Config, error) {
	content := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		if value, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return value
		}
		return match
	})
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) setDefaults() {
	step := &cfg.Step
	if step.Name == "" {
		step.Name = "export"
	}
	if step.ChunkSize == 0 {
		step.ChunkSize = 10
	}
	if step.PageSize == 0 {
		step.PageSize = step.ChunkSize
	}
	if step.PageFetchStrategy == "" {
		step.PageFetchStrategy = "offset"
	}
	if step.CheckpointStore == "" {
		step.CheckpointStore = StoreSQL
	}
	if step.Sink.Type == "" {
		step.Sink.Type = SinkFile
	}
	if step.Sink.Delimiter == "" {
		step.Sink.Delimiter = "\t"
	}
	if step.DataSource.OrderBy == "" {
		step.DataSource.OrderBy = "id"
	}
	if step.DataSource.Type == "" {
		step.DataSource.Type = SourceSQL
	}
	if ftp := cfg.Publish.FTP; ftp != nil {
		if ftp.Port == 0 {
			ftp.Port = 21
		}
		if ftp.Timeout == 0 {
			ftp.Timeout = 30 * time.Second
		}
	}
}

//Validate report the first invalid setting
func (cfg *Config) Validate() error {
	if cfg.Job.Name == "" {
		return errors.New("job.name is required")
	}
	switch cfg.Database.Driver {
	case "mysql", "postgres", "sqlite3":
	default:
		return errors.Errorf("database.driver %q is not one of mysql, postgres, sqlite3", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	step := cfg.Step
	if step.DataSource.Table == "" {
		return errors.New("step.dataSource.table is required")
	}
	if step.DataSource.Type != SourceSQL && step.DataSource.Type != SourceGorm {
		return errors.Errorf("step.dataSource.type %q is not one of sql, gorm", step.DataSource.Type)
	}
	if step.ChunkSize < 0 || step.PageSize < 0 {
		return errors.Errorf("step.chunkSize:%v and step.pageSize:%v must be positive", step.ChunkSize, step.PageSize)
	}
	switch step.PageFetchStrategy {
	case "offset", "alwaysFromZero":
	default:
		return errors.Errorf("step.pageFetchStrategy %q is not one of offset, alwaysFromZero", step.PageFetchStrategy)
	}
	switch step.CheckpointStore {
	case StoreMemory, StoreSQL:
	default:
		return errors.Errorf("step.checkpointStore %q is not one of memory, sql", step.CheckpointStore)
	}
	for i, stage := range step.Stages {
		if stage.Type == "" {
			return errors.Errorf("step.stages[%d].type is required", i)
		}
	}
	switch step.Sink.Type {
	case SinkFile:
		if step.Sink.Path == "" {
			return errors.New("step.sink.path is required for a file sink")
		}
	case SinkTable:
		if step.Sink.Table == "" {
			return errors.New("step.sink.table is required for a table sink")
		}
	default:
		return errors.Errorf("step.sink.type %q is not one of file, table", step.Sink.Type)
	}
	if cfg.Publish.FTP != nil {
		if step.Sink.Type != SinkFile {
			return errors.New("publish.ftp needs a file sink")
		}
		if cfg.Publish.FTP.Host == "" || cfg.Publish.FTP.Path == "" {
			return errors.New("publish.ftp.host and publish.ftp.path are required")
		}
	}
	if cfg.Publish.Checksum != "" && step.Sink.Type != SinkFile {
		return errors.New("publish.checksum needs a file sink")
	}
	return nil
}

//DecodeOptions decode stage options into out, converting strings and numbers where needed
func DecodeOptions(options map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "create options decoder")
	}
	return errors.Wrap(decoder.Decode(options), "decode stage options")
}
