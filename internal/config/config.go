package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

const (
	BackendDNN    = "dnn"
	BackendTriton = "triton"
)

type DetectorConfig struct {
	Backend        string  `yaml:"backend" validate:"oneof=dnn triton"`
	Device         string  `yaml:"device" validate:"required"`
	ScoreThreshold float32 `yaml:"scoreThreshold" validate:"gte=0,lte=1"`
	Stride         int     `yaml:"stride" validate:"gt=0"`
	LabelsFile     string  `yaml:"labelsFile,omitempty"`
	TritonAddr     string  `yaml:"tritonAddr" env:"DETBATCH_TRITON_ADDR"`
	// ModelConfig and Checkpoint are the fixed model arguments of a batch.
	ModelConfig string `yaml:"modelConfig"`
	Checkpoint  string `yaml:"checkpoint"`
}

type OutputConfig struct {
	VideoPath string `yaml:"videoPath"`
	TablePath string `yaml:"tablePath" validate:"required"`
}

type BatchConfig struct {
	RootDir    string `yaml:"rootDir"`
	Workers    int    `yaml:"workers" validate:"gt=0"`
	RowTimeout int    `yaml:"rowTimeout" validate:"gte=0"`
	ListFiles  bool   `yaml:"listFiles"`
	Executable string `yaml:"executable,omitempty"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID" env:"DETBATCH_S3_ACCESS_KEY"`
	SecretAccessKey string `yaml:"secretAccessKey" env:"DETBATCH_S3_SECRET_KEY"`
	UseSSL          bool   `yaml:"useSSL,omitempty"`
	Region          string `yaml:"region,omitempty"`
}

func (s3 *S3Config) UrlPrefix() string {
	if s3.UseSSL {
		return fmt.Sprintf("https://%s/%s", s3.Endpoint, s3.Bucket)
	}
	return fmt.Sprintf("http://%s/%s", s3.Endpoint, s3.Bucket)
}

type NSQConfig struct {
	NSQDAddr string `yaml:"nsqdAddr"`
	Topic    string `yaml:"topic"`
}

type PublishConfig struct {
	Enabled bool      `yaml:"enabled"`
	S3      S3Config  `yaml:"s3"`
	NSQ     NSQConfig `yaml:"nsq"`
}

type DBConfig struct {
	DSN          string `yaml:"dsn" env:"DETBATCH_DB_DSN"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxLifetime  int    `yaml:"maxLifetime"`
}

type InfluxDBConfig struct {
	URL     string `yaml:"url"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	Token   string `yaml:"token" env:"DETBATCH_INFLUXDB_TOKEN"`
	Enabled bool   `yaml:"enabled"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	WorkDir  string         `yaml:"workDir"`
	Detector DetectorConfig `yaml:"detector"`
	Output   OutputConfig   `yaml:"output"`
	Batch    BatchConfig    `yaml:"batch"`
	Publish  PublishConfig  `yaml:"publish"`
	DB       DBConfig       `yaml:"db"`
	Status   StatusConfig   `yaml:"status"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

func (c Config) DataDir() string {
	return path.Join(c.WorkDir, "data")
}

func DefaultConfig() *Config {
	cfg := &Config{
		Detector: DetectorConfig{
			Backend:        BackendDNN,
			Device:         "cuda:0",
			ScoreThreshold: 0.3,
			Stride:         3,
			TritonAddr:     "localhost:8001",
			ModelConfig:    "detr_r50_8xb2-150e_coco.pbtxt",
			Checkpoint:     "detr_r50_8xb2-150e_coco.pb",
		},
		Output: OutputConfig{
			VideoPath: "pred-output/movie/pred-{stem}.mp4",
			TablePath: "pred-output/csv/pred-{stem}.csv",
		},
		Batch: BatchConfig{
			Workers:   1,
			ListFiles: true,
		},
		Publish: PublishConfig{
			S3: S3Config{
				Bucket:   "detbatch",
				Endpoint: "localhost:9000",
				UseSSL:   false,
				Region:   "us-east-1",
			},
			NSQ: NSQConfig{
				NSQDAddr: "localhost:4150",
				Topic:    "detection_tables",
			},
		},
		DB: DBConfig{
			DSN:          "root:123456@tcp(127.0.0.1:3306)/detbatch?charset=utf8mb4&parseTime=True&loc=Local",
			MaxIdleConns: 10,
			MaxOpenConns: 100,
			MaxLifetime:  60,
		},
		InfluxDB: InfluxDBConfig{
			URL:     "http://127.0.0.1:8086",
			Org:     "detbatch",
			Bucket:  "detbatch",
			Enabled: false,
		},
	}

	dataDir := os.Getenv("DETBATCH_DATA")
	if dataDir != "" {
		cfg.WorkDir = path.Join(dataDir, "detbatch_dir")
	} else {
		cfg.WorkDir = "./detbatch_dir"
	}

	return cfg
}

// LoadConfig reads configPath over DefaultConfig, then applies the
// DETBATCH_* environment overrides. A missing file yields the defaults unless
// mustExist is set.
func LoadConfig(configPath string, mustExist bool) (*Config, error) {
	conf := DefaultConfig()
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || mustExist {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err = yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}
	if err := env.Parse(conf); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return conf, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	return validate.Struct(c)
}
