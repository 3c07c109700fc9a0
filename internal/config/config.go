package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Postgres DBConfig
	Redis    RedisConfig
	S3       S3Config
	Logger   Logger
	Worker   WorkerConfig
}

type ServerConfig struct {
	AppVersion   string
	Port         string
	Mode         string
	JwtSecretKey string
}

type WorkerConfig struct {
	WorkerCount      int
	MaxCPUUsage      float64
	CheckInterval    int
	PollTimeout      int
	MaxAttempts      int
	ProgressInterval int
	ReclaimInterval  int
	EncodingConfig   string
	FFmpegPath       string
	FFprobePath      string
	AllowedRoots     []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	PgDriver string
	SSLMode  string
}

type RedisConfig struct {
	RedisAddr     string
	RedisPassword string
	DB            int
	MinIdleConns  int
	PoolSize      int
	PoolTimeout   int
	UseTLS        bool
	JobQueueKey   string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

type Logger struct {
	Development       bool
	DisableCaller     bool
	DisableStacktrace bool
	Encoding          string
	Level             string
}

var ErrConfigNotFound = errors.New("config file not found")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.appVersion", "1.0.0")
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "Production")
	v.SetDefault("server.jwtSecretKey", "")
	v.SetDefault("redis.redisAddr", "localhost:6379")
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.poolTimeout", 30)
	v.SetDefault("redis.jobQueueKey", "transcode_jobs")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.pgDriver", "pgx")
	v.SetDefault("postgres.sslMode", "require")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.level", "info")
	v.SetDefault("worker.workerCount", 1)
	v.SetDefault("worker.maxCPUUsage", 80.0)
	v.SetDefault("worker.checkInterval", 10)
	v.SetDefault("worker.pollTimeout", 5)
	v.SetDefault("worker.maxAttempts", 3)
	v.SetDefault("worker.progressInterval", 500)
	v.SetDefault("worker.reclaimInterval", 60)
	v.SetDefault("worker.allowedRoots", []string{})
	v.SetDefault("worker.encodingConfig", "")
	v.SetDefault("worker.ffmpegPath", "ffmpeg")
	v.SetDefault("worker.ffprobePath", "ffprobe")
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filename)
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	c, err := ParseConfig(v)
	if err != nil {
		return &Config{}
	}
	return c
}
