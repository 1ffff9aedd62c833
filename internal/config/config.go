// Package config loads the server's static configuration via viper,
// layering defaults, an optional YAML file, and environment variables,
// matching the teacher's internal/config/config.go loading order
// (defaults -> file -> env -> unmarshal -> validate) generalized from a
// worker's orchestrator-client settings to the standalone server's own
// settings tree, spec.md §6.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full static configuration surface for the server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transcoding TranscodingConfig `mapstructure:"transcoding"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Security    SecurityConfig    `mapstructure:"security"`
	LogLevel    string            `mapstructure:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TranscodingConfig holds the job-execution tunables from spec.md §6.
type TranscodingConfig struct {
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs"`
	SegmentDurationS  int    `mapstructure:"segment_duration_s"`
	TempDirectory     string `mapstructure:"temp_directory"`
	EnableABR         bool   `mapstructure:"enable_abr"`
	ABRMaxVariants    int    `mapstructure:"abr_max_variants"`
	ToneMapHDR        bool   `mapstructure:"tone_map_hdr"`
	RetryCount        int    `mapstructure:"retry_count"`
	StallTimeoutS     int    `mapstructure:"stall_timeout_s"`
	EncoderTool       string `mapstructure:"encoder_tool"`
	ProbeTool         string `mapstructure:"probe_tool"`
	RetentionMinutes  int    `mapstructure:"retention_minutes"`
}

// HardwareConfig holds the encoder-family preference tunables from §4.1/§4.5.3.
type HardwareConfig struct {
	PreferHWAccel string `mapstructure:"prefer_hw_accel"` // auto | explicit family | software
	FallbackToSW  bool   `mapstructure:"fallback_to_software"`
	NVENCPreset   string `mapstructure:"nvenc_preset"`
}

// SecurityConfig holds the optional single shared API key, §6.
type SecurityConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load reads configuration from configPath (a directory) and environment
// variables prefixed TRANSCODESERVER_, matching the teacher's WORKER_ prefix
// convention but renamed for this service.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("transcoding.max_concurrent_jobs", 0) // 0 = defer to hardware suggestion
	v.SetDefault("transcoding.segment_duration_s", 4)
	v.SetDefault("transcoding.temp_directory", "/tmp/transcodeserver")
	v.SetDefault("transcoding.enable_abr", true)
	v.SetDefault("transcoding.abr_max_variants", 5)
	v.SetDefault("transcoding.tone_map_hdr", true)
	v.SetDefault("transcoding.retry_count", 2)
	v.SetDefault("transcoding.stall_timeout_s", 20)
	v.SetDefault("transcoding.encoder_tool", "ffmpeg")
	v.SetDefault("transcoding.probe_tool", "ffprobe")
	v.SetDefault("transcoding.retention_minutes", 2)
	v.SetDefault("hardware.prefer_hw_accel", "auto")
	v.SetDefault("hardware.fallback_to_software", true)
	v.SetDefault("hardware.nvenc_preset", "p4")
	v.SetDefault("security.api_key", "")
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("TRANSCODESERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Transcoding.SegmentDurationS <= 0 {
		return fmt.Errorf("transcoding.segment_duration_s must be positive")
	}
	if cfg.Transcoding.TempDirectory == "" {
		return fmt.Errorf("transcoding.temp_directory is required")
	}
	return nil
}
