package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	VocabPath     string `mapstructure:"vocab_path"`
	MergesPath    string `mapstructure:"merges_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	ManifestPath  string `mapstructure:"manifest_path"`
	CacheDir      string `mapstructure:"cache_dir"`
}

type TokenizerConfig struct {
	Kind      string `mapstructure:"kind"` // wordpiece | bpe | unigram
	MaxLength int    `mapstructure:"max_length"`
}

type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	MaxTextBytes   int    `mapstructure:"max_text_bytes"`
	RequestTimeout int    `mapstructure:"request_timeout"`
	Workers        int    `mapstructure:"workers"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			VocabPath:     "",
			MergesPath:    "",
			TokenizerPath: "",
			ManifestPath:  "models/manifest.json",
			CacheDir:      "models",
		},
		Tokenizer: TokenizerConfig{
			Kind:      "",
			MaxLength: 512,
		},
		Runtime: RuntimeConfig{
			Threads:        4,
			ORTLibraryPath: "",
			ORTVersion:     "",
		},
		Server: ServerConfig{
			ListenAddr:     ":8080",
			MaxTextBytes:   65536,
			RequestTimeout: 30,
			Workers:        0,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-vocab-path", defaults.Paths.VocabPath, "Path to WordPiece line list or BPE vocabulary JSON")
	fs.String("paths-merges-path", defaults.Paths.MergesPath, "Path to BPE merge-rules file")
	fs.String("paths-tokenizer-path", defaults.Paths.TokenizerPath, "Path to unigram tokenizer JSON artifact")
	fs.String("paths-manifest-path", defaults.Paths.ManifestPath, "Path to ONNX graph manifest")
	fs.String("paths-cache-dir", defaults.Paths.CacheDir, "Directory for downloaded artifacts")
	fs.String("tokenizer-kind", defaults.Tokenizer.Kind, "Tokenizer kind (wordpiece|bpe|unigram); empty detects from artifacts")
	fs.Int("tokenizer-max-length", defaults.Tokenizer.MaxLength, "Maximum encoded sequence length")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent embedding calls (0 = unlimited)")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("SUBWORD")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "SUBWORD_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("subword")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.vocab_path", c.Paths.VocabPath)
	v.SetDefault("paths.merges_path", c.Paths.MergesPath)
	v.SetDefault("paths.tokenizer_path", c.Paths.TokenizerPath)
	v.SetDefault("paths.manifest_path", c.Paths.ManifestPath)
	v.SetDefault("paths.cache_dir", c.Paths.CacheDir)
	v.SetDefault("tokenizer.kind", c.Tokenizer.Kind)
	v.SetDefault("tokenizer.max_length", c.Tokenizer.MaxLength)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("log_level", c.LogLevel)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.vocab_path", "paths-vocab-path")
	v.RegisterAlias("paths.merges_path", "paths-merges-path")
	v.RegisterAlias("paths.tokenizer_path", "paths-tokenizer-path")
	v.RegisterAlias("paths.manifest_path", "paths-manifest-path")
	v.RegisterAlias("paths.cache_dir", "paths-cache-dir")
	v.RegisterAlias("tokenizer.kind", "tokenizer-kind")
	v.RegisterAlias("tokenizer.max_length", "tokenizer-max-length")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.max_text_bytes", "server-max-text-bytes")
	v.RegisterAlias("server.request_timeout", "server-request-timeout")
	v.RegisterAlias("server.workers", "server-workers")
	v.RegisterAlias("log_level", "log-level")
}
