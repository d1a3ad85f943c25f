package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tanq16/shabi/internal/utils"
)

const (
	ModeSingle   = 1
	ModeMultiple = 2
)

var ErrInvalidOption = errors.New("invalid option")

// Config is the validated invocation. Flags win over SHABI_* environment
// variables, which win over the optional YAML config file.
type Config struct {
	Mode      int
	URLs      []string
	URLList   string
	Threads   int
	Directory string
	Resume    bool
	Retries   int
	Backoff   time.Duration
	Timeout   time.Duration
	Proxy     string
	Debug     bool
	LogFile   string
}

func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringSliceP("urls", "u", nil, "URL(s) to download")
	flags.StringP("urllist", "l", "", "Path to YAML file containing links to download")
	flags.IntP("threads", "t", utils.DefaultConcurrency, "Number of concurrent downloads (mode 2)")
	flags.StringP("directory", "d", utils.DefaultDirectory, "Directory to save downloaded files")
	flags.BoolP("resume", "r", false, "Resume partially downloaded files found in the directory")
	flags.Int("retries", utils.DefaultMaxRetries, "Attempts per file before giving up")
	flags.Duration("backoff", utils.DefaultBackoffUnit, "Base backoff unit; attempt i waits 2^i units")
	flags.Duration("timeout", 60*time.Second, "Time to wait for response headers (eg. 30s, 2m)")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL")
	flags.String("config", "", "Path to YAML config file")
	flags.String("log-file", "", "Write logs to this file instead of stderr")
	flags.Bool("debug", false, "Enable debug logging")
}

func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SHABI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load merges flags, environment and config file, then validates the result.
// args are the positional arguments: the mode followed by optional URLs.
func Load(v *viper.Viper, flags *pflag.FlagSet, args []string) (Config, error) {
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	if len(args) == 0 {
		return Config{}, fmt.Errorf("%w: mode is required", utils.ErrInvalidMode)
	}
	mode, err := strconv.Atoi(args[0])
	if err != nil {
		return Config{}, fmt.Errorf("%w: %q", utils.ErrInvalidMode, args[0])
	}
	cfg := Config{
		Mode:      mode,
		URLs:      append(v.GetStringSlice("urls"), args[1:]...),
		URLList:   v.GetString("urllist"),
		Threads:   v.GetInt("threads"),
		Directory: v.GetString("directory"),
		Resume:    v.GetBool("resume"),
		Retries:   v.GetInt("retries"),
		Backoff:   v.GetDuration("backoff"),
		Timeout:   v.GetDuration("timeout"),
		Proxy:     v.GetString("proxy"),
		Debug:     v.GetBool("debug"),
		LogFile:   v.GetString("log-file"),
	}
	if cfg.URLList != "" {
		listed, err := utils.ReadURLList(cfg.URLList)
		if err != nil {
			return Config{}, err
		}
		cfg.URLs = append(cfg.URLs, listed...)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeSingle:
		if len(c.URLs) != 1 {
			return fmt.Errorf("%w: please provide exactly one URL for single link mode (got %d)", utils.ErrURLCount, len(c.URLs))
		}
	case ModeMultiple:
		if len(c.URLs) < 1 {
			return fmt.Errorf("%w: please provide at least one URL for multiple link mode", utils.ErrURLCount)
		}
	default:
		return fmt.Errorf("%w: %d", utils.ErrInvalidMode, c.Mode)
	}
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be at least 1", ErrInvalidOption)
	}
	if c.Retries < 1 {
		return fmt.Errorf("%w: retries must be at least 1", ErrInvalidOption)
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("%w: backoff must be positive", ErrInvalidOption)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidOption)
	}
	if strings.TrimSpace(c.Directory) == "" {
		return fmt.Errorf("%w: directory must not be empty", ErrInvalidOption)
	}
	return nil
}
