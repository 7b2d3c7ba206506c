package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/splice/internal/config"
	splicehttp "github.com/ligustah/splice/internal/http"
	"github.com/ligustah/splice/internal/logging"
	"github.com/ligustah/splice/internal/progress"
	"github.com/ligustah/splice/internal/source"
)

// Flag groups registered by bindConfig.
const (
	flagsInput = 1 << iota
	flagsOutput
	flagsBucket
	flagsPipeline
	flagsStream
	flagsUpload
	flagsRetry
	flagsLog
)

// bindConfig registers the flags of the given groups on fs, bound to cfg.
func bindConfig(fs *flag.FlagSet, cfg *config.Config, groups int) {
	if groups&flagsInput != 0 {
		fs.StringVar(&cfg.Input, "input", cfg.Input, "Input file path or http(s) URL")
	}
	if groups&flagsOutput != 0 {
		fs.StringVar(&cfg.Output, "output", cfg.Output, "Output file path")
	}
	if groups&flagsBucket != 0 {
		fs.StringVar(&cfg.Bucket, "bucket", cfg.Bucket, "Bucket URL, e.g. s3://name, gs://name or file:///dir")
		fs.StringVar(&cfg.Object, "object", cfg.Object, "Object path in the bucket")
	}
	if groups&flagsPipeline != 0 {
		fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of parallel workers")
		fs.IntVar(&cfg.MailboxSize, "mailbox-size", cfg.MailboxSize, "Writes queued for the output before workers block")
		fs.StringVar(&cfg.From, "from", cfg.From, "Byte to replace (character, escape such as \\n, or number such as 0x3b)")
		fs.StringVar(&cfg.To, "to", cfg.To, "Replacement byte")
		fs.Var((*pairsValue)(&cfg.Replace), "also-replace", "Extra FROM=TO replacements applied after -from/-to, e.g. \"\\t=0x20 ,=;\"")
		fs.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Show progress output")
		fs.IntVar(&cfg.MaxConsecutiveFailures, "max-failures", cfg.MaxConsecutiveFailures, "Stop after this many consecutive range failures (0 disables)")
	}
	if groups&flagsStream != 0 {
		fs.Var((*bytesValue)(&cfg.BufferSize), "buffer-size", "Read size per range, e.g. 1MiB")
	}
	if groups&flagsUpload != 0 {
		fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "Shard compression: none or lz4")
		fs.IntVar(&cfg.StateInterval, "state-interval", cfg.StateInterval, "Persist resume state every N shards")
		fs.BoolVar(&cfg.Force, "force", cfg.Force, "Force restart, ignoring existing state")
	}
	if groups&flagsRetry != 0 {
		fs.IntVar(&cfg.Retry.Attempts, "retry-attempts", cfg.Retry.Attempts, "Max retry attempts per HTTP request")
		fs.DurationVar(&cfg.Retry.Backoff, "retry-backoff", cfg.Retry.Backoff, "Initial retry backoff")
		fs.DurationVar(&cfg.Retry.MaxBackoff, "retry-max-backoff", cfg.Retry.MaxBackoff, "Max retry backoff")
	}
	if groups&flagsLog != 0 {
		fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn or error")
		fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: text or json")
		fs.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "Append logs to this file instead of stderr")
	}
}

// commandFlags is a flag set for one command plus its -config flag.
type commandFlags struct {
	*flag.FlagSet
	groups     int
	configPath string
	flagged    config.Config
}

func newCommandFlags(name string, groups int, usage string) *commandFlags {
	cf := &commandFlags{
		FlagSet: flag.NewFlagSet(name, flag.ExitOnError),
		groups:  groups,
		flagged: config.Default(),
	}
	cf.StringVar(&cf.configPath, "config", "", "YAML config file")
	bindConfig(cf.FlagSet, &cf.flagged, groups)

	cf.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nOptions:")
		cf.PrintDefaults()
	}
	return cf
}

// load builds the effective configuration: defaults, then the -config file,
// then SPLICE_ environment variables, then flags given on the command line.
func (cf *commandFlags) load() (config.Config, error) {
	cfg := config.Default()
	if cf.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(cf.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}

	// Replay explicitly set flags onto cfg so they win over file and env.
	final := flag.NewFlagSet(cf.Name(), flag.ContinueOnError)
	bindConfig(final, &cfg, cf.groups)
	var setErr error
	cf.Visit(func(f *flag.Flag) {
		if final.Lookup(f.Name) == nil || setErr != nil {
			return
		}
		setErr = final.Set(f.Name, f.Value.String())
	})
	if setErr != nil {
		return config.Config{}, setErr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// bytesValue is a flag.Value for sizes such as "4MiB".
type bytesValue int64

func (b *bytesValue) String() string {
	return strconv.FormatInt(int64(*b), 10)
}

func (b *bytesValue) Set(s string) error {
	n, err := progress.ParseBytes(s)
	if err != nil {
		return err
	}
	*b = bytesValue(n)
	return nil
}

// pairsValue is a flag.Value for whitespace separated FROM=TO pairs.
type pairsValue []string

func (p *pairsValue) String() string {
	return strings.Join(*p, " ")
}

func (p *pairsValue) Set(s string) error {
	*p = strings.Fields(s)
	return nil
}

// newLogger opens the configured logger and tags it with a fresh run ID.
func newLogger(cfg config.Config) (*logging.Logger, *slog.Logger, string, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Path:   cfg.Log.File,
	})
	if err != nil {
		return nil, nil, "", err
	}
	runID := logging.NewRunID()
	return logger, logger.WithRun(runID), runID, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func newHTTPClient(cfg config.Config, log *slog.Logger) *splicehttp.Client {
	return splicehttp.NewClient(splicehttp.Options{
		MaxIdleConnsPerHost: cfg.Workers * 2,
		Timeout:             30 * time.Second,
		RetryAttempts:       cfg.Retry.Attempts,
		RetryBackoff:        cfg.Retry.Backoff,
		RetryMaxBackoff:     cfg.Retry.MaxBackoff,
		Logger:              log,
	})
}

// openSource opens cfg.Input as a memory-mapped file or a ranged URL.
func openSource(ctx context.Context, cfg config.Config, log *slog.Logger) (source.Source, error) {
	if isURL(cfg.Input) {
		return source.OpenURL(ctx, newHTTPClient(cfg, log), cfg.Input)
	}
	return source.OpenFile(cfg.Input)
}

// sourceExitCode maps a failure to open the input to an exit code.
func sourceExitCode(err error) int {
	if code := exitCode(err); code != ExitGeneralError {
		return code
	}
	return ExitSourceNotAccess
}
