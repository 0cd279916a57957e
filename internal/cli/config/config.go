package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/motcorr/qcreport/internal/cli/runner"
	"github.com/motcorr/qcreport/pkg/report"
	"github.com/motcorr/qcreport/pkg/report/cache"
	"github.com/motcorr/qcreport/pkg/report/crash"
	"github.com/motcorr/qcreport/pkg/report/export"
	tpl "github.com/motcorr/qcreport/pkg/report/template"
)

const (
	EnvPrefix         = "QCREPORT"
	DefaultConfigName = "qcreport"
)

// flagKeys maps flag names to the viper keys they override.
var flagKeys = map[string]string{
	"output":            "output",
	"verbose":           "verbose",
	"report-config":     "reportConfig",
	"template":          "templateFile",
	"participant-label": "subjects",
	"concurrency":       "concurrency",
	"cache-format":      "cacheFormat",
	"crash-decoder":     "crash.decoder",
	"crash-timeout":     "crash.timeout",
	"output-format":     "outputFormat",
	"pdf":               "pdf.enabled",
	"chrome-path":       "pdf.chromePath",
	"pdf-timeout":       "pdf.timeout",
	"watch-debounce":    "watch.debounce",
}

// LoadAndValidate loads configuration from defaults, the config file and
// profile, a .env file, the environment and flags (in increasing priority),
// validates it and wires the dependencies the report package needs.
// EventHooks are left to the caller.
func LoadAndValidate(cfgFile, profileName, appVersion string, flags *pflag.FlagSet) (report.Options, *slog.Logger, error) {
	var opts report.Options
	v := viper.New()

	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		tempLogger.Warn("Ignoring unreadable .env file", slog.String("error", err.Error()))
	}

	setDefaults(v)

	// --- Config File ---
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			tempLogger.Debug("No configuration file found, using defaults/env/flags")
		} else {
			used := cfgFile
			if used == "" {
				used = fmt.Sprintf("searched locations for %s.yaml/json/toml", DefaultConfigName)
			}
			tempLogger.Error("Error reading configuration file", slog.String("path", used), slog.String("error", err.Error()))
			return opts, tempLogger, fmt.Errorf("%w: reading config file '%s': %w", report.ErrConfigLoad, used, err)
		}
	} else {
		opts.ConfigFilePath = v.ConfigFileUsed()
	}

	// --- Profile ---
	opts.ProfileName = profileName
	if profileName != "" {
		profileKey := "profiles." + profileName
		profile := v.Sub(profileKey)
		if profile == nil {
			configPath := v.ConfigFileUsed()
			if configPath == "" {
				configPath = "(no config file found)"
			}
			err := fmt.Errorf("%w: profile '%s' not found in config file '%s'", report.ErrConfigValidation, profileName, configPath)
			tempLogger.Error(err.Error())
			return opts, tempLogger, err
		}
		if err := v.MergeConfigMap(profile.AllSettings()); err != nil {
			return opts, tempLogger, fmt.Errorf("%w: merging profile '%s': %w", report.ErrConfigLoad, profileName, err)
		}
		tempLogger.Debug("Applied configuration profile", slog.String("profile", profileName))
	}

	// --- Environment ---
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Flags ---
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return opts, tempLogger, fmt.Errorf("error binding flag '--%s': %w", name, err)
		}
	}

	if err := v.Unmarshal(&opts); err != nil {
		tempLogger.Error("Error unmarshalling configuration", slog.String("error", err.Error()))
		return opts, tempLogger, fmt.Errorf("%w: unmarshalling configuration: %w", report.ErrConfigLoad, err)
	}
	opts.AppVersion = appVersion
	opts.ConfigFilePath = v.ConfigFileUsed()

	// Boolean switches that have no config file counterpart.
	if flags.Changed("no-cache") {
		opts.IgnoreCacheRead, _ = flags.GetBool("no-cache")
	}
	if flags.Changed("clear-cache") {
		opts.ClearCache, _ = flags.GetBool("clear-cache")
	}
	if flags.Changed("watch") {
		opts.WatchMode, _ = flags.GetBool("watch")
	}
	if flags.Changed("crash-decoder-cmd") {
		cmdLine, _ := flags.GetString("crash-decoder-cmd")
		opts.Crash.Command = strings.Fields(cmdLine)
	}
	if noTui, _ := flags.GetBool("no-tui"); noTui {
		opts.TuiEnabled = false
	}

	// --- Final Logger ---
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logHandler)
	opts.Logger = logHandler
	opts.Fs = afero.NewOsFs()

	if err := validateAndDeriveOptions(&opts, logger, flags); err != nil {
		return opts, logger, err
	}

	logger.Debug("Configuration loading and validation complete",
		slog.String("configFile", opts.ConfigFilePath),
		slog.String("profile", opts.ProfileName),
		slog.String("logLevel", logLevel.String()),
	)
	return opts, logger, nil
}

// setDefaults establishes the default values for configuration options in Viper.
func setDefaults(v *viper.Viper) {
	// --- Behavior & Control ---
	v.SetDefault("output", "")
	v.SetDefault("verbose", report.DefaultVerbose)
	v.SetDefault("tuiEnabled", report.DefaultTuiEnabled)
	v.SetDefault("subjects", []string{})

	// --- Performance & Caching ---
	v.SetDefault("concurrency", report.DefaultConcurrency)
	v.SetDefault("cache", report.DefaultCacheEnabled)
	v.SetDefault("cacheFormat", report.DefaultCacheFormat)

	// --- Indexing ---
	v.SetDefault("reportConfig", "")
	v.SetDefault("extensions", report.DefaultExtensions())
	v.SetDefault("defaultEncoding", "")
	v.SetDefault("kindOverrides", map[string]string{})
	v.SetDefault("crash.decoder", string(report.DefaultCrashDecoder))
	v.SetDefault("crash.command", []string{})
	v.SetDefault("crash.timeout", report.DefaultCrashTimeoutString)
	v.SetDefault("crash.prefix", report.DefaultCrashPrefix)
	v.SetDefault("crash.suffix", report.DefaultCrashSuffix)

	// --- Output & Formatting ---
	v.SetDefault("templateFile", "")
	v.SetDefault("outputFormat", string(report.DefaultOutputFormat))
	v.SetDefault("pdf.enabled", report.DefaultPDFEnabled)
	v.SetDefault("pdf.chromePath", "")
	v.SetDefault("pdf.timeout", report.DefaultPDFTimeoutString)

	// --- Workflow Features ---
	v.SetDefault("watch.debounce", report.DefaultWatchDebounceString)
}

// isValidEnumValue checks if a given string value is present in a slice of allowed enum values.
func isValidEnumValue[T ~string](value T, allowedValues []T) bool {
	return slices.Contains(allowedValues, value)
}

// configError logs and returns a validation error for key.
func configError(logger *slog.Logger, key, format string, args ...any) error {
	err := fmt.Errorf("%w: %s", report.ErrConfigValidation, fmt.Sprintf(format, args...))
	logger.Error(err.Error(), slog.String("key", key))
	return err
}

// parseDuration parses the duration at key; empty selects fallback.
func parseDuration(logger *slog.Logger, key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, configError(logger, key, "invalid duration '%s' for key '%s': %v", value, key, err)
	}
	if d < 0 {
		return 0, configError(logger, key, "invalid negative duration '%s' for key '%s'", value, key)
	}
	return d, nil
}

// validateAndDeriveOptions performs semantic validation on opts and wires
// the crash decoder, template, report configuration and PDF exporter.
func validateAndDeriveOptions(opts *report.Options, logger *slog.Logger, flags *pflag.FlagSet) error {
	// === Paths ===
	if opts.OutputPath == "" {
		return configError(logger, "output", "output directory is required (-o, --output)")
	}
	absOutput, err := filepath.Abs(opts.OutputPath)
	if err != nil {
		return configError(logger, "output", "cannot resolve output path '%s': %v", opts.OutputPath, err)
	}
	opts.OutputPath = absOutput
	info, err := os.Stat(opts.OutputPath)
	if err != nil {
		return configError(logger, "output", "output directory '%s' is not accessible: %v", opts.OutputPath, err)
	}
	if !info.IsDir() {
		return configError(logger, "output", "output path '%s' is not a directory", opts.OutputPath)
	}
	if opts.CacheFilePath == "" {
		opts.CacheFilePath = filepath.Join(opts.OutputPath, cache.CacheFileName)
	}

	if opts.ReportConfigPath != "" {
		if opts.ReportConfigPath, err = filepath.Abs(opts.ReportConfigPath); err != nil {
			return configError(logger, "reportConfig", "cannot resolve report config path: %v", err)
		}
		// Reports still render, with no sections, when the layout is unusable.
		cfg, cfgErr := report.LoadConfig(opts.Fs, opts.ReportConfigPath)
		if cfgErr == nil {
			_, cfgErr = cfg.Build()
		}
		if cfgErr != nil {
			logger.Warn("Report configuration unusable, reports will have no sections",
				slog.String("path", opts.ReportConfigPath), slog.String("error", cfgErr.Error()))
		}
	}

	// === Enums ===
	allowedOutputFormat := []report.OutputFormat{report.OutputFormatText, report.OutputFormatJSON}
	if !isValidEnumValue(opts.OutputFormat, allowedOutputFormat) {
		return configError(logger, "outputFormat", "invalid value '%s' for key 'outputFormat' (flag --output-format). Allowed: %v", opts.OutputFormat, allowedOutputFormat)
	}
	allowedCacheFormat := []string{cache.CacheFormatMsgpack, cache.CacheFormatJSON}
	if !isValidEnumValue(opts.CacheFormat, allowedCacheFormat) {
		return configError(logger, "cacheFormat", "invalid value '%s' for key 'cacheFormat' (flag --cache-format). Allowed: %v", opts.CacheFormat, allowedCacheFormat)
	}
	allowedDecoder := []report.CrashDecoderKind{report.CrashDecoderAuto, report.CrashDecoderJSON, report.CrashDecoderMsgpack, report.CrashDecoderExec}
	if !isValidEnumValue(opts.Crash.Decoder, allowedDecoder) {
		return configError(logger, "crash.decoder", "invalid value '%s' for key 'crash.decoder' (flag --crash-decoder). Allowed: %v", opts.Crash.Decoder, allowedDecoder)
	}

	// === Numeric Ranges ===
	if opts.Concurrency < 0 {
		return configError(logger, "concurrency", "invalid value '%d' for key 'concurrency' (flag --concurrency). Must be >= 0", opts.Concurrency)
	}

	// === Durations ===
	debounce, err := time.ParseDuration(opts.WatchConfig.Debounce)
	if err != nil {
		if flags.Changed("watch-debounce") {
			return configError(logger, "watch.debounce", "invalid watch debounce duration '%s': %v", opts.WatchConfig.Debounce, err)
		}
		logger.Warn("Could not parse watch.debounce, using default",
			slog.String("value", opts.WatchConfig.Debounce),
			slog.Duration("default", report.DefaultWatchDebounceDuration))
		debounce = report.DefaultWatchDebounceDuration
	}
	if debounce < 0 {
		return configError(logger, "watch.debounce", "invalid negative watch debounce duration '%s'", opts.WatchConfig.Debounce)
	}
	opts.WatchDebounce = debounce

	crashTimeout, err := parseDuration(logger, "crash.timeout", opts.Crash.Timeout, 0)
	if err != nil {
		return err
	}
	pdfTimeout, err := parseDuration(logger, "pdf.timeout", opts.PDF.Timeout, export.DefaultTimeout)
	if err != nil {
		return err
	}

	// === Template ===
	if opts.TemplatePath != "" {
		absTpl, pathErr := filepath.Abs(opts.TemplatePath)
		if pathErr != nil {
			return configError(logger, "templateFile", "cannot resolve template path '%s': %v", opts.TemplatePath, pathErr)
		}
		opts.TemplatePath = absTpl
		if tplInfo, statErr := opts.Fs.Stat(absTpl); statErr != nil {
			return configError(logger, "templateFile", "template file '%s' does not exist or cannot be accessed: %v", absTpl, statErr)
		} else if tplInfo.IsDir() {
			return configError(logger, "templateFile", "template path '%s' is a directory, not a file", absTpl)
		}
		customTmpl, parseErr := tpl.LoadTemplateFile(opts.Fs, absTpl)
		if parseErr != nil {
			return configError(logger, "templateFile", "%v", parseErr)
		}
		opts.Template = customTmpl
		logger.Debug("Loaded custom template", slog.String("path", absTpl))
	} else {
		defaultTmpl, tplErr := tpl.LoadDefaultTemplate()
		if tplErr != nil {
			return fmt.Errorf("critical internal error: failed to load default template: %w", tplErr)
		}
		opts.Template = defaultTmpl
	}

	// === Crash Decoder ===
	if opts.Crash.Decoder == report.CrashDecoderExec {
		if len(opts.Crash.Command) == 0 {
			return configError(logger, "crash.command", "crash decoder 'exec' requires a command (flag --crash-decoder-cmd)")
		}
		dec, decErr := runner.NewExecDecoder(opts.Crash.Command, crashTimeout, opts.Logger)
		if decErr != nil {
			return configError(logger, "crash.command", "%v", decErr)
		}
		opts.CrashDecoder = dec
	} else {
		dec, decErr := crash.NewDecoder(string(opts.Crash.Decoder))
		if decErr != nil {
			return configError(logger, "crash.decoder", "%v", decErr)
		}
		opts.CrashDecoder = dec
	}

	// === PDF Export ===
	if opts.PDF.Enabled {
		opts.Exporter = export.NewPDFExporter(opts.Fs, opts.PDF.ChromePath, pdfTimeout, opts.Logger)
	}

	// === TUI ===
	if opts.Verbose && opts.TuiEnabled {
		logger.Debug("Verbose mode enabled, TUI disabled")
		opts.TuiEnabled = false
	}

	logger.Debug("Final derived settings validated",
		slog.String("output", opts.OutputPath),
		slog.Int("concurrency", opts.Concurrency),
		slog.String("cacheFile", opts.CacheFilePath),
		slog.Duration("watchDebounce", opts.WatchDebounce),
		slog.String("crashDecoder", string(opts.Crash.Decoder)),
		slog.Bool("pdf", opts.PDF.Enabled),
		slog.Bool("tuiEnabledEffective", opts.TuiEnabled),
	)
	return nil
}
