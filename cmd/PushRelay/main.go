package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/PushRelay/internal/api"
	"github.com/BTreeMap/PushRelay/internal/dedup"
	"github.com/BTreeMap/PushRelay/internal/detect"
	"github.com/BTreeMap/PushRelay/internal/genai"
	"github.com/BTreeMap/PushRelay/internal/graph"
	"github.com/BTreeMap/PushRelay/internal/lockfile"
	"github.com/BTreeMap/PushRelay/internal/messaging"
	"github.com/BTreeMap/PushRelay/internal/monitor"
	"github.com/BTreeMap/PushRelay/internal/scheduler"
	"github.com/BTreeMap/PushRelay/internal/store"
	"github.com/BTreeMap/PushRelay/internal/twilioconv"
	"github.com/BTreeMap/PushRelay/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PushRelay state data
	DefaultStateDir = "/var/lib/pushrelay"
	// DefaultStateFileName is the default JSON snapshot filename
	DefaultStateFileName = "pushrelay.json"
	// GraphTokenFileName is the OAuth token cache kept in the state directory
	GraphTokenFileName = "graph_token.json"
	// DefaultPollIntervalSeconds is the poll cadence when none is configured
	DefaultPollIntervalSeconds = 30
	// DefaultTimeoutSeconds bounds detector and forward calls by default
	DefaultTimeoutSeconds = 30
)

// forwardReaction is added to source messages after a forward when -react is
// set.
const forwardReaction = "\U0001F44D"

// shutdownTimeout bounds the graceful API shutdown and the final snapshot
// save.
const shutdownTimeout = 10 * time.Second

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	if err := validateFlags(flags); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Refuse to run beside another instance on the same state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	// Start the service
	slog.Info("Bootstrapping PushRelay with configured modules")
	slog.Debug("Final configuration",
		"platform", *flags.platform,
		"detector", *flags.detector,
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr)
	if err := runService(flags); err != nil {
		slog.Error("PushRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PushRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	Platform       string
	Target         string
	DisplayName    string
	StateDir       string
	DBDSN          string
	APIAddr        string
	PollInterval   int
	PollSchedule   string
	PatternsFile   string
	Detector       string
	DetectTimeout  int
	ForwardTimeout int
	IncludeSelf    bool
	React          bool
	VerifyTarget   bool
	GraphClientID  string
	GraphTenantID  string
}

// Flags holds command line flag values
type Flags struct {
	platform       *string
	target         *string
	displayName    *string
	stateDir       *string
	dbDSN          *string
	apiAddr        *string
	pollInterval   *int
	pollSchedule   *string
	patternsFile   *string
	detector       *string
	detectTimeout  *int
	forwardTimeout *int
	includeSelf    *bool
	react          *bool
	verifyTarget   *bool
	graphClientID  *string
	graphTenantID  *string
	qrOutput       *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Platform:       util.GetEnvWithDefault("PUSHRELAY_PLATFORM", "graph"),
		Target:         os.Getenv("PUSHRELAY_TARGET_CONVERSATION"),
		DisplayName:    os.Getenv("PUSHRELAY_DISPLAY_NAME"),
		StateDir:       util.GetEnvWithDefault("PUSHRELAY_STATE_DIR", DefaultStateDir),
		DBDSN:          os.Getenv("PUSHRELAY_DB_DSN"),
		APIAddr:        os.Getenv("PUSHRELAY_API_ADDR"),
		PollInterval:   util.ParseIntEnv("PUSHRELAY_POLL_INTERVAL", DefaultPollIntervalSeconds),
		PollSchedule:   os.Getenv("PUSHRELAY_POLL_SCHEDULE"),
		PatternsFile:   os.Getenv("PUSHRELAY_PATTERNS_FILE"),
		Detector:       util.GetEnvWithDefault("PUSHRELAY_DETECTOR", "pattern"),
		DetectTimeout:  util.ParseIntEnv("PUSHRELAY_DETECT_TIMEOUT", DefaultTimeoutSeconds),
		ForwardTimeout: util.ParseIntEnv("PUSHRELAY_FORWARD_TIMEOUT", DefaultTimeoutSeconds),
		IncludeSelf:    util.ParseBoolEnv("PUSHRELAY_INCLUDE_SELF", false),
		React:          util.ParseBoolEnv("PUSHRELAY_REACT_AFTER_FORWARD", false),
		VerifyTarget:   util.ParseBoolEnv("PUSHRELAY_VERIFY_TARGET", false),
		GraphClientID:  os.Getenv("PUSHRELAY_GRAPH_CLIENT_ID"),
		GraphTenantID:  os.Getenv("PUSHRELAY_GRAPH_TENANT_ID"),
	}

	slog.Debug("environment variables loaded",
		"PUSHRELAY_PLATFORM", config.Platform,
		"PUSHRELAY_TARGET_CONVERSATION_SET", config.Target != "",
		"PUSHRELAY_DISPLAY_NAME_SET", config.DisplayName != "",
		"PUSHRELAY_STATE_DIR", config.StateDir,
		"PUSHRELAY_DB_DSN_SET", config.DBDSN != "",
		"PUSHRELAY_API_ADDR", config.APIAddr,
		"PUSHRELAY_POLL_INTERVAL", config.PollInterval,
		"PUSHRELAY_POLL_SCHEDULE", config.PollSchedule,
		"PUSHRELAY_PATTERNS_FILE", config.PatternsFile,
		"PUSHRELAY_DETECTOR", config.Detector)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		platform:       flag.String("platform", config.Platform, "conversation platform, graph or twilio (overrides $PUSHRELAY_PLATFORM)"),
		target:         flag.String("target", config.Target, "target conversation id jobs are forwarded into (overrides $PUSHRELAY_TARGET_CONVERSATION)"),
		displayName:    flag.String("name", config.DisplayName, "operator display name for mention matching (overrides $PUSHRELAY_DISPLAY_NAME)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for PushRelay data (overrides $PUSHRELAY_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DBDSN, "snapshot DSN, postgres:// or SQLite path; empty uses a JSON file in the state directory (overrides $PUSHRELAY_DB_DSN)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $PUSHRELAY_API_ADDR)"),
		pollInterval:   flag.Int("poll-interval", config.PollInterval, "seconds between poll cycles (overrides $PUSHRELAY_POLL_INTERVAL)"),
		pollSchedule:   flag.String("poll-schedule", config.PollSchedule, "cron expression overriding the poll interval (overrides $PUSHRELAY_POLL_SCHEDULE)"),
		patternsFile:   flag.String("patterns-file", config.PatternsFile, "JSON array of detection patterns (overrides $PUSHRELAY_PATTERNS_FILE)"),
		detector:       flag.String("detector", config.Detector, "detector variant: pattern, model, or prefilter (overrides $PUSHRELAY_DETECTOR)"),
		detectTimeout:  flag.Int("detect-timeout", config.DetectTimeout, "detector call timeout in seconds (overrides $PUSHRELAY_DETECT_TIMEOUT)"),
		forwardTimeout: flag.Int("forward-timeout", config.ForwardTimeout, "forward call timeout in seconds (overrides $PUSHRELAY_FORWARD_TIMEOUT)"),
		includeSelf:    flag.Bool("include-self", config.IncludeSelf, "also evaluate messages sent by the operator account (overrides $PUSHRELAY_INCLUDE_SELF)"),
		react:          flag.Bool("react", config.React, "react to source messages after forwarding (overrides $PUSHRELAY_REACT_AFTER_FORWARD)"),
		verifyTarget:   flag.Bool("verify-target", config.VerifyTarget, "scan the target conversation for the job before forwarding (overrides $PUSHRELAY_VERIFY_TARGET)"),
		graphClientID:  flag.String("graph-client-id", config.GraphClientID, "Azure AD application client id (overrides $PUSHRELAY_GRAPH_CLIENT_ID)"),
		graphTenantID:  flag.String("graph-tenant", config.GraphTenantID, "Azure AD tenant (overrides $PUSHRELAY_GRAPH_TENANT_ID)"),
		qrOutput:       flag.String("qr-output", "", "path to write the sign-in QR code instead of the terminal"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"platform", *flags.platform,
		"target_set", *flags.target != "",
		"name_set", *flags.displayName != "",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"pollInterval", *flags.pollInterval,
		"pollSchedule", *flags.pollSchedule,
		"detector", *flags.detector,
		"includeSelf", *flags.includeSelf,
		"react", *flags.react,
		"verifyTarget", *flags.verifyTarget)

	return flags
}

// validateFlags rejects configurations the service cannot run with
func validateFlags(flags Flags) error {
	switch *flags.platform {
	case "graph", "twilio":
	default:
		return fmt.Errorf("unknown platform %q (want graph or twilio)", *flags.platform)
	}
	switch *flags.detector {
	case "pattern", "model", "prefilter":
	default:
		return fmt.Errorf("unknown detector %q (want pattern, model, or prefilter)", *flags.detector)
	}
	if *flags.target == "" {
		return fmt.Errorf("target conversation must be set via -target or $PUSHRELAY_TARGET_CONVERSATION")
	}
	if *flags.pollSchedule == "" && *flags.pollInterval < 1 {
		return fmt.Errorf("poll interval must be at least one second, got %d", *flags.pollInterval)
	}
	return nil
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if dsn := *flags.dbDSN; dsn != "" && store.DetectDSNType(dsn) == "sqlite" {
		dirs = append(dirs, filepath.Dir(dsn))
	}
	for _, dir := range dirs {
		slog.Debug("Ensuring directory exists", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	dsn := *flags.dbDSN
	switch {
	case dsn == "":
		path := filepath.Join(*flags.stateDir, DefaultStateFileName)
		slog.Debug("No database DSN provided, using JSON file store", "path", path)
		storeOpts = append(storeOpts, store.WithFilePath(path))
	case store.DetectDSNType(dsn) == "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// loadPatterns returns the detection patterns: the contents of the patterns
// file when one is configured, the built-in default otherwise.
func loadPatterns(flags Flags) ([]string, error) {
	if *flags.patternsFile == "" {
		return []string{detect.DefaultPattern}, nil
	}
	data, err := os.ReadFile(*flags.patternsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns file: %w", err)
	}
	var patterns []string
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("patterns file %s is not a JSON array of strings: %w", *flags.patternsFile, err)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("patterns file %s contains no patterns", *flags.patternsFile)
	}
	slog.Debug("Loaded detection patterns from file", "path", *flags.patternsFile, "count", len(patterns))
	return patterns, nil
}

// buildDetector constructs the configured detector variant. The returned
// PatternDetector is non-nil only for the pattern variant; it backs the
// runtime pattern API.
func buildDetector(flags Flags) (detect.Detector, *detect.PatternDetector, error) {
	switch *flags.detector {
	case "pattern":
		patterns, err := loadPatterns(flags)
		if err != nil {
			return nil, nil, err
		}
		pd, err := detect.NewPatternDetector(patterns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build pattern detector: %w", err)
		}
		return pd, pd, nil
	case "model", "prefilter":
		client, err := genai.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build model client: %w", err)
		}
		var det detect.Detector = detect.NewModelDetector(client)
		if *flags.detector == "prefilter" {
			det = detect.NewPrefilter(det)
		}
		return det, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector %q", *flags.detector)
	}
}

// buildGraphOptions constructs Microsoft Graph configuration options
func buildGraphOptions(flags Flags) []graph.Option {
	graphOpts := []graph.Option{
		graph.WithTokenFile(filepath.Join(*flags.stateDir, GraphTokenFileName)),
	}
	if *flags.graphClientID != "" {
		graphOpts = append(graphOpts, graph.WithClientID(*flags.graphClientID))
	}
	if *flags.graphTenantID != "" {
		graphOpts = append(graphOpts, graph.WithTenantID(*flags.graphTenantID))
	}
	if *flags.qrOutput != "" {
		graphOpts = append(graphOpts, graph.WithQRPath(*flags.qrOutput))
	}
	return graphOpts
}

// buildPlatform constructs the configured conversation platform client
func buildPlatform(flags Flags) (messaging.Service, error) {
	switch *flags.platform {
	case "graph":
		return graph.NewClient(buildGraphOptions(flags)...), nil
	case "twilio":
		return twilioconv.NewClient()
	default:
		return nil, fmt.Errorf("unknown platform %q", *flags.platform)
	}
}

// buildMonitorOptions constructs monitor configuration options
func buildMonitorOptions(flags Flags, displayName string) []monitor.Option {
	monOpts := []monitor.Option{
		monitor.WithTarget(*flags.target),
		monitor.WithDisplayName(displayName),
		monitor.WithDetectTimeout(time.Duration(*flags.detectTimeout) * time.Second),
		monitor.WithForwardTimeout(time.Duration(*flags.forwardTimeout) * time.Second),
	}
	if *flags.includeSelf {
		monOpts = append(monOpts, monitor.WithIncludeSelf(true))
	}
	if *flags.react {
		monOpts = append(monOpts, monitor.WithReaction(forwardReaction))
	}
	if *flags.verifyTarget {
		monOpts = append(monOpts, monitor.WithVerifyTarget(true))
	}
	return monOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, patterns *detect.PatternDetector) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if patterns != nil {
		apiOpts = append(apiOpts, api.WithPatternDetector(patterns))
	}
	return apiOpts
}

// runService wires the modules together and runs until a shutdown signal.
func runService(flags Flags) error {
	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close snapshot store", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	guard := dedup.NewGuard(snap)
	counts := guard.Counts()
	slog.Info("Snapshot loaded",
		"conversations", counts.Conversations,
		"seen_messages", counts.SeenMessages,
		"forwarded_jobs", counts.ForwardedJobs)

	det, patterns, err := buildDetector(flags)
	if err != nil {
		return err
	}

	svc, err := buildPlatform(flags)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s platform: %w", *flags.platform, err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Warn("Failed to stop platform client", "error", err)
		}
	}()

	// The Graph backend learns the signed-in account's name during Start;
	// use it when no display name was configured.
	displayName := *flags.displayName
	if displayName == "" {
		if g, ok := svc.(*graph.Client); ok {
			displayName = g.SelfName()
			slog.Info("Using signed-in account name for mention matching", "name", displayName)
		}
	}

	mon, err := monitor.NewMonitor(svc, det, guard, st, buildMonitorOptions(flags, displayName)...)
	if err != nil {
		return fmt.Errorf("failed to build monitor: %w", err)
	}

	// First cycle runs before the scheduler exists so it can never overlap
	// a scheduled one.
	slog.Info("Running initial poll cycle", "target", mon.Target())
	if err := mon.RunCycle(ctx); err != nil {
		slog.Warn("Initial poll cycle finished with errors", "error", err)
	}

	sched := scheduler.NewScheduler()
	poll := func() {
		if ctx.Err() != nil {
			return
		}
		if err := mon.RunCycle(ctx); err != nil {
			slog.Warn("Poll cycle finished with errors", "error", err)
		}
	}
	if expr := *flags.pollSchedule; expr != "" {
		if err := sched.AddJob(expr, poll); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to schedule poll cycle: %w", err)
		}
		slog.Info("Poll cycle scheduled", "cron", expr)
	} else {
		interval := time.Duration(*flags.pollInterval) * time.Second
		if err := sched.AddEvery(interval, poll); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to schedule poll cycle: %w", err)
		}
		slog.Info("Poll cycle scheduled", "interval", interval.String())
	}

	apiSrv := api.NewServer(mon, guard, buildAPIOptions(flags, patterns)...)
	if err := apiSrv.Start(); err != nil {
		sched.Stop()
		return fmt.Errorf("failed to start API server: %w", err)
	}

	slog.Info("PushRelay is running", "target", mon.Target())
	<-ctx.Done()
	slog.Info("Shutdown signal received")

	// Stop the cadence first and wait for any in-flight cycle, then drain
	// the API, then flush whatever the last cycle committed.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		slog.Warn("API server shutdown failed", "error", err)
	}
	if err := st.Save(shutdownCtx, guard.Snapshot()); err != nil {
		slog.Warn("Final snapshot save failed", "error", err)
	}

	return nil
}
