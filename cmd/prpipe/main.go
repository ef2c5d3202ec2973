package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"prpipe/internal/orch"
	"prpipe/pkg/config"
	"prpipe/pkg/logx"
	"prpipe/pkg/session"
	"prpipe/pkg/version"
)

// Exit codes returned by run.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// shutdownGrace bounds the final flush and journal drain after the run
// context is cancelled.
const shutdownGrace = 10 * time.Second

// options carries the parsed command line.
type options struct {
	projectDir    string
	prdFile       string
	sessionID     string
	list          bool
	resume        bool
	watch         bool
	stopOnFailure bool
	flushInterval time.Duration
	parallelism   int
	initSecrets   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.projectDir, "project-dir", ".", "Project directory")
	flag.StringVar(&opts.prdFile, "prd", "", "Path to the PRD markdown file")
	flag.StringVar(&opts.sessionID, "session", "", "Bind an existing session by ID (e.g. 002_3fa9c2d41b07)")
	flag.BoolVar(&opts.list, "list", false, "List sessions in lineage order and exit")
	flag.BoolVar(&opts.resume, "resume", false, "Resume the most recent session")
	flag.BoolVar(&opts.watch, "watch", false, "Keep running after the backlog drains and fork a delta session when the PRD changes")
	flag.BoolVar(&opts.stopOnFailure, "stop-on-failure", false, "Stop the run loop on the first failed unit")
	flag.DurationVar(&opts.flushInterval, "flush-interval", 0, "Override the batched update flush interval (e.g. 500ms)")
	flag.IntVar(&opts.parallelism, "parallelism", 0, "Override the research queue capacity")
	flag.BoolVar(&opts.initSecrets, "init-secrets", false, "Create the encrypted secrets file and exit")
	tee := flag.Bool("tee", false, "Output logs to both console and file (default: file only)")
	showVersion := flag.Bool("version", false, "Show version information")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("prpipe %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(exitOK)
	}

	if err := opts.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(exitUsage)
	}

	if *debug {
		logx.SetDebug(true)
	}

	// Initialize log file rotation BEFORE any logging occurs
	// This ensures all subsequent logs (including config loading) are captured
	logsDir := filepath.Join(opts.projectDir, config.ProjectConfigDir, config.LogsDirName)
	if err := logx.InitializeLogFile(logsDir, 4, *tee); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize log file: %v\n", err)
		os.Exit(exitError)
	}

	exitCode := run(opts)

	// Close log file before exiting
	if closeErr := logx.CloseLogFile(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", closeErr)
	}

	os.Exit(exitCode)
}

// validate rejects flag combinations with no sensible meaning.
func (o *options) validate() error {
	if o.sessionID != "" && o.prdFile != "" {
		return errors.New("-session and -prd are mutually exclusive")
	}
	if o.resume && (o.sessionID != "" || o.prdFile != "") {
		return errors.New("-resume cannot be combined with -session or -prd")
	}
	if o.watch && o.prdFile == "" {
		return errors.New("-watch requires -prd")
	}
	if o.flushInterval < 0 {
		return errors.New("-flush-interval must be positive")
	}
	if o.parallelism < 0 {
		return errors.New("-parallelism must be positive")
	}
	if !o.list && !o.initSecrets && o.prdFile == "" && o.sessionID == "" && !o.resume {
		return errors.New("nothing to do: pass -prd, -session, -resume, -list, or -init-secrets")
	}
	return nil
}

// run contains the main application logic and returns an exit code.
// This allows defers in main() to execute before os.Exit is called.
func run(opts options) int {
	// Warn if project-dir is using default value
	if opts.projectDir == "." {
		config.LogInfo("⚠️  -project-dir not set. Using the current directory.")
	}

	if err := config.LoadConfig(opts.projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}

	if err := mergeCommandLineParams(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to merge command line params: %v\n", err)
		return exitError
	}

	if opts.initSecrets {
		if err := initSecretsFile(opts.projectDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize secrets: %v\n", err)
			return exitError
		}
		return exitOK
	}

	// Handle secrets file decryption if present (loads credentials into memory)
	if err := loadSecrets(opts.projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get config: %v\n", err)
		return exitError
	}

	o, err := orch.New(&cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create orchestrator: %v\n", err)
		return exitError
	}
	defer func() {
		// The run context is cancelled by the time this defer fires; give
		// the final flush and journal drain their own grace window.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := o.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown incomplete: %v\n", err)
		}
	}()

	if opts.list {
		return listSessions(ctx, o)
	}

	st, code := bindSession(ctx, o, opts)
	if code != exitOK {
		return code
	}
	config.LogInfo("📋 Session: %s", st.ID)
	config.LogInfo("📁 Working directory: %s", opts.projectDir)

	o.SetWatch(opts.watch)
	if err := o.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			config.LogInfo("🛑 Interrupted, shutting down")
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return exitError
	}

	config.LogInfo("✅ Backlog drained")
	return exitOK
}

// mergeCommandLineParams updates config with command line arguments.
func mergeCommandLineParams(opts options) error {
	// Get current config
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	if opts.flushInterval > 0 || opts.stopOnFailure {
		orchCfg := cfg.Orchestration
		if orchCfg == nil {
			orchCfg = &config.OrchestrationConfig{}
		}
		if opts.flushInterval > 0 {
			orchCfg.FlushIntervalMS = int(opts.flushInterval / time.Millisecond)
		}
		if opts.stopOnFailure {
			orchCfg.StopOnFailure = true
		}
		if err := config.UpdateOrchestration(orchCfg); err != nil {
			return fmt.Errorf("failed to update orchestration config: %w", err)
		}
	}

	if opts.parallelism > 0 {
		researchCfg := cfg.Research
		if researchCfg == nil {
			researchCfg = &config.ResearchConfig{}
		}
		researchCfg.Parallelism = opts.parallelism
		if err := config.UpdateResearch(researchCfg); err != nil {
			return fmt.Errorf("failed to update research config: %w", err)
		}
	}

	return nil
}

// bindSession resolves the flags to a bound session: an explicit ID, the
// latest session, or the session for the given PRD.
func bindSession(ctx context.Context, o *orch.Orchestrator, opts options) (*session.State, int) {
	switch {
	case opts.sessionID != "":
		st, err := o.LoadSession(ctx, opts.sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load session %s: %v\n", opts.sessionID, err)
			return nil, exitError
		}
		return st, exitOK

	case opts.resume:
		info, err := o.FindLatestSession(ctx)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				fmt.Fprintln(os.Stderr, "No session to resume. Start one with: prpipe -prd <path>")
			} else {
				fmt.Fprintf(os.Stderr, "Failed to find latest session: %v\n", err)
			}
			return nil, exitError
		}
		st, err := o.LoadSession(ctx, info.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load session %s: %v\n", info.ID, err)
			return nil, exitError
		}
		config.LogInfo("🔄 Resuming session %s", st.ID)
		return st, exitOK

	default:
		st, err := o.Initialize(ctx, opts.prdFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize session for %s: %v\n", opts.prdFile, err)
			return nil, exitError
		}
		return st, exitOK
	}
}

// listSessions prints every session in lineage order, one per line.
func listSessions(ctx context.Context, o *orch.Orchestrator) int {
	infos, err := o.ListSessions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list sessions: %v\n", err)
		return exitError
	}

	if len(infos) == 0 {
		fmt.Println("No sessions found. Start one with: prpipe -prd <path>")
		return exitOK
	}

	for _, info := range infos {
		kind := "plan "
		if info.IsDelta {
			kind = "delta"
		}
		fmt.Printf("%s  %s\n", kind, info.ID)
	}
	return exitOK
}
