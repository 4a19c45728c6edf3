package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fathomsec/fathom/internal/adapter/outbound/auditstore"
	celadapter "github.com/fathomsec/fathom/internal/adapter/outbound/cel"
	concretehttpengine "github.com/fathomsec/fathom/internal/adapter/outbound/httpengine"
	"github.com/fathomsec/fathom/internal/adapter/outbound/memory"
	"github.com/fathomsec/fathom/internal/adapter/outbound/pageparser"
	concretespider "github.com/fathomsec/fathom/internal/adapter/outbound/spider"
	"github.com/fathomsec/fathom/internal/config"
	"github.com/fathomsec/fathom/internal/ctxkey"
	"github.com/fathomsec/fathom/internal/domain/audit"
	"github.com/fathomsec/fathom/internal/domain/auth"
	"github.com/fathomsec/fathom/internal/domain/options"
	"github.com/fathomsec/fathom/internal/domain/orchestrator"
	"github.com/fathomsec/fathom/internal/domain/page"
	"github.com/fathomsec/fathom/internal/domain/ratelimit"
	"github.com/fathomsec/fathom/internal/domain/spider"
	"github.com/fathomsec/fathom/internal/service"
)

var scanDevMode bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run an audit against the configured target",
	Long: `Run a full audit: crawl (or restrict to configured paths), fetch and
parse every discovered page, dispatch applicable security-check modules,
run any registered timing-attack probes, and print a summary of the
resulting audit store.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanDevMode, "dev", false, "Enable development mode (verbose logging, permissive defaults)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if scanDevMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts, err := buildOptions(cfg)
	if err != nil {
		return fmt.Errorf("build scan options: %w", err)
	}

	statsSvc := service.NewStatsService()
	engineOpts := []concretehttpengine.Option{
		concretehttpengine.WithLogger(logger),
		concretehttpengine.WithStatsRecorder(statsSvc),
		concretehttpengine.WithRateLimiter(memory.NewRateLimiter(), ratelimit.RateLimitConfig{
			Rate: cfg.HTTPEngine.RateLimitPerHost, Burst: cfg.HTTPEngine.RateLimitPerHost, Period: time.Second,
		}),
	}
	if cfg.Scan.BasicAuth != nil {
		cred, err := resolveBasicAuthCredential(cfg.Scan.BasicAuth)
		if err != nil {
			return fmt.Errorf("basic auth: %w", err)
		}
		engineOpts = append(engineOpts, concretehttpengine.WithBasicAuth(cred))
	}
	engine := concretehttpengine.NewEngine(cfg.HTTPEngine.ConcurrencyCap, engineOpts...)

	// The spider is never started when restrict_paths pins the crawl to an
	// explicit seed list; spiderIface stays a nil interface in that case so
	// the orchestrator's nil checks behave correctly (a typed nil *Spider
	// boxed in the interface would not compare equal to nil).
	var spiderIface spider.Spider
	if len(opts.RestrictPaths) == 0 {
		spiderIface = concretespider.New([]string{cfg.Scan.Target}, nil, logger)
	}

	builder := audit.NewBuilder(Version, Commit)
	orch := orchestrator.New(logger, opts, engine, spiderIface, page.FromResponseFunc(pageparser.FromHTTPResponse), builder)

	if needsCELEvaluator(cfg) {
		evaluator, err := celadapter.NewEvaluator()
		if err != nil {
			return fmt.Errorf("build cel evaluator: %w", err)
		}
		orch.Redundancy().SetEvaluator(evaluator)
	}

	scanID := uuid.New().String()
	scanLogger := logger.With(slog.String("scan_id", scanID), slog.String("target", cfg.Scan.Target))
	scanLogger.Info("scan starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxkey.WithLogger(ctx, scanLogger)

	obs, err := setupObservability(ctx, cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("setup observability: %w", err)
	}
	defer obs.shutdown(context.Background())
	obs.pollInto(ctx, orch)
	if hook := obs.moduleRunHook(); hook != nil {
		orch.Modules().OnModuleRun(hook)
	}

	if err := orch.Run(ctx, nil); err != nil {
		logger.Error("scan pipeline error", slog.Any("err", err))
	}

	store := orch.AuditStore(true)
	fmt.Printf("scan %s complete: %d sitemap entries, %d issues\n", scanID, len(store.Sitemap), len(store.Issues))

	issueCounts := make(map[string]int, len(store.Issues))
	for _, issue := range store.Issues {
		issueCounts[string(issue.Element)]++
		statsSvc.RecordIssue(issue.Name)
	}
	obs.recordFinalIssues(issueCounts)

	snap := statsSvc.GetStats()
	logger.Info("harvest summary",
		slog.Int64("requests", snap.Requests),
		slog.Int64("responses", snap.Responses),
		slog.Int64("timeouts", snap.Timeouts),
		slog.Int64("errors", snap.Errors),
		slog.Any("status_counts", snap.StatusCounts))

	if cfg.Store.SQLitePath != "" {
		db, err := auditstore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer func() { _ = db.Close() }()
		if err := db.Save(ctx, scanID, store); err != nil {
			return fmt.Errorf("save audit store: %w", err)
		}
	}

	return nil
}

// resolveBasicAuthCredential verifies the raw password supplied via the
// FATHOM_BASIC_AUTH_PASSWORD environment variable against the configured
// password hash before handing it to the HTTP engine. The hash never
// leaves config (a scan profile can be committed safely); the raw
// password lives only in the environment for the lifetime of the process.
func resolveBasicAuthCredential(cfg *config.BasicAuthConfig) (*concretehttpengine.Credential, error) {
	raw := os.Getenv("FATHOM_BASIC_AUTH_PASSWORD")
	if raw == "" {
		return nil, fmt.Errorf("basic_auth configured but FATHOM_BASIC_AUTH_PASSWORD is not set")
	}
	stored := auth.Credential{Username: cfg.Username, PasswordHash: cfg.PasswordHash, Realm: cfg.Realm}
	ok, err := auth.VerifyKey(raw, stored.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify stored password hash: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("FATHOM_BASIC_AUTH_PASSWORD does not match the configured password hash")
	}
	return &concretehttpengine.Credential{Username: stored.Username, Password: raw, Realm: stored.Realm}, nil
}

// needsCELEvaluator reports whether any redundancy rule is a "cel:"
// prefixed expression, so the (comparatively expensive) CEL environment is
// only built when a scan will actually use it.
func needsCELEvaluator(cfg *config.Config) bool {
	for _, r := range cfg.Scan.Redundant {
		if strings.HasPrefix(r.Pattern, "cel:") {
			return true
		}
	}
	return false
}

// buildOptions constructs the orchestrator's Options from a validated
// config.Config, joining restrict_paths onto the scan target since the
// orchestrator's Options expects fully-qualified seed URLs.
func buildOptions(cfg *config.Config) (*options.Options, error) {
	restrict := make([]string, 0, len(cfg.Scan.RestrictPaths))
	for _, p := range cfg.Scan.RestrictPaths {
		restrict = append(restrict, cfg.Scan.Target+p)
	}

	rules := make([]options.RedundancyRule, 0, len(cfg.Scan.Redundant))
	for _, r := range cfg.Scan.Redundant {
		rules = append(rules, options.RedundancyRule{Pattern: r.Pattern, Count: r.Count})
	}

	return options.New(options.Options{
		RestrictPaths:   restrict,
		AuditLinks:      cfg.Scan.AuditLinks,
		AuditForms:      cfg.Scan.AuditForms,
		AuditCookies:    cfg.Scan.AuditCookies,
		AuditHeaders:    cfg.Scan.AuditHeaders,
		HTTPHarvestLast: cfg.Scan.HTTPHarvestLast,
		CookieJar:       cfg.Scan.CookieJar,
		CookieString:    cfg.Scan.CookieString,
		UserAgent:       cfg.Scan.UserAgent,
		AuthedBy:        cfg.Scan.AuthedBy,
		Redundant:       rules,
		LsMod:           cfg.Scan.LsMod,
		LsRep:           cfg.Scan.LsRep,
		LsPlug:          cfg.Scan.LsPlug,
	})
}
