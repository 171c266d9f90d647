// Package app assembles the execution pipeline from configuration.
package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/runbox/internal/admission"
	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/language"
	"github.com/michaelbrown/runbox/internal/llm"
	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/scoring"
	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
	"github.com/michaelbrown/runbox/internal/submission"
)

// App holds every long-lived component of a running service.
type App struct {
	Config    *config.Config
	Languages *language.Registry
	Rubrics   *scoring.Registry
	Engine    *sandbox.Engine
	Pipeline  *pipeline.Pipeline
	Store     storage.Store // nil when the ledger is disabled
	Logger    *zerolog.Logger

	docker *sandbox.DockerSandbox
}

// Options lets callers substitute parts of the stack.
type Options struct {
	// Runtime replaces the backend chosen by sandbox.backend.
	Runtime sandbox.Runtime
	// Reviewer replaces the model reviewer built from scoring.provider.
	Reviewer scoring.Reviewer
}

// New builds the stack described by cfg.
func New(cfg *config.Config, logger *zerolog.Logger, opts Options) (*App, error) {
	langs, err := language.NewRegistry(cfg.Languages.Allowed, cfg.Languages.Default, cfg.Languages.Images)
	if err != nil {
		return nil, fmt.Errorf("languages: %w", err)
	}

	rubrics, err := scoring.LoadDir(cfg.Rubrics.Dir)
	if err != nil {
		return nil, fmt.Errorf("rubrics: %w", err)
	}

	a := &App{Config: cfg, Languages: langs, Rubrics: rubrics, Logger: logger}

	runtime := opts.Runtime
	if runtime == nil {
		runtime, err = a.newRuntime()
		if err != nil {
			return nil, err
		}
	}
	a.Engine = sandbox.NewEngine(runtime, PolicyFrom(cfg, langs), cfg.Sandbox.BlankOutput, logger)

	reviewer := opts.Reviewer
	if reviewer == nil && cfg.Scoring.Provider != "" {
		p, err := cfg.Provider(cfg.Scoring.Provider)
		if err != nil {
			a.Engine.Close()
			return nil, err
		}
		reviewer = scoring.NewLLMReviewer(llm.NewClient(p.BaseURL, p.APIKey, p.Model))
	}

	if cfg.Storage.DBPath != "" {
		store, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			a.Engine.Close()
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		a.Store = store
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Validator: submission.NewValidator(submission.Options{
			MaxCodeBytes:   cfg.Limits.MaxCodeBytes,
			OversizePolicy: submission.OversizePolicy(cfg.Limits.OversizePolicy),
			DefaultRubric:  scoring.DefaultRubricID,
		}, langs, rubrics.Has),
		Admission: admission.New(admission.Options{
			MaxConcurrent: cfg.Admission.MaxConcurrent,
			QueueDepth:    cfg.Admission.QueueDepth,
			QueueTimeout:  cfg.Admission.QueueTimeout,
		}),
		Engine:     a.Engine,
		Evaluator:  scoring.NewEvaluator(rubrics, reviewer, scoring.Options{LLMPoints: cfg.Scoring.LLMPoints, Timeout: cfg.Scoring.Timeout}, logger),
		Ledger:     a.Store,
		RetryAfter: cfg.Limits.Timeout,
	}, logger)

	return a, nil
}

func (a *App) newRuntime() (sandbox.Runtime, error) {
	switch a.Config.Sandbox.Backend {
	case "process":
		return sandbox.NewProcessSandbox(sandbox.ProcessOptions{
			NodeBinary:  a.Config.Sandbox.NodeBinary,
			AllowUnsafe: a.Config.Sandbox.ProcessUnsafe,
		}, a.Logger)
	default:
		d, err := sandbox.NewDockerSandbox(a.Logger)
		if err != nil {
			return nil, err
		}
		a.docker = d
		return d, nil
	}
}

// PolicyFrom translates configured limits into a sandbox policy.
func PolicyFrom(cfg *config.Config, langs *language.Registry) sandbox.Policy {
	return sandbox.Policy{
		Timeout:        cfg.Limits.Timeout,
		MemoryMB:       cfg.Limits.MemoryMB,
		CPUs:           cfg.Limits.CPUs,
		MaxOutputBytes: cfg.Limits.MaxOutputBytes,
		PidsLimit:      cfg.Limits.PidsLimit,
		KillGrace:      cfg.Sandbox.KillGrace,
		Images:         langs.Images(),
	}
}

// Prepare pulls sandbox images when configured to, and checks that the
// scoring model is served.
func (a *App) Prepare(ctx context.Context) {
	if a.Config.Sandbox.PullImages {
		if err := a.Engine.Prepare(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("sandbox not ready; executions will fail until it is")
		}
	}

	if a.Config.Scoring.Provider == "" {
		return
	}
	p, err := a.Config.Provider(a.Config.Scoring.Provider)
	if err != nil {
		return
	}
	c := llm.NewClient(p.BaseURL, p.APIKey, p.Model)
	models, err := c.ListModels(ctx)
	if err != nil {
		a.Logger.Debug().Err(err).Msg("listing provider models")
		return
	}
	if !slices.ContainsFunc(models, func(m llm.ModelInfo) bool { return m.Name == c.Model() }) {
		a.Logger.Warn().Str("model", c.Model()).Msg("scoring model not available on provider; llm rubrics will fall back to static checks")
	}
}

// Cleanup removes sandbox containers left over from this or an earlier run.
func (a *App) Cleanup(ctx context.Context) {
	if a.docker == nil {
		return
	}
	n, err := a.docker.CleanupManaged(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("cleaning up sandbox containers")
		return
	}
	if n > 0 {
		a.Logger.Info().Int("containers", n).Msg("removed leftover sandbox containers")
	}
}

func (a *App) Close() error {
	var firstErr error
	if a.Store != nil {
		firstErr = a.Store.Close()
	}
	if err := a.Engine.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
