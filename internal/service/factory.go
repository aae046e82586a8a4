// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/internal/config"
	"github.com/xkilldash9x/scriptforge/internal/generator"
	"github.com/xkilldash9x/scriptforge/internal/llmclient"
	"github.com/xkilldash9x/scriptforge/internal/ocr"
	"github.com/xkilldash9x/scriptforge/internal/sandbox"
	"github.com/xkilldash9x/scriptforge/internal/scriptstore"
	"github.com/xkilldash9x/scriptforge/internal/tracker"
	"github.com/xkilldash9x/scriptforge/internal/validation"
)

// Options overrides collaborators that tests need to replace.
type Options struct {
	// Fs backs script files and evidence. Defaults to the OS filesystem.
	Fs afero.Fs
	// Launcher defaults to a chromedp launcher.
	Launcher sandbox.Launcher
}

// NewComponents wires every service from configuration. On failure, anything
// already initialized is shut down before returning.
func NewComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts Options) (components *Components, err error) {
	components = &Components{logger: logger}
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			components.Shutdown(context.Background())
			components = nil
		}
	}()

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = sandbox.NewChromeLauncher(cfg.Sandbox(), logger)
	}

	// 1. Repositories
	repos, pool, err := InitializeRepositories(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, err
	}
	components.Repos = repos
	components.DBPool = pool
	logger.Debug("Repositories initialized.", zap.Bool("persistent", pool != nil))

	// 2. Script storage
	scripts, err := scriptstore.New(fs, cfg.Generator().OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize script storage: %w", err)
	}
	components.ScriptStore = scripts

	// 3. Synthesis (optional)
	synth, err := llmclient.NewSynthesizer(ctx, cfg.LLM(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize code synthesis: %w", err)
	}
	components.Synthesizer = synth

	// 4. Generator
	components.Generator = generator.New(cfg.Generator(), synth, scripts, repos.Workflows, repos.Scripts, logger)

	// 5. Sandbox
	components.Executor = sandbox.NewExecutor(cfg.Sandbox(), launcher, fs, logger)
	logger.Debug("Sandbox executor initialized.", zap.Int("max_concurrent", cfg.Sandbox().MaxConcurrent))

	// 6. OCR and validation
	ocrClient, err := ocr.NewClient(cfg.OCR(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OCR client: %w", err)
	}
	components.Validator = validation.New(cfg.Validation(), cfg.OCR().FallbackConfidence,
		components.Executor, ocrClient, repos.Scripts, fs, logger)

	// 7. Live execution tracker
	components.Tracker = tracker.New(cfg.Tracker(), repos.Scripts, repos.Executions, components.Executor, logger)

	logger.Info("All components initialized successfully.")
	return components, nil
}
