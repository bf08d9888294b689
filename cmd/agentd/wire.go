package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/praxislabs/agentd/internal/agent"
	"github.com/praxislabs/agentd/internal/cleanup"
	"github.com/praxislabs/agentd/internal/config"
	"github.com/praxislabs/agentd/internal/service"
	"github.com/praxislabs/agentd/internal/telemetry"
	"github.com/praxislabs/agentd/internal/trajectory"
	"github.com/praxislabs/agentd/internal/workspace"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/policy"
	kittelemetry "github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/agentkit/tools"
)

// runtime bundles the wired service with everything that needs closing.
type runtime struct {
	cfg      *config.Config
	svc      *service.Service
	exporter kittelemetry.Exporter
	events   *telemetry.NATSEmitter
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "agentd.toml" {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// buildRuntime wires the execution service from configuration.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	var exporter kittelemetry.Exporter
	var err error
	if cfg.Telemetry.Enabled {
		exporter, err = kittelemetry.NewExporter(cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create telemetry exporter: %w", err)
		}
	} else {
		exporter = kittelemetry.NewNoopExporter()
	}

	recorderOpts := []telemetry.Option{}
	var events *telemetry.NATSEmitter
	if cfg.Events.NATSURL != "" {
		events, err = telemetry.NewNATSEmitter(cfg.Events.NATSURL, cfg.Events.Subject)
		if err != nil {
			logging.New().WithComponent("events").Warn("event sink unavailable, continuing without it", map[string]interface{}{
				"url":   cfg.Events.NATSURL,
				"error": err.Error(),
			})
			events = nil
		} else {
			recorderOpts = append(recorderOpts, telemetry.WithEmitter(events))
		}
	}
	recorder := telemetry.NewRecorder(exporter, recorderOpts...)

	scheduler := cleanup.NewScheduler()
	workspaces := workspace.NewCoordinator(
		cfg.Execution.WorkspaceBase,
		scheduler,
		time.Duration(cfg.Cleanup.DelaySeconds)*time.Second,
	)

	storagePath := cfg.Storage.Path
	if storagePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			storagePath = filepath.Join(home, ".local", "agentd", "trajectories")
		}
	}
	var trajectories *trajectory.Store
	if storagePath != "" {
		trajectories = trajectory.NewStore(storagePath)
	}

	pol := policy.New()
	registry := tools.NewRegistry(pol)

	defs := registry.Definitions()
	toolDefs := make([]llm.ToolDef, len(defs))
	for i, d := range defs {
		toolDefs[i] = llm.ToolDef(d)
	}

	svc := service.New(service.Options{
		MaxConcurrency:    cfg.Execution.MaxConcurrency,
		DefaultMaxSteps:   cfg.Execution.DefaultMaxSteps,
		MaxStepsLimit:     cfg.Execution.MaxSteps,
		DefaultTimeout:    time.Duration(cfg.Execution.DefaultTimeout) * time.Second,
		MinTimeout:        time.Duration(cfg.Execution.MinTimeout) * time.Second,
		MaxTimeout:        time.Duration(cfg.Execution.MaxTimeout) * time.Second,
		ParallelToolCalls: cfg.Execution.ParallelToolCalls,
		ProviderFactory:   providerFactory(cfg),
		ToolRunner:        &agent.RegistryRunner{Registry: registry},
		ToolDefs:          toolDefs,
		Workspaces:        workspaces,
		Cleanups:          scheduler,
		Recorder:          recorder,
		Trajectories:      trajectories,
	})

	return &runtime{
		cfg:      cfg,
		svc:      svc,
		exporter: exporter,
		events:   events,
	}, nil
}

// Close tears the runtime down: workspaces reclaimed, sinks flushed.
func (rt *runtime) Close() {
	rt.svc.Shutdown()
	if rt.events != nil {
		rt.events.Close()
	}
	rt.exporter.Close()
}

// providerFactory builds the per-request model client, with request fields
// overriding configured defaults.
func providerFactory(cfg *config.Config) service.ProviderFactory {
	return func(req service.Request) (llm.Provider, error) {
		model := req.Model
		if model == "" {
			model = cfg.LLM.Model
		}
		providerName := req.Provider
		if providerName == "" {
			providerName = cfg.LLM.Provider
		}
		if providerName == "" {
			providerName = llm.InferProviderFromModel(model)
		}
		if model == "" {
			return nil, fmt.Errorf("model is not configured")
		}

		apiKey := ""
		if globalCreds != nil {
			apiKey = globalCreds.GetAPIKey(providerName)
		}
		if apiKey == "" {
			if env := config.DefaultAPIKeyEnv(providerName); env != "" {
				apiKey = os.Getenv(env)
			}
		}

		return llm.NewProvider(llm.ProviderConfig{
			Provider:    providerName,
			Model:       model,
			APIKey:      apiKey,
			MaxTokens:   cfg.LLM.MaxTokens,
			BaseURL:     cfg.LLM.BaseURL,
			RetryConfig: parseRetryConfig(cfg.LLM.MaxRetries, cfg.LLM.RetryBackoff),
		})
	}
}

// parseRetryConfig converts config values to RetryConfig.
func parseRetryConfig(maxRetries int, backoffStr string) llm.RetryConfig {
	retryCfg := llm.RetryConfig{
		MaxRetries: maxRetries,
	}
	if backoffStr != "" {
		if d, err := time.ParseDuration(backoffStr); err == nil {
			retryCfg.MaxBackoff = d
		}
	}
	return retryCfg
}
