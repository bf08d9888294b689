package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/praxislabs/agentd/internal/agent"
	"github.com/praxislabs/agentd/internal/service"
	"gopkg.in/yaml.v3"
)

// taskManifest is the YAML file format accepted by run -f.
type taskManifest struct {
	Task              string `yaml:"task"`
	Provider          string `yaml:"provider"`
	Model             string `yaml:"model"`
	MaxSteps          int    `yaml:"max_steps"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	WorkingDir        string `yaml:"working_dir"`
	ParallelToolCalls *bool  `yaml:"parallel_tool_calls"`
	MustPatch         bool   `yaml:"must_patch"`
}

// Run executes one task through the service and prints the result as JSON.
func (c *RunCmd) Run() error {
	req, err := c.buildRequest()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var obs *service.Observer
	if !c.Quiet {
		obs = &service.Observer{
			OnStart: func(executionID string) {
				fmt.Fprintf(os.Stderr, "execution %s started\n", executionID)
			},
			OnStep: func(executionID string, step *agent.Step) {
				switch step.State {
				case agent.StateCallingTool, agent.StateReflecting:
					for _, call := range step.ToolCalls {
						fmt.Fprintf(os.Stderr, "  step %d: tool %s\n", step.Number, call.Name)
					}
				case agent.StateError:
					fmt.Fprintf(os.Stderr, "  step %d: error: %s\n", step.Number, step.Error)
				default:
					fmt.Fprintf(os.Stderr, "  step %d: %s\n", step.Number, step.State)
				}
			},
		}
	}

	result, err := rt.svc.ExecuteObserved(context.Background(), req, obs)
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))

	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// buildRequest assembles the request from the manifest file and flags. Flags
// override manifest fields.
func (c *RunCmd) buildRequest() (service.Request, error) {
	var req service.Request

	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return req, fmt.Errorf("failed to read task manifest: %w", err)
		}
		var manifest taskManifest
		if err := yaml.Unmarshal(data, &manifest); err != nil {
			return req, fmt.Errorf("failed to parse task manifest: %w", err)
		}
		req = service.Request{
			Task:              manifest.Task,
			Provider:          manifest.Provider,
			Model:             manifest.Model,
			MaxSteps:          manifest.MaxSteps,
			TimeoutSeconds:    manifest.TimeoutSeconds,
			WorkingDir:        manifest.WorkingDir,
			ParallelToolCalls: manifest.ParallelToolCalls,
			MustPatch:         manifest.MustPatch,
		}
	}

	if c.Task != "" {
		req.Task = c.Task
	}
	if c.Provider != "" {
		req.Provider = c.Provider
	}
	if c.Model != "" {
		req.Model = c.Model
	}
	if c.MaxSteps > 0 {
		req.MaxSteps = c.MaxSteps
	}
	if c.Timeout > 0 {
		req.TimeoutSeconds = c.Timeout
	}
	if c.Dir != "" {
		req.WorkingDir = c.Dir
	}

	if req.Task == "" {
		return req, fmt.Errorf("no task given: pass task text or -f manifest")
	}
	return req, nil
}
