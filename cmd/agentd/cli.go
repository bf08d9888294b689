// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP execution service"`
	Run     RunCmd     `cmd:"" help:"Run a single task to completion"`
	Replay  ReplayCmd  `cmd:"" help:"Render a recorded trajectory"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// ServeCmd starts the HTTP service.
type ServeCmd struct {
	Config string `help:"Config file path" default:"agentd.toml"`
	Addr   string `help:"Listen address (overrides config)"`
}

// RunCmd executes one task and prints the result.
type RunCmd struct {
	Task     string `arg:"" optional:"" help:"Task text"`
	File     string `short:"f" help:"Task manifest path (YAML)"`
	Config   string `help:"Config file path" default:"agentd.toml"`
	Provider string `help:"LLM provider (overrides config)"`
	Model    string `help:"Model name (overrides config)"`
	MaxSteps int    `help:"Step ceiling for this task"`
	Timeout  int    `help:"Deadline in seconds"`
	Dir      string `help:"Existing working directory (absolute path)"`
	Quiet    bool   `short:"q" help:"Suppress progress output, print only the result JSON"`
}

// ReplayCmd renders a trajectory file.
type ReplayCmd struct {
	Trajectory string `arg:"" help:"Trajectory file to render"`
	Verbose    bool   `short:"v" help:"Show full response and tool output content"`
	Follow     bool   `short:"F" help:"Keep rendering as the file grows"`
	Width      int    `help:"Wrap width for content blocks" default:"100"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
