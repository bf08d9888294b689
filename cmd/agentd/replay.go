package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/praxislabs/agentd/internal/replay"
)

// Run renders a trajectory file to stdout.
func (c *ReplayCmd) Run() error {
	renderer := replay.NewRenderer(os.Stdout,
		replay.WithWidth(c.Width),
		replay.WithVerbose(c.Verbose),
	)

	if !c.Follow {
		return renderer.RenderFile(c.Trajectory)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := renderer.Follow(ctx, c.Trajectory)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
