package router

import (
	"context"
	"os/exec"
	"time"

	"github.com/pbaille/jot/internal/config"
)

const notifyTimeout = 5 * time.Second

// Notifier tells the user that something needs attention.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// CommandNotifier runs an external command such as notify-send with the
// title and body as arguments.
type CommandNotifier struct {
	Command string
}

func (n CommandNotifier) Notify(ctx context.Context, title, body string) error {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	args := []string{title}
	if body != "" {
		args = append(args, body)
	}
	return exec.CommandContext(ctx, n.Command, args...).Run()
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }

// NewNotifier returns the notifier configured in cfg.
func NewNotifier(cfg config.NotifyConfig) Notifier {
	if !cfg.Enabled || cfg.Command == "" {
		return NopNotifier{}
	}
	return CommandNotifier{Command: cfg.Command}
}
