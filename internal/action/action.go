// Package action holds the things a schedule does when it fires.
package action

import (
	"context"
	"fmt"

	appLog "ontime/internal/log"
)

// Action is one step of an automation.
type Action interface {
	Name() string
	Play(ctx context.Context) error
}

// Func adapts a function to an Action.
type Func struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (f Func) Name() string { return f.Label }

func (f Func) Play(ctx context.Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}

// Log writes a message to the application log.
type Log struct {
	Message string
	KV      []any
}

func (l Log) Name() string { return "log" }

func (l Log) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("action: log: %w", err)
	}
	appLog.Info(l.Message, l.KV...)
	return nil
}
