package graph

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

type startKey struct{}

// LoggerCallback logs node lifecycle events of the decision graph.
type LoggerCallback struct {
	logger zerolog.Logger
}

func NewLoggerCallback(logger zerolog.Logger) *LoggerCallback {
	return &LoggerCallback{logger: logger}
}

func (cb *LoggerCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if info == nil {
		return ctx
	}
	cb.logger.Debug().Str("node", info.Name).Str("component", string(info.Component)).Msg("node start")
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (cb *LoggerCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if info == nil {
		return ctx
	}
	evt := cb.logger.Debug().Str("node", info.Name)
	if started, ok := ctx.Value(startKey{}).(time.Time); ok {
		evt = evt.Dur("elapsed", time.Since(started))
	}
	evt.Msg("node end")
	return ctx
}

func (cb *LoggerCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	name := ""
	if info != nil {
		name = info.Name
	}
	cb.logger.Error().Err(err).Str("node", name).Msg("node failed")
	return ctx
}

func (cb *LoggerCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (cb *LoggerCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return ctx
}
