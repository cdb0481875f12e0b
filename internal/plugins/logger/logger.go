// Package logger provides a request-logger plugin that records each LLM
// request and response to standard output. Register it with a blank import:
//
//	_ "github.com/protorelay/gateway/internal/plugins/logger"
package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/protorelay/gateway/internal/logging"
	"github.com/protorelay/gateway/internal/requestlog"
	"github.com/protorelay/gateway/plugin"
)

func init() {
	plugin.RegisterFactory("request-logger", func() plugin.Plugin {
		return &RequestLogger{}
	})
}

// RequestLogger is a logging plugin that emits structured log entries
// for every request and response flowing through the gateway.
type RequestLogger struct {
	logLevel slog.Level
	writer   requestlog.Writer
}

// Name returns the plugin identifier.
func (l *RequestLogger) Name() string { return "request-logger" }

// Type returns the plugin lifecycle hook type.
func (l *RequestLogger) Type() plugin.PluginType { return plugin.TypeLogging }

// Init configures the plugin from the provided options map.
func (l *RequestLogger) Init(config map[string]interface{}) error {
	l.logLevel = slog.LevelInfo
	l.writer = requestlog.NoopWriter{}
	if level, ok := config["level"].(string); ok {
		switch level {
		case "debug":
			l.logLevel = slog.LevelDebug
		case "warn":
			l.logLevel = slog.LevelWarn
		case "error":
			l.logLevel = slog.LevelError
		}
	}

	persist, _ := config["persist"].(bool)
	if persist {
		capacity := 1000
		if c, ok := config["capacity"].(int); ok {
			capacity = c
		}
		l.writer = requestlog.NewCaptureSink(capacity)
	}
	return nil
}

// Execute runs the plugin logic for the current request context.
func (l *RequestLogger) Execute(ctx context.Context, pctx *plugin.Context) error {
	log := logging.FromContext(ctx)
	if pctx.Request != nil && pctx.Response == nil && pctx.Error == nil {
		// before_request stage
		now := time.Now().UTC()
		log.Log(ctx, l.logLevel, "gateway request",
			"model", pctx.Request.Model,
			"messages", len(pctx.Request.Messages),
			"stream", pctx.Request.Stream,
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:   logging.TraceIDFromContext(ctx),
			Stage:     string(plugin.StageBeforeRequest),
			Model:     pctx.Request.Model,
			CreatedAt: now,
		})
	}

	if pctx.Response != nil {
		// after_request stage
		now := time.Now().UTC()
		totalTokens := pctx.Response.Usage.InputTokens + pctx.Response.Usage.OutputTokens
		log.Log(ctx, l.logLevel, "gateway response",
			"model", pctx.Response.Model,
			"stop_reason", pctx.Response.StopReason,
			"input_tokens", pctx.Response.Usage.InputTokens,
			"output_tokens", pctx.Response.Usage.OutputTokens,
			"total_tokens", totalTokens,
			"timestamp", now.Format(time.RFC3339),
		)
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:          logging.TraceIDFromContext(ctx),
			Stage:            string(plugin.StageAfterRequest),
			Model:            pctx.Response.Model,
			PromptTokens:     pctx.Response.Usage.InputTokens,
			CompletionTokens: pctx.Response.Usage.OutputTokens,
			TotalTokens:      totalTokens,
			CreatedAt:        now,
		})
	}

	if pctx.Error != nil {
		// on_error stage
		now := time.Now().UTC()
		log.Log(ctx, slog.LevelError, "gateway error",
			"model", pctx.Request.Model,
			"error", pctx.Error.Error(),
			"timestamp", now.Format(time.RFC3339),
		)
		model := ""
		if pctx.Request != nil {
			model = pctx.Request.Model
		}
		_ = l.writer.Write(ctx, requestlog.Entry{
			TraceID:      logging.TraceIDFromContext(ctx),
			Stage:        string(plugin.StageOnError),
			Model:        model,
			ErrorMessage: pctx.Error.Error(),
			CreatedAt:    now,
		})
	}

	return nil
}
