package feishu

import (
	"context"
	"fmt"
	"log/slog"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
)

// larkSlogLogger routes SDK output through slog.
type larkSlogLogger struct {
	logger *slog.Logger
}

func newLarkSlogLogger(logger *slog.Logger) larkcore.Logger {
	return &larkSlogLogger{logger: logger}
}

func (l *larkSlogLogger) Debug(ctx context.Context, args ...any) { l.emit(ctx, slog.LevelDebug, args) }
func (l *larkSlogLogger) Info(ctx context.Context, args ...any) { l.emit(ctx, slog.LevelInfo, args) }
func (l *larkSlogLogger) Warn(ctx context.Context, args ...any) { l.emit(ctx, slog.LevelWarn, args) }
func (l *larkSlogLogger) Error(ctx context.Context, args ...any) { l.emit(ctx, slog.LevelError, args) }

func (l *larkSlogLogger) emit(ctx context.Context, level slog.Level, args []any) {
	l.logger.Log(ctx, level, "lark sdk", slog.String("detail", fmt.Sprint(args...)))
}
