package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/jafarshop/erpsync/internal/hooks"
)

// transportLogger writes every ERP exchange to the debug log
type transportLogger struct {
	hooks.Nop
	logger *zap.Logger
}

func (l *transportLogger) AfterSend(ctx context.Context, ev *hooks.SendEvent) {
	l.logger.Debug("ERP exchange",
		zap.String("endpoint", ev.EndpointID),
		zap.Int("attempt", ev.Attempt),
		zap.Int("request_bytes", len(ev.Request)),
		zap.Int("response_bytes", len(ev.Response)),
	)
}

func (l *transportLogger) AfterException(ctx context.Context, ev *hooks.SendEvent) {
	l.logger.Debug("ERP exchange failed",
		zap.String("endpoint", ev.EndpointID),
		zap.Int("attempt", ev.Attempt),
		zap.Error(ev.Err),
	)
}

type connectionLogger struct {
	hooks.Nop
	logger *zap.Logger
}

func (l *connectionLogger) ConnectionLost(ev hooks.ConnectionEvent) {
	fields := []zap.Field{zap.String("endpoint", ev.EndpointKey), zap.String("url", ev.URL)}
	if ev.LastSuccessfulCommunication != nil {
		fields = append(fields, zap.Time("last_success", *ev.LastSuccessfulCommunication))
	}
	l.logger.Warn("ERP connection lost", fields...)
}

func (l *connectionLogger) ConnectionRestored(ev hooks.ConnectionEvent) {
	l.logger.Info("ERP connection restored", zap.String("endpoint", ev.EndpointKey))
}
