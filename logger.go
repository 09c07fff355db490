package minibgp

import (
	"context"

	"github.com/outofforest/logger"
	"go.uber.org/zap"
)

// peerLogger returns the logger carried by ctx annotated with the session
// identity of config.
func peerLogger(ctx context.Context, config Config) *zap.Logger {
	return logger.Get(ctx).With(
		zap.Stringer("peer", config.RemoteIP),
		zap.Stringer("remoteAS", config.RemoteAS),
		zap.Stringer("mode", config.Mode),
	)
}
