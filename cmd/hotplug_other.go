//go:build !linux

package cmd

import (
	"context"
	"log/slog"
)

func watchRemovals(_ context.Context, logger *slog.Logger, _ func(node string)) {
	logger.Debug("Device removal is not monitored on this platform")
}
