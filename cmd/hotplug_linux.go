//go:build linux

package cmd

import (
	"context"
	"log/slog"

	"github.com/smazurov/videocapture/pkg/linuxav/hotplug"
)

// watchRemovals calls onRemove for every video node the kernel removes
// until ctx is cancelled.
func watchRemovals(ctx context.Context, logger *slog.Logger, onRemove func(node string)) {
	m, err := hotplug.NewMonitor()
	if err != nil {
		logger.Warn("Hotplug monitor unavailable", "error", err)
		return
	}
	defer m.Close()

	logger.Debug("Watching for device removal")
	if err := m.WatchRemovals(ctx, onRemove); err != nil && ctx.Err() == nil {
		logger.Warn("Hotplug monitor stopped", "error", err)
	}
}
