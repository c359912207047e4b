package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

const checkExecInterval = 5 * time.Second

// MonitorExecutable signals once when the running binary is replaced on disk, so a
// supervisor can restart the bot with the new build.
func MonitorExecutable(ctx context.Context) <-chan struct{} {
	exeFilename, err := os.Executable()
	if err != nil {
		log.WithError(err).Warn("cant resolve executable path for monitor")
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return monitorFile(ctx, exeFilename, checkExecInterval)
}

// monitorFile closes the returned channel when ctx ends or the file can't be watched,
// and sends one value first if its modification time changed.
func monitorFile(ctx context.Context, path string, interval time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	logger := log.WithFields(log.Fields{"component": "infra", "path": path})
	go func() {
		defer close(ch)

		stat, err := os.Stat(path)
		if err != nil {
			logger.WithError(err).Warn("cant stat file for monitor")
			return
		}
		originalTime := stat.ModTime()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(path)
				if err != nil {
					logger.WithError(err).Debug("cant stat file on monitor tick")
					continue
				}
				if !originalTime.Equal(stat.ModTime()) {
					logger.Info("file changed")
					select {
					case ch <- struct{}{}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
	}()
	return ch
}
