//go:build !linux && !windows && (!darwin || !cgo)

package mediasessions

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

func newPlatformBackends(logger *zap.SugaredLogger) ([]Backend, error) {
	logger.Named("backend").Warnw("No media session backend for this platform", "os", runtime.GOOS)

	return nil, fmt.Errorf("no media session backend for %s: %w", runtime.GOOS, ErrNotSupported)
}
