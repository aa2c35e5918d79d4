package mediasessions

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides generic notification sending.
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier sends OS desktop notifications.
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

// NewToastNotifier creates a notifier backed by the OS notification
// facility.
func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	logger.Debug("Created toast notifier instance")

	return &ToastNotifier{logger: logger}, nil
}

// Notify sends a desktop notification. Failures are logged, not returned;
// notifications are best-effort.
func (tn *ToastNotifier) Notify(title string, message string) {
	tn.logger.Infow("Sending toast notification", "title", title)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Warnw("Failed to send toast notification", "error", err)
	}
}
