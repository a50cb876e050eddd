// Package notification provides cross-platform desktop notifications.
// It uses the beeep library to send notifications on macOS, Linux, and Windows.
package notification

import (
	"github.com/gen2brain/beeep"

	"github.com/whot/papagai/internal/logger"
)

// Title is the application name shown on notifications.
const Title = "papagai"

var notify = beeep.Notify

// SetNotifier replaces the function used to deliver notifications.
func SetNotifier(fn func(title, message string, icon any) error) {
	notify = fn
}

// ResetNotifier restores beeep as the notifier.
func ResetNotifier() {
	notify = beeep.Notify
}

// Send sends a desktop notification with the given title and message.
// On Linux, it uses D-Bus or notify-send.
func Send(title, message string) error {
	logger.Debug("Notification: Sending notification - title=%q, message=%q", title, message)
	// Use empty string for icon - beeep handles platform defaults
	err := notify(title, message, "")
	if err != nil {
		logger.Warn("Notification: Failed to send notification: %v", err)
	}
	return err
}

// WorkDone announces that the agent finished and where its work is.
func WorkDone(branch string) error {
	return Send(Title, "My work here is done. Check out branch "+branch)
}

// WorkFailed announces that a run failed.
func WorkFailed(branch string, err error) error {
	msg := "Run failed: " + err.Error()
	if branch != "" {
		msg = "Run on " + branch + " failed: " + err.Error()
	}
	return Send(Title, msg)
}
