// Package bridge abstracts the host browser shell: device locking, the
// push-event subscription, file transfers and system dialogs. The shell is
// an external collaborator; this package only fixes its interface.
package bridge

import (
	"context"

	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// TransferState is the lifecycle of one download or upload.
type TransferState string

const (
	// TransferActive reports transfer progress.
	TransferActive TransferState = "active"
	// TransferSuccess is terminal success.
	TransferSuccess TransferState = "success"
	// TransferFailure is terminal failure, including user aborts.
	TransferFailure TransferState = "failure"
)

// ErrorUserAborted is the Error value of a TransferFailure caused by an
// Abort call rather than a real failure.
const ErrorUserAborted = "UserAborted"

// TransferEvent is one state notification of a transfer.
type TransferEvent struct {
	RequestID string
	State     TransferState

	// Progress is a percentage, reported while the transfer is active.
	Progress int

	// Result carries the downloaded file's local path, or the upload
	// result value, on success.
	Result string
	// ResponseBody is the raw server response of a finished upload.
	ResponseBody string

	// StatusCode and Error describe a failure.
	StatusCode int
	Error      string
}

// TransferFunc receives transfer state notifications.
type TransferFunc func(TransferEvent)

// Bridge is the surface the shell exposes to the SDK. Implementations are
// free to be synchronous; transfer notifications arrive via the registered
// TransferFunc.
type Bridge interface {
	// SetBackMenu enables or disables the hardware back/menu keys.
	SetBackMenu(enabled bool) error
	// LockPowerMode keeps the device out of energy-saver mode.
	LockPowerMode() error
	UnlockPowerMode() error
	// LockLogout suppresses automatic logout while jobs run.
	LockLogout() error
	UnlockLogout() error

	// Permitted reports whether the logged-in user may use the service.
	Permitted(ctx context.Context, svc job.Service) (bool, error)
	// Subscribe obtains the event-channel token for the service's job
	// events. The token is reused across all jobs of the service.
	Subscribe(ctx context.Context, svc job.Service) (string, error)

	// Download fetches url into a local file, reporting progress and the
	// resulting path through fn.
	Download(requestID, url string, options map[string]any, fn TransferFunc) error
	// Upload sends the file at filePath to url, reporting progress and the
	// server response through fn.
	Upload(requestID, url, filePath string, options map[string]any, fn TransferFunc) error
	// Abort cancels an in-flight transfer; the transfer then fails with
	// ErrorUserAborted.
	Abort(requestID string) error
	// RemoveFile deletes a local temporary file.
	RemoveFile(path string) error

	// DisplayAlertDialog shows the system status dialog for a device-level
	// error; HideAlertDialog dismisses it.
	DisplayAlertDialog(systemName, status, reason string) error
	HideAlertDialog() error
}
