package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Fake is an in-memory Bridge that records every call and lets tests drive
// transfer notifications by hand. Aborting an active transfer emits a
// failure with ErrorUserAborted, matching shell behavior.
type Fake struct {
	mu sync.Mutex

	// Calls is the ordered list of shell calls, formatted as
	// "name(arg,...)".
	Calls []string

	// PermitAll grants every permission check; individual services can be
	// denied via Denied.
	PermitAll bool
	Denied    map[job.Service]bool

	// SubscriptionIDs maps a service to the token Subscribe returns. A
	// missing entry yields an empty token.
	SubscriptionIDs map[job.Service]string

	transfers map[string]TransferFunc
	aborted   map[string]bool

	RemovedFiles []string

	DialogVisible bool
	DialogReason  string
}

// NewFake returns a Fake that permits everything and hands out a fixed
// subscription token per service.
func NewFake() *Fake {
	ids := make(map[job.Service]string)
	for _, svc := range []job.Service{job.ServiceScanner, job.ServicePrinter, job.ServiceCopy, job.ServiceFax} {
		ids[svc] = "sub-" + svc.String()
	}
	return &Fake{
		PermitAll:       true,
		SubscriptionIDs: ids,
		transfers:       make(map[string]TransferFunc),
		aborted:         make(map[string]bool),
	}
}

func (f *Fake) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	copy(out, f.Calls)
	return out
}

func (f *Fake) SetBackMenu(enabled bool) error {
	f.record("setBackMenu(%t)", enabled)
	return nil
}

func (f *Fake) LockPowerMode() error {
	f.record("lockPowerMode()")
	return nil
}

func (f *Fake) UnlockPowerMode() error {
	f.record("unlockPowerMode()")
	return nil
}

func (f *Fake) LockLogout() error {
	f.record("lockLogout()")
	return nil
}

func (f *Fake) UnlockLogout() error {
	f.record("unlockLogout()")
	return nil
}

func (f *Fake) Permitted(_ context.Context, svc job.Service) (bool, error) {
	f.record("permitted(%s)", svc)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Denied[svc] {
		return false, nil
	}
	return f.PermitAll, nil
}

func (f *Fake) Subscribe(_ context.Context, svc job.Service) (string, error) {
	f.record("subscribe(%s)", svc)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SubscriptionIDs[svc], nil
}

func (f *Fake) Download(requestID, url string, _ map[string]any, fn TransferFunc) error {
	f.record("download(%s,%s)", requestID, url)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[requestID] = fn
	return nil
}

func (f *Fake) Upload(requestID, url, filePath string, _ map[string]any, fn TransferFunc) error {
	f.record("upload(%s,%s,%s)", requestID, url, filePath)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[requestID] = fn
	return nil
}

func (f *Fake) Abort(requestID string) error {
	f.record("abort(%s)", requestID)
	f.mu.Lock()
	fn, ok := f.transfers[requestID]
	if ok {
		f.aborted[requestID] = true
		delete(f.transfers, requestID)
	}
	f.mu.Unlock()

	if ok {
		fn(TransferEvent{RequestID: requestID, State: TransferFailure, Error: ErrorUserAborted})
	}
	return nil
}

// Emit delivers a transfer notification for an in-flight request.
// Terminal states drop the registration.
func (f *Fake) Emit(ev TransferEvent) {
	f.mu.Lock()
	fn, ok := f.transfers[ev.RequestID]
	if ok && ev.State != TransferActive {
		delete(f.transfers, ev.RequestID)
	}
	f.mu.Unlock()

	if ok {
		fn(ev)
	}
}

// ActiveTransfers returns the request ids with a live transfer.
func (f *Fake) ActiveTransfers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.transfers))
	for id := range f.transfers {
		out = append(out, id)
	}
	return out
}

// Aborted reports whether Abort was called for the request.
func (f *Fake) Aborted(requestID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[requestID]
}

func (f *Fake) RemoveFile(path string) error {
	f.record("removeFile(%s)", path)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedFiles = append(f.RemovedFiles, path)
	return nil
}

func (f *Fake) DisplayAlertDialog(systemName, status, reason string) error {
	f.record("displayAlertDialog(%s,%s,%s)", systemName, status, reason)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DialogVisible = true
	f.DialogReason = reason
	return nil
}

func (f *Fake) HideAlertDialog() error {
	f.record("hideAlertDialog()")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DialogVisible = false
	f.DialogReason = ""
	return nil
}
