package jobflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ricoh-sdca/dapi/internal/bridge"
	"github.com/ricoh-sdca/dapi/internal/config"
	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
	"github.com/ricoh-sdca/dapi/pkg/common/logger"
)

// scriptedTransport answers device REST calls from a canned script and
// records every request.
type scriptedTransport struct {
	mu       sync.Mutex
	requests []rest.Request
	jobIDs   []string
	svc      job.Service
	status   string

	// putErrs is consumed one per PUT; a nil entry means success.
	putErrs []error

	// fileGate, when set, blocks scanned-file GETs until closed. Set it
	// before the test starts any job.
	fileGate chan struct{}
}

func newScriptedTransport(svc job.Service, jobIDs ...string) *scriptedTransport {
	return &scriptedTransport{svc: svc, jobIDs: jobIDs, status: "idle"}
}

func (t *scriptedTransport) Do(_ context.Context, r rest.Request) (json.RawMessage, error) {
	if t.fileGate != nil && r.Method == http.MethodGet && strings.HasSuffix(r.Path, "/file") {
		<-t.fileGate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, r)

	switch {
	case r.Method == http.MethodPut && len(t.putErrs) > 0:
		err := t.putErrs[0]
		t.putErrs = t.putErrs[1:]
		return nil, err
	case r.Method == http.MethodGet && r.Path == t.svc.Path()+"/status":
		return json.RawMessage(fmt.Sprintf(`{%q: %q}`, t.svc.String()+"Status", t.status)), nil
	case r.Method == http.MethodPost && r.Path == t.svc.Path()+"/jobs":
		if len(t.jobIDs) == 0 {
			return nil, rest.BrowserError("no scripted job id")
		}
		id := t.jobIDs[0]
		t.jobIDs = t.jobIDs[1:]
		return json.RawMessage(fmt.Sprintf(`{"jobId": %q}`, id)), nil
	case r.Method == http.MethodGet && strings.HasSuffix(r.Path, "/file"):
		return json.RawMessage(`{"filePath": "/tmp/scan-file"}`), nil
	}
	return nil, nil
}

func (t *scriptedTransport) recorded() []rest.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]rest.Request, len(t.requests))
	copy(out, t.requests)
	return out
}

func (t *scriptedTransport) find(method, pathSuffix string) (rest.Request, bool) {
	for _, r := range t.recorded() {
		if r.Method == method && strings.HasSuffix(r.Path, pathSuffix) {
			return r, true
		}
	}
	return rest.Request{}, false
}

// eventLog records every callback invocation as "kind id" plus its
// details.
type eventLog struct {
	mu      sync.Mutex
	entries []string
	details []*Details
}

func newEventLog() *eventLog { return &eventLog{} }

func (l *eventLog) add(kind, id string, d *Details) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := kind
	if id != "" {
		entry += " " + id
	}
	l.entries = append(l.entries, entry)
	l.details = append(l.details, d)
}

func (l *eventLog) callbacks() Callbacks {
	return Callbacks{
		OnRequesting:       func(id string, d *Details) { l.add("onRequesting", id, d) },
		OnDone:             func(id string, d *Details) { l.add("onDone", id, d) },
		OnRequest:          func(d *Details) { l.add("onRequest", "", d) },
		OnProcessing:       func(id string, d *Details) { l.add("onProcessing", id, d) },
		OnProcessingUpdate: func(id string, d *Details) { l.add("onProcessingUpdate", id, d) },
		OnStopped:          func(id string, d *Details) { l.add("onStopped", id, d) },
		OnStoppedUpdate:    func(id string, d *Details) { l.add("onStoppedUpdate", id, d) },
		OnCompleted:        func(id string, d *Details) { l.add("onCompleted", id, d) },
		OnAborted:          func(id string, d *Details) { l.add("onAborted", id, d) },
		OnAlert:            func(id string, d *Details) { l.add("onAlert", id, d) },
		OnNotify:           func(id string, d *Details) { l.add("onNotify", id, d) },
	}
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *eventLog) has(entry string) bool {
	for _, e := range l.list() {
		if e == entry {
			return true
		}
	}
	return false
}

func (l *eventLog) count(prefix string) int {
	n := 0
	for _, e := range l.list() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (l *eventLog) detailOf(entry string) *Details {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e == entry {
			return l.details[i]
		}
	}
	return nil
}

func testDeps(tr *scriptedTransport, b bridge.Bridge) Deps {
	return Deps{
		Transport: tr,
		Bridge:    b,
		Config:    config.Default().Device,
		Logger:    logger.New(os.Stderr, logger.LevelError, "test", nil),
		Tracer:    noop.NewTracerProvider().Tracer("test"),
	}
}

func mustInit(t *testing.T, d *Device, log *eventLog) {
	t.Helper()
	cbs := InitCallbacks{}
	if log != nil {
		cbs.OnAlert = func(id string, det *Details) { log.add("onAlert", id, det) }
	}
	require.NoError(t, d.Init(context.Background(), cbs))
}

func pushJobEvent(t *testing.T, d *Device, payload string) {
	t.Helper()
	require.NoError(t, d.LowLevel().HandleJobEvent([]byte(payload)))
}

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestPrinterPrintLifecycle(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter, "j1")
	shell := bridge.NewFake()
	p := NewPrinter(testDeps(tr, shell))
	mustInit(t, p.Device, nil)

	log := newEventLog()
	options := map[string]any{"printSetting": map[string]any{"copies": 2}}
	require.NoError(t, p.Print(context.Background(), PrintRequest{Options: options}, log.callbacks(), "user-1"))

	pushJobEvent(t, p.Device, `{"jobId":"j1","jobStatus":"processing","printingInfo":{"jobStatus":"processing"}}`)
	pushJobEvent(t, p.Device, `{"jobId":"j1","jobStatus":"completed","printingInfo":{"jobStatus":"completed"}}`)

	assert.Equal(t, []string{
		"onRequesting printer.requesting.start",
		"onRequest",
		"onDone printer.done.start",
		"onProcessing printer.processing.start",
		"onProcessingUpdate printer.processing.printing",
		"onNotify printer.completed.printing",
		"onCompleted printer.completed",
	}, log.list())

	det := log.detailOf("onCompleted printer.completed")
	require.NotNil(t, det)
	assert.Equal(t, "user-1", det.UserInfo)
	assert.NotEmpty(t, det.UID)

	assert.Empty(t, p.Jobs())

	calls := shell.CallLog()
	assert.Equal(t, 1, countCalls(calls, "setBackMenu(false)"))
	assert.Equal(t, 1, countCalls(calls, "lockPowerMode()"))
	assert.Equal(t, 1, countCalls(calls, "lockLogout()"))
	assert.Equal(t, 1, countCalls(calls, "setBackMenu(true)"))
	assert.Equal(t, 1, countCalls(calls, "unlockPowerMode()"))
	assert.Equal(t, 1, countCalls(calls, "unlockLogout()"))
}

func TestPrinterBatchLocksOnce(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter, "j1", "j2")
	shell := bridge.NewFake()
	p := NewPrinter(testDeps(tr, shell))
	mustInit(t, p.Device, nil)

	log := newEventLog()
	reqs := []PrintRequest{
		{Options: map[string]any{"printSetting": map[string]any{}}},
		{Options: map[string]any{"printSetting": map[string]any{}}},
	}
	require.NoError(t, p.PrintBatch(context.Background(), reqs, log.callbacks(), nil))
	require.Len(t, p.Jobs(), 2)

	pushJobEvent(t, p.Device, `{"jobId":"j1","jobStatus":"completed","printingInfo":{"jobStatus":"completed"}}`)

	calls := shell.CallLog()
	assert.Equal(t, 1, countCalls(calls, "setBackMenu(false)"))
	assert.Zero(t, countCalls(calls, "setBackMenu(true)"), "device must stay locked while a job remains")

	pushJobEvent(t, p.Device, `{"jobId":"j2","jobStatus":"completed","printingInfo":{"jobStatus":"completed"}}`)

	calls = shell.CallLog()
	assert.Equal(t, 1, countCalls(calls, "setBackMenu(false)"))
	assert.Equal(t, 1, countCalls(calls, "setBackMenu(true)"))
	assert.Equal(t, 2, log.count("onCompleted printer.completed"))
	assert.Empty(t, p.Jobs())
}

func TestPrinterSubmissionRejectedAborts(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter) // no job ids scripted
	shell := bridge.NewFake()
	p := NewPrinter(testDeps(tr, shell))
	mustInit(t, p.Device, nil)

	log := newEventLog()
	require.NoError(t, p.Print(context.Background(), PrintRequest{Options: map[string]any{}}, log.callbacks(), nil))

	assert.True(t, log.has("onAborted printer."+rest.MessageIDBrowserError))
	assert.Empty(t, p.Jobs())

	calls := shell.CallLog()
	assert.Equal(t, 1, countCalls(calls, "setBackMenu(true)"), "rejected submission must unlock the device")
}

func TestPrinterDownloadFailureAborts(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter, "j1")
	shell := bridge.NewFake()
	p := NewPrinter(testDeps(tr, shell))
	mustInit(t, p.Device, nil)

	log := newEventLog()
	req := PrintRequest{URL: "https://files.example.com/doc.pdf", Options: map[string]any{}}
	require.NoError(t, p.Print(context.Background(), req, log.callbacks(), nil))
	require.Len(t, p.Jobs(), 1)
	uid := p.Jobs()[0].UID

	shell.Emit(bridge.TransferEvent{RequestID: uid, State: bridge.TransferActive, Progress: 42})

	det := log.detailOf("onProcessing printer.processing.downloading")
	require.NotNil(t, det)
	assert.Equal(t, 42, det.Progress)
	assert.Equal(t, "https://files.example.com/doc.pdf", det.URL)

	shell.Emit(bridge.TransferEvent{
		RequestID:  uid,
		State:      bridge.TransferFailure,
		StatusCode: 500,
		Error:      "server_error",
	})

	det = log.detailOf("onAborted printer.aborted.downloading")
	require.NotNil(t, det)
	assert.Equal(t, 500, det.StatusCode)
	assert.Equal(t, "server_error", det.Error)

	_, posted := tr.find(http.MethodPost, "/jobs")
	assert.False(t, posted, "no print job may be submitted after a failed download")
	assert.Empty(t, p.Jobs())
	assert.Equal(t, 1, countCalls(shell.CallLog(), "setBackMenu(true)"))
}

func TestPrinterDownloadCancel(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter, "j1")
	shell := bridge.NewFake()
	p := NewPrinter(testDeps(tr, shell))
	mustInit(t, p.Device, nil)

	log := newEventLog()
	req := PrintRequest{URL: "https://files.example.com/doc.pdf", Options: map[string]any{}}
	require.NoError(t, p.Print(context.Background(), req, log.callbacks(), nil))
	uid := p.Jobs()[0].UID

	shell.Emit(bridge.TransferEvent{RequestID: uid, State: bridge.TransferActive, Progress: 10})

	det := log.detailOf("onProcessing printer.processing.downloading")
	require.NotNil(t, det)
	require.NotNil(t, det.Controls.Cancel)
	det.Controls.Cancel()

	assert.True(t, shell.Aborted(uid))
	assert.True(t, log.has("onProcessing printer.processing.cancel"))
	assert.True(t, log.has("onAborted printer.canceled.downloading"))
	assert.Empty(t, p.Jobs())
}

func TestPrinterDownloadSuccessSubmitsJob(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter, "j1")
	shell := bridge.NewFake()
	p := NewPrinter(testDeps(tr, shell))
	mustInit(t, p.Device, nil)

	log := newEventLog()
	req := PrintRequest{URL: "https://files.example.com/doc.pdf", Options: map[string]any{}}
	require.NoError(t, p.Print(context.Background(), req, log.callbacks(), nil))
	uid := p.Jobs()[0].UID

	shell.Emit(bridge.TransferEvent{RequestID: uid, State: bridge.TransferSuccess, Result: "/tmp/doc.pdf"})

	assert.True(t, log.has("onNotify printer.completed.downloading"))
	assert.True(t, log.has("onProcessing printer.processing.start"))

	posted, ok := tr.find(http.MethodPost, "/jobs")
	require.True(t, ok)
	body, ok := posted.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/tmp/doc.pdf", body["filePath"])

	pushJobEvent(t, p.Device, `{"jobId":"j1","jobStatus":"completed","printingInfo":{"jobStatus":"completed"}}`)
	assert.True(t, log.has("onCompleted printer.completed"))
	assert.Contains(t, shell.RemovedFiles, "/tmp/doc.pdf")
}

func TestStartGuards(t *testing.T) {
	t.Parallel()

	t.Run("not initialized", func(t *testing.T) {
		t.Parallel()
		tr := newScriptedTransport(job.ServicePrinter)
		p := NewPrinter(testDeps(tr, bridge.NewFake()))

		log := newEventLog()
		err := p.Print(context.Background(), PrintRequest{}, log.callbacks(), nil)
		assert.ErrorIs(t, err, ErrNotStartable)
		assert.Equal(t, []string{"onAlert printer.error.not_initialized"}, log.list())
	})

	t.Run("not permitted", func(t *testing.T) {
		t.Parallel()
		tr := newScriptedTransport(job.ServicePrinter)
		shell := bridge.NewFake()
		shell.Denied = map[job.Service]bool{job.ServicePrinter: true}
		p := NewPrinter(testDeps(tr, shell))

		log := newEventLog()
		mustInit(t, p.Device, log)
		assert.True(t, log.has("onAlert printer.not_permitted"))

		err := p.Print(context.Background(), PrintRequest{}, newEventLog().callbacks(), nil)
		assert.ErrorIs(t, err, ErrNotStartable)
		assert.True(t, log.has("onAlert printer.error.not_permitted"))
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		tr := newScriptedTransport(job.ServicePrinter)
		tr.status = "maintenance"
		p := NewPrinter(testDeps(tr, bridge.NewFake()))

		log := newEventLog()
		mustInit(t, p.Device, log)
		require.False(t, p.IsReady())

		err := p.Print(context.Background(), PrintRequest{}, newEventLog().callbacks(), nil)
		assert.ErrorIs(t, err, ErrNotStartable)
		assert.True(t, log.has("onAlert printer.error.not_ready"))
	})
}

func TestInitSubscriptionFailure(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServicePrinter)
	shell := bridge.NewFake()
	shell.SubscriptionIDs = map[job.Service]string{}

	deps := testDeps(tr, shell)
	deps.Config.InitRetry = config.RetryConfig{
		MaxAttempts: 2,
		InitialWait: config.Duration(time.Millisecond),
		MaxWait:     config.Duration(time.Millisecond),
	}
	p := NewPrinter(deps)

	log := newEventLog()
	err := p.Init(context.Background(), InitCallbacks{
		OnAlert: func(id string, det *Details) { log.add("onAlert", id, det) },
	})
	require.Error(t, err)
	assert.False(t, p.IsInitialized())
	assert.True(t, log.has("onAlert printer.error.init_failure"))
	assert.Equal(t, 2, countCalls(shell.CallLog(), "subscribe(printer)"))
}

func TestInitReportsReadiness(t *testing.T) {
	t.Parallel()

	tr := newScriptedTransport(job.ServiceCopy)
	p := NewCopier(testDeps(tr, bridge.NewFake()))

	ready := false
	err := p.Init(context.Background(), InitCallbacks{
		OnReady: func() { ready = true },
	})
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, p.IsInitialized())
	assert.True(t, p.IsPermitted())
	assert.True(t, p.IsReady())
}
