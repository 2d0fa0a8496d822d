package dapi

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
	"github.com/ricoh-sdca/dapi/pkg/common/logger"
)

// fakeTransport records every request and answers from a scripted handler.
type fakeTransport struct {
	mu       sync.Mutex
	requests []rest.Request
	respond  func(rest.Request) (json.RawMessage, error)
}

func (f *fakeTransport) Do(_ context.Context, r rest.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(r)
}

func (f *fakeTransport) last(t *testing.T) rest.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestDevice(svc job.Service, transport Transport) *Device {
	log := logger.New(os.Stderr, logger.LevelError, "test", nil)
	return NewDevice(svc, transport, log, noop.NewTracerProvider().Tracer("test"))
}

func startedResponse(id string) func(rest.Request) (json.RawMessage, error) {
	return func(r rest.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"jobId":"` + id + `"}`), nil
	}
}

func TestJobStartPreconditions(t *testing.T) {
	t.Parallel()

	t.Run("missing subscription fails before sending", func(t *testing.T) {
		t.Parallel()
		ft := &fakeTransport{}
		d := newTestDevice(job.ServiceScanner, ft)

		err := d.NewJob(Listener{}).Start(context.Background(), nil)
		apiErr, ok := rest.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, 0, apiErr.Code)
		assert.Equal(t, rest.MessageIDBrowserError, apiErr.First().MessageID)
		assert.Equal(t, "undefined_subscriptionid", apiErr.First().Message)
		assert.Empty(t, ft.requests)
	})

	t.Run("second start fails fast", func(t *testing.T) {
		t.Parallel()
		ft := &fakeTransport{respond: startedResponse("j1")}
		d := newTestDevice(job.ServiceScanner, ft)
		d.SetSubscriptionID("sub-1")

		j := d.NewJob(Listener{})
		require.NoError(t, j.Start(context.Background(), nil))

		err := j.Start(context.Background(), nil)
		apiErr, ok := rest.AsAPIError(err)
		require.True(t, ok)
		assert.Equal(t, rest.MessageIDClientError, apiErr.First().MessageID)
		assert.Equal(t, "job_has_already_run", apiErr.First().Message)
		assert.Len(t, ft.requests, 1)
	})

	t.Run("start carries subscription header and setting", func(t *testing.T) {
		t.Parallel()
		ft := &fakeTransport{respond: startedResponse("j2")}
		d := newTestDevice(job.ServicePrinter, ft)
		d.SetSubscriptionID("sub-2")

		j := d.NewJob(Listener{})
		require.NoError(t, j.Start(context.Background(), map[string]any{"printMode": "normal"}))
		assert.Equal(t, "j2", j.ID())

		req := ft.last(t)
		assert.Equal(t, "/service/printer/jobs", req.Path)
		assert.Equal(t, "sub-2", req.Headers["X-Subscription-Id"])
	})
}

func TestJobTransitionBodies(t *testing.T) {
	t.Parallel()

	start := func(t *testing.T, svc job.Service) (*Job, *fakeTransport) {
		t.Helper()
		ft := &fakeTransport{respond: startedResponse("j1")}
		d := newTestDevice(svc, ft)
		d.SetSubscriptionID("sub")
		j := d.NewJob(Listener{})
		require.NoError(t, j.Start(context.Background(), nil))
		return j, ft
	}

	t.Run("scanner proceed nests the transition", func(t *testing.T) {
		t.Parallel()
		j, ft := start(t, job.ServiceScanner)
		require.NoError(t, j.Proceed(context.Background(), map[string]any{
			"jobStatus":    "ignored",
			"originalSide": "one_sided",
		}))

		body := ft.last(t).Body.(map[string]any)
		assert.NotContains(t, body, "jobStatus")
		assert.Equal(t, "one_sided", body["originalSide"])
		assert.Equal(t, map[string]any{"jobStatus": job.StatusProcessing}, body["scanningInfo"])
	})

	t.Run("printer proceed is top level", func(t *testing.T) {
		t.Parallel()
		j, ft := start(t, job.ServicePrinter)
		require.NoError(t, j.Proceed(context.Background(), nil))

		body := ft.last(t).Body.(map[string]any)
		assert.Equal(t, job.StatusProcessing, body["jobStatus"])
		assert.NotContains(t, body, "scanningInfo")
	})

	t.Run("cancel", func(t *testing.T) {
		t.Parallel()
		j, ft := start(t, job.ServiceScanner)
		require.NoError(t, j.Cancel(context.Background()))

		req := ft.last(t)
		assert.Equal(t, "/service/scanner/jobs/j1", req.Path)
		assert.Equal(t, map[string]any{"jobStatus": job.StatusCanceled}, req.Body)
	})

	t.Run("scanner finish nests completion", func(t *testing.T) {
		t.Parallel()
		j, ft := start(t, job.ServiceScanner)
		require.NoError(t, j.FinishScanning(context.Background()))

		body := ft.last(t).Body.(map[string]any)
		assert.Equal(t, map[string]any{"jobStatus": job.StatusCompleted}, body["scanningInfo"])
	})

	t.Run("fax finish is top level", func(t *testing.T) {
		t.Parallel()
		j, ft := start(t, job.ServiceFax)
		require.NoError(t, j.FinishScanning(context.Background()))

		body := ft.last(t).Body.(map[string]any)
		assert.Equal(t, job.StatusCompleted, body["jobStatus"])
	})

	t.Run("stop scanning", func(t *testing.T) {
		t.Parallel()
		j, ft := start(t, job.ServiceScanner)
		require.NoError(t, j.StopScanning(context.Background()))

		body := ft.last(t).Body.(map[string]any)
		assert.Equal(t, map[string]any{"jobStatus": job.StatusProcessingStopped}, body["scanningInfo"])
	})
}

func TestJobStatusDispatch(t *testing.T) {
	t.Parallel()

	startWith := func(t *testing.T, svc job.Service, l Listener) (*Device, *Job) {
		t.Helper()
		ft := &fakeTransport{respond: startedResponse("j1")}
		d := newTestDevice(svc, ft)
		d.SetSubscriptionID("sub")
		j := d.NewJob(l)
		require.NoError(t, j.Start(context.Background(), nil))
		return d, j
	}

	t.Run("pending then processing", func(t *testing.T) {
		t.Parallel()
		var events []string
		d, _ := startWith(t, job.ServiceScanner, Listener{
			OnPending:    func(*job.StatusDocument) { events = append(events, "pending") },
			OnProcessing: func(*job.StatusDocument) { events = append(events, "processing") },
		})

		require.NoError(t, d.HandleJobEvent([]byte(`{"jobId":"j1","jobStatus":"pending"}`)))
		require.NoError(t, d.HandleJobEvent([]byte(`{"jobId":"j1","jobStatus":"processing"}`)))
		assert.Equal(t, []string{"pending", "processing"}, events)
	})

	t.Run("counter callbacks suppress zero", func(t *testing.T) {
		t.Parallel()
		var counts []int
		d, _ := startWith(t, job.ServiceScanner, Listener{
			OnPageScanned: func(_ *job.StatusDocument, count int) { counts = append(counts, count) },
		})

		send := func(payload string) {
			require.NoError(t, d.HandleJobEvent([]byte(payload)))
		}
		send(`{"jobId":"j1","jobStatus":"processing","scanningInfo":{"scannedCount":0}}`)
		send(`{"jobId":"j1","jobStatus":"processing","scanningInfo":{"scannedCount":1}}`)
		send(`{"jobId":"j1","jobStatus":"processing","scanningInfo":{"scannedCount":2}}`)
		send(`{"jobId":"j1","jobStatus":"processing","scanningInfo":{"scannedCount":0}}`)

		assert.Equal(t, []int{1, 2}, counts)
	})

	t.Run("stop reports auto start decision", func(t *testing.T) {
		t.Parallel()
		type stop struct {
			reason    string
			autoStart bool
		}
		var stops []stop
		d, _ := startWith(t, job.ServiceScanner, Listener{
			OnProcessingStopped: func(doc *job.StatusDocument, autoStart bool) {
				stops = append(stops, stop{doc.FirstReason(), autoStart})
			},
		})

		require.NoError(t, d.HandleJobEvent([]byte(
			`{"jobId":"j1","jobStatus":"processing_stopped","jobStatusReasons":["wait_for_next_original"]}`)))
		// Same status, new reason: still a stop event.
		require.NoError(t, d.HandleJobEvent([]byte(
			`{"jobId":"j1","jobStatus":"processing_stopped","jobStatusReasons":["wait_for_next_original_and_continue"]}`)))

		require.Len(t, stops, 2)
		assert.Equal(t, stop{"wait_for_next_original", true}, stops[0])
		assert.Equal(t, stop{"wait_for_next_original_and_continue", false}, stops[1])
	})

	t.Run("terminal event unregisters before its callback", func(t *testing.T) {
		t.Parallel()
		var completed bool
		var d *Device
		d, _ = startWith(t, job.ServiceScanner, Listener{
			OnCompleted: func(*job.StatusDocument) {
				completed = true
				d.mu.Lock()
				defer d.mu.Unlock()
				assert.Empty(t, d.jobs)
			},
		})

		require.NoError(t, d.HandleJobEvent([]byte(`{"jobId":"j1","jobStatus":"completed"}`)))
		assert.True(t, completed)
	})
}

func TestPendingEventReplay(t *testing.T) {
	t.Parallel()

	// The push channel can deliver events for a job before the
	// job-creation response arrives. They must replay in order once the
	// job registers.
	ft := &fakeTransport{respond: startedResponse("j9")}
	d := newTestDevice(job.ServiceScanner, ft)
	d.SetSubscriptionID("sub")

	require.NoError(t, d.HandleJobEvent([]byte(`{"jobId":"j9","jobStatus":"pending"}`)))
	require.NoError(t, d.HandleJobEvent([]byte(`{"jobId":"j9","jobStatus":"processing"}`)))

	var events []job.Status
	j := d.NewJob(Listener{
		OnStatusChange: func(cur, _ *job.StatusDocument) { events = append(events, cur.JobStatus) },
	})
	require.NoError(t, j.Start(context.Background(), nil))

	assert.Equal(t, []job.Status{job.StatusPending, job.StatusProcessing}, events)

	// Live dispatch resumes after replay and the buffer is gone.
	require.NoError(t, d.HandleJobEvent([]byte(`{"jobId":"j9","jobStatus":"processing_stopped","jobStatusReasons":["wait_for_next_original"]}`)))
	assert.Equal(t, []job.Status{job.StatusPending, job.StatusProcessing, job.StatusProcessingStopped}, events)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Empty(t, d.pending)
}

func TestDeviceStatusEvents(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	d := newTestDevice(job.ServiceScanner, ft)

	var states []string
	d.SetListener(DeviceListener{
		OnIdle:       func(*job.DeviceStatus) { states = append(states, "idle") },
		OnProcessing: func(*job.DeviceStatus) { states = append(states, "processing") },
		OnStopped:    func(*job.DeviceStatus) { states = append(states, "stopped") },
	})

	require.NoError(t, d.HandleStatusEvent([]byte(`{"scannerStatus":"idle"}`)))
	require.NoError(t, d.HandleStatusEvent([]byte(`{"scannerStatus":"processing"}`)))
	require.NoError(t, d.HandleStatusEvent([]byte(`{"scannerStatus":"stopped"}`)))

	assert.Equal(t, []string{"idle", "processing", "stopped"}, states)
}
