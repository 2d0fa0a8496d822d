// Package dapi is the low-level wrapper around one device service's REST
// surface and push-event channel. A Device owns the in-flight jobs of its
// service and turns raw status events into typed lifecycle callbacks; it
// performs one round trip per action and never retries.
package dapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
	"github.com/ricoh-sdca/dapi/pkg/common/logger"
)

// Transport executes device API calls. *rest.Client satisfies it; tests
// substitute their own.
type Transport interface {
	Do(ctx context.Context, r rest.Request) (json.RawMessage, error)
}

// DeviceListener receives device-wide status callbacks. Nil fields are
// skipped.
type DeviceListener struct {
	OnStatusChange func(cur, prev *job.DeviceStatus)
	OnIdle         func(*job.DeviceStatus)
	OnProcessing   func(*job.DeviceStatus)
	OnStopped      func(*job.DeviceStatus)
	OnMaintenance  func(*job.DeviceStatus)
	OnUnknown      func(*job.DeviceStatus)
}

// Device wraps one service's REST namespace and event channel.
type Device struct {
	service   job.Service
	transport Transport

	logger *logger.Logger
	tracer trace.Tracer

	listener DeviceListener

	subscriptionID string

	// mu guards the job map, the pending event buffer and the cached
	// documents. Callbacks are always invoked with mu released.
	mu         sync.Mutex
	jobs       map[string]*Job
	pending    map[string][]*job.StatusDocument
	lastStatus *job.DeviceStatus
	capability json.RawMessage
	pdl        json.RawMessage
}

// NewDevice creates a Device for the given service.
func NewDevice(service job.Service, transport Transport, log *logger.Logger, tracer trace.Tracer) *Device {
	return &Device{
		service:   service,
		transport: transport,
		logger:    log.With("component", "dapi_device", "service", service.String()),
		tracer:    tracer,
		jobs:      make(map[string]*Job),
		pending:   make(map[string][]*job.StatusDocument),
	}
}

// Service returns the device's service.
func (d *Device) Service() job.Service { return d.service }

// SetListener installs the device-wide status listener.
func (d *Device) SetListener(l DeviceListener) { d.listener = l }

// SetSubscriptionID records the event-channel token jobs register with.
// Starting a job without one fails fast.
func (d *Device) SetSubscriptionID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscriptionID = id
}

// GetStatus fetches the current device-wide status snapshot.
func (d *Device) GetStatus(ctx context.Context) (*job.DeviceStatus, error) {
	ctx, span := d.tracer.Start(ctx, "dapi_device.get_status",
		trace.WithAttributes(attribute.String("service", d.service.String())))
	defer span.End()

	raw, err := d.transport.Do(ctx, rest.Request{Method: http.MethodGet, Path: d.service.Path() + "/status"})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status fetch failed")
		return nil, fmt.Errorf("failed to get %s status: %w", d.service, err)
	}

	var status job.DeviceStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status decode failed")
		return nil, fmt.Errorf("failed to decode %s status: %w", d.service, err)
	}
	return &status, nil
}

// Capability fetches the service capability document, caching it after the
// first successful call.
func (d *Device) Capability(ctx context.Context) (json.RawMessage, error) {
	d.mu.Lock()
	cached := d.capability
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := d.transport.Do(ctx, rest.Request{Method: http.MethodGet, Path: d.service.Path() + "/capability"})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s capability: %w", d.service, err)
	}

	d.mu.Lock()
	d.capability = raw
	d.mu.Unlock()
	return raw, nil
}

// SupportedPDL fetches the supported page description languages, caching
// the document. Only the printer service exposes this resource.
func (d *Device) SupportedPDL(ctx context.Context) (json.RawMessage, error) {
	d.mu.Lock()
	cached := d.pdl
	d.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	raw, err := d.transport.Do(ctx, rest.Request{Method: http.MethodGet, Path: d.service.Path() + "/supportedPDL"})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s supported PDL: %w", d.service, err)
	}

	d.mu.Lock()
	d.pdl = raw
	d.mu.Unlock()
	return raw, nil
}

// Validate asks the device to check a job setting without running it. The
// jobs resource treats a POST carrying validateOnly as a dry run; any
// validateOnly key in the caller's setting is overridden.
func (d *Device) Validate(ctx context.Context, setting map[string]any) error {
	ctx, span := d.tracer.Start(ctx, "dapi_device.validate",
		trace.WithAttributes(attribute.String("service", d.service.String())))
	defer span.End()

	body := make(map[string]any, len(setting)+1)
	for k, v := range setting {
		body[k] = v
	}
	body["validateOnly"] = true

	_, err := d.transport.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   d.service.Path() + "/jobs",
		Body:   body,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation rejected")
		return fmt.Errorf("failed to validate %s setting: %w", d.service, err)
	}
	return nil
}

// jobEvent is the push-event payload for job status changes.
type jobEvent struct {
	JobID string `json:"jobId"`
	job.StatusDocument
}

// HandleJobEvent routes a pushed job status document to the job it belongs
// to. Events for a job id that has not registered yet are buffered in FIFO
// order and replayed when the job registers; the device's push channel can
// outrace the client's own job-creation response.
func (d *Device) HandleJobEvent(data []byte) error {
	var ev jobEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to decode job event: %w", err)
	}
	if ev.JobID == "" {
		return fmt.Errorf("job event without jobId")
	}

	d.mu.Lock()
	j, ok := d.jobs[ev.JobID]
	if !ok {
		d.pending[ev.JobID] = append(d.pending[ev.JobID], &ev.StatusDocument)
		d.mu.Unlock()
		d.logger.Debug(context.Background(), "buffered event for unregistered job", "job_id", ev.JobID)
		return nil
	}
	d.mu.Unlock()

	j.onStatusChange(&ev.StatusDocument)
	return nil
}

// HandleStatusEvent routes a pushed device-wide status document to the
// device listener.
func (d *Device) HandleStatusEvent(data []byte) error {
	var status job.DeviceStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("failed to decode device status event: %w", err)
	}

	d.mu.Lock()
	prev := d.lastStatus
	d.lastStatus = &status
	d.mu.Unlock()

	if d.listener.OnStatusChange != nil {
		d.listener.OnStatusChange(&status, prev)
	}
	switch status.StateOf(d.service) {
	case job.DeviceIdle:
		if d.listener.OnIdle != nil {
			d.listener.OnIdle(&status)
		}
	case job.DeviceProcessing:
		if d.listener.OnProcessing != nil {
			d.listener.OnProcessing(&status)
		}
	case job.DeviceStopped:
		if d.listener.OnStopped != nil {
			d.listener.OnStopped(&status)
		}
	case job.DeviceMaintenance:
		if d.listener.OnMaintenance != nil {
			d.listener.OnMaintenance(&status)
		}
	default:
		if d.listener.OnUnknown != nil {
			d.listener.OnUnknown(&status)
		}
	}
	return nil
}

// register adds a started job to the job map and replays any events that
// arrived for its id before registration, preserving their order.
func (d *Device) register(j *Job) {
	d.mu.Lock()
	d.jobs[j.id] = j
	queued := d.pending[j.id]
	delete(d.pending, j.id)
	d.mu.Unlock()

	for _, doc := range queued {
		j.onStatusChange(doc)
	}
}

// unregister drops a finished job from the job map.
func (d *Device) unregister(id string) {
	d.mu.Lock()
	delete(d.jobs, id)
	d.mu.Unlock()
}
