package jobflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ricoh-sdca/dapi/internal/bridge"
	"github.com/ricoh-sdca/dapi/internal/config"
	"github.com/ricoh-sdca/dapi/internal/dapi"
	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
	"github.com/ricoh-sdca/dapi/pkg/common/logger"
)

// Deps carries everything a Device needs.
type Deps struct {
	Transport dapi.Transport
	Bridge    bridge.Bridge
	Config    config.DeviceConfig
	Logger    *logger.Logger
	Tracer    trace.Tracer
}

// InitCallbacks receive the device-wide readiness transitions and the
// alerts raised outside any job batch.
type InitCallbacks struct {
	OnReady   func()
	OnUnready func()
	OnAlert   func(id string, d *Details)
}

// Device orchestrates the jobs of one service: pre-start guards, device
// locking, cancellation, progress events and completion. All four services
// share this type; the differences live in the profile.
type Device struct {
	service job.Service
	profile profile

	dev    *dapi.Device
	bridge bridge.Bridge
	cfg    config.DeviceConfig
	logger *logger.Logger
	tracer trace.Tracer

	// lifetimeCtx outlives individual operations; cleanup and deferred
	// control calls run against it.
	lifetimeCtx context.Context

	// countdownInterval is the stop-countdown tick; tests shorten it.
	countdownInterval time.Duration

	mu          sync.Mutex
	jobs        []*Job
	locked      bool
	initialized bool
	permitted   bool
	ready       bool
	callbacks   *Callbacks
	initCbs     InitCallbacks
	lastStatus  *job.DeviceStatus
}

func newDevice(svc job.Service, prof profile, deps Deps) *Device {
	return &Device{
		service:           svc,
		profile:           prof,
		dev:               dapi.NewDevice(svc, deps.Transport, deps.Logger, deps.Tracer),
		bridge:            deps.Bridge,
		cfg:               deps.Config,
		logger:            deps.Logger.With("component", "jobflow", "service", svc.String()),
		tracer:            deps.Tracer,
		lifetimeCtx:       context.Background(),
		countdownInterval: time.Second,
	}
}

// Service returns the device's service.
func (d *Device) Service() job.Service { return d.service }

// LowLevel exposes the underlying device wrapper; the event subscription
// feeds pushed events into it.
func (d *Device) LowLevel() *dapi.Device { return d.dev }

// IsInitialized reports whether Init completed its subscription setup.
func (d *Device) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// IsPermitted reports whether the logged-in user may use the service.
func (d *Device) IsPermitted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.permitted
}

// IsReady reports whether the device-wide status allows starting a job.
func (d *Device) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Jobs returns a snapshot of the in-flight jobs.
func (d *Device) Jobs() []*Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Job, len(d.jobs))
	copy(out, d.jobs)
	return out
}

// Init establishes the event subscription (with a bounded retry loop),
// checks the user's permission, takes the initial readiness reading and
// arms the device-wide status listener. ctx doubles as the device's
// lifetime context.
func (d *Device) Init(ctx context.Context, cbs InitCallbacks) error {
	ctx, span := d.tracer.Start(ctx, "jobflow_device.init",
		trace.WithAttributes(attribute.String("service", d.service.String())))
	defer span.End()

	d.mu.Lock()
	d.lifetimeCtx = ctx
	d.initCbs = cbs
	d.mu.Unlock()

	subscribe := func() error {
		id, err := d.bridge.Subscribe(ctx, d.service)
		if err != nil {
			return err
		}
		if id == "" {
			return errors.New("empty subscription id")
		}
		d.dev.SetSubscriptionID(id)
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	if d.cfg.InitRetry.InitialWait > 0 {
		expBackoff.InitialInterval = d.cfg.InitRetry.InitialWait.Std()
	}
	if d.cfg.InitRetry.MaxWait > 0 {
		expBackoff.MaxInterval = d.cfg.InitRetry.MaxWait.Std()
	}
	attempts := d.cfg.InitRetry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	if err := backoff.Retry(subscribe, backoff.WithMaxRetries(expBackoff, uint64(attempts-1))); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscription setup failed")
		id := d.eventID("error", "init_failure")
		if apiErr, ok := rest.AsAPIError(err); ok && apiErr.First().MessageID != "" {
			id = d.eventID(apiErr.First().MessageID)
		}
		d.alert(id, &Details{Process: job.Process(d.service.String())}, nil)
		return err
	}
	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()

	permitted, err := d.bridge.Permitted(ctx, d.service)
	if err != nil || !permitted {
		if err != nil {
			d.logger.Error(ctx, "permission check failed", "error", err)
		}
		d.alert(d.eventID("not_permitted"), &Details{Process: job.Process(d.service.String())}, nil)
	} else {
		d.mu.Lock()
		d.permitted = true
		d.mu.Unlock()
	}

	status, err := d.dev.GetStatus(ctx)
	if err != nil {
		d.logger.Error(ctx, "initial status fetch failed", "error", err)
		d.fireUnready()
	} else {
		d.applyDeviceStatus(status)
		if !d.IsReady() {
			d.fireUnready()
			if d.profile.deviceBusy(status) {
				d.alert(d.eventID("error", "other_function_using"), &Details{Process: job.Process(d.service.String())}, nil)
			}
		}
		d.switchAlertDialog(status)
	}

	d.dev.SetListener(dapi.DeviceListener{
		OnStatusChange: func(cur, _ *job.DeviceStatus) {
			d.applyDeviceStatus(cur)
			d.switchAlertDialog(cur)
		},
	})
	return nil
}

// applyDeviceStatus updates readiness and fires the ready/unready edge
// callbacks.
func (d *Device) applyDeviceStatus(status *job.DeviceStatus) {
	ready := d.profile.deviceReady(status)

	d.mu.Lock()
	d.lastStatus = status
	changed := ready != d.ready
	d.ready = ready
	d.mu.Unlock()

	if !changed {
		return
	}
	if ready {
		d.fireReady()
	} else {
		d.fireUnready()
	}
}

func (d *Device) fireReady() {
	d.mu.Lock()
	fn := d.initCbs.OnReady
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *Device) fireUnready() {
	d.mu.Lock()
	fn := d.initCbs.OnUnready
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// switchAlertDialog shows or hides the system status dialog according to
// the device status.
func (d *Device) switchAlertDialog(status *job.DeviceStatus) {
	if !d.cfg.DisplayAlertDialog {
		return
	}
	reason := d.profile.alertReason(status)
	if reason == "" {
		if err := d.bridge.HideAlertDialog(); err != nil {
			d.logger.Warn(d.lifetimeCtx, "failed to hide alert dialog", "error", err)
		}
		return
	}
	state := string(status.StateOf(d.service))
	if err := d.bridge.DisplayAlertDialog(d.service.SystemName(), state, reason); err != nil {
		d.logger.Warn(d.lifetimeCtx, "failed to display alert dialog", "error", err)
	}
}

// deviceReason returns the first device-level status reason of the last
// snapshot.
func (d *Device) deviceReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return deviceReasonOf(d.service, d.lastStatus)
}

// checkStartAllowed enforces the pre-start guard shared by every service:
// initialized, then permitted, then ready, alerting on the first failure.
func (d *Device) checkStartAllowed() bool {
	svcProcess := job.Process(d.service.String())
	if !d.IsInitialized() {
		d.alert(d.eventID("error", "not_initialized"), &Details{Process: svcProcess}, nil)
		return false
	}
	if !d.IsPermitted() {
		d.alert(d.eventID("error", "not_permitted"), &Details{Process: svcProcess}, nil)
		return false
	}
	if !d.IsReady() {
		d.alert(d.eventID("error", "not_ready"), &Details{Process: svcProcess}, nil)
		return false
	}
	return true
}

// setCallbacks binds the user callbacks for the current batch of jobs.
func (d *Device) setCallbacks(cb Callbacks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = &cb
}

func (d *Device) userCallbacks() Callbacks {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.callbacks == nil {
		return Callbacks{}
	}
	return *d.callbacks
}

// createJob makes an application-level job with its controls bound and
// adds it to the device's job list.
func (d *Device) createJob(options map[string]any, userInfo any) *Job {
	jb := newJob(d, options, userInfo)
	d.bindControls(jb)

	d.mu.Lock()
	d.jobs = append(d.jobs, jb)
	d.mu.Unlock()
	return jb
}

func (d *Device) bindControls(jb *Job) {
	jb.controls.Cancel = func() { d.cancelCallback(jb) }
	jb.controls.Proceed = func(options map[string]any) { d.proceedCallback(jb, options) }
	switch d.service {
	case job.ServiceScanner:
		jb.controls.Finish = func() { d.finishCallback(jb) }
		jb.controls.Stop = func() { d.stopCallback(jb) }
	case job.ServiceCopy, job.ServiceFax:
		jb.controls.Finish = func() { d.finishCallback(jb) }
	}
}

// createDeviceJob arms a low-level job with this device's lifecycle
// handlers. The counter listeners vary per service.
func (d *Device) createDeviceJob(jb *Job) {
	l := dapi.Listener{
		OnStatusChange: func(cur, prev *job.StatusDocument) { d.handleJobStatusChange(jb, cur, prev) },
		OnPending:      func(doc *job.StatusDocument) { d.handlePending(jb, doc) },
		OnProcessing:   func(doc *job.StatusDocument) { d.handleProcessing(jb, doc) },
		OnProcessingStopped: func(doc *job.StatusDocument, _ bool) {
			d.handleProcessingStopped(jb, doc, nil)
		},
		OnCompleted: func(doc *job.StatusDocument) { d.handleCompleted(jb, doc) },
		OnAborted:   func(doc *job.StatusDocument) { d.handleAborted(jb, doc) },
		OnCanceled:  func(doc *job.StatusDocument) { d.handleCanceled(jb, doc) },
	}

	switch d.service {
	case job.ServiceScanner:
		l.OnPageScanned = func(doc *job.StatusDocument, count int) { d.handleCounter(jb, doc, count) }
		l.OnSent = func(doc *job.StatusDocument, count int) { d.handleCounter(jb, doc, count) }
	case job.ServicePrinter:
		l.OnPagePrinted = func(doc *job.StatusDocument, count int) { d.handleCounter(jb, doc, count) }
	case job.ServiceCopy:
		l.OnPageScanned = func(doc *job.StatusDocument, count int) { d.handleCounter(jb, doc, count) }
		l.OnCopyPrinted = func(doc *job.StatusDocument, count int) { d.handleCounter(jb, doc, count) }
	case job.ServiceFax:
		l.OnPageScanned = func(doc *job.StatusDocument, count int) { d.handleCounter(jb, doc, count) }
	}

	jb.obj = d.dev.NewJob(l)
}

// startJob submits one job: lock the device, announce the request, create
// the device job and report the outcome. A rejected submission aborts the
// job without it ever entering the device's job map.
func (d *Device) startJob(ctx context.Context, jb *Job) error {
	ctx, span := d.tracer.Start(ctx, "jobflow_device.start_job",
		trace.WithAttributes(
			attribute.String("service", d.service.String()),
			attribute.String("uid", jb.UID),
		))
	defer span.End()

	d.createDeviceJob(jb)
	d.lockDevice()

	d.callOnRequesting(jb, d.eventID("requesting", "start"), job.ProcessStart)

	err := jb.obj.Start(ctx, jb.options)

	if cb := d.userCallbacks(); cb.OnRequest != nil {
		det := &Details{Process: job.ProcessStart}
		d.fill(det, jb)
		cb.OnRequest(det)
	}
	d.callOnDone(jb, d.eventID("done", "start"), job.ProcessStart)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job submission rejected")
		det := &Details{Process: job.ProcessStart, StatusCode: statusCode(err), Error: err.Error()}
		d.callOnAborted(jb, d.errorEventID(err), det)
		d.finish(jb)
		return err
	}

	d.callOnProcessing(jb, d.eventID("processing", "start"), job.ProcessStart, nil)
	return nil
}

// finish removes a settled job from the device's list, running the
// service cleanup first. When the last job leaves, the device unlocks and
// the batch callbacks are released.
func (d *Device) finish(jb *Job) {
	d.profile.cleanupJob(d, jb)

	d.mu.Lock()
	for i, j := range d.jobs {
		if j.UID == jb.UID {
			d.jobs = append(d.jobs[:i], d.jobs[i+1:]...)
			break
		}
	}
	empty := len(d.jobs) == 0
	d.mu.Unlock()

	if empty {
		d.unlockDevice()
		d.mu.Lock()
		d.callbacks = nil
		d.mu.Unlock()
	}
}

func unlockFlag(p *bool) bool { return p == nil || *p }

// lockDevice takes the back-menu, power-mode and logout locks once per
// batch; further calls while locked are no-ops so lock and unlock stay
// paired across concurrent jobs.
func (d *Device) lockDevice() {
	d.mu.Lock()
	if d.locked {
		d.mu.Unlock()
		return
	}
	d.locked = true
	d.mu.Unlock()

	if err := d.bridge.SetBackMenu(false); err != nil {
		d.logger.Warn(d.lifetimeCtx, "failed to disable back menu", "error", err)
	}
	if err := d.bridge.LockPowerMode(); err != nil {
		d.logger.Warn(d.lifetimeCtx, "failed to lock power mode", "error", err)
	}
	if err := d.bridge.LockLogout(); err != nil {
		d.logger.Warn(d.lifetimeCtx, "failed to lock logout", "error", err)
	}
}

// unlockDevice releases the locks taken at batch start, honoring the
// configured unlock-on-finish flags.
func (d *Device) unlockDevice() {
	d.mu.Lock()
	if !d.locked {
		d.mu.Unlock()
		return
	}
	d.locked = false
	d.mu.Unlock()

	if unlockFlag(d.cfg.SetBackMenuOnFinish) {
		if err := d.bridge.SetBackMenu(true); err != nil {
			d.logger.Warn(d.lifetimeCtx, "failed to restore back menu", "error", err)
		}
	}
	if unlockFlag(d.cfg.UnlockPowerModeOnFinish) {
		if err := d.bridge.UnlockPowerMode(); err != nil {
			d.logger.Warn(d.lifetimeCtx, "failed to unlock power mode", "error", err)
		}
	}
	if unlockFlag(d.cfg.UnlockLogoutOnFinish) {
		if err := d.bridge.UnlockLogout(); err != nil {
			d.logger.Warn(d.lifetimeCtx, "failed to unlock logout", "error", err)
		}
	}
}

// currentProcess resolves the job's current sub-process without touching
// any completion tracking.
func (d *Device) currentProcess(doc *job.StatusDocument) job.Process {
	return job.ResolveProcess(doc, nil, d.profile.processes)
}

func statusCode(err error) int {
	if apiErr, ok := rest.AsAPIError(err); ok {
		return apiErr.Code
	}
	return 0
}

func (d *Device) fill(det *Details, jb *Job) {
	if jb == nil {
		return
	}
	det.UID = jb.UID
	det.Job = jb
	det.UserInfo = jb.userInfo
}

func (d *Device) alert(id string, det *Details, jb *Job) {
	if det == nil {
		det = &Details{}
	}
	d.fill(det, jb)
	d.logger.Debug(d.lifetimeCtx, "alert", "event_id", id)
	if cb := d.userCallbacks(); cb.OnAlert != nil {
		cb.OnAlert(id, det)
		return
	}
	d.mu.Lock()
	fn := d.initCbs.OnAlert
	d.mu.Unlock()
	if fn != nil {
		fn(id, det)
	}
}

func (d *Device) notify(id string, det *Details, jb *Job) {
	if det == nil {
		det = &Details{}
	}
	d.fill(det, jb)
	if cb := d.userCallbacks(); cb.OnNotify != nil {
		cb.OnNotify(id, det)
	}
}

func (d *Device) callOnRequesting(jb *Job, id string, process job.Process) {
	det := &Details{Process: process}
	d.fill(det, jb)
	if cb := d.userCallbacks(); cb.OnRequesting != nil {
		cb.OnRequesting(id, det)
	}
}

func (d *Device) callOnDone(jb *Job, id string, process job.Process) {
	det := &Details{Process: process}
	d.fill(det, jb)
	if cb := d.userCallbacks(); cb.OnDone != nil {
		cb.OnDone(id, det)
	}
}

// callOnProcessing reports a processing event, choosing the update variant
// when neither the coarse status nor the cancel/stop availability moved.
// An accepted cancellation or a finished job suppresses the event.
func (d *Device) callOnProcessing(jb *Job, id string, process job.Process, det *Details) {
	lastStatus := jb.Status()
	lastAvail := jb.AvailabilityFlags()

	if jb.IsCancelAccepted() || jb.HasFinishedStatus() {
		return
	}

	jb.setStatus(appStatusProcessing)
	jb.setProcess(process)

	if det == nil {
		det = &Details{}
	}
	det.Process = process
	d.fill(det, jb)

	avail := jb.AvailabilityFlags()
	det.Availability.Cancel = avail.Cancel
	if avail.Cancel {
		det.Controls.Cancel = jb.controls.Cancel
	}
	if d.service == job.ServiceScanner {
		det.Availability.Stop = avail.Stop
		if avail.Stop {
			det.Controls.Stop = jb.controls.Stop
		}
	}

	cb := d.userCallbacks()
	if lastStatus == appStatusProcessing &&
		lastAvail.Cancel == avail.Cancel &&
		lastAvail.Stop == avail.Stop {
		if cb.OnProcessingUpdate != nil {
			cb.OnProcessingUpdate(id, det)
		}
		return
	}
	if cb.OnProcessing != nil {
		cb.OnProcessing(id, det)
	}
}

// callOnStopped reports a stop event with the proceed/finish availability
// already decided by the caller. A stop without a countdown for a
// wait-for-next-original reason carries the _notimeout id variant.
func (d *Device) callOnStopped(jb *Job, id string, process job.Process, proceed, finish bool, remaining *int, det *Details) {
	lastStatus := jb.Status()
	lastAvail := jb.AvailabilityFlags()

	if jb.IsCancelAccepted() || jb.HasFinishedStatus() {
		return
	}

	jb.setAvailability(func(a *Availability) {
		a.Proceed = proceed
		a.Finish = finish
	})
	jb.setStatus(appStatusStopped)
	jb.setProcess(process)

	if det == nil {
		det = &Details{}
	}
	det.Process = process
	d.fill(det, jb)
	det.RemainingTime = remaining

	avail := jb.AvailabilityFlags()
	det.Availability = avail
	if avail.Cancel {
		det.Controls.Cancel = jb.controls.Cancel
	}
	if proceed {
		det.Controls.Proceed = jb.controls.Proceed
	}
	if finish {
		det.Controls.Finish = jb.controls.Finish
	}

	if strings.Contains(id, "wait_for_next_original") &&
		(remaining == nil || *remaining == 0) &&
		!strings.HasSuffix(id, "_notimeout") {
		id += "_notimeout"
	}

	cb := d.userCallbacks()
	if lastStatus == appStatusStopped &&
		lastAvail.Cancel == avail.Cancel &&
		lastAvail.Proceed == proceed &&
		lastAvail.Finish == finish {
		if cb.OnStoppedUpdate != nil {
			cb.OnStoppedUpdate(id, det)
		}
		return
	}
	if cb.OnStopped != nil {
		cb.OnStopped(id, det)
	}
}

func (d *Device) callOnCompleted(jb *Job, id string, process job.Process, det *Details) {
	if jb.HasFinishedStatus() {
		return
	}
	jb.setStatus(appStatusCompleted)
	jb.setProcess(process)

	if det == nil {
		det = &Details{}
	}
	det.Process = process
	d.fill(det, jb)

	if cb := d.userCallbacks(); cb.OnCompleted != nil {
		cb.OnCompleted(id, det)
	}
}

func (d *Device) callOnAborted(jb *Job, id string, det *Details) {
	if jb.HasFinishedStatus() {
		return
	}
	jb.setStatus(appStatusAborted)
	jb.setProcess(job.ProcessNone)

	if det == nil {
		det = &Details{}
	}
	d.fill(det, jb)

	if cb := d.userCallbacks(); cb.OnAborted != nil {
		cb.OnAborted(id, det)
	}
}
