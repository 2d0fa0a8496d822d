package jobflow

import (
	"strings"

	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// cancelCallback is the user-facing cancel control. The request is
// remembered and dispatched according to the job's current sub-process;
// in phases that cannot accept a cancel yet the request stays pending and
// replays when the job enters a cancellable phase.
func (d *Device) cancelCallback(jb *Job) {
	jb.setCancelRequested(true)

	switch jb.Process() {
	case job.ProcessPrinting, job.ProcessScanning, job.ProcessPreview,
		job.ProcessFiling, job.ProcessSending:
		d.profile.jobCancel(d, jb)
	case job.ProcessDownloading:
		d.downloadCancel(jb)
	case job.ProcessUploading:
		d.uploadCancel(jb)
	}
}

// jobCancel cancels the device-side job over REST. A cannot_accept_now
// rejection replays the cancel; any other failure clears the pending
// request and alerts.
func (d *Device) jobCancel(jb *Job) {
	if jb.obj == nil || jb.HasFinishedStatus() {
		return
	}

	d.callOnRequesting(jb, d.eventID("requesting", "cancel"), job.ProcessCancel)
	err := jb.obj.Cancel(d.lifetimeCtx)
	d.callOnDone(jb, d.eventID("done", "cancel"), job.ProcessCancel)

	if err != nil {
		if apiErr, ok := rest.AsAPIError(err); ok &&
			strings.Contains(apiErr.First().MessageID, "cannot_accept_now") {
			jb.controls.Cancel()
			return
		}
		jb.setCancelRequested(false)
		det := &Details{
			Process:    job.ProcessCancel,
			StatusCode: statusCode(err),
			Error:      err.Error(),
		}
		d.alert(d.errorEventID(err), det, jb)
		return
	}

	jb.stopCountdown()
	d.callOnProcessing(jb, d.eventID("processing", "cancel"), job.ProcessCancel, nil)
}

// downloadCancel aborts the in-flight file download of a print job.
func (d *Device) downloadCancel(jb *Job) {
	d.callOnProcessing(jb, d.eventID("processing", "cancel"), job.ProcessCancel, nil)
	if id := jb.downloadRequestID(); id != "" {
		if err := d.bridge.Abort(id); err != nil {
			d.logger.Warn(d.lifetimeCtx, "failed to abort download", "error", err, "request_id", id)
		}
	}
}

// uploadCancel aborts the in-flight uploads of a scan job and marks the
// remaining files as canceling so the aggregate settles.
func (d *Device) uploadCancel(jb *Job) {
	d.callOnProcessing(jb, d.eventID("processing", "cancel"), job.ProcessCancel, nil)
	if jb.Upload == nil {
		return
	}
	for _, f := range jb.Upload.Files() {
		if f.Status == FileUploading {
			if err := d.bridge.Abort(f.ID); err != nil {
				d.logger.Warn(d.lifetimeCtx, "failed to abort upload", "error", err, "request_id", f.ID)
			}
		}
	}
	for _, f := range jb.Upload.Files() {
		jb.Upload.SetStatus(f.ID, FileCanceling)
	}
}

// proceedCallback resumes a stopped job. The options are forwarded only
// when they carry a jobSetting object.
func (d *Device) proceedCallback(jb *Job, options map[string]any) {
	switch jb.Process() {
	case job.ProcessPrinting, job.ProcessScanning, job.ProcessFiling,
		job.ProcessOcring, job.ProcessSending:
	default:
		return
	}
	if options != nil {
		if _, ok := options["jobSetting"]; !ok {
			options = nil
		}
	}

	d.callOnRequesting(jb, d.eventID("requesting", "proceed"), job.ProcessProceed)
	err := jb.obj.Proceed(d.lifetimeCtx, options)
	d.callOnDone(jb, d.eventID("done", "proceed"), job.ProcessProceed)

	if err != nil {
		det := &Details{
			Process:    job.ProcessProceed,
			StatusCode: statusCode(err),
			Error:      err.Error(),
		}
		d.alert(d.errorEventID(err), det, jb)
		return
	}

	jb.stopCountdown()
	d.callOnProcessing(jb, d.eventID("processing", "proceed"), job.ProcessProceed, nil)
}

// finishCallback closes the scanning phase of a stopped job instead of
// waiting for more originals.
func (d *Device) finishCallback(jb *Job) {
	switch jb.Process() {
	case job.ProcessScanning, job.ProcessPreview:
	default:
		return
	}

	d.callOnRequesting(jb, d.eventID("requesting", "finish"), job.ProcessFinish)
	err := jb.obj.FinishScanning(d.lifetimeCtx)
	d.callOnDone(jb, d.eventID("done", "finish"), job.ProcessFinish)

	if err != nil {
		det := &Details{
			Process:    job.ProcessFinish,
			StatusCode: statusCode(err),
			Error:      err.Error(),
		}
		d.alert(d.errorEventID(err), det, jb)
		return
	}

	jb.stopCountdown()
	d.callOnProcessing(jb, d.eventID("processing", "finish"), job.ProcessFinish, nil)
}

// stopCallback pauses an active scan so more originals can be placed.
func (d *Device) stopCallback(jb *Job) {
	if jb.Process() != job.ProcessScanning {
		return
	}

	d.callOnRequesting(jb, d.eventID("requesting", "stop"), job.ProcessStop)
	err := jb.obj.StopScanning(d.lifetimeCtx)
	d.callOnDone(jb, d.eventID("done", "stop"), job.ProcessStop)

	if err != nil {
		det := &Details{
			Process:    job.ProcessStop,
			StatusCode: statusCode(err),
			Error:      err.Error(),
		}
		d.alert(d.errorEventID(err), det, jb)
		return
	}

	jb.stopCountdown()
	d.callOnProcessing(jb, d.eventID("processing", "stop"), job.ProcessStop, nil)
}
