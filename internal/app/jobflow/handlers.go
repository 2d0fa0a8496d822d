package jobflow

import (
	"context"
	"strings"

	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// handlePending reports a queued job. A "processing_later" reservation is
// terminal from the application's point of view: the job completes
// immediately and leaves the batch.
func (d *Device) handlePending(jb *Job, doc *job.StatusDocument) {
	if jb.HasFinishedStatus() || d.profile.canceled(doc) || d.profile.aborted(doc) {
		return
	}
	if doc.FirstReason() == "processing_later" {
		d.callOnCompleted(jb, d.eventID("completed", "processing_later"),
			job.Process(d.service.String()), nil)
		d.finish(jb)
		return
	}
	d.callOnProcessing(jb, d.statusEventID(doc), d.currentProcess(doc), nil)
}

func (d *Device) handleProcessing(jb *Job, doc *job.StatusDocument) {
	if jb.HasFinishedStatus() || d.profile.canceled(doc) || d.profile.aborted(doc) {
		return
	}
	d.callOnProcessing(jb, d.statusEventID(doc), d.currentProcess(doc), nil)
}

// handleProcessingStopped reports a stop. When the device announces a
// remaining wait time, a countdown goroutine re-emits the stop event every
// second with the time left, resynchronizing against the device every five
// ticks.
func (d *Device) handleProcessingStopped(jb *Job, doc *job.StatusDocument, det *Details) {
	if jb.HasFinishedStatus() {
		return
	}

	id := d.statusEventID(doc)
	process := d.currentProcess(doc)
	if strings.Contains(id, "preview") {
		process = job.ProcessPreview
	}

	proceed := d.profile.proceedable(doc) && !jb.IsCancelAccepted()
	finish := d.profile.finishable(doc) && !jb.IsCancelAccepted()

	remaining := doc.RemainingTime()
	if remaining <= 0 {
		d.callOnStopped(jb, id, process, proceed, finish, nil, det)
		return
	}

	c := newCountdownWithInterval(d.countdownInterval)
	jb.startCountdown(c)

	emit := func(left int) {
		v := left
		var extra *Details
		if det != nil {
			copied := *det
			extra = &copied
		}
		d.callOnStopped(jb, id, process, proceed, finish, &v, extra)
	}
	resync := func(ctx context.Context) (int, bool) {
		status, err := jb.obj.GetStatus(ctx)
		if err != nil || status == nil {
			return 0, false
		}
		if t := status.RemainingTime(); t > 0 {
			return t, true
		}
		return 0, false
	}
	go c.Run(d.lifetimeCtx, remaining+1, emit, resync)
}

// handleCounter reports a page or transmission counter bump, carrying the
// count in the event details. A counter arriving while the job is stopped
// re-renders the stop event instead.
func (d *Device) handleCounter(jb *Job, doc *job.StatusDocument, count int) {
	if jb.HasFinishedStatus() {
		return
	}
	det := &Details{Count: count}
	switch doc.JobStatus {
	case job.StatusProcessing:
		process := d.currentProcess(doc)
		d.callOnProcessing(jb, d.eventID("processing", process.String()), process, det)
	case job.StatusProcessingStopped:
		d.handleProcessingStopped(jb, doc, det)
	}
}

// handleCompleted settles a successful job. A registered continuation
// (such as the scanner's upload pipeline) takes over unless a cancel is
// pending, in which case the job aborts as canceled. Without a
// continuation a pending cancel that arrived too late raises a
// cancel_failure alert before the completion is reported.
func (d *Device) handleCompleted(jb *Job, doc *job.StatusDocument) {
	if jb.HasFinishedStatus() {
		return
	}

	if post := jb.getPostOnCompleted(); post != nil {
		if jb.IsCancelRequested() {
			process := d.currentProcess(doc)
			det := &Details{Process: process}
			d.callOnAborted(jb, d.eventID("canceled", process.String()), det)
			d.finish(jb)
			return
		}
		post()
		return
	}

	if jb.IsCancelRequested() {
		d.alert(d.eventID("error", "cancel_failure"), &Details{Process: job.ProcessCancel}, jb)
	}
	d.callOnCompleted(jb, d.eventID("completed"),
		job.Process(d.service.String()), nil)
	d.finish(jb)
}

// handleAborted settles a failed job once its side work (uploads) has
// drained; until then the abort stays parked and the upload pipeline
// re-reports it.
func (d *Device) handleAborted(jb *Job, doc *job.StatusDocument) {
	if jb.HasFinishedStatus() {
		return
	}
	if !jb.IsFinished() {
		return
	}
	det := &Details{Process: d.currentProcess(doc)}
	d.callOnAborted(jb, d.statusEventID(doc), det)
	d.finish(jb)
}

// handleCanceled settles a canceled job immediately.
func (d *Device) handleCanceled(jb *Job, doc *job.StatusDocument) {
	if jb.HasFinishedStatus() {
		return
	}
	det := &Details{Process: d.currentProcess(doc)}
	d.callOnAborted(jb, d.statusEventID(doc), det)
	d.finish(jb)
}

// handleJobStatusChange runs on every raw status push, before and
// independently of the per-status handlers: it tracks which sub-process
// the job is in, announces finished sub-processes of multi-process jobs,
// and reports process boundaries the coarse status does not show.
func (d *Device) handleJobStatusChange(jb *Job, cur, prev *job.StatusDocument) {
	process := jb.resolveProcess(cur, d.profile.processes)
	lastProcess := jb.swapLastProcess(process)

	jb.stopCountdown()

	if jb.HasFinishedStatus() {
		return
	}

	if jb.isProcessCompleted(process) {
		det := &Details{Process: process}
		d.notify(d.eventID("completed", process.String()), det, jb)
	}

	if lastProcess != process && cur != nil && prev != nil && prev.JobStatus == cur.JobStatus {
		d.callOnProcessing(jb, d.eventID("processing", process.String()), process, nil)
	}

	if post := jb.getPostOnStatusChange(); post != nil {
		post()
	}
}
