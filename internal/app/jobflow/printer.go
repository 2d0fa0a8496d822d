package jobflow

import (
	"context"
	"errors"

	"github.com/ricoh-sdca/dapi/internal/bridge"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// ErrNotStartable is returned by the start operations when the pre-start
// guard fails; the detailed reason has already been reported through the
// OnAlert callback.
var ErrNotStartable = errors.New("jobflow: device not ready to start a job")

// Printer is the high-level print service.
type Printer struct {
	*Device
}

// NewPrinter builds the printer device around the given dependencies.
func NewPrinter(deps Deps) *Printer {
	return &Printer{Device: newDevice(job.ServicePrinter, printerProfile(), deps)}
}

// PrintRequest describes one print job. A request with a URL downloads the
// file first and submits the print job once the file is local; a request
// without one submits the print job directly (the options then name a
// stored file on the device).
type PrintRequest struct {
	URL             string
	Options         map[string]any
	DownloadOptions map[string]any
}

// Print starts a single print job.
func (p *Printer) Print(ctx context.Context, req PrintRequest, cb Callbacks, userInfo any) error {
	return p.PrintBatch(ctx, []PrintRequest{req}, cb, userInfo)
}

// PrintBatch starts several print jobs as one batch: the device stays
// locked until the last job settles, and every job reports through the
// same callbacks. Submission failures are reported per job through
// OnAborted rather than the return value.
func (p *Printer) PrintBatch(ctx context.Context, reqs []PrintRequest, cb Callbacks, userInfo any) error {
	if !p.checkStartAllowed() {
		return ErrNotStartable
	}
	p.setCallbacks(cb)

	for _, req := range reqs {
		jb := p.createJob(cloneOptions(req.Options), userInfo)
		if req.URL == "" {
			if err := p.startJob(ctx, jb); err != nil {
				p.logger.Warn(ctx, "print job submission failed", "uid", jb.UID, "error", err)
			}
			continue
		}
		p.startDownload(jb, req.URL, req.DownloadOptions)
	}
	return nil
}

// startDownload locks the device and hands the file transfer to the
// shell; the print job itself is submitted from the success notification.
func (p *Printer) startDownload(jb *Job, url string, options map[string]any) {
	p.lockDevice()
	jb.setDownload(jb.UID, url, options)

	if err := p.bridge.Download(jb.UID, url, options, p.downloadStateFunc(jb)); err != nil {
		det := &Details{Process: job.ProcessDownloading, URL: url, Error: err.Error()}
		p.callOnAborted(jb, p.eventID("aborted", "downloading"), det)
		p.finish(jb)
	}
}

func (p *Printer) downloadStateFunc(jb *Job) bridge.TransferFunc {
	return func(ev bridge.TransferEvent) {
		switch ev.State {
		case bridge.TransferActive:
			det := &Details{URL: jb.downloadSource(), Progress: ev.Progress}
			p.callOnProcessing(jb, p.eventID("processing", "downloading"), job.ProcessDownloading, det)

		case bridge.TransferSuccess:
			det := &Details{Process: job.ProcessDownloading, URL: jb.downloadSource()}
			p.notify(p.eventID("completed", "downloading"), det, jb)

			if jb.IsCancelRequested() && !jb.HasFinishedStatus() {
				p.callOnAborted(jb, p.eventID("canceled", "downloading"),
					&Details{Process: job.ProcessDownloading})
				p.finish(jb)
				return
			}

			jb.setFilePath(ev.Result)
			jb.setOption("filePath", ev.Result)
			if err := p.startJob(p.lifetimeCtx, jb); err != nil {
				p.logger.Warn(p.lifetimeCtx, "print job submission failed", "uid", jb.UID, "error", err)
			}

		case bridge.TransferFailure:
			if ev.Error == bridge.ErrorUserAborted {
				p.callOnAborted(jb, p.eventID("canceled", "downloading"),
					&Details{Process: job.ProcessDownloading})
			} else {
				det := &Details{
					Process:      job.ProcessDownloading,
					URL:          jb.downloadSource(),
					StatusCode:   ev.StatusCode,
					Error:        ev.Error,
					ResponseBody: ev.ResponseBody,
				}
				p.callOnAborted(jb, p.eventID("aborted", "downloading"), det)
			}
			p.finish(jb)
		}
	}
}

func cloneOptions(options map[string]any) map[string]any {
	out := make(map[string]any, len(options)+1)
	for k, v := range options {
		out[k] = v
	}
	return out
}
