package jobflow

import (
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// profile is the closed set of per-service behavior differences. All four
// services run the same orchestration; what varies is captured here as
// data and function values rather than subtypes.
type profile struct {
	// processes is the ordered sub-process list used for progress
	// resolution.
	processes []job.Process

	// proceedable and finishable gate the proceed/finish actions on a
	// stopped job's reason codes.
	proceedable func(doc *job.StatusDocument) bool
	finishable  func(doc *job.StatusDocument) bool

	// canceled and aborted classify a terminal status document.
	canceled func(doc *job.StatusDocument) bool
	aborted  func(doc *job.StatusDocument) bool

	// deviceReady and deviceBusy interpret the device-wide status.
	deviceReady func(s *job.DeviceStatus) bool
	deviceBusy  func(s *job.DeviceStatus) bool

	// alertReason returns the reason to surface in the system dialog, or
	// "" when the status does not warrant one.
	alertReason func(s *job.DeviceStatus) string

	// stoppedEventID, when set, overrides the event id of stop events.
	// The printer's job documents carry no stop reasons, so it borrows
	// the device-level one.
	stoppedEventID func(d *Device, doc *job.StatusDocument) string

	// jobCancel issues the service's cancel strategy for a job-level
	// cancellation.
	jobCancel func(d *Device, jb *Job)

	// cleanupJob runs service-specific cleanup as a job leaves the
	// device's job list.
	cleanupJob func(d *Device, jb *Job)
}

func deviceReasonOf(svc job.Service, s *job.DeviceStatus) string {
	if s == nil {
		return ""
	}
	switch svc {
	case job.ServicePrinter:
		return s.FirstPrinterReason()
	case job.ServiceScanner:
		if len(s.ScannerStatusReasons) > 0 {
			return s.ScannerStatusReasons[0]
		}
	case job.ServiceCopy:
		if len(s.CopyStatusReasons) > 0 {
			return s.CopyStatusReasons[0]
		}
	case job.ServiceFax:
		if len(s.FaxStatusReasons) > 0 {
			return s.FaxStatusReasons[0]
		}
	}
	return ""
}

// errorLevelReason implements the dialog rule shared by the non-printer
// services: surface the status reason when the occurred error level is
// fatal_error or error.
func errorLevelReason(svc job.Service) func(s *job.DeviceStatus) string {
	return func(s *job.DeviceStatus) string {
		if s == nil {
			return ""
		}
		if s.OccuredErrorLevel != "fatal_error" && s.OccuredErrorLevel != "error" {
			return ""
		}
		return deviceReasonOf(svc, s)
	}
}

func baseProfile(svc job.Service) profile {
	return profile{
		processes:   svc.Processes(),
		proceedable: func(doc *job.StatusDocument) bool { return job.Proceedable(svc, doc) },
		finishable:  func(doc *job.StatusDocument) bool { return job.Finishable(svc, doc) },
		canceled:    func(doc *job.StatusDocument) bool { return job.Canceled(svc, doc) },
		aborted:     func(doc *job.StatusDocument) bool { return job.Aborted(svc, doc) },
		deviceReady: func(s *job.DeviceStatus) bool { return s.StateOf(svc) == job.DeviceIdle },
		deviceBusy: func(s *job.DeviceStatus) bool {
			state := s.StateOf(svc)
			return state == job.DeviceProcessing || state == job.DeviceStopped
		},
		alertReason: errorLevelReason(svc),
		jobCancel:   func(d *Device, jb *Job) { d.jobCancel(jb) },
		cleanupJob:  func(*Device, *Job) {},
	}
}

func scannerProfile() profile {
	p := baseProfile(job.ServiceScanner)
	p.jobCancel = func(d *Device, jb *Job) {
		// A scan with files in flight needs both the device-side cancel
		// and the upload pipeline aborted.
		if jb.Upload.Len() > 0 {
			d.uploadCancel(jb)
		}
		d.jobCancel(jb)
	}
	p.cleanupJob = func(d *Device, jb *Job) {
		// Stored files of a completed scan are deleted from the device
		// once every upload settled.
		if jb.obj == nil {
			return
		}
		doc := jb.obj.Status()
		if doc != nil && doc.JobStatus == job.StatusCompleted && jb.Upload.Len() > 0 {
			if err := jb.obj.FileDelete(d.lifetimeCtx); err != nil {
				d.logger.Warn(d.lifetimeCtx, "failed to delete stored scan files", "uid", jb.UID, "error", err)
			}
		}
	}
	return p
}

func printerProfile() profile {
	p := baseProfile(job.ServicePrinter)
	// The printer reports ready while spooling and is never "busy" the way
	// the scan-based services are.
	p.deviceReady = func(s *job.DeviceStatus) bool {
		state := s.StateOf(job.ServicePrinter)
		return state == job.DeviceIdle || state == job.DeviceProcessing
	}
	p.deviceBusy = func(*job.DeviceStatus) bool { return false }
	p.alertReason = func(s *job.DeviceStatus) string {
		if s == nil || len(s.PrinterStatusReasons) == 0 {
			return ""
		}
		if s.PrinterStatusReasons[0].Severity != "error" {
			return ""
		}
		return s.PrinterStatusReasons[0].Reason
	}
	p.stoppedEventID = func(d *Device, doc *job.StatusDocument) string {
		reason := d.deviceReason()
		if reason == "" {
			return ""
		}
		process := job.ResolveProcess(doc, nil, p.processes)
		return d.eventID(doc.JobStatus.String(), process.String(), reason)
	}
	p.cleanupJob = func(d *Device, jb *Job) {
		// A downloaded print file is temporary; drop it with the job.
		if path := jb.FilePath(); path != "" {
			if err := d.bridge.RemoveFile(path); err != nil {
				d.logger.Warn(d.lifetimeCtx, "failed to remove downloaded file", "path", path, "error", err)
			}
		}
	}
	return p
}

func copyProfile() profile { return baseProfile(job.ServiceCopy) }

func faxProfile() profile { return baseProfile(job.ServiceFax) }
