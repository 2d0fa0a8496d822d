// Package jobflow is the high-level application wrapper around a device
// service. It layers cancellation, device locking, multi-process progress
// tracking, stop countdowns and the file transfer pipelines on top of the
// low-level job wrapper, and reports everything through a single callback
// surface keyed by dotted event ids such as "scanner.processing.scanning".
package jobflow

import (
	"strings"

	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Availability flags which user actions are currently legal for a job.
// They are recomputed on every processing/stopped event and are the single
// source of truth for the controls handed out in Details.
type Availability struct {
	Cancel  bool
	Proceed bool
	Finish  bool
	Stop    bool
}

// Controls are the job actions handed to the application with each event.
// Only the actions whose availability flag is set are non-nil.
type Controls struct {
	Cancel  func()
	Proceed func(options map[string]any)
	Finish  func()
	Stop    func()
}

// Details is the payload attached to every job-scoped event.
type Details struct {
	UID      string
	Job      *Job
	UserInfo any
	Process  job.Process

	Availability Availability
	Controls     Controls

	// RemainingTime is set on stop events driven by a countdown.
	RemainingTime *int

	// Count carries page/copy/destination counters on progress events.
	Count int

	// Transfer-related fields.
	FileName     string
	FileNames    []string
	Progress     int
	Number       int
	URL          string
	StatusCode   int
	Error        string
	ResponseBody string
}

// Callbacks is the surface the application implements. Every callback is
// optional. Job-scoped callbacks receive the event id and its details; the
// id doubles as the lookup key for localized messages.
type Callbacks struct {
	OnRequesting func(id string, d *Details)
	OnDone       func(id string, d *Details)
	OnRequest    func(d *Details)

	OnProcessing       func(id string, d *Details)
	OnProcessingUpdate func(id string, d *Details)
	OnStopped          func(id string, d *Details)
	OnStoppedUpdate    func(id string, d *Details)

	OnCompleted func(id string, d *Details)
	OnAborted   func(id string, d *Details)

	OnAlert  func(id string, d *Details)
	OnNotify func(id string, d *Details)
}

// appStatus is the coarse job state the application sees, as opposed to
// the raw device status.
type appStatus string

const (
	appStatusNone       appStatus = ""
	appStatusProcessing appStatus = "processing"
	appStatusStopped    appStatus = "stopped"
	appStatusCompleted  appStatus = "completed"
	appStatusAborted    appStatus = "aborted"
)

// eventID joins non-empty parts into a dotted event id prefixed with the
// service name.
func (d *Device) eventID(parts ...string) string {
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, d.service.String())
	for _, p := range parts {
		if p != "" {
			elems = append(elems, p)
		}
	}
	return strings.Join(elems, ".")
}

// statusEventID builds "<service>.<jobStatus>[.<process>][.<reason>]" for a
// status document. The printer substitutes the device-level stop reason,
// via the profile hook, because its job documents carry no reasons of
// their own.
func (d *Device) statusEventID(doc *job.StatusDocument) string {
	if d.profile.stoppedEventID != nil && doc.JobStatus == job.StatusProcessingStopped {
		if id := d.profile.stoppedEventID(d, doc); id != "" {
			return id
		}
	}
	process := d.currentProcess(doc)
	return d.eventID(doc.JobStatus.String(), process.String(), doc.FirstReason())
}

// errorEventID builds "<service>.<message_id>" from a device error, or
// "<service>.error.unknown" when the error carries no identifier.
func (d *Device) errorEventID(err error) string {
	if apiErr, ok := rest.AsAPIError(err); ok {
		if id := apiErr.First().MessageID; id != "" {
			return d.eventID(id)
		}
	}
	return d.eventID("error", "unknown")
}
