package jobflow

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ricoh-sdca/dapi/internal/dapi"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Job is the application-level view of one unit of device work. It wraps
// the low-level job with the coarse status/process pair, action
// availability, the cancellation flags and the upload tracker.
type Job struct {
	device *Device

	// UID is the client-generated id used in event details; the device
	// assigns its own id to the underlying job.
	UID string

	obj      *dapi.Job
	options  map[string]any
	userInfo any

	// controls are this job's bound actions, handed to the application
	// through event details.
	controls Controls

	// Upload tracks the scan-and-upload pipeline. Always present; empty
	// for jobs that never upload.
	Upload *Upload

	mu sync.Mutex

	status       appStatus
	process      job.Process
	lastProcess  job.Process
	availability Availability

	cancelRequested bool
	cancelAccepted  bool

	completedProcess map[job.Process]bool

	countdown *Countdown

	// Download state, printer only.
	downloadID      string
	downloadURL     string
	downloadOptions map[string]any
	filePath        string

	uploadOptions *UploadOptions

	postOnCompleted    func()
	postOnStatusChange func()
}

func newJob(d *Device, options map[string]any, userInfo any) *Job {
	return &Job{
		device:           d,
		UID:              uuid.New().String(),
		options:          options,
		userInfo:         userInfo,
		Upload:           NewUpload(),
		completedProcess: make(map[job.Process]bool),
	}
}

// Obj returns the underlying low-level job.
func (j *Job) Obj() *dapi.Job { return j.obj }

// UserInfo returns the caller-supplied value bound at start.
func (j *Job) UserInfo() any { return j.userInfo }

// Status returns the application-level status.
func (j *Job) Status() appStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) setStatus(s appStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = s
}

// Process returns the current application-level process.
func (j *Job) Process() job.Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.process
}

// setProcess updates the process and applies its side effects: entering
// the cancel action revokes cancel availability and marks the cancellation
// accepted; entering any cancelable phase while a cancellation is still
// pending replays the cancel action, which is how a cancel requested
// during an uncancelable window eventually lands.
func (j *Job) setProcess(p job.Process) {
	j.mu.Lock()
	j.process = p

	if p == job.ProcessCancel {
		j.availability.Cancel = false
		j.cancelAccepted = true
	} else {
		j.availability.Cancel = true
	}
	j.availability.Stop = p == job.ProcessScanning

	replay := false
	switch p {
	case job.ProcessScanning, job.ProcessPrinting, job.ProcessPreview,
		job.ProcessFiling, job.ProcessSending,
		job.ProcessDownloading, job.ProcessUploading:
		replay = j.cancelRequested && !j.cancelAccepted
	}
	cancel := j.controls.Cancel
	j.mu.Unlock()

	if replay && cancel != nil {
		cancel()
	}
}

// IsCancelRequested reports whether the user asked to cancel the job.
func (j *Job) IsCancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested
}

func (j *Job) setCancelRequested(v bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancelRequested = v
}

// IsCancelAccepted reports whether the device accepted a cancellation.
// Once true, no further lifecycle callback fires for the job except the
// terminal one.
func (j *Job) IsCancelAccepted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelAccepted
}

// Availability returns the current action availability flags.
func (j *Job) AvailabilityFlags() Availability {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.availability
}

func (j *Job) setAvailability(mutate func(*Availability)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	mutate(&j.availability)
}

// HasFinishedStatus reports whether the application-level status reached
// completed or aborted.
func (j *Job) HasFinishedStatus() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status == appStatusCompleted || j.status == appStatusAborted
}

// IsFinished reports whether the job is fully settled: the device reported
// a terminal status and, for scanner jobs with uploads, every file reached
// a terminal upload status. Job completion and upload completion are
// independent machines that must both settle before the device unlocks.
func (j *Job) IsFinished() bool {
	if j.obj == nil {
		return false
	}
	doc := j.obj.Status()
	if doc == nil || !doc.JobStatus.IsTerminal() {
		return false
	}

	if j.device.service != job.ServiceScanner {
		return true
	}

	count, ok := doc.ScannedCount()
	if !ok {
		return true
	}
	if doc.JobStatus == job.StatusCompleted {
		if j.IsMultiPageFormat() {
			if j.Upload.Len() != 1 {
				return false
			}
		} else if count != j.Upload.Len() {
			return false
		}
	}
	return j.Upload.IsAllFinished()
}

// IsMultiPageFormat reports whether the job produces one multi-page file
// rather than one file per page. Unset defaults to true.
func (j *Job) IsMultiPageFormat() bool {
	setting, ok := j.options["jobSetting"].(map[string]any)
	if !ok {
		return true
	}
	fileSetting, ok := setting["fileSetting"].(map[string]any)
	if !ok {
		return true
	}
	v, ok := fileSetting["multiPageFormat"].(bool)
	if !ok {
		return true
	}
	return v
}

// startCountdown installs and returns a fresh countdown, stopping any
// previous one first.
func (j *Job) startCountdown(c *Countdown) {
	j.mu.Lock()
	prev := j.countdown
	j.countdown = c
	j.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
}

// stopCountdown halts the running countdown, if any. Every new processing
// event does this so stale countdowns never re-emit stop events.
func (j *Job) stopCountdown() {
	j.mu.Lock()
	c := j.countdown
	j.countdown = nil
	j.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// resolveProcess resolves the current sub-process from a status document
// while recording sub-process completions in the job's tracking map.
func (j *Job) resolveProcess(doc *job.StatusDocument, processes []job.Process) job.Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	return job.ResolveProcess(doc, j.completedProcess, processes)
}

// swapLastProcess stores the resolved process and returns the previous
// one.
func (j *Job) swapLastProcess(p job.Process) job.Process {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.lastProcess
	j.lastProcess = p
	return prev
}

func (j *Job) isProcessCompleted(p job.Process) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.completedProcess[p]
}

func (j *Job) setDownload(requestID, url string, options map[string]any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.downloadID = requestID
	j.downloadURL = url
	j.downloadOptions = options
}

func (j *Job) downloadRequestID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.downloadID
}

func (j *Job) downloadSource() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.downloadURL
}

// setOption injects a value into the job options before submission.
func (j *Job) setOption(key string, value any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.options == nil {
		j.options = make(map[string]any)
	}
	j.options[key] = value
}

func (j *Job) setFilePath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.filePath = path
}

// FilePath returns the local path of the downloaded print file, if any.
func (j *Job) FilePath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filePath
}

func (j *Job) setUploadOptions(o *UploadOptions) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.uploadOptions = o
}

func (j *Job) getUploadOptions() *UploadOptions {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uploadOptions
}

func (j *Job) setPostOnCompleted(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.postOnCompleted = fn
}

func (j *Job) getPostOnCompleted() func() {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.postOnCompleted
}

func (j *Job) setPostOnStatusChange(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.postOnStatusChange = fn
}

func (j *Job) getPostOnStatusChange() func() {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.postOnStatusChange
}
