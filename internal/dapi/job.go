package dapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ricoh-sdca/dapi/internal/dapi/rest"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Listener receives the typed lifecycle callbacks of one job. Nil fields
// are skipped. A single status event can fire several callbacks.
type Listener struct {
	OnStatusChange func(cur, prev *job.StatusDocument)

	OnPending    func(*job.StatusDocument)
	OnProcessing func(*job.StatusDocument)

	OnPageScanned       func(doc *job.StatusDocument, count int)
	OnSent              func(doc *job.StatusDocument, count int)
	OnPagePrinted       func(doc *job.StatusDocument, count int)
	OnCopyPrinted       func(doc *job.StatusDocument, count int)
	OnFileReadCompleted func(*job.StatusDocument)

	OnProcessingStopped func(doc *job.StatusDocument, autoStart bool)

	OnCompleted func(*job.StatusDocument)
	OnAborted   func(*job.StatusDocument)
	OnCanceled  func(*job.StatusDocument)
}

// Job is one unit of device work. It is created unstarted via
// Device.NewJob and becomes live once Start succeeds.
type Job struct {
	device   *Device
	listener Listener

	mu         sync.Mutex
	id         string
	started    bool
	status     *job.StatusDocument
	lastStatus *job.StatusDocument
}

// NewJob creates an unstarted job whose events will be delivered to the
// given listener once started.
func (d *Device) NewJob(listener Listener) *Job {
	return &Job{device: d, listener: listener}
}

// ID returns the server-assigned job id, or "" before Start succeeds.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// Status returns the most recent status document pushed for this job.
func (j *Job) Status() *job.StatusDocument {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// LastStatus returns the status document preceding the current one.
func (j *Job) LastStatus() *job.StatusDocument {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastStatus
}

// startResponse is the payload of a successful job-creation call.
type startResponse struct {
	JobID string `json:"jobId"`
}

// Start submits the job to the device. It fails fast, without touching the
// network, when the job already ran or no event subscription is available.
// On success the job is registered with its device and buffered events for
// its id are replayed before live dispatch resumes.
func (j *Job) Start(ctx context.Context, setting any) error {
	d := j.device
	ctx, span := d.tracer.Start(ctx, "dapi_job.start",
		trace.WithAttributes(attribute.String("service", d.service.String())))
	defer span.End()

	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return rest.ClientError("job_has_already_run")
	}
	j.started = true
	j.mu.Unlock()

	d.mu.Lock()
	subscription := d.subscriptionID
	d.mu.Unlock()
	if subscription == "" {
		return rest.BrowserError("undefined_subscriptionid")
	}

	raw, err := d.transport.Do(ctx, rest.Request{
		Method:  http.MethodPost,
		Path:    d.service.Path() + "/jobs",
		Headers: map[string]string{"X-Subscription-Id": subscription},
		Body:    setting,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job creation failed")
		return err
	}

	var resp startResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job creation response decode failed")
		return fmt.Errorf("failed to decode job creation response: %w", err)
	}

	j.mu.Lock()
	j.id = resp.JobID
	j.mu.Unlock()

	span.SetAttributes(attribute.String("job_id", resp.JobID))
	d.logger.Info(ctx, "job started", "job_id", resp.JobID)
	d.register(j)
	return nil
}

// put issues a state-transition request against the job resource.
func (j *Job) put(ctx context.Context, body map[string]any) error {
	_, err := j.device.transport.Do(ctx, rest.Request{
		Method: http.MethodPut,
		Path:   j.device.service.Path() + "/jobs/" + j.ID(),
		Body:   body,
	})
	return err
}

// Proceed resumes a stopped job. Extra option fields ride along with the
// transition; any jobStatus the caller supplied is discarded. The scanner
// and copy services carry the transition inside scanningInfo, the others
// at the top level.
func (j *Job) Proceed(ctx context.Context, options map[string]any) error {
	body := make(map[string]any, len(options)+1)
	for k, v := range options {
		if k == "jobStatus" {
			continue
		}
		body[k] = v
	}

	switch j.device.service {
	case job.ServiceScanner, job.ServiceCopy:
		body["scanningInfo"] = map[string]any{"jobStatus": job.StatusProcessing}
	default:
		body["jobStatus"] = job.StatusProcessing
	}
	return j.put(ctx, body)
}

// Cancel requests cancellation of the job.
func (j *Job) Cancel(ctx context.Context) error {
	return j.put(ctx, map[string]any{"jobStatus": job.StatusCanceled})
}

// FinishScanning ends a stopped scan without waiting for further
// originals. The fax service takes the transition at the top level.
func (j *Job) FinishScanning(ctx context.Context) error {
	switch j.device.service {
	case job.ServiceFax:
		return j.put(ctx, map[string]any{"jobStatus": job.StatusCompleted})
	default:
		return j.put(ctx, map[string]any{
			"scanningInfo": map[string]any{"jobStatus": job.StatusCompleted},
		})
	}
}

// StopScanning pauses a running scan.
func (j *Job) StopScanning(ctx context.Context) error {
	return j.put(ctx, map[string]any{
		"scanningInfo": map[string]any{"jobStatus": job.StatusProcessingStopped},
	})
}

// GetStatus fetches a fresh status snapshot for the job. The result is not
// fed into event dispatch; pushed events stay the only driver of lifecycle
// callbacks.
func (j *Job) GetStatus(ctx context.Context) (*job.StatusDocument, error) {
	raw, err := j.device.transport.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   j.device.service.Path() + "/jobs/" + j.ID(),
	})
	if err != nil {
		return nil, err
	}

	var doc job.StatusDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode job status: %w", err)
	}
	return &doc, nil
}

// fileResponse is the payload of a scanned-file fetch.
type fileResponse struct {
	FilePath string `json:"filePath"`
}

// File resolves the local path of one scanned page's file.
func (j *Job) File(ctx context.Context, page int) (string, error) {
	raw, err := j.device.transport.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   j.device.service.Path() + "/jobs/" + j.ID() + "/file",
		Query:  url.Values{"pageNumber": []string{strconv.Itoa(page)}},
	})
	if err != nil {
		return "", err
	}

	var resp fileResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("failed to decode file response: %w", err)
	}
	return resp.FilePath, nil
}

// FileURI returns the endpoint-relative URI of one scanned page's file.
func (j *Job) FileURI(page int) string {
	return fmt.Sprintf("%s/jobs/%s/file?pageNumber=%d", j.device.service.Path(), j.ID(), page)
}

// Thumbnail fetches the thumbnail document of one scanned page.
func (j *Job) Thumbnail(ctx context.Context, page int) (json.RawMessage, error) {
	return j.device.transport.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   j.device.service.Path() + "/jobs/" + j.ID() + "/thumbnail",
		Query:  url.Values{"pageNumber": []string{strconv.Itoa(page)}},
	})
}

// ThumbnailURI returns the endpoint-relative URI of one scanned page's
// thumbnail.
func (j *Job) ThumbnailURI(page int) string {
	return fmt.Sprintf("%s/jobs/%s/thumbnail?pageNumber=%d", j.device.service.Path(), j.ID(), page)
}

// OCRData fetches the job's OCR result document.
func (j *Job) OCRData(ctx context.Context) (json.RawMessage, error) {
	return j.device.transport.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   j.device.service.Path() + "/jobs/" + j.ID() + "/ocrdata",
	})
}

// FileDelete removes the job's stored files from the device.
func (j *Job) FileDelete(ctx context.Context) error {
	_, err := j.device.transport.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   j.device.service.Path() + "/jobs/" + j.ID() + "/file",
	})
	return err
}

// onStatusChange interprets one pushed status document against the
// previous one and fires the matching callbacks. Dispatch order is fixed:
// the raw change notification first, then pending/processing transitions,
// then sub-counter callbacks, then stop or terminal handling. Terminal
// statuses unregister the job before its terminal callback runs, so a
// callback that starts a new job observes a consistent job map.
func (j *Job) onStatusChange(doc *job.StatusDocument) {
	j.mu.Lock()
	prev := j.status
	j.lastStatus = prev
	j.status = doc
	id := j.id
	j.mu.Unlock()

	if j.listener.OnStatusChange != nil {
		j.listener.OnStatusChange(doc, prev)
	}

	statusChanged := doc.Changed(prev, "jobStatus")
	if statusChanged {
		switch doc.JobStatus {
		case job.StatusPending:
			if j.listener.OnPending != nil {
				j.listener.OnPending(doc)
			}
		case job.StatusProcessing:
			if j.listener.OnProcessing != nil {
				j.listener.OnProcessing(doc)
			}
		}
	}

	if doc.Changed(prev, "scanningInfo.scannedCount") && j.listener.OnPageScanned != nil {
		if count, ok := doc.ScannedCount(); ok {
			j.listener.OnPageScanned(doc, count)
		}
	}
	if doc.Changed(prev, "sendingInfo.sentDestinationCount") && j.listener.OnSent != nil {
		if v, ok := doc.Lookup("sendingInfo.sentDestinationCount"); ok {
			j.listener.OnSent(doc, v.(int))
		}
	}
	if doc.Changed(prev, "printingInfo.printedCount") && j.listener.OnPagePrinted != nil {
		if v, ok := doc.Lookup("printingInfo.printedCount"); ok {
			j.listener.OnPagePrinted(doc, v.(int))
		}
	}
	if doc.Changed(prev, "printingInfo.printedCopies") && j.listener.OnCopyPrinted != nil {
		if v, ok := doc.Lookup("printingInfo.printedCopies"); ok {
			j.listener.OnCopyPrinted(doc, v.(int))
		}
	}
	if doc.Changed(prev, "printingInfo.fileReadCompleted") && j.listener.OnFileReadCompleted != nil {
		if v, ok := doc.Lookup("printingInfo.fileReadCompleted"); ok && v.(bool) {
			j.listener.OnFileReadCompleted(doc)
		}
	}

	if statusChanged {
		switch doc.JobStatus {
		case job.StatusProcessingStopped:
			if j.listener.OnProcessingStopped != nil {
				j.listener.OnProcessingStopped(doc, job.AutoStart(doc))
			}
		case job.StatusCompleted:
			j.device.unregister(id)
			if j.listener.OnCompleted != nil {
				j.listener.OnCompleted(doc)
			}
		case job.StatusAborted:
			j.device.unregister(id)
			if j.listener.OnAborted != nil {
				j.listener.OnAborted(doc)
			}
		case job.StatusCanceled:
			j.device.unregister(id)
			if j.listener.OnCanceled != nil {
				j.listener.OnCanceled(doc)
			}
		}
		return
	}

	// The status can stay processing_stopped while the stop reasons change,
	// e.g. when the remaining-wait window is extended. Report that as a new
	// stop event.
	if doc.JobStatus == job.StatusProcessingStopped && doc.Changed(prev, "jobStatusReasons") {
		if j.listener.OnProcessingStopped != nil {
			j.listener.OnProcessingStopped(doc, job.AutoStart(doc))
		}
	}
}
