package jobflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ricoh-sdca/dapi/internal/bridge"
	"github.com/ricoh-sdca/dapi/internal/domain/job"
)

// Scanner is the high-level scan service. A scan job that stores its
// files temporarily on the device can be chained with an upload pipeline
// that forwards every scanned file to a caller-supplied URL.
type Scanner struct {
	*Device
}

// NewScanner builds the scanner device around the given dependencies.
func NewScanner(deps Deps) *Scanner {
	return &Scanner{Device: newDevice(job.ServiceScanner, scannerProfile(), deps)}
}

// UploadOptions configures the post-scan upload pipeline.
type UploadOptions struct {
	// URL is the upload destination.
	URL string

	// FileName names the uploaded files. "%p" expands to the page number
	// and "%Np" (N a digit) to the zero-padded page number; empty falls
	// back to "<jobID>[-<page>].<ext>".
	FileName string

	// FileNameFunc, when set, wins over FileName.
	FileNameFunc func(f *File) string

	// Concurrent uploads each page as soon as it is scanned instead of
	// waiting for the job to complete. Only effective for single-page
	// file formats.
	Concurrent bool

	// Options is passed through to the shell's upload call (headers,
	// form fields and the like).
	Options map[string]any
}

// Scan starts a scan job. upload may be nil; it only takes effect when
// the job stores its files temporarily on the device
// (jobSetting.jobMode "scan_and_store_temporary").
func (s *Scanner) Scan(ctx context.Context, options map[string]any, upload *UploadOptions, cb Callbacks, userInfo any) error {
	if !s.checkStartAllowed() {
		return ErrNotStartable
	}
	s.setCallbacks(cb)

	jb := s.createJob(options, userInfo)

	if upload != nil && jobMode(options) == "scan_and_store_temporary" {
		jb.setUploadOptions(upload)
		jb.setPostOnCompleted(func() { s.sendScannedFiles(jb) })
		if upload.Concurrent && !jb.IsMultiPageFormat() {
			jb.setPostOnStatusChange(func() { s.sendScannedFilesConcurrent(jb) })
		}
	}

	return s.startJob(ctx, jb)
}

func jobMode(options map[string]any) string {
	setting, ok := options["jobSetting"].(map[string]any)
	if !ok {
		return ""
	}
	mode, _ := setting["jobMode"].(string)
	return mode
}

// sendScannedFiles runs when the scan job completes: it queues an upload
// for every stored file not yet in flight. With nothing left to queue the
// pipeline may already be settled, so the aggregate is re-checked.
func (s *Scanner) sendScannedFiles(jb *Job) {
	doc := jb.obj.Status()
	if doc == nil {
		return
	}

	count := 1
	if !jb.IsMultiPageFormat() {
		count, _ = doc.ScannedCount()
	}

	queued := s.queueUploads(jb, count)
	if !queued {
		s.settleUploads(jb)
	}
}

// sendScannedFilesConcurrent runs on every status change of a concurrent
// single-page scan, uploading pages as their files become available.
func (s *Scanner) sendScannedFilesConcurrent(jb *Job) {
	if jb.HasFinishedStatus() || jb.IsCancelRequested() {
		return
	}
	doc := jb.obj.Status()
	if doc == nil {
		return
	}
	count, ok := doc.ScannedCount()
	if !ok {
		return
	}
	s.queueUploads(jb, count)
}

// queueUploads brings the upload tracker up to count files and launches
// the transfers. It reports whether any new transfer was started.
func (s *Scanner) queueUploads(jb *Job, count int) bool {
	var files []*File
	for jb.Upload.Len() < count {
		page := 0
		if !jb.IsMultiPageFormat() {
			page = jb.Upload.Len() + 1
		}
		files = append(files, jb.Upload.AddFile(page))
	}
	if len(files) == 0 {
		return false
	}

	g, ctx := errgroup.WithContext(s.lifetimeCtx)
	for _, f := range files {
		f := f
		g.Go(func() error {
			s.sendFile(ctx, jb, f)
			return nil
		})
	}
	go func() { _ = g.Wait() }()
	return true
}

// sendFile retrieves one stored file from the device and hands it to the
// shell for upload.
func (s *Scanner) sendFile(ctx context.Context, jb *Job, f *File) {
	opts := jb.getUploadOptions()
	if opts == nil {
		return
	}

	jb.Upload.SetStatus(f.ID, FileGetting)

	path, err := jb.obj.File(ctx, f.Page)
	if err != nil {
		s.logger.Warn(ctx, "failed to retrieve scanned file", "uid", jb.UID, "page", f.Page, "error", err)
		jb.Upload.SetStatus(f.ID, FileError)
		if jb.IsFinished() {
			s.settleUploads(jb)
			return
		}
		// One broken file cancels the rest of the set.
		jb.controls.Cancel()
		return
	}

	// A cancel that arrived while the file was being fetched wins: the
	// file never reaches the shell.
	if jb.IsCancelRequested() {
		jb.Upload.SetStatus(f.ID, FileCanceled)
		s.settleUploads(jb)
		return
	}

	name := s.uploadFileName(jb, f, opts)
	options := cloneOptions(opts.Options)
	options["fileName"] = name

	if err := s.bridge.Upload(f.ID, opts.URL, path, options, s.uploadStateFunc(jb, f, name)); err != nil {
		s.logger.Warn(ctx, "failed to start upload", "uid", jb.UID, "page", f.Page, "error", err)
		jb.Upload.SetStatus(f.ID, FileError)
		if jb.IsFinished() {
			s.settleUploads(jb)
			return
		}
		jb.controls.Cancel()
	}
}

func (s *Scanner) uploadStateFunc(jb *Job, f *File, name string) bridge.TransferFunc {
	return func(ev bridge.TransferEvent) {
		switch ev.State {
		case bridge.TransferActive:
			if cur, ok := jb.Upload.ByRequestID(f.ID); ok && cur.Status == FileCanceling {
				if err := s.bridge.Abort(f.ID); err != nil {
					s.logger.Warn(s.lifetimeCtx, "failed to abort upload", "request_id", f.ID, "error", err)
				}
				return
			}
			jb.Upload.SetStatus(f.ID, FileUploading)
			det := &Details{FileName: name, Progress: ev.Progress, Number: f.Page}
			s.callOnProcessing(jb, s.eventID("processing", "uploading"), job.ProcessUploading, det)

		case bridge.TransferSuccess:
			jb.Upload.SetStatus(f.ID, FileSuccess)
			det := &Details{Process: job.ProcessUploading, FileName: name, Number: f.Page, ResponseBody: ev.ResponseBody}
			s.notify(s.eventID("completed", "uploading"), det, jb)
			s.settleUploads(jb)

		case bridge.TransferFailure:
			if ev.Error == bridge.ErrorUserAborted {
				jb.Upload.SetStatus(f.ID, FileCanceled)
			} else {
				jb.Upload.SetStatus(f.ID, FileError)
			}
			if jb.IsFinished() {
				s.settleUploads(jb)
				return
			}
			// Cancel the files still queued or being fetched.
			jb.controls.Cancel()
		}
	}
}

// settleUploads reports the job's final outcome once both the device-side
// job and every upload reached a terminal state. Errors win over cancels;
// a clean set completes the job.
func (s *Scanner) settleUploads(jb *Job) {
	if !jb.IsFinished() || jb.HasFinishedStatus() {
		return
	}

	opts := jb.getUploadOptions()
	names := make([]string, 0, jb.Upload.Len())
	for _, f := range jb.Upload.Files() {
		f := f
		names = append(names, s.uploadFileName(jb, &f, opts))
	}
	det := &Details{Process: job.ProcessUploading, FileNames: names}

	switch {
	case jb.Upload.HasErrorFile():
		s.callOnAborted(jb, s.eventID("aborted", "uploading"), det)
	case jb.Upload.HasCanceledFile():
		s.callOnAborted(jb, s.eventID("canceled", "uploading"), det)
	default:
		s.callOnCompleted(jb, s.eventID("completed"), job.Process(s.service.String()), det)
	}
	s.finish(jb)
}

var fileNamePagePattern = regexp.MustCompile(`%(\d?)p`)

// uploadFileName resolves the name of one uploaded file.
func (s *Scanner) uploadFileName(jb *Job, f *File, opts *UploadOptions) string {
	if opts == nil {
		return defaultFileName(jb, f)
	}
	if opts.FileNameFunc != nil {
		return opts.FileNameFunc(f)
	}
	if opts.FileName == "" {
		return defaultFileName(jb, f)
	}
	return fileNamePagePattern.ReplaceAllStringFunc(opts.FileName, func(m string) string {
		sub := fileNamePagePattern.FindStringSubmatch(m)
		if sub[1] == "" {
			return fmt.Sprintf("%d", f.Page)
		}
		return fmt.Sprintf("%0"+sub[1]+"d", f.Page)
	})
}

func defaultFileName(jb *Job, f *File) string {
	name := jb.obj.ID()
	if f.Page > 0 {
		name = fmt.Sprintf("%s-%d", name, f.Page)
	}
	if ext := fileExtension(jb.options); ext != "" {
		name += "." + ext
	}
	return name
}

// fileExtension maps the configured file format to a file extension.
func fileExtension(options map[string]any) string {
	setting, ok := options["jobSetting"].(map[string]any)
	if !ok {
		return ""
	}
	fileSetting, ok := setting["fileSetting"].(map[string]any)
	if !ok {
		return ""
	}
	format, _ := fileSetting["fileFormat"].(string)
	switch {
	case strings.Contains(format, "pdf"):
		return "pdf"
	case strings.Contains(format, "jpeg"), strings.Contains(format, "jpg"):
		return "jpg"
	case strings.Contains(format, "tiff"), strings.Contains(format, "tif"):
		return "tif"
	}
	return ""
}
