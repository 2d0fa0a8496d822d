package jobflow

import (
	"sync"

	"github.com/google/uuid"
)

// FileStatus is the per-file upload state.
type FileStatus string

const (
	FileGetting   FileStatus = "file_getting"
	FileUploading FileStatus = "uploading"
	FileCanceling FileStatus = "canceling"
	FileSuccess   FileStatus = "success"
	FileError     FileStatus = "error"
	FileCanceled  FileStatus = "canceled"
)

// terminal reports whether the status ends a file's life.
func (s FileStatus) terminal() bool {
	return s == FileSuccess || s == FileError || s == FileCanceled
}

// File is one scanned page's upload record.
type File struct {
	ID       string
	Page     int
	Status   FileStatus
	Finished bool
}

// Upload tracks the files of one scan-and-upload job. Files are appended
// as pages are filed and never removed; a finished file's status is sticky
// and never overwritten.
type Upload struct {
	mu sync.Mutex

	files       []*File
	finished    int
	hasError    bool
	hasCanceled bool
}

// NewUpload creates an empty upload tracker.
func NewUpload() *Upload { return &Upload{} }

// AddFile appends a record for the given page, starting in FileGetting.
func (u *Upload) AddFile(page int) *File {
	u.mu.Lock()
	defer u.mu.Unlock()
	f := &File{ID: uuid.New().String(), Page: page, Status: FileGetting}
	u.files = append(u.files, f)
	return f
}

// SetStatus moves a file to a new status. Terminal statuses update the
// aggregate counters; a file that already finished is left untouched.
func (u *Upload) SetStatus(id string, status FileStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range u.files {
		if f.ID != id {
			continue
		}
		if f.Finished {
			return
		}
		f.Status = status
		if status.terminal() {
			f.Finished = true
			u.finished++
			switch status {
			case FileError:
				u.hasError = true
			case FileCanceled:
				u.hasCanceled = true
			}
		}
		return
	}
}

// ByRequestID returns the file with the given id.
func (u *Upload) ByRequestID(id string) (*File, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, f := range u.files {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Files returns a snapshot of the file records.
func (u *Upload) Files() []File {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]File, len(u.files))
	for i, f := range u.files {
		out[i] = *f
	}
	return out
}

// Len returns the number of tracked files.
func (u *Upload) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.files)
}

// FinishedCount returns how many files reached a terminal status.
func (u *Upload) FinishedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished
}

// HasErrorFile reports whether any file failed.
func (u *Upload) HasErrorFile() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hasError
}

// HasCanceledFile reports whether any file was canceled.
func (u *Upload) HasCanceledFile() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hasCanceled
}

// IsAllFinished reports whether every tracked file reached a terminal
// status. An upload with no files counts as finished.
func (u *Upload) IsAllFinished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finished == len(u.files)
}
