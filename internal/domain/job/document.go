package job

import "slices"

// StatusDocument is the nested status snapshot the device pushes for a job.
// Counters use pointers so that an absent field can be told apart from a
// reported zero; several policies below depend on that distinction.
type StatusDocument struct {
	JobStatus        Status   `json:"jobStatus,omitempty"`
	JobStatusReasons []string `json:"jobStatusReasons,omitempty"`

	ScanningInfo *ScanningInfo `json:"scanningInfo,omitempty"`
	FilingInfo   *FilingInfo   `json:"filingInfo,omitempty"`
	OcringInfo   *ProcessInfo  `json:"ocringInfo,omitempty"`
	SendingInfo  *SendingInfo  `json:"sendingInfo,omitempty"`
	PrintingInfo *PrintingInfo `json:"printingInfo,omitempty"`
}

// ProcessInfo carries the status fields common to every sub-process block.
type ProcessInfo struct {
	JobStatus        Status   `json:"jobStatus,omitempty"`
	JobStatusReasons []string `json:"jobStatusReasons,omitempty"`
}

// ScanningInfo is the scanning sub-process block.
type ScanningInfo struct {
	ProcessInfo
	ScannedCount                       *int `json:"scannedCount,omitempty"`
	RemainingTimeOfWaitingNextOriginal int  `json:"remainingTimeOfWaitingNextOriginal,omitempty"`
}

// FilingInfo is the filing sub-process block.
type FilingInfo struct {
	ProcessInfo
	FiledPageCount int `json:"filedPageCount,omitempty"`
}

// SendingInfo is the sending sub-process block.
type SendingInfo struct {
	ProcessInfo
	SentDestinationCount *int `json:"sentDestinationCount,omitempty"`
}

// PrintingInfo is the printing sub-process block.
type PrintingInfo struct {
	ProcessInfo
	PrintedCount      *int  `json:"printedCount,omitempty"`
	PrintedCopies     *int  `json:"printedCopies,omitempty"`
	FileReadCompleted *bool `json:"fileReadCompleted,omitempty"`
}

// Info returns the common status fields of the named sub-process block, or
// false when the block is absent from the document.
func (d *StatusDocument) Info(p Process) (*ProcessInfo, bool) {
	if d == nil {
		return nil, false
	}
	switch p {
	case ProcessScanning:
		if d.ScanningInfo != nil {
			return &d.ScanningInfo.ProcessInfo, true
		}
	case ProcessFiling:
		if d.FilingInfo != nil {
			return &d.FilingInfo.ProcessInfo, true
		}
	case ProcessOcring:
		if d.OcringInfo != nil {
			return d.OcringInfo, true
		}
	case ProcessSending:
		if d.SendingInfo != nil {
			return &d.SendingInfo.ProcessInfo, true
		}
	case ProcessPrinting:
		if d.PrintingInfo != nil {
			return &d.PrintingInfo.ProcessInfo, true
		}
	}
	return nil, false
}

// ScannedCount returns the reported scanned page count and whether the
// device reported one at all.
func (d *StatusDocument) ScannedCount() (int, bool) {
	if d == nil || d.ScanningInfo == nil || d.ScanningInfo.ScannedCount == nil {
		return 0, false
	}
	return *d.ScanningInfo.ScannedCount, true
}

// FiledPageCount returns the number of pages filed so far.
func (d *StatusDocument) FiledPageCount() int {
	if d == nil || d.FilingInfo == nil {
		return 0
	}
	return d.FilingInfo.FiledPageCount
}

// RemainingTime returns the seconds the device will keep waiting for the
// next original, or 0 when it is not waiting.
func (d *StatusDocument) RemainingTime() int {
	if d == nil || d.ScanningInfo == nil {
		return 0
	}
	return d.ScanningInfo.RemainingTimeOfWaitingNextOriginal
}

// FirstReason returns the first job status reason, or "".
func (d *StatusDocument) FirstReason() string {
	if d == nil || len(d.JobStatusReasons) == 0 {
		return ""
	}
	return d.JobStatusReasons[0]
}

// Lookup resolves a dotted path such as "scanningInfo.scannedCount" against
// the document. The supported paths are exactly the ones the status diff
// tracks. Absent fields return ok == false.
func (d *StatusDocument) Lookup(path string) (any, bool) {
	if d == nil {
		return nil, false
	}
	switch path {
	case "jobStatus":
		if d.JobStatus == "" {
			return nil, false
		}
		return d.JobStatus, true
	case "jobStatusReasons":
		if d.JobStatusReasons == nil {
			return nil, false
		}
		return d.JobStatusReasons, true
	case "scanningInfo.scannedCount":
		if d.ScanningInfo == nil || d.ScanningInfo.ScannedCount == nil {
			return nil, false
		}
		return *d.ScanningInfo.ScannedCount, true
	case "sendingInfo.sentDestinationCount":
		if d.SendingInfo == nil || d.SendingInfo.SentDestinationCount == nil {
			return nil, false
		}
		return *d.SendingInfo.SentDestinationCount, true
	case "printingInfo.printedCount":
		if d.PrintingInfo == nil || d.PrintingInfo.PrintedCount == nil {
			return nil, false
		}
		return *d.PrintingInfo.PrintedCount, true
	case "printingInfo.printedCopies":
		if d.PrintingInfo == nil || d.PrintingInfo.PrintedCopies == nil {
			return nil, false
		}
		return *d.PrintingInfo.PrintedCopies, true
	case "printingInfo.fileReadCompleted":
		if d.PrintingInfo == nil || d.PrintingInfo.FileReadCompleted == nil {
			return nil, false
		}
		return *d.PrintingInfo.FileReadCompleted, true
	}
	return nil, false
}

// Changed reports whether the value at path differs between the previous
// document and this one. A numeric value of exactly 0 is never treated as
// a change: the device resets counters between sub-processes and those
// resets must not fire progress callbacks.
func (d *StatusDocument) Changed(prev *StatusDocument, path string) bool {
	cur, curOK := d.Lookup(path)
	if v, ok := cur.(int); ok && v == 0 {
		return false
	}

	old, oldOK := prev.Lookup(path)
	if curOK != oldOK {
		return true
	}
	if !curOK {
		return false
	}

	if a, ok := cur.([]string); ok {
		b, ok := old.([]string)
		return !ok || !slices.Equal(a, b)
	}
	return cur != old
}
