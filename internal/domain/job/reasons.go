package job

// The reason-code tables below are the primary source of per-service
// behavioral difference. They must match the device firmware exactly; do
// not extend them without a firmware reference.

// autoStartBlockingReasons lists the stop reasons that require an explicit
// proceed from the user before the device resumes.
var autoStartBlockingReasons = map[string]struct{}{
	"wait_for_next_original_and_continue": {},
	"exceeded_max_email_size":             {},
	"exceeded_max_page_count":             {},
	"cannot_detect_original_size":         {},
	"exceeded_max_data_capacity":          {},
	"not_suitable_original_orientation":   {},
	"too_small_scan_size":                 {},
	"too_large_scan_size":                 {},
}

// AutoStart reports whether a stopped job will resume on its own. A job
// with no reported reasons is not treated as auto-starting.
func AutoStart(doc *StatusDocument) bool {
	if doc == nil || doc.JobStatusReasons == nil {
		return false
	}
	for _, r := range doc.JobStatusReasons {
		if _, blocked := autoStartBlockingReasons[r]; blocked {
			return false
		}
	}
	return true
}

var scannerProceedableReasons = map[string]struct{}{
	"scanner_jam":                         {},
	"wait_for_next_original_and_continue": {},
	"cannot_detect_original_size":         {},
	"exceeded_max_data_capacity":          {},
	"not_suitable_original_orientation":   {},
	"too_small_scan_size":                 {},
	"too_large_scan_size":                 {},
	"user_request":                        {},
}

var copyBlockingProceedReasons = map[string]struct{}{
	"wait_for_next_original":   {},
	"memory_over":              {},
	"plotter_jam":              {},
	"no_paper":                 {},
	"original_set_error":       {},
	"no_toner":                 {},
	"other_unit_error":         {},
	"plotter_cover_open":       {},
	"marker_waste_full":        {},
	"memory_over_auto_restart": {},
	"charge_unit_limit":        {},
}

var copyFinishableReasons = map[string]struct{}{
	"wait_for_next_original":              {},
	"wait_for_next_original_and_continue": {},
	"cannot_detect_original_size":         {},
}

// Proceedable reports whether a stopped job of the given service may be
// resumed by the user.
func Proceedable(svc Service, doc *StatusDocument) bool {
	if doc == nil || len(doc.JobStatusReasons) == 0 {
		return false
	}
	switch svc {
	case ServiceScanner:
		// Every reason must be in the allow list.
		for _, r := range doc.JobStatusReasons {
			if _, ok := scannerProceedableReasons[r]; !ok {
				return false
			}
		}
		return true

	case ServiceCopy:
		for _, r := range doc.JobStatusReasons {
			if _, blocked := copyBlockingProceedReasons[r]; blocked {
				return false
			}
		}
		return true

	case ServiceFax:
		for _, r := range doc.JobStatusReasons {
			if r == "wait_for_original_preview_operation" {
				return false
			}
		}
		return true

	default:
		// Printer jobs are never proceedable.
		return false
	}
}

// Finishable reports whether a stopped job of the given service may have
// its scanning phase finished early. Finishing with zero pages scanned
// would halt the job, so a zero or absent scanned count always blocks.
func Finishable(svc Service, doc *StatusDocument) bool {
	if doc == nil || len(doc.JobStatusReasons) == 0 {
		return false
	}
	switch svc {
	case ServiceScanner:
		if count, ok := doc.ScannedCount(); ok && count == 0 {
			return false
		}
		for _, r := range doc.JobStatusReasons {
			if r == "user_request" {
				return false
			}
		}
		return true

	case ServiceCopy:
		if doc.ScanningInfo != nil {
			if count, ok := doc.ScannedCount(); !ok || count == 0 {
				return false
			}
		}
		for _, r := range doc.JobStatusReasons {
			if _, ok := copyFinishableReasons[r]; !ok {
				return false
			}
		}
		return true

	case ServiceFax:
		if doc.ScanningInfo != nil {
			if count, ok := doc.ScannedCount(); !ok || count == 0 {
				return false
			}
		}
		for _, r := range doc.JobStatusReasons {
			if r == "sub_machine_error" || r == "scanner_jam" {
				return false
			}
		}
		return true

	default:
		return false
	}
}

// Canceled reports whether the document shows the job canceled, either at
// the top level or inside any of the service's sub-process blocks.
func Canceled(svc Service, doc *StatusDocument) bool {
	return hasTerminal(svc, doc, StatusCanceled)
}

// Aborted reports whether the document shows the job aborted, either at
// the top level or inside any of the service's sub-process blocks.
func Aborted(svc Service, doc *StatusDocument) bool {
	return hasTerminal(svc, doc, StatusAborted)
}

func hasTerminal(svc Service, doc *StatusDocument, target Status) bool {
	if doc == nil {
		return false
	}
	if doc.JobStatus == target {
		return true
	}
	for _, p := range svc.Processes() {
		if info, ok := doc.Info(p); ok && info.JobStatus == target {
			return true
		}
	}
	return false
}
