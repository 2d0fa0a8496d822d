package job

// ResolveProcess walks the ordered sub-process list and returns the one the
// job is currently in. A block whose jobStatus is completed advances the
// walk; the first block that is present and not completed is the current
// process. When no candidate remains the last completed process is returned.
//
// When completed is non-nil it records completion: a newly completed block
// is marked exactly once and returned immediately, so the caller can report
// each sub-process completion a single time. Passing nil resolves the
// process without mutating any tracking state.
func ResolveProcess(doc *StatusDocument, completed map[Process]bool, processes []Process) Process {
	if doc == nil {
		return ProcessNone
	}

	last := ProcessNone
	for _, p := range processes {
		if completed != nil && completed[p] {
			last = p
			continue
		}

		info, ok := doc.Info(p)
		if !ok {
			continue
		}

		if info.JobStatus == StatusCompleted {
			if completed != nil {
				completed[p] = true
				return p
			}
			last = p
			continue
		}

		return p
	}
	return last
}
