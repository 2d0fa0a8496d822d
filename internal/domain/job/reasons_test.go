package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func stoppedDoc(reasons []string, scanned *int) *StatusDocument {
	doc := &StatusDocument{
		JobStatus:        StatusProcessingStopped,
		JobStatusReasons: reasons,
	}
	if scanned != nil {
		doc.ScanningInfo = &ScanningInfo{ScannedCount: scanned}
	}
	return doc
}

func TestAutoStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reasons []string
		want    bool
	}{
		{name: "no reasons reported", reasons: nil, want: false},
		{name: "benign reason", reasons: []string{"wait_for_next_original"}, want: true},
		{name: "needs explicit proceed", reasons: []string{"wait_for_next_original_and_continue"}, want: false},
		{name: "mixed reasons block", reasons: []string{"wait_for_next_original", "too_large_scan_size"}, want: false},
		{name: "email size limit blocks", reasons: []string{"exceeded_max_email_size"}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, AutoStart(stoppedDoc(tt.reasons, nil)))
		})
	}
}

func TestProceedable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		svc     Service
		reasons []string
		want    bool
	}{
		{name: "scanner all reasons allowed", svc: ServiceScanner, reasons: []string{"scanner_jam", "user_request"}, want: true},
		{name: "scanner one reason outside list", svc: ServiceScanner, reasons: []string{"scanner_jam", "memory_over"}, want: false},
		{name: "scanner empty reasons", svc: ServiceScanner, reasons: nil, want: false},
		{name: "copy benign reason", svc: ServiceCopy, reasons: []string{"wait_for_next_original_and_continue"}, want: true},
		{name: "copy blocked by no_paper", svc: ServiceCopy, reasons: []string{"no_paper"}, want: false},
		{name: "copy blocked by wait_for_next_original", svc: ServiceCopy, reasons: []string{"wait_for_next_original"}, want: false},
		{name: "fax benign reason", svc: ServiceFax, reasons: []string{"wait_for_next_original"}, want: true},
		{name: "fax blocked by preview wait", svc: ServiceFax, reasons: []string{"wait_for_original_preview_operation"}, want: false},
		{name: "printer never proceedable", svc: ServicePrinter, reasons: []string{"wait_for_next_original"}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Proceedable(tt.svc, stoppedDoc(tt.reasons, nil)))
		})
	}
}

func TestFinishable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		svc     Service
		reasons []string
		scanned *int
		want    bool
	}{
		{name: "scanner with pages", svc: ServiceScanner, reasons: []string{"wait_for_next_original"}, scanned: intp(2), want: true},
		{name: "scanner zero pages", svc: ServiceScanner, reasons: []string{"wait_for_next_original"}, scanned: intp(0), want: false},
		{name: "scanner blocked by user_request", svc: ServiceScanner, reasons: []string{"user_request"}, scanned: intp(2), want: false},
		{name: "scanner empty reasons", svc: ServiceScanner, reasons: nil, scanned: intp(2), want: false},
		{name: "copy allowed reasons and pages", svc: ServiceCopy, reasons: []string{"wait_for_next_original"}, scanned: intp(1), want: true},
		{name: "copy reason outside allow list", svc: ServiceCopy, reasons: []string{"no_paper"}, scanned: intp(1), want: false},
		{name: "copy absent scanned count", svc: ServiceCopy, reasons: []string{"wait_for_next_original"}, scanned: nil, want: true},
		{name: "copy zero pages", svc: ServiceCopy, reasons: []string{"wait_for_next_original"}, scanned: intp(0), want: false},
		{name: "fax with pages", svc: ServiceFax, reasons: []string{"wait_for_next_original"}, scanned: intp(1), want: true},
		{name: "fax blocked by sub machine error", svc: ServiceFax, reasons: []string{"sub_machine_error"}, scanned: intp(1), want: false},
		{name: "fax blocked by scanner jam", svc: ServiceFax, reasons: []string{"scanner_jam"}, scanned: intp(1), want: false},
		{name: "printer never finishable", svc: ServicePrinter, reasons: []string{"wait_for_next_original"}, scanned: intp(1), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var doc *StatusDocument
			if tt.svc == ServiceCopy && tt.scanned == nil {
				// Absent scanningInfo block entirely.
				doc = stoppedDoc(tt.reasons, nil)
			} else {
				doc = stoppedDoc(tt.reasons, tt.scanned)
			}
			assert.Equal(t, tt.want, Finishable(tt.svc, doc))
		})
	}
}

func TestTerminalClassification(t *testing.T) {
	t.Parallel()

	t.Run("top level status", func(t *testing.T) {
		t.Parallel()
		doc := &StatusDocument{JobStatus: StatusCanceled}
		assert.True(t, Canceled(ServicePrinter, doc))
		assert.False(t, Aborted(ServicePrinter, doc))
	})

	t.Run("scanner sub process aborted", func(t *testing.T) {
		t.Parallel()
		doc := &StatusDocument{
			JobStatus:   StatusProcessing,
			SendingInfo: &SendingInfo{ProcessInfo: ProcessInfo{JobStatus: StatusAborted}},
		}
		assert.True(t, Aborted(ServiceScanner, doc))
		assert.False(t, Aborted(ServiceCopy, doc), "copy does not track sendingInfo")
	})

	t.Run("copy printing canceled", func(t *testing.T) {
		t.Parallel()
		doc := &StatusDocument{
			JobStatus:    StatusProcessing,
			PrintingInfo: &PrintingInfo{ProcessInfo: ProcessInfo{JobStatus: StatusCanceled}},
		}
		assert.True(t, Canceled(ServiceCopy, doc))
		assert.True(t, Canceled(ServicePrinter, doc))
		assert.False(t, Canceled(ServiceFax, doc))
	})
}
