package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusDocumentDecoding(t *testing.T) {
	t.Parallel()

	raw := `{
		"jobStatus": "processing_stopped",
		"jobStatusReasons": ["wait_for_next_original"],
		"scanningInfo": {
			"jobStatus": "processing_stopped",
			"scannedCount": 3,
			"remainingTimeOfWaitingNextOriginal": 59
		},
		"filingInfo": {"jobStatus": "processing", "filedPageCount": 2}
	}`

	var doc StatusDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	assert.Equal(t, StatusProcessingStopped, doc.JobStatus)
	assert.Equal(t, "wait_for_next_original", doc.FirstReason())
	assert.Equal(t, 59, doc.RemainingTime())
	assert.Equal(t, 2, doc.FiledPageCount())

	count, ok := doc.ScannedCount()
	require.True(t, ok)
	assert.Equal(t, 3, count)

	info, ok := doc.Info(ProcessFiling)
	require.True(t, ok)
	assert.Equal(t, StatusProcessing, info.JobStatus)

	_, ok = doc.Info(ProcessSending)
	assert.False(t, ok)
}

func TestStatusDocumentChanged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev *StatusDocument
		cur  *StatusDocument
		path string
		want bool
	}{
		{
			name: "counter increments",
			prev: &StatusDocument{ScanningInfo: &ScanningInfo{ScannedCount: intp(1)}},
			cur:  &StatusDocument{ScanningInfo: &ScanningInfo{ScannedCount: intp(2)}},
			path: "scanningInfo.scannedCount",
			want: true,
		},
		{
			name: "counter reset to zero is suppressed",
			prev: &StatusDocument{ScanningInfo: &ScanningInfo{ScannedCount: intp(3)}},
			cur:  &StatusDocument{ScanningInfo: &ScanningInfo{ScannedCount: intp(0)}},
			path: "scanningInfo.scannedCount",
			want: false,
		},
		{
			name: "first value of zero is suppressed",
			prev: nil,
			cur:  &StatusDocument{PrintingInfo: &PrintingInfo{PrintedCount: intp(0)}},
			path: "printingInfo.printedCount",
			want: false,
		},
		{
			name: "first nonzero value counts",
			prev: nil,
			cur:  &StatusDocument{PrintingInfo: &PrintingInfo{PrintedCount: intp(1)}},
			path: "printingInfo.printedCount",
			want: true,
		},
		{
			name: "unchanged counter",
			prev: &StatusDocument{SendingInfo: &SendingInfo{SentDestinationCount: intp(2)}},
			cur:  &StatusDocument{SendingInfo: &SendingInfo{SentDestinationCount: intp(2)}},
			path: "sendingInfo.sentDestinationCount",
			want: false,
		},
		{
			name: "job status transition",
			prev: &StatusDocument{JobStatus: StatusPending},
			cur:  &StatusDocument{JobStatus: StatusProcessing},
			path: "jobStatus",
			want: true,
		},
		{
			name: "reasons reordering counts as change",
			prev: &StatusDocument{JobStatus: StatusProcessingStopped, JobStatusReasons: []string{"a", "b"}},
			cur:  &StatusDocument{JobStatus: StatusProcessingStopped, JobStatusReasons: []string{"b", "a"}},
			path: "jobStatusReasons",
			want: true,
		},
		{
			name: "identical reasons",
			prev: &StatusDocument{JobStatusReasons: []string{"scanner_jam"}},
			cur:  &StatusDocument{JobStatusReasons: []string{"scanner_jam"}},
			path: "jobStatusReasons",
			want: false,
		},
		{
			name: "file read completed flips",
			prev: &StatusDocument{PrintingInfo: &PrintingInfo{}},
			cur:  &StatusDocument{PrintingInfo: &PrintingInfo{FileReadCompleted: boolp(true)}},
			path: "printingInfo.fileReadCompleted",
			want: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cur.Changed(tt.prev, tt.path))
		})
	}
}

func boolp(v bool) *bool { return &v }
