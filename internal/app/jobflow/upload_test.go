package jobflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadAggregate(t *testing.T) {
	t.Parallel()

	u := NewUpload()
	assert.True(t, u.IsAllFinished(), "an empty upload counts as finished")

	first := u.AddFile(1)
	second := u.AddFile(2)
	assert.Equal(t, FileGetting, first.Status)
	assert.Equal(t, 2, u.Len())
	assert.False(t, u.IsAllFinished())

	u.SetStatus(first.ID, FileUploading)
	u.SetStatus(first.ID, FileSuccess)
	assert.Equal(t, 1, u.FinishedCount())
	assert.False(t, u.HasErrorFile())
	assert.False(t, u.IsAllFinished())

	u.SetStatus(second.ID, FileCanceling)
	u.SetStatus(second.ID, FileError)
	assert.Equal(t, 2, u.FinishedCount())
	assert.True(t, u.HasErrorFile())
	assert.True(t, u.IsAllFinished())
}

func TestUploadTerminalStatusIsSticky(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		terminal FileStatus
		next     FileStatus
	}{
		{name: "success survives cancel", terminal: FileSuccess, next: FileCanceled},
		{name: "error survives success", terminal: FileError, next: FileSuccess},
		{name: "canceled survives error", terminal: FileCanceled, next: FileError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u := NewUpload()
			f := u.AddFile(1)
			u.SetStatus(f.ID, tt.terminal)
			u.SetStatus(f.ID, tt.next)

			got, ok := u.ByRequestID(f.ID)
			require.True(t, ok)
			assert.Equal(t, tt.terminal, got.Status)
			assert.Equal(t, 1, u.FinishedCount())
		})
	}
}
