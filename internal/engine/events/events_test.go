package events

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	const id = "0f8e2c41-5d7a-4b1e-9c3f-2a6b8d0e4f17"

	tests := []struct {
		msg  any
		want string
	}{
		{DownloadQueuedMsg{DownloadID: id, URL: "http://example.com/a.iso"}, "Queued: http://example.com/a.iso [0f8e2c41]"},
		{DownloadStartedMsg{DownloadID: id, Filename: "a.iso", Chunks: 8}, "Started: a.iso [0f8e2c41] (8 chunks)"},
		{DownloadCompleteMsg{DownloadID: id, Filename: "a.iso", Elapsed: 2345678 * time.Microsecond}, "Completed: a.iso [0f8e2c41] (in 2.346s)"},
		{DownloadErrorMsg{DownloadID: id, Filename: "a.iso", Err: fmt.Errorf("chunk 2: %w", errors.New("connection reset"))}, "Error: a.iso [0f8e2c41]: chunk 2: connection reset"},
		{DownloadPausedMsg{DownloadID: id, Filename: "a.iso", Downloaded: 10}, "Paused: a.iso [0f8e2c41]"},
		{DownloadResumedMsg{DownloadID: id, Filename: "a.iso"}, "Resumed: a.iso [0f8e2c41]"},
		{DownloadRemovedMsg{DownloadID: "abc", Filename: "a.iso"}, "Removed: a.iso [abc]"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.msg), func(t *testing.T) {
			got, ok := Describe(tt.msg)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribe_Unknown(t *testing.T) {
	_, ok := Describe("not an event")
	assert.False(t, ok)

	_, ok = Describe(nil)
	assert.False(t, ok)
}
