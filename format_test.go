package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 5242880, "5.0 MB"},
		{"gigabytes", 1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00", formatDuration(0))
	assert.Equal(t, "1:05", formatDuration(65))
	assert.Equal(t, "90:00", formatDuration(5400))
}

func TestFormatTimePtr(t *testing.T) {
	assert.Equal(t, "-", formatTimePtr(nil))

	ts := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, formatTime(ts), formatTimePtr(&ts))
}

func TestFormatTime(t *testing.T) {
	diffYear := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.UTC)

	result := formatTime(diffYear)
	assert.Contains(t, result, "Dec")
	assert.Contains(t, result, "2020")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"ID", "STATUS"}, [][]string{
		{"job-1", "completed"},
		{"job-22", "failed"},
	})

	assert.Equal(t, "ID      STATUS\njob-1   completed\njob-22  failed\n", buf.String())
}
