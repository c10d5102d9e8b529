package main

import (
	"bytes"
	"testing"
	"time"

	"dropwatch/internal/ingest"

	"github.com/stretchr/testify/assert"
)

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, ingest.CycleReport{
		Elapsed: 1500 * time.Millisecond,
		Outcomes: []ingest.Outcome{
			{Descriptor: "img1.json", Key: "uploads/img1.jpg", Status: ingest.StatusDone, Size: 42},
			{Descriptor: "img2.json", Status: ingest.StatusError, Reason: ingest.ReasonMediaMissing},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "uploads/img1.jpg")
	assert.Contains(t, out, "media-missing")
	assert.Contains(t, out, "done: 1, error: 1, aborted: 0 (1.5s)")
}

func TestPrintReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, ingest.CycleReport{})
	assert.Equal(t, "No descriptors found.\n", buf.String())
}
