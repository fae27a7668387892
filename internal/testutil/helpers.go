package testutil

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Gelotto/faceswap-client/internal/models"
)

// ValidToken returns a bearer token accepted by the mock server
func ValidToken() string {
	return "fs_" + strings.Repeat("a", 40)
}

// MemoryHandle is an in-memory staging handle
type MemoryHandle struct {
	Name    string
	Type    string
	Data    []byte
	OpenErr error
}

// Open returns a reader over Data, or OpenErr when set
func (h *MemoryHandle) Open() (io.ReadCloser, error) {
	if h.OpenErr != nil {
		return nil, h.OpenErr
	}
	return io.NopCloser(bytes.NewReader(h.Data)), nil
}

func (h *MemoryHandle) DisplayName() string { return h.Name }
func (h *MemoryHandle) MimeType() string    { return h.Type }

// SourceImage returns a small JPEG-typed source handle
func SourceImage() *MemoryHandle {
	return &MemoryHandle{Name: "face.jpg", Type: "image/jpeg", Data: []byte("\xff\xd8source-face")}
}

// TargetVideo returns an MP4-typed target handle without a name extension
func TargetVideo() *MemoryHandle {
	return &MemoryHandle{Name: "content_1001", Type: "video/mp4", Data: []byte("mp4-target-bytes")}
}

// TargetImage returns a PNG-typed target handle
func TargetImage() *MemoryHandle {
	return &MemoryHandle{Name: "scene.png", Type: "image/png", Data: []byte("png-target-bytes")}
}

// Snapshot builds an event or poll snapshot
func Snapshot(status models.JobStatus, progress *int, stage *string) models.Job {
	return models.Job{Status: status, Progress: progress, Stage: stage}
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for condition: %s", message)
}

// WaitForCallCount waits for a call count to reach expected value
func WaitForCallCount(t *testing.T, getCalls func() int, expected int, timeout time.Duration, name string) {
	t.Helper()
	WaitForCondition(t, func() bool {
		return getCalls() >= expected
	}, timeout, name+" call count")
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error but got nil", msg)
	}
}

// AssertErrorContains fails if err is nil or doesn't contain expected substring
func AssertErrorContains(t *testing.T, err error, expected string, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error containing %q but got nil", msg, expected)
	}
	if !strings.Contains(err.Error(), expected) {
		t.Fatalf("%s: expected error containing %q but got %q", msg, expected, err.Error())
	}
}

// AssertEqual fails if got != want
func AssertEqual[T comparable](t *testing.T, got, want T, msg string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: got %v, want %v", msg, got, want)
	}
}

// AssertTrue fails if condition is false
func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true but got false", msg)
	}
}

// AssertFalse fails if condition is true
func AssertFalse(t *testing.T, condition bool, msg string) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false but got true", msg)
	}
}

// IntPtr returns a pointer to an int
func IntPtr(v int) *int {
	return &v
}

// StringPtr returns a pointer to a string
func StringPtr(v string) *string {
	return &v
}
