package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/models"
)

func collect(t *testing.T, body io.Reader) []models.Job {
	t.Helper()
	var got []models.Job
	err := NewReader(zerolog.Nop()).Read(context.Background(), body, func(job models.Job) bool {
		got = append(got, job)
		return true
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return got
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantOK     bool
		wantStatus models.JobStatus
	}{
		{"data line", `data: {"job_id":"abc","status":"running"}`, true, models.StatusRunning},
		{"no space after colon", `data:{"status":"queued"}`, true, models.StatusQueued},
		{"crlf terminated", "data: {\"status\":\"failed\"}\r\n", true, models.StatusFailed},
		{"padded payload", "data:    {\"status\":\"completed\"}   ", true, models.StatusCompleted},
		{"unknown status kept", `data: {"status":"paused"}`, true, "paused"},
		{"blank line", "", false, ""},
		{"separator", "\n", false, ""},
		{"comment", ": keep-alive", false, ""},
		{"event field", "event: status", false, ""},
		{"id field", "id: 7", false, ""},
		{"leading space before prefix", ` data: {"status":"running"}`, false, ""},
		{"not json", "data: hello", false, ""},
		{"truncated json", `data: {"status":"runn`, false, ""},
		{"json array", `data: [1,2,3]`, false, ""},
		{"missing status", `data: {"job_id":"abc","progress":10}`, false, ""},
		{"empty payload", "data:", false, ""},
		{"wrong type", `data: {"status":"running","progress":"forty"}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, ok := ParseLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && job.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", job.Status, tt.wantStatus)
			}
		})
	}
}

func TestRead_OrderAndSeparators(t *testing.T) {
	body := strings.NewReader(
		": connected\n\n" +
			"data: {\"status\":\"queued\",\"progress\":0}\n\n" +
			"data: {\"status\":\"running\",\"progress\":40,\"stage\":\"swap\"}\n\n" +
			"data: {\"status\":\"running\",\"progress\":40,\"stage\":\"swap\"}\n\n" +
			"data: {\"status\":\"running\",\"progress\":20}\n\n")

	got := collect(t, body)
	if len(got) != 4 {
		t.Fatalf("got %d snapshots, want 4 (no dedup)", len(got))
	}
	wantProgress := []int{0, 40, 40, 20}
	for i, job := range got {
		if job.ProgressValue() != wantProgress[i] {
			t.Errorf("snapshot %d progress = %d, want %d", i, job.ProgressValue(), wantProgress[i])
		}
	}
	if got[1].StageValue() != "swap" {
		t.Errorf("stage = %q, want swap", got[1].StageValue())
	}
}

func TestRead_PartialLines(t *testing.T) {
	payload := "data: {\"job_id\":\"abc\",\"status\":\"running\",\"progress\":10}\n\n" +
		"data: {\"job_id\":\"abc\",\"status\":\"completed\",\"target_kind\":\"video\"}\n\n"

	got := collect(t, iotest.OneByteReader(strings.NewReader(payload)))
	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
	if got[1].Status != models.StatusCompleted || got[1].TargetKind != models.TargetKindVideo {
		t.Errorf("second snapshot = %+v", got[1])
	}
}

func TestRead_MalformedEventsAreSkipped(t *testing.T) {
	body := strings.NewReader(
		"data: {not json}\n" +
			"data: {\"status\":\"running\",\"progress\":5}\n" +
			"data: {\"progress\":99}\n" +
			"garbage line\n" +
			"data: {\"status\":\"running\",\"progress\":6}\n")

	got := collect(t, body)
	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
	if got[0].ProgressValue() != 5 || got[1].ProgressValue() != 6 {
		t.Errorf("progress = %d, %d, want 5, 6", got[0].ProgressValue(), got[1].ProgressValue())
	}
}

func TestRead_LongLine(t *testing.T) {
	stage := strings.Repeat("x", 256*1024)
	body := strings.NewReader("data: {\"status\":\"running\",\"stage\":\"" + stage + "\"}\n")

	got := collect(t, body)
	if len(got) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(got))
	}
	if len(got[0].StageValue()) != len(stage) {
		t.Errorf("stage length = %d, want %d", len(got[0].StageValue()), len(stage))
	}
}

func TestRead_FinalLineWithoutNewline(t *testing.T) {
	got := collect(t, strings.NewReader(`data: {"status":"failed"}`))
	if len(got) != 1 || got[0].Status != models.StatusFailed {
		t.Fatalf("got %+v, want one failed snapshot", got)
	}
}

func TestRead_HandlerStops(t *testing.T) {
	body := strings.NewReader(
		"data: {\"status\":\"completed\"}\n" +
			"data: {\"status\":\"running\"}\n")

	calls := 0
	err := NewReader(zerolog.Nop()).Read(context.Background(), body, func(job models.Job) bool {
		calls++
		return false
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestRead_EmptyBody(t *testing.T) {
	if got := collect(t, strings.NewReader("")); len(got) != 0 {
		t.Errorf("got %d snapshots, want 0", len(got))
	}
}

func TestRead_CancelledContextIsBenign(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan models.Job, 1)
	done := make(chan error, 1)

	go func() {
		done <- NewReader(zerolog.Nop()).Read(ctx, pr, func(job models.Job) bool {
			got <- job
			return true
		})
	}()

	_, _ = pw.Write([]byte("data: {\"status\":\"running\"}\n"))
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first snapshot")
	}

	// Closing the connection mimics the transport aborting the read on cancel
	cancel()
	pr.CloseWithError(errors.New("use of closed network connection"))

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Read() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read() did not return after cancel")
	}
}

func TestRead_ReadErrorSurfaces(t *testing.T) {
	boom := errors.New("connection reset")
	body := io.MultiReader(strings.NewReader("data: {\"status\":\"running\"}\n"), iotest.ErrReader(boom))

	var calls int
	err := NewReader(zerolog.Nop()).Read(context.Background(), body, func(job models.Job) bool {
		calls++
		return true
	})
	if !errors.Is(err, boom) {
		t.Errorf("Read() error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}
