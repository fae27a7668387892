package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/models"
)

const dataPrefix = "data:"

// Handler receives each parsed snapshot in arrival order. Returning false stops the reader.
type Handler func(job models.Job) bool

// Reader turns a server-sent event body into job snapshots
type Reader struct {
	log zerolog.Logger
}

// NewReader creates a new event stream reader
func NewReader(log zerolog.Logger) *Reader {
	return &Reader{log: log}
}

// Read consumes body until it is exhausted, ctx is cancelled, or handle returns false.
// A body that ends without a terminal event returns nil. When ctx was cancelled the
// read error is replaced by ctx.Err() so callers can treat it as benign.
func (r *Reader) Read(ctx context.Context, body io.Reader, handle Handler) error {
	br := bufio.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// ReadString keeps accumulating until a full line arrives, so frames split
		// across TCP reads are reassembled here
		line, err := br.ReadString('\n')
		if line != "" {
			if !r.dispatch(line, handle) {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

func (r *Reader) dispatch(line string, handle Handler) bool {
	job, ok := ParseLine(line)
	if !ok {
		if payload, isData := dataPayload(line); isData {
			r.log.Debug().Str("payload", payload).Msg("ignoring malformed event")
		}
		return true
	}
	return handle(job)
}

// ParseLine extracts a job snapshot from one SSE line. Blank lines, non-data fields
// and payloads that are not a JSON object with a status report false.
func ParseLine(line string) (models.Job, bool) {
	payload, ok := dataPayload(line)
	if !ok || payload == "" {
		return models.Job{}, false
	}

	var job models.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return models.Job{}, false
	}
	if job.Status == "" {
		return models.Job{}, false
	}
	return job, true
}

func dataPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(dataPrefix):]), true
}
