package result

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/auth"
	"github.com/Gelotto/faceswap-client/internal/models"
)

// Fetcher downloads the result bytes of a completed job
type Fetcher interface {
	FetchResult(ctx context.Context, cred auth.Credential, jobID string) (io.ReadCloser, error)
}

// Delivery describes a fully downloaded result
type Delivery struct {
	JobID string
	Kind  models.TargetKind
	Path  string
	Size  int64
}

// Presenter receives results once their bytes are on disk
type Presenter interface {
	ShowResult(d Delivery)
}

// PresenterFunc adapts a function to Presenter
type PresenterFunc func(d Delivery)

func (f PresenterFunc) ShowResult(d Delivery) { f(d) }

// Router fetches results and routes them by target kind
type Router struct {
	fetcher   Fetcher
	presenter Presenter
	dir       string
	log       zerolog.Logger
}

// NewRouter creates a router writing into dir. A nil presenter discards deliveries.
func NewRouter(fetcher Fetcher, dir string, presenter Presenter, log zerolog.Logger) *Router {
	if presenter == nil {
		presenter = PresenterFunc(func(Delivery) {})
	}
	return &Router{fetcher: fetcher, presenter: presenter, dir: dir, log: log}
}

// Extension returns ".mp4" for video and ".jpg" for anything else
func Extension(kind models.TargetKind) string {
	if kind == models.TargetKindVideo {
		return ".mp4"
	}
	return ".jpg"
}

// Deliver downloads the job result in full, then hands it to the presenter.
// A failed copy removes the partial file and is not retried.
func (r *Router) Deliver(ctx context.Context, cred auth.Credential, jobID string, kind models.TargetKind) (*Delivery, error) {
	body, err := r.fetcher.FetchResult(ctx, cred, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch result: %w", err)
	}
	defer body.Close()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("deliver result: %w: ensure output dir: %v", models.ErrIOFailure, err)
	}

	path := filepath.Join(r.dir, resultName(jobID)+Extension(kind))
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("deliver result: %w: create file: %v", models.ErrIOFailure, err)
	}

	size, copyErr := io.Copy(dst, body)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(path)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("deliver result: %w", ctxErr)
		}
		return nil, fmt.Errorf("deliver result: %w: copy: %v", models.ErrIOFailure, err)
	}

	d := Delivery{JobID: jobID, Kind: kind, Path: path, Size: size}
	r.log.Info().
		Str("job_id", jobID).
		Str("kind", string(kind)).
		Str("path", path).
		Int64("bytes", size).
		Msg("result saved")

	r.presenter.ShowResult(d)
	return &d, nil
}

// resultName keeps job ids usable as file names
func resultName(jobID string) string {
	out := []rune("result_")
	for _, c := range jobID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
