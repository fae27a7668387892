package staging

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/models"
)

// Role identifies which job input an artifact fills
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

var mimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/jpg":       ".jpg",
	"image/png":       ".png",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// Handle is an opaque reference to user-picked content
type Handle interface {
	Open() (io.ReadCloser, error)
	// DisplayName and MimeType may return "" when unknown
	DisplayName() string
	MimeType() string
}

// Artifact is a staged local copy of an input, ready for multipart upload
type Artifact struct {
	Role        Role
	Path        string
	DisplayName string
	MimeType    string
	Extension   string
	Size        int64
}

// FileName returns the unique upload name
func (a *Artifact) FileName() string {
	return filepath.Base(a.Path)
}

// ContentType returns the declared MIME type, possibly empty
func (a *Artifact) ContentType() string {
	return a.MimeType
}

// Open opens the staged copy for reading
func (a *Artifact) Open() (io.ReadCloser, error) {
	return os.Open(a.Path)
}

// Stager copies handles into a scratch directory
type Stager struct {
	dir string
	log zerolog.Logger
	now func() time.Time
}

// NewStager creates a stager rooted at dir
func NewStager(dir string, log zerolog.Logger) *Stager {
	return &Stager{dir: dir, log: log, now: time.Now}
}

// Dir returns the scratch directory
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies the handle's bytes into a uniquely named scratch file
func (s *Stager) Stage(handle Handle, role Role) (*Artifact, error) {
	if handle == nil {
		return nil, fmt.Errorf("stage %s: %w: no handle", role, models.ErrIOFailure)
	}

	src, err := handle.Open()
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w: open handle: %v", role, models.ErrIOFailure, err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("stage %s: %w: ensure scratch dir: %v", role, models.ErrIOFailure, err)
	}

	name, mimeType := handle.DisplayName(), handle.MimeType()
	ext := InferExtension(name, mimeType)
	path := filepath.Join(s.dir, fmt.Sprintf("%s_%d_%s%s", role, s.now().UnixMilli(), uuid.NewString()[:8], ext))

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w: create copy: %v", role, models.ErrIOFailure, err)
	}

	size, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("stage %s: %w: copy: %v", role, models.ErrIOFailure, err)
	}

	s.log.Debug().
		Str("role", string(role)).
		Str("path", path).
		Int64("bytes", size).
		Msg("staged artifact")

	return &Artifact{
		Role:        role,
		Path:        path,
		DisplayName: name,
		MimeType:    mimeType,
		Extension:   ext,
		Size:        size,
	}, nil
}

// InferExtension picks the display name's suffix, then the MIME table, then nothing
func InferExtension(displayName, mimeType string) string {
	base := filepath.Base(strings.TrimSpace(displayName))
	if idx := strings.LastIndex(base, "."); idx >= 0 && idx < len(base)-1 {
		return strings.ToLower(base[idx:])
	}

	mediaType := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	return mimeExtensions[mediaType]
}
