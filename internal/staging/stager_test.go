package staging

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gelotto/faceswap-client/internal/models"
)

type memHandle struct {
	name    string
	mime    string
	data    []byte
	openErr error
	readErr error
}

func (h *memHandle) Open() (io.ReadCloser, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	var r io.Reader = bytes.NewReader(h.data)
	if h.readErr != nil {
		r = io.MultiReader(r, errReader{h.readErr})
	}
	return io.NopCloser(r), nil
}

func (h *memHandle) DisplayName() string { return h.name }
func (h *memHandle) MimeType() string    { return h.mime }

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestInferExtension(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		mimeType    string
		want        string
	}{
		{"name suffix wins", "holiday.PNG", "image/jpeg", ".png"},
		{"name with path", "/sdcard/DCIM/clip.mov", "", ".mov"},
		{"trailing dot ignored", "photo.", "image/png", ".png"},
		{"no suffix uses mime jpeg", "IMG_0001", "image/jpeg", ".jpg"},
		{"jpg alias", "", "image/jpg", ".jpg"},
		{"png", "", "image/png", ".png"},
		{"mp4", "", "video/mp4", ".mp4"},
		{"quicktime", "", "video/quicktime", ".mov"},
		{"mime with params", "", "Video/MP4; codecs=avc1", ".mp4"},
		{"unknown mime", "", "application/pdf", ""},
		{"nothing known", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferExtension(tt.displayName, tt.mimeType); got != tt.want {
				t.Errorf("InferExtension(%q, %q) = %q, want %q", tt.displayName, tt.mimeType, got, tt.want)
			}
		})
	}
}

func TestStage_CopiesBytes(t *testing.T) {
	dir := t.TempDir()
	stager := NewStager(filepath.Join(dir, "scratch"), zerolog.Nop())
	stager.now = func() time.Time { return time.UnixMilli(1700000000000) }

	data := bytes.Repeat([]byte{0x00, 0xff, 0x10, 'j'}, 64*1024)
	handle := &memHandle{name: "face.jpeg", mime: "image/jpeg", data: data}

	art, err := stager.Stage(handle, RoleSource)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if art.Role != RoleSource {
		t.Errorf("Role = %q, want source", art.Role)
	}
	if art.Extension != ".jpeg" {
		t.Errorf("Extension = %q, want .jpeg", art.Extension)
	}
	if art.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", art.Size, len(data))
	}
	if !strings.HasPrefix(art.FileName(), "source_1700000000000_") || !strings.HasSuffix(art.FileName(), ".jpeg") {
		t.Errorf("FileName() = %q, want source_<ts>_<id>.jpeg", art.FileName())
	}
	if art.ContentType() != "image/jpeg" {
		t.Errorf("ContentType() = %q, want image/jpeg", art.ContentType())
	}

	copied, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read staged copy: %v", err)
	}
	if !bytes.Equal(copied, data) {
		t.Error("staged copy is not byte-identical to the source")
	}
}

func TestStage_VideoMimeWithoutExtension(t *testing.T) {
	stager := NewStager(t.TempDir(), zerolog.Nop())

	art, err := stager.Stage(&memHandle{name: "content_4711", mime: "video/mp4", data: []byte("mp4")}, RoleTarget)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if art.Extension != ".mp4" {
		t.Errorf("Extension = %q, want .mp4", art.Extension)
	}
	if filepath.Ext(art.Path) != ".mp4" {
		t.Errorf("path %q should end in .mp4", art.Path)
	}
}

func TestStage_UniqueNames(t *testing.T) {
	stager := NewStager(t.TempDir(), zerolog.Nop())
	stager.now = func() time.Time { return time.UnixMilli(1) }

	a, err := stager.Stage(&memHandle{data: []byte("a")}, RoleSource)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	b, err := stager.Stage(&memHandle{data: []byte("b")}, RoleSource)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if a.Path == b.Path {
		t.Errorf("two stages at the same instant share path %q", a.Path)
	}
	if a.Extension != "" {
		t.Errorf("Extension = %q, want none", a.Extension)
	}
}

func TestStage_OpenFailure(t *testing.T) {
	stager := NewStager(t.TempDir(), zerolog.Nop())

	_, err := stager.Stage(&memHandle{openErr: errors.New("permission denied")}, RoleSource)
	if !errors.Is(err, models.ErrIOFailure) {
		t.Errorf("Stage() error = %v, want ErrIOFailure", err)
	}
}

func TestStage_NilHandle(t *testing.T) {
	stager := NewStager(t.TempDir(), zerolog.Nop())
	if _, err := stager.Stage(nil, RoleTarget); !errors.Is(err, models.ErrIOFailure) {
		t.Errorf("Stage(nil) error = %v, want ErrIOFailure", err)
	}
}

func TestStage_ReadFailureRemovesPartialCopy(t *testing.T) {
	dir := t.TempDir()
	stager := NewStager(dir, zerolog.Nop())

	_, err := stager.Stage(&memHandle{name: "x.png", data: []byte("partial"), readErr: errors.New("eof mid-file")}, RoleTarget)
	if !errors.Is(err, models.ErrIOFailure) {
		t.Fatalf("Stage() error = %v, want ErrIOFailure", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("scratch dir has %d entries after failed copy, want 0", len(entries))
	}
}

func TestFileHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o600); err != nil {
		t.Fatal(err)
	}

	h := NewFileHandle(path)
	if h.DisplayName() != "target.mp4" {
		t.Errorf("DisplayName() = %q, want target.mp4", h.DisplayName())
	}
	if h.MimeType() != "video/mp4" {
		t.Errorf("MimeType() = %q, want video/mp4", h.MimeType())
	}

	rc, err := h.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "video" {
		t.Errorf("data = %q, want video", data)
	}
}
