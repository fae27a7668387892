package staging

import (
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FileHandle exposes a local file as a Handle
type FileHandle struct {
	Path string
	Name string
	Type string
}

// NewFileHandle derives the display name and MIME type from the path
func NewFileHandle(path string) *FileHandle {
	return &FileHandle{
		Path: path,
		Name: filepath.Base(path),
		Type: typeByExtension(filepath.Ext(path)),
	}
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// typeByExtension covers the media types the API accepts even when the
// host has no mime.types database
func typeByExtension(ext string) string {
	if t, ok := extensionTypes[strings.ToLower(ext)]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

func (h *FileHandle) Open() (io.ReadCloser, error) {
	return os.Open(h.Path)
}

func (h *FileHandle) DisplayName() string {
	return h.Name
}

func (h *FileHandle) MimeType() string {
	return h.Type
}
