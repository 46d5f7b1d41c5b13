package services

import (
	"path/filepath"
	"strings"

	"github.com/Uriel-Ondo/agro/internal/models"
)

var allowedMediaExtensions = map[string]string{
	".jpg":  models.MessageTypeImage,
	".jpeg": models.MessageTypeImage,
	".png":  models.MessageTypeImage,
	".mp4":  models.MessageTypeVideo,
	".wav":  models.MessageTypeAudio,
	".mp3":  models.MessageTypeAudio,
}

// Upload is a file attached to a request, message or response.
type Upload struct {
	Filename string
	Data     []byte
}

// Extension returns the lower-cased extension of the upload's filename.
func (u *Upload) Extension() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// MediaKind maps a file extension to the message type it carries. ok is
// false for extensions outside the upload allow-list.
func MediaKind(ext string) (kind string, ok bool) {
	kind, ok = allowedMediaExtensions[strings.ToLower(ext)]
	return kind, ok
}

func validateUpload(upload *Upload) (ext string, kind string, err error) {
	if upload == nil || len(upload.Data) == 0 {
		return "", "", ErrInvalidContent
	}
	ext = upload.Extension()
	kind, ok := MediaKind(ext)
	if !ok {
		return "", "", ErrInvalidContent
	}
	return ext, kind, nil
}
