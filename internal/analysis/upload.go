package analysis

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const DefaultMaxUploadBytes = 10 << 20

// Upload is a product photo to submit for analysis.
type Upload struct {
	Filename string
	Content  []byte
	// Context is optional free text passed to the analysis engine.
	Context string

	mime string
}

func (u Upload) contentType() string {
	if u.mime != "" {
		return u.mime
	}
	return mimetype.Detect(u.Content).String()
}

// UploadRules mirror the backend's acceptance checks so that obviously invalid
// files are rejected before a job is created.
type UploadRules struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// DefaultUploadRules matches the backend defaults: 10 MiB, jpg/jpeg/png/webp.
func DefaultUploadRules() UploadRules {
	return UploadRules{
		MaxBytes:          DefaultMaxUploadBytes,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "webp"},
	}
}

// ValidateUpload checks size, sniffed content type and extension. It returns
// the upload with its detected MIME type recorded, or an error matching ErrValidation.
func ValidateUpload(up Upload, rules UploadRules) (Upload, error) {
	if len(up.Content) == 0 {
		return up, fmt.Errorf("%w: file is empty", ErrValidation)
	}
	if rules.MaxBytes > 0 && int64(len(up.Content)) > rules.MaxBytes {
		return up, fmt.Errorf("%w: file too large, maximum size is %d bytes", ErrValidation, rules.MaxBytes)
	}

	mt := mimetype.Detect(up.Content)
	if !strings.HasPrefix(mt.String(), "image/") {
		return up, fmt.Errorf("%w: file must be an image, got %s", ErrValidation, mt.String())
	}

	if len(rules.AllowedExtensions) > 0 {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(up.Filename)), ".")
		if !allowed(ext, rules.AllowedExtensions) {
			return up, fmt.Errorf("%w: file extension .%s not allowed, allowed: %s",
				ErrValidation, ext, strings.Join(rules.AllowedExtensions, ", "))
		}
	}

	up.mime = mt.String()
	return up, nil
}

func allowed(ext string, list []string) bool {
	for _, a := range list {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}
