// Package blob stores evidence photos and returns durable public URLs.
package blob

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aawaaz/civic-reports/internal/models"
)

// Store accepts a binary file and returns its retrieval URL. Uniqueness of
// name is the caller's responsibility.
type Store interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Object name prefixes.
const (
	PrefixBefore = ""
	PrefixAfter  = "after_"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName builds "<prefix><unix-ms>_<name>" with the name reduced to a
// URL-safe charset.
func ObjectName(prefix, original string, now time.Time) string {
	base := path.Base(strings.ReplaceAll(original, `\`, "/"))
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "_.")
	if base == "" {
		base = "photo"
	}
	if len(base) > 80 {
		base = base[len(base)-80:]
	}
	return fmt.Sprintf("%s%d_%s", prefix, now.UnixMilli(), base)
}

// ValidatePhoto rejects empty, oversized or non-image uploads before any
// network call. A missing content type is sniffed from the bytes.
func ValidatePhoto(p *models.Photo, maxBytes int64) error {
	if p == nil || len(p.Data) == 0 {
		return fmt.Errorf("%w: photo is empty", models.ErrValidation)
	}
	if int64(len(p.Data)) > maxBytes {
		return fmt.Errorf("%w: photo exceeds %d MB", models.ErrValidation, maxBytes>>20)
	}

	ct := strings.TrimSpace(strings.ToLower(p.ContentType))
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(p.Data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: %s is not an image", models.ErrValidation, ct)
	}
	p.ContentType = ct
	return nil
}
