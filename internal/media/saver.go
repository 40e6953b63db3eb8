// Package media downloads and persists inbound media attachments.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// hardCeilingFactor bounds how far past the configured cap a download may
// run before being abandoned; oversized images inside this window are
// downscaled instead of rejected.
const hardCeilingFactor = 4

// maxImageDimension is the longest edge after downscaling.
const maxImageDimension = 2048

// Saver downloads media referenced by inbound messages into a per-account
// directory, enforcing the configured size cap.
type Saver struct {
	dir      string
	maxBytes int64
}

// NewSaver creates a saver writing under dir with the given cap in MB.
func NewSaver(dir string, maxMB float64) *Saver {
	if maxMB <= 0 {
		maxMB = 20
	}
	return &Saver{dir: dir, maxBytes: int64(maxMB * 1024 * 1024)}
}

// Save downloads ref and returns the local path. Images larger than the cap
// are downscaled and re-encoded; anything else over the cap is rejected.
func (s *Saver) Save(ctx context.Context, ref, mediaType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("media: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media: download status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create dir: %w", err)
	}

	path := filepath.Join(s.dir, uuid.NewString()+extFor(ref, mediaType))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("media: create file: %w", err)
	}

	ceiling := s.maxBytes * hardCeilingFactor
	written, err := io.Copy(f, io.LimitReader(resp.Body, ceiling+1))
	f.Close()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("media: save: %w", err)
	}
	if written > ceiling {
		os.Remove(path)
		return "", fmt.Errorf("media: file exceeds %d bytes", ceiling)
	}

	if written > s.maxBytes {
		if !isImage(mediaType, path) {
			os.Remove(path)
			return "", fmt.Errorf("media: file too large: %d bytes (cap %d)", written, s.maxBytes)
		}
		if err := s.downscale(path); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("media: downscale oversized image: %w", err)
		}
		slog.Debug("media: oversized image downscaled", "path", path, "original_bytes", written)
	}

	return path, nil
}

// downscale re-encodes the image with its longest edge capped, replacing the
// file in place.
func (s *Saver) downscale(path string) error {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}

	bounds := img.Bounds()
	if bounds.Dx() >= bounds.Dy() {
		img = imaging.Resize(img, maxImageDimension, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxImageDimension, imaging.Lanczos)
	}

	// Re-encode as JPEG regardless of source format; callers only need a
	// viewable file under the cap.
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg"
	if err := imaging.Save(img, out, imaging.JPEGQuality(85)); err != nil {
		return err
	}
	if out != path {
		os.Remove(path)
	}
	return nil
}

func isImage(mediaType, path string) bool {
	if strings.HasPrefix(mediaType, "image/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}

// extFor picks a file extension from the URL, falling back to the MIME type.
func extFor(ref, mediaType string) string {
	path := ref
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if ext := filepath.Ext(path); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "video/mp4":
		return ".mp4"
	case "audio/ogg":
		return ".ogg"
	case "audio/mpeg":
		return ".mp3"
	}
	return ".bin"
}
