package resource

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// thumbnailMaxDim bounds the longest edge of a generated HTML thumbnail.
const thumbnailMaxDim = 320

// validateImage decodes info's LocalPath far enough to get its bounds,
// flagging truncated or corrupt downloads that pass the plain size/MD5
// health check but aren't a decodable image. Non-image resources always
// pass. Callers treat a failure as advisory, not fatal.
func validateImage(info Info) error {
	if info.Type != TypeImage || info.LocalPath == "" {
		return nil
	}
	cfg, _, err := imageConfig(info.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: decode: %v", errNotAtExpectedLocation, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: zero-size image", errNotAtExpectedLocation)
	}
	return nil
}

func imageConfig(path string) (image.Config, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer f.Close()
	return image.DecodeConfig(f)
}

// thumbnailPath derives the sibling thumbnail location for an image
// resource, used by the HTML exporter.
func thumbnailPath(localPath string) string {
	dir := filepath.Dir(localPath)
	base := filepath.Base(localPath)
	return filepath.Join(dir, "thumb_"+base)
}

// EnsureThumbnail generates a bounded thumbnail for an image resource next
// to its full-size file, skipping work if one already exists. Used by the
// HTML exporter so inline previews don't ship full-resolution images.
func EnsureThumbnail(info Info) (string, error) {
	if info.Type != TypeImage || info.LocalPath == "" {
		return "", nil
	}
	out := thumbnailPath(info.LocalPath)
	if nonEmptyFile(out) {
		return out, nil
	}

	src, err := imaging.Open(info.LocalPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("resource: thumbnail decode: %w", err)
	}
	thumb := imaging.Fit(src, thumbnailMaxDim, thumbnailMaxDim, imaging.Lanczos)
	if err := imaging.Save(thumb, out); err != nil {
		return "", fmt.Errorf("resource: thumbnail save: %w", err)
	}
	return out, nil
}
