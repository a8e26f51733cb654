package export

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
)

// MaterializeResources places each downloaded resource (and its thumbnail,
// when one was generated) under dir's resources/ tree, so the relative
// links an HTML artifact carries resolve offline. Hard links are used when
// the export directory shares a filesystem with the resource store, with a
// byte copy as fallback. Failures are per-file and non-fatal: a resource
// that cannot be placed renders as a broken link, the same as one that
// never downloaded.
func MaterializeResources(dir string, resourcesByMsg map[string][]*resource.Info) {
	seen := make(map[string]bool)
	for _, infos := range resourcesByMsg {
		for _, info := range infos {
			if info.Status != resource.StatusDownloaded || info.LocalPath == "" {
				continue
			}
			rel := ResourceRelPath(string(info.Type), info.MD5, info.FileName)
			if seen[rel] {
				continue
			}
			seen[rel] = true

			dst := filepath.Join(dir, filepath.FromSlash(rel))
			if err := placeFile(info.LocalPath, dst); err != nil {
				slog.Warn("export.materialize_resource_failed", "src", info.LocalPath, "error", err)
				continue
			}

			thumbSrc := filepath.Join(filepath.Dir(info.LocalPath), "thumb_"+filepath.Base(info.LocalPath))
			if _, err := os.Stat(thumbSrc); err == nil {
				thumbDst := filepath.Join(filepath.Dir(dst), "thumb_"+filepath.Base(dst))
				if err := placeFile(thumbSrc, thumbDst); err != nil {
					slog.Warn("export.materialize_thumbnail_failed", "src", thumbSrc, "error", err)
				}
			}
		}
	}
}

func placeFile(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
