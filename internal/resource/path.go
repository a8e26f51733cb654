package resource

import (
	"fmt"
	"path/filepath"
	"strings"
)

// sanitizedReplacer strips the characters that are unsafe in file names
// on at least one supported platform.
var sanitizedReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFileName(name string) string {
	if name == "" {
		name = "file"
	}
	return sanitizedReplacer.Replace(name)
}

func typeDir(t Type) string {
	switch t {
	case TypeImage:
		return "images"
	case TypeVideo:
		return "videos"
	case TypeAudio:
		return "audios"
	default:
		return "files"
	}
}

// destPath builds the content-addressed location
// storageRoot/{images|videos|audios|files}/<md5>_<sanitizedFileName>.
func destPath(storageRoot string, info Info) string {
	name := sanitizeFileName(info.FileName)
	prefix := info.MD5
	if prefix == "" {
		prefix = "nomd5"
	}
	return filepath.Join(storageRoot, typeDir(info.Type), fmt.Sprintf("%s_%s", prefix, name))
}
