package export

import (
	"fmt"
	"html"
	"log/slog"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
)

// UpdateResourcePaths patches every message's Content.Resources,
// Content.Text, and Content.HTML with the final, export-relative location
// of each downloaded resource (or an "unavailable" marker for resources
// that never downloaded), so both renderings reflect the resolved local
// path before serialization.
//
// resourcesByMsg is the map produced by resource.Handler.Process, keyed by
// ParsedMessage.MessageID.
func UpdateResourcePaths(messages []*parse.ParsedMessage, resourcesByMsg map[string][]*resource.Info) {
	for _, msg := range messages {
		infos := resourcesByMsg[msg.MessageID]
		for i := range msg.Content.Resources {
			ref := &msg.Content.Resources[i]
			identity := parse.ResourceIdentity(*ref)
			info := findResourceInfo(infos, identity)

			textToken := parse.ResourceTextToken(identity)
			htmlMarker := parse.ResourceHTMLMarker(identity)

			var textSuffix, htmlTag string
			if info != nil && info.Status == resource.StatusDownloaded {
				rel := ResourceRelPath(string(info.Type), info.MD5, info.FileName)
				ref.LocalPath = rel
				textSuffix = fmt.Sprintf(" (%s)", rel)
				htmlTag = renderResourceTag(info, rel)
			} else {
				ref.LocalPath = ""
				textSuffix = " (unavailable)"
				htmlTag = `<span class="resource-missing">[unavailable]</span>`
			}

			msg.Content.Text = strings.Replace(msg.Content.Text, textToken, textSuffix, 1)
			msg.Content.HTML = strings.Replace(msg.Content.HTML, htmlMarker, htmlTag, 1)
		}
	}
}

func findResourceInfo(infos []*resource.Info, identity string) *resource.Info {
	for _, info := range infos {
		if info.Identity() == identity {
			return info
		}
	}
	return nil
}

// renderResourceTag builds the inline HTML fragment for a resolved
// resource, generating a thumbnail for images via internal/resource's
// imaging-backed helper.
func renderResourceTag(info *resource.Info, rel string) string {
	name := html.EscapeString(info.FileName)
	switch info.Type {
	case resource.TypeImage:
		thumbRel := rel
		if thumb, err := resource.EnsureThumbnail(*info); err == nil && thumb != "" {
			thumbRel = path.Join(path.Dir(rel), "thumb_"+path.Base(rel))
		} else if err != nil {
			slog.Warn("export.thumbnail_failed", "file", info.FileName, "error", err)
		}
		return fmt.Sprintf(`<a href=%q><img src=%q loading="lazy" alt=%q></a>`, rel, thumbRel, name)
	case resource.TypeVideo:
		return fmt.Sprintf(`<video controls src=%q></video>`, rel)
	case resource.TypeAudio:
		return fmt.Sprintf(`<audio controls src=%q></audio>`, rel)
	default:
		return fmt.Sprintf(`<a href=%q download>%s (%s)</a>`, rel, name, humanize.Bytes(uint64(info.FileSize)))
	}
}
