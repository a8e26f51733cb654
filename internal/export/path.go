package export

import (
	"fmt"
	"strings"
)

// sanitizedReplacer mirrors internal/resource's file-naming rule; duplicated
// rather than imported so export's naming doesn't depend on resource's
// internals, matching internal/parse's standalone promoteTimestamp.
var sanitizedReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

func sanitize(name string) string {
	if name == "" {
		return "file"
	}
	return sanitizedReplacer.Replace(name)
}

// FileName builds the artifact name
// <sanitizedChatName>_<unixMillis>.{json|txt|html}.
func FileName(chatName string, unixMillis int64, format Format) string {
	return fmt.Sprintf("%s_%d.%s", sanitize(chatName), unixMillis, format)
}

// ResourceRelPath is the resource location relative to the export file's
// directory: resources/<type>s/<md5>_<sanitizedName>.
func ResourceRelPath(resourceType, md5, fileName string) string {
	prefix := md5
	if prefix == "" {
		prefix = "nomd5"
	}
	return fmt.Sprintf("resources/%ss/%s_%s", resourceType, prefix, sanitize(fileName))
}
