// Package parse transforms raw upstream messages into the normalized
// ParsedMessage model: text/HTML rendering per element, reply resolution
// via an LRU index, and display-name resolution.
package parse

import (
	"strconv"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// Sender is the resolved identity of a message's author.
type Sender struct {
	UID         string `json:"uid"`
	Uin         string `json:"uin,omitempty"`
	DisplayName string `json:"displayName"`
	Nickname    string `json:"nickname,omitempty"`
	GroupCard   string `json:"groupCard,omitempty"`
	Remark      string `json:"remark,omitempty"`
}

// Receiver identifies the chat the message was delivered into.
type Receiver struct {
	UID  string            `json:"uid"`
	Type upstream.ChatType `json:"type"`
}

// Mention is a single @-mention found in a text element.
type Mention struct {
	Type upstream.AtType `json:"type"`
	UID  string          `json:"uid,omitempty"`
}

// Reply is the resolved (or unresolved) quoted-message reference.
type Reply struct {
	MessageID           string  `json:"messageId"`
	ReferencedMessageID *string `json:"referencedMessageId"`
	SenderName          string  `json:"senderName"`
	Content             string  `json:"content"`
}

// ResourceRef is the minimal media descriptor a parsed message carries;
// internal/resource turns these into fully tracked ResourceInfo records.
type ResourceRef struct {
	Type        string `json:"type"` // image, video, audio, file
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MimeType    string `json:"mimeType,omitempty"`
	MD5         string `json:"md5,omitempty"`
	OriginalURL string `json:"originalUrl,omitempty"`
	ElementID   string `json:"elementId,omitempty"`
	LocalPath   string `json:"localPath,omitempty"`
}

// ResourceIdentity is the dedup/lookup key shared with internal/resource's
// ResourceInfo.Identity: MD5 when known, else a type/name/size composite.
func ResourceIdentity(ref ResourceRef) string {
	if ref.MD5 != "" {
		return ref.MD5
	}
	return ref.Type + ":" + ref.FileName + ":" + strconv.FormatInt(ref.FileSize, 10)
}

// ResourceTextToken and ResourceHTMLMarker are the placeholders renderMedia
// embeds in Content.Text/HTML for a resource whose final local path is not
// yet known at parse time. internal/export's UpdateResourcePaths replaces
// them once downloads complete, satisfying the "text/html must reflect the
// resolved local path" requirement without re-rendering from raw elements.
func ResourceTextToken(identity string) string {
	return "⦃RES:" + identity + "⦄"
}

func ResourceHTMLMarker(identity string) string {
	return "<!--RES:" + identity + "-->"
}

// Location is a geographic share element.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Card is an unparsed ark-card JSON payload, kept verbatim.
type Card struct {
	Raw string `json:"raw"`
}

// MultiForward is an unparsed multi-forward payload, kept verbatim.
type MultiForward struct {
	Raw string `json:"raw"`
}

// Calendar is an unparsed calendar-invite payload, kept verbatim.
type Calendar struct {
	Raw string `json:"raw"`
}

// Special marks an element the parser could not fully interpret — either
// an unknown upstream tag or an element-level parse failure — so nothing
// is silently dropped.
type Special struct {
	Type   string `json:"type"`
	Detail string `json:"detail,omitempty"`
}

// Content is the rendered body of a message.
type Content struct {
	Text         string        `json:"text"`
	HTML         string        `json:"html,omitempty"`
	Raw          string        `json:"raw,omitempty"`
	Mentions     []Mention     `json:"mentions,omitempty"`
	Reply        *Reply        `json:"reply,omitempty"`
	Resources    []ResourceRef `json:"resources,omitempty"`
	Emojis       []string      `json:"emojis,omitempty"`
	Location     *Location     `json:"location,omitempty"`
	Card         *Card         `json:"card,omitempty"`
	MultiForward *MultiForward `json:"multiForward,omitempty"`
	Calendar     *Calendar     `json:"calendar,omitempty"`
	Special      []Special     `json:"special,omitempty"`
}

// Stats carries per-message parsing diagnostics.
type Stats struct {
	ElementCount     int   `json:"elementCount"`
	ResourceCount    int   `json:"resourceCount"`
	TextLength       int   `json:"textLength"`
	ProcessingMillis int64 `json:"processingMillis"`
}

// ParsedMessage is the normalized output of Parse.
type ParsedMessage struct {
	MessageID   string   `json:"messageId"`
	MessageSeq  string   `json:"messageSeq"`
	Timestamp   int64    `json:"timestamp"`
	Sender      Sender   `json:"sender"`
	Receiver    Receiver `json:"receiver"`
	MessageType string   `json:"messageType"`
	IsSystem    bool     `json:"isSystem"`
	IsRecalled  bool     `json:"isRecalled"`
	IsTemp      bool     `json:"isTemp"`
	Content     Content  `json:"content"`
	Stats       Stats    `json:"stats"`
	RawRef      string   `json:"rawRef,omitempty"`
}

// resolveDisplayName picks the first non-empty of groupCard → remark →
// nickname → uin → uid, falling back to "unknown".
func resolveDisplayName(groupCard, remark, nickname, uin, uid string) string {
	switch {
	case groupCard != "":
		return groupCard
	case remark != "":
		return remark
	case nickname != "":
		return nickname
	case uin != "":
		return uin
	case uid != "":
		return uid
	default:
		return "unknown"
	}
}
