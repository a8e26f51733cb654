package parse

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// replyPreviewChars bounds how much of a referenced message is echoed into
// a Reply.Content synthesis.
const replyPreviewChars = 200

// escapeHTML scans once for characters that need escaping and only builds
// a new string when one is actually present.
func escapeHTML(s string) string {
	if !strings.ContainsAny(s, "&<>\"'") {
		return s
	}
	return html.EscapeString(s)
}

// renderElementsToText renders a full element slice as plain text, cut to
// replyPreviewChars, for reply-content synthesis.
func renderElementsToText(elements []upstream.MessageElement) string {
	var b strings.Builder
	for i, el := range elements {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(renderElementText(el))
	}
	out := b.String()
	if len(out) > replyPreviewChars {
		cut := replyPreviewChars
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "…"
	}
	return out
}

// renderElementText renders a single element's plain-text form.
func renderElementText(el upstream.MessageElement) string {
	switch el.Type {
	case upstream.ElementText:
		return el.Text
	case upstream.ElementPicture:
		return "[picture]"
	case upstream.ElementFile:
		return fmt.Sprintf("[file: %s]", el.FileName)
	case upstream.ElementVideo:
		return "[video]"
	case upstream.ElementVoice:
		return "[voice]"
	case upstream.ElementFace:
		return fmt.Sprintf("[face: %s]", faceLabel(el))
	case upstream.ElementMarketFace:
		return fmt.Sprintf("[sticker: %s]", faceLabel(el))
	case upstream.ElementReply:
		return "[reply]"
	case upstream.ElementArkCard:
		return "[card]"
	case upstream.ElementMultiFwd:
		return "[forwarded messages]"
	case upstream.ElementLocation:
		if el.Address != "" {
			return fmt.Sprintf("[location: %s]", el.Address)
		}
		return "[location]"
	case upstream.ElementGrayTip:
		return el.SystemText
	case upstream.ElementMarkdown:
		return el.Text
	case upstream.ElementCalendar:
		return "[calendar invite]"
	default:
		return "[unknown element]"
	}
}

func faceLabel(el upstream.MessageElement) string {
	if el.FaceName != "" {
		return el.FaceName
	}
	return el.FaceID
}

// elementRenderer is the per-variant output of rendering one element: its
// text and HTML fragments. Structured side-effects (mentions, resources,
// emojis, special markers) are written into content by the render function
// itself.
type elementRenderer struct {
	text string
	html string
}

// renderElement dispatches on el.Type and folds the result into content.
// m is only used by ElementReply for reply resolution.
func (p *Parser) renderElement(content *Content, m upstream.RawMessage, el upstream.MessageElement) elementRenderer {
	switch el.Type {
	case upstream.ElementText:
		return p.renderText(content, el)
	case upstream.ElementPicture:
		return p.renderMedia(content, el, "image", "🖼")
	case upstream.ElementFile:
		return p.renderMedia(content, el, "file", "📎")
	case upstream.ElementVideo:
		return p.renderMedia(content, el, "video", "🎬")
	case upstream.ElementVoice:
		return p.renderMedia(content, el, "audio", "🎤")
	case upstream.ElementFace:
		return p.renderFace(content, el, false)
	case upstream.ElementMarketFace:
		return p.renderFace(content, el, true)
	case upstream.ElementReply:
		return p.renderReply(content, m, el)
	case upstream.ElementArkCard:
		return p.renderArkCard(content, el)
	case upstream.ElementMultiFwd:
		return p.renderMultiForward(content, el)
	case upstream.ElementLocation:
		return p.renderLocation(content, el)
	case upstream.ElementGrayTip:
		return p.renderGrayTip(content, el)
	case upstream.ElementMarkdown:
		return p.renderMarkdown(content, el)
	case upstream.ElementCalendar:
		return p.renderCalendar(content, el)
	default:
		return p.renderUnknown(content, el)
	}
}

func (p *Parser) renderText(content *Content, el upstream.MessageElement) elementRenderer {
	if el.AtType != upstream.AtNone && el.AtType != "" {
		content.Mentions = append(content.Mentions, Mention{Type: el.AtType, UID: el.AtUID})
	}
	return elementRenderer{text: el.Text, html: "<span>" + escapeHTML(el.Text) + "</span>"}
}

func (p *Parser) renderMedia(content *Content, el upstream.MessageElement, kind, glyph string) elementRenderer {
	ref := ResourceRef{
		Type:        kind,
		FileName:    el.FileName,
		FileSize:    el.FileSize,
		MD5:         el.MD5,
		OriginalURL: el.OriginalURL,
		ElementID:   el.ElementID,
		LocalPath:   el.LocalPath,
	}
	content.Resources = append(content.Resources, ref)

	identity := ResourceIdentity(ref)
	label := el.FileName
	if label == "" {
		label = kind
	}
	caption := fmt.Sprintf("[%s %s]", glyph, label)
	text := caption + ResourceTextToken(identity)
	htmlBody := fmt.Sprintf(`<span class="resource resource-%s" data-resource=%q>%s%s</span>`,
		kind, identity, escapeHTML(caption), ResourceHTMLMarker(identity))
	return elementRenderer{text: text, html: htmlBody}
}

func (p *Parser) renderFace(content *Content, el upstream.MessageElement, market bool) elementRenderer {
	label := faceLabel(el)
	content.Emojis = append(content.Emojis, label)
	cls := "face"
	if market {
		cls = "market-face"
	}
	text := "[" + label + "]"
	return elementRenderer{
		text: text,
		html: fmt.Sprintf(`<span class="%s">%s</span>`, cls, escapeHTML(text)),
	}
}

func (p *Parser) renderReply(content *Content, m upstream.RawMessage, el upstream.MessageElement) elementRenderer {
	reply := p.replies.resolveReply(m, el)
	content.Reply = &reply
	text := fmt.Sprintf("[reply to %s: %s]", reply.SenderName, reply.Content)
	return elementRenderer{text: text, html: "<blockquote>" + escapeHTML(text) + "</blockquote>"}
}

func (p *Parser) renderArkCard(content *Content, el upstream.MessageElement) elementRenderer {
	content.Card = &Card{Raw: el.RawPayload}
	return elementRenderer{text: "[card]", html: "<div class=\"card\">[card]</div>"}
}

func (p *Parser) renderMultiForward(content *Content, el upstream.MessageElement) elementRenderer {
	content.MultiForward = &MultiForward{Raw: el.RawPayload}
	return elementRenderer{text: "[forwarded messages]", html: "<div class=\"forward\">[forwarded messages]</div>"}
}

func (p *Parser) renderLocation(content *Content, el upstream.MessageElement) elementRenderer {
	content.Location = &Location{Latitude: el.Latitude, Longitude: el.Longitude, Address: el.Address}
	text := renderElementText(el)
	return elementRenderer{text: text, html: "<span class=\"location\">" + escapeHTML(text) + "</span>"}
}

func (p *Parser) renderGrayTip(content *Content, el upstream.MessageElement) elementRenderer {
	return elementRenderer{text: el.SystemText, html: "<em class=\"system\">" + escapeHTML(el.SystemText) + "</em>"}
}

func (p *Parser) renderMarkdown(content *Content, el upstream.MessageElement) elementRenderer {
	return elementRenderer{text: el.Text, html: "<pre class=\"markdown\">" + escapeHTML(el.Text) + "</pre>"}
}

func (p *Parser) renderCalendar(content *Content, el upstream.MessageElement) elementRenderer {
	content.Calendar = &Calendar{Raw: el.RawPayload}
	return elementRenderer{text: "[calendar invite]", html: "<div class=\"calendar\">[calendar invite]</div>"}
}

func (p *Parser) renderUnknown(content *Content, el upstream.MessageElement) elementRenderer {
	content.Special = append(content.Special, Special{Type: "unknown_" + string(el.Type), Detail: rawPreview(el.Raw)})
	return elementRenderer{text: "[unknown element]", html: "<span class=\"unknown\">[unknown element]</span>"}
}

func rawPreview(raw map[string]any) string {
	if len(raw) == 0 {
		return ""
	}
	var b strings.Builder
	n := 0
	for k := range raw {
		if n > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		n++
		if n >= 5 {
			break
		}
	}
	return b.String()
}
