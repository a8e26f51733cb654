package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

func sampleMeta() Meta {
	return Meta{
		Version:     "1",
		GeneratedAt: time.UnixMilli(1_700_000_000_000),
		Chat:        ChatInfo{Name: "Test/Group", Type: string(upstream.ChatTypeGroup)},
		Counts:      Counts{Total: 2, Success: 2},
	}
}

func sendBatches(t *testing.T, msgs ...[]*parse.ParsedMessage) <-chan []*parse.ParsedMessage {
	t.Helper()
	ch := make(chan []*parse.ParsedMessage, len(msgs))
	for _, b := range msgs {
		ch <- b
	}
	close(ch)
	return ch
}

func TestFileNameSanitizesChatName(t *testing.T) {
	require.Equal(t, "Test_Group_1700000000000.json", FileName("Test/Group", 1_700_000_000_000, FormatJSON))
}

func TestResourceRelPathUsesContentAddressedLayout(t *testing.T) {
	require.Equal(t, "resources/images/abc123_photo.jpg", ResourceRelPath("image", "abc123", "photo.jpg"))
}

func TestJSONExporterStreamsMetaAndMessages(t *testing.T) {
	dir := t.TempDir()
	p := parse.New()
	m1 := p.Parse(upstream.RawMessage{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hi"}}})

	e := &JSONExporter{}
	path, size, err := e.Export(context.Background(), dir, sampleMeta(), Options{}, sendBatches(t, []*parse.ParsedMessage{m1}))
	require.NoError(t, err)
	require.Greater(t, size, int64(0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded struct {
		Meta     Meta              `json:"meta"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "1", decoded.Meta.Version)
	require.Len(t, decoded.Messages, 1)
}

func TestJSONExporterSkipsSystemMessagesByDefault(t *testing.T) {
	dir := t.TempDir()
	p := parse.New()
	sysMsg := p.Parse(upstream.RawMessage{MsgID: "s1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "gray-tip",
		Elements: []upstream.MessageElement{{Type: upstream.ElementGrayTip, SystemText: "recalled"}}})

	e := &JSONExporter{}
	path, _, err := e.Export(context.Background(), dir, sampleMeta(), Options{IncludeSystemMessages: false}, sendBatches(t, []*parse.ParsedMessage{sysMsg}))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"messages":[]`)
}

func TestTXTExporterWritesDateHeaderAndLine(t *testing.T) {
	dir := t.TempDir()
	p := parse.New()
	m1 := p.Parse(upstream.RawMessage{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hello"}}})

	e := &TXTExporter{}
	path, _, err := e.Export(context.Background(), dir, sampleMeta(), Options{}, sendBatches(t, []*parse.ParsedMessage{m1}))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "=== "))
	require.Contains(t, string(data), ": hello")
}

func TestUpdateResourcePathsRewritesDownloadedResource(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "photo.png")
	writeOnePixelPNG(t, imgPath)

	p := parse.New()
	msg := p.Parse(upstream.RawMessage{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementPicture, FileName: "photo.png", MD5: "abc123"}}})

	require.Contains(t, msg.Content.Text, "⦃RES:abc123⦄")
	require.Contains(t, msg.Content.HTML, "<!--RES:abc123-->")

	info := &resource.Info{Type: resource.TypeImage, FileName: "photo.png", MD5: "abc123", LocalPath: imgPath, Status: resource.StatusDownloaded}
	UpdateResourcePaths([]*parse.ParsedMessage{msg}, map[string][]*resource.Info{"m1": {info}})

	require.NotContains(t, msg.Content.Text, "⦃RES:")
	require.NotContains(t, msg.Content.HTML, "<!--RES:")
	require.Contains(t, msg.Content.Text, "resources/images/abc123_photo.png")
	require.Contains(t, msg.Content.HTML, "<img")
	require.Equal(t, "resources/images/abc123_photo.png", msg.Content.Resources[0].LocalPath)
}

func TestUpdateResourcePathsMarksMissingResourceUnavailable(t *testing.T) {
	p := parse.New()
	msg := p.Parse(upstream.RawMessage{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementFile, FileName: "report.pdf", MD5: "def456"}}})

	UpdateResourcePaths([]*parse.ParsedMessage{msg}, map[string][]*resource.Info{})

	require.Contains(t, msg.Content.Text, "(unavailable)")
	require.Contains(t, msg.Content.HTML, "resource-missing")
	require.Empty(t, msg.Content.Resources[0].LocalPath)
}

func TestHTMLExporterEmbedsRenderedFragment(t *testing.T) {
	dir := t.TempDir()
	p := parse.New()
	msg := p.Parse(upstream.RawMessage{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hello"}}})

	e := &HTMLExporter{}
	path, size, err := e.Export(context.Background(), dir, sampleMeta(), Options{}, sendBatches(t, []*parse.ParsedMessage{msg}))
	require.NoError(t, err)
	require.Greater(t, size, int64(0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
	require.Contains(t, string(data), "<!DOCTYPE html>")
}

// writeOnePixelPNG writes a minimal valid PNG so validateImage/EnsureThumbnail
// can decode it.
func writeOnePixelPNG(t *testing.T, path string) {
	t.Helper()
	const onePixelPNG = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89\x00\x00\x00\nIDATx\x9cc\x00\x01\x00\x00\x05\x00\x01\r\n-\xb4\x00\x00\x00\x00IEND\xaeB`\x82"
	require.NoError(t, os.WriteFile(path, []byte(onePixelPNG), 0o644))
}

func TestTXTExporterWritesChronologicallyFromNewestFirstInput(t *testing.T) {
	dir := t.TempDir()
	p := parse.New()
	// Upstream delivery order is newest-first; the transcript must still
	// read oldest-first.
	newest := p.Parse(upstream.RawMessage{MsgID: "m3", MsgSeq: "102", MsgTime: "1700000030", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "third"}}})
	middle := p.Parse(upstream.RawMessage{MsgID: "m2", MsgSeq: "101", MsgTime: "1700000020", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "second"}}})
	oldest := p.Parse(upstream.RawMessage{MsgID: "m1", MsgSeq: "100", MsgTime: "1700000010", SenderUID: "u1", MsgType: "text",
		Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "first"}}})

	e := &TXTExporter{}
	path, _, err := e.Export(context.Background(), dir, sampleMeta(), Options{}, sendBatches(t, []*parse.ParsedMessage{newest, middle, oldest}))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	first := strings.Index(text, ": first")
	second := strings.Index(text, ": second")
	third := strings.Index(text, ": third")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
	require.Greater(t, third, second)
}
