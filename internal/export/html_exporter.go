package export

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
)

// htmlDocTemplate is a self-contained document: no external stylesheet or
// script fetch, so it renders correctly offline once resources are
// downloaded.
var htmlDocTemplate = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Chat.Name}} export</title>
<style>
body { font-family: -apple-system, sans-serif; max-width: 860px; margin: 2rem auto; color: #1a1a1a; }
header { border-bottom: 1px solid #ddd; margin-bottom: 1rem; padding-bottom: 1rem; }
.msg { padding: 0.4rem 0; border-bottom: 1px solid #f0f0f0; }
.msg .meta { color: #888; font-size: 0.85rem; }
.msg .name { font-weight: 600; }
.resource img { max-width: 320px; border-radius: 4px; }
.resource-missing { color: #c0392b; font-style: italic; }
blockquote { margin: 0.2rem 0; padding-left: 0.6rem; border-left: 3px solid #ccc; color: #555; }
</style>
</head>
<body>
<header>
<h1>{{.Chat.Name}}</h1>
<p>{{.Counts.Total}} messages · generated {{.GeneratedAtFmt}} · {{.SizeHint}}</p>
</header>
{{range .Messages}}<div class="msg{{if .IsSystem}} system{{end}}">
<div class="meta"><span class="name">{{.Sender.DisplayName}}</span> — {{.TimeFmt}}</div>
<div class="body">{{.HTML}}</div>
</div>
{{end}}
</body>
</html>
`))

type htmlMessageView struct {
	Sender   parse.Sender
	IsSystem bool
	TimeFmt  string
	HTML     template.HTML
}

type htmlDocView struct {
	Chat           ChatInfo
	Counts         Counts
	GeneratedAtFmt string
	SizeHint       string
	Messages       []htmlMessageView
}

// HTMLExporter renders a self-contained HTML document. It buffers the full
// message set in memory: by the time export runs, the orchestrator has
// already materialized the whole batch for UpdateResourcePaths, so this
// does not add a second unbounded buffer.
type HTMLExporter struct{}

func (e *HTMLExporter) Export(ctx context.Context, dir string, meta Meta, opts Options, batches <-chan []*parse.ParsedMessage) (string, int64, error) {
	var views []htmlMessageView
	err := forEachMessage(ctx, batches, opts.IncludeSystemMessages, func(msg *parse.ParsedMessage) error {
		views = append(views, htmlMessageView{
			Sender:   msg.Sender,
			IsSystem: msg.IsSystem,
			TimeFmt:  time.UnixMilli(msg.Timestamp).Local().Format("2006-01-02 15:04:05"),
			HTML:     template.HTML(msg.Content.HTML),
		})
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("export: collect messages: %w", err)
	}

	path := filepath.Join(dir, FileName(meta.Chat.Name, meta.GeneratedAt.UnixMilli(), FormatHTML))
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("export: create html file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmp) // no-op once renamed

	view := htmlDocView{
		Chat:           meta.Chat,
		Counts:         meta.Counts,
		GeneratedAtFmt: meta.GeneratedAt.Local().Format("2006-01-02 15:04:05"),
		SizeHint:       humanize.Comma(int64(len(views))) + " rendered",
		Messages:       views,
	}
	if err := htmlDocTemplate.Execute(f, view); err != nil {
		return "", 0, fmt.Errorf("export: render html template: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("export: close html file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", 0, fmt.Errorf("export: publish html file: %w", err)
	}
	return path, st.Size(), nil
}
