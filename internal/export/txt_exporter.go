package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
)

// TXTExporter renders one line per message: "HH:MM:SS NAME: text", with a
// date header whenever the local day changes. Unlike JSON/HTML, which keep
// upstream (newest-first) order, the text transcript reads top-to-bottom
// chronologically, so messages are sorted ascending by timestamp before
// writing. The full set is already in memory by the time exporters run, so
// collecting it here adds no second unbounded buffer.
type TXTExporter struct{}

func (e *TXTExporter) Export(ctx context.Context, dir string, meta Meta, opts Options, batches <-chan []*parse.ParsedMessage) (string, int64, error) {
	var msgs []*parse.ParsedMessage
	collectErr := forEachMessage(ctx, batches, opts.IncludeSystemMessages, func(msg *parse.ParsedMessage) error {
		msgs = append(msgs, msg)
		return nil
	})
	if collectErr != nil {
		return "", 0, fmt.Errorf("export: collect messages: %w", collectErr)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })

	path := filepath.Join(dir, FileName(meta.Chat.Name, meta.GeneratedAt.UnixMilli(), FormatTXT))
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("export: create txt file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmp) // no-op once renamed

	w := bufio.NewWriter(f)
	var lastDate string

	for _, msg := range msgs {
		t := time.UnixMilli(msg.Timestamp).Local()
		date := t.Format("2006-01-02")
		if date != lastDate {
			if lastDate != "" {
				if _, err := w.WriteString("\n"); err != nil {
					return "", 0, fmt.Errorf("export: write message: %w", err)
				}
			}
			if _, err := fmt.Fprintf(w, "=== %s ===\n", date); err != nil {
				return "", 0, fmt.Errorf("export: write message: %w", err)
			}
			lastDate = date
		}
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", t.Format("15:04:05"), msg.Sender.DisplayName, msg.Content.Text); err != nil {
			return "", 0, fmt.Errorf("export: write message: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return "", 0, fmt.Errorf("export: flush txt file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("export: close txt file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", 0, fmt.Errorf("export: publish txt file: %w", err)
	}
	return path, st.Size(), nil
}
