package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
)

// JSONExporter streams {meta, messages[]} to disk one message at a time, so
// peak memory is O(batch) rather than O(export).
type JSONExporter struct{}

func (e *JSONExporter) Export(ctx context.Context, dir string, meta Meta, opts Options, batches <-chan []*parse.ParsedMessage) (string, int64, error) {
	path := filepath.Join(dir, FileName(meta.Chat.Name, meta.GeneratedAt.UnixMilli(), FormatJSON))
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("export: create json file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmp) // no-op once renamed

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(`{"meta":`); err != nil {
		return "", 0, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", 0, fmt.Errorf("export: marshal meta: %w", err)
	}
	if _, err := w.Write(metaJSON); err != nil {
		return "", 0, err
	}
	if _, err := w.WriteString(`,"messages":[`); err != nil {
		return "", 0, err
	}

	enc := json.NewEncoder(w)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}

	first := true
	writeErr := forEachMessage(ctx, batches, opts.IncludeSystemMessages, func(msg *parse.ParsedMessage) error {
		if !first {
			if _, err := w.WriteString(","); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(msg)
	})
	if writeErr != nil {
		return "", 0, fmt.Errorf("export: write message: %w", writeErr)
	}

	if _, err := w.WriteString("]}"); err != nil {
		return "", 0, err
	}
	if err := w.Flush(); err != nil {
		return "", 0, fmt.Errorf("export: flush json file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("export: close json file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", 0, fmt.Errorf("export: publish json file: %w", err)
	}
	return path, st.Size(), nil
}
