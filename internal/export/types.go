// Package export streams parsed messages to JSON, TXT, and HTML artifacts,
// and patches in resource local paths once downloads complete.
package export

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
)

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatHTML Format = "html"
)

// ChatInfo identifies the exported conversation.
type ChatInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// WindowSpec is the requested time range, in unix milliseconds.
type WindowSpec struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
}

// Counts summarizes the exported message set.
type Counts struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Meta is the header object every exporter writes.
type Meta struct {
	Version     string     `json:"version"`
	GeneratedAt time.Time  `json:"generatedAt"`
	Chat        ChatInfo   `json:"chat"`
	Window      WindowSpec `json:"window"`
	Counts      Counts     `json:"counts"`
}

// Options are per-export formatting flags.
type Options struct {
	Pretty                bool
	IncludeSystemMessages bool
}

// Exporter writes one artifact from a stream of parsed-message batches.
type Exporter interface {
	Export(ctx context.Context, dir string, meta Meta, opts Options, batches <-chan []*parse.ParsedMessage) (path string, size int64, err error)
}

// ForFormat returns the Exporter implementing f.
func ForFormat(f Format) Exporter {
	switch f {
	case FormatTXT:
		return &TXTExporter{}
	case FormatHTML:
		return &HTMLExporter{}
	default:
		return &JSONExporter{}
	}
}
