// Package resource implements the content-addressed media store: a
// bounded-concurrency downloader with a priority queue, a circuit breaker
// per Handler instance, and health-check/cache-cleanup maintenance.
package resource

import (
	"fmt"
	"time"
)

// Type enumerates the media kinds tracked by a ResourceInfo.
type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
	TypeFile  Type = "file"
)

// Status is the lifecycle state of a resource on disk.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusFailed      Status = "failed"
)

// Info is the persisted record for one media resource. Identity is MD5
// when present, else (Type, FileName, FileSize).
type Info struct {
	Type             Type      `json:"type"`
	FileName         string    `json:"fileName"`
	FileSize         int64     `json:"fileSize"`
	MimeType         string    `json:"mimeType,omitempty"`
	MD5              string    `json:"md5,omitempty"`
	OriginalURL      string    `json:"originalUrl,omitempty"`
	LocalPath        string    `json:"localPath,omitempty"`
	Status           Status    `json:"status"`
	Accessible       bool      `json:"accessible"`
	CheckedAt        time.Time `json:"checkedAt"`
	DownloadAttempts int       `json:"downloadAttempts"`
	LastError        string    `json:"lastError,omitempty"`

	// Source identifies where the Handler learned of this resource, so a
	// download task can be reconstructed without the original message.
	MsgID     string `json:"msgId"`
	ChatType  string `json:"chatType"`
	PeerUID   string `json:"peerUid"`
	ElementID string `json:"elementId"`
}

// Identity returns the resource's dedup key: MD5 when known, else a
// composite of type/name/size.
func (i Info) Identity() string {
	if i.MD5 != "" {
		return i.MD5
	}
	return fmt.Sprintf("%s:%s:%d", i.Type, i.FileName, i.FileSize)
}

// priority is a type weight plus a small-file bonus, favoring quick wins
// for the download queue.
func (i Info) priority() int {
	p := 0
	switch i.Type {
	case TypeImage:
		p += 100
	case TypeAudio:
		p += 50
	case TypeVideo:
		p += 30
	case TypeFile:
		p += 10
	}
	switch {
	case i.FileSize > 0 && i.FileSize < 1<<20:
		p += 20
	case i.FileSize > 0 && i.FileSize < 10<<20:
		p += 10
	}
	return p
}

// Classified last-error strings recorded when retries are exhausted.
const (
	ErrEmptyPath             = "empty-path"
	ErrEmptyFile             = "empty-file"
	ErrNotAtExpectedLocation = "not-at-expected-location"
	ErrTimeout               = "timeout"
	ErrCircuitOpen           = "circuit-open"
	ErrOther                 = "other"
)
