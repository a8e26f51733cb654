package resource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// Config tunes the download pool, circuit breaker, and maintenance
// intervals.
type Config struct {
	StorageRoot             string
	MaxConcurrentDownloads  int
	MaxRetries              int
	DownloadTimeout         time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
	HealthCheckInterval     time.Duration
	CacheCleanupTTL         time.Duration
}

// DefaultConfig returns the stock tuning: 3 concurrent downloads, 3
// retries, 60s download timeout, 5-failure breaker with a 5-minute
// cooldown, 10-minute health scans, 30-day cache TTL.
func DefaultConfig(storageRoot string) Config {
	return Config{
		StorageRoot:             storageRoot,
		MaxConcurrentDownloads:  3,
		MaxRetries:              3,
		DownloadTimeout:         60 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  5 * time.Minute,
		HealthCheckInterval:     10 * time.Minute,
		CacheCleanupTTL:         30 * 24 * time.Hour,
	}
}

// downloader is the narrow slice of upstream.Adapter the Handler needs.
type downloader interface {
	DownloadMedia(ctx context.Context, msgID string, chatType upstream.ChatType, peerUID, elementID, destPath string) (*upstream.DownloadResult, error)
}

// Handler is the resource store + bounded downloader + circuit breaker for
// one export run. A fresh Handler is created per Orchestrator.RunExport so
// breaker state never leaks across exports.
type Handler struct {
	cfg     Config
	adapter downloader
	breaker *CircuitBreaker
	health  *healthCache
	limiter *rate.Limiter

	mu    sync.Mutex
	queue *priorityQueue
}

// New builds a Handler against adapter for a single export run.
func New(adapter downloader, cfg Config) *Handler {
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	return &Handler{
		cfg:     cfg,
		adapter: adapter,
		breaker: NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown),
		health:  newHealthCache(),
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConcurrentDownloads*4), cfg.MaxConcurrentDownloads),
		queue:   newPriorityQueue(),
	}
}

// Breaker exposes the circuit breaker for diagnostics (doctor command).
func (h *Handler) Breaker() *CircuitBreaker { return h.breaker }

// Process discovers every resource referenced by messages, downloads them
// through the bounded worker pool, and returns the final Info for each,
// keyed by the owning message id. Download failures never abort Process;
// each affected resource is simply recorded as failed.
func (h *Handler) Process(ctx context.Context, ref upstream.ChatRef, messages []*parse.ParsedMessage) (map[string][]*Info, error) {
	result := make(map[string][]*Info)
	seen := make(map[string]*Info) // dedup across the batch by identity

	var resultMu sync.Mutex

	enqueue := func(msg *parse.ParsedMessage, rr parse.ResourceRef) (*Info, bool) {
		info := &Info{
			Type:        Type(rr.Type),
			FileName:    rr.FileName,
			FileSize:    rr.FileSize,
			MimeType:    rr.MimeType,
			MD5:         rr.MD5,
			OriginalURL: rr.OriginalURL,
			LocalPath:   rr.LocalPath, // element-local source, fallback (3)
			Status:      StatusPending,
			MsgID:       msg.MessageID,
			ChatType:    string(ref.ChatType),
			PeerUID:     ref.PeerUID,
			ElementID:   rr.ElementID,
		}
		key := info.Identity()
		resultMu.Lock()
		defer resultMu.Unlock()
		if existing, ok := seen[key]; ok {
			return existing, false
		}
		seen[key] = info
		return info, true
	}

	h.mu.Lock()
	for _, msg := range messages {
		for _, rr := range msg.Content.Resources {
			info, isNew := enqueue(msg, rr)
			if isNew {
				h.queue.pushTail(*info)
			}
			resultMu.Lock()
			result[msg.MessageID] = append(result[msg.MessageID], info)
			resultMu.Unlock()
		}
	}
	h.mu.Unlock()

	if err := h.drain(ctx, seen); err != nil && !errors.Is(err, context.Canceled) {
		return result, err
	}
	return result, nil
}

// drain runs the bounded worker pool until the queue is empty or ctx ends.
func (h *Handler) drain(ctx context.Context, seen map[string]*Info) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < h.cfg.MaxConcurrentDownloads; i++ {
		g.Go(func() error {
			for {
				h.mu.Lock()
				task, ok := h.queue.pop()
				h.mu.Unlock()
				if !ok {
					return nil
				}
				if gctx.Err() != nil {
					return nil
				}
				if err := h.limiter.Wait(gctx); err != nil {
					return nil
				}
				h.attempt(gctx, task, seen)
			}
		})
	}
	return g.Wait()
}

// attempt performs one download try for task, updating the canonical Info
// in seen and requeuing to the head on a retryable failure.
func (h *Handler) attempt(ctx context.Context, task *downloadTask, seen map[string]*Info) {
	identity := task.info.Identity()

	final := seen[identity]
	final.Status = StatusDownloading
	final.DownloadAttempts = task.attempts + 1

	if err := h.breaker.Allow(); err != nil {
		h.failOrRetry(task, seen, ErrCircuitOpen)
		return
	}

	path, derr := h.downloadOne(ctx, task.info)
	if derr == nil {
		final.LocalPath = path
		// Decode failures are advisory: formats without a registered
		// decoder would otherwise read as corrupt downloads.
		if verr := validateImage(*final); verr != nil {
			slog.Warn("resource.image_validation_failed", "file", final.FileName, "error", verr)
		}
	}
	if derr != nil {
		h.breaker.RecordFailure()
		h.failOrRetry(task, seen, classifyError(derr))
		return
	}

	h.breaker.RecordSuccess()
	final.Status = StatusDownloaded
	final.Accessible = h.health.checkHealth(*final)
	final.CheckedAt = time.Now()
	final.LastError = ""
}

func (h *Handler) failOrRetry(task *downloadTask, seen map[string]*Info, classified string) {
	final := seen[task.info.Identity()]
	task.attempts++
	if task.attempts < h.cfg.MaxRetries {
		h.mu.Lock()
		h.queue.pushHead(task)
		h.mu.Unlock()
		return
	}
	final.Status = StatusFailed
	final.Accessible = false
	final.LastError = classified
	final.CheckedAt = time.Now()
}

// downloadOne runs the fallback chain: (1) the API-returned path,
// (2) the pre-computed destination if already present, (3) an
// element-local source path copied in. A non-empty, existing final file is
// required for success.
func (h *Handler) downloadOne(ctx context.Context, info Info) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.DownloadTimeout)
	defer cancel()

	dest := destPath(h.cfg.StorageRoot, info)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir: %v", errOther, err)
	}

	result, err := h.adapter.DownloadMedia(ctx, info.MsgID, upstream.ChatType(info.ChatType), info.PeerUID, info.ElementID, dest)
	if ctx.Err() != nil {
		return "", errTimeout
	}

	if err == nil && result != nil && result.Path != "" {
		if nonEmptyFile(result.Path) {
			return result.Path, nil
		}
	}

	if nonEmptyFile(dest) {
		return dest, nil
	}

	if info.LocalPath != "" && nonEmptyFile(info.LocalPath) {
		if copyErr := copyFile(info.LocalPath, dest); copyErr == nil && nonEmptyFile(dest) {
			return dest, nil
		}
		return "", errNotAtExpectedLocation
	}

	if err != nil {
		return "", err
	}
	return "", errEmptyPath
}

func nonEmptyFile(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && st.Size() > 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

var (
	errEmptyPath             = errors.New(ErrEmptyPath)
	errEmptyFile             = errors.New(ErrEmptyFile)
	errNotAtExpectedLocation = errors.New(ErrNotAtExpectedLocation)
	errTimeout               = errors.New(ErrTimeout)
	errOther                 = errors.New(ErrOther)
)

func classifyError(err error) string {
	switch {
	case errors.Is(err, errEmptyPath):
		return ErrEmptyPath
	case errors.Is(err, errEmptyFile):
		return ErrEmptyFile
	case errors.Is(err, errNotAtExpectedLocation):
		return ErrNotAtExpectedLocation
	case errors.Is(err, errTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, upstream.ErrRateLimited), errors.Is(err, upstream.ErrTransientNetwork):
		return ErrTimeout
	default:
		return ErrOther
	}
}

// RunHealthScan re-checks every downloaded resource and demotes any that
// now fail to failed, emitting no user-facing error.
func (h *Handler) RunHealthScan(resources []*Info) {
	for _, r := range resources {
		if r.Status != StatusDownloaded {
			continue
		}
		if h.health.checkHealth(*r) {
			r.Accessible = true
		} else {
			r.Status = StatusFailed
			r.Accessible = false
			r.LastError = ErrNotAtExpectedLocation
			slog.Warn("resource.health_check_demoted", "md5", r.MD5, "path", r.LocalPath)
		}
		r.CheckedAt = time.Now()
	}
}

// DueForCleanup reports resources eligible for the opt-in TTL cleanup:
// older than CacheCleanupTTL and not in referencedKeys.
func (h *Handler) DueForCleanup(resources []*Info, referencedKeys map[string]bool, now time.Time) []*Info {
	var due []*Info
	for _, r := range resources {
		if referencedKeys[r.Identity()] {
			continue
		}
		if now.Sub(r.CheckedAt) >= h.cfg.CacheCleanupTTL {
			due = append(due, r)
		}
	}
	return due
}
