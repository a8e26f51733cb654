// Package orchestrator drives one export end-to-end through the
// init/fetch/parse/download/serialize/finalize phases, emitting WebSocket
// progress events and persisting state through every phase.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/bus"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/export"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/fetch"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/parse"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

// exportMetaVersion is the "version" field stamped into every Meta header.
const exportMetaVersion = "1"

// stallWatchdogInterval is how often waitForAllDownloads logs a non-fatal
// warning while the download phase is still running.
const stallWatchdogInterval = 60 * time.Second

// Orchestrator owns the dependencies every export phase needs: the bridge
// adapter for fetching, the task store for persistence, and the event bus
// for progress broadcast.
type Orchestrator struct {
	adapter     upstream.Adapter
	store       *taskstore.Store
	events      bus.EventPublisher
	resourceCfg resource.Config

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Orchestrator. resourceCfg seeds a fresh resource.Handler
// per export, so circuit-breaker/health-cache state never leaks across
// unrelated tasks.
func New(adapter upstream.Adapter, store *taskstore.Store, events bus.EventPublisher, resourceCfg resource.Config) *Orchestrator {
	return &Orchestrator{
		adapter:     adapter,
		store:       store,
		events:      events,
		resourceCfg: resourceCfg,
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Cancel requests cancellation of a running export. Returns false if the
// task is not currently running under this orchestrator.
func (o *Orchestrator) Cancel(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[taskID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (o *Orchestrator) register(taskID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(taskID string) {
	o.mu.Lock()
	delete(o.cancels, taskID)
	o.mu.Unlock()
}

// RunExport drives task through every phase. opts carries the formatting
// flags (pretty-print, include-system-messages) that are not part of the
// persisted task row. It blocks until the export finishes, fails, or is
// canceled via Cancel.
func (o *Orchestrator) RunExport(ctx context.Context, task *taskstore.ExportTask, opts export.Options) error {
	ctx, cancel := context.WithCancel(ctx)
	o.register(task.TaskID, cancel)
	defer func() {
		cancel()
		o.unregister(task.TaskID)
	}()

	ref := upstream.ChatRef{ChatType: upstream.ChatType(task.ChatType), PeerUID: task.PeerUID}
	formats := strings.Split(task.FormatsCSV, ",")

	state := &taskstore.TaskState{TaskID: task.TaskID, Status: taskstore.TaskStatusRunning}
	now := time.Now()
	state.StartTime = &now
	if err := o.store.UpsertTaskAndState(ctx, task, state); err != nil {
		return fmt.Errorf("orchestrator: persist init state: %w", err)
	}
	o.emit(task.TaskID, taskstore.TaskStatusRunning, 0, "starting export")

	messages, err := o.phaseFetch(ctx, task, ref, state)
	if err != nil {
		return o.fail(ctx, task, state, err)
	}
	if ctx.Err() != nil {
		return o.cancelTask(ctx, task, state)
	}

	parsed := o.phaseParse(ctx, task, messages, state)
	if ctx.Err() != nil {
		return o.cancelTask(ctx, task, state)
	}

	resourcesByMsg := o.phaseDownload(ctx, task, ref, parsed, state)
	export.UpdateResourcePaths(parsed, resourcesByMsg)
	if task.IncludeResLinks && containsFormat(formats, string(export.FormatHTML)) {
		export.MaterializeResources(task.OutputDir, resourcesByMsg)
	}
	if ctx.Err() != nil {
		return o.cancelTask(ctx, task, state)
	}

	results, err := o.phaseSerialize(ctx, task, formats, opts, parsed, state)
	if err != nil {
		if ctx.Err() != nil {
			return o.cancelTask(ctx, task, state)
		}
		return o.fail(ctx, task, state, err)
	}

	return o.finalize(ctx, task, state, results)
}

func (o *Orchestrator) phaseFetch(ctx context.Context, task *taskstore.ExportTask, ref upstream.ChatRef, state *taskstore.TaskState) ([]upstream.RawMessage, error) {
	filter := fetch.Filter{
		Window: fetch.TimeWindow{StartMillis: task.WindowStartMs, EndMillis: task.WindowEndMs},
	}
	if task.BatchSize > 0 {
		filter.BatchSize = task.BatchSize
	}
	if task.TimeoutMs > 0 {
		filter.TimeoutMillis = int(task.TimeoutMs)
	}
	if task.RetryCount > 0 {
		filter.RetryCount = task.RetryCount
	}

	fetcher := fetch.New(o.adapter, ref, filter, 100)

	var buffer []upstream.RawMessage
	batchCount := 0
	for {
		if ctx.Err() != nil {
			return buffer, nil
		}
		batch, ok, err := fetcher.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		if !ok {
			break
		}
		buffer = append(buffer, batch...)
		batchCount++

		progress := batchCount * 10
		if progress > 50 {
			progress = 50
		}
		state.ProgressPct = progress
		state.TotalMsgs = len(buffer)
		o.store.SaveState(state)
		o.emit(task.TaskID, taskstore.TaskStatusRunning, progress, "fetching messages")
	}
	return buffer, nil
}

func (o *Orchestrator) phaseParse(ctx context.Context, task *taskstore.ExportTask, messages []upstream.RawMessage, state *taskstore.TaskState) []*parse.ParsedMessage {
	parser := parse.New()
	parsed := make([]*parse.ParsedMessage, 0, len(messages))

	chunkSize := task.BatchSize
	if chunkSize <= 0 {
		chunkSize = 100
	}

	batches := make(chan []upstream.RawMessage)
	go func() {
		defer close(batches)
		for i := 0; i < len(messages); i += chunkSize {
			end := i + chunkSize
			if end > len(messages) {
				end = len(messages)
			}
			select {
			case batches <- messages[i:end]:
			case <-ctx.Done():
				return
			}
		}
	}()

	var mu sync.Mutex
	_ = parser.ParseStream(ctx, batches, func(pm []*parse.ParsedMessage) {
		mu.Lock()
		parsed = append(parsed, pm...)
		mu.Unlock()
	})

	// Chunks complete in whatever order the pool finishes them; restore
	// upstream delivery order before anything downstream observes the slice.
	order := make(map[string]int, len(messages))
	for i, m := range messages {
		order[m.MsgID] = i
	}
	sort.SliceStable(parsed, func(i, j int) bool {
		return order[parsed[i].MessageID] < order[parsed[j].MessageID]
	})

	state.ProgressPct = 60
	state.ProcessedMsgs = len(parsed)
	o.store.SaveState(state)
	o.emit(task.TaskID, taskstore.TaskStatusRunning, 60, "parsing messages")
	return parsed
}

func (o *Orchestrator) phaseDownload(ctx context.Context, task *taskstore.ExportTask, ref upstream.ChatRef, parsed []*parse.ParsedMessage, state *taskstore.TaskState) map[string][]*resource.Info {
	handler := resource.New(o.adapter, o.resourceCfg)

	done := make(chan downloadResult, 1)
	go func() {
		byMsg, err := handler.Process(ctx, ref, parsed)
		done <- downloadResult{byMsg: byMsg, err: err}
	}()

	ticker := time.NewTicker(stallWatchdogInterval)
	defer ticker.Stop()

	res := o.waitForAllDownloads(task.TaskID, done, ticker)

	state.ProgressPct = 85
	o.store.SaveState(state)
	o.emit(task.TaskID, taskstore.TaskStatusRunning, 85, "downloading resources")

	if res.byMsg == nil {
		return map[string][]*resource.Info{}
	}

	for _, infos := range res.byMsg {
		for _, info := range infos {
			if info.MD5 == "" {
				// The resource table is keyed by md5; hash-less resources
				// stay in-memory only.
				continue
			}
			o.store.UpsertResource(&taskstore.ResourceRecord{
				MD5: info.MD5, Type: string(info.Type), FileName: info.FileName,
				FileSize: info.FileSize, Mime: info.MimeType, OriginalURL: info.OriginalURL,
				LocalPath: info.LocalPath, Status: string(info.Status), Accessible: info.Accessible,
				CheckedAt: info.CheckedAt, DownloadAttempts: info.DownloadAttempts, LastError: info.LastError,
			})
		}
	}
	return res.byMsg
}

// downloadResult carries the outcome of the background Process call that
// waitForAllDownloads waits on.
type downloadResult struct {
	byMsg map[string][]*resource.Info
	err   error
}

// waitForAllDownloads blocks for the download phase's completion, logging
// a non-fatal stall warning every stallWatchdogInterval while it waits.
// Download failures never fail the task — per-resource status is the
// source of truth, so this function only ever returns once done fires.
func (o *Orchestrator) waitForAllDownloads(taskID string, done <-chan downloadResult, ticker *time.Ticker) downloadResult {
	for {
		select {
		case r := <-done:
			if r.err != nil {
				slog.Warn("orchestrator.download_phase_error", "task_id", taskID, "error", r.err)
			}
			return r
		case <-ticker.C:
			slog.Warn("orchestrator.download_stall", "task_id", taskID)
		}
	}
}

func (o *Orchestrator) phaseSerialize(ctx context.Context, task *taskstore.ExportTask, formats []string, opts export.Options, parsed []*parse.ParsedMessage, state *taskstore.TaskState) ([]exportResult, error) {
	meta := export.Meta{
		Version:     exportMetaVersion,
		GeneratedAt: time.Now(),
		Chat:        export.ChatInfo{Name: task.ChatName, Type: task.ChatType},
		Window:      export.WindowSpec{StartMs: task.WindowStartMs, EndMs: task.WindowEndMs},
		Counts:      countMessages(parsed),
	}

	chunkSize := task.BatchSize
	if chunkSize <= 0 {
		chunkSize = 100
	}

	if err := os.MkdirAll(task.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var results []exportResult
	for _, f := range formats {
		exporter := export.ForFormat(export.Format(strings.TrimSpace(f)))
		batches := make(chan []*parse.ParsedMessage)
		go func() {
			defer close(batches)
			for i := 0; i < len(parsed); i += chunkSize {
				end := i + chunkSize
				if end > len(parsed) {
					end = len(parsed)
				}
				select {
				case batches <- parsed[i:end]:
				case <-ctx.Done():
					return
				}
			}
		}()

		path, size, err := exporter.Export(ctx, task.OutputDir, meta, opts, batches)
		if err != nil {
			// A failed or canceled task publishes nothing: artifacts from
			// formats that already finished are withdrawn too.
			for _, r := range results {
				if rmErr := os.Remove(r.path); rmErr != nil {
					slog.Warn("orchestrator.remove_partial_artifact", "path", r.path, "error", rmErr)
				}
			}
			return nil, fmt.Errorf("export %s: %w", f, err)
		}
		results = append(results, exportResult{format: f, path: path, size: size})
	}

	state.ProgressPct = 100
	o.store.SaveState(state)
	return results, nil
}

type exportResult struct {
	format string
	path   string
	size   int64
}

func containsFormat(formats []string, want string) bool {
	for _, f := range formats {
		if strings.TrimSpace(f) == want {
			return true
		}
	}
	return false
}

func countMessages(parsed []*parse.ParsedMessage) export.Counts {
	c := export.Counts{Total: len(parsed)}
	for _, m := range parsed {
		if len(m.Content.Special) > 0 {
			c.Failure++
		} else {
			c.Success++
		}
	}
	return c
}

func (o *Orchestrator) finalize(ctx context.Context, task *taskstore.ExportTask, state *taskstore.TaskState, results []exportResult) error {
	state.Status = taskstore.TaskStatusCompleted
	state.ProgressPct = 100
	now := time.Now()
	state.EndTime = &now
	if err := o.store.UpsertTaskAndState(ctx, task, state); err != nil {
		return fmt.Errorf("orchestrator: persist final state: %w", err)
	}

	for _, r := range results {
		o.events.Broadcast(bus.Event{Name: bus.EventExportComplete, Payload: bus.ExportEventPayload{
			TaskID: task.TaskID, Status: string(taskstore.TaskStatusCompleted), Progress: 100,
			MessageCount: state.TotalMsgs, FileName: r.path, FileSize: r.size, DownloadURL: r.path,
		}})
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, task *taskstore.ExportTask, state *taskstore.TaskState, cause error) error {
	state.Status = taskstore.TaskStatusFailed
	state.Error = cause.Error()
	now := time.Now()
	state.EndTime = &now
	if err := o.store.UpsertTaskAndState(ctx, task, state); err != nil {
		slog.Error("orchestrator.persist_failed_state_error", "task_id", task.TaskID, "error", err)
	}
	o.events.Broadcast(bus.Event{Name: bus.EventExportError, Payload: bus.ExportEventPayload{
		TaskID: task.TaskID, Status: string(taskstore.TaskStatusFailed), Message: cause.Error(),
	}})
	return cause
}

func (o *Orchestrator) cancelTask(ctx context.Context, task *taskstore.ExportTask, state *taskstore.TaskState) error {
	state.Status = taskstore.TaskStatusCanceled
	state.Error = "canceled"
	now := time.Now()
	state.EndTime = &now
	if err := o.store.UpsertTaskAndState(context.Background(), task, state); err != nil {
		slog.Error("orchestrator.persist_canceled_state_error", "task_id", task.TaskID, "error", err)
	}
	o.events.Broadcast(bus.Event{Name: bus.EventExportError, Payload: bus.ExportEventPayload{
		TaskID: task.TaskID, Status: string(taskstore.TaskStatusCanceled),
		Progress: state.ProgressPct, Message: "canceled",
	}})
	return context.Canceled
}

func (o *Orchestrator) emit(taskID string, status taskstore.TaskStatus, progress int, message string) {
	o.events.Broadcast(bus.Event{Name: bus.EventExportProgress, Payload: bus.ExportEventPayload{
		TaskID: taskID, Status: string(status), Progress: progress, Message: message,
	}})
}
