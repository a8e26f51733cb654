package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/qq-chat-exporter/internal/bus"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/export"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/resource"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/taskstore"
	"github.com/nextlevelbuilder/qq-chat-exporter/internal/upstream"
)

func openOrchestratorStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.Open(context.Background(), filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// eventCollector subscribes to a Hub and records every broadcast event.
type eventCollector struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *eventCollector) subscribe(events *bus.Hub) {
	events.Subscribe("collector", func(ev bus.Event) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	})
}

func (c *eventCollector) named(name string) []bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []bus.Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func newTestTask(outputDir string) *taskstore.ExportTask {
	return &taskstore.ExportTask{
		TaskID:     "t1",
		ChatType:   string(upstream.ChatTypePrivate),
		PeerUID:    "peer-1",
		ChatName:   "Test Chat",
		FormatsCSV: "json",
		BatchSize:  10,
		TimeoutMs:  5000,
		RetryCount: 1,
		OutputDir:  outputDir,
	}
}

func TestRunExportSuccessProducesJSONArtifactAndCompletesTask(t *testing.T) {
	batch := []upstream.RawMessage{
		{
			MsgID: "m1", MsgSeq: "1", MsgTime: "1700000000", SenderUID: "u1", MsgType: "text",
			Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "hello"}},
		},
	}
	adapter := upstream.NewFakeAdapter([][]upstream.RawMessage{batch})
	store := openOrchestratorStore(t)
	events := bus.New()
	collector := &eventCollector{}
	collector.subscribe(events)

	outputDir := t.TempDir()
	orch := New(adapter, store, events, resource.DefaultConfig(t.TempDir()))

	err := orch.RunExport(context.Background(), newTestTask(outputDir), export.Options{Pretty: true})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(outputDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	st, err := os.Stat(files[0])
	require.NoError(t, err)
	require.Greater(t, st.Size(), int64(0))

	_, state, ok := store.GetTask("t1")
	require.True(t, ok)
	require.Equal(t, taskstore.TaskStatusCompleted, state.Status)
	require.Equal(t, 1, state.ProcessedMsgs)

	require.Len(t, collector.named(bus.EventExportComplete), 1)
}

func TestRunExportFetchFailureMarksTaskFailedAndBroadcastsError(t *testing.T) {
	adapter := upstream.NewFakeAdapter(nil)
	adapter.Err = errors.New("bridge unreachable")

	store := openOrchestratorStore(t)
	events := bus.New()
	collector := &eventCollector{}
	collector.subscribe(events)

	outputDir := t.TempDir()
	orch := New(adapter, store, events, resource.DefaultConfig(t.TempDir()))

	err := orch.RunExport(context.Background(), newTestTask(outputDir), export.Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bridge unreachable")

	_, state, ok := store.GetTask("t1")
	require.True(t, ok)
	require.Equal(t, taskstore.TaskStatusFailed, state.Status)
	require.Contains(t, state.Error, "bridge unreachable")

	errEvents := collector.named(bus.EventExportError)
	require.Len(t, errEvents, 1)
	payload, ok := errEvents[0].Payload.(bus.ExportEventPayload)
	require.True(t, ok)
	require.Equal(t, "t1", payload.TaskID)

	files, err := filepath.Glob(filepath.Join(outputDir, "*.json"))
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestRunExportCanceledMidFetchNeverWritesArtifact(t *testing.T) {
	batch1 := []upstream.RawMessage{
		{MsgID: "m2", MsgSeq: "2", MsgTime: "1700000020", SenderUID: "u1", MsgType: "text",
			Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "first"}}},
	}
	batch2 := []upstream.RawMessage{
		{MsgID: "m1", MsgSeq: "1", MsgTime: "1700000010", SenderUID: "u1", MsgType: "text",
			Elements: []upstream.MessageElement{{Type: upstream.ElementText, Text: "second"}}},
	}
	adapter := upstream.NewFakeAdapter([][]upstream.RawMessage{batch1, batch2})

	store := openOrchestratorStore(t)
	events := bus.New()
	collector := &eventCollector{}
	collector.subscribe(events)

	outputDir := t.TempDir()
	orch := New(adapter, store, events, resource.DefaultConfig(t.TempDir()))

	// Cancel as soon as the first "fetching messages" progress event fires,
	// synchronously inside Hub.Broadcast, before the fetcher's inter-batch
	// pacing sleep and its second call to the adapter.
	var once sync.Once
	events.Subscribe("canceler", func(ev bus.Event) {
		payload, ok := ev.Payload.(bus.ExportEventPayload)
		if !ok || payload.Message != "fetching messages" {
			return
		}
		once.Do(func() { orch.Cancel("t1") })
	})

	err := orch.RunExport(context.Background(), newTestTask(outputDir), export.Options{})
	require.ErrorIs(t, err, context.Canceled)

	_, state, ok := store.GetTask("t1")
	require.True(t, ok)
	require.Equal(t, taskstore.TaskStatusCanceled, state.Status)

	// The terminal event for a canceled task is export_error with a
	// "canceled" message, matching what the front-end keys on.
	errEvents := collector.named(bus.EventExportError)
	require.Len(t, errEvents, 1)
	payload, isPayload := errEvents[0].Payload.(bus.ExportEventPayload)
	require.True(t, isPayload)
	require.Equal(t, "canceled", payload.Message)
	require.Equal(t, string(taskstore.TaskStatusCanceled), payload.Status)

	files, err := filepath.Glob(filepath.Join(outputDir, "*.json"))
	require.NoError(t, err)
	require.Empty(t, files)
}
