package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/chatstore"
	"github.com/matheus3301/crmsync/internal/status"
)

type recorded struct {
	Method string
	Path   string
	Body   string
}

// serveUnix serves h on a fresh socket and returns its path.
func serveUnix(t *testing.T, h http.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "crmctl-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return socketPath
}

func recordingServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) (string, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var got []recorded
	socketPath := serveUnix(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, recorded{Method: r.Method, Path: r.URL.Path, Body: string(body)})
		mu.Unlock()
		reply(w, r)
	}))
	return socketPath, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), got...)
	}
}

func TestClientRoutes(t *testing.T) {
	socketPath, requests := recordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/messages" {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"tmp-1","content":"hi","fromMe":true,"delivery":"pending"}`))
			return
		}
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"tab":"OPEN","tickets":[],"messages":[]}`))
	})

	c := New(socketPath)
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	snap, err := c.SetTab(ctx, "PENDING")
	if err != nil {
		t.Fatalf("SetTab() error = %v", err)
	}
	if snap.Tab != "OPEN" {
		t.Errorf("Tab = %q, want OPEN", snap.Tab)
	}
	step := int64(3)
	if _, err := c.SetFilters(ctx, chatstore.Filters{KanbanStepID: &step}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SelectTicket(ctx, 12); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveTicket(ctx, 12); err != nil {
		t.Fatal(err)
	}
	msg, err := c.SendMessage(ctx, "hi")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if msg.ID != "tmp-1" || !msg.FromMe {
		t.Errorf("message = %+v", msg)
	}
	if _, err := c.RetryMessage(ctx, "tmp-1"); err != nil {
		t.Fatal(err)
	}

	want := []recorded{
		{Method: http.MethodPost, Path: "/v1/tabs/PENDING"},
		{Method: http.MethodPut, Path: "/v1/filters", Body: `{"kanbanStepId":3}`},
		{Method: http.MethodPost, Path: "/v1/tickets/12/select"},
		{Method: http.MethodDelete, Path: "/v1/tickets/12"},
		{Method: http.MethodPost, Path: "/v1/messages", Body: `{"text":"hi"}`},
		{Method: http.MethodPost, Path: "/v1/messages/tmp-1/retry"},
	}
	got := requests()
	if len(got) != len(want) {
		t.Fatalf("got %d requests, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	socketPath, _ := recordingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(api.ErrorBody{Code: "NO_SELECTION", Message: "no ticket selected"})
	})

	c := New(socketPath)
	_, err := c.FetchMoreMessages(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", apiErr.StatusCode)
	}
	if !IsCode(err, "NO_SELECTION") {
		t.Errorf("IsCode(NO_SELECTION) = false for %v", err)
	}
}

func TestClientDaemonNotRunning(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.sock"))
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("Health() error = nil, want dial failure")
	}
}

func TestWatchStreamsBusEvents(t *testing.T) {
	b := bus.New()
	h := api.NewHandler("test", nil, status.NewMachine(b), b, zap.NewNop())
	socketPath := serveUnix(t, api.NewRouter(h))

	c := New(socketPath)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan api.EventFrame, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, "store.", func(f api.EventFrame) error {
			got <- f
			return io.EOF
		})
	}()

	// The subscription is registered once the stream is accepted; keep
	// publishing until the watcher sees one.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case f := <-got:
			if f.Kind != bus.KindStoreChanged {
				t.Errorf("Kind = %q, want %q", f.Kind, bus.KindStoreChanged)
			}
			if err := <-done; !errors.Is(err, io.EOF) {
				t.Errorf("Watch() error = %v, want the callback's error", err)
			}
			return
		case <-ticker.C:
			b.Emit(bus.KindNoticeError, "filtered out")
			b.Emit(bus.KindStoreChanged, "tickets")
		case <-ctx.Done():
			t.Fatal("no event received")
		}
	}
}
