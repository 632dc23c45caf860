package querydeskctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   map[string]string
}

func recordingServer(t *testing.T, status int, response string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	got := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Method = r.Method
		got.Path = r.URL.Path
		got.Query = r.URL.RawQuery
		got.APIKey = r.Header.Get("X-API-Key")
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			if err := json.Unmarshal(raw, &got.Body); err != nil {
				t.Errorf("decode request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRunStatsCommand(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"counters":{"execute.success":2}}`)

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--api-key", "k1",
		"stats",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.Method != http.MethodGet || got.Path != "/v1/admin/stats" {
		t.Fatalf("request = %s %s", got.Method, got.Path)
	}
	if got.APIKey != "k1" {
		t.Fatalf("api key header = %q", got.APIKey)
	}
	if !strings.Contains(stdout.String(), `"execute.success": 2`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunAskCommand(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"reply":"ok","emotion":"happy","intent":"CHECK_STOCK","data":[]}`)

	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"ask", "--dataset", "Novotel", "which", "dishes", "sell", "best",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.Method != http.MethodPost || got.Path != "/v1/query" {
		t.Fatalf("request = %s %s", got.Method, got.Path)
	}
	want := map[string]string{"message": "which dishes sell best", "datasetId": "Novotel"}
	if diff := cmp.Diff(want, got.Body); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestRunChatCommandContinuesConversation(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"reply":"ok","conversationId":"c1"}`)

	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"chat", "--conversation", "c1", "low stock?",
	}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.Path != "/v1/chat/message" {
		t.Fatalf("path = %s", got.Path)
	}
	want := map[string]string{"message": "low stock?", "datasetId": "", "conversationId": "c1"}
	if diff := cmp.Diff(want, got.Body); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestRunPathCommands(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantPath  string
		wantQuery string
	}{
		{name: "health", args: []string{"health"}, wantPath: "/v1/health"},
		{name: "ready", args: []string{"ready"}, wantPath: "/v1/ready"},
		{name: "datasets", args: []string{"datasets"}, wantPath: "/v1/datasets"},
		{name: "audit default", args: []string{"audit"}, wantPath: "/v1/admin/audit"},
		{name: "audit limit", args: []string{"audit", "--limit", "20"}, wantPath: "/v1/admin/audit", wantQuery: "limit=20"},
		{name: "conversations", args: []string{"conversations"}, wantPath: "/v1/chat/conversations"},
		{name: "conversation", args: []string{"conversations", "abc"}, wantPath: "/v1/chat/conversations/abc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, got := recordingServer(t, http.StatusOK, `{}`)
			code := Run(context.Background(), append([]string{"--base-url", srv.URL}, tc.args...), Options{})
			if code != 0 {
				t.Fatalf("exit code = %d", code)
			}
			if got.Method != http.MethodGet || got.Path != tc.wantPath || got.Query != tc.wantQuery {
				t.Fatalf("request = %s %s?%s", got.Method, got.Path, got.Query)
			}
		})
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusForbidden, `{"error_code":"FORBIDDEN"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "stats"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 403") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunUsesDefaultsFromOptions(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"status":"ok"}`)

	code := Run(context.Background(), []string{"health"}, Options{BaseURL: srv.URL + "/", APIKey: "env-key"})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.Path != "/v1/health" || got.APIKey != "env-key" {
		t.Fatalf("request path=%s key=%q", got.Path, got.APIKey)
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown command", args: []string{"unknown"}},
		{name: "ask without message", args: []string{"ask"}},
		{name: "health with args", args: []string{"health", "extra"}},
		{name: "bad flag", args: []string{"--nope", "health"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stderr bytes.Buffer
			code := Run(context.Background(), tc.args, Options{Stderr: &stderr})
			if code != 2 {
				t.Fatalf("exit code = %d", code)
			}
			if !strings.Contains(stderr.String(), "Usage:") {
				t.Fatalf("expected usage output, got %s", stderr.String())
			}
		})
	}
}
