package querydeskctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures that happened after argument parsing, so Run
// can tell them apart from usage errors.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Run executes one querydeskctl command and returns the process exit code:
// 0 on success, 1 when the request fails, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRootCommand(defaults Options) *cobra.Command {
	var (
		baseURL string
		apiKey  string
		timeout time.Duration
	)
	c := &client{}

	root := &cobra.Command{
		Use:   "querydeskctl",
		Short: "Operate a querydesk API server",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			if c.baseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			c.apiKey = strings.TrimSpace(apiKey)
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: timeout}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querydesk API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		getCommand(c, "health", "Check liveness", "/v1/health"),
		getCommand(c, "ready", "Check readiness of every dependency", "/v1/ready"),
		getCommand(c, "datasets", "List datasets and their tables", "/v1/datasets"),
		getCommand(c, "stats", "Show pipeline counters and audit totals", "/v1/admin/stats"),
		newAuditCommand(c),
		newConversationsCommand(c),
		newAskCommand(c),
		newChatCommand(c),
	)
	return root
}

func getCommand(c *client, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.call(cmd, http.MethodGet, path, nil)
		},
	}
}

func newAuditCommand(c *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/admin/audit"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return c.call(cmd, http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return (server default when 0)")
	return cmd
}

func newConversationsCommand(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations [id]",
		Short: "List conversations, or show one conversation's messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/chat/conversations"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			return c.call(cmd, http.MethodGet, path, nil)
		},
	}
}

func newAskCommand(c *client) *cobra.Command {
	var datasetID string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask an inventory question without keeping history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, http.MethodPost, "/v1/query", map[string]string{
				"message":   strings.Join(args, " "),
				"datasetId": datasetID,
			})
		},
	}
	cmd.Flags().StringVar(&datasetID, "dataset", "", "Dataset to query (server default when empty)")
	return cmd
}

func newChatCommand(c *client) *cobra.Command {
	var datasetID, conversationID string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, http.MethodPost, "/v1/chat/message", map[string]string{
				"message":        strings.Join(args, " "),
				"datasetId":      datasetID,
				"conversationId": conversationID,
			})
		},
	}
	cmd.Flags().StringVar(&datasetID, "dataset", "", "Dataset to query (server default when empty)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation to continue (new one when empty)")
	return cmd
}

func (c *client) call(cmd *cobra.Command, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &requestError{err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(raw)
	}

	code, responseBody, err := c.doRequest(cmd.Context(), method, c.baseURL+path, body)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	out := cmd.OutOrStdout()
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(out, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(out, string(responseBody))
	}
	return nil
}

func (c *client) doRequest(ctx context.Context, method, endpoint string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
