package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"desktop-commander/src/mcp"
)

type stressOptions struct {
	n        int
	url      string
	tool     string
	deadline time.Duration
}

type stressStats struct {
	ok, busy, failed int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-mcp",
		Short:         "Fire concurrent tool calls at an HTTP MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runWithOptions(cmd.Context(), *opts, cmd.OutOrStdout())
			return err
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of concurrent tool calls")
	cmd.Flags().StringVar(&opts.url, "url", "http://127.0.0.1:8765/mcp", "MCP endpoint")
	cmd.Flags().StringVar(&opts.tool, "tool", "get_screen_info", "tool to call")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-call timeout")

	return cmd
}

func runWithOptions(ctx context.Context, opts stressOptions, out io.Writer) (stressStats, error) {
	var stats stressStats
	if ctx == nil {
		ctx = context.Background()
	}
	client := &http.Client{}

	session, err := initialize(ctx, client, opts)
	if err != nil {
		return stats, err
	}

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()

			params, _ := json.Marshal(map[string]interface{}{"name": opts.tool, "arguments": map[string]interface{}{}})
			resp, err := post(callCtx, client, opts.url, session, &mcp.Message{
				JSONRPC: "2.0",
				ID:      json.RawMessage(fmt.Sprintf("%d", id+2)),
				Method:  "tools/call",
				Params:  params,
			})
			switch {
			case err != nil:
				atomic.AddInt32(&stats.failed, 1)
			case resp.Error != nil && resp.Error.Code == mcp.CodeServerBusy:
				atomic.AddInt32(&stats.busy, 1)
			case resp.Error != nil:
				atomic.AddInt32(&stats.failed, 1)
			default:
				atomic.AddInt32(&stats.ok, 1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Fprintf(out, "launched=%d ok=%d busy=%d err=%d elapsed=%s\n", opts.n, stats.ok, stats.busy, stats.failed, elapsed)
	return stats, nil
}

func initialize(ctx context.Context, client *http.Client, opts stressOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.deadline)
	defer cancel()

	body, _ := json.Marshal(&mcp.Message{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "initialize", Params: json.RawMessage("{}")})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("initialize failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("initialize failed: HTTP %d", resp.StatusCode)
	}
	return resp.Header.Get(mcp.SessionHeader), nil
}

func post(ctx context.Context, client *http.Client, url, session string, msg *mcp.Message) (*mcp.Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(mcp.SessionHeader, session)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var out mcp.Message
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}
