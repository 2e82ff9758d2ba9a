package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"pixelcanvas.io/internal/sim/world"
)

// adminClient talks to the loopback-only /admin/v1 endpoints of a server.
type adminClient struct {
	base string
	http *http.Client
}

func newAdminClient(baseURL string, timeout time.Duration) *adminClient {
	return &adminClient{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{Timeout: timeout},
	}
}

type snapshotResult struct {
	OK    bool   `json:"ok"`
	World string `json:"world"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	// The snapshot endpoint reports failures as JSON too.
	decodeErr := json.Unmarshal(b, out)
	if resp.StatusCode/100 != 2 {
		if r, ok := out.(*snapshotResult); ok && decodeErr == nil && r.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, r.Error)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	if decodeErr != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, decodeErr)
	}
	return nil
}

func (c *adminClient) Worlds(ctx context.Context) (map[string]world.Stats, error) {
	out := map[string]world.Stats{}
	if err := c.do(ctx, http.MethodGet, "/admin/v1/worlds", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) Snapshot(ctx context.Context, worldID string) (snapshotResult, error) {
	var out snapshotResult
	err := c.do(ctx, http.MethodPost, "/admin/v1/worlds/"+url.PathEscape(worldID)+"/snapshot", &out)
	return out, err
}

// writeWorldStats prints one row per world, sorted by id. Reject counts are
// folded into code=count pairs.
func writeWorldStats(w io.Writer, stats map[string]world.Stats) error {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORLD\tSESSIONS\tLOADED\tDIRTY\tLINES\tUPDATES\tSLOW\tREJECTS")
	for _, id := range ids {
		st := stats[id]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			id, st.Sessions, st.LoadedChunks, st.DirtyChunks, st.Lines, st.Updates, st.SlowDrops, formatRejects(st.Rejects))
	}
	return tw.Flush()
}

func formatRejects(rejects map[string]uint64) string {
	codes := make([]string, 0, len(rejects))
	for code, n := range rejects {
		if n > 0 {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return "-"
	}
	sort.Strings(codes)
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%s=%d", code, rejects[code])
	}
	return strings.Join(parts, ",")
}

func worldsCmd(args []string) {
	fs := flag.NewFlagSet("worlds", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	asJSON := fs.Bool("json", false, "print raw stats as JSON")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := newAdminClient(*baseURL, 5*time.Second).Worlds(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worlds:", err)
		os.Exit(1)
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		return
	}
	if err := writeWorldStats(os.Stdout, stats); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	worldID := fs.String("world", "main", "world id")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	res, err := newAdminClient(*baseURL, 15*time.Second).Snapshot(ctx, *worldID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("world=%s snapshot=%s\n", res.World, res.Path)
}
