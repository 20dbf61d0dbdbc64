package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config drives synthetic traffic against a running session core.
type Config struct {
	BaseURL         string
	Profile         string
	Duration        time.Duration
	RPS             int
	Concurrency     int
	Seed            int64
	Subject         string
	SubjectHeader   string
	PermissionsHdr  string
	AuthorizationID string
	RefreshToken    string
}

type Result struct {
	TotalRequests int64
	Failures      int64
	StatusClasses map[string]int64
}

// Run issues requests until Duration elapses. The "refresh" profile replays one refresh token
// from many workers, which exercises rotation races and reuse detection end to end.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg.Profile = normalizeProfile(cfg.Profile)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.SubjectHeader == "" {
		cfg.SubjectHeader = "X-Authenticated-Subject"
	}
	if cfg.PermissionsHdr == "" {
		cfg.PermissionsHdr = "X-Authenticated-Permissions"
	}
	window, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	client := &http.Client{Timeout: 10 * time.Second}
	interval := time.Second / time.Duration(cfg.RPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		total    atomic.Int64
		failures atomic.Int64
		mu       sync.Mutex
		classes  = map[string]int64{}
	)
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
		g.Go(func() error {
			for range jobs {
				status, err := doRequest(gctx, client, cfg, pickRoute(cfg.Profile, rng))
				total.Add(1)
				if err != nil || status >= 500 {
					failures.Add(1)
				}
				mu.Lock()
				classes[classifyStatusClass(status)]++
				mu.Unlock()
			}
			return nil
		})
	}

loop:
	for {
		select {
		case <-window.Done():
			break loop
		case <-ticker.C:
			select {
			case jobs <- 1:
			case <-window.Done():
				break loop
			}
		}
	}
	close(jobs)
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return Result{TotalRequests: total.Load(), Failures: failures.Load(), StatusClasses: classes}, nil
}

type route struct {
	method string
	path   string
	body   any
}

func pickRoute(profile string, rng *rand.Rand) string {
	switch profile {
	case "refresh":
		return "refresh"
	case "sessions":
		return "sessions"
	default:
		if rng.Intn(4) == 0 {
			return "refresh"
		}
		return "sessions"
	}
}

func doRequest(ctx context.Context, client *http.Client, cfg Config, name string) (int, error) {
	r := route{method: http.MethodGet, path: "/api/v1/me/sessions"}
	if name == "refresh" {
		r = route{
			method: http.MethodPost,
			path:   "/api/v1/oauth/refresh-state",
			body:   map[string]string{"authorization_id": cfg.AuthorizationID, "refresh_token": cfg.RefreshToken},
		}
	}
	var payload *bytes.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return 0, err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, strings.TrimRight(cfg.BaseURL, "/")+r.path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(cfg.SubjectHeader, cfg.Subject)
	req.Header.Set(cfg.PermissionsHdr, "sessions:refresh")
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch p {
	case "refresh", "sessions", "mixed":
		return p
	default:
		return "mixed"
	}
}
