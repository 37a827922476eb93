// Package headless fetches listing pages through a single reusable headless
// Chrome tab.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
)

const defaultNavigationTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	// ExecPath overrides the Chrome binary; empty uses the chromedp lookup.
	ExecPath          string
	Headful           bool
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be ready before the DOM is captured. Defaults to body.
	WaitSelector string
	// SettleMin and SettleMax bound a random pause after the page is ready.
	SettleMin time.Duration
	SettleMax time.Duration
}

// Pacer delays fetches for politeness.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher with one browser tab reused for every
// page. Fetches are serialized.
type Fetcher struct {
	cfg    Config
	pacer  Pacer
	logger *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	meta        *responseMeta
	jitter      func(n int64) int64
}

// New prepares the browser allocator and tab. Chrome starts on the first Fetch.
func New(cfg Config, pacer Pacer, logger *zap.Logger) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.SettleMax < cfg.SettleMin {
		return nil, fmt.Errorf("settle max %s is below settle min %s", cfg.SettleMax, cfg.SettleMin)
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if cfg.Headful {
		opts = append(opts, chromedp.Flag("headless", false))
	} else {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	f := &Fetcher{
		cfg:         cfg,
		pacer:       pacer,
		logger:      logger.Named("headless"),
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
		meta:        newResponseMeta(),
		jitter:      rand.Int64N,
	}
	chromedp.ListenTarget(tab, f.meta.captureEvent)
	return f, nil
}

// Close shuts the tab and the browser down.
func (f *Fetcher) Close() {
	f.tabCancel()
	f.allocCancel()
}

// Fetch navigates the shared tab to request.URL and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.tab.Err(); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("%w: browser closed: %v", crawler.ErrTransportUnusable, err)
	}
	if f.pacer != nil {
		if err := f.pacer.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}

	runCtx, cancel := context.WithTimeout(f.tab, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	f.meta.reset()
	start := time.Now()
	html, finalURL, err := f.render(runCtx, request)
	if err != nil {
		return crawler.FetchResponse{}, classify(ctx, f.tab, err)
	}

	status, headers, responseURL := f.meta.snapshotWithFallbacks(request.URL, finalURL)
	f.logger.Debug("page rendered",
		zap.String("url", responseURL),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)
	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request crawler.FetchRequest) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{
		f.networkSetupAction(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
	}
	if settle := f.settleDelay(); settle > 0 {
		actions = append(actions, chromedp.Sleep(settle))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) settleDelay() time.Duration {
	spread := f.cfg.SettleMax - f.cfg.SettleMin
	if spread <= 0 {
		return f.cfg.SettleMin
	}
	return f.cfg.SettleMin + time.Duration(f.jitter(int64(spread)+1))
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

// classify maps a render error to a page-level or session-level failure.
// Caller cancellation is returned as is.
func classify(caller, tab context.Context, err error) error {
	if caller.Err() != nil {
		return fmt.Errorf("headless fetch canceled: %w", caller.Err())
	}
	if tab.Err() != nil ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrChannelClosed) {
		return fmt.Errorf("%w: %v", crawler.ErrTransportUnusable, err)
	}
	return fmt.Errorf("%w: %v", crawler.ErrPageFetch, err)
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.headers = http.Header{}
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

// capture keeps the last document response, which follows redirects.
func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
