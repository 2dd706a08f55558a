package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultFetchTimeout = 15 * time.Second
	MaxCharsDefault     = 20000
	userAgent           = "reportflow/1.0 (+https://github.com/mohammad-safakhou/reportflow)"
)

// Page is the readable text of one fetched URL.
type Page struct {
	URL      string
	Title    string
	Byline   string
	Text     string
	HTMLHash string
	Status   int
	RenderMS int
}

// Fetcher loads a page and extracts its article text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

type FetcherType string

const (
	HTTPFetcherType    FetcherType = "http"
	BrowserFetcherType FetcherType = "browser"
)

var ErrInvalidURL = errors.New("invalid url")

func NewFetcher(t FetcherType, timeout time.Duration, maxChars int) (Fetcher, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	switch t {
	case "", HTTPFetcherType:
		return &HTTPFetcher{Timeout: timeout, MaxChars: maxChars, Client: &http.Client{Timeout: timeout}}, nil
	case BrowserFetcherType:
		return &BrowserFetcher{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", t)
	}
}

// HTTPFetcher downloads static HTML.
type HTTPFetcher struct {
	Timeout  time.Duration
	MaxChars int
	Client   *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Page{URL: rawURL, Status: 599}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Page{URL: rawURL, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Page{URL: rawURL, Status: resp.StatusCode}, err
	}
	return extract(rawURL, u, string(body), f.MaxChars, resp.StatusCode, t0)
}

// BrowserFetcher renders the page in headless Chrome first.
type BrowserFetcher struct {
	Timeout  time.Duration
	MaxChars int
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := renderHTML(ctx, rawURL)
	if err != nil {
		return Page{URL: rawURL, Status: 599, RenderMS: since(t0)}, err
	}
	return extract(rawURL, u, html, f.MaxChars, http.StatusOK, t0)
}

func renderHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func extract(rawURL string, u *url.URL, html string, maxChars, status int, t0 time.Time) (Page, error) {
	sum := sha1.Sum([]byte(html))
	page := Page{URL: rawURL, Status: status, HTMLHash: hex.EncodeToString(sum[:])}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		page.RenderMS = since(t0)
		return page, fmt.Errorf("extract %s: %w", rawURL, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if r := []rune(text); len(r) > maxChars {
		text = string(r[:maxChars])
	}
	page.Title = strings.TrimSpace(article.Title)
	page.Byline = strings.TrimSpace(article.Byline)
	page.Text = text
	page.RenderMS = since(t0)
	return page, nil
}

func parseURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

func since(t0 time.Time) int { return int(time.Since(t0) / time.Millisecond) }
