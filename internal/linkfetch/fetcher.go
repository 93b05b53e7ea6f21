// Package linkfetch renders link messages (press releases, filings) into
// readable previews for the dashboard.
package linkfetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/sync/singleflight"

	"github.com/rickgao/earnings-feed/internal/cache"
	"github.com/rickgao/earnings-feed/internal/preview"
	"github.com/rickgao/earnings-feed/internal/version"
)

var (
	// ErrInvalidURL is returned for links that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("linkfetch: url must be absolute http or https")

	// ErrUnsupportedContent is returned for binary responses.
	ErrUnsupportedContent = errors.New("linkfetch: unsupported content type")
)

// Config holds fetcher settings.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxChars       int // Bound on Page.Markdown in runes
	MaxBodyBytes   int // Response bodies are cut at this size
	AllowedDomains []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:    version.UserAgent(),
		Timeout:      15 * time.Second,
		MaxChars:     20000,
		MaxBodyBytes: 2 << 20,
	}
}

// Page is the rendered form of a link.
type Page struct {
	URL         string    `json:"url"` // After redirects
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Markdown    string    `json:"markdown"`
	Summary     string    `json:"summary"` // One-line plain text preview
	FetchedAt   time.Time `json:"fetched_at"`
}

// Fetcher downloads and converts pages, caching the result.
type Fetcher struct {
	cfg    Config
	base   *colly.Collector
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New creates a Fetcher. Rendered pages are cached in store for ttl.
func New(cfg Config, store cache.Store, ttl time.Duration, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	}
	if len(cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(cfg.AllowedDomains...))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:    cfg,
		base:   c,
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "linkfetch"),
	}
}

// Fetch returns the rendered page for rawURL, from cache when possible.
// Concurrent fetches of the same URL share one download.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidURL
	}
	key := cache.Key("link", u.String())

	if p, ok := cache.GetJSON[Page](ctx, f.store, key); ok {
		return &p, nil
	}

	// The download outlives any one caller; each caller only stops waiting.
	fetchCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		if p, ok := cache.GetJSON[Page](fetchCtx, f.store, key); ok {
			return &p, nil
		}
		ctx, cancel := context.WithTimeout(fetchCtx, f.cfg.Timeout)
		defer cancel()

		p, err := f.download(ctx, u.String())
		if err != nil {
			return nil, err
		}
		cache.SetJSON(fetchCtx, f.store, key, p, f.ttl)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Page), nil
	}
}

func (f *Fetcher) download(ctx context.Context, rawURL string) (*Page, error) {
	c := f.base.Clone()
	c.Context = ctx
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")
	})

	var (
		body        []byte
		finalURL    string
		contentType string
	)
	c.OnResponse(func(r *colly.Response) {
		finalURL = r.Request.URL.String()
		body = append([]byte(nil), r.Body...)
		contentType = r.Headers.Get("Content-Type")
	})

	start := time.Now()
	if err := c.Visit(rawURL); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.logger.Debug("fetched link", "url", rawURL, "bytes", len(body), "duration", time.Since(start))

	page, err := f.render(body, contentType)
	if err != nil {
		return nil, err
	}
	page.URL = finalURL
	page.FetchedAt = time.Now().UTC()
	return page, nil
}

// render converts a response body into a Page.
func (f *Fetcher) render(body []byte, contentType string) (*Page, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return f.renderHTML(body)
	case strings.HasPrefix(ct, "text/"), ct == "":
		text := string(body)
		return &Page{
			Markdown: preview.Truncate(text, f.cfg.MaxChars),
			Summary:  preview.PlainText(text, preview.DefaultLength),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}
}

func (f *Fetcher) renderHTML(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("head > title").First().Text())
	desc := strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if desc == "" {
		desc = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}

	doc.Find("script, style, noscript, iframe, svg, canvas, form, nav, header, footer, aside").Remove()

	// Prefer the main article when the page marks one.
	content := doc.Find("article").First()
	if content.Length() == 0 {
		content = doc.Find("main").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body")
	}

	html, err := goquery.OuterHtml(content)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	text := strings.Join(strings.Fields(content.Text()), " ")

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		f.logger.Debug("markdown conversion failed, using text", "error", err)
		md = text
	}

	summary := desc
	if summary == "" {
		summary = text
	}
	return &Page{
		Title:       title,
		Description: desc,
		Markdown:    preview.Truncate(strings.TrimSpace(md), f.cfg.MaxChars),
		Summary:     preview.Truncate(summary, preview.DefaultLength),
	}, nil
}
