package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	md "github.com/JohannesKaufmann/html-to-markdown"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/deepresearch/internal/httpclient"
	"github.com/kadirpekel/deepresearch/internal/obslog"
)

// FetchResult is the outcome of fetching and extracting one URL.
type FetchResult struct {
	URL     string
	Title   string
	Content string
	Failed  bool
}

// Fetcher retrieves a URL and extracts readable text from it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
}

// FetcherConfig bounds what HTTPFetcher will retrieve.
type FetcherConfig struct {
	AllowedDomains  []string
	DeniedDomains   []string
	MaxResponseSize int64 // bytes; 0 means 2MiB default
	UserAgent       string
}

// HTTPFetcher fetches a URL through the shared retrying client and converts
// its HTML body to readable text via a DOM-based extraction pass (strip
// script/style/nav/footer, then Markdown-ify the remaining body) rather
// than a regex strip, so boilerplate-heavy pages still yield usable text.
type HTTPFetcher struct {
	cfg       FetcherConfig
	http      *httpclient.Client
	converter *md.Converter
}

// NewHTTPFetcher builds a Fetcher with the given domain/size constraints.
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.MaxResponseSize == 0 {
		cfg.MaxResponseSize = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "deepresearch-fetcher/1.0"
	}
	return &HTTPFetcher{
		cfg:       cfg,
		http:      httpclient.New(httpclient.WithHTTPClient(&http.Client{}), httpclient.WithMaxRetries(2)),
		converter: md.NewConverter("", true, nil),
	}
}

// Fetch retrieves rawURL and extracts its text. It never returns an error:
// on any failure (bad URL, denied domain, network error, oversized body)
// it returns a FetchResult with Failed=true and empty Content, so the
// Summarizer can still run on metadata-only context.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	ctx, span := obslog.Tracer("deepresearch/websearch").Start(ctx, obslog.SpanWebFetch,
		trace.WithAttributes(attribute.String(obslog.AttrFetchURL, rawURL)),
	)
	defer span.End()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FetchResult{URL: rawURL, Failed: true}
	}
	if err := f.validateDomain(parsed.Hostname()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return FetchResult{URL: rawURL, Failed: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{URL: rawURL, Failed: true}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return FetchResult{URL: rawURL, Failed: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FetchResult{URL: rawURL, Failed: true}
	}

	limited := io.LimitReader(resp.Body, f.cfg.MaxResponseSize+1)
	body, err := io.ReadAll(limited)
	if err != nil || int64(len(body)) > f.cfg.MaxResponseSize {
		return FetchResult{URL: rawURL, Failed: true}
	}

	title, text := f.extract(body)
	return FetchResult{URL: rawURL, Title: title, Content: text}
}

func (f *HTTPFetcher) extract(body []byte) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", string(body)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, nav, footer, header, noscript").Remove()

	html, err := doc.Find("body").Html()
	if err != nil || html == "" {
		return title, strings.TrimSpace(doc.Text())
	}

	out, err := f.converter.ConvertString(html)
	if err != nil {
		return title, strings.TrimSpace(doc.Find("body").Text())
	}
	return title, strings.TrimSpace(out)
}

func (f *HTTPFetcher) validateDomain(host string) error {
	if len(f.cfg.AllowedDomains) == 0 && len(f.cfg.DeniedDomains) == 0 {
		return nil
	}
	for _, denied := range f.cfg.DeniedDomains {
		if matchesDomain(host, denied) {
			return fmt.Errorf("websearch: domain denied: %s", host)
		}
	}
	if len(f.cfg.AllowedDomains) > 0 {
		for _, allowed := range f.cfg.AllowedDomains {
			if matchesDomain(host, allowed) {
				return nil
			}
		}
		return fmt.Errorf("websearch: domain not in allow list: %s", host)
	}
	return nil
}

func matchesDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return false
}
