// Package httpsrc serves table files published over plain HTTP(S).
//
// The root URL must point at a directory index page (Apache, nginx or Go
// FileServer style). Listing scrapes its links with goquery and issues one
// rate-limited HEAD per linked file to learn Last-Modified and size. Table
// selection goes through ListMatching, which skips the HEAD for links the
// table pattern rejects.
//
// Servers without an index page are still usable through search_prefix:
// when the listing prefix names a file (no trailing slash), the store HEADs
// that single URL instead of fetching the index.
package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"spreadtap/internal/retry"
	"spreadtap/internal/source"
)

func init() {
	source.Register("http", New)
	source.Register("https", New)
}

// Store is a source.Store over an HTTP directory.
type Store struct {
	root    string
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	retry   retry.Policy
	log     *zap.Logger

	// now stamps objects whose server sends no Last-Modified.
	now func() time.Time
}

// New prepares a store for root. No request is made until List.
func New(_ context.Context, root string, opts source.Options) (source.Store, error) {
	base, err := url.Parse(strings.TrimRight(root, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("httpsrc: parse root %q: %w", root, err)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.HTTPRequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.HTTPRequestsPerSecond), 1)
	}

	log := opts.Log()

	return &Store{
		root:    root,
		base:    base,
		client:  client,
		limiter: lim,
		retry:   opts.Retry,
		log:     log.With(zap.String("store", "http"), zap.String("root", root)),
		now:     time.Now,
	}, nil
}

func (s *Store) Root() string { return s.root }

var _ source.MatchLister = (*Store)(nil)

func (s *Store) List(ctx context.Context, prefix string) ([]source.Object, error) {
	return s.ListMatching(ctx, prefix, nil)
}

// ListMatching is List with a key filter applied before the per-file HEAD,
// so links the table pattern rejects cost no request. A nil match keeps
// every key.
func (s *Store) ListMatching(ctx context.Context, prefix string, match func(key string) bool) ([]source.Object, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		o, err := s.head(ctx, prefix)
		if err != nil {
			return nil, err
		}
		return []source.Object{o}, nil
	}

	keys, err := s.index(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]source.Object, 0, len(keys))
	for _, k := range keys {
		if match != nil && !match(k) {
			continue
		}
		o, err := s.head(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	s.log.Debug("listed index", zap.Int("links", len(keys)), zap.Int("count", len(out)))
	return out, nil
}

// index fetches the index page for prefix and returns the file keys it
// links to. Links leaving the root, directory links and sort links
// ("?C=M;O=A") are dropped.
func (s *Store) index(ctx context.Context, prefix string) ([]string, error) {
	pageURL := s.base.ResolveReference(&url.URL{Path: prefix})

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsrc: get index %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpsrc: get index %s: status %d", pageURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("httpsrc: %s is not an index page (content-type %q)", pageURL, ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpsrc: parse index %s: %w", pageURL, err)
	}

	seen := make(map[string]bool)
	var keys []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || ref.RawQuery != "" || ref.Fragment != "" && ref.Path == "" {
			return
		}
		abs := pageURL.ResolveReference(ref)
		if abs.Host != s.base.Host || !strings.HasPrefix(abs.Path, s.base.Path) {
			return
		}
		key := strings.TrimPrefix(abs.Path, s.base.Path)
		if key == "" || strings.HasSuffix(key, "/") || seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	})
	return keys, nil
}

func (s *Store) objectURL(key string) string {
	return s.base.ResolveReference(&url.URL{Path: key}).String()
}

func (s *Store) head(ctx context.Context, key string) (source.Object, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return source.Object{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(key), nil)
	if err != nil {
		return source.Object{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return source.Object{}, fmt.Errorf("httpsrc: head %s: %w", key, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return source.Object{}, fmt.Errorf("%w: %s", source.ErrNotFound, key)
	}
	if resp.StatusCode >= 300 {
		return source.Object{}, fmt.Errorf("httpsrc: head %s: status %d", key, resp.StatusCode)
	}

	o := source.Object{Key: key, Size: resp.ContentLength}
	if o.Size < 0 {
		o.Size, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			o.LastModified = t.UTC()
		}
	}
	if o.LastModified.IsZero() {
		// Without Last-Modified the file is treated as changed on every run.
		o.LastModified = s.now().UTC()
		s.log.Debug("no Last-Modified, using current time", zap.String("key", key))
	}
	return o, nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return retry.Do(ctx, s.retry, func() (io.ReadCloser, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("httpsrc: get %s: %w", key, err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			_ = resp.Body.Close()
			return nil, retry.Permanent(fmt.Errorf("%w: %s", source.ErrNotFound, key))
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			_ = resp.Body.Close()
			return nil, fmt.Errorf("httpsrc: get %s: status %d", key, resp.StatusCode)
		case resp.StatusCode >= 300:
			_ = resp.Body.Close()
			return nil, retry.Permanent(fmt.Errorf("httpsrc: get %s: status %d", key, resp.StatusCode))
		}
		return resp.Body, nil
	})
}
