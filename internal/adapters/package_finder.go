package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"conda-pypi/internal/core"
	"conda-pypi/internal/ports"
	"conda-pypi/internal/shared"
	"conda-pypi/internal/types"
)

const DefaultIndexURL = "https://pypi.org/simple/"

const defaultHTTPTimeout = 60 * time.Second
const defaultHTTPRetries = 3
const defaultHTTPRetryDelay = 200 * time.Millisecond
const maxHTTPRetryDelay = 2 * time.Second
const defaultPageCacheSize = 256

type httpRetryConfig struct {
	timeout   time.Duration
	retries   int
	baseDelay time.Duration
}

func defaultHTTPConfig() httpRetryConfig {
	return httpRetryConfig{
		timeout:   defaultHTTPTimeout,
		retries:   defaultHTTPRetries,
		baseDelay: defaultHTTPRetryDelay,
	}
}

// PackageIndexAdapter creates finders backed by a PEP 503 simple index.
type PackageIndexAdapter struct{}

func NewPackageIndexAdapter() PackageIndexAdapter {
	return PackageIndexAdapter{}
}

func (a PackageIndexAdapter) GetFinder(ctx context.Context, env types.Environment, opts ports.FinderOptions) (ports.PackageFinderPort, error) {
	indexURL := strings.TrimSpace(opts.IndexURL)
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	if len(env.Tags) == 0 {
		return nil, shared.ConfigurationError("the environment reports no supported wheel tags", nil)
	}
	pages, err := lru.New[string, []core.WheelCandidate](defaultPageCacheSize)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create index page cache").
			WithCause(err)
	}
	cfg := httpConfigFromOptions(opts)
	log.Ctx(ctx).Debug().Str("index", indexURL).Str("python", env.PythonVersion).Msg("package finder created")
	return &PackageFinder{
		env:       env,
		indexURL:  normalizePipSimpleIndex(indexURL),
		http:      cfg,
		client:    &http.Client{Timeout: cfg.timeout},
		downloads: newDownloadClient(cfg.timeout),
		pages:     pages,
	}, nil
}

func httpConfigFromOptions(opts ports.FinderOptions) httpRetryConfig {
	cfg := defaultHTTPConfig()
	if opts.HTTPTimeoutSec > 0 {
		cfg.timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	if opts.HTTPRetries > 0 {
		cfg.retries = opts.HTTPRetries
	}
	if opts.HTTPRetryDelayMs > 0 {
		cfg.baseDelay = time.Duration(opts.HTTPRetryDelayMs) * time.Millisecond
	}
	return cfg
}

// PackageFinder ranks and downloads wheels for one environment.
type PackageFinder struct {
	env       types.Environment
	indexURL  string
	http      httpRetryConfig
	client    *http.Client
	downloads *http.Client
	pages     *lru.Cache[string, []core.WheelCandidate]
	fetches   singleflight.Group
}

func (f *PackageFinder) FindAndFetch(ctx context.Context, cacheDir string, name string, specifier string) (types.FetchedWheel, error) {
	candidates, err := f.candidates(ctx, name)
	if err != nil {
		return types.FetchedWheel{}, err
	}
	best, err := core.SelectWheel(name, specifier, candidates, f.env.Tags)
	if err != nil {
		return types.FetchedWheel{}, err
	}
	return f.fetch(ctx, cacheDir, best)
}

func (f *PackageFinder) candidates(ctx context.Context, name string) ([]core.WheelCandidate, error) {
	normalized := shared.NormalizePipName(name)
	if cached, ok := f.pages.Get(normalized); ok {
		return cached, nil
	}
	pageURL := f.indexURL + normalized + "/"
	resp, err := doRequest(ctx, f.client, pageURL, f.http)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, shared.ResolutionError(fmt.Sprintf("package %s not found on %s", name, f.indexURL), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, shared.NetworkError("failed to fetch package index page", shared.HTTPStatusError(resp.StatusCode, pageURL))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.NetworkError("failed to read package index page", err)
	}
	candidates := f.compatibleWithPython(parseSimpleWheelLinks(pageURL, string(body)))
	f.pages.Add(normalized, candidates)
	log.Ctx(ctx).Debug().Str("package", normalized).Int("wheels", len(candidates)).Msg("index page parsed")
	return candidates, nil
}

// compatibleWithPython drops links whose data-requires-python excludes
// the environment interpreter.
func (f *PackageFinder) compatibleWithPython(links []simpleLink) []core.WheelCandidate {
	var out []core.WheelCandidate
	for _, link := range links {
		if link.yanked {
			continue
		}
		if link.requiresPython != "" && f.env.PythonVersion != "" {
			ok, err := core.SatisfiesSpecifier(f.env.PythonVersion, link.requiresPython)
			if err == nil && !ok {
				continue
			}
		}
		out = append(out, link.candidate)
	}
	return out
}

func (f *PackageFinder) fetch(ctx context.Context, cacheDir string, candidate core.WheelCandidate) (types.FetchedWheel, error) {
	target := filepath.Join(cacheDir, candidate.Wheel.Filename)
	fetched := types.FetchedWheel{
		Path:     target,
		Filename: candidate.Wheel.Filename,
		Name:     candidate.Wheel.Name,
		Version:  candidate.Wheel.Version,
		SHA256:   candidate.SHA256,
	}
	if _, err := os.Stat(target); err == nil {
		fetched.Reused = true
		log.Ctx(ctx).Debug().Str("wheel", fetched.Filename).Msg("wheel already cached")
		return fetched, nil
	}
	_, err, _ := f.fetches.Do(target, func() (any, error) {
		return nil, f.download(ctx, candidate, target)
	})
	if err != nil {
		return types.FetchedWheel{}, err
	}
	log.Ctx(ctx).Info().Str("wheel", fetched.Filename).Msg("wheel downloaded")
	return fetched, nil
}

func (f *PackageFinder) download(ctx context.Context, candidate core.WheelCandidate, target string) error {
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < f.http.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return shared.NetworkError("download canceled: "+candidate.Wheel.Filename, ctx.Err())
			case <-time.After(httpRetryDelay(attempt-1, f.http)):
			}
		}
		retry, err := f.downloadOnce(ctx, candidate, target)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		log.Ctx(ctx).Debug().Err(err).Int("attempt", attempt+1).Str("wheel", candidate.Wheel.Filename).Msg("download failed, retrying")
	}
	return shared.NetworkError("failed to download "+candidate.Wheel.Filename, lastErr)
}

// downloadOnce fetches the wheel body and verifies its digest. The bool
// reports whether another attempt may succeed.
func (f *PackageFinder) downloadOnce(ctx context.Context, candidate core.WheelCandidate, target string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := f.downloads.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return true, shared.HTTPStatusError(resp.StatusCode, candidate.URL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, shared.HTTPStatusError(resp.StatusCode, candidate.URL)
	}
	err = shared.WriteAtomic(target, 0644, func(w io.Writer) error {
		hash := sha256.New()
		if _, err := io.Copy(io.MultiWriter(w, hash), resp.Body); err != nil {
			return err
		}
		if candidate.SHA256 != "" {
			if got := hex.EncodeToString(hash.Sum(nil)); !strings.EqualFold(got, candidate.SHA256) {
				return fmt.Errorf("sha256 mismatch: expected %s, got %s", candidate.SHA256, got)
			}
		}
		return nil
	})
	if err != nil {
		return true, err
	}
	return false, nil
}

// newDownloadClient bounds connecting and waiting for response headers but
// not the body transfer, so large wheels are not cut off mid-stream.
func newDownloadClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

type simpleLink struct {
	candidate      core.WheelCandidate
	requiresPython string
	yanked         bool
}

var simpleAnchorPattern = regexp.MustCompile(`(?is)<a\s+([^>]*)>`)
var simpleAttrPattern = regexp.MustCompile(`(?is)([a-z][a-z0-9-]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// parseSimpleWheelLinks extracts wheel links from a PEP 503 page.
func parseSimpleWheelLinks(pageURL string, content string) []simpleLink {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	var links []simpleLink
	for _, anchor := range simpleAnchorPattern.FindAllStringSubmatch(content, -1) {
		attrs := map[string]string{}
		for _, attr := range simpleAttrPattern.FindAllStringSubmatch(anchor[1], -1) {
			value := attr[2]
			if value == "" {
				value = attr[3]
			}
			attrs[strings.ToLower(attr[1])] = html.UnescapeString(value)
		}
		yanked := strings.Contains(strings.ToLower(anchor[1]), "data-yanked")
		href := attrs["href"]
		if href == "" {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref)
		digest := ""
		if algo, value, ok := strings.Cut(resolved.Fragment, "="); ok && algo == "sha256" {
			digest = value
		}
		resolved.Fragment = ""
		filename := path.Base(resolved.Path)
		if !strings.HasSuffix(filename, types.WheelExtension) {
			continue
		}
		wheel, err := core.ParseWheelFilename(filename)
		if err != nil {
			continue
		}
		links = append(links, simpleLink{
			candidate: core.WheelCandidate{
				Wheel:  wheel,
				URL:    resolved.String(),
				SHA256: digest,
			},
			requiresPython: attrs["data-requires-python"],
			yanked:         yanked,
		})
	}
	return links
}

func normalizePipSimpleIndex(base string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(trimmed, "/simple") {
		return trimmed + "/"
	}
	return trimmed + "/simple/"
}

func doRequest(ctx context.Context, client *http.Client, url string, cfg httpRetryConfig) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < cfg.retries; attempt++ {
		if ctx.Err() != nil {
			return nil, shared.NetworkError("request canceled", ctx.Err())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create request").
				WithCause(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, shared.NetworkError("request canceled", ctx.Err())
			}
			lastErr = err
			if attempt < cfg.retries-1 {
				time.Sleep(httpRetryDelay(attempt, cfg))
				continue
			}
			return nil, shared.NetworkError("request failed: "+url, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = shared.HTTPStatusError(resp.StatusCode, url)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if attempt < cfg.retries-1 {
				time.Sleep(httpRetryDelay(attempt, cfg))
				continue
			}
			return nil, shared.NetworkError("request failed: "+url, lastErr)
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("request failed")
	}
	return nil, shared.NetworkError("request failed: "+url, lastErr)
}

func httpRetryDelay(attempt int, cfg httpRetryConfig) time.Duration {
	delay := cfg.baseDelay * time.Duration(1<<attempt)
	if delay > maxHTTPRetryDelay {
		delay = maxHTTPRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

var _ ports.FinderProviderPort = PackageIndexAdapter{}
var _ ports.PackageFinderPort = (*PackageFinder)(nil)
