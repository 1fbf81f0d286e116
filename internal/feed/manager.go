package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// ErrUntrustedFeed is returned when the trust hook rejects a remote feed.
var ErrUntrustedFeed = errors.New("feed is not trusted")

// TrustFunc decides whether a freshly fetched remote feed may be used.
type TrustFunc func(uri string, content []byte) bool

// Manager serves feeds to the solver. Remote feeds go through the SQLite
// cache and are refetched once older than the freshness limit; local feeds
// are read directly every time they are first requested. Parsed feeds are
// memoised so repeated lookups during one solve see the same data.
type Manager struct {
	fetcher   Fetcher
	cache     *Cache
	freshness time.Duration
	network   types.NetworkLevel
	trust     TrustFunc
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	parsed  map[string]*types.Feed
	skipped map[string][]SkippedFeed
}

// SkippedFeed records a sub-feed left out of an interface's implementation
// list because it could not be loaded.
type SkippedFeed struct {
	URI string
	Err error
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher sets how feeds are retrieved. The default reads local files.
func WithFetcher(f Fetcher) Option { return func(m *Manager) { m.fetcher = f } }

// WithCache sets the persistent cache for remote feeds.
func WithCache(c *Cache) Option { return func(m *Manager) { m.cache = c } }

// WithFreshness sets the age after which a cached feed is refetched. Zero
// disables refetching.
func WithFreshness(d time.Duration) Option { return func(m *Manager) { m.freshness = d } }

// WithNetworkUse sets the network level. Offline never fetches remote feeds.
func WithNetworkUse(level types.NetworkLevel) Option {
	return func(m *Manager) { m.network = level }
}

// WithTrust installs the trust decision for remote feeds.
func WithTrust(fn TrustFunc) Option { return func(m *Manager) { m.trust = fn } }

// WithRateLimit throttles remote fetches.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) { m.limiter = rate.NewLimiter(limit, burst) }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager builds a Manager from cfg and opts.
func NewManager(cfg types.Config, opts ...Option) *Manager {
	m := &Manager{
		fetcher:   FileFetcher{},
		freshness: cfg.Freshness,
		network:   cfg.NetworkUse,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		logger:    slog.Default(),
		now:       time.Now,
		parsed:    make(map[string]*types.Feed),
		skipped:   make(map[string][]SkippedFeed),
	}
	if m.network == "" {
		m.network = types.NetworkFull
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetImplementations returns the implementations of uri, including those
// contributed by the feeds it references. A sub-feed that fails with a
// transient error fails the call; one that is missing, malformed or
// untrusted is left out and reported by SkippedFeeds.
func (m *Manager) GetImplementations(ctx context.Context, uri string) ([]types.Implementation, error) {
	return m.implementations(ctx, uri, false)
}

// GetFresh is GetImplementations with the cache bypassed for uri and every
// sub-feed.
func (m *Manager) GetFresh(ctx context.Context, uri string) ([]types.Implementation, error) {
	return m.implementations(ctx, uri, true)
}

func (m *Manager) implementations(ctx context.Context, uri string, fresh bool) ([]types.Implementation, error) {
	root, err := m.feed(ctx, uri, fresh)
	if err != nil {
		return nil, err
	}
	impls := slices.Clone(root.Implementations)

	var skipped []SkippedFeed
	visited := map[string]bool{uri: true}
	queue := slices.Clone(root.Feeds)
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if visited[ref.Source] {
			continue
		}
		visited[ref.Source] = true

		sub, err := m.feed(ctx, ref.Source, fresh)
		if err != nil {
			if types.IsCanceled(err) || types.IsTransient(err) {
				return nil, fmt.Errorf("sub-feed %s of %s: %w", ref.Source, uri, err)
			}
			m.logger.Warn("skipping sub-feed", "interface", uri, "feed", ref.Source, "error", err)
			skipped = append(skipped, SkippedFeed{URI: ref.Source, Err: err})
			continue
		}
		impls = append(impls, sub.Implementations...)
		queue = append(queue, sub.Feeds...)
	}

	m.mu.Lock()
	if len(skipped) > 0 {
		m.skipped[uri] = skipped
	} else {
		delete(m.skipped, uri)
	}
	m.mu.Unlock()
	return impls, nil
}

// SkippedFeeds returns the sub-feeds left out by the last
// GetImplementations or GetFresh call for uri.
func (m *Manager) SkippedFeeds(uri string) []SkippedFeed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.skipped[uri])
}

// GetFeed returns the parsed feed at uri.
func (m *Manager) GetFeed(ctx context.Context, uri string) (*types.Feed, error) {
	return m.feed(ctx, uri, false)
}

func (m *Manager) feed(ctx context.Context, uri string, fresh bool) (*types.Feed, error) {
	if !fresh {
		m.mu.Lock()
		f, ok := m.parsed[uri]
		m.mu.Unlock()
		if ok {
			return f, nil
		}
	}

	key := uri
	if fresh {
		key = "fresh\x00" + uri
	}
	v, err, _ := m.group.Do(key, func() (any, error) {
		f, err := m.load(ctx, uri, fresh)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.parsed[uri] = f
		m.mu.Unlock()
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Feed), nil
}

func (m *Manager) load(ctx context.Context, uri string, fresh bool) (*types.Feed, error) {
	if !IsRemote(uri) {
		data, err := m.fetcher.Fetch(ctx, uri)
		if err != nil {
			return nil, err
		}
		return Parse(bytes.NewReader(data), uri)
	}

	var cached *Entry
	if m.cache != nil {
		e, err := m.cache.Get(ctx, uri)
		switch {
		case err == nil:
			cached = &e
		case !errors.Is(err, types.ErrFeedNotFound):
			return nil, err
		}
	}

	if cached != nil && !fresh && !m.stale(*cached) {
		return Parse(bytes.NewReader(cached.Content), uri)
	}
	if m.network == types.NetworkOffline {
		if cached != nil {
			return Parse(bytes.NewReader(cached.Content), uri)
		}
		return nil, fmt.Errorf("%w: %s (offline)", types.ErrFeedNotFound, uri)
	}

	data, err := m.fetchRemote(ctx, uri)
	if err != nil {
		if cached != nil && types.IsTransient(err) {
			m.logger.Warn("using stale cached feed", "uri", uri, "age", cached.Age(m.now()), "error", err)
			return Parse(bytes.NewReader(cached.Content), uri)
		}
		return nil, err
	}
	return m.store(ctx, uri, data)
}

func (m *Manager) stale(e Entry) bool {
	return m.freshness > 0 && e.Age(m.now()) > m.freshness
}

func (m *Manager) fetchRemote(ctx context.Context, uri string) ([]byte, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := m.now()
	data, err := m.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("fetched feed", "uri", uri, "bytes", len(data), "elapsed", m.now().Sub(start))
	return data, nil
}

// Import adds a remote feed obtained out of band. It is checked and cached
// exactly like a fetched one.
func (m *Manager) Import(ctx context.Context, uri string, content []byte) (*types.Feed, error) {
	if !IsRemote(uri) {
		return nil, fmt.Errorf("%w: only remote feeds are cached: %s", ErrUnsupportedScheme, uri)
	}
	f, err := m.store(ctx, uri, content)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.parsed[uri] = f
	m.mu.Unlock()
	return f, nil
}

// store checks trust, parses and caches a remote feed.
func (m *Manager) store(ctx context.Context, uri string, data []byte) (*types.Feed, error) {
	if m.trust != nil && !m.trust(uri, data) {
		return nil, fmt.Errorf("%w: %s", ErrUntrustedFeed, uri)
	}
	f, err := Parse(bytes.NewReader(data), uri)
	if err != nil {
		return nil, err
	}
	if f.URI != uri {
		return nil, &types.FeedDataError{Source: uri, Err: fmt.Errorf("feed claims to be %s", f.URI)}
	}
	if m.cache != nil {
		if err := m.cache.Put(ctx, uri, data); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Forget drops the memoised copy of uri so the next lookup reloads it.
func (m *Manager) Forget(uri string) {
	m.mu.Lock()
	delete(m.parsed, uri)
	delete(m.skipped, uri)
	m.mu.Unlock()
}
