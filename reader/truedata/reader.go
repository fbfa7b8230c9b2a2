package truedata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"chainflow/config"
	"chainflow/internal/channel/chain"
	"chainflow/internal/metrics"
	"chainflow/logger"
	"chainflow/models"
)

const sourceName = "truedata"

// Reader periodically fetches the option chain of every configured symbol
// and forwards the payloads to the raw channel.
type Reader struct {
	config   *config.Config
	client   *Client
	channels *chain.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
	symbols  []string
	cron     *cron.Cron
	now      func() time.Time

	sessionMu sync.Mutex
	session   Session
}

// NewReader creates a reader. A nil client is built from the source
// configuration.
func NewReader(cfg *config.Config, channels *chain.Channels, client *Client) *Reader {
	if client == nil {
		client = NewClientFromConfig(cfg)
	}
	symbols := make([]string, 0, len(cfg.Reader.Symbols))
	seen := make(map[string]bool, len(cfg.Reader.Symbols))
	for _, s := range cfg.Reader.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return &Reader{
		config:   cfg,
		client:   client,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  symbols,
		now:      time.Now,
	}
}

// NewClientFromConfig builds a client from the reader and source sections.
func NewClientFromConfig(cfg *config.Config) *Client {
	td := cfg.Source.TrueData
	rl := cfg.Reader.RateLimit
	return NewClient(td.AuthURL, td.AnalyticsURL,
		WithTimeout(cfg.Reader.Timeout),
		WithRateLimit(rl.RequestsPerSecond, rl.BurstSize),
		WithRetries(cfg.Reader.Retry.MaxAttempts, cfg.Reader.Retry.BaseDelay),
		WithUserAgent(td.UserAgent),
	)
}

// Start logs in, schedules session refresh and launches the fetch loop.
// A failed initial login is retried on the next tick.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	log := r.log.WithComponent("truedata_reader").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"symbols":  r.symbols,
		"interval": r.config.Reader.IntervalMs,
	}).Info("starting truedata reader")

	if _, err := r.refreshSession(r.ctx); err != nil {
		log.WithError(err).Warn("initial login failed")
	}

	if spec := r.config.Reader.SessionRefresh; spec != "" {
		c := cron.New(cron.WithSeconds())
		if _, err := c.AddFunc(spec, func() {
			if _, err := r.refreshSession(r.ctx); err != nil {
				r.log.WithComponent("truedata_reader").WithError(err).Warn("scheduled session refresh failed")
			}
		}); err != nil {
			r.cancel()
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return fmt.Errorf("invalid session refresh schedule %q: %w", spec, err)
		}
		c.Start()
		r.cron = c
	}

	r.wg.Add(1)
	go r.fetchWorker()

	log.Info("truedata reader started successfully")
	return nil
}

// Stop halts the schedule and waits for in-flight fetches.
func (r *Reader) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	cancel := r.cancel
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if !wasRunning {
		return
	}
	r.log.WithComponent("truedata_reader").Info("stopping truedata reader")
	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.log.WithComponent("truedata_reader").Info("truedata reader stopped")
}

func (r *Reader) fetchWorker() {
	defer r.wg.Done()
	log := r.log.WithComponent("truedata_reader").WithFields(logger.Fields{"worker": "option_chain_fetcher"})

	interval := time.Duration(r.config.Reader.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	now := time.Now()
	next := now.Truncate(interval).Add(interval)
	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-timer.C:
			start := time.Now()
			r.FetchAll(r.ctx)
			duration := time.Since(start)
			if duration > interval {
				log.WithFields(logger.Fields{"duration": duration.Milliseconds(), "interval": r.config.Reader.IntervalMs}).Warn("fetch took longer than interval")
			}
			next = start.Truncate(interval).Add(interval)
			timer.Reset(time.Until(next))
		}
	}
}

// FetchAll fetches every configured symbol once, concurrently, and returns
// the number of payloads forwarded.
func (r *Reader) FetchAll(ctx context.Context) int {
	expiry := r.config.Reader.Expiry
	if expiry == "" {
		expiry = NextMonthlyExpiry(r.now())
	}

	limit := r.config.Reader.MaxWorkers
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	sent := 0
	for _, symbol := range r.symbols {
		symbol := symbol
		g.Go(func() error {
			if r.fetchSymbol(gctx, symbol, expiry) {
				mu.Lock()
				sent++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return sent
}

func (r *Reader) fetchSymbol(ctx context.Context, symbol, expiry string) bool {
	log := r.log.WithComponent("truedata_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"expiry":    expiry,
		"operation": "fetch_option_chain",
	})

	token, err := r.token(ctx)
	if err != nil {
		log.WithError(err).Warn("no valid session")
		return false
	}

	data, err := r.client.FetchOptionChain(ctx, token, symbol, expiry)
	if errors.Is(err, ErrUnauthorized) {
		r.invalidateSession(token)
		if token, err = r.token(ctx); err == nil {
			data, err = r.client.FetchOptionChain(ctx, token, symbol, expiry)
		}
	}
	if err != nil {
		if ctx.Err() == nil {
			metrics.IncrementFetchError(symbol)
			log.WithError(err).Warn("failed to fetch option chain")
		}
		return false
	}

	msg := models.RawChainMessage{
		Symbol:    symbol,
		Expiry:    expiry,
		Data:      data,
		Timestamp: r.now().UTC(),
		Source:    sourceName,
	}
	if r.config.Reader.FetchSpot {
		spot, err := r.client.FetchLTPSpot(ctx, token, symbol, SeriesFor(symbol))
		if err != nil {
			log.WithError(err).Debug("spot price unavailable")
		} else {
			msg.Spot = models.GetPointer(spot)
		}
	}

	logger.IncrementChainFetch(len(data))
	if !r.channels.SendRaw(ctx, msg) {
		if ctx.Err() == nil {
			metrics.EmitDropMetric(r.log, metrics.DropMetricChainRaw, sourceName, symbol, expiry, "reader")
			log.Warn("raw channel is full, dropping data")
		}
		return false
	}
	logger.LogDataFlowEntry(log, "truedata_api", "raw_channel", len(data), "option_chain_bytes")
	return true
}

// token returns a valid access token, logging in when needed.
func (r *Reader) token(ctx context.Context) (string, error) {
	r.sessionMu.Lock()
	s := r.session
	r.sessionMu.Unlock()
	if s.Valid(r.now()) {
		return s.AccessToken, nil
	}
	s, err := r.refreshSession(ctx)
	if err != nil {
		return "", err
	}
	return s.AccessToken, nil
}

func (r *Reader) refreshSession(ctx context.Context) (Session, error) {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	// another fetch may have renewed it while we waited
	if r.session.Valid(r.now()) && r.session.ExpiresAt.Sub(r.now()) > time.Duration(r.session.ExpiresIn)*time.Second/2 {
		return r.session, nil
	}
	td := r.config.Source.TrueData
	s, err := r.client.Login(ctx, td.Username, td.Password)
	if err != nil {
		return Session{}, err
	}
	r.session = s
	r.log.WithComponent("truedata_reader").WithFields(logger.Fields{
		"expires_at": s.ExpiresAt.Format(time.RFC3339),
	}).Info("truedata session established")
	return s, nil
}

func (r *Reader) invalidateSession(token string) {
	r.sessionMu.Lock()
	if r.session.AccessToken == token {
		r.session = Session{}
	}
	r.sessionMu.Unlock()
}
