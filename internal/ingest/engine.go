// Package ingest drives the per-source feed pipelines and aggregates the
// run report.
package ingest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/afflux/feedsync/internal/canonical"
	"github.com/afflux/feedsync/internal/config"
	"github.com/afflux/feedsync/internal/feed"
	"github.com/afflux/feedsync/internal/fetcher"
	"github.com/afflux/feedsync/internal/model"
	"github.com/afflux/feedsync/internal/normalize"
	"github.com/afflux/feedsync/internal/resilience"
	"github.com/afflux/feedsync/internal/score"
	"github.com/afflux/feedsync/internal/source"
	"github.com/afflux/feedsync/internal/store"
	"github.com/afflux/feedsync/internal/winner"
)

// RunOpts configures one orchestrator run.
type RunOpts struct {
	// Sources restricts the run; empty means every registered provider.
	Sources []model.Source

	// Limit caps the candidates buffered per source: 1..500, default 200.
	Limit int

	// WinnerMode applies per-source winner selection before persisting and
	// the cross-source policy pass after all sources finish.
	WinnerMode bool
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 200
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// Engine orchestrates one pipeline per requested source. Pipelines share
// only the store, whose key-based upsert is the concurrency-safety boundary.
type Engine struct {
	store store.Store
	reg   *source.Registry
	cfg   config.IngestConfig

	// fetchFor picks the transport by URL scheme; overridable in tests.
	fetchFor func(url string) fetcher.Fetcher
}

// NewEngine creates an Engine wired to the given store and fetchers.
func NewEngine(st store.Store, httpF *fetcher.HTTPFetcher, ftpF *fetcher.FTPFetcher, reg *source.Registry, cfg config.IngestConfig) *Engine {
	return &Engine{
		store: st,
		reg:   reg,
		cfg:   cfg,
		fetchFor: func(url string) fetcher.Fetcher {
			return fetcher.ForURL(url, httpF, ftpF)
		},
	}
}

// Run executes the selected source pipelines concurrently and returns the
// aggregated report. A failure in one source never aborts its siblings; the
// only error returned here is an invalid source selection.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*model.RunReport, error) {
	started := time.Now()
	report := model.NewRunReport(started.UTC())
	log := zap.L().With(
		zap.String("component", "ingest.engine"),
		zap.String("run_id", report.RunID),
	)

	providers, err := e.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		log.Info("no sources selected")
		report.Finalize(started)
		return report, nil
	}

	log.Info("starting run",
		zap.Int("sources", len(providers)),
		zap.Int("limit", clampLimit(opts.Limit)),
		zap.Bool("winner_mode", opts.WinnerMode),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(providers))
	for _, p := range providers {
		g.Go(func() error {
			sr := e.runSource(gctx, p, opts)
			mu.Lock()
			report.Sources[p.Name()] = sr
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	if opts.WinnerMode {
		e.applyPolicy(ctx, report)
	}

	report.Finalize(started)
	log.Info("run complete",
		zap.Bool("ok", report.OK),
		zap.Int64("took_ms", report.TookMS),
	)
	return report, nil
}

// runSource executes one full pipeline: fetch, parse, normalize, score,
// select, persist. Every failure is recorded in the source report.
func (e *Engine) runSource(ctx context.Context, p source.Provider, opts RunOpts) *model.SourceReport {
	sr := &model.SourceReport{}
	log := zap.L().With(
		zap.String("component", "ingest.engine"),
		zap.String("source", string(p.Name())),
	)

	runID, err := e.store.StartRun(ctx, p.Name())
	if err != nil {
		// The run proceeds unlogged rather than losing the feed sync.
		log.Warn("failed to start ingest log entry", zap.Error(err))
		runID = 0
	}

	start := time.Now()
	candidates, err := e.collect(ctx, p, sr, clampLimit(opts.Limit))
	if err != nil {
		log.Error("pipeline failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		sr.AddError(err.Error())
		e.closeRun(ctx, runID, sr)
		return sr
	}

	if sr.Unchanged {
		e.closeRun(ctx, runID, sr)
		log.Info("feed unchanged, skipping ingest", zap.String("etag", sr.ETag))
		return sr
	}

	if opts.WinnerMode {
		before := len(candidates)
		candidates = winner.Select(candidates, winner.Caps{
			PerMerchant: e.cfg.MerchantCap,
			PerCategory: e.cfg.CategoryCap,
			PerBucket:   e.cfg.BucketCap,
			Global:      e.cfg.GlobalCap,
		})
		log.Debug("winner selection",
			zap.Int("candidates", before),
			zap.Int("selected", len(candidates)),
		)
	}

	e.persist(ctx, candidates, sr)
	e.closeRun(ctx, runID, sr)

	log.Info("source complete",
		zap.Int("fetched", sr.Fetched),
		zap.Int("normalized", sr.Normalized),
		zap.Int("upserted", sr.Upserted),
		zap.Int("skipped", sr.Skipped),
		zap.Int("errors", len(sr.Errors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return sr
}

// collect fetches and stream-parses the feed, normalizing and scoring each
// row. It returns at most limit candidates, deduplicated by external ID in
// feed order.
func (e *Engine) collect(ctx context.Context, p source.Provider, sr *model.SourceReport, limit int) ([]*model.Product, error) {
	feedURL := p.FeedURL()

	// One timeout covers the fetch and the forward-only parse of its body.
	srcCtx, cancel := context.WithTimeout(ctx, secsOrDefault(e.cfg.FetchTimeoutSecs, 120))
	defer cancel()

	res, err := e.fetch(srcCtx, p, sr)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: fetch %s feed", p.Name())
	}
	if res == nil {
		// ETag matched; sr is already marked unchanged.
		return nil, nil
	}
	defer res.Body.Close() //nolint:errcheck

	reader, err := feed.Open(res.Body, res.ContentType, feedURL)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s feed", p.Name())
	}

	normalizer := normalize.New(p.Name(), p.Fields(), p.Rules(e.cfg), normalize.Options{
		CategoryDepth: e.cfg.CategoryDepth,
		PriceBandLow:  e.cfg.PriceBandLow,
		PriceBandHigh: e.cfg.PriceBandHigh,
	})
	scoreCfg := score.Config{
		TrustUpstreamScores: e.cfg.TrustUpstreamScores,
		SweetSpotLow:        e.cfg.PriceBandLow,
		SweetSpotHigh:       e.cfg.PriceBandHigh,
	}
	canonOpts := canonical.Options{Strict: e.cfg.StrictCanonical}
	now := time.Now().UTC()

	// The parser invokes OnSkip from its own goroutine, so malformed-record
	// skips are counted atomically and folded into the report once the
	// stream is done.
	var parseSkips atomic.Int64
	rowCh, errCh := feed.Stream(srcCtx, reader, feed.Options{
		Delimiter: p.Delimiter(),
		OnSkip:    func(string, error) { parseSkips.Add(1) },
	})

	var candidates []*model.Product
	seen := make(map[string]bool)
	limitReached := false
	for row := range rowCh {
		sr.Fetched++

		result, reason := normalizer.Row(row)
		if reason != normalize.ReasonNone {
			sr.Skipped++
			continue
		}

		prod := result.Product
		if seen[prod.ExternalID] {
			sr.Skipped++
			continue
		}
		seen[prod.ExternalID] = true

		prod.CanonicalURL, prod.CanonicalHash = canonical.Canonicalize(prod.ProductURL, prod.LandingURL, canonOpts)
		prod.QualityScore = score.Compute(prod, result.UpstreamScore, scoreCfg, now)
		prod.Score = prod.QualityScore
		prod.WinnerTier = score.TierFor(prod.QualityScore)
		prod.LastSeenAt = now
		prod.UpdatedAt = now

		sr.Normalized++
		candidates = append(candidates, prod)
		if len(candidates) >= limit {
			limitReached = true
			cancel() // stop the parser; remaining rows are not consumed
			break
		}
	}

	if !limitReached {
		if err := <-errCh; err != nil {
			return nil, eris.Wrapf(err, "ingest: parse %s feed", p.Name())
		}
	}
	sr.Skipped += int(parseSkips.Load())
	return candidates, nil
}

// fetch downloads the provider's feed, sending an If-None-Match validator
// when the transport supports it and a prior run recorded an ETag. A nil
// result with nil error means the feed is unchanged and sr is marked so.
func (e *Engine) fetch(ctx context.Context, p source.Provider, sr *model.SourceReport) (*fetcher.Result, error) {
	feedURL := p.FeedURL()
	ft := e.fetchFor(feedURL)

	cf, ok := ft.(fetcher.ConditionalFetcher)
	if !ok {
		return ft.Fetch(ctx, feedURL)
	}

	etag, err := e.store.LastETag(ctx, p.Name())
	if err != nil {
		// A log-read failure must not block the sync; do a full fetch.
		zap.L().Warn("ingest: last etag lookup failed",
			zap.String("source", string(p.Name())),
			zap.Error(err),
		)
		etag = ""
	}

	res, unchanged, err := cf.FetchIfChanged(ctx, feedURL, etag)
	if err != nil {
		return nil, err
	}
	if unchanged {
		sr.Unchanged = true
		sr.ETag = etag
		return nil, nil
	}
	sr.ETag = res.ETag
	return res, nil
}

// persist writes candidates in bounded batches with retry. A failed batch is
// recorded and later batches still run; rows already written stay written.
func (e *Engine) persist(ctx context.Context, candidates []*model.Product, sr *model.SourceReport) {
	batchSize := e.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 250
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("store", "upsert_products")

	for start := 0; start < len(candidates); start += batchSize {
		// On deadline expiry the in-flight batch finishes (its context is
		// detached below) but no new batch starts.
		if ctx.Err() != nil {
			sr.AddError(eris.Wrap(ctx.Err(), "ingest: run deadline reached, remaining batches dropped").Error())
			return
		}

		end := min(start+batchSize, len(candidates))
		batch := make([]model.Product, 0, end-start)
		for _, p := range candidates[start:end] {
			batch = append(batch, *p)
		}

		err := resilience.Do(ctx, retryCfg, func(context.Context) error {
			bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), secsOrDefault(e.cfg.UpsertTimeoutSecs, 30))
			defer cancel()
			_, err := e.store.UpsertProducts(bctx, batch)
			return err
		})
		if err != nil {
			sr.AddError(eris.Wrapf(err, "ingest: upsert batch of %d", len(batch)).Error())
			continue
		}
		sr.Upserted += len(batch)
	}
}

// applyPolicy runs the cross-source winner policy; its failure is recorded
// separately and never invalidates already-upserted rows.
func (e *Engine) applyPolicy(ctx context.Context, report *model.RunReport) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), secsOrDefault(e.cfg.PolicyTimeoutSecs, 60))
	defer cancel()

	result, err := e.store.ApplyWinnerPolicy(pctx, store.PolicyCaps{
		MerchantCap: e.cfg.MerchantCap,
		CategoryCap: e.cfg.CategoryCap,
		GlobalCap:   e.cfg.GlobalCap,
	})
	if err != nil {
		zap.L().Error("winner policy failed", zap.Error(err))
		report.WinnerPolicyError = err.Error()
		return
	}
	report.WinnerPolicy = result
	zap.L().Info("winner policy applied",
		zap.Int64("deduplicated", result.Deduplicated),
		zap.Int64("deactivated", result.Deactivated),
		zap.Int64("winners", result.Winners),
	)
}

// closeRun records the outcome in the ingest log. runID 0 means the log
// entry never got created.
func (e *Engine) closeRun(ctx context.Context, runID int64, sr *model.SourceReport) {
	if runID == 0 {
		return
	}
	logCtx := context.WithoutCancel(ctx)
	var err error
	if len(sr.Errors) > 0 {
		err = e.store.FailRun(logCtx, runID, strings.Join(sr.Errors, "; "))
	} else {
		err = e.store.CompleteRun(logCtx, runID, sr)
	}
	if err != nil {
		zap.L().Warn("failed to record ingest log outcome", zap.Error(err))
	}
}

func secsOrDefault(secs, def int) time.Duration {
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs) * time.Second
}
