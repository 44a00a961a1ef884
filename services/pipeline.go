package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rental-crawler/models"
	"rental-crawler/scraper"
	"rental-crawler/scraper/wggesucht"
	"rental-crawler/storage"
	"rental-crawler/utils"
)

// Crawler runs one search pass and reports every visited candidate.
type Crawler interface {
	Crawl(ctx context.Context, req wggesucht.CrawlRequest, summary *models.RunSummary, handle wggesucht.Handler)
}

// PipelineStore is the persistence a crawl pass needs.
type PipelineStore interface {
	storage.ListingStore
	storage.RunStore
}

// Pipeline wires crawl → normalize → validate → upsert → match for one
// search and records the run summary.
type Pipeline struct {
	crawler      Crawler
	normalizer   *Normalizer
	store        PipelineStore
	matcher      *Matcher
	logger       *utils.Logger
	platform     models.Platform
	recrawlLimit int
	now          func() time.Time
}

// NewPipeline creates a Pipeline. matcher may be nil to skip matching.
func NewPipeline(crawler Crawler, normalizer *Normalizer, store PipelineStore, matcher *Matcher, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		crawler:      crawler,
		normalizer:   normalizer,
		store:        store,
		matcher:      matcher,
		logger:       logger,
		platform:     models.PlatformWGGesucht,
		recrawlLimit: 50,
		now:          time.Now,
	}
}

// Run crawls a single search. It always returns a summary; the error is
// non-nil only when the summary itself could not be persisted.
func (p *Pipeline) Run(ctx context.Context, filter models.SearchFilter, prefs []models.UserSearchPreference) (*models.RunSummary, error) {
	summaries, err := p.RunSearches(ctx, []models.SearchFilter{filter}, prefs, true)
	return summaries[0], err
}

// RunSearches runs one pass per search and records a summary for each.
// Active listings no search saw count one missed pass per crawl, judged
// against the crawl's start. Missed passes are counted only when
// countMissed is set and every search completed.
func (p *Pipeline) RunSearches(ctx context.Context, searches []models.SearchFilter, prefs []models.UserSearchPreference, countMissed bool) ([]*models.RunSummary, error) {
	crawlStarted := p.now().UTC()
	var (
		summaries []*models.RunSummary
		errs      []error
		complete  = countMissed
	)
	for _, filter := range searches {
		if len(summaries) > 0 && ctx.Err() != nil {
			complete = false
			break
		}
		summary := p.runSearch(ctx, filter, prefs)
		if !summary.Complete() {
			complete = false
		}
		summaries = append(summaries, summary)
		if err := p.save(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	if len(summaries) == 0 {
		return nil, nil
	}

	switch {
	case !countMissed:
		p.logger.Info("[pipeline] Partial search selection, missed passes not counted")
	case !complete:
		p.logger.Warn("[pipeline] Crawl incomplete, missed passes not counted")
	default:
		n, err := p.store.MarkMissed(ctx, p.platform, crawlStarted)
		if err != nil {
			last := summaries[len(summaries)-1]
			last.AddError("storage", "", fmt.Sprintf("mark missed: %v", err))
			if err := p.save(ctx, last); err != nil {
				errs = append(errs, err)
			}
		} else {
			p.logger.Info("[pipeline] %d listings missed this crawl", n)
		}
	}
	return summaries, errors.Join(errs...)
}

func (p *Pipeline) runSearch(ctx context.Context, filter models.SearchFilter, prefs []models.UserSearchPreference) *models.RunSummary {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		Platform:  p.platform,
		Search:    filter.Name,
		StartedAt: p.now().UTC(),
	}
	log := p.logger.With("run", summary.RunID)
	log.Info("[pipeline] Starting run for search %q", filter.Name)

	req := wggesucht.CrawlRequest{Filter: filter}
	if prev, err := p.store.LatestRun(ctx, p.platform, filter.Name); err == nil {
		req.PreviousFound = prev.Found
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Warn("[pipeline] Could not load previous run: %v", err)
	}

	recrawl, err := p.store.ListRecrawl(ctx, p.platform, p.recrawlLimit)
	if err != nil {
		log.Warn("[pipeline] Could not load recrawl candidates: %v", err)
	}
	req.Recrawl = recrawl

	p.crawler.Crawl(ctx, req, summary, func(ctx context.Context, o wggesucht.Outcome) {
		p.handle(ctx, o, summary, prefs, log)
	})
	if !summary.Complete() {
		log.Warn("[pipeline] Search incomplete (blocked=%v, structure_broken=%v)",
			summary.Blocked, summary.StructureBroken)
	}

	summary.FinishedAt = p.now().UTC()
	log.Info("[pipeline] Run finished: found=%d saved=%d created=%d updated=%d failed=%d gone=%d skipped=%d matches=%d",
		summary.Found, summary.Saved, summary.Created, summary.Updated, summary.Failed,
		summary.Gone, summary.Skipped, summary.MatchesCreated)
	return summary
}

// save persists summary even when the run context was cancelled.
func (p *Pipeline) save(ctx context.Context, summary *models.RunSummary) error {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.SaveRun(saveCtx, summary); err != nil {
		return fmt.Errorf("pipeline: save run %s: %w", summary.RunID, err)
	}
	return nil
}

// handle processes one outcome. Calls are serialized by the crawler.
func (p *Pipeline) handle(ctx context.Context, o wggesucht.Outcome, summary *models.RunSummary, prefs []models.UserSearchPreference, log *utils.Logger) {
	if o.Raw == nil {
		switch kind := scraper.Kind(o.Err); kind {
		case scraper.KindTransient, scraper.KindInternal, scraper.KindBlocked, scraper.KindSkipped:
			if err := p.store.FlagRecrawl(ctx, o.Stub, string(kind)); err != nil {
				log.Warn("[pipeline] Could not flag %s for recrawl: %v", o.Stub.ExternalID, err)
			}
		case scraper.KindGone:
			key := models.ListingKey{Platform: o.Stub.Platform, ExternalID: o.Stub.ExternalID}
			if err := p.store.ClearRecrawl(ctx, key); err != nil {
				log.Warn("[pipeline] Could not drop %s from recrawl: %v", o.Stub.ExternalID, err)
			}
		}
		return
	}

	raw := *o.Raw
	if scraper.Kind(o.Err) == scraper.KindPartial {
		summary.Partial++
		if raw.RecrawlReason == "" {
			raw.RecrawlReason = "partial"
		}
	}

	rec, warnings := p.normalizer.Normalize(raw)
	if len(warnings) > 0 {
		log.Debug("[pipeline] %s: %d normalization warnings", rec.ExternalID, len(warnings))
	}
	if err := Validate(rec); err != nil {
		summary.Failed++
		summary.AddError("validation", raw.URL, err.Error())
		return
	}

	result, err := p.store.Upsert(ctx, &rec)
	if err != nil {
		summary.Failed++
		summary.AddError("storage", rec.URL, err.Error())
		if ferr := p.store.FlagRecrawl(ctx, o.Stub, "storage"); ferr != nil {
			log.Warn("[pipeline] Could not flag %s for recrawl: %v", o.Stub.ExternalID, ferr)
		}
		return
	}
	summary.Saved++
	switch result {
	case storage.Created:
		summary.Created++
	case storage.Updated:
		summary.Updated++
	case storage.Unchanged:
		summary.Unchanged++
	}

	if p.matcher == nil || len(prefs) == 0 {
		return
	}
	n, err := p.matcher.MatchListing(ctx, rec, prefs)
	summary.MatchesCreated += n
	if err != nil {
		summary.AddError("storage", rec.URL, err.Error())
	}
}
