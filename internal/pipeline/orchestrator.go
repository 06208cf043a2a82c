// Package pipeline drives a job through its stages: discovery (for
// name-shaped inputs), crawling, extraction, and export. Bulk runs fan the
// same per-job pipeline out over a bounded worker pool.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/config"
	"github.com/dataharvest/harvester/internal/export"
	"github.com/dataharvest/harvester/internal/extract"
	"github.com/dataharvest/harvester/internal/model"
	"github.com/dataharvest/harvester/internal/store"
)

// Stage names recorded in job error info.
const (
	StageDiscovering = "discovering"
	StageCrawling    = "crawling"
	StageExtracting  = "extracting"
	StageExporting   = "exporting"
)

// Resolver finds a company's official website from its name.
type Resolver interface {
	Resolve(ctx context.Context, companyName, geography string) (string, error)
}

// Crawler fetches a site's pages under the mode's budgets.
type Crawler interface {
	Crawl(ctx context.Context, rawURL string, mode model.Mode) (*model.CrawlResult, error)
}

// Extractor turns a crawl into a profile.
type Extractor interface {
	Extract(ctx context.Context, crawl *model.CrawlResult) (*model.ExtractedProfile, error)
}

// Orchestrator runs jobs through the stage state machine, persisting every
// transition.
type Orchestrator struct {
	cfg       *config.Config
	store     store.Store
	resolver  Resolver
	crawler   Crawler
	extractor Extractor
}

// New creates an Orchestrator with all stage dependencies.
func New(cfg *config.Config, st store.Store, resolver Resolver, crawler Crawler, extractor Extractor) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		resolver:  resolver,
		crawler:   crawler,
		extractor: extractor,
	}
}

// Run executes one job end to end. The job record reflects every state
// transition; on a stage failure the job is marked failed with the stage name
// and the stage error is returned alongside the failed job.
func (o *Orchestrator) Run(ctx context.Context, mode model.Mode, input model.JobInput) (*model.Job, error) {
	if !input.Valid() {
		return nil, eris.New("pipeline: input needs a url or a company name")
	}

	job, err := o.store.CreateJob(ctx, mode, input)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create job")
	}

	log := zap.L().With(zap.String("job_id", job.ID), zap.String("mode", string(mode)))
	log.Info("pipeline: job started",
		zap.String("url", input.URL),
		zap.String("company", input.CompanyName),
	)

	// Discovery
	o.setState(ctx, job, model.JobStateDiscovering)
	siteURL := input.URL
	if input.IsName() {
		siteURL, err = o.resolver.Resolve(ctx, input.CompanyName, input.Geography)
		if err != nil {
			return o.fail(ctx, job, StageDiscovering, err)
		}
		log.Info("pipeline: website resolved", zap.String("url", siteURL))
	}

	// Crawling
	o.setState(ctx, job, model.JobStateCrawling)
	crawl, err := o.crawler.Crawl(ctx, siteURL, mode)
	if err != nil {
		return o.fail(ctx, job, StageCrawling, err)
	}
	log.Info("pipeline: crawl finished",
		zap.Int("pages", crawl.PagesVisited),
		zap.Bool("truncated", crawl.Truncated),
	)

	// Extraction
	o.setState(ctx, job, model.JobStateExtracting)
	profile, err := o.extractor.Extract(ctx, crawl)
	if err != nil {
		return o.fail(ctx, job, StageExtracting, err)
	}
	extract.Assemble(profile, crawl, input.CompanyName)

	// Export
	o.setState(ctx, job, model.JobStateExporting)
	artifactID, err := o.exportProfiles(ctx, jobFilename(job.ID), []model.ExtractedProfile{*profile})
	if err != nil {
		return o.fail(ctx, job, StageExporting, err)
	}

	if err := o.store.CompleteJob(ctx, job.ID, profile, artifactID); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete job")
	}
	job.State = model.JobStateCompleted
	job.Result = profile
	job.ArtifactRef = artifactID

	log.Info("pipeline: job completed",
		zap.String("company", profile.CompanyName),
		zap.String("verification", string(profile.Verification)),
	)
	return job, nil
}

// exportProfiles writes an XLSX workbook and registers it, returning the
// artifact ID.
func (o *Orchestrator) exportProfiles(ctx context.Context, filename string, profiles []model.ExtractedProfile) (string, error) {
	data, err := export.WriteProfiles(profiles)
	if err != nil {
		return "", err
	}

	artifact := model.Artifact{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentType: model.ArtifactContentType,
		Data:        data,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.PutArtifact(ctx, artifact); err != nil {
		return "", err
	}
	return artifact.ID, nil
}

func (o *Orchestrator) setState(ctx context.Context, job *model.Job, state model.JobState) {
	job.State = state
	if err := o.store.UpdateJobState(ctx, job.ID, state); err != nil {
		zap.L().Warn("pipeline: failed to persist state",
			zap.String("job_id", job.ID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) fail(ctx context.Context, job *model.Job, stage string, cause error) (*model.Job, error) {
	errInfo := model.ErrorInfo{Stage: stage, Message: cause.Error()}
	if err := o.store.FailJob(ctx, job.ID, errInfo); err != nil {
		zap.L().Warn("pipeline: failed to persist failure",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
	job.State = model.JobStateFailed
	job.Error = &errInfo

	zap.L().Error("pipeline: job failed",
		zap.String("job_id", job.ID),
		zap.String("stage", stage),
		zap.Error(cause),
	)
	return job, cause
}

func jobFilename(jobID string) string {
	return fmt.Sprintf("company_%s.xlsx", shortID(jobID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
