package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dataharvest/harvester/internal/model"
)

// ErrRowInputInvalid marks a bulk row with neither a URL nor a company name.
var ErrRowInputInvalid = eris.New("row has no url or company name")

// RunBulk fans inputs out to independent job runs over a bounded worker pool.
// Results land at their input row index no matter which worker finishes
// first, so the output table lines up with the input file. Invalid rows are
// rejected up front without consuming a worker slot; a single failing row
// never aborts the batch.
func (o *Orchestrator) RunBulk(ctx context.Context, mode model.Mode, inputs []model.JobInput) (*model.BulkJob, error) {
	if len(inputs) == 0 {
		return nil, eris.New("pipeline: bulk run needs at least one row")
	}

	bulk := &model.BulkJob{
		ID:        uuid.NewString(),
		Mode:      mode,
		Rows:      make([]model.RowResult, len(inputs)),
		CreatedAt: time.Now().UTC(),
	}
	for i, in := range inputs {
		bulk.Rows[i] = model.RowResult{RowIndex: i, Input: in}
		if !in.Valid() {
			bulk.Rows[i].Error = &model.ErrorInfo{
				Stage:   "input",
				Message: ErrRowInputInvalid.Error(),
			}
		}
	}

	if err := o.store.CreateBulkJob(ctx, bulk); err != nil {
		return nil, eris.Wrap(err, "pipeline: create bulk job")
	}

	log := zap.L().With(zap.String("bulk_id", bulk.ID), zap.String("mode", string(mode)))
	log.Info("pipeline: bulk run started", zap.Int("rows", len(inputs)))

	concurrency := o.cfg.Bulk.MaxConcurrentRows
	if concurrency <= 0 {
		concurrency = 5
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range bulk.Rows {
		if bulk.Rows[i].Error != nil {
			continue
		}
		g.Go(func() error {
			job, err := o.Run(gctx, mode, bulk.Rows[i].Input)
			// Each goroutine writes only its own index. A terminal row
			// carries either the completed job or the failure record,
			// never both; the failed job itself stays queryable by ID.
			switch {
			case err == nil:
				bulk.Rows[i].Job = job
			case job != nil && job.Error != nil:
				bulk.Rows[i].Error = job.Error
			default:
				bulk.Rows[i].Error = &model.ErrorInfo{Stage: "run", Message: err.Error()}
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // row failures are recorded, never propagated

	if ctx.Err() != nil {
		return bulk, eris.Wrap(ctx.Err(), "pipeline: bulk run interrupted")
	}

	// Combined workbook over the successful rows, in row order.
	artifactID, err := o.exportProfiles(ctx, bulkFilename(bulk.ID), bulk.Profiles())
	if err != nil {
		return bulk, eris.Wrap(err, "pipeline: export bulk workbook")
	}
	bulk.ArtifactRef = artifactID

	if err := o.store.UpdateBulkJob(ctx, bulk); err != nil {
		return bulk, eris.Wrap(err, "pipeline: update bulk job")
	}

	log.Info("pipeline: bulk run finished",
		zap.Int("succeeded", len(bulk.Profiles())),
		zap.Int("failed", len(bulk.Errors())),
	)
	return bulk, nil
}

func bulkFilename(bulkID string) string {
	return fmt.Sprintf("companies_%s.xlsx", shortID(bulkID))
}
