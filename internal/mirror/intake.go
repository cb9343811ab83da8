package mirror

import (
	"context"
	"fmt"

	"customstream/internal/catalog"
)

// EnqueuedEntry is one product admitted to the queue.
type EnqueuedEntry struct {
	ProductID string `json:"product_id"`
	JobID     int    `json:"job_id"`
}

// SkippedEntry is one product rejected by admission, with the reason.
type SkippedEntry struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

// IntakeResult is the `{enqueued[], skipped[]}` shape returned by a mirror
// submission.
type IntakeResult struct {
	Enqueued []EnqueuedEntry `json:"enqueued"`
	Skipped  []SkippedEntry  `json:"skipped"`
}

// EnqueuedCount and SkippedCount are convenience accessors for the admin API
// response.
func (r *IntakeResult) EnqueuedCount() int { return len(r.Enqueued) }
func (r *IntakeResult) SkippedCount() int  { return len(r.Skipped) }

// Intake is the admission contract for mirror requests:
// mirror(index_url, product_ids[]) -> {enqueued[], skipped[]}.
type Intake struct {
	store   *catalog.Store
	trigger func()
}

// NewIntake builds an Intake. trigger is called once after a successful
// commit with at least one enqueue, to wake the worker.
func NewIntake(store *catalog.Store, trigger func()) *Intake {
	return &Intake{store: store, trigger: trigger}
}

// Submit admits each product_id in order: skip if already mirroring, skip
// if already queued/running, otherwise enqueue a new MirrorJob. The
// admission check and insert run inside one transaction so concurrent
// submissions for the same product can't both enqueue.
func (in *Intake) Submit(ctx context.Context, indexURL string, productIDs []string) (*IntakeResult, error) {
	if indexURL == "" {
		return nil, Validationf("index_url is required")
	}
	if len(productIDs) == 0 {
		return nil, Validationf("product_ids must not be empty")
	}

	tx, err := in.store.BeginTx(ctx)
	if err != nil {
		return nil, Invariantf(err, "begin intake transaction")
	}
	defer tx.Rollback()

	result := &IntakeResult{}

	for _, productID := range productIDs {
		mirroring, err := in.store.Images.CountMirroring(ctx, tx, productID)
		if err != nil {
			return nil, Invariantf(err, "check mirroring images for %s", productID)
		}
		if mirroring > 0 {
			result.Skipped = append(result.Skipped, SkippedEntry{ProductID: productID, Reason: "already mirroring"})
			continue
		}

		active, err := in.store.Jobs.CountActiveByProductID(ctx, tx, productID)
		if err != nil {
			return nil, Invariantf(err, "check active jobs for %s", productID)
		}
		if active > 0 {
			result.Skipped = append(result.Skipped, SkippedEntry{ProductID: productID, Reason: "already queued"})
			continue
		}

		job, err := in.store.Jobs.Create(ctx, tx, productID, indexURL)
		if err != nil {
			return nil, Invariantf(err, "create job for %s", productID)
		}
		result.Enqueued = append(result.Enqueued, EnqueuedEntry{ProductID: productID, JobID: job.ID})
	}

	if len(result.Enqueued) == 0 {
		return nil, Validationf("no products selected for mirroring")
	}

	if err := tx.Commit(); err != nil {
		return nil, Invariantf(err, "commit intake transaction")
	}

	if in.trigger != nil {
		in.trigger()
	}

	return result, nil
}

var _ fmt.Stringer = (*IntakeResult)(nil)

func (r *IntakeResult) String() string {
	return fmt.Sprintf("enqueued=%d skipped=%d", len(r.Enqueued), len(r.Skipped))
}
