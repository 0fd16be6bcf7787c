package sweeps

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

type OfferSweepArgs struct{}

func (OfferSweepArgs) Kind() string { return NameOfferSweep }

// InsertOpts disables job-level retries; failed items are picked up by the next run.
func (OfferSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type SLASweepArgs struct{}

func (SLASweepArgs) Kind() string { return NameSLASweep }

func (SLASweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

// Sweeper is what the workers need from Runner.
type Sweeper interface {
	RunOfferSweep(ctx context.Context) (Summary, error)
	RunSLASweep(ctx context.Context) (Summary, error)
}

type OfferSweepWorker struct {
	river.WorkerDefaults[OfferSweepArgs]
	sweeper Sweeper
}

func NewOfferSweepWorker(s Sweeper) *OfferSweepWorker {
	return &OfferSweepWorker{sweeper: s}
}

func (w *OfferSweepWorker) Work(ctx context.Context, _ *river.Job[OfferSweepArgs]) error {
	_, err := w.sweeper.RunOfferSweep(ctx)
	return err
}

type SLASweepWorker struct {
	river.WorkerDefaults[SLASweepArgs]
	sweeper Sweeper
}

func NewSLASweepWorker(s Sweeper) *SLASweepWorker {
	return &SLASweepWorker{sweeper: s}
}

func (w *SLASweepWorker) Work(ctx context.Context, _ *river.Job[SLASweepArgs]) error {
	_, err := w.sweeper.RunSLASweep(ctx)
	return err
}

// AddWorkers registers both sweep workers.
func AddWorkers(workers *river.Workers, s Sweeper) {
	river.AddWorker(workers, NewOfferSweepWorker(s))
	river.AddWorker(workers, NewSLASweepWorker(s))
}

// PeriodicJobs schedules both sweeps every interval, starting as soon as the client starts.
func PeriodicJobs(interval time.Duration) []*river.PeriodicJob {
	opts := &river.PeriodicJobOpts{RunOnStart: true}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(river.PeriodicInterval(interval), func() (river.JobArgs, *river.InsertOpts) {
			return OfferSweepArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(interval), func() (river.JobArgs, *river.InsertOpts) {
			return SLASweepArgs{}, nil
		}, opts),
	}
}
