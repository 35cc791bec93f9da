package store

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor runs recurring maintenance jobs (such as the client's checkpoint
// expiry sweep) on cron schedules. One Janitor per
// process; jobs are registered before Start.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewJanitor builds a Janitor logging through logger at debug level.
func NewJanitor(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithLogger(
		cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	return &Janitor{cron: c, logger: logger}
}

// Add registers job to run on schedule (a cron expression, or a descriptor
// like "@every 1m").
func (j *Janitor) Add(name, schedule string, job func()) error {
	_, err := j.cron.AddFunc(schedule, job)
	if err != nil {
		return err
	}
	j.logger.Info("JANITOR_JOB_REGISTERED",
		slog.String("job", name),
		slog.String("schedule", schedule))
	return nil
}

// Start begins running registered jobs in their own goroutines.
func (j *Janitor) Start() { j.cron.Start() }

// Stop stops scheduling new runs; running jobs finish.
func (j *Janitor) Stop() { j.cron.Stop() }
