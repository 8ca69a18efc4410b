package queue

import (
	"context"
	"fmt"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Consumer drains one queue through a handler.
type Consumer struct {
	Queue  Queue
	Name   string
	Batch  int
	Handle Handler
}

// Drain handles due jobs until the queue has none left or a pass makes no
// progress.
func (c Consumer) Drain(ctx context.Context) (int, error) {
	batch := c.Batch
	if batch <= 0 {
		batch = 50
	}
	total := 0
	for {
		n, err := c.Queue.Process(ctx, c.Name, batch, c.Handle)
		total += n
		if err != nil || n == 0 || n < batch {
			return total, err
		}
	}
}

// SpecParser accepts five- or six-field specs and descriptors like
// "@every 2s".
var SpecParser = rcron.NewParser(rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// Task is a function run on a cron schedule.
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Scheduler runs tasks on their schedules until the context ends. A task
// still running when its next tick fires skips that tick.
type Scheduler struct {
	Log   *zap.Logger
	Tasks []Task
}

func (s Scheduler) Run(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := rcron.New(
		rcron.WithParser(SpecParser),
		rcron.WithChain(rcron.Recover(cronLogger{log}), rcron.SkipIfStillRunning(cronLogger{log})),
	)
	for _, t := range s.Tasks {
		if _, err := c.AddFunc(t.Schedule, func() { t.Run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s (%s): %w", t.Name, t.Schedule, err)
		}
		log.Info("scheduled worker", zap.String("task", t.Name), zap.String("schedule", t.Schedule))
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
