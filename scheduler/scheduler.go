package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkashyap/hireflow/logger"
	"github.com/nkashyap/hireflow/persistence"
	"github.com/nkashyap/hireflow/util"
	"go.uber.org/zap"
)

type wakeup struct {
	ExecutionId string
	StepOrder   int
}

// Scheduler fires Advance for steps whose activation delay has elapsed.
//
// The durable mechanism is a tick worker polling the storage for scheduled
// steps that are due, so wake-ups are re-derived from persisted state after a
// process restart. ScheduleFor additionally arms an in-memory timer to make
// the wake-up prompt between ticks; losing those timers is harmless.
// Duplicate wake-ups for one step are coalesced by Advance's re-entrancy
// guard.
type Scheduler struct {
	storage  persistence.ExecutionStorage
	advance  func(executionId string) error
	interval time.Duration
	now      func() time.Time
	worker   *util.Worker
	tick     *util.TickWorker
	tickStop chan struct{}
	stopped  atomic.Bool
	wg       *sync.WaitGroup
}

func New(storage persistence.ExecutionStorage, advance func(executionId string) error, interval time.Duration, workerCapacity int, wg *sync.WaitGroup) *Scheduler {
	s := &Scheduler{
		storage:  storage,
		advance:  advance,
		interval: interval,
		now:      time.Now,
		tickStop: make(chan struct{}),
		wg:       wg,
	}
	s.worker = util.NewWorker("wakeup-worker", wg, s.handle, workerCapacity)
	s.tick = util.NewTickWorker("scheduler-ticker", interval, s.tickStop, func() {
		s.ProcessDue(s.now())
	}, wg)
	return s
}

func (s *Scheduler) handle(task util.Task) error {
	w := task.(wakeup)
	logger.Debug("delay elapsed, advancing", zap.String("executionId", w.ExecutionId), zap.Int("step", w.StepOrder))
	return s.advance(w.ExecutionId)
}

// Start recovers persisted wake-ups before the ticker begins, so no delayed
// step is lost across a restart.
func (s *Scheduler) Start() {
	s.worker.Start()
	s.Recover()
	s.tick.Start()
}

func (s *Scheduler) Stop() {
	s.stopped.Store(true)
	s.tick.Stop()
	s.worker.Stop()
}

// Recover scans storage for scheduled steps, due or future. Due ones are
// dispatched immediately; future ones are left to the ticker.
func (s *Scheduler) Recover() {
	s.ProcessDue(s.now())
}

// ProcessDue dispatches a wake-up for every scheduled step whose delay has
// elapsed at the given instant.
func (s *Scheduler) ProcessDue(now time.Time) {
	due, err := s.storage.ScheduledStepsDue(now)
	if err != nil {
		logger.Error("error while polling scheduled steps", zap.Error(err))
		return
	}
	for _, step := range due {
		s.worker.Sender() <- wakeup{ExecutionId: step.ExecutionId, StepOrder: step.OrderNumber}
	}
}

// ScheduleFor arms an in-memory timer for one step's wake-up. The persisted
// scheduled record remains the source of truth; the ticker is the backstop.
func (s *Scheduler) ScheduleFor(executionId string, stepOrder int, eligibleAt time.Time, delaySeconds int) {
	wakeAt := eligibleAt.Add(time.Duration(delaySeconds) * time.Second)
	delay := time.Until(wakeAt)
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, func() {
		if s.stopped.Load() {
			return
		}
		s.worker.Sender() <- wakeup{ExecutionId: executionId, StepOrder: stepOrder}
	})
}
