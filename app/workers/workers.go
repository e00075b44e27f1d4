package workers

import (
	"time"

	"guilded/m/v2/app/ai"
	"guilded/m/v2/app/config"
)

const DAY_FOR_MONTHLY_RUNS = 1

type Worker struct {
	Interval time.Duration
	AppName  string
	Monthly  bool
	AI       *ai.API
	Run      func()
	Stop     chan struct{}
}

func NewWorker(ai *ai.API, cfg *config.Config, interval time.Duration, run func(), monthly bool) *Worker {
	return &Worker{
		Interval: interval,
		AppName:  cfg.AppName,
		Monthly:  monthly,
		AI:       ai,
		Run:      run,
		Stop:     make(chan struct{}),
	}
}

func (w *Worker) Start() {
	if w.shouldRun(time.Now()) {
		w.Run()
	}
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if w.shouldRun(time.Now()) {
				w.Run()
			}
		case <-w.Stop:
			return
		}
	}
}

// monthly workers only run on the first day of the month, UTC
func (w *Worker) shouldRun(now time.Time) bool {
	return !w.Monthly || now.UTC().Day() == DAY_FOR_MONTHLY_RUNS
}

func (w *Worker) StopWorker() {
	w.Stop <- struct{}{}
}
