package callmgr

// RunLoop is a serial executor: a single goroutine draining a task queue.
// The CallManager dispatches every CallIDMapper and alias-table operation
// onto its run loop, so all registry state is mutated from exactly one
// goroutine and the maps need no locks.
type RunLoop struct {
	tasks chan func()
	done  chan struct{}
}

func NewRunLoop() *RunLoop {
	return &RunLoop{
		tasks: make(chan func(), 128),
		done:  make(chan struct{}),
	}
}

// Run drains the task queue until Stop is called. Start it as
// `go loop.Run()` once, before any dispatch.
func (l *RunLoop) Run() {
	for {
		select {
		case task := <-l.tasks:
			task()
		case <-l.done:
			// drain whatever was queued before the stop
			for {
				select {
				case task := <-l.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Do schedules `task` on the loop goroutine and returns immediately.
func (l *RunLoop) Do(task func()) {
	l.tasks <- task
}

// DoSync schedules `task` and blocks until it has run. Must not be called
// from the loop goroutine itself.
func (l *RunLoop) DoSync(task func()) {
	ran := make(chan struct{})
	l.tasks <- func() {
		task()
		close(ran)
	}
	<-ran
}

// Stop terminates Run once the currently queued tasks complete.
func (l *RunLoop) Stop() {
	close(l.done)
}
