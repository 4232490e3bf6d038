package exec

import "context"

// register creates the per-session state for a run.
func (e *Executor) register(sessionID string, cancel context.CancelFunc, pending int) *execState {
	st := &execState{
		cancel: cancel,
		counts: Progress{SessionID: sessionID, Pending: pending},
	}
	e.mu.Lock()
	e.sessions[sessionID] = st
	e.mu.Unlock()
	return st
}

func (e *Executor) unregister(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

func (e *Executor) state(sessionID string) *execState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sessions[sessionID]
}

// GetProgress returns the live progress for a session, or false if
// no execution is registered under that id.
func (e *Executor) GetProgress(sessionID string) (Progress, bool) {
	st := e.state(sessionID)
	if st == nil {
		return Progress{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	p := st.counts
	p.CurrentStep = st.current
	if t := p.total(); t > 0 {
		p.Ratio = float64(p.Completed) / float64(t)
	}
	return p, true
}

// Cancel aborts a running execution. Cancelling an unknown or
// already-finished session is not an error.
func (e *Executor) Cancel(sessionID string) {
	st := e.state(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	cancel := st.cancel
	// Unblock a paused loop so it can observe the cancellation.
	if st.paused {
		st.paused = false
		close(st.resume)
		st.resume = nil
	}
	st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause suspends execution at the next step boundary. Pausing an
// unknown session is a no-op.
func (e *Executor) Pause(sessionID string) {
	st := e.state(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.paused {
		st.paused = true
		st.resume = make(chan struct{})
	}
}

// Resume releases a paused execution.
func (e *Executor) Resume(sessionID string) {
	st := e.state(sessionID)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.paused {
		st.paused = false
		close(st.resume)
		st.resume = nil
	}
}

// waitIfPaused blocks while the session is paused, racing against
// cancellation.
func (st *execState) waitIfPaused(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st.mu.Lock()
	if !st.paused {
		st.mu.Unlock()
		return nil
	}
	resume := st.resume
	st.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-resume:
		return ctx.Err()
	}
}

func (st *execState) setCurrent(name string, counts Progress) {
	st.mu.Lock()
	st.current = name
	counts.SessionID = st.counts.SessionID
	st.counts = counts
	st.mu.Unlock()
}

// countOf derives progress counters from step statuses.
func countOf(statuses map[string]StepStatus) Progress {
	var p Progress
	for _, s := range statuses {
		switch s {
		case StepCompleted:
			p.Completed++
		case StepFailed, StepCancelled:
			p.Failed++
		case StepRunning, StepRetrying:
			p.Running++
		case StepPending:
			p.Pending++
		}
	}
	return p
}
