package timeline

import "sync"

// FindExit scans batch newest-first and returns the info of the first exit
// event found, or nil.
func FindExit(batch []Event) *ExitInfo {
	for i := len(batch) - 1; i >= 0; i-- {
		ev := batch[i]
		if !ev.IsExit() {
			continue
		}
		meta := Metadata(ev.Metadata)
		return &ExitInfo{
			Reason:        firstNonEmpty(meta.String("reason"), ev.RawContent),
			Stage:         firstNonEmpty(meta.String("exit_stage"), meta.String("stage"), ev.Stage),
			MissionStatus: firstNonEmpty(meta.String("mission_status"), meta.String("missionStatus")),
			At:            ev.CreatedAt,
		}
	}
	return nil
}

// exitLatch holds the first exit observed for a subscription.
// Later exits are ignored, even ones with an earlier CreatedAt.
type exitLatch struct {
	mu   sync.Mutex
	info *ExitInfo
}

// Observe latches the exit in batch if none is latched yet. It reports true
// only on the call that latched.
func (l *exitLatch) Observe(batch []Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.info != nil {
		return false
	}
	info := FindExit(batch)
	if info == nil {
		return false
	}
	l.info = info
	return true
}

// Info returns a copy of the latched exit, or nil.
func (l *exitLatch) Info() *ExitInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.info == nil {
		return nil
	}
	info := *l.info
	return &info
}

// Reset clears the latch. Only a subscription key change does this.
func (l *exitLatch) Reset() {
	l.mu.Lock()
	l.info = nil
	l.mu.Unlock()
}
