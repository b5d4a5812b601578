package scheduler

// threadSet tracks which execution threads currently have a running task.
// Unlike a keyed mutex it never blocks: the pump skips a task whose thread is
// held and comes back to it once the holder settles.
type threadSet map[string]struct{}

// held reports whether a task is running on threadID.
func (t threadSet) held(threadID string) bool {
	_, ok := t[threadID]
	return ok
}

// acquire claims threadID. Returns false if it was already held.
func (t threadSet) acquire(threadID string) bool {
	if t.held(threadID) {
		return false
	}
	t[threadID] = struct{}{}
	return true
}

// release frees threadID. Releasing a free thread is a no-op.
func (t threadSet) release(threadID string) {
	delete(t, threadID)
}
