package textstore

import "context"

// Task is an in-flight asynchronous resolution of one record's raw text.
type Task struct {
	id   string
	rec  *Record // guarded by the store lock
	raw  string
	done chan struct{}
	text string
	ok   bool
}

func newTask(rec *Record, raw string) *Task {
	return &Task{id: rec.ID, rec: rec, raw: raw, done: make(chan struct{})}
}

// ID is the identifier the record had when the task started.
func (t *Task) ID() string { return t.id }

// Raw is the raw text snapshot being resolved.
func (t *Task) Raw() string { return t.raw }

// Done is closed once the result has been offered to the store.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the resolved text and whether the store accepted it. A
// result is rejected when the record's raw text changed, or the record was
// deleted, while the task was running. Valid after Done is closed.
func (t *Task) Result() (text string, applied bool) {
	return t.text, t.ok
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
		return t.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Task) finish(text string, applied bool) {
	t.text = text
	t.ok = applied
	close(t.done)
}

// Resolution is the outcome of a resolved-mode read or write. It is either
// Resolved, carrying final text, or Pending, carrying a running Task and
// the stale text to show until the task completes.
type Resolution struct {
	text string
	task *Task
}

// Resolved builds a final resolution.
func Resolved(text string) Resolution { return Resolution{text: text} }

// Pending builds a resolution still waiting on task; fallback is shown meanwhile.
func Pending(task *Task, fallback string) Resolution {
	return Resolution{text: fallback, task: task}
}

// Text returns the final text, or the fallback of a pending resolution.
func (r Resolution) Text() string { return r.text }

// IsPending reports whether the text is a stale placeholder.
func (r Resolution) IsPending() bool { return r.task != nil }

// Task returns the running task of a pending resolution, or nil.
func (r Resolution) Task() *Task { return r.task }
