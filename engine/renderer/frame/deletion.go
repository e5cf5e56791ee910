package frame

import "github.com/spaghettifunk/vkguide/engine/core"

// Destroyer is anything the deletion queue can release.
type Destroyer interface {
	Destroy()
}

// DestroyFunc adapts a closure to Destroyer.
type DestroyFunc func()

func (f DestroyFunc) Destroy() {
	f()
}

// Deletion is one teardown entry. Tag names the owner for logging.
type Deletion struct {
	Tag      string
	Resource Destroyer
}

// DeletionQueue releases resources in the reverse order they were registered,
// so anything created later (and possibly depending on earlier objects) goes first.
type DeletionQueue struct {
	entries []Deletion
}

func NewDeletionQueue() *DeletionQueue {
	return &DeletionQueue{}
}

func (q *DeletionQueue) Push(tag string, res Destroyer) {
	if res == nil {
		core.LogWarn("deletion queue: ignoring nil resource %s", tag)
		return
	}
	q.entries = append(q.entries, Deletion{Tag: tag, Resource: res})
}

func (q *DeletionQueue) PushFunc(tag string, fn func()) {
	if fn == nil {
		core.LogWarn("deletion queue: ignoring nil func %s", tag)
		return
	}
	q.Push(tag, DestroyFunc(fn))
}

// Flush runs every entry newest first and leaves the queue empty. Entries
// pushed by a running action are run in the same flush.
func (q *DeletionQueue) Flush() {
	for len(q.entries) > 0 {
		i := len(q.entries) - 1
		e := q.entries[i]
		q.entries[i] = Deletion{}
		q.entries = q.entries[:i]
		core.LogDebug("destroying %s", e.Tag)
		e.Resource.Destroy()
	}
}

func (q *DeletionQueue) Len() int {
	return len(q.entries)
}

// Pending returns the tags still owned by the queue, oldest first.
func (q *DeletionQueue) Pending() []string {
	tags := make([]string, len(q.entries))
	for i, e := range q.entries {
		tags[i] = e.Tag
	}
	return tags
}
