package pool

// Task is a unit of work submitted to a Pool. Execute runs the work and
// returns the value delivered to the submitter's Future. A non-nil error is
// delivered in place of a value; the pool never retries.
type Task interface {
	Execute() (any, error)
}

// TaskFunc adapts a plain function to the Task interface.
//
// Example:
//
//	future := p.Submit(pool.TaskFunc(func() (any, error) {
//	    return fetch(url)
//	}))
type TaskFunc func() (any, error)

// Execute calls f.
func (f TaskFunc) Execute() (any, error) { return f() }

// submittedTask pairs an accepted task with the future its result is
// delivered into. The future, not the task, is the completion cell: the task
// carries no back-reference, and either side may drop its reference once
// delivery has happened.
type submittedTask struct {
	task   Task
	future *Future
}
