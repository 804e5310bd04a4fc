package jsonmanager

// ProgressSink receives a notification after each record is fully processed.
// Calls come from the goroutine running the batch, in discovery order.
type ProgressSink interface {
	Notify(current, total int, item string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(current, total int, item string)

// Notify implements ProgressSink.
func (f ProgressFunc) Notify(current, total int, item string) { f(current, total, item) }

// MatchObserver is an optional extension of ProgressSink for front ends that
// show running match counts.
type MatchObserver interface {
	Matches(duplicates, near int)
}

// NopProgress ignores every notification.
var NopProgress ProgressSink = ProgressFunc(func(int, int, string) {})
