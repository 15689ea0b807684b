package jobs

import "time"

// Hooks are optional callbacks invoked synchronously by Run. Nil fields are
// skipped. A hook must not call back into the registry's Run.
type Hooks struct {
	// OnRunSkipped is called when the pool gate blocks a cycle.
	OnRunSkipped func(remaining time.Duration)
	// OnJobStart is called right before a job's Run.
	OnJobStart func(name string)
	// OnJobFinish is called once per entry with the decision taken for it.
	// dur is zero for jobs that were not executed.
	OnJobFinish func(name string, status Status, dur time.Duration, err error)
	// OnRunFinish is called after every cycle that passed the gate.
	OnRunFinish func(res Result)
}
