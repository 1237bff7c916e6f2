package stage

import "context"

// Handler describes the contract the workflow manager needs from each stage.
// Execute reads and extends the shared Run; it must honor ctx cancellation so
// the stage time box can terminate external processes.
type Handler interface {
	Execute(context.Context, *Run) error
	HealthCheck(context.Context) Health
}

// Gated is implemented by stages that hold a shared resource while they run.
// The manager calls Admit before the stage time box starts, so time spent
// waiting is not charged to the stage. Admit returns the release func.
type Gated interface {
	Admit(context.Context, *Run) (func(), error)
}
