package kernel

import (
	"fmt"

	"github.com/relayctl/relay/internal/storage"
)

// Kernel errors wrap the same sentinel values storage uses so the API layer
// can translate both storage and kernel failures through one table (spec
// §4.4): errors.Is(err, storage.ErrPreconditionFailure) etc. keeps working
// regardless of which layer produced the error.
var (
	ErrPipelineNotActive = fmt.Errorf("pipeline does not accept new runs: %w", storage.ErrPreconditionFailure)
	ErrDependencyCycle   = fmt.Errorf("task dependency graph contains a cycle: %w", storage.ErrPreconditionFailure)
	ErrRunNotComplete    = fmt.Errorf("run has not finished: %w", storage.ErrPreconditionFailure)
)
