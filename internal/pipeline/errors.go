package pipeline

import (
	"errors"

	"triad/internal/services"
)

// stageError tags err with kind and stage. Errors that already carry a kind
// keep it and only gain the stage name.
func stageError(kind services.Kind, stageName, operation, message string, err error) error {
	var tagged *services.Error
	if errors.As(err, &tagged) {
		if tagged.Stage != "" {
			return err
		}
		clone := *tagged
		clone.Stage = stageName
		return &clone
	}
	return services.Wrap(kind, stageName, operation, message, err)
}
