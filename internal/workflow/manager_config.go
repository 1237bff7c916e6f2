package workflow

import (
	"errors"

	"triad/internal/stage"
)

// ConfigureStages registers the stage handlers. Every stage is required;
// cleanup runs after the others whether or not they succeeded.
func (m *Manager) ConfigureStages(set StageSet) error {
	handlers := map[string]stage.Handler{
		stage.Analysis:      set.Analysis,
		stage.Preparation:   set.Preparation,
		stage.Merging:       set.Merging,
		stage.Compression:   set.Compression,
		stage.StorageUpload: set.StorageUpload,
		stage.Cleanup:       set.Cleanup,
	}
	stages := make([]pipelineStage, 0, len(stage.Order))
	for i, name := range stage.Order {
		h := handlers[name]
		if h == nil {
			return errors.New("workflow stage " + name + " has no handler")
		}
		stages = append(stages, pipelineStage{name: name, index: i, handler: h})
	}

	m.mu.Lock()
	m.stages = stages[:len(stages)-1]
	m.cleanup = stages[len(stages)-1]
	m.mu.Unlock()
	return nil
}

// SetResultHandler registers the job outcome consumer.
func (m *Manager) SetResultHandler(h ResultHandler) {
	m.mu.Lock()
	m.results = h
	m.mu.Unlock()
}

// SetRecorder registers the health event consumer.
func (m *Manager) SetRecorder(r Recorder) {
	m.mu.Lock()
	if r == nil {
		r = nopRecorder{}
	}
	m.recorder = r
	m.mu.Unlock()
}
