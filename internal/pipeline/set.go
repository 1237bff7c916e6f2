package pipeline

import (
	"log/slog"

	"triad/internal/config"
	"triad/internal/media"
	"triad/internal/workflow"
)

// Deps are the collaborators the stages share.
type Deps struct {
	Processor media.Processor
	Encoder   media.Encoder
	Slots     Slots
	Publisher Publisher
}

// NewStageSet builds every stage handler for the workflow manager.
func NewStageSet(cfg *config.Config, deps Deps, logger *slog.Logger) workflow.StageSet {
	return workflow.StageSet{
		Analysis:      NewAnalyzer(cfg, deps.Processor, logger),
		Preparation:   NewPreparer(deps.Processor, logger),
		Merging:       NewMerger(cfg, deps.Processor, logger),
		Compression:   NewCompressor(cfg, deps.Encoder, deps.Processor, deps.Slots, logger),
		StorageUpload: NewStorageUploader(deps.Publisher, logger),
		Cleanup:       NewCleaner(logger),
	}
}
