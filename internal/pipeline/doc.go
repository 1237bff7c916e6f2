// Package pipeline implements the six merge stages the workflow manager runs
// for every job attempt: analysis, preparation, merging, compression, storage
// upload and cleanup.
//
// Each handler reads what earlier stages left on the shared stage.Run and
// adds its own result. Media work goes through media.Processor and
// media.Encoder, so the same handlers run against ffmpeg, Drapto, or the
// deterministic fake used in tests.
package pipeline
