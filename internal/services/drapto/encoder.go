package drapto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"triad/internal/logging"
	"triad/internal/media"
)

type encodeFunc func(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error

// Encoder compresses the concatenated statement stream with Drapto.
type Encoder struct {
	logger *slog.Logger
	encode encodeFunc
}

// NewEncoder constructs an Encoder backed by the Drapto library.
func NewEncoder(logger *slog.Logger) *Encoder {
	return &Encoder{
		logger: logging.NewComponentLogger(logger, "drapto"),
		encode: libraryEncode,
	}
}

func libraryEncode(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return fmt.Errorf("init drapto: %w", err)
	}
	_, err = encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep)
	return err
}

// Compress encodes input into output. Drapto names its output after the
// input stem inside a directory, so the result is moved into place.
func (e *Encoder) Compress(ctx context.Context, input media.Info, output string, profile media.Profile, progress media.ProgressFunc) error {
	if strings.TrimSpace(input.Path) == "" {
		return errors.New("drapto: input path required")
	}
	if strings.TrimSpace(output) == "" {
		return errors.New("drapto: output path required")
	}
	if !strings.EqualFold(profile.Container, "mkv") {
		return fmt.Errorf("drapto: container %q unsupported, drapto writes mkv", profile.Container)
	}

	outDir, err := os.MkdirTemp(filepath.Dir(output), "drapto-")
	if err != nil {
		return fmt.Errorf("drapto: create output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	rep := newReporter(e.logger, progress)
	if err := e.encode(ctx, input.Path, outDir, rep); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("drapto terminated: %w", ctxErr)
		}
		if issue := rep.lastError(); issue != "" {
			return fmt.Errorf("drapto encode: %w (%s)", err, issue)
		}
		return fmt.Errorf("drapto encode: %w", err)
	}

	produced := filepath.Join(outDir, OutputName(input.Path))
	if err := os.Rename(produced, output); err != nil {
		return fmt.Errorf("drapto: move output: %w", err)
	}
	if progress != nil {
		progress(100)
	}
	return nil
}

// OutputName returns the file name Drapto writes for inputPath.
func OutputName(inputPath string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return stem + ".mkv"
}

var _ media.Encoder = (*Encoder)(nil)
