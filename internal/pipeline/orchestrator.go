// Package pipeline implements the PipelineOrchestrator (spec §4.8):
// sequencing Extract → Transform → Load (or the fused streaming variant),
// writing checkpoints on phase success and on fatal error, and supporting
// resumption from the most recent usable checkpoint.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/skypearchive/etl-engine/internal/etlcontext"
	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/extract"
	"github.com/skypearchive/etl-engine/internal/fileio"
	"github.com/skypearchive/etl-engine/internal/load"
	"github.com/skypearchive/etl-engine/internal/metrics"
	"github.com/skypearchive/etl-engine/internal/transform"
)

// DefaultGracePeriod is the grace period for in-flight work on cancellation.
// Cancel does not wait on it: the streaming loop stops at the next
// conversation boundary without starting a timer.
const DefaultGracePeriod = 30 * time.Second

// checkpointKeepN bounds how many streaming checkpoints are retained; older
// ones are pruned as newer ones are written.
const checkpointKeepN = 3

// Orchestrator wires the phase components together around a shared Context.
type Orchestrator struct {
	ctx         *etlcontext.Context
	extractor   *extract.Extractor
	transformer *transform.Transformer
	loader      *load.Loader
	log         zerolog.Logger

	cancelRequested bool
}

// New builds an Orchestrator for one run. runCtx is the shared Context;
// the phase components are constructed by the caller (cmd/skype-etl). They
// are taken as concrete types, so a fake cannot be substituted for them.
func New(runCtx *etlcontext.Context, extractor *extract.Extractor, transformer *transform.Transformer, loader *load.Loader, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		ctx:         runCtx,
		extractor:   extractor,
		transformer: transformer,
		loader:      loader,
		log:         log.With().Str("component", "orchestrator").Logger(),
	}
}

// Cancel requests that the run stop accepting new work. Only RunStreaming
// observes the request, before it reads each next conversation; Run and
// Resume do not check it.
func (o *Orchestrator) Cancel() {
	o.cancelRequested = true
}

// Run executes the full non-streaming pipeline: extract, transform, load.
func (o *Orchestrator) Run(ctx context.Context, inputPath, userDisplayName string) etlcontext.Summary {
	o.ctx.FilePath = inputPath

	if err := o.runExtract(inputPath); err != nil {
		return o.fail(err)
	}
	if err := o.runTransform(userDisplayName); err != nil {
		return o.fail(err)
	}
	archiveID, err := o.runLoad(ctx)
	if err != nil {
		return o.fail(err)
	}

	return o.ctx.GetSummary(true, &archiveID)
}

func (o *Orchestrator) recordError(phase etlcontext.Phase, err error, fatal bool) {
	o.ctx.RecordError(phase, err, fatal)
	metrics.RecordError(string(phase), fatal)
}

func (o *Orchestrator) endPhaseWithMetrics() {
	result := o.ctx.EndPhase()
	metrics.PhaseDurationSeconds.WithLabelValues(string(result.Phase)).Observe(result.DurationSeconds)
	metrics.MessagesProcessedTotal.WithLabelValues(string(result.Phase)).Add(float64(result.ProcessedMessages))
}

func (o *Orchestrator) runExtract(inputPath string) error {
	if err := o.ctx.StartPhase(etlcontext.PhaseExtract, nil); err != nil {
		return err
	}
	raw, err := o.extractor.Extract(o.ctx, inputPath)
	if err != nil {
		o.recordError(etlcontext.PhaseExtract, err, true)
		return err
	}
	o.ctx.RawData = raw
	o.ctx.UpdateProgress(len(raw.Conversations), 0)
	o.endPhaseWithMetrics()
	o.writeCheckpoint(etlcontext.PhaseExtract)
	return nil
}

func (o *Orchestrator) runTransform(userDisplayName string) error {
	if err := o.ctx.StartPhase(etlcontext.PhaseTransform, nil); err != nil {
		return err
	}
	transformed, err := o.transformer.Transform(o.ctx, o.ctx.RawData, userDisplayName)
	if err != nil {
		o.recordError(etlcontext.PhaseTransform, err, true)
		return err
	}
	o.ctx.TransformedData = transformed
	o.endPhaseWithMetrics()
	o.writeCheckpoint(etlcontext.PhaseTransform)
	return nil
}

func (o *Orchestrator) runLoad(ctx context.Context) (int64, error) {
	if err := o.ctx.StartPhase(etlcontext.PhaseLoad, nil); err != nil {
		return 0, err
	}
	archiveID, err := o.loader.Load(ctx, o.ctx, o.ctx.RawData, o.ctx.TransformedData)
	if err != nil {
		o.recordError(etlcontext.PhaseLoad, err, true)
		return 0, err
	}
	o.endPhaseWithMetrics()
	return archiveID, nil
}

// RunStreaming executes the fused extract+transform+load variant, bounding
// memory to the size of the largest single conversation.
func (o *Orchestrator) RunStreaming(ctx context.Context, inputPath, userDisplayName string, checkpointInterval int) etlcontext.Summary {
	o.ctx.FilePath = inputPath
	if checkpointInterval < 1 {
		checkpointInterval = 50
	}

	if err := o.ctx.StartPhase(etlcontext.PhaseStreaming, nil); err != nil {
		return o.fail(err)
	}

	hdr, stream, err := o.extractor.ExtractStream(o.ctx, inputPath)
	if err != nil {
		o.recordError(etlcontext.PhaseStreaming, err, true)
		return o.fail(err)
	}
	defer stream.Close()

	o.ctx.IdentitySet(hdr.UserID, firstNonEmpty(userDisplayName, hdr.UserID))

	archiveID, err := o.loader.RegisterArchiveUpfront(ctx, o.ctx, hdr.UserID, hdr.ExportDate, 0)
	if err != nil {
		o.recordError(etlcontext.PhaseStreaming, err, true)
		return o.fail(err)
	}

	messagesProcessed := 0
	conversationsProcessed := 0

	for {
		if o.cancelRequested {
			o.recordError(etlcontext.PhaseStreaming, etlerrors.NewCancelledError(etlcontext.PhaseStreaming), true)
			o.writeCheckpoint(etlcontext.PhaseStreaming)
			return o.ctx.GetSummary(false, &archiveID)
		}

		rawConv, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			o.recordError(etlcontext.PhaseStreaming, err, true)
			o.writeCheckpoint(etlcontext.PhaseStreaming)
			return o.ctx.GetSummary(false, &archiveID)
		}

		tc, terr := o.transformer.TransformStreamed(o.ctx, rawConv)
		if terr != nil {
			o.recordError(etlcontext.PhaseStreaming, terr, false)
			continue
		}

		if lerr := o.loader.LoadStreamingBatch(ctx, archiveID, tc); lerr != nil {
			o.recordError(etlcontext.PhaseStreaming, lerr, false)
			continue
		}

		conversationsProcessed++
		messagesProcessed += len(tc.Messages)
		o.ctx.UpdateProgress(1, len(tc.Messages))

		if messagesProcessed%checkpointInterval == 0 {
			o.writeCheckpoint(etlcontext.PhaseStreaming)
			o.pruneOldCheckpoints()
		}
	}

	o.endPhaseWithMetrics()
	return o.ctx.GetSummary(true, &archiveID)
}

func (o *Orchestrator) fail(err error) etlcontext.Summary {
	o.writeCheckpoint(o.ctx.CurrentPhase)
	o.log.Error().Err(err).Msg("pipeline run failed")
	return o.ctx.GetSummary(false, nil)
}

func (o *Orchestrator) writeCheckpoint(phase etlcontext.Phase) {
	if o.ctx.OutputDir == "" {
		return
	}
	o.ctx.CreateCheckpoint(phase)
	data, err := o.ctx.Serialize()
	if err != nil {
		o.log.Error().Err(err).Msg("failed to serialize checkpoint")
		return
	}
	path := checkpointPath(o.ctx.OutputDir, o.ctx.TaskID)
	if err := writeAtomic(path, data); err != nil {
		o.log.Error().Err(err).Str("path", path).Msg("failed to write checkpoint")
		return
	}
	metrics.CheckpointWritesTotal.Inc()
}

func (o *Orchestrator) pruneOldCheckpoints() {
	files, err := AvailableCheckpoints(o.ctx.OutputDir)
	if err != nil || len(files) <= checkpointKeepN {
		return
	}
	for _, f := range files[checkpointKeepN:] {
		_ = os.Remove(f)
	}
}

// checkpointPath returns the fixed per-task checkpoint filename; repeated
// checkpoints for the same task overwrite each other atomically.
func checkpointPath(outputDir, taskID string) string {
	return filepath.Join(outputDir, fmt.Sprintf("etl_checkpoint_%s.json", taskID))
}

// writeAtomic writes data to path via a temp-file-then-rename so a crash
// mid-write never leaves a truncated checkpoint behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadFromCheckpoint reconstructs an Orchestrator's Context from a
// checkpoint file. The caller re-wires phase components before calling
// Resume.
func LoadFromCheckpoint(path string) (*etlcontext.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, etlerrors.NewCheckpointError(etlcontext.PhaseIdle, "read checkpoint file", err)
	}
	return etlcontext.Deserialize(data)
}

// AvailableCheckpoints lists etl_checkpoint_*.json files in outputDir,
// newest first by modification time.
func AvailableCheckpoints(outputDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "etl_checkpoint_*.json"))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, erri := os.Stat(matches[i])
		fj, errj := os.Stat(matches[j])
		if erri != nil || errj != nil {
			return false
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches, nil
}

// Resume continues a run whose Context was reconstructed via
// LoadFromCheckpoint, starting at the first phase after the most recent
// checkpointed one.
func (o *Orchestrator) Resume(ctx context.Context, userDisplayName string) etlcontext.Summary {
	// A checkpoint written by fail records the phase that was active when
	// the run stopped; clear it so the resumed phase can start.
	o.ctx.CurrentPhase = etlcontext.PhaseIdle

	switch {
	case o.ctx.CanResumeFrom(etlcontext.PhaseLoad):
		archiveID, err := o.runLoad(ctx)
		if err != nil {
			return o.fail(err)
		}
		return o.ctx.GetSummary(true, &archiveID)

	case o.ctx.CanResumeFrom(etlcontext.PhaseTransform):
		if err := o.runTransform(userDisplayName); err != nil {
			return o.fail(err)
		}
		archiveID, err := o.runLoad(ctx)
		if err != nil {
			return o.fail(err)
		}
		return o.ctx.GetSummary(true, &archiveID)

	default:
		o.log.Warn().Msg("no usable checkpoint artifact found, restarting from extract")
		return o.Run(ctx, o.ctx.FilePath, userDisplayName)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
