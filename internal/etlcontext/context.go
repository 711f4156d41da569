// Package etlcontext implements the Context component (spec §3, §4.1): the
// single shared, mutable handle that every pipeline phase reads from and
// writes to. No other package may hold process-wide mutable state — this is
// the one piece the teacher's per-run Pipeline struct corresponds to.
package etlcontext

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skypearchive/etl-engine/internal/etlerrors"
	"github.com/skypearchive/etl-engine/internal/model"
)

// Phase is re-exported from etlerrors so callers only need one type.
type Phase = etlerrors.Phase

const (
	PhaseIdle      = etlerrors.PhaseIdle
	PhaseExtract   = etlerrors.PhaseExtract
	PhaseTransform = etlerrors.PhaseTransform
	PhaseLoad      = etlerrors.PhaseLoad
	PhaseStreaming = etlerrors.PhaseStreaming
)

const checkpointVersion = "1.0"

// AttachmentPolicy controls which heavyweight artifacts the run retains.
type AttachmentPolicy struct {
	StoreRawBlob bool // persist the verbatim export bytes on the Archive row
}

// Params are the immutable configuration values a Context is created with.
type Params struct {
	TaskID        string
	DatabaseURL   string
	OutputDir     string
	MemoryLimitMB int
	ChunkSize     int
	BatchSize     int
	MaxWorkers    int
	Attachment    AttachmentPolicy
	FilePath      string
}

// PhaseTotals are optional expected counts passed to StartPhase, used only
// for progress reporting.
type PhaseTotals struct {
	TotalConversations int
	TotalMessages      int
}

// ErrorRecord is one entry in the Context's error log.
type ErrorRecord struct {
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message"`
	Fatal     bool      `json:"fatal"`
	Timestamp time.Time `json:"timestamp"`
}

// PhaseResult summarizes a completed phase.
type PhaseResult struct {
	Phase                  Phase     `json:"phase"`
	StartedAt              time.Time `json:"started_at"`
	DurationSeconds        float64   `json:"duration_seconds"`
	ProcessedConversations int       `json:"processed_conversations"`
	ProcessedMessages      int       `json:"processed_messages"`
	MessagesPerSecond      float64   `json:"messages_per_second"`
}

// MemorySample is one RSS observation taken by CheckMemory.
type MemorySample struct {
	Timestamp time.Time `json:"timestamp"`
	RSSMB     float64   `json:"rss_mb"`
}

// RunMetrics accumulates metrics for the whole run.
type RunMetrics struct {
	StartTime      time.Time                `json:"start_time"`
	MemorySamples  []MemorySample           `json:"memory_samples"`
	PhaseDurations map[Phase]float64        `json:"phase_durations"`
	ConversationCount int                   `json:"conversation_count"`
	BytesRead      int64                    `json:"bytes_read"`
}

// PhaseCheckpoint is the serialized snapshot recorded after a phase succeeds
// or before a fatal error is re-raised.
type PhaseCheckpoint struct {
	Phase                     Phase  `json:"phase"`
	CreatedAt                 time.Time `json:"created_at"`
	RawDataAvailable          bool   `json:"raw_data_available"`
	TransformedDataAvailable  bool   `json:"transformed_data_available"`
}

// errCap bounds the Errors slice per spec §7 (Summary exposes
// a bounded errors list; older entries may be elided beyond this cap).
const errCap = 1000

// Context is the single shared, mutable execution state for one ETL run.
// All mutation goes through its methods, which serialize concurrent access
// with mu — the same "one mutex protects the shared map" shape the teacher
// uses for activeCallMap and affiliationMap.
type Context struct {
	mu sync.Mutex

	Params

	CurrentPhase Phase
	phaseStart   time.Time
	phaseTotals  *PhaseTotals
	phaseConvs   int
	phaseMsgs    int

	PhaseResults []PhaseResult
	Checkpoints  map[Phase]*PhaseCheckpoint
	Errors       []ErrorRecord
	Metrics      RunMetrics

	RawData         *model.RawExport
	TransformedData *model.TransformedExport

	// identity is the participant-id → display-name map built during
	// Transform. It lives on Context because it is the one piece of
	// cross-conversation shared mutable state the Transformer needs.
	identity   map[string]string
	identityMu sync.Mutex

	// extra carries unknown top-level checkpoint fields from a prior
	// deserialize so they round-trip on the next serialize (spec §6
	// forward-compatibility requirement).
	extra map[string]json.RawMessage
}

// New creates a fresh Context for one pipeline run.
func New(p Params) *Context {
	if p.ChunkSize <= 0 {
		p.ChunkSize = 100
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.MaxWorkers <= 0 {
		p.MaxWorkers = runtime.NumCPU()
	}
	return &Context{
		Params:      p,
		CurrentPhase: PhaseIdle,
		Checkpoints: make(map[Phase]*PhaseCheckpoint),
		Metrics: RunMetrics{
			StartTime:      time.Now(),
			PhaseDurations: make(map[Phase]float64),
		},
		identity: make(map[string]string),
	}
}

// StartPhase marks phase as active. It fails if a phase is already active.
func (c *Context) StartPhase(phase Phase, totals *PhaseTotals) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CurrentPhase != PhaseIdle {
		return etlerrors.NewInvalidStateError(phase, fmt.Sprintf("phase %q already active", c.CurrentPhase))
	}
	c.CurrentPhase = phase
	c.phaseStart = time.Now()
	c.phaseTotals = totals
	c.phaseConvs = 0
	c.phaseMsgs = 0
	return nil
}

// UpdateProgress adds to the active phase's processed counters.
func (c *Context) UpdateProgress(conversations, messages int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseConvs += conversations
	c.phaseMsgs += messages
}

// EndPhase finalizes the active phase and returns its summary.
func (c *Context) EndPhase() PhaseResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.phaseStart).Seconds()
	var rate float64
	if duration > 0 {
		rate = float64(c.phaseMsgs) / duration
	} else {
		rate = 0.0
	}

	result := PhaseResult{
		Phase:                  c.CurrentPhase,
		StartedAt:              c.phaseStart,
		DurationSeconds:        duration,
		ProcessedConversations: c.phaseConvs,
		ProcessedMessages:      c.phaseMsgs,
		MessagesPerSecond:      rate,
	}
	c.PhaseResults = append(c.PhaseResults, result)
	c.Metrics.PhaseDurations[c.CurrentPhase] = duration
	c.CurrentPhase = PhaseIdle
	return result
}

// RecordError appends an error record. It never fails the run itself — the
// Orchestrator decides what to do with fatal errors.
func (c *Context) RecordError(phase Phase, err error, fatal bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Errors = append(c.Errors, ErrorRecord{
		Phase:     phase,
		Message:   err.Error(),
		Fatal:     fatal,
		Timestamp: time.Now(),
	})
	if len(c.Errors) > errCap {
		c.Errors = c.Errors[len(c.Errors)-errCap:]
	}
}

// CheckMemory samples current process RSS, records it, and reports whether
// usage exceeds 0.8 * MemoryLimitMB. It is advisory only — callers decide
// whether to act (e.g. the streaming variant is how hard budgets are met).
func (c *Context) CheckMemory() (rssMB float64, warn bool) {
	rssMB = readRSSMB()
	c.mu.Lock()
	c.Metrics.MemorySamples = append(c.Metrics.MemorySamples, MemorySample{
		Timestamp: time.Now(),
		RSSMB:     rssMB,
	})
	limit := c.MemoryLimitMB
	c.mu.Unlock()
	if limit > 0 && rssMB > 0.8*float64(limit) {
		return rssMB, true
	}
	return rssMB, false
}

// readRSSMB reads VmRSS from /proc/self/status. Returns 0 on platforms
// without /proc (e.g. non-Linux) or on any read failure — memory checking
// is advisory, so a failure here must never be treated as fatal.
func readRSSMB() float64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / 1024.0
	}
	return 0
}

// CreateCheckpoint snapshots the data artifact available for the phase that
// will run next after phase, and records it under phase in Checkpoints.
func (c *Context) CreateCheckpoint(phase Phase) *PhaseCheckpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := &PhaseCheckpoint{
		Phase:                    phase,
		CreatedAt:                time.Now(),
		RawDataAvailable:         c.RawData != nil,
		TransformedDataAvailable: c.TransformedData != nil,
	}
	c.Checkpoints[phase] = cp
	return cp
}

// phaseOrder defines "strictly before" for CanResumeFrom.
var phaseOrder = map[Phase]int{
	PhaseExtract:   0,
	PhaseTransform: 1,
	PhaseLoad:      2,
}

// CanResumeFrom reports whether every phase strictly before phase has a
// checkpoint carrying the artifact that checkpoint is able to carry — an
// extract checkpoint must have raw data, a transform checkpoint must have
// transformed data. Each predecessor is checked against what its own
// checkpoint can hold, not against what the target phase ultimately needs,
// so CanResumeFrom(PhaseLoad) doesn't demand transformed data from an
// extract-phase snapshot that was never able to carry it.
func (c *Context) CanResumeFrom(phase Phase) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	target, ok := phaseOrder[phase]
	if !ok {
		return false
	}
	for p, order := range phaseOrder {
		if order >= target {
			continue
		}
		cp, ok := c.Checkpoints[p]
		if !ok {
			return false
		}
		switch p {
		case PhaseExtract:
			if !cp.RawDataAvailable {
				return false
			}
		case PhaseTransform:
			if !cp.TransformedDataAvailable {
				return false
			}
		}
	}
	return true
}

// IdentityLookup returns the display name cached for id, if any.
func (c *Context) IdentityLookup(id string) (string, bool) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	name, ok := c.identity[id]
	return name, ok
}

// IdentitySet records (or overwrites) the display name for id.
func (c *Context) IdentitySet(id, name string) {
	if id == "" || name == "" {
		return
	}
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	c.identity[id] = name
}

// Summary is the caller-visible result of a run (spec §7).
type Summary struct {
	Success               bool          `json:"success"`
	ArchiveID             *int64        `json:"export_id,omitempty"`
	TaskID                string        `json:"task_id"`
	TotalDurationSeconds  float64       `json:"total_duration_seconds"`
	PhaseResults          []PhaseResult `json:"phase_results"`
	Errors                []ErrorRecord `json:"errors"`
}

// GetSummary builds the Summary exposed to external adapters.
func (c *Context) GetSummary(success bool, archiveID *int64) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		Success:              success,
		ArchiveID:            archiveID,
		TaskID:               c.TaskID,
		TotalDurationSeconds: time.Since(c.Metrics.StartTime).Seconds(),
		PhaseResults:         append([]PhaseResult(nil), c.PhaseResults...),
		Errors:               append([]ErrorRecord(nil), c.Errors...),
	}
}

// serializedContext is the explicit allowlist of fields written into a
// checkpoint's "context" object.
type serializedContext struct {
	TaskID          string                      `json:"task_id"`
	DatabaseURL     string                      `json:"database_url"`
	OutputDir       string                      `json:"output_dir"`
	MemoryLimitMB   int                         `json:"memory_limit_mb"`
	ChunkSize       int                         `json:"chunk_size"`
	BatchSize       int                         `json:"batch_size"`
	MaxWorkers      int                         `json:"max_workers"`
	Attachment      AttachmentPolicy            `json:"attachment_policy"`
	FilePath        string                      `json:"file_path"`
	CurrentPhase    Phase                       `json:"current_phase"`
	PhaseResults    []PhaseResult               `json:"phase_results"`
	Checkpoints     map[Phase]*PhaseCheckpoint  `json:"checkpoints"`
	Errors          []ErrorRecord               `json:"errors"`
	Metrics         RunMetrics                  `json:"metrics"`
	RawData         *model.RawExport            `json:"raw_data,omitempty"`
	TransformedData *model.TransformedExport    `json:"transformed_data,omitempty"`
}

type checkpointDoc struct {
	CheckpointVersion string          `json:"checkpoint_version"`
	SerializedAt      string          `json:"serialized_at"`
	Context           json.RawMessage `json:"context"`
}

// Serialize produces the versioned checkpoint document described in spec §4.1.
// Unknown fields that were present in a previously deserialized checkpoint
// (c.extra) are merged back in so round-tripping never drops data a newer
// writer might have added.
func (c *Context) Serialize() ([]byte, error) {
	c.mu.Lock()
	sc := serializedContext{
		TaskID:          c.TaskID,
		DatabaseURL:     c.DatabaseURL,
		OutputDir:       c.OutputDir,
		MemoryLimitMB:   c.MemoryLimitMB,
		ChunkSize:       c.ChunkSize,
		BatchSize:       c.BatchSize,
		MaxWorkers:      c.MaxWorkers,
		Attachment:      c.Attachment,
		FilePath:        c.FilePath,
		CurrentPhase:    c.CurrentPhase,
		PhaseResults:    c.PhaseResults,
		Checkpoints:     c.Checkpoints,
		Errors:          c.Errors,
		Metrics:         c.Metrics,
		RawData:         c.RawData,
		TransformedData: c.TransformedData,
	}
	extra := c.extra
	c.mu.Unlock()

	ctxBytes, err := json.Marshal(sc)
	if err != nil {
		return nil, etlerrors.NewCheckpointError(c.CurrentPhase, "marshal context", err)
	}

	if len(extra) > 0 {
		var merged map[string]json.RawMessage
		if err := json.Unmarshal(ctxBytes, &merged); err != nil {
			return nil, etlerrors.NewCheckpointError(c.CurrentPhase, "merge unknown fields", err)
		}
		for k, v := range extra {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		ctxBytes, err = json.Marshal(merged)
		if err != nil {
			return nil, etlerrors.NewCheckpointError(c.CurrentPhase, "remarshal context", err)
		}
	}

	doc := checkpointDoc{
		CheckpointVersion: checkpointVersion,
		SerializedAt:      time.Now().UTC().Format(time.RFC3339),
		Context:           ctxBytes,
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, etlerrors.NewCheckpointError(c.CurrentPhase, "marshal checkpoint document", err)
	}
	return out, nil
}

// Deserialize reconstructs a Context from checkpoint bytes produced by Serialize.
func Deserialize(data []byte) (*Context, error) {
	var doc checkpointDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, etlerrors.NewCheckpointError(PhaseIdle, "unmarshal checkpoint document", err)
	}
	if doc.CheckpointVersion != checkpointVersion {
		return nil, etlerrors.NewCheckpointError(PhaseIdle, fmt.Sprintf("unsupported checkpoint_version %q", doc.CheckpointVersion), nil)
	}

	var known map[string]json.RawMessage
	if err := json.Unmarshal(doc.Context, &known); err != nil {
		return nil, etlerrors.NewCheckpointError(PhaseIdle, "unmarshal context fields", err)
	}

	var sc serializedContext
	if err := json.Unmarshal(doc.Context, &sc); err != nil {
		return nil, etlerrors.NewCheckpointError(PhaseIdle, "unmarshal context", err)
	}

	allowlist := map[string]bool{
		"task_id": true, "database_url": true, "output_dir": true,
		"memory_limit_mb": true, "chunk_size": true, "batch_size": true,
		"max_workers": true, "attachment_policy": true, "file_path": true,
		"current_phase": true, "phase_results": true, "checkpoints": true,
		"errors": true, "metrics": true, "raw_data": true, "transformed_data": true,
	}
	extra := make(map[string]json.RawMessage)
	for k, v := range known {
		if !allowlist[k] {
			extra[k] = v
		}
	}

	c := &Context{
		Params: Params{
			TaskID:        sc.TaskID,
			DatabaseURL:   sc.DatabaseURL,
			OutputDir:     sc.OutputDir,
			MemoryLimitMB: sc.MemoryLimitMB,
			ChunkSize:     sc.ChunkSize,
			BatchSize:     sc.BatchSize,
			MaxWorkers:    sc.MaxWorkers,
			Attachment:    sc.Attachment,
			FilePath:      sc.FilePath,
		},
		CurrentPhase:    sc.CurrentPhase,
		PhaseResults:    sc.PhaseResults,
		Checkpoints:     sc.Checkpoints,
		Errors:          sc.Errors,
		Metrics:         sc.Metrics,
		RawData:         sc.RawData,
		TransformedData: sc.TransformedData,
		identity:        make(map[string]string),
		extra:           extra,
	}
	if c.Checkpoints == nil {
		c.Checkpoints = make(map[Phase]*PhaseCheckpoint)
	}
	if c.Metrics.PhaseDurations == nil {
		c.Metrics.PhaseDurations = make(map[Phase]float64)
	}
	return c, nil
}
