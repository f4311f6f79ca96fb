package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/waypoints/internal/config"
)

const (
	// StateFileName is the workflow state document.
	StateFileName = "state.json"
	// StagedFileName holds knowledge staged during the run.
	StagedFileName = "staged-knowledge.json"
	// ContextDirName holds audit copies of the phase prompts.
	ContextDirName = "context"
)

// Environment variables exported to spawned assistants.
const (
	EnvWorkflowID = "WP_SUPERVISOR_WORKFLOW_ID"
	EnvMarkersDir = "WP_SUPERVISOR_MARKERS_DIR"
	EnvActive     = "WP_SUPERVISOR_ACTIVE"
)

// Store owns all reads and writes of one workflow's state directory.
// Safe for concurrent use; state.json writes are atomic (temp file +
// rename), so readers never observe a partial document.
type Store struct {
	dir   string
	mu    sync.Mutex
	state *WorkflowState
}

// NewWorkflowID returns the default workflow id: a local timestamp.
func NewWorkflowID() string {
	return time.Now().Format("20060102-150405")
}

// Dir resolves the state directory for a workflow. WP_SUPERVISOR_MARKERS_DIR
// wins when set; otherwise the directory is derived from the mode and id
// under <claude config>/tmp.
func Dir(mode Mode, id string) (string, error) {
	if dir := os.Getenv(EnvMarkersDir); dir != "" {
		return dir, nil
	}
	base, err := config.TmpBase()
	if err != nil {
		return "", err
	}
	switch mode {
	case ModeSupervisor:
		return filepath.Join(base, "wp-supervisor-"+id), nil
	default:
		return filepath.Join(base, "wp-"+id), nil
	}
}

// NewStore creates a store rooted at dir. The state is loaded lazily.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Open resolves the directory for mode/id and returns a store over it.
func Open(mode Mode, id string) (*Store, error) {
	dir, err := Dir(mode, id)
	if err != nil {
		return nil, err
	}
	return NewStore(dir), nil
}

// StateDir returns the directory the store is rooted at.
func (s *Store) StateDir() string { return s.dir }

// Initialize creates the state directory and writes a fresh active
// state document.
func (s *Store) Initialize(mode Mode, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.dir, ContextDirName), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	st := defaultState(mode, workflowID)
	st.Active = true
	st.SupervisorActive = mode == ModeSupervisor
	s.state = st
	return s.saveLocked()
}

// load reads state.json. A missing or unparseable file yields a default
// document: state corruption must never crash the supervisor.
func (s *Store) load() *WorkflowState {
	if s.state != nil {
		return s.state
	}
	st := defaultState(ModeCLI, "")
	data, err := os.ReadFile(filepath.Join(s.dir, StateFileName))
	if err == nil {
		var parsed WorkflowState
		if json.Unmarshal(data, &parsed) == nil && ValidPhase(parsed.Phase) {
			if parsed.Usage == nil {
				parsed.Usage = make(map[string]PhaseUsage)
			}
			st = &parsed
		}
	}
	s.state = st
	return st
}

// saveLocked writes state.json atomically. Caller holds s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, StateFileName), data)
}

// atomicWrite writes data to a sibling temp file and renames it into
// place, so the destination is never observed partially written.
func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// IsActive reports whether a workflow is active.
func (s *Store) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Active
}

// Phase returns the current phase.
func (s *Store) Phase() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Phase
}

// SetPhase moves the workflow to phase n. Phase and completion flags are
// deliberately independent; only the range is enforced.
func (s *Store) SetPhase(n int) error {
	if !ValidPhase(n) {
		return fmt.Errorf("phase %d out of range [1,4]", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load().Phase = n
	return s.saveLocked()
}

// IsPhaseComplete reports a phase completion flag.
func (s *Store) IsPhaseComplete(phase int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().CompletedPhases.isComplete(phase)
}

// MarkPhaseComplete sets a phase completion flag.
func (s *Store) MarkPhaseComplete(phase int, done bool) error {
	if !ValidPhase(phase) {
		return fmt.Errorf("phase %d out of range [1,4]", phase)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load().CompletedPhases.setComplete(phase, done)
	return s.saveLocked()
}

// SetSessionID records the assistant session id in the metadata.
func (s *Store) SetSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load().Metadata.SessionID = id
	return s.saveLocked()
}

// Metadata returns a copy of the workflow metadata.
func (s *Store) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Metadata
}

// AddPhaseUsage accumulates a usage delta for a phase.
func (s *Store) AddPhaseUsage(phase int, delta PhaseUsage) error {
	key := usageKey(phase)
	if key == "" {
		return fmt.Errorf("phase %d out of range [1,4]", phase)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load()
	u := st.Usage[key]
	u.Add(delta)
	st.Usage[key] = u
	return s.saveLocked()
}

// PhaseUsage returns accumulated usage for one phase.
func (s *Store) PhaseUsage(phase int) PhaseUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().Usage[usageKey(phase)]
}

// TotalUsage sums usage across all phases.
func (s *Store) TotalUsage() PhaseUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total PhaseUsage
	for _, u := range s.load().Usage {
		total.Add(u)
	}
	return total
}

// AllUsage returns a copy of the per-phase usage map.
func (s *Store) AllUsage() map[string]PhaseUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]PhaseUsage)
	for k, v := range s.load().Usage {
		out[k] = v
	}
	return out
}

// documentPath returns the phase document path. Only phases 1-3 have
// summary documents; phase 4's artifact is the project source itself.
func (s *Store) documentPath(phase int) (string, error) {
	if phase < PhaseRequirements || phase > PhaseTests {
		return "", fmt.Errorf("phase %d has no summary document", phase)
	}
	name := fmt.Sprintf("phase%d-%s.md", phase, PhaseName(phase))
	return filepath.Join(s.dir, name), nil
}

// SavePhaseDocument writes the markdown summary for a phase.
func (s *Store) SavePhaseDocument(phase int, md string) error {
	path, err := s.documentPath(phase)
	if err != nil {
		return err
	}
	return atomicWrite(path, []byte(md))
}

// PhaseDocument reads the markdown summary for a phase.
func (s *Store) PhaseDocument(phase int) (string, error) {
	path, err := s.documentPath(phase)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read phase %d document: %w", phase, err)
	}
	return string(data), nil
}

// SavePhaseContext stores an audit copy of the prompt sent for a phase.
func (s *Store) SavePhaseContext(phase int, md string) error {
	if !ValidPhase(phase) {
		return fmt.Errorf("phase %d out of range [1,4]", phase)
	}
	path := filepath.Join(s.dir, ContextDirName, fmt.Sprintf("phase%d-input.md", phase))
	return atomicWrite(path, []byte(md))
}

// PhaseContext reads the audit copy of a phase prompt.
func (s *Store) PhaseContext(phase int) (string, error) {
	path := filepath.Join(s.dir, ContextDirName, fmt.Sprintf("phase%d-input.md", phase))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read phase %d context: %w", phase, err)
	}
	return string(data), nil
}

// ListDocuments returns the phase document filenames present on disk.
func (s *Store) ListDocuments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}
	var docs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 6 && name[:5] == "phase" && filepath.Ext(name) == ".md" {
			docs = append(docs, name)
		}
	}
	sort.Strings(docs)
	return docs, nil
}

// StageKnowledge merge-appends entries into staged-knowledge.json.
func (s *Store) StageKnowledge(k *StagedKnowledge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.stagedLocked()
	current.Merge(k)
	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal staged knowledge: %w", err)
	}
	return atomicWrite(filepath.Join(s.dir, StagedFileName), data)
}

// StagedKnowledge returns everything staged so far this run.
func (s *Store) StagedKnowledge() (*StagedKnowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stagedLocked()
}

func (s *Store) stagedLocked() (*StagedKnowledge, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, StagedFileName))
	if err != nil {
		return &StagedKnowledge{}, nil
	}
	var k StagedKnowledge
	if err := json.Unmarshal(data, &k); err != nil {
		return &StagedKnowledge{}, nil
	}
	return &k, nil
}

// ClearStagedKnowledge removes staged-knowledge.json.
func (s *Store) ClearStagedKnowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, StagedFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear staged knowledge: %w", err)
	}
	return nil
}

// Cleanup finishes the workflow. With keepDocuments the directory and
// its documents survive and the state is reset to inactive, keeping the
// implementation flag as the success marker. Without it the whole state
// directory is removed.
func (s *Store) Cleanup(keepDocuments bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !keepDocuments {
		if err := os.RemoveAll(s.dir); err != nil {
			return fmt.Errorf("remove state directory: %w", err)
		}
		s.state = nil
		return nil
	}

	st := s.load()
	st.Active = false
	st.SupervisorActive = false
	st.CompletedPhases.Implementation = true
	s.state = st
	if err := s.saveLocked(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.dir, StagedFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged knowledge: %w", err)
	}
	return nil
}

// EnvVars returns the environment exported to spawned assistants.
func (s *Store) EnvVars() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]string{
		EnvWorkflowID: s.load().Metadata.WorkflowID,
		EnvMarkersDir: s.dir,
		EnvActive:     "1",
	}
}
