// Package orchestrator drives one workflow run through the four
// phases: requirements, interfaces, tests, implementation.
package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/config"
	"github.com/randalmurphal/waypoints/internal/db"
	"github.com/randalmurphal/waypoints/internal/detect"
	"github.com/randalmurphal/waypoints/internal/display"
	"github.com/randalmurphal/waypoints/internal/knowledge"
	"github.com/randalmurphal/waypoints/internal/project"
	"github.com/randalmurphal/waypoints/internal/state"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

// PendingReviewWait bounds the wait for in-flight reviews at the end of
// the implementation phase.
const PendingReviewWait = 60 * time.Second

// ErrAborted mirrors the session package's abort signal for callers
// that only import the orchestrator.
var ErrAborted = errAborted

// conversation is one assistant session as the orchestrator sees it.
type conversation interface {
	Send(prompt string) error
	Messages() <-chan claude.Message
	Close() error
}

// sessionFactory opens a fresh assistant conversation with the given
// hooks registered.
type sessionFactory func(ctx context.Context, hooks claude.Hooks) (conversation, error)

// Orchestrator owns the state for one workflow run.
type Orchestrator struct {
	projectDir string
	task       string

	store      *state.Store
	log        *wplog.Logger
	disp       *display.Display
	profile    config.Profile
	override   *config.Override
	projectID  string
	kroot      string
	workflowID string

	ledger *db.Ledger

	in         *bufio.Reader
	out        io.Writer
	newSession sessionFactory
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTask sets the initial task description injected into phase 1.
func WithTask(task string) Option {
	return func(o *Orchestrator) { o.task = task }
}

// WithInput sets the user-input source (default os.Stdin).
func WithInput(r io.Reader) Option {
	return func(o *Orchestrator) { o.in = bufio.NewReader(r) }
}

// WithOutput sets the output stream (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// WithSessionFactory overrides how assistant conversations are opened.
func WithSessionFactory(f sessionFactory) Option {
	return func(o *Orchestrator) { o.newSession = f }
}

// New prepares a workflow run: loads configuration, detects the
// technology profile, derives the project identity, and initializes the
// state store.
func New(projectDir string, opts ...Option) (*Orchestrator, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project directory %s does not exist", abs)
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	override, err := config.LoadOverride()
	if err != nil {
		return nil, fmt.Errorf("load override: %w", err)
	}
	det, err := detect.Detect(abs, cfg, override)
	if err != nil {
		return nil, fmt.Errorf("detect technology profile: %w", err)
	}

	workflowID := state.NewWorkflowID()
	stateDir, err := state.Dir(state.ModeSupervisor, workflowID)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(stateDir)
	if err := store.Initialize(state.ModeSupervisor, workflowID); err != nil {
		return nil, fmt.Errorf("initialize workflow state: %w", err)
	}

	kroot, err := config.KnowledgeRoot()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		projectDir: abs,
		store:      store,
		log:        wplog.New(stateDir, kroot, workflowID),
		profile:    det.Profile,
		override:   override,
		projectID:  project.ID(abs),
		kroot:      kroot,
		workflowID: workflowID,
		in:         bufio.NewReader(os.Stdin),
		out:        os.Stdout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.disp = display.New(display.WithWriter(o.out))

	if o.newSession == nil {
		o.newSession = o.spawnSession
	}

	// A broken ledger never blocks a workflow.
	if ledger, err := db.Open(db.Path(kroot)); err != nil {
		o.log.Error("open usage ledger", err)
	} else {
		o.ledger = ledger
	}
	return o, nil
}

// spawnSession is the production factory: it starts a Claude CLI
// process in the project directory with the workflow environment.
func (o *Orchestrator) spawnSession(ctx context.Context, hooks claude.Hooks) (conversation, error) {
	s := claude.NewSession(
		claude.WithWorkdir(o.projectDir),
		claude.WithHooks(hooks),
		claude.WithEnv(o.store.EnvVars()),
	)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ReviewerModel returns the configured reviewer model, or "" for the
// package default.
func (o *Orchestrator) ReviewerModel() string {
	if o.override != nil {
		return o.override.ReviewerModel
	}
	return ""
}

// Run executes the full workflow. Returns ErrAborted on user
// cancellation; any other error is fatal and has already been logged
// and cleaned up.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		if o.ledger != nil {
			o.ledger.Close()
		}
	}()

	o.disp.Banner(o.projectID, o.workflowID)
	o.log.Log(wplog.CategoryWorkflow, "workflow %s started (project=%s profile=%s)", o.workflowID, o.projectID, o.profile.ID)

	knowledgeCtx := knowledge.Load(o.kroot, o.projectID)

	for phase := 1; phase <= 4; phase++ {
		if err := o.runPhase(ctx, phase, knowledgeCtx); err != nil {
			return o.failWorkflow(err)
		}
	}
	return o.completeWorkflow()
}

// failWorkflow tears the run down: staged knowledge is discarded and
// the state directory removed, for aborts and fatal errors alike.
func (o *Orchestrator) failWorkflow(err error) error {
	aborted := errors.Is(err, errAborted) || errors.Is(err, context.Canceled)
	if aborted {
		o.log.Log(wplog.CategoryWorkflow, "workflow %s aborted", o.workflowID)
		o.disp.Info("Workflow aborted.")
	} else {
		o.log.Error("workflow failed", err)
		o.disp.Errorf("workflow failed: %v", err)
	}

	// Logging is done before teardown: the state directory is removed
	// wholesale and must not be recreated by a late log write.
	if cerr := o.store.ClearStagedKnowledge(); cerr != nil {
		o.disp.Errorf("clear staged knowledge: %v", cerr)
	}
	if cerr := o.store.Cleanup(false); cerr != nil {
		o.disp.Errorf("cleanup state directory: %v", cerr)
	}

	if aborted {
		return errAborted
	}
	return err
}

// completeWorkflow applies staged knowledge, records usage, and leaves
// the state directory behind with its documents.
func (o *Orchestrator) completeWorkflow() error {
	staged, err := o.store.StagedKnowledge()
	if err != nil {
		o.log.Error("load staged knowledge", err)
	}
	sessionID := o.store.Metadata().SessionID
	if sessionID == "" {
		sessionID = o.workflowID
	}
	counts := knowledge.Apply(o.kroot, o.projectID, staged, sessionID, time.Now(), o.log)
	for category, n := range counts {
		o.log.Log(wplog.CategoryKnowledge, "applied %d %s entries", n, category)
	}
	if err := o.store.ClearStagedKnowledge(); err != nil {
		o.log.Error("clear staged knowledge", err)
	}

	usage := o.store.AllUsage()
	if o.ledger != nil {
		if err := o.ledger.RecordWorkflow(o.projectID, o.workflowID, usage); err != nil {
			o.log.Error("record usage ledger", err)
		}
	}
	o.disp.UsageTable(usage)

	if err := o.store.Cleanup(true); err != nil {
		return o.failWorkflow(fmt.Errorf("finalize workflow state: %w", err))
	}
	o.log.Log(wplog.CategoryWorkflow, "workflow %s completed", o.workflowID)
	o.disp.Info("Workflow complete. Documents kept in %s", o.store.StateDir())
	return nil
}
