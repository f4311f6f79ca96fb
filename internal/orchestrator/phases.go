package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/waypoints/internal/claude"
	"github.com/randalmurphal/waypoints/internal/hooks"
	"github.com/randalmurphal/waypoints/internal/knowledge"
	"github.com/randalmurphal/waypoints/internal/prompt"
	"github.com/randalmurphal/waypoints/internal/review"
	"github.com/randalmurphal/waypoints/internal/session"
	"github.com/randalmurphal/waypoints/internal/wplog"
)

var errAborted = session.ErrAborted

// runPhase executes one phase end to end: context construction, the
// interactive session, and (for phases 1-3) the summary document with
// user confirmation.
func (o *Orchestrator) runPhase(ctx context.Context, phase int, knowledgeCtx string) error {
	if err := o.store.SetPhase(phase); err != nil {
		return err
	}
	o.disp.PhaseStart(phase)
	o.log.Log(wplog.CategoryPhase, "phase %d started", phase)

	phasePrompt, err := o.buildContext(phase, knowledgeCtx)
	if err != nil {
		return err
	}
	if err := o.store.SavePhaseContext(phase, phasePrompt); err != nil {
		o.log.Error("save phase context", err)
	}

	hk := claude.Hooks{
		PreToolUse: hooks.NewGuard(o.store, o.profile, o.log).Handle,
		Stop:       hooks.NewVerifier(o.store, o.profile, o.projectDir, o.log).Handle,
	}

	runnerOpts := []session.Option{
		session.WithInput(o.in),
		session.WithOutput(o.out),
	}

	var coord *review.Coordinator
	if phase == 4 {
		requirements, _ := o.store.PhaseDocument(1)
		interfaces, _ := o.store.PhaseDocument(2)
		coord = review.NewCoordinator(review.Config{
			Model:        o.ReviewerModel(),
			Workdir:      o.projectDir,
			Requirements: requirements,
			Interfaces:   interfaces,
		}, o.log)
		coord.Start(ctx)
		hk.PostToolUse = coord.HandlePostToolUse
		runnerOpts = append(runnerOpts, session.WithFeedbackSource(func() string {
			fb := coord.PendingFeedback()
			if fb != "" {
				o.disp.ReviewerFeedback(fb)
			}
			return fb
		}))
		defer func() {
			if !coord.WaitForPendingReviews(PendingReviewWait) {
				o.log.Log(wplog.CategoryReviewer, "pending reviews did not settle before shutdown")
			}
			coord.Stop()
		}()
	}

	conv, err := o.newSession(ctx, hk)
	if err != nil {
		return fmt.Errorf("start assistant session: %w", err)
	}
	defer conv.Close()

	runner := session.New(conv, o.store, o.log, runnerOpts...)
	if err := runner.RunPhaseSession(ctx, phasePrompt, phase); err != nil {
		return err
	}

	if phase < 4 {
		summary, err := o.generateAndVerifySummary(ctx, runner, phase)
		if err != nil {
			return err
		}
		if strings.TrimSpace(summary) != "" {
			if err := o.store.SavePhaseDocument(phase, summary); err != nil {
				return fmt.Errorf("save phase %d document: %w", phase, err)
			}
		}
		if err := o.confirmLoop(ctx, phase); err != nil {
			return err
		}
	}

	o.extractAndStage(ctx, runner, phase)

	if err := o.store.MarkPhaseComplete(phase, true); err != nil {
		return err
	}
	o.disp.PhaseComplete(phase)
	o.log.Log(wplog.CategoryPhase, "phase %d complete", phase)
	return nil
}

// buildContext composes the phase prompt from prior phase documents and
// the knowledge context.
func (o *Orchestrator) buildContext(phase int, knowledgeCtx string) (string, error) {
	doc := func(p int) string {
		d, err := o.store.PhaseDocument(p)
		if err != nil {
			o.log.Error(fmt.Sprintf("load phase %d document", p), err)
		}
		return d
	}
	switch phase {
	case 1:
		return prompt.BuildPhase1Context(o.task, knowledgeCtx, true), nil
	case 2:
		return prompt.BuildPhase2Context(doc(1), knowledgeCtx), nil
	case 3:
		return prompt.BuildPhase3Context(doc(1), doc(2), knowledgeCtx), nil
	case 4:
		return prompt.BuildPhase4Context(doc(1), doc(2), doc(3), knowledgeCtx), nil
	}
	return "", fmt.Errorf("no context for phase %d", phase)
}

// generateAndVerifySummary extracts the phase summary, then has the
// assistant self-review it. The reviewed version wins when present.
func (o *Orchestrator) generateAndVerifySummary(ctx context.Context, r *session.Runner, phase int) (string, error) {
	initial, err := r.ExtractText(ctx, prompt.SummaryPrompt(phase), phase)
	if err != nil {
		return "", fmt.Errorf("extract phase %d summary: %w", phase, err)
	}
	reviewed, err := r.ExtractText(ctx, prompt.ReviewPrompt(phase), phase)
	if err != nil {
		return "", fmt.Errorf("review phase %d summary: %w", phase, err)
	}
	return reviewedSummary(reviewed, strings.TrimSpace(initial)), nil
}

// reviewedSummary strips the verification signal line from the review
// response. Empty responses fall back to the unreviewed summary.
func reviewedSummary(reviewed, fallback string) string {
	reviewed = strings.TrimSpace(reviewed)
	if reviewed == "" {
		return fallback
	}
	first, rest, _ := strings.Cut(reviewed, "\n")
	first = strings.TrimSpace(first)
	if strings.HasPrefix(first, "SUMMARY_VERIFIED") || strings.HasPrefix(first, "GAPS_FOUND") {
		if body := strings.TrimSpace(rest); body != "" {
			return body
		}
		return fallback
	}
	return reviewed
}

// confirmLoop asks the user what to do with the saved phase document:
// proceed, edit (reload from disk), or regenerate with feedback.
func (o *Orchestrator) confirmLoop(ctx context.Context, phase int) error {
	for {
		o.disp.Info("Phase %d document saved. [p]roceed / [e]dit on disk then reload / [r]egenerate: ", phase)
		line, err := o.readLine()
		if err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "p", "proceed":
			return nil
		case "e", "edit":
			doc, err := o.store.PhaseDocument(phase)
			if err != nil {
				o.disp.Errorf("reload document: %v", err)
				continue
			}
			o.disp.Info("Reloaded document (%d bytes).", len(doc))
		case "r", "regenerate":
			if err := o.regenerate(ctx, phase); err != nil {
				return err
			}
		case "/quit", "/exit", "/abort", "q", "quit":
			return errAborted
		default:
			o.disp.Info("Unrecognized choice %q.", strings.TrimSpace(line))
		}
	}
}

// regenerate reworks a phase summary in a fresh conversation. The
// original document is kept when the assistant cancels.
func (o *Orchestrator) regenerate(ctx context.Context, phase int) error {
	current, err := o.store.PhaseDocument(phase)
	if err != nil {
		return fmt.Errorf("load phase %d document: %w", phase, err)
	}

	o.disp.Info("Describe what should change:")
	feedback, err := o.readLine()
	if err != nil {
		return err
	}
	text, note := session.ResolveInput(feedback)
	if note != "" {
		o.disp.Info("%s", note)
	}
	if strings.TrimSpace(text) == "" {
		o.disp.Info("No feedback given; keeping the current document.")
		return nil
	}

	conv, err := o.newSession(ctx, claude.Hooks{})
	if err != nil {
		return fmt.Errorf("start regeneration session: %w", err)
	}
	defer conv.Close()

	runner := session.New(conv, o.store, o.log, session.WithInput(o.in), session.WithOutput(o.out))
	completed, err := runner.RunRegenerationSession(ctx, prompt.RegenerationPrompt(current, text), phase)
	if err != nil {
		return err
	}
	if !completed {
		o.log.Log(wplog.CategoryPhase, "phase %d regeneration canceled, keeping original", phase)
		return nil
	}

	summary, err := runner.ExtractText(ctx, prompt.SummaryPrompt(phase), phase)
	if err != nil {
		return fmt.Errorf("extract regenerated summary: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		o.log.Log(wplog.CategoryPhase, "phase %d regeneration produced no summary, keeping original", phase)
		return nil
	}
	if err := o.store.SavePhaseDocument(phase, strings.TrimSpace(summary)); err != nil {
		return fmt.Errorf("save regenerated document: %w", err)
	}
	o.log.Log(wplog.CategoryPhase, "phase %d document regenerated", phase)
	return nil
}

// extractAndStage pulls knowledge out of the phase conversation and
// stages it for application after a successful implementation phase.
// Parse failures are logged and skipped, never fatal.
func (o *Orchestrator) extractAndStage(ctx context.Context, r *session.Runner, phase int) {
	staged, err := o.store.StagedKnowledge()
	if err != nil {
		o.log.Error("load staged knowledge", err)
	}
	resp, err := r.ExtractText(ctx, knowledge.ExtractionPrompt(knowledge.Load(o.kroot, o.projectID), staged), phase)
	if err != nil {
		o.log.Error("knowledge extraction", err)
		return
	}

	k, err := knowledge.Parse(resp)
	if err != nil {
		o.log.Log(wplog.CategoryKnowledge, "phase %d extraction unparseable, skipping: %v", phase, err)
		return
	}
	if k.IsEmpty() {
		o.log.Log(wplog.CategoryKnowledge, "phase %d: no knowledge extracted", phase)
		return
	}
	k.SetPhase(phase)
	if err := o.store.StageKnowledge(k); err != nil {
		o.log.Error("stage knowledge", err)
		return
	}
	o.log.Log(wplog.CategoryKnowledge, "phase %d: staged %d architecture, %d decisions, %d lessons",
		phase, len(k.Architecture), len(k.Decisions), len(k.LessonsLearned))
}

func (o *Orchestrator) readLine() (string, error) {
	line, err := o.in.ReadString('\n')
	if err != nil && line == "" {
		return "", errAborted
	}
	return strings.TrimRight(line, "\r\n"), nil
}
