package examclient

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/model"
)

var (
	ErrSubmitInFlight = errors.New("submission already in flight")
	ErrAttemptClosed  = errors.New("attempt is submitted")
	ErrNotAnswerable  = errors.New("question is not answerable in the current phase")
)

// SnapshotStore is the device-local persistence used by an attempt.
type SnapshotStore interface {
	Save(userID int, testID uuid.UUID, snap *Snapshot) error
	Load(userID int, testID uuid.UUID) (*Snapshot, error)
	Clear(userID int, testID uuid.UUID) error
}

// Autosaver streams single answers to the server between checkpoints.
type Autosaver interface {
	Autosave(ctx context.Context, submissionID uuid.UUID, questionID, value string) error
}

// Options wires an attempt to its collaborators. Env, Notifier, Reporter
// and Autosaver are optional.
type Options struct {
	UserID    int
	TestID    uuid.UUID
	API       API
	Store     SnapshotStore
	Env       Environment
	Notifier  Notifier
	Reporter  Reporter
	Autosaver Autosaver
	Clock     Clock
	Log       zerolog.Logger
}

// View is a read-only picture of the attempt for rendering.
type View struct {
	Phase          model.Phase
	Remaining      time.Duration
	Index          int
	Questions      int
	Answered       int
	ViolationCount int
	Blocked        bool
}

// Attempt drives one candidate's attempt: phases, timers, monitoring and
// persistence. Public methods are safe for concurrent use.
type Attempt struct {
	opts Options
	log  zerolog.Logger

	test    model.TestPayload
	plan    Plan
	monitor *Monitor

	mu           sync.Mutex
	submissionID uuid.UUID
	sched        *Schedule
	phase        model.Phase
	index        int
	answers      map[string]string
	marked       map[string]bool
	eliminated   map[string]map[string]bool
	blocked      bool
	running      bool
	submitting   bool
	forceReason  model.TerminationReason
	result       *model.GradeResult

	done     chan struct{}
	doneOnce sync.Once
}

// Load creates or resumes the attempt on the server and reconciles it with
// any local snapshot.
func Load(ctx context.Context, opts Options) (*Attempt, error) {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	log := opts.Log.With().
		Str("component", "attempt").
		Int("user_id", opts.UserID).
		Str("test_id", opts.TestID.String()).
		Logger()

	env, err := opts.API.GetSession(ctx, opts.TestID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	loadedAt := opts.Clock.Now()

	plan, err := NewPlan(len(env.Test.Sections))
	if err != nil {
		return nil, err
	}

	snap, err := opts.Store.Load(opts.UserID, opts.TestID)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		log.Warn().Err(err).Msg("Ignoring unreadable local snapshot")
	}
	if snap != nil && snap.SubmissionID != env.Session.SubmissionID {
		log.Info().Str("stale_submission_id", snap.SubmissionID.String()).Msg("Discarding snapshot of another submission")
		if err := opts.Store.Clear(opts.UserID, opts.TestID); err != nil {
			log.Warn().Err(err).Msg("Failed to clear stale snapshot")
		}
		snap = nil
	}

	a := &Attempt{
		opts:         opts,
		log:          log.With().Str("submission_id", env.Session.SubmissionID.String()).Logger(),
		test:         env.Test,
		plan:         plan,
		submissionID: env.Session.SubmissionID,
		marked:       map[string]bool{},
		eliminated:   map[string]map[string]bool{},
		done:         make(chan struct{}),
	}
	a.reconcile(&env.Session, snap, loadedAt)
	a.persistLocked()

	a.log.Info().
		Str("phase", string(a.phase)).
		Int("answers", len(a.answers)).
		Int("violations", a.monitor.Count()).
		Bool("from_snapshot", snap != nil).
		Msg("Attempt loaded")
	return a, nil
}

// reconcile merges the server descriptor with a snapshot of the same submission.
func (a *Attempt) reconcile(desc *model.SessionDescriptor, snap *Snapshot, loadedAt time.Time) {
	switch {
	case len(desc.SavedAnswers) > 0:
		a.answers = maps.Clone(desc.SavedAnswers)
	case snap != nil && snap.Answers != nil:
		a.answers = maps.Clone(snap.Answers)
	default:
		a.answers = map[string]string{}
	}

	a.monitor = NewMonitor(desc.ViolationCount)
	phase := desc.Phase
	if !a.plan.Contains(phase) || phase == model.PhaseSubmitted {
		phase = model.PhaseModule1
	}
	a.index = desc.CurrentQuestionIndex

	if snap != nil {
		a.monitor.Raise(snap.ViolationCount)
		if a.plan.Contains(snap.Phase) && snap.Phase != model.PhaseSubmitted && snap.Phase.Ordinal() > phase.Ordinal() {
			phase = snap.Phase
		}
		a.index = snap.Index
		for _, id := range snap.Marked {
			a.marked[id] = true
		}
		for qid, opts := range snap.Eliminated {
			set := make(map[string]bool, len(opts))
			for _, o := range opts {
				set[o] = true
			}
			a.eliminated[qid] = set
		}
	}
	a.phase = phase

	if snap != nil && a.test.Mode != model.DeliveryModeExam && !snap.M1Deadline.IsZero() {
		a.sched = RestoreSchedule(&a.test, snap.M1Deadline, snap.M2Deadline, snap.Module2StartedAt)
	} else {
		d := *desc
		d.Phase = phase
		a.sched = NewSchedule(&a.test, &d, loadedAt)
	}
	if phase.Module() == 2 {
		a.sched.ArmModule2(a.sched.Deadline(model.PhaseModule1))
	}

	if n := len(a.moduleQuestions(phase)); a.index < 0 || a.index >= n {
		a.index = 0
	}
}

// Done is closed once the attempt is submitted.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Result returns the grade once submitted.
func (a *Attempt) Result() *model.GradeResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// SubmissionID identifies the server-side attempt.
func (a *Attempt) SubmissionID() uuid.UUID { return a.submissionID }

// Test returns the loaded test content.
func (a *Attempt) Test() *model.TestPayload { return &a.test }

// View returns the current render state.
func (a *Attempt) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return View{
		Phase:          a.phase,
		Remaining:      a.sched.Remaining(a.phase, a.opts.Clock.Now()),
		Index:          a.index,
		Questions:      len(a.moduleQuestions(a.phase)),
		Answered:       len(a.answers),
		ViolationCount: a.monitor.Count(),
		Blocked:        a.blocked,
	}
}

// ─── Run Loop ───────────────────────────────────────────────────────

// Run ticks the timers and feeds environment signals to the monitor until
// the attempt is submitted or ctx is done.
func (a *Attempt) Run(ctx context.Context) (*model.GradeResult, error) {
	tick, stop := a.opts.Clock.Ticker(time.Second)
	defer stop()

	var signals <-chan Signal
	if a.opts.Env != nil {
		signals = a.opts.Env.Signals()
		if a.test.Mode == model.DeliveryModeExam {
			a.opts.Env.RequestFullscreen()
		}
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	a.onTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.done:
			return a.Result(), nil
		case <-tick:
			a.onTick(ctx)
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			a.onSignal(ctx, sig)
		}
	}
}

func (a *Attempt) onTick(ctx context.Context) {
	a.mu.Lock()
	if a.phase == model.PhaseSubmitted {
		a.mu.Unlock()
		return
	}
	if a.forceReason != "" {
		reason := a.forceReason
		a.mu.Unlock()
		a.forceSubmit(ctx, reason)
		return
	}

	now := a.opts.Clock.Now()
	// An EXAM ends at the last module's deadline whatever screen is open.
	examOver := a.test.Mode == model.DeliveryModeExam && a.sched.Crossed(a.plan.Modules(), now)
	if !examOver && a.sched.Remaining(a.phase, now) > 0 {
		a.mu.Unlock()
		return
	}

	if examOver || a.plan.IsFinal(a.phase) {
		a.forceReason = model.TerminationTimeout
		a.mu.Unlock()
		a.opts.Notifier.Notice("Waktu habis. Jawaban dikumpulkan otomatis.")
		a.forceSubmit(ctx, model.TerminationTimeout)
		return
	}

	if !a.phase.IsReview() {
		review := a.plan.ReviewOf(a.phase)
		if err := a.transitionLocked(review, false, now); err != nil {
			a.log.Error().Err(err).Msg("Auto-advance failed")
		} else {
			a.opts.Notifier.Notice(fmt.Sprintf("Waktu modul %d habis.", review.Module()))
		}
	}
	a.mu.Unlock()
}

func (a *Attempt) onSignal(ctx context.Context, sig Signal) {
	a.mu.Lock()
	active := a.test.Mode == model.DeliveryModeExam && a.running && a.phase != model.PhaseSubmitted
	v := a.monitor.Handle(sig, active)

	if v.Suppressed && a.opts.Env != nil {
		a.opts.Env.Suppress(sig)
	}
	if v.Unblock {
		a.blocked = false
		a.opts.Notifier.Unblock()
	}
	if !v.Counted {
		a.mu.Unlock()
		return
	}

	a.persistLocked()
	a.log.Warn().Str("kind", string(v.Violation)).Int("count", v.Count).Msg("Violation recorded")
	if v.Force {
		a.forceReason = model.TerminationViolationLimit
	} else {
		a.opts.Notifier.Warn(v.Count, ViolationLimit)
		if v.Block {
			a.blocked = true
			a.opts.Notifier.Block("Kembali ke mode layar penuh untuk melanjutkan.")
			if a.opts.Env != nil {
				a.opts.Env.RequestFullscreen()
			}
		}
	}
	submissionID := a.submissionID
	a.mu.Unlock()

	if a.opts.Reporter != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.opts.Reporter.ReportViolation(rctx, submissionID, v.Violation, v.Count); err != nil {
			a.log.Warn().Err(err).Msg("Failed to report violation")
		}
		cancel()
	}

	if v.Force {
		a.forceSubmit(ctx, model.TerminationViolationLimit)
	}
}

// ─── Candidate Actions ──────────────────────────────────────────────

// SelectAnswer records value for questionID. An empty value clears it.
func (a *Attempt) SelectAnswer(ctx context.Context, questionID, value string) error {
	a.mu.Lock()
	if err := a.editableLocked(); err != nil {
		a.mu.Unlock()
		return err
	}
	if !slices.ContainsFunc(a.moduleQuestions(a.phase), func(q model.QuestionForStudent) bool {
		return q.ID.String() == questionID
	}) {
		a.mu.Unlock()
		return ErrNotAnswerable
	}

	if value == "" {
		delete(a.answers, questionID)
	} else {
		a.answers[questionID] = value
	}
	a.persistLocked()
	submissionID := a.submissionID
	a.mu.Unlock()

	// An empty value streams the clear so the server buffer drops the answer.
	if a.opts.Autosaver != nil {
		if err := a.opts.Autosaver.Autosave(ctx, submissionID, questionID, value); err != nil {
			a.log.Debug().Err(err).Msg("Autosave skipped")
		}
	}
	return nil
}

// Navigate moves to the index-th question of the current module.
func (a *Attempt) Navigate(index int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase == model.PhaseSubmitted {
		return ErrAttemptClosed
	}
	if index < 0 || index >= len(a.moduleQuestions(a.phase)) {
		return fmt.Errorf("question index %d out of range", index)
	}
	a.index = index
	a.persistLocked()
	return nil
}

// ToggleMark flips the marked-for-review flag of questionID.
func (a *Attempt) ToggleMark(questionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase == model.PhaseSubmitted {
		return ErrAttemptClosed
	}
	if a.marked[questionID] {
		delete(a.marked, questionID)
	} else {
		a.marked[questionID] = true
	}
	a.persistLocked()
	return nil
}

// Eliminate flips whether option is struck out for questionID.
func (a *Attempt) Eliminate(questionID, option string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase == model.PhaseSubmitted {
		return ErrAttemptClosed
	}
	set := a.eliminated[questionID]
	if set == nil {
		set = map[string]bool{}
		a.eliminated[questionID] = set
	}
	if set[option] {
		delete(set, option)
	} else {
		set[option] = true
	}
	a.persistLocked()
	return nil
}

// Advance moves forward: a module to its review, or the first review to
// module 2. Leaving the final review is done by Submit.
func (a *Attempt) Advance() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase == model.PhaseSubmitted {
		return ErrAttemptClosed
	}
	to := a.plan.ReviewOf(a.phase)
	if a.phase.IsReview() {
		if a.plan.IsFinal(a.phase) {
			return fmt.Errorf("%w: final review ends with submit", ErrIllegalTransition)
		}
		to = model.PhaseModule2
	}
	return a.transitionLocked(to, false, a.opts.Clock.Now())
}

// ReturnToModule goes back from a review screen to the module it reviews,
// provided that module's time has not run out.
func (a *Attempt) ReturnToModule() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	to := model.PhaseModule1
	if a.phase == model.PhaseReview2 {
		to = model.PhaseModule2
	}
	return a.transitionLocked(to, false, a.opts.Clock.Now())
}

// SaveAndExit writes a server checkpoint and drops the local snapshot so a
// later resume starts from the paused server state.
func (a *Attempt) SaveAndExit(ctx context.Context) error {
	a.mu.Lock()
	if a.phase == model.PhaseSubmitted {
		a.mu.Unlock()
		return ErrAttemptClosed
	}
	req := a.checkpointLocked(a.opts.Clock.Now())
	a.mu.Unlock()

	if err := a.opts.API.Checkpoint(ctx, a.opts.TestID, req); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := a.opts.Store.Clear(a.opts.UserID, a.opts.TestID); err != nil {
		a.log.Warn().Err(err).Msg("Failed to clear local snapshot")
	}
	a.log.Info().Str("phase", string(req.Phase)).Int("time_left", req.TimeLeft).Msg("Checkpoint saved")
	return nil
}

// Submit finalizes the attempt from the last review screen.
func (a *Attempt) Submit(ctx context.Context) (*model.GradeResult, error) {
	return a.submit(ctx, model.TerminationSubmitted, false)
}

// ─── Internals ──────────────────────────────────────────────────────

// forceSubmit submits regardless of phase and ignores caller cancellation.
func (a *Attempt) forceSubmit(ctx context.Context, reason model.TerminationReason) {
	if _, err := a.submit(context.WithoutCancel(ctx), reason, true); err != nil && !errors.Is(err, ErrSubmitInFlight) {
		a.log.Error().Err(err).Str("reason", string(reason)).Msg("Forced submit failed, retrying on next tick")
	}
}

func (a *Attempt) submit(ctx context.Context, reason model.TerminationReason, forced bool) (*model.GradeResult, error) {
	a.mu.Lock()
	if a.phase == model.PhaseSubmitted {
		res := a.result
		a.mu.Unlock()
		return res, ErrAttemptClosed
	}
	if a.submitting {
		a.mu.Unlock()
		return nil, ErrSubmitInFlight
	}
	if err := a.plan.Check(a.phase, model.PhaseSubmitted, forced, false); err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.submitting = true
	req := model.SubmitRequest{
		SubmissionID:   a.submissionID,
		Answers:        maps.Clone(a.answers),
		ViolationCount: a.monitor.Count(),
		Reason:         reason,
	}
	a.mu.Unlock()

	res, err := a.opts.API.Submit(ctx, a.opts.TestID, req)
	if errors.Is(err, ErrAlreadySubmitted) {
		a.log.Info().Msg("Attempt already completed on server, fetching result")
		res, err = a.opts.API.Result(ctx, a.opts.TestID, req.SubmissionID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.submitting = false
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	a.phase = model.PhaseSubmitted
	a.forceReason = ""
	a.blocked = false
	a.result = res
	if err := a.opts.Store.Clear(a.opts.UserID, a.opts.TestID); err != nil {
		a.log.Warn().Err(err).Msg("Failed to clear local snapshot")
	}
	a.doneOnce.Do(func() { close(a.done) })

	a.log.Info().
		Str("reason", string(reason)).
		Int("score", res.Score).
		Int("total", res.Total).
		Msg("Attempt submitted")
	return res, nil
}

func (a *Attempt) transitionLocked(to model.Phase, forced bool, now time.Time) error {
	if err := a.plan.Check(a.phase, to, forced, a.sched.Crossed(to.Module(), now)); err != nil {
		return err
	}
	if to == model.PhaseModule2 {
		a.sched.ArmModule2(now)
	}
	if to.Module() != a.phase.Module() {
		a.index = 0
	}
	a.log.Debug().Str("from", string(a.phase)).Str("to", string(to)).Msg("Phase transition")
	a.phase = to
	a.persistLocked()
	return nil
}

func (a *Attempt) editableLocked() error {
	if a.phase == model.PhaseSubmitted {
		return ErrAttemptClosed
	}
	if a.phase.IsReview() || a.blocked {
		return ErrNotAnswerable
	}
	return nil
}

func (a *Attempt) moduleQuestions(phase model.Phase) []model.QuestionForStudent {
	m := phase.Module()
	if m < 1 || m > len(a.test.Sections) {
		return nil
	}
	return a.test.Sections[m-1].Questions
}

func (a *Attempt) checkpointLocked(now time.Time) model.CheckpointRequest {
	return model.CheckpointRequest{
		SubmissionID:         a.submissionID,
		Answers:              maps.Clone(a.answers),
		TimeLeft:             a.sched.TimeLeft(a.phase, now),
		CurrentQuestionIndex: a.index,
		ViolationCount:       a.monitor.Count(),
		Phase:                a.phase,
		Module2StartedAt:     a.sched.Module2StartedAt(),
	}
}

// persistLocked writes the local snapshot. Failures are logged, never surfaced.
func (a *Attempt) persistLocked() {
	m1, m2 := a.sched.Deadlines()
	snap := &Snapshot{
		SubmissionID:     a.submissionID,
		Answers:          maps.Clone(a.answers),
		Index:            a.index,
		ViolationCount:   a.monitor.Count(),
		Phase:            a.phase,
		M1Deadline:       m1,
		M2Deadline:       m2,
		Module2StartedAt: a.sched.Module2StartedAt(),
		Marked:           slices.Sorted(maps.Keys(a.marked)),
		SavedAt:          a.opts.Clock.Now(),
	}
	if len(a.eliminated) > 0 {
		snap.Eliminated = make(map[string][]string, len(a.eliminated))
		for qid, set := range a.eliminated {
			if len(set) > 0 {
				snap.Eliminated[qid] = slices.Sorted(maps.Keys(set))
			}
		}
	}
	if err := a.opts.Store.Save(a.opts.UserID, a.opts.TestID, snap); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write local snapshot")
	}
}

type nopNotifier struct{}

func (nopNotifier) Warn(int, int) {}
func (nopNotifier) Notice(string) {}
func (nopNotifier) Block(string)  {}
func (nopNotifier) Unblock()      {}
