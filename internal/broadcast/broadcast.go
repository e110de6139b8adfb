// Package broadcast coordinates one course send end to end: figure out
// which section units still need the message, claim them, fetch the
// roster, deliver in bounded batches, then settle the claims (mark
// sent on success, release on failure).
//
// Runs are strictly sequential: units are claimed in list order and
// batches are sent in index order, because progress reporting and
// claim bookkeeping assume no reordering. Cross-instance concurrency
// is resolved entirely by the claim store's atomicity.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coursecast/internal/canvas"
	"coursecast/internal/claims"
	"coursecast/internal/eventbus"
	"coursecast/internal/term"
	"coursecast/internal/token"
	"coursecast/pkg/logx"
)

// ErrNoToken fails a run before any claim or network call when no
// anti-forgery token has been observed.
var ErrNoToken = errors.New("broadcast: no anti-forgery token observed; open the platform in a browser tab first")

// Gateway is the slice of the LMS client a run needs.
type Gateway interface {
	Domain() string
	BatchCap() int
	ListSections(ctx context.Context, courseID int64) ([]canvas.Section, error)
	ListActiveStudentIDs(ctx context.Context, courseID int64) ([]int64, error)
	SendBatch(ctx context.Context, req canvas.BatchRequest) (canvas.DeliveryResult, error)
	Ping(ctx context.Context) error
}

// TokenSource exposes the observer's current view.
type TokenSource interface {
	Latest() token.Snapshot
}

// Config bounds a run.
type Config struct {
	BatchSize         int           // recipients per send; clamped to the gateway cap
	InterBatchDelay   time.Duration // spacing between batch sends
	MarkDelay         time.Duration // spacing between mark-sent writes
	HeartbeatInterval time.Duration // liveness ping period; 0 disables
	Sender            string        // recorded on claims for attribution
}

// CourseRef is the orchestration context for one course: everything a
// run needs to know about its target, passed explicitly.
type CourseRef struct {
	ID        int64
	Code      string
	Name      string
	TermLabel string
	LinkURL   string
}

// Message is the outbound payload. Token, when set, overrides the
// observer (the UI may hand one along with the send command).
type Message struct {
	Subject string
	Body    string
	Token   string
}

// Summary is what a completed run reports.
type Summary struct {
	TotalRecipients int
	BatchCount      int
}

// Orchestrator owns no cross-run state; everything flows through
// SendToCourse arguments and the collaborators below.
type Orchestrator struct {
	cfg    Config
	gw     Gateway
	store  claims.Store
	tokens TokenSource
	bus    eventbus.Bus
	log    logx.Logger
}

func New(cfg Config, gw Gateway, store claims.Store, tokens TokenSource, bus eventbus.Bus, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Orchestrator{cfg: cfg, gw: gw, store: store, tokens: tokens, bus: bus, log: log}
}

type wonClaim struct {
	id   string
	unit claims.SendUnit
}

// SendToCourse runs the full pipeline for one course. Losing every
// claim race, or finding nothing left to send, is a normal zero-
// Summary outcome, not an error.
func (o *Orchestrator) SendToCourse(ctx context.Context, course CourseRef, msg Message) (Summary, error) {
	termKey := term.Key(course.TermLabel)
	log := o.log.With(logx.Int64("course_id", course.ID), logx.String("term_key", termKey))

	units, sectionNames, err := o.courseUnits(ctx, course, termKey)
	if err != nil {
		return Summary{}, err
	}

	remaining, err := o.remainingUnits(ctx, course, termKey, units)
	if err != nil {
		return Summary{}, err
	}
	if len(remaining) == 0 {
		log.Info("nothing left to send for this term")
		return Summary{}, nil
	}

	// Claim sequentially so failure attribution stays simple. Races
	// lost here are expected, not errors.
	var won []wonClaim
	for _, u := range remaining {
		res, err := o.store.Claim(ctx, claims.ClaimRequest{
			Unit:        u,
			CourseCode:  course.Code,
			CourseName:  course.Name,
			SectionName: sectionNames[u.Section.Canonical()],
			TermLabel:   course.TermLabel,
			LinkURL:     course.LinkURL,
			Sender:      o.cfg.Sender,
		})
		if err != nil {
			o.releaseAll(won)
			return Summary{}, fmt.Errorf("broadcast: claim %s: %w", u, err)
		}
		if res.AlreadyExists {
			log.Debug("lost claim race", logx.String("unit", u.String()))
			continue
		}
		won = append(won, wonClaim{id: res.ID, unit: u})
	}
	if len(won) == 0 {
		log.Info("every unit was claimed elsewhere")
		return Summary{}, nil
	}

	// Fail fast before any send if there is no token to present.
	if msg.Token == "" && (o.tokens == nil || o.tokens.Latest().Chosen == "") {
		o.releaseAll(won)
		return Summary{}, ErrNoToken
	}

	summary, err := o.deliver(ctx, course, msg, won, log)
	if err != nil {
		o.releaseAll(won)
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeSendFailed, Data: eventbus.SendFailed{
			CourseID: course.ID,
			Error:    err.Error(),
		}})
		return Summary{}, err
	}

	o.settle(ctx, course, won, summary, log)
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeSendDone, Data: eventbus.SendDone{
		CourseID:        course.ID,
		TotalRecipients: summary.TotalRecipients,
		BatchCount:      summary.BatchCount,
	}})
	return summary, nil
}

// courseUnits maps a course onto its dedupe units: one per section, or
// a single course-wide unit when the course has no sections.
func (o *Orchestrator) courseUnits(ctx context.Context, course CourseRef, termKey string) ([]claims.SendUnit, map[int64]string, error) {
	sections, err := o.gw.ListSections(ctx, course.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("broadcast: list sections: %w", err)
	}

	names := make(map[int64]string, len(sections))
	if len(sections) == 0 {
		unit := claims.SendUnit{
			Domain:   o.gw.Domain(),
			CourseID: course.ID,
			Section:  claims.WholeCourse(),
			TermKey:  termKey,
		}
		return []claims.SendUnit{unit}, names, nil
	}

	units := make([]claims.SendUnit, 0, len(sections))
	for _, s := range sections {
		names[s.ID] = s.Name
		units = append(units, claims.SendUnit{
			Domain:   o.gw.Domain(),
			CourseID: course.ID,
			Section:  claims.Section(s.ID),
			TermKey:  termKey,
		})
	}
	return units, names, nil
}

func (o *Orchestrator) remainingUnits(ctx context.Context, course CourseRef, termKey string, units []claims.SendUnit) ([]claims.SendUnit, error) {
	sent, err := o.store.ListSent(ctx, o.gw.Domain(), course.ID, termKey)
	if err != nil {
		return nil, fmt.Errorf("broadcast: list sent units: %w", err)
	}
	done := make(map[int64]struct{}, len(sent))
	for _, u := range sent {
		done[u.Section.Canonical()] = struct{}{}
	}
	remaining := make([]claims.SendUnit, 0, len(units))
	for _, u := range units {
		if _, ok := done[u.Section.Canonical()]; !ok {
			remaining = append(remaining, u)
		}
	}
	return remaining, nil
}

// deliver fetches the roster once and pushes it out in bounded
// batches, strictly in order.
func (o *Orchestrator) deliver(ctx context.Context, course CourseRef, msg Message, won []wonClaim, log logx.Logger) (Summary, error) {
	stopHeartbeat := o.startHeartbeat(ctx)
	defer stopHeartbeat()

	roster, err := o.gw.ListActiveStudentIDs(ctx, course.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("broadcast: list students: %w", err)
	}

	batches := partition(roster, o.batchSize())
	o.bus.Publish(eventbus.Event{Type: eventbus.TypeSendPlan, Data: eventbus.SendPlan{
		CourseID:        course.ID,
		TotalRecipients: len(roster),
		TotalChunks:     len(batches),
	}})
	log.Info("send plan", logx.Int("recipients", len(roster)), logx.Int("batches", len(batches)))

	sent := 0
	for i, batch := range batches {
		o.bus.Publish(eventbus.Event{Type: eventbus.TypeNote, Data: fmt.Sprintf(
			"sending batch %d/%d (%d recipients)", i+1, len(batches), len(batch))})

		if _, err := o.gw.SendBatch(ctx, canvas.BatchRequest{
			CourseID:     course.ID,
			RecipientIDs: batch,
			Subject:      msg.Subject,
			Body:         msg.Body,
			Token:        msg.Token,
		}); err != nil {
			return Summary{}, fmt.Errorf("broadcast: batch %d/%d: %w", i+1, len(batches), err)
		}
		sent += len(batch)

		o.bus.Publish(eventbus.Event{Type: eventbus.TypeSendChunkDone, Data: eventbus.SendChunkDone{
			CourseID:    course.ID,
			Chunk:       i + 1,
			TotalChunks: len(batches),
			ChunkSize:   len(batch),
			SentSoFar:   sent,
		}})
		log.Info("batch delivered", logx.Int("batch", i+1), logx.Int("of", len(batches)), logx.Int("sent", sent))

		if i+1 < len(batches) && o.cfg.InterBatchDelay > 0 {
			if err := sleep(ctx, o.cfg.InterBatchDelay); err != nil {
				return Summary{}, err
			}
		}
	}

	return Summary{TotalRecipients: len(roster), BatchCount: len(batches)}, nil
}

// settle marks every won claim sent. Delivery already happened, so a
// failed mark is logged and skipped rather than undoing anything.
func (o *Orchestrator) settle(ctx context.Context, course CourseRef, won []wonClaim, summary Summary, log logx.Logger) {
	for i, w := range won {
		if err := o.store.MarkSent(ctx, w.id, claims.SentMeta{
			LinkURL:        course.LinkURL,
			RecipientCount: summary.TotalRecipients,
			BatchCount:     summary.BatchCount,
		}); err != nil {
			log.Error("mark sent failed", logx.String("unit", w.unit.String()), logx.Err(err))
		}
		// Small spacing keeps the datastore from seeing a write burst.
		if i+1 < len(won) && o.cfg.MarkDelay > 0 {
			_ = sleep(ctx, o.cfg.MarkDelay)
		}
	}
}

// releaseAll is the compensation path: best effort, individual
// failures swallowed (a leaked claim is recovered by the janitor).
// Released units become claimable again, so recipients in batches
// that landed before the failure can be messaged twice on a retry.
func (o *Orchestrator) releaseAll(won []wonClaim) {
	if len(won) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, w := range won {
		if err := o.store.Release(ctx, w.id); err != nil {
			o.log.Warn("release failed; unit stays claimed until swept",
				logx.String("unit", w.unit.String()), logx.Err(err))
		}
	}
}

// startHeartbeat keeps the session warm during a long run so the host
// doesn't idle out mid-batch and leak pending claims.
func (o *Orchestrator) startHeartbeat(ctx context.Context) func() {
	if o.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	hctx, cancel := context.WithCancel(ctx)
	go func() {
		tick := time.NewTicker(o.cfg.HeartbeatInterval)
		defer tick.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-tick.C:
				if err := o.gw.Ping(hctx); err != nil {
					o.log.Debug("heartbeat ping failed", logx.Err(err))
				}
			}
		}
	}()
	return cancel
}

func (o *Orchestrator) batchSize() int {
	size := o.cfg.BatchSize
	if size <= 0 || size > o.gw.BatchCap() {
		size = o.gw.BatchCap()
	}
	return size
}

// partition splits ids into consecutive chunks of at most size,
// preserving order. An empty roster yields no batches.
func partition(ids []int64, size int) [][]int64 {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	batches := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

func sleep(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
