package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/cmms-omnibot/internal/session"
	"github.com/wolfman30/cmms-omnibot/internal/workflow"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	maxSaveAttempts     = 3
	defaultStoreTimeout = 5 * time.Second
)

var errStoreUnavailable = errors.New("conversation: session store unavailable")

// Request is one inbound message reduced to the engine's contract.
type Request struct {
	UserID  string
	Channel string
	Message string
}

// Reply is what the channel adapter renders back.
type Reply struct {
	Text          string
	Intent        Intent
	State         session.State
	CorrelationID string
}

// Engine runs the load, classify, step and save cycle for each message while
// holding the user's lock.
type Engine struct {
	store        session.Store
	locker       *session.Locker
	machine      *Machine
	dispatcher   *Dispatcher
	observer     Observer
	logger       *logging.Logger
	storeTimeout time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithObserver records message and store metrics.
func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// WithStoreTimeout bounds each session store call.
func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// NewEngine wires an engine. Engines for different channels may share the
// store, locker and machine and differ only in their dispatcher.
func NewEngine(store session.Store, locker *session.Locker, machine *Machine, dispatcher *Dispatcher, logger *logging.Logger, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("conversation: session store is required")
	}
	if locker == nil {
		return nil, errors.New("conversation: locker is required")
	}
	if machine == nil {
		return nil, errors.New("conversation: machine is required")
	}
	if dispatcher == nil {
		return nil, errors.New("conversation: dispatcher is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:        store,
		locker:       locker,
		machine:      machine,
		dispatcher:   dispatcher,
		observer:     nopObserver{},
		logger:       logger,
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Handle processes one message. It never fails: store outages become an
// apology and leave the persisted session untouched.
func (e *Engine) Handle(ctx context.Context, req Request) Reply {
	reply, err := e.handle(ctx, req, true)
	if err != nil {
		e.logger.Error("message handling failed", "user_id", req.UserID, "channel", req.Channel, "error", err)
	}
	return reply
}

// ProcessTrigger runs a delegated record through the state machine. It is
// what the workflow worker calls, so it never delegates again. On failure the
// apology is returned alongside the error so the user still gets an answer.
func (e *Engine) ProcessTrigger(ctx context.Context, rec workflow.Record) (string, error) {
	req := Request{
		UserID:  rec.Payload.UserID,
		Channel: rec.Payload.Channel,
		Message: rec.Payload.Message,
	}
	reply, err := e.handle(ctx, req, false)
	if err != nil {
		return reply.Text, fmt.Errorf("conversation: process %s: %w", rec.CorrelationID, err)
	}
	return reply.Text, nil
}

func (e *Engine) handle(ctx context.Context, req Request, allowDelegate bool) (Reply, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return Reply{Text: replyApology, Intent: IntentUnknown}, errors.New("conversation: user id required")
	}

	unlock, err := e.locker.Lock(ctx, req.UserID)
	if err != nil {
		e.observer.ObserveDispatch(string(e.dispatcher.Mode()), "cancelled")
		return Reply{Text: replyApology, Intent: IntentUnknown}, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		sess, err := e.load(ctx, req.UserID)
		if err != nil {
			e.observer.ObserveDispatch(string(e.dispatcher.Mode()), "store_error")
			return Reply{Text: replyApology, Intent: IntentUnknown}, err
		}

		intent := Classify(req.Message, sess.State)
		mode := ModeInline
		var (
			out           Outcome
			correlationID string
		)
		if allowDelegate && e.dispatcher.ShouldDelegate(intent, sess.State) {
			mode = ModeDelegate
			text, id := e.dispatcher.Delegate(ctx, req, sess, intent)
			out = Outcome{Session: sess.Clone(), Reply: text}
			correlationID = id
		} else {
			out = e.machine.Step(ctx, sess, intent, req.Message)
		}

		reply := Reply{
			Text:          out.Reply,
			Intent:        intent,
			State:         out.Session.State,
			CorrelationID: correlationID,
		}

		err = e.save(ctx, out.Session)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrConflict) && out.Submitted:
			// The report already reached the backend; the reset must win.
			if resetErr := e.reset(ctx, req.UserID); resetErr != nil {
				e.logger.Error("failed to reset session after submission", "user_id", req.UserID, "error", resetErr)
			}
		case errors.Is(err, session.ErrConflict) && correlationID != "":
			// The trigger already fired and the session did not change; a
			// newer write is as good as ours.
			e.logger.Warn("session moved on during delegation", "user_id", req.UserID, "correlation_id", correlationID)
		case errors.Is(err, session.ErrConflict) && attempt < maxSaveAttempts:
			e.logger.Warn("session version conflict, retrying", "user_id", req.UserID, "attempt", attempt)
			continue
		case out.Submitted || correlationID != "":
			e.logger.Error("session save failed after side effect", "user_id", req.UserID, "error", err)
			if out.Submitted {
				if resetErr := e.reset(ctx, req.UserID); resetErr != nil {
					e.logger.Error("failed to reset session after submission", "user_id", req.UserID, "error", resetErr)
				}
			}
		default:
			e.observer.ObserveDispatch(string(mode), "store_error")
			return Reply{Text: replyApology, Intent: intent, State: sess.State}, err
		}

		e.observer.ObserveMessage(req.Channel, string(intent))
		e.observer.ObserveDispatch(string(mode), "replied")
		return reply, nil
	}
}

// load reads the session, retrying once when the store is unreachable.
func (e *Engine) load(ctx context.Context, userID string) (*session.Session, error) {
	var lastErr error
	for try := 0; try < 2; try++ {
		callCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
		sess, err := e.store.Load(callCtx, userID)
		cancel()
		if err == nil {
			return sess, nil
		}
		e.observer.ObserveSessionStoreError("load")
		lastErr = err
		if !errors.Is(err, session.ErrUnavailable) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %w", errStoreUnavailable, lastErr)
}

// save writes sess, retrying once when the store is unreachable. Conflicts
// are returned to the caller untouched.
func (e *Engine) save(ctx context.Context, sess *session.Session) error {
	var err error
	for try := 0; try < 2; try++ {
		callCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
		err = e.store.Save(callCtx, sess)
		cancel()
		if err == nil || errors.Is(err, session.ErrConflict) {
			return err
		}
		e.observer.ObserveSessionStoreError("save")
		if !errors.Is(err, session.ErrUnavailable) {
			return err
		}
	}
	return err
}

func (e *Engine) reset(ctx context.Context, userID string) error {
	callCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	if err := e.store.Reset(callCtx, userID); err != nil {
		e.observer.ObserveSessionStoreError("reset")
		return err
	}
	return nil
}
