// Package panel holds the admin user-management panel as an explicit state
// object. Every mutation goes through a Panel method; rendering reads only
// Snapshot output.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/isdelr/ender-console/internal/authapi"
	"github.com/isdelr/ender-console/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const listKey = "users"

const editUnsupportedText = "Edit user feature coming soon! For now, you can delete and recreate the user."

// Recorder stores audit events.
type Recorder interface {
	CreateEvent(eventType, level, message string, actor *string) error
}

// Options configure a Panel.
type Options struct {
	RevealDelay  time.Duration
	DismissDelay time.Duration
	NoticeTTL    time.Duration
	// Actor names the admin driving the panel, for the audit trail.
	Actor    string
	Recorder Recorder
	// OnChange receives a snapshot after every state change. It is called
	// without the panel lock held.
	OnChange func(State)
	// OnRemoved fires once the panel has finished closing.
	OnRemoved func()
	Now       func() time.Time
}

// Panel is one admin panel instance. It lives from Open until its closing
// delay elapses; nothing carries over to the next instance.
type Panel struct {
	sessionID string
	api       authapi.UserAPI
	opts      Options

	// life bounds every upstream call made by this instance.
	life   context.Context
	cancel context.CancelFunc
	flight singleflight.Group

	mu         sync.Mutex
	state      State
	formGen    uint64
	listSeq    uint64
	appliedSeq uint64
	noticeSeq  uint64
	lastActive time.Time
	timerSeq   uint64
	timers     map[uint64]*time.Timer
}

// New creates a closed panel for the given console session.
func New(sessionID string, api authapi.UserAPI, opts Options) *Panel {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	life, cancel := context.WithCancel(context.Background())
	p := &Panel{
		sessionID: sessionID,
		api:       api,
		opts:      opts,
		life:      life,
		cancel:    cancel,
	}
	p.state.SessionID = sessionID
	p.lastActive = opts.Now()
	return p
}

// Snapshot returns a copy of the current state with expired notices pruned.
func (p *Panel) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneNoticesLocked()
	return p.state.clone()
}

// LastActive is the time of the most recent operation.
func (p *Panel) LastActive() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastActive
}

// Open mounts the panel and starts the initial list load in the background.
// Calling Open on a panel that is already open does nothing; a panel that has
// been closed cannot be reopened.
func (p *Panel) Open(creds authapi.Credentials) error {
	p.mu.Lock()
	if p.state.Phase.Live() {
		p.mu.Unlock()
		return nil
	}
	if p.state.Phase != PhaseClosed || p.life.Err() != nil {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	p.touchLocked()
	p.state.Phase = PhaseOpening
	p.state.List = ListState{Loading: true}
	p.revealLocked(func(s *State) *Phase { return &s.Phase }, nil)
	p.commitLocked()

	go func() {
		if err := p.load(p.life, creds, false); err != nil && !errors.Is(err, ErrPanelClosed) {
			log.Warn().Err(err).Str("session_id", p.sessionID).Msg("Initial user list load failed")
		}
	}()
	return nil
}

// Close starts the closing delay and cancels in-flight requests. Results
// arriving afterwards are discarded.
func (p *Panel) Close() {
	p.mu.Lock()
	if !p.state.Phase.Live() {
		p.mu.Unlock()
		return
	}
	p.touchLocked()
	p.state.Phase = PhaseClosing
	p.cancel()
	p.afterLocked(p.opts.DismissDelay, func() bool {
		if p.state.Phase != PhaseClosing {
			return false
		}
		p.finishLocked()
		return true
	}, p.opts.OnRemoved)
	p.commitLocked()
}

// Discard tears the panel down immediately, skipping the closing delay.
func (p *Panel) Discard() {
	p.mu.Lock()
	if p.state.Phase == PhaseClosed && p.life.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.finishLocked()
	p.commitLocked()
}

// Refresh reloads the user list. Concurrent refreshes share one request.
func (p *Panel) Refresh(ctx context.Context, creds authapi.Credentials) error {
	return p.load(ctx, creds, false)
}

// OpenCreateForm mounts the add-user form. A form that is already open is
// kept as is.
func (p *Panel) OpenCreateForm() error {
	p.mu.Lock()
	if !p.state.Phase.Live() {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	p.touchLocked()
	if p.state.Form != nil && p.state.Form.Phase.Live() {
		p.mu.Unlock()
		return nil
	}
	p.formGen++
	p.state.Form = &FormState{Phase: PhaseOpening, Values: models.CreateUserInput{Role: models.RoleUser}}
	gen := p.formGen
	p.revealLocked(func(s *State) *Phase {
		if s.Form == nil || p.formGen != gen {
			return nil
		}
		return &s.Form.Phase
	}, nil)
	p.commitLocked()
	return nil
}

// CloseCreateForm dismisses the add-user form.
func (p *Panel) CloseCreateForm() {
	p.mu.Lock()
	p.closeFormLocked()
	p.commitLocked()
}

// SubmitCreate sends input as a creation request. On success the form closes
// and the list is fetched once more; on failure the form stays open with the
// server's error text.
func (p *Panel) SubmitCreate(ctx context.Context, creds authapi.Credentials, input models.CreateUserInput) error {
	p.mu.Lock()
	if !p.state.Phase.Live() {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	form := p.state.Form
	if form == nil || !form.Phase.Live() {
		p.mu.Unlock()
		return ErrNoForm
	}
	if form.Submitting {
		p.mu.Unlock()
		return ErrBusy
	}
	p.touchLocked()
	gen := p.formGen
	form.Submitting = true
	form.Error = ""
	form.Values = input
	form.Values.Password = ""
	p.commitLocked()

	_, err := p.api.CreateUser(p.life, creds, input)
	var decodeErr *authapi.DecodeError
	if errors.As(err, &decodeErr) {
		// 2xx with an unreadable body: the account exists.
		err = nil
	}

	// The upstream outcome is audited even when the panel closed meanwhile.
	text := ""
	if err != nil {
		text = failureText(err, "Failed to create user")
		if !errors.Is(err, context.Canceled) {
			p.record("user.create.fail", "warn", fmt.Sprintf("Creating user %q failed: %s", input.Username, text))
		}
	} else {
		p.record("user.create", "info", fmt.Sprintf("Created user %q (%s)", input.Username, input.Role))
	}

	p.mu.Lock()
	if p.life.Err() != nil {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	if p.formGen == gen && p.state.Form != nil {
		p.state.Form.Submitting = false
	}
	if err != nil {
		if p.formGen == gen && p.state.Form != nil {
			p.state.Form.Error = text
		}
		p.noticeLocked(NoticeError, text)
		p.commitLocked()
		return err
	}
	p.noticeLocked(NoticeSuccess, "User created successfully!")
	if p.formGen == gen {
		p.closeFormLocked()
	}
	p.commitLocked()

	if err := p.load(ctx, creds, true); err != nil && !errors.Is(err, ErrPanelClosed) {
		log.Warn().Err(err).Str("session_id", p.sessionID).Msg("User list refresh after create failed")
	}
	return nil
}

// RequestDelete asks for confirmation before deleting the listed user with
// the given id. Nothing is sent until ConfirmDelete.
func (p *Panel) RequestDelete(id int64) (DeleteConfirm, error) {
	p.mu.Lock()
	if !p.state.Phase.Live() {
		p.mu.Unlock()
		return DeleteConfirm{}, ErrPanelClosed
	}
	p.touchLocked()
	var username string
	found := false
	for _, u := range p.state.List.Users {
		if u.ID == id {
			username, found = u.Username, true
			break
		}
	}
	if !found {
		p.mu.Unlock()
		return DeleteConfirm{}, ErrUnknownUser
	}
	confirm := DeleteConfirm{
		UserID:   id,
		Username: username,
		Prompt:   fmt.Sprintf("Are you sure you want to delete user %q?", username),
	}
	p.state.Confirm = &confirm
	p.commitLocked()
	return confirm, nil
}

// CancelDelete drops the pending confirmation without sending anything.
func (p *Panel) CancelDelete() {
	p.mu.Lock()
	if p.state.Confirm == nil {
		p.mu.Unlock()
		return
	}
	p.touchLocked()
	p.state.Confirm = nil
	p.commitLocked()
}

// ConfirmDelete sends the pending deletion. The list is only changed by the
// refresh that follows a success.
func (p *Panel) ConfirmDelete(ctx context.Context, creds authapi.Credentials) error {
	p.mu.Lock()
	if !p.state.Phase.Live() {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	if p.state.Deleting {
		p.mu.Unlock()
		return ErrBusy
	}
	confirm := p.state.Confirm
	if confirm == nil {
		p.mu.Unlock()
		return ErrNoPendingDelete
	}
	p.touchLocked()
	p.state.Confirm = nil
	p.state.Deleting = true
	p.commitLocked()

	err := p.api.DeleteUser(p.life, creds, confirm.UserID)

	text := ""
	if err != nil {
		text = failureText(err, "Failed to delete user")
		if !errors.Is(err, context.Canceled) {
			p.record("user.delete.fail", "warn", fmt.Sprintf("Deleting user %q failed: %s", confirm.Username, text))
		}
	} else {
		p.record("user.delete", "info", fmt.Sprintf("Deleted user %q", confirm.Username))
	}

	p.mu.Lock()
	if p.life.Err() != nil {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	p.state.Deleting = false
	if err != nil {
		p.noticeLocked(NoticeError, text)
		p.commitLocked()
		return err
	}
	p.noticeLocked(NoticeSuccess, "User deleted successfully!")
	p.commitLocked()

	if err := p.load(ctx, creds, true); err != nil && !errors.Is(err, ErrPanelClosed) {
		log.Warn().Err(err).Str("session_id", p.sessionID).Msg("User list refresh after delete failed")
	}
	return nil
}

// Edit is not supported. It posts an informational notice and sends nothing.
func (p *Panel) Edit(id int64) error {
	p.mu.Lock()
	if !p.state.Phase.Live() {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	p.touchLocked()
	p.noticeLocked(NoticeInfo, editUnsupportedText)
	p.commitLocked()
	return ErrEditUnsupported
}

// load fetches the list, sharing one request between concurrent callers.
// fresh forces a new request even if one is outstanding, so a list that was
// requested before a mutation is never taken as its follow-up.
func (p *Panel) load(ctx context.Context, creds authapi.Credentials, fresh bool) error {
	if fresh {
		p.flight.Forget(listKey)
	}
	ch := p.flight.DoChan(listKey, func() (any, error) {
		return nil, p.fetchList(creds)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		if p.life.Err() != nil {
			return ErrPanelClosed
		}
		return ctx.Err()
	}
}

func (p *Panel) fetchList(creds authapi.Credentials) error {
	p.mu.Lock()
	if !p.state.Phase.Live() || p.life.Err() != nil {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	p.listSeq++
	seq := p.listSeq
	p.state.List.Loading = true
	p.state.List.Error = ""
	p.commitLocked()

	users, err := p.api.ListUsers(p.life, creds)

	p.mu.Lock()
	if p.life.Err() != nil {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	if seq < p.appliedSeq {
		// A newer load already landed.
		p.mu.Unlock()
		return nil
	}
	p.appliedSeq = seq
	if seq == p.listSeq {
		p.state.List.Loading = false
	}
	if err != nil {
		p.state.List.Users = nil
		p.state.List.Loaded = false
		p.state.List.Error = "Failed to load users: " + failureText(err, "Failed to load users")
		p.commitLocked()
		return err
	}
	p.state.List.Users = users
	p.state.List.Loaded = true
	p.commitLocked()
	return nil
}

// closeFormLocked starts the form's closing delay. Callers commit.
func (p *Panel) closeFormLocked() {
	form := p.state.Form
	if form == nil || form.Phase == PhaseClosing {
		return
	}
	p.touchLocked()
	form.Phase = PhaseClosing
	gen := p.formGen
	p.afterLocked(p.opts.DismissDelay, func() bool {
		if p.formGen != gen || p.state.Form == nil {
			return false
		}
		p.state.Form = nil
		return true
	}, nil)
}

// revealLocked moves the phase returned by target from opening to open after
// the reveal delay. target returns nil when the modal it refers to is gone.
func (p *Panel) revealLocked(target func(*State) *Phase, then func()) {
	p.afterLocked(p.opts.RevealDelay, func() bool {
		phase := target(&p.state)
		if phase == nil || *phase != PhaseOpening {
			return false
		}
		*phase = PhaseOpen
		return true
	}, then)
}

// afterLocked runs apply under the lock once d has elapsed, or immediately
// when d is zero. apply reports whether it changed anything; then runs
// afterwards without the lock.
func (p *Panel) afterLocked(d time.Duration, apply func() bool, then func()) {
	if d <= 0 {
		if apply() && then != nil {
			defer func() { go then() }()
		}
		return
	}
	p.timerSeq++
	id := p.timerSeq
	if p.timers == nil {
		p.timers = make(map[uint64]*time.Timer)
	}
	p.timers[id] = time.AfterFunc(d, func() {
		p.mu.Lock()
		if _, ok := p.timers[id]; !ok {
			// Stopped by finishLocked after it had already fired.
			p.mu.Unlock()
			return
		}
		delete(p.timers, id)
		if !apply() {
			p.mu.Unlock()
			return
		}
		p.commitLocked()
		if then != nil {
			then()
		}
	})
}

func (p *Panel) finishLocked() {
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	p.state.Phase = PhaseClosed
	p.state.List = ListState{}
	p.state.Form = nil
	p.state.Confirm = nil
	p.state.Deleting = false
	p.state.Notices = nil
}

func (p *Panel) noticeLocked(kind NoticeKind, text string) {
	p.noticeSeq++
	n := Notice{ID: p.noticeSeq, Kind: kind, Text: text}
	if p.opts.NoticeTTL > 0 {
		n.Expires = p.opts.Now().Add(p.opts.NoticeTTL)
		id := n.ID
		p.afterLocked(p.opts.NoticeTTL, func() bool {
			return p.dropNoticeLocked(id)
		}, nil)
	}
	p.state.Notices = append(p.state.Notices, n)
}

func (p *Panel) dropNoticeLocked(id uint64) bool {
	for i, n := range p.state.Notices {
		if n.ID == id {
			p.state.Notices = append(p.state.Notices[:i:i], p.state.Notices[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Panel) pruneNoticesLocked() {
	if len(p.state.Notices) == 0 {
		return
	}
	now := p.opts.Now()
	kept := p.state.Notices[:0:0]
	for _, n := range p.state.Notices {
		if n.Expires.IsZero() || now.Before(n.Expires) {
			kept = append(kept, n)
		}
	}
	p.state.Notices = kept
}

func (p *Panel) touchLocked() {
	p.lastActive = p.opts.Now()
}

// commitLocked bumps the version, releases the lock and publishes the new
// state.
func (p *Panel) commitLocked() {
	p.state.Version++
	p.pruneNoticesLocked()
	snapshot := p.state.clone()
	p.mu.Unlock()
	if p.opts.OnChange != nil {
		p.opts.OnChange(snapshot)
	}
}

func (p *Panel) record(eventType, level, message string) {
	if p.opts.Recorder == nil {
		return
	}
	var actor *string
	if p.opts.Actor != "" {
		actor = &p.opts.Actor
	}
	if err := p.opts.Recorder.CreateEvent(eventType, level, message, actor); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to record audit event")
	}
}

// failureText is the user-facing text for a failed request: the server's
// own message when it sent one.
func failureText(err error, fallback string) string {
	if msg, ok := authapi.ServerMessage(err); ok {
		return msg
	}
	var transportErr *authapi.TransportError
	if errors.As(err, &transportErr) {
		return "Network error: " + transportErr.Err.Error()
	}
	var decodeErr *authapi.DecodeError
	if errors.As(err, &decodeErr) {
		return "Unexpected response from server"
	}
	return fallback
}
