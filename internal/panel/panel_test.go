package panel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/isdelr/ender-console/internal/authapi"
	"github.com/isdelr/ender-console/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu        sync.Mutex
	users     []models.SessionUser
	listErr   error
	createErr error
	deleteErr error
	listCalls int
	created   []models.CreateUserInput
	deleted   []int64
	// listGate, when set, blocks ListUsers until it is closed or ctx ends.
	listGate chan struct{}
	// commitGate, when set, holds CreateUser and DeleteUser until it is
	// closed, as an upstream that commits regardless of the caller leaving.
	commitGate    chan struct{}
	commitStarted chan struct{}
}

func (f *fakeAPI) holdCommit() {
	f.mu.Lock()
	gate, started := f.commitGate, f.commitStarted
	f.mu.Unlock()
	if gate == nil {
		return
	}
	if started != nil {
		started <- struct{}{}
	}
	<-gate
}

func (f *fakeAPI) ListUsers(ctx context.Context, _ authapi.Credentials) ([]models.SessionUser, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &authapi.TransportError{Op: "list users", Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.SessionUser(nil), f.users...), nil
}

func (f *fakeAPI) CreateUser(_ context.Context, _ authapi.Credentials, in models.CreateUserInput) (models.SessionUser, error) {
	f.holdCommit()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if f.createErr != nil {
		return models.SessionUser{}, f.createErr
	}
	u := models.SessionUser{ID: int64(100 + len(f.created)), Username: in.Username, Email: in.Email, Role: in.Role, IsActive: true}
	f.users = append(f.users, u)
	return u, nil
}

func (f *fakeAPI) DeleteUser(_ context.Context, _ authapi.Credentials, id int64) error {
	f.holdCommit()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.users[:0]
	for _, u := range f.users {
		if u.ID != id {
			kept = append(kept, u)
		}
	}
	f.users = kept
	return nil
}

func (f *fakeAPI) calls() (list, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, len(f.deleted)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) CreateEvent(eventType, _, _ string, _ *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

var creds = authapi.Credentials{RequestID: "test"}

func bob() models.SessionUser {
	return models.SessionUser{ID: 2, Username: "bob", Email: "b@x.com", Role: models.RoleUser}
}

func openPanel(t *testing.T, api *fakeAPI, opts Options) *Panel {
	t.Helper()
	p := New("sess-1", api, opts)
	require.NoError(t, p.Open(creds))
	require.Eventually(t, func() bool {
		s := p.Snapshot()
		return !s.List.Loading
	}, time.Second, time.Millisecond)
	return p
}

func TestOpen_LoadsListAndReveals(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})

	s := p.Snapshot()
	assert.Equal(t, PhaseOpen, s.Phase)
	assert.True(t, s.List.Loaded)
	require.Len(t, s.List.Users, 1)
	assert.Equal(t, "bob", s.List.Users[0].Username)
}

func TestOpen_RevealDelayDoesNotGateOperations(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := New("sess-1", api, Options{RevealDelay: time.Hour})
	require.NoError(t, p.Open(creds))

	assert.Equal(t, PhaseOpening, p.Snapshot().Phase)
	require.NoError(t, p.Refresh(context.Background(), creds))
	require.NoError(t, p.OpenCreateForm())
	assert.Len(t, p.Snapshot().List.Users, 1)
}

func TestRefresh_FailureIsInline(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})

	api.mu.Lock()
	api.listErr = &authapi.APIError{Status: 403, Message: "Admin privileges required"}
	api.mu.Unlock()

	err := p.Refresh(context.Background(), creds)
	require.Error(t, err)
	s := p.Snapshot()
	assert.Equal(t, PhaseOpen, s.Phase)
	assert.Equal(t, "Failed to load users: Admin privileges required", s.List.Error)
	assert.Empty(t, s.List.Users)
}

func TestRefresh_ConcurrentCallsShareOneRequest(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})

	gate := make(chan struct{})
	api.mu.Lock()
	api.listGate = gate
	api.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Refresh(context.Background(), creds))
		}()
	}
	require.Eventually(t, func() bool {
		list, _ := api.calls()
		return list == 2
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	list, _ := api.calls()
	assert.Equal(t, 2, list)
}

func TestSubmitCreate_SuccessClosesFormAndRefreshesOnce(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	rec := &recorder{}
	p := openPanel(t, api, Options{Recorder: rec, Actor: "alice"})
	require.NoError(t, p.OpenCreateForm())
	before, _ := api.calls()

	err := p.SubmitCreate(context.Background(), creds, models.CreateUserInput{
		Username: "carol", Email: "c@x.com", Password: "secret1", Role: models.RoleUser,
	})
	require.NoError(t, err)

	after, _ := api.calls()
	assert.Equal(t, 1, after-before)
	s := p.Snapshot()
	assert.Nil(t, s.Form)
	assert.Len(t, s.List.Users, 2)
	require.NotEmpty(t, s.Notices)
	assert.Equal(t, NoticeSuccess, s.Notices[len(s.Notices)-1].Kind)
	assert.Equal(t, "User created successfully!", s.Notices[len(s.Notices)-1].Text)
	assert.Contains(t, rec.events, "user.create")
}

func TestSubmitCreate_ServerErrorKeepsFormOpen(t *testing.T) {
	api := &fakeAPI{createErr: &authapi.APIError{Status: 400, Message: "username taken"}}
	p := openPanel(t, api, Options{})
	require.NoError(t, p.OpenCreateForm())
	before, _ := api.calls()

	err := p.SubmitCreate(context.Background(), creds, models.CreateUserInput{Username: "bob", Password: "secret1", Role: models.RoleAdmin})
	require.Error(t, err)

	after, _ := api.calls()
	assert.Equal(t, before, after)
	s := p.Snapshot()
	require.NotNil(t, s.Form)
	assert.Equal(t, PhaseOpen, s.Form.Phase)
	assert.Equal(t, "username taken", s.Form.Error)
	assert.Equal(t, "bob", s.Form.Values.Username)
	assert.Empty(t, s.Form.Values.Password)
	require.Len(t, s.Notices, 1)
	assert.Equal(t, NoticeError, s.Notices[0].Kind)
	assert.Equal(t, "username taken", s.Notices[0].Text)
}

func TestSubmitCreate_TransportErrorText(t *testing.T) {
	api := &fakeAPI{createErr: &authapi.TransportError{Op: "create user", Err: errors.New("connection refused")}}
	p := openPanel(t, api, Options{})
	require.NoError(t, p.OpenCreateForm())

	require.Error(t, p.SubmitCreate(context.Background(), creds, models.CreateUserInput{Username: "x"}))
	s := p.Snapshot()
	assert.Equal(t, "Network error: connection refused", s.Form.Error)
}

func TestSubmitCreate_WithoutForm(t *testing.T) {
	p := openPanel(t, &fakeAPI{}, Options{})
	err := p.SubmitCreate(context.Background(), creds, models.CreateUserInput{Username: "x"})
	assert.ErrorIs(t, err, ErrNoForm)
}

func TestOpenCreateForm_AtMostOne(t *testing.T) {
	p := openPanel(t, &fakeAPI{}, Options{})
	require.NoError(t, p.OpenCreateForm())
	first := p.Snapshot().Form
	require.NoError(t, p.OpenCreateForm())
	assert.Equal(t, first, p.Snapshot().Form)
}

func TestCloseCreateForm_DismissDelay(t *testing.T) {
	p := openPanel(t, &fakeAPI{}, Options{DismissDelay: 20 * time.Millisecond})
	require.NoError(t, p.OpenCreateForm())
	p.CloseCreateForm()

	s := p.Snapshot()
	require.NotNil(t, s.Form)
	assert.Equal(t, PhaseClosing, s.Form.Phase)
	require.Eventually(t, func() bool { return p.Snapshot().Form == nil }, time.Second, time.Millisecond)
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})

	confirm, err := p.RequestDelete(2)
	require.NoError(t, err)
	assert.Equal(t, `Are you sure you want to delete user "bob"?`, confirm.Prompt)
	p.CancelDelete()

	_, deletes := api.calls()
	assert.Zero(t, deletes)
	assert.Nil(t, p.Snapshot().Confirm)
	assert.ErrorIs(t, p.ConfirmDelete(context.Background(), creds), ErrNoPendingDelete)
}

func TestDelete_ConfirmedSuccessRefreshes(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})

	_, err := p.RequestDelete(2)
	require.NoError(t, err)
	require.NoError(t, p.ConfirmDelete(context.Background(), creds))

	s := p.Snapshot()
	assert.Empty(t, s.List.Users)
	assert.Equal(t, "User deleted successfully!", s.Notices[len(s.Notices)-1].Text)
	assert.Equal(t, []int64{2}, api.deleted)
}

func TestDelete_FailureKeepsList(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}, deleteErr: &authapi.APIError{Status: 400, Message: "Cannot delete your own account"}}
	p := openPanel(t, api, Options{})
	before, _ := api.calls()

	_, err := p.RequestDelete(2)
	require.NoError(t, err)
	require.Error(t, p.ConfirmDelete(context.Background(), creds))

	after, _ := api.calls()
	assert.Equal(t, before, after)
	s := p.Snapshot()
	assert.Len(t, s.List.Users, 1)
	assert.Equal(t, "Cannot delete your own account", s.Notices[0].Text)
}

func TestDelete_FallbackText(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}, deleteErr: &authapi.APIError{Status: 500}}
	p := openPanel(t, api, Options{})
	_, err := p.RequestDelete(2)
	require.NoError(t, err)
	require.Error(t, p.ConfirmDelete(context.Background(), creds))
	assert.Equal(t, "Failed to delete user", p.Snapshot().Notices[0].Text)
}

func TestRequestDelete_UnknownUser(t *testing.T) {
	p := openPanel(t, &fakeAPI{}, Options{})
	_, err := p.RequestDelete(99)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestEdit_IsUnsupported(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})
	before, _ := api.calls()

	assert.ErrorIs(t, p.Edit(2), ErrEditUnsupported)
	after, deletes := api.calls()
	assert.Equal(t, before, after)
	assert.Zero(t, deletes)
	s := p.Snapshot()
	require.Len(t, s.Notices, 1)
	assert.Equal(t, NoticeInfo, s.Notices[0].Kind)
}

func TestClose_DiscardsLateResults(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{users: []models.SessionUser{bob()}, listGate: gate}
	var removed sync.WaitGroup
	removed.Add(1)
	p := New("sess-1", api, Options{DismissDelay: 5 * time.Millisecond, OnRemoved: removed.Done})
	require.NoError(t, p.Open(creds))
	require.Eventually(t, func() bool {
		list, _ := api.calls()
		return list == 1
	}, time.Second, time.Millisecond)

	p.Close()
	assert.Equal(t, PhaseClosing, p.Snapshot().Phase)
	close(gate)
	removed.Wait()

	s := p.Snapshot()
	assert.Equal(t, PhaseClosed, s.Phase)
	assert.Empty(t, s.List.Users)
	assert.ErrorIs(t, p.Refresh(context.Background(), creds), ErrPanelClosed)
	assert.ErrorIs(t, p.Open(creds), ErrPanelClosed)
}

func TestNotices_Expire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	p := openPanel(t, &fakeAPI{}, Options{NoticeTTL: time.Hour, Now: clock})
	_ = p.Edit(1)
	assert.Len(t, p.Snapshot().Notices, 1)

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()
	assert.Empty(t, p.Snapshot().Notices)
}

func TestOnChange_VersionsIncrease(t *testing.T) {
	var mu sync.Mutex
	var versions []uint64
	p := openPanel(t, &fakeAPI{}, Options{OnChange: func(s State) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	}})
	require.NoError(t, p.OpenCreateForm())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		var highest uint64
		for _, v := range versions {
			if v > highest {
				highest = v
			}
		}
		return highest == p.Snapshot().Version
	}, time.Second, time.Millisecond)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestSubmitCreate_AuditedWhenPanelClosesMidRequest(t *testing.T) {
	api := &fakeAPI{}
	rec := &recorder{}
	p := openPanel(t, api, Options{Recorder: rec})
	require.NoError(t, p.OpenCreateForm())

	api.mu.Lock()
	api.commitGate = make(chan struct{})
	api.commitStarted = make(chan struct{}, 1)
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- p.SubmitCreate(context.Background(), creds, models.CreateUserInput{Username: "carol", Email: "c@x.com", Password: "secret1", Role: models.RoleUser})
	}()
	<-api.commitStarted
	p.Close()
	close(api.commitGate)

	assert.ErrorIs(t, <-done, ErrPanelClosed)
	assert.Equal(t, []string{"user.create"}, rec.types())
	assert.Equal(t, PhaseClosed, p.Snapshot().Phase)
}

func TestConfirmDelete_AuditedWhenPanelClosesMidRequest(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	rec := &recorder{}
	p := openPanel(t, api, Options{Recorder: rec})
	_, err := p.RequestDelete(2)
	require.NoError(t, err)

	api.mu.Lock()
	api.commitGate = make(chan struct{})
	api.commitStarted = make(chan struct{}, 1)
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.ConfirmDelete(context.Background(), creds) }()
	<-api.commitStarted
	p.Close()
	close(api.commitGate)

	assert.ErrorIs(t, <-done, ErrPanelClosed)
	assert.Equal(t, []string{"user.delete"}, rec.types())
}

func TestLoad_CloseDuringLoadIsPanelClosed(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{})

	api.mu.Lock()
	api.listGate = make(chan struct{})
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.load(p.life, creds, true) }()
	require.Eventually(t, func() bool {
		list, _ := api.calls()
		return list >= 2
	}, time.Second, time.Millisecond)
	p.Close()

	assert.ErrorIs(t, <-done, ErrPanelClosed)
}

func TestTimers_FiredOnesAreReleased(t *testing.T) {
	api := &fakeAPI{users: []models.SessionUser{bob()}}
	p := openPanel(t, api, Options{RevealDelay: time.Millisecond, NoticeTTL: time.Millisecond})

	for i := 0; i < 20; i++ {
		require.ErrorIs(t, p.Edit(2), ErrEditUnsupported)
	}
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.timers) == 0 && len(p.state.Notices) == 0
	}, time.Second, time.Millisecond)
}
