package panel

import (
	"errors"
	"time"

	"github.com/isdelr/ender-console/internal/models"
)

// Phase is a step of a modal's lifecycle.
type Phase int

const (
	PhaseClosed Phase = iota
	PhaseOpening
	PhaseOpen
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Live reports whether the modal accepts operations. Opening counts: the
// reveal delay is cosmetic.
func (p Phase) Live() bool {
	return p == PhaseOpening || p == PhaseOpen
}

var (
	ErrPanelClosed     = errors.New("panel: closed")
	ErrNoForm          = errors.New("panel: create form is not open")
	ErrBusy            = errors.New("panel: request already in flight")
	ErrNoPendingDelete = errors.New("panel: no delete awaiting confirmation")
	ErrUnknownUser     = errors.New("panel: user not in list")
	ErrEditUnsupported = errors.New("panel: editing users is not supported")
)

// NoticeKind classifies a transient notification.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeInfo    NoticeKind = "info"
	NoticeError   NoticeKind = "error"
)

// Notice is a transient notification shown over the panel.
type Notice struct {
	ID      uint64
	Kind    NoticeKind
	Text    string
	Expires time.Time
}

// ListState is the user table of an open panel.
type ListState struct {
	Loading bool
	Loaded  bool
	Users   []models.SessionUser
	Error   string
}

// FormState is the add-user form.
type FormState struct {
	Phase      Phase
	Values     models.CreateUserInput // Password is never retained
	Error      string
	Submitting bool
}

// DeleteConfirm is a deletion awaiting explicit confirmation.
type DeleteConfirm struct {
	UserID   int64
	Username string
	Prompt   string
}

// State is everything the panel renders from.
type State struct {
	SessionID string
	Version   uint64
	Phase     Phase
	List      ListState
	Form      *FormState
	Confirm   *DeleteConfirm
	Deleting  bool
	Notices   []Notice
}

func (s State) clone() State {
	out := s
	if s.List.Users != nil {
		out.List.Users = append([]models.SessionUser(nil), s.List.Users...)
	}
	if s.Form != nil {
		form := *s.Form
		out.Form = &form
	}
	if s.Confirm != nil {
		confirm := *s.Confirm
		out.Confirm = &confirm
	}
	if s.Notices != nil {
		out.Notices = append([]Notice(nil), s.Notices...)
	}
	return out
}
