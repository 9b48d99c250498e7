// Package session tracks the authentication lifecycle as an explicit state
// machine gating namespace switches.
//
// Transitions attempted from the wrong state are ignored, not errored: a
// second login click or a logout racing a login simply loses. The one
// deliberate bypass is AnonymousBootstrap, which must succeed even when the
// machine is already anonymous.
package session

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/jotworks/daybook/internal/lifecycle"
	"github.com/jotworks/daybook/internal/notedb"
)

// State is the authentication state.
type State int

const (
	// StateAnonymous is the initial state: the anonymous namespace is (or
	// will be) active.
	StateAnonymous State = iota
	// StateSwitching is the transient state while a namespace change is in
	// flight.
	StateSwitching
	// StateAuthenticated means a user namespace is active.
	StateAuthenticated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateSwitching:
		return "switching"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventLoginStarted EventKind = iota
	EventLoginCompleted
	EventLogoutStarted
	EventLogoutCompleted
)

// String returns a human-readable event name.
func (k EventKind) String() string {
	switch k {
	case EventLoginStarted:
		return "login_started"
	case EventLoginCompleted:
		return "login_completed"
	case EventLogoutStarted:
		return "logout_started"
	case EventLogoutCompleted:
		return "logout_completed"
	default:
		return "unknown"
	}
}

// Event is emitted on every successful transition.
type Event struct {
	Kind           EventKind
	State          State
	UserID         string
	IsNewUser      bool
	MergeAnonymous bool
}

// Listener receives emitted events. Listeners run synchronously on the
// transitioning goroutine and must not block.
type Listener func(Event)

// Machine is the session state machine.
type Machine struct {
	mgr    *lifecycle.Manager
	logger *log.Logger

	mu        sync.Mutex
	state     State
	userID    string
	listeners []Listener
}

// New creates a Machine in the anonymous state.
//
// If logger is nil, a default logger writing to stderr is used.
func New(mgr *lifecycle.Manager, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &Machine{mgr: mgr, logger: logger, state: StateAnonymous}
}

// Subscribe registers a listener for all future events.
func (sm *Machine) Subscribe(fn Listener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// State returns the current state.
func (sm *Machine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// UserID returns the authenticated user id, or "" outside
// StateAuthenticated.
func (sm *Machine) UserID() string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.state != StateAuthenticated {
		return ""
	}
	return sm.userID
}

func (sm *Machine) emit(ev Event) {
	sm.mu.Lock()
	listeners := make([]Listener, len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// BeginLogin transitions anonymous|authenticated -> switching and switches
// the lifecycle manager to the user's namespace.
//
// Returns false when the transition was ignored (wrong state) or went
// stale: the switch version must land exactly one past the version
// observed on entry, otherwise a newer login or logout superseded this one
// and no further events are emitted for it.
func (sm *Machine) BeginLogin(ctx context.Context, userID string, isNewUser, mergeAnonymous bool) (bool, error) {
	sm.mu.Lock()
	if sm.state != StateAnonymous && sm.state != StateAuthenticated {
		sm.mu.Unlock()
		sm.logger.Printf("Ignoring login for %s in state %s", userID, sm.state)
		return false, nil
	}
	entryVersion := sm.mgr.Version()
	sm.state = StateSwitching
	sm.mu.Unlock()

	sm.emit(Event{
		Kind:           EventLoginStarted,
		State:          StateSwitching,
		UserID:         userID,
		IsNewUser:      isNewUser,
		MergeAnonymous: mergeAnonymous,
	})

	if _, err := sm.mgr.SwitchTo(ctx, lifecycle.Namespace(userID)); err != nil {
		return false, err
	}

	if sm.mgr.Version() != entryVersion+1 {
		sm.logger.Printf("Login for %s superseded by a newer switch, aborting", userID)
		return false, nil
	}
	return true, nil
}

// CompleteLogin transitions switching -> authenticated.
func (sm *Machine) CompleteLogin(userID string) {
	sm.mu.Lock()
	if sm.state != StateSwitching {
		sm.mu.Unlock()
		return
	}
	sm.state = StateAuthenticated
	sm.userID = userID
	sm.mu.Unlock()

	sm.emit(Event{Kind: EventLoginCompleted, State: StateAuthenticated, UserID: userID})
}

// BeginLogout transitions authenticated -> switching, persisting the
// current database first.
func (sm *Machine) BeginLogout(ctx context.Context) (bool, error) {
	sm.mu.Lock()
	if sm.state != StateAuthenticated {
		sm.mu.Unlock()
		sm.logger.Printf("Ignoring logout in state %s", sm.state)
		return false, nil
	}
	userID := sm.userID
	sm.state = StateSwitching
	sm.mu.Unlock()

	if err := sm.mgr.Persist(ctx); err != nil {
		sm.logger.Printf("WARNING: persist before logout failed: %v", err)
	}

	sm.emit(Event{Kind: EventLogoutStarted, State: StateSwitching, UserID: userID})
	return true, nil
}

// CompleteLogout transitions switching -> anonymous and switches back to
// the anonymous namespace.
func (sm *Machine) CompleteLogout(ctx context.Context) error {
	sm.mu.Lock()
	if sm.state != StateSwitching {
		sm.mu.Unlock()
		return nil
	}
	sm.state = StateAnonymous
	sm.userID = ""
	sm.mu.Unlock()

	if _, err := sm.mgr.SwitchTo(ctx, lifecycle.Anonymous); err != nil {
		return err
	}

	sm.emit(Event{Kind: EventLogoutCompleted, State: StateAnonymous})
	return nil
}

// AnonymousBootstrap guarantees the anonymous database exists. It bypasses
// the guarded transitions entirely: it must succeed even when the machine
// is already anonymous, which the guards would reject as a self-transition.
func (sm *Machine) AnonymousBootstrap(ctx context.Context) (*notedb.DB, error) {
	return sm.mgr.EnsureInitializedFor(ctx, lifecycle.Anonymous)
}
