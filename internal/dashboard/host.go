package dashboard

import (
	"log"
	"sync"

	"airamed/internal/guard"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// Host keeps exactly one view model alive for the current route and session.
// ARCHITECTURAL DISCOVERY: Navigation and session listeners only signal the
// host loop; reconciliation runs on the loop goroutine, so a guard redirect
// issued while reconciling re-enters through the same signal instead of
// recursing into the navigator
type Host struct {
	navigator interfaces.Navigator
	sessions  interfaces.SessionReader
	notifier  interfaces.SessionNotifier
	guard     *guard.Guard
	deps      Deps

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}

	unsubscribe []func()

	mu        sync.Mutex
	current   ViewModel
	builtFor  string
	route     string
	decision  guard.Decision
	startOnce sync.Once
	stopOnce  sync.Once
}

// HostConfig are the collaborators of a Host
type HostConfig struct {
	Navigator interfaces.Navigator
	Sessions  interfaces.SessionReader
	Notifier  interfaces.SessionNotifier
	Guard     *guard.Guard
	Deps      Deps
}

// NewHost creates a host; Start begins reconciling
func NewHost(cfg HostConfig) *Host {
	return &Host{
		navigator: cfg.Navigator,
		sessions:  cfg.Sessions,
		notifier:  cfg.Notifier,
		guard:     cfg.Guard,
		deps:      cfg.Deps,
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start subscribes to navigation and session changes and reconciles once
func (h *Host) Start() {
	h.startOnce.Do(func() {
		h.unsubscribe = append(h.unsubscribe, h.navigator.Subscribe(func(interfaces.Navigation) {
			h.wake()
		}))
		if h.notifier != nil {
			h.unsubscribe = append(h.unsubscribe, h.notifier.Subscribe(func(types.SessionEvent) {
				h.wake()
			}))
		}
		go h.run()
		h.wake()
		log.Printf("Dashboard host started")
	})
}

// Stop tears down the active view and waits for the loop to exit
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		// A host that never started has no loop to wait for
		h.startOnce.Do(func() { close(h.done) })
		for _, unsubscribe := range h.unsubscribe {
			unsubscribe()
		}
		close(h.stop)
		<-h.done
		log.Printf("Dashboard host stopped")
	})
}

func (h *Host) wake() {
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *Host) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.teardown()
			return
		case <-h.signal:
			h.reconcile()
		}
	}
}

// reconcile brings the active view in line with the current route and session
func (h *Host) reconcile() {
	route := h.navigator.Current()
	session := h.sessions.CurrentSession()

	decision := h.guard.Evaluate(route)

	h.mu.Lock()
	h.route = route
	h.decision = decision
	current := h.current
	builtFor := h.builtFor
	h.mu.Unlock()

	if decision == guard.Redirected {
		// The guard's replacing navigation signals the next pass
		h.teardown()
		return
	}

	role, dashboard := guard.RoleForRoute(route)
	if current != nil && dashboard && current.Route() == route && builtFor == session.Token {
		return
	}

	h.teardown()

	if !dashboard {
		h.deps.publish(types.Frame{View: "none", Route: route, UpdatedAt: h.deps.now()})
		return
	}

	variant, ok := Variants[role]
	if !ok {
		log.Printf("Dashboard host: no view registered for %s", route)
		return
	}

	deps := h.deps.bindSession(session)
	view := variant.New(deps, session)
	h.mu.Lock()
	h.current = view
	h.builtFor = session.Token
	h.mu.Unlock()

	log.Printf("Dashboard host: %s view active for role %s", view.Name(), session.Role)
	view.Start()
	deps.publish(view.Frame())
}

func (h *Host) teardown() {
	h.mu.Lock()
	current := h.current
	h.current = nil
	h.builtFor = ""
	h.mu.Unlock()

	if current != nil {
		current.Stop()
		log.Printf("Dashboard host: %s view torn down", current.Name())
	}
}

// Current returns the active view, or nil
func (h *Host) Current() ViewModel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Frame returns the active view's frame, or an empty frame for the route
func (h *Host) Frame() types.Frame {
	h.mu.Lock()
	current := h.current
	route := h.route
	h.mu.Unlock()

	if current == nil {
		return types.Frame{View: "none", Route: route}
	}
	return current.Frame()
}

// Route returns the route the host last reconciled and the guard's decision
func (h *Host) Route() (string, guard.Decision) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.route, h.decision
}
