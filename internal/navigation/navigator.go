package navigation

import (
	"strings"
	"sync"

	"airamed/pkg/interfaces"
)

// Well-known routes
const (
	RouteLogin     = "/login"
	RouteHome      = "/"
	RouteHospital  = "/hospital"
	RouteAmbulance = "/ambulance"
	RouteCommander = "/commander"
)

const maxHistory = 50

// Navigator holds the current route and its history
type Navigator struct {
	mu      sync.Mutex
	history []string

	listenersMu sync.Mutex
	listeners   map[uint64]interfaces.NavigationListener
	order       []uint64
	nextID      uint64
}

// NewNavigator creates a navigator positioned at initial
func NewNavigator(initial string) *Navigator {
	return &Navigator{
		history:   []string{Normalize(initial)},
		listeners: make(map[uint64]interfaces.NavigationListener),
	}
}

// Normalize trims the route and ensures a leading slash
func Normalize(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		return RouteHome
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}

// Push appends route to history
func (n *Navigator) Push(route string) {
	n.navigate(Normalize(route), false)
}

// Replace swaps the top of history for route, so the replaced destination
// cannot be reached again with Back
func (n *Navigator) Replace(route string) {
	n.navigate(Normalize(route), true)
}

// Back pops the current route; it never empties the history
func (n *Navigator) Back() {
	n.mu.Lock()
	if len(n.history) < 2 {
		n.mu.Unlock()
		return
	}
	from := n.history[len(n.history)-1]
	n.history = n.history[:len(n.history)-1]
	to := n.history[len(n.history)-1]
	n.mu.Unlock()

	n.notify(interfaces.Navigation{From: from, To: to})
}

// navigate to the current route is a no-op and emits nothing
func (n *Navigator) navigate(route string, replace bool) {
	n.mu.Lock()
	from := n.history[len(n.history)-1]
	if from == route {
		n.mu.Unlock()
		return
	}
	if replace {
		n.history[len(n.history)-1] = route
	} else {
		n.history = append(n.history, route)
		if len(n.history) > maxHistory {
			n.history = n.history[len(n.history)-maxHistory:]
		}
	}
	n.mu.Unlock()

	n.notify(interfaces.Navigation{From: from, To: route, Replace: replace})
}

// Current returns the active route
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.history[len(n.history)-1]
}

// History returns a copy of the route history, oldest first
func (n *Navigator) History() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.history))
	copy(out, n.history)
	return out
}

// Subscribe registers listener for route changes
func (n *Navigator) Subscribe(listener interfaces.NavigationListener) func() {
	n.listenersMu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners[id] = listener
	n.order = append(n.order, id)
	n.listenersMu.Unlock()

	return func() {
		n.listenersMu.Lock()
		defer n.listenersMu.Unlock()
		if _, ok := n.listeners[id]; !ok {
			return
		}
		delete(n.listeners, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

func (n *Navigator) notify(nav interfaces.Navigation) {
	n.listenersMu.Lock()
	listeners := make([]interfaces.NavigationListener, 0, len(n.order))
	for _, id := range n.order {
		listeners = append(listeners, n.listeners[id])
	}
	n.listenersMu.Unlock()

	for _, l := range listeners {
		l(nav)
	}
}
