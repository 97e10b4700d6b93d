package guard

import (
	"log"
	"strings"

	"airamed/internal/navigation"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

// Decision is the outcome of one guard evaluation
type Decision int

const (
	Authorized Decision = iota
	Redirected
)

func (d Decision) String() string {
	if d == Authorized {
		return "authorized"
	}
	return "redirected"
}

// publicRoutes are reachable without a session; every other route is protected
var publicRoutes = map[string]bool{
	navigation.RouteLogin: true,
	navigation.RouteHome:  true,
}

// Guard gates protected routes on the presence of a session token.
// FUNCTIONAL DISCOVERY: The decision ignores the role value; role only picks
// which dashboard variant is built after entry is granted
type Guard struct {
	sessions  interfaces.SessionReader
	navigator interfaces.Navigator
}

// New creates a guard reading sessions and redirecting through navigator
func New(sessions interfaces.SessionReader, navigator interfaces.Navigator) *Guard {
	return &Guard{sessions: sessions, navigator: navigator}
}

// IsProtected reports whether route requires a session
func IsProtected(route string) bool {
	return !publicRoutes[navigation.Normalize(route)]
}

// Evaluate decides entry to route. A denied route is replaced by the login
// route in history.
func (g *Guard) Evaluate(route string) Decision {
	if !IsProtected(route) {
		return Authorized
	}
	if g.sessions.CurrentSession().IsAuthenticated() {
		return Authorized
	}

	log.Printf("Guard: no session for %s, redirecting to %s", route, navigation.RouteLogin)
	g.navigator.Replace(navigation.RouteLogin)
	return Redirected
}

// Watch re-evaluates the current route on every session teardown
func (g *Guard) Watch(notifier interfaces.SessionNotifier) (unsubscribe func()) {
	return notifier.Subscribe(func(event types.SessionEvent) {
		if event.Kind != types.SessionLogout {
			return
		}
		g.Evaluate(g.navigator.Current())
	})
}

// LandingRoute returns the dashboard route for role
func LandingRoute(role types.Role) string {
	switch role {
	case types.RoleFacility, types.RoleAdmin:
		return navigation.RouteHospital
	case types.RoleAmbulance:
		return navigation.RouteAmbulance
	case types.RoleCommander:
		return navigation.RouteCommander
	default:
		return navigation.RouteHome
	}
}

// RoleForRoute returns the role whose dashboard lives at route
func RoleForRoute(route string) (types.Role, bool) {
	switch strings.ToLower(navigation.Normalize(route)) {
	case navigation.RouteHospital:
		return types.RoleFacility, true
	case navigation.RouteAmbulance:
		return types.RoleAmbulance, true
	case navigation.RouteCommander:
		return types.RoleCommander, true
	default:
		return "", false
	}
}
