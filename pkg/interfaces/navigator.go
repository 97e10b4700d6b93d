package interfaces

// Navigation describes one route change
type Navigation struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Replace bool   `json:"replace"`
}

// NavigationListener is called after every route change
type NavigationListener func(nav Navigation)

// Redirector performs a replacing navigation; the blocked destination is
// dropped from history
type Redirector interface {
	Replace(route string)
}

// Navigator owns the current route and its history
type Navigator interface {
	Redirector
	Push(route string)
	Current() string
	Subscribe(listener NavigationListener) (unsubscribe func())
}
