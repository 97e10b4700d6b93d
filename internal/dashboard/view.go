package dashboard

import (
	"context"
	"errors"
	"time"

	"airamed/internal/navigation"
	"airamed/internal/poller"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

var (
	ErrNotSupported   = errors.New("operation not supported by the active view")
	ErrNoActiveView   = errors.New("no dashboard view is active")
	ErrViewStopped    = errors.New("view has been torn down")
	ErrReferralActive = errors.New("a referral request is already in flight")
)

// CapacityAPI is the slice of the transport client the views read from
type CapacityAPI interface {
	NetworkSnapshot(ctx context.Context) (types.NetworkSnapshot, error)
	FacilityState(ctx context.Context, facilityID string) (types.FacilitySnapshot, error)
	ActivateCrisis(ctx context.Context) error
	DeactivateCrisis(ctx context.Context) error
	RequestReferral(ctx context.Context, req types.ReferralRequest) (types.ReferralResult, error)
	ChatMessages(ctx context.Context) ([]types.ChatMessage, error)
	SendChat(ctx context.Context, message string) error
}

// Publisher receives every derived frame
type Publisher interface {
	PublishFrame(frame types.Frame)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(types.Frame)

func (f PublisherFunc) PublishFrame(frame types.Frame) { f(frame) }

// Intervals are the poll cadences of the views
type Intervals struct {
	Network  time.Duration
	Facility time.Duration
	Chat     time.Duration
}

// DefaultIntervals match the server's expected refresh rates
func DefaultIntervals() Intervals {
	return Intervals{
		Network:  5 * time.Second,
		Facility: 5 * time.Second,
		Chat:     3 * time.Second,
	}
}

// Origin is the ambulance position sent with referral requests
type Origin struct {
	Lat float64
	Lon float64
}

// Deps are the collaborators every view is built with. With Sessions set,
// a view bound to a session publishes only while that session is current.
type Deps struct {
	API       CapacityAPI
	Poller    *poller.Synchronizer
	Publisher Publisher
	Sessions  interfaces.SessionGate
	Intervals Intervals
	Origin    Origin
	Now       func() time.Time

	token string
}

// bindSession scopes publishing to session's credential
func (d Deps) bindSession(session types.Session) Deps {
	d.token = session.Token
	return d
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// FUNCTIONAL DISCOVERY: A poll result delivered while logout is in progress
// must not reach viewers, so the credential check and the publish happen
// under the session's read lock
func (d Deps) publish(frame types.Frame) {
	if d.Publisher == nil {
		return
	}
	if d.Sessions == nil || d.token == "" {
		d.Publisher.PublishFrame(frame)
		return
	}
	d.Sessions.WhileCurrent(d.token, func() {
		d.Publisher.PublishFrame(frame)
	})
}

// ViewModel is one role-specific dashboard. Start subscribes its pollers;
// Stop cancels them and no frame is published afterwards.
type ViewModel interface {
	Name() string
	Route() string
	Start()
	Stop()
	Frame() types.Frame
}

// CrisisToggler is implemented by views that can switch crisis mode
type CrisisToggler interface {
	SetCrisis(ctx context.Context, active bool) (bool, error)
	ToggleCrisis(ctx context.Context) (bool, error)
}

// ReferralRequester is implemented by views that can request a referral
type ReferralRequester interface {
	RequestReferral(ctx context.Context, severity types.Severity, resource types.Resource) (types.ReferralResult, error)
}

// ChatSender is implemented by views that embed the chat panel
type ChatSender interface {
	SendChat(ctx context.Context, message string) error
}

// Variant binds a role to its dashboard
type Variant struct {
	Route string
	New   func(deps Deps, session types.Session) ViewModel
}

// ARCHITECTURAL DISCOVERY: Admin shares the facility dashboard, so the variant
// table is keyed by the role whose route serves the view
var Variants = map[types.Role]Variant{
	types.RoleFacility: {
		Route: navigation.RouteHospital,
		New:   func(d Deps, s types.Session) ViewModel { return NewFacilityView(d, s) },
	},
	types.RoleAmbulance: {
		Route: navigation.RouteAmbulance,
		New:   func(d Deps, s types.Session) ViewModel { return NewAmbulanceView(d, s) },
	},
	types.RoleCommander: {
		Route: navigation.RouteCommander,
		New:   func(d Deps, s types.Session) ViewModel { return NewCommanderView(d, s) },
	},
}

// errorText renders a poll error for a frame
func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
