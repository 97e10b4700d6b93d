package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"airamed/internal/navigation"
	"airamed/internal/poller"
	"airamed/pkg/types"
)

// Referral is the last completed referral cycle, rendered as received
type Referral struct {
	Request     types.ReferralRequest `json:"request"`
	Result      types.ReferralResult  `json:"result"`
	CompletedAt time.Time             `json:"completed_at"`
}

// AmbulanceData is the ambulance dashboard's frame payload
type AmbulanceData struct {
	Network       []FacilityCard `json:"network"`
	Referral      *Referral      `json:"referral,omitempty"`
	Pending       bool           `json:"pending"`
	ReferralError string         `json:"referral_error,omitempty"`
	NetworkError  string         `json:"network_error,omitempty"`
}

// AmbulanceView shows the capacity grid and runs one-shot referral requests
type AmbulanceView struct {
	deps Deps

	emitMu sync.Mutex

	mu          sync.Mutex
	network     types.NetworkSnapshot
	networkErr  string
	referral    *Referral
	referralErr string
	pending     bool
	updatedAt   time.Time
	handle      *poller.Handle
	stopped     bool
}

// NewAmbulanceView builds the ambulance dashboard
func NewAmbulanceView(deps Deps, _ types.Session) *AmbulanceView {
	return &AmbulanceView{deps: deps}
}

func (v *AmbulanceView) Name() string  { return "ambulance" }
func (v *AmbulanceView) Route() string { return navigation.RouteAmbulance }

// Start subscribes the network poller
func (v *AmbulanceView) Start() {
	handle := poller.Start(v.deps.Poller, "ambulance.network", v.deps.Intervals.Network,
		v.deps.API.NetworkSnapshot, v.onNetwork)

	v.mu.Lock()
	v.handle = handle
	v.mu.Unlock()
}

// Stop cancels the poller; an in-flight referral completes unseen
func (v *AmbulanceView) Stop() {
	v.emitMu.Lock()
	v.mu.Lock()
	v.stopped = true
	handle := v.handle
	v.handle = nil
	v.mu.Unlock()
	v.emitMu.Unlock()

	if handle != nil {
		handle.Stop()
	}
}

func (v *AmbulanceView) onNetwork(r poller.Result[types.NetworkSnapshot]) {
	v.mu.Lock()
	if r.Err != nil {
		log.Printf("Ambulance: network poll #%d failed: %v", r.Seq, r.Err)
		v.networkErr = errorText(r.Err)
	} else {
		v.network = r.Value
		v.networkErr = ""
	}
	v.updatedAt = v.deps.now()
	v.mu.Unlock()
	v.emit()
}

// RequestReferral submits one referral for a new patient and records the
// server's ranking unchanged
func (v *AmbulanceView) RequestReferral(ctx context.Context, severity types.Severity, resource types.Resource) (types.ReferralResult, error) {
	req := types.ReferralRequest{
		PatientID:        "P_" + uuid.NewString(),
		Severity:         severity,
		RequiredResource: resource,
		OriginLat:        v.deps.Origin.Lat,
		OriginLon:        v.deps.Origin.Lon,
	}
	if err := req.Validate(); err != nil {
		return types.ReferralResult{}, err
	}

	v.mu.Lock()
	switch {
	case v.stopped:
		v.mu.Unlock()
		return types.ReferralResult{}, ErrViewStopped
	case v.pending:
		v.mu.Unlock()
		return types.ReferralResult{}, ErrReferralActive
	}
	v.pending = true
	v.referralErr = ""
	v.mu.Unlock()
	v.emit()

	log.Printf("Ambulance: referral %s (%s, %s)", req.PatientID, severity, resource)
	result, err := v.deps.API.RequestReferral(ctx, req)

	v.mu.Lock()
	v.pending = false
	if err != nil {
		v.referralErr = errorText(err)
	} else {
		v.referral = &Referral{Request: req, Result: result, CompletedAt: v.deps.now()}
	}
	v.updatedAt = v.deps.now()
	v.mu.Unlock()
	v.emit()

	if err != nil {
		log.Printf("Ambulance: referral %s failed: %v", req.PatientID, err)
		return types.ReferralResult{}, err
	}
	return result, nil
}

// Data returns a copy of the derived state
func (v *AmbulanceView) Data() AmbulanceData {
	v.mu.Lock()
	defer v.mu.Unlock()

	data := AmbulanceData{
		Network:       NetworkCards(v.network),
		Pending:       v.pending,
		ReferralError: v.referralErr,
		NetworkError:  v.networkErr,
	}
	if v.referral != nil {
		referral := *v.referral
		data.Referral = &referral
	}
	return data
}

// Frame renders the current state
func (v *AmbulanceView) Frame() types.Frame {
	data := v.Data()
	v.mu.Lock()
	updated := v.updatedAt
	v.mu.Unlock()
	return types.Frame{View: v.Name(), Route: v.Route(), Data: data, UpdatedAt: updated}
}

func (v *AmbulanceView) emit() {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	stopped := v.stopped
	v.mu.Unlock()
	if stopped {
		return
	}
	v.deps.publish(v.Frame())
}
