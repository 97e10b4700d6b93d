package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"airamed/internal/navigation"
	"airamed/internal/poller"
	"airamed/pkg/types"
)

// FacilityData is the facility dashboard's frame payload
type FacilityData struct {
	FacilityID   string                  `json:"facility_id"`
	Facility     *types.FacilitySnapshot `json:"facility,omitempty"`
	Resources    []ResourceCard          `json:"resources"`
	Tier         Tier                    `json:"tier"`
	CrisisMode   bool                    `json:"crisis_mode"`
	Network      []FacilityCard          `json:"network"`
	Chat         *ChatData               `json:"chat,omitempty"`
	Error        string                  `json:"error,omitempty"`
	NetworkError string                  `json:"network_error,omitempty"`
}

// FacilityView is the dashboard for facility staff and admins: its own
// capacity cards, the crisis toggle, the network grid and the chat panel
type FacilityView struct {
	deps       Deps
	facilityID string
	chat       *chatPanel

	emitMu sync.Mutex

	mu         sync.Mutex
	own        *types.FacilitySnapshot
	ownErr     string
	network    types.NetworkSnapshot
	networkErr string
	crisis     bool
	updatedAt  time.Time
	handles    []*poller.Handle
	stopped    bool
}

// NewFacilityView builds the view for the session's facility
func NewFacilityView(deps Deps, session types.Session) *FacilityView {
	v := &FacilityView{deps: deps, facilityID: session.FacilityID}
	v.chat = newChatPanel(deps.API, v.emit)
	return v
}

func (v *FacilityView) Name() string  { return "facility" }
func (v *FacilityView) Route() string { return navigation.RouteHospital }

// Start subscribes the facility, network and chat pollers
func (v *FacilityView) Start() {
	var handles []*poller.Handle

	// An admin session may carry no facility; the network poll still runs
	if v.facilityID != "" {
		handles = append(handles, poller.Start(v.deps.Poller, "facility.state", v.deps.Intervals.Facility,
			func(ctx context.Context) (types.FacilitySnapshot, error) {
				return v.deps.API.FacilityState(ctx, v.facilityID)
			},
			v.onFacility))
	}
	handles = append(handles, poller.Start(v.deps.Poller, "facility.network", v.deps.Intervals.Network,
		v.deps.API.NetworkSnapshot, v.onNetwork))

	v.mu.Lock()
	v.handles = handles
	v.mu.Unlock()

	v.chat.start(v.deps.Poller, v.Name(), v.deps.Intervals.Chat)
}

// Stop cancels every subscription of the view
func (v *FacilityView) Stop() {
	v.emitMu.Lock()
	v.mu.Lock()
	v.stopped = true
	handles := v.handles
	v.handles = nil
	v.mu.Unlock()
	v.emitMu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	v.chat.stop()
}

func (v *FacilityView) onFacility(r poller.Result[types.FacilitySnapshot]) {
	v.mu.Lock()
	if r.Err != nil {
		log.Printf("Facility %s: state poll #%d failed: %v", v.facilityID, r.Seq, r.Err)
		v.ownErr = errorText(r.Err)
	} else {
		snapshot := r.Value
		v.own = &snapshot
		v.ownErr = ""
	}
	v.updatedAt = v.deps.now()
	v.mu.Unlock()
	v.emit()
}

func (v *FacilityView) onNetwork(r poller.Result[types.NetworkSnapshot]) {
	v.mu.Lock()
	if r.Err != nil {
		log.Printf("Facility %s: network poll #%d failed: %v", v.facilityID, r.Seq, r.Err)
		v.networkErr = errorText(r.Err)
	} else {
		v.network = r.Value
		v.networkErr = ""
	}
	v.updatedAt = v.deps.now()
	v.mu.Unlock()
	v.emit()
}

// SetCrisis switches crisis mode; the local flag flips only once the
// server acknowledged the change
func (v *FacilityView) SetCrisis(ctx context.Context, active bool) (bool, error) {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return false, ErrViewStopped
	}
	current := v.crisis
	v.mu.Unlock()

	var err error
	if active {
		err = v.deps.API.ActivateCrisis(ctx)
	} else {
		err = v.deps.API.DeactivateCrisis(ctx)
	}
	if err != nil {
		log.Printf("Facility %s: crisis switch to %t failed: %v", v.facilityID, active, err)
		return current, err
	}

	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return active, nil
	}
	v.crisis = active
	v.updatedAt = v.deps.now()
	v.mu.Unlock()

	log.Printf("Facility %s: crisis mode %t", v.facilityID, active)
	v.emit()
	return active, nil
}

// ToggleCrisis flips crisis mode
func (v *FacilityView) ToggleCrisis(ctx context.Context) (bool, error) {
	v.mu.Lock()
	next := !v.crisis
	v.mu.Unlock()
	return v.SetCrisis(ctx, next)
}

// SendChat posts to the network chat
func (v *FacilityView) SendChat(ctx context.Context, message string) error {
	return v.chat.send(ctx, message)
}

// Data returns a copy of the derived state
func (v *FacilityView) Data() FacilityData {
	v.mu.Lock()
	defer v.mu.Unlock()

	data := FacilityData{
		FacilityID:   v.facilityID,
		CrisisMode:   v.crisis,
		Network:      NetworkCards(v.network),
		Error:        v.ownErr,
		NetworkError: v.networkErr,
		Tier:         TierNormal,
	}

	own := v.own
	if own == nil && v.facilityID != "" {
		if found, ok := v.network.Find(v.facilityID); ok {
			own = &found
		}
	}
	if own != nil {
		snapshot := *own
		data.Facility = &snapshot
		data.Resources = ResourceCards(snapshot)
		data.Tier = Classify(OccupancyRatio(snapshot.BedsOccupied, snapshot.BedsTotal))
	}
	data.Chat = v.chat.data()
	return data
}

// Frame renders the current state
func (v *FacilityView) Frame() types.Frame {
	data := v.Data()
	v.mu.Lock()
	updated := v.updatedAt
	v.mu.Unlock()
	return types.Frame{View: v.Name(), Route: v.Route(), Data: data, UpdatedAt: updated}
}

func (v *FacilityView) emit() {
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
