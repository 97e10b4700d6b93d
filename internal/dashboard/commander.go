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

// CommanderData is the regional overview payload
type CommanderData struct {
	Totals       NetworkTotals  `json:"totals"`
	Facilities   []FacilityCard `json:"facilities"`
	Chat         *ChatData      `json:"chat,omitempty"`
	NetworkError string         `json:"network_error,omitempty"`
}

// CommanderView aggregates the whole network for regional commanders
type CommanderView struct {
	deps Deps
	chat *chatPanel

	emitMu sync.Mutex

	mu         sync.Mutex
	network    types.NetworkSnapshot
	networkErr string
	updatedAt  time.Time
	handle     *poller.Handle
	stopped    bool
}

// NewCommanderView builds the commander dashboard
func NewCommanderView(deps Deps, _ types.Session) *CommanderView {
	v := &CommanderView{deps: deps}
	v.chat = newChatPanel(deps.API, v.emit)
	return v
}

func (v *CommanderView) Name() string  { return "commander" }
func (v *CommanderView) Route() string { return navigation.RouteCommander }

// Start subscribes the network and chat pollers
func (v *CommanderView) Start() {
	handle := poller.Start(v.deps.Poller, "commander.network", v.deps.Intervals.Network,
		v.deps.API.NetworkSnapshot, v.onNetwork)

	v.mu.Lock()
	v.handle = handle
	v.mu.Unlock()

	v.chat.start(v.deps.Poller, v.Name(), v.deps.Intervals.Chat)
}

// Stop cancels every subscription of the view
func (v *CommanderView) Stop() {
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
	v.chat.stop()
}

func (v *CommanderView) onNetwork(r poller.Result[types.NetworkSnapshot]) {
	v.mu.Lock()
	if r.Err != nil {
		log.Printf("Commander: network poll #%d failed: %v", r.Seq, r.Err)
		v.networkErr = errorText(r.Err)
	} else {
		v.network = r.Value
		v.networkErr = ""
	}
	v.updatedAt = v.deps.now()
	v.mu.Unlock()
	v.emit()
}

// SendChat posts to the network chat
func (v *CommanderView) SendChat(ctx context.Context, message string) error {
	return v.chat.send(ctx, message)
}

// Data returns a copy of the derived state
func (v *CommanderView) Data() CommanderData {
	v.mu.Lock()
	defer v.mu.Unlock()
	return CommanderData{
		Totals:       Aggregate(v.network),
		Facilities:   NetworkCards(v.network),
		Chat:         v.chat.data(),
		NetworkError: v.networkErr,
	}
}

// Frame renders the current state
func (v *CommanderView) Frame() types.Frame {
	data := v.Data()
	v.mu.Lock()
	updated := v.updatedAt
	v.mu.Unlock()
	return types.Frame{View: v.Name(), Route: v.Route(), Data: data, UpdatedAt: updated}
}

func (v *CommanderView) emit() {
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
