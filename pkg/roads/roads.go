// Package roads commands the road-building turtle fleet over the bus.
package roads

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/bus"
	"github.com/voxelforge/fabric/pkg/registry"
	"github.com/voxelforge/fabric/pkg/types"
)

// Commands the turtle firmware understands.
const (
	CmdBuild    = "build"
	CmdMove     = "move"
	CmdTurn     = "turn"
	CmdRefill   = "refill"
	CmdDeposit  = "deposit"
	CmdGoHome   = "goHome"
	CmdSetHome  = "setHome"
	CmdUpdate   = "update"
	CmdSetWidth = "setWidth"
	CmdSetBlock = "setBlock"
	CmdStop     = "stop"
)

var validCommands = map[string]bool{
	CmdBuild: true, CmdMove: true, CmdTurn: true, CmdRefill: true,
	CmdDeposit: true, CmdGoHome: true, CmdSetHome: true, CmdUpdate: true,
	CmdSetWidth: true, CmdSetBlock: true, CmdStop: true,
}

// ErrUnknownCommand rejects commands the firmware would drop silently.
var ErrUnknownCommand = fmt.Errorf("unknown turtle command")

// CommandState tracks one in-flight command per turtle.
type CommandState struct {
	Command  string    `json:"command"`
	SentAt   time.Time `json:"sentAt"`
	Acked    bool      `json:"acked"`
	Done     bool      `json:"done"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished,omitempty"`
}

// Fleet drives the road-building turtles over the bus. Commands are
// targeted COMMAND envelopes; the turtle answers ACK when it starts
// and COMPLETE or ERROR when it finishes. Turtle liveness rides the
// normal registry heartbeat.
type Fleet struct {
	bus *bus.Bus
	reg *registry.Registry
	log zerolog.Logger

	defaultWidth int
	defaultBlock string

	mu       sync.Mutex
	inflight map[string]*CommandState // by turtle id
}

// New creates a fleet controller and hooks the command lifecycle
// handlers into the bus.
func New(b *bus.Bus, reg *registry.Registry, defaultWidth int, defaultBlock string, logger zerolog.Logger) *Fleet {
	f := &Fleet{
		bus:          b,
		reg:          reg,
		log:          logger.With().Str("component", "roads").Logger(),
		defaultWidth: defaultWidth,
		defaultBlock: defaultBlock,
		inflight:     make(map[string]*CommandState),
	}
	b.On(bus.MsgAck, f.onAck)
	b.On(bus.MsgComplete, f.onComplete)
	b.On(bus.MsgError, f.onError)
	return f
}

// Command sends one command to one turtle. The turtle must be known
// and not offline.
func (f *Fleet) Command(turtleID, command string, params map[string]any) error {
	if !validCommands[command] {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	agent, err := f.reg.Get(turtleID)
	if err != nil {
		return err
	}
	if h, err := f.reg.Health(agent.ID); err == nil && h == types.HealthOffline {
		return fmt.Errorf("%w: %s", registry.ErrAgentOffline, turtleID)
	}

	data := map[string]any{"command": command}
	if len(params) > 0 {
		data["params"] = params
	}
	if err := f.bus.Send(bus.MsgCommand, data, turtleID); err != nil {
		return err
	}

	f.mu.Lock()
	f.inflight[turtleID] = &CommandState{Command: command, SentAt: time.Now()}
	f.mu.Unlock()
	f.log.Info().Str("turtle", turtleID).Str("command", command).Msg("command sent")
	return nil
}

// Build starts a road build, configuring width and block first when
// they differ from the fleet defaults.
func (f *Fleet) Build(turtleID string, length int, width int, block string) error {
	if width <= 0 {
		width = f.defaultWidth
	}
	if block == "" {
		block = f.defaultBlock
	}
	if err := f.Command(turtleID, CmdSetWidth, map[string]any{"width": width}); err != nil {
		return err
	}
	if err := f.Command(turtleID, CmdSetBlock, map[string]any{"block": block}); err != nil {
		return err
	}
	return f.Command(turtleID, CmdBuild, map[string]any{"length": length})
}

// StopAll broadcasts a stop to the whole fleet.
func (f *Fleet) StopAll() error {
	f.log.Info().Msg("broadcasting stop")
	return f.bus.Broadcast(bus.MsgCommand, map[string]any{"command": CmdStop})
}

// State returns the last tracked command for a turtle, or nil.
func (f *Fleet) State(turtleID string) *CommandState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.inflight[turtleID]
	if !ok {
		return nil
	}
	out := *st
	return &out
}

func (f *Fleet) onAck(env *bus.Envelope) {
	f.mu.Lock()
	if st, ok := f.inflight[env.SenderID]; ok {
		st.Acked = true
	}
	f.mu.Unlock()
	if err := f.reg.UpdateStatus(env.SenderID, types.AgentStatusBusy, 0, nil); err != nil {
		f.log.Debug().Err(err).Str("turtle", env.SenderID).Msg("ack from unknown turtle")
	}
}

func (f *Fleet) onComplete(env *bus.Envelope) {
	f.finish(env.SenderID, "")
}

func (f *Fleet) onError(env *bus.Envelope) {
	reason := "unknown error"
	if msg, ok := env.Data["error"].(string); ok && msg != "" {
		reason = msg
	}
	f.finish(env.SenderID, reason)
}

func (f *Fleet) finish(turtleID, errMsg string) {
	f.mu.Lock()
	if st, ok := f.inflight[turtleID]; ok {
		st.Done = true
		st.Error = errMsg
		st.Finished = time.Now()
	}
	f.mu.Unlock()

	if errMsg != "" {
		f.log.Warn().Str("turtle", turtleID).Str("error", errMsg).Msg("command failed")
	} else {
		f.log.Info().Str("turtle", turtleID).Msg("command complete")
	}
	if err := f.reg.UpdateStatus(turtleID, types.AgentStatusIdle, 0, nil); err != nil {
		f.log.Debug().Err(err).Str("turtle", turtleID).Msg("completion from unknown turtle")
	}
}
