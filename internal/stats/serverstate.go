package stats

import "sync/atomic"

// ServerState holds the small set of process-wide flags the dispatcher
// consults on every call: whether the server is mid-restore, whether
// it's a read-only follower, and how many commands are currently
// executing (spec §6's ServerState collaborator: is_loading, is_slave,
// incr/decr_executing_command_num).
type ServerState struct {
	loading   atomic.Bool
	slave     atomic.Bool
	executing atomic.Int64
	lastCmd   atomic.Pointer[string]
}

// NewServerState returns a ServerState with every flag cleared.
func NewServerState() *ServerState {
	s := &ServerState{}
	empty := ""
	s.lastCmd.Store(&empty)
	return s
}

func (s *ServerState) IsLoading() bool  { return s.loading.Load() }
func (s *ServerState) SetLoading(v bool) { s.loading.Store(v) }

func (s *ServerState) IsSlave() bool  { return s.slave.Load() }
func (s *ServerState) SetSlave(v bool) { s.slave.Store(v) }

// IncrExecutingCommandNum bumps the in-flight command counter.
func (s *ServerState) IncrExecutingCommandNum() { s.executing.Add(1) }

// DecrExecutingCommandNum decrements the in-flight command counter.
func (s *ServerState) DecrExecutingCommandNum() { s.executing.Add(-1) }

// ExecutingCommandNum reports the number of commands currently executing.
func (s *ServerState) ExecutingCommandNum() int64 { return s.executing.Load() }

// SetLastCommand records the most recently dispatched command's name,
// surfaced by the admin INFO/CLIENT surface.
func (s *ServerState) SetLastCommand(name string) { s.lastCmd.Store(&name) }

// LastCommand returns the most recently recorded command name.
func (s *ServerState) LastCommand() string { return *s.lastCmd.Load() }
