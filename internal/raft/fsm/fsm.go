// Package fsm binds the storage engine to the Raft replicated node as a
// raft.StateMachine: it is the "Command Executor" of §2, the thin layer
// that turns a replicated log entry back into a storage engine call.
//
// @req RQ-0101
// @design DS-0102
package fsm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is the JSON payload a Raft log entry carries for this state
// machine: a command name and its positional arguments, matching the
// wire protocol's token shape after the leading command word.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// Response is the JSON Apply returns: either a single result line or an
// error, so a caller polling for its proposal's effect can recover the
// same text the wire protocol would have written directly.
type Response struct {
	Result string `json:"result,omitempty"`
	Err    string `json:"err,omitempty"`
}

// Engine is the subset of *storage.Engine the state machine needs.
// Declared locally so this package does not force every caller of
// storage.Engine's broader API to be visible here.
type Engine interface {
	Set(key, value string)
	Get(key string) (string, bool)
	Del(key string) bool
	Incr(key string) string
	Decr(key string) string
	LPush(key, value string) int
	RPush(key, value string) int
	LPop(key string) (string, bool)
	RPop(key string) (string, bool)
	LLen(key string) int
	Dump() (map[string]string, map[string][]string)
	LoadTables(strs map[string]string, lists map[string][]string)
}

// StateMachine applies replicated mutating commands to a storage engine.
// Only the commands that change state are represented here: reads and
// transaction control are connection-scoped concerns handled locally by
// the server, per §2's data-flow note.
type StateMachine struct {
	engine Engine
}

// New creates a StateMachine bound to engine.
func New(engine Engine) *StateMachine {
	return &StateMachine{engine: engine}
}

// Apply decodes and executes one replicated command, returning its
// JSON-encoded Response.
func (m *StateMachine) Apply(command []byte) []byte {
	var cmd Command
	if err := json.Unmarshal(command, &cmd); err != nil {
		return encode(Response{Err: fmt.Sprintf("fsm: malformed command: %v", err)})
	}

	result, err := m.apply(cmd)
	if err != nil {
		return encode(Response{Err: err.Error()})
	}
	return encode(Response{Result: result})
}

func (m *StateMachine) apply(cmd Command) (string, error) {
	key := func(i int) string {
		if i >= len(cmd.Args) {
			return ""
		}
		return strings.ToLower(cmd.Args[i])
	}

	switch strings.ToUpper(cmd.Name) {
	case "SET":
		if len(cmd.Args) != 2 {
			return "", fmt.Errorf("fsm: set requires 2 args, got %d", len(cmd.Args))
		}
		m.engine.Set(key(0), cmd.Args[1])
		return "OK", nil

	case "DEL":
		if m.engine.Del(key(0)) {
			return "1", nil
		}
		return "0", nil

	case "INCR":
		return m.engine.Incr(key(0)), nil

	case "DECR":
		return m.engine.Decr(key(0)), nil

	case "LPUSH":
		if len(cmd.Args) != 2 {
			return "", fmt.Errorf("fsm: lpush requires 2 args, got %d", len(cmd.Args))
		}
		return itoa(m.engine.LPush(key(0), cmd.Args[1])), nil

	case "RPUSH":
		if len(cmd.Args) != 2 {
			return "", fmt.Errorf("fsm: rpush requires 2 args, got %d", len(cmd.Args))
		}
		return itoa(m.engine.RPush(key(0), cmd.Args[1])), nil

	case "LPOP":
		v, ok := m.engine.LPop(key(0))
		if !ok {
			return "(nil)", nil
		}
		return v, nil

	case "RPOP":
		v, ok := m.engine.RPop(key(0))
		if !ok {
			return "(nil)", nil
		}
		return v, nil

	default:
		return "", fmt.Errorf("fsm: unsupported replicated command %q", cmd.Name)
	}
}

// snapshotPayload is the wire shape of Snapshot/Restore: the full base
// tables, independent of the on-disk ASCII format the engine's own
// periodic snapshot uses (that one is for operator-facing persistence;
// this one is for Raft log compaction).
type snapshotPayload struct {
	Strings map[string]string   `json:"strings"`
	Lists   map[string][]string `json:"lists"`
}

// Snapshot serializes the engine's current base tables.
func (m *StateMachine) Snapshot() ([]byte, error) {
	strs, lists := m.engine.Dump()
	return json.Marshal(snapshotPayload{Strings: strs, Lists: lists})
}

// Restore replaces the engine's base tables from a previously captured
// Snapshot.
func (m *StateMachine) Restore(data []byte) error {
	var payload snapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("fsm: restore: %w", err)
	}
	m.engine.LoadTables(payload.Strings, payload.Lists)
	return nil
}

func encode(r Response) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"err":"fsm: marshal response"}`)
	}
	return b
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
