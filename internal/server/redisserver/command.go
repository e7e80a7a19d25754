package redisserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tokvault/tokvaultd/internal/storage"
)

// CommandHandler dispatches wire-protocol commands to the storage engine
// and renders their responses as wire lines, per §6's response table.
type CommandHandler struct {
	engine *storage.Engine
}

// NewCommandHandler creates a handler bound to engine.
func NewCommandHandler(engine *storage.Engine) *CommandHandler {
	return &CommandHandler{engine: engine}
}

// Handle executes one parsed command line against conn's transaction state
// and returns the response lines to write back.
func (h *CommandHandler) Handle(conn *Conn, args []string) []string {
	if len(args) == 0 {
		return nil
	}

	name := strings.ToUpper(args[0])
	rest := args[1:]
	line := strings.Join(args, " ")

	switch name {
	case "MULTI":
		h.engine.Begin()
		conn.txDepth++
		return []string{"OK"}

	case "EXEC":
		if conn.txDepth == 0 {
			return []string{"ERR EXEC without MULTI"}
		}
		results, err := h.engine.Commit()
		if err != nil {
			return []string{"ERR " + err.Error()}
		}
		conn.txDepth--
		if len(results) == 0 {
			return nil
		}
		return append(results, "OK")

	case "DISCARD":
		if conn.txDepth == 0 {
			return []string{"ERR DISCARD without MULTI"}
		}
		if err := h.engine.Rollback(); err != nil {
			return []string{"ERR " + err.Error()}
		}
		conn.txDepth--
		return []string{"OK"}
	}

	if conn.txDepth > 0 {
		h.execute(name, line, rest)
		return []string{"QUEUED"}
	}

	return h.execute(name, line, rest)
}

// execute dispatches a single command by name. A command with the wrong
// number of arguments is not a distinct error class: like the original
// parser's fall-through, it resolves to the unknown-command response,
// carrying the whole input line rather than just the command name.
func (h *CommandHandler) execute(name, line string, args []string) []string {
	switch name {
	case "SET":
		if len(args) != 2 {
			return []string{unknownCommand(line)}
		}
		h.engine.Set(strings.ToLower(args[0]), args[1])
		return []string{"OK"}

	case "GET":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		v, ok := h.engine.Get(strings.ToLower(args[0]))
		if !ok {
			return []string{"(nil)"}
		}
		return []string{v}

	case "DEL":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		if h.engine.Del(strings.ToLower(args[0])) {
			return []string{"1"}
		}
		return []string{"0"}

	case "INCR":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		return []string{h.engine.Incr(strings.ToLower(args[0]))}

	case "DECR":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		return []string{h.engine.Decr(strings.ToLower(args[0]))}

	case "LPUSH":
		if len(args) != 2 {
			return []string{unknownCommand(line)}
		}
		n := h.engine.LPush(strings.ToLower(args[0]), args[1])
		return []string{strconv.Itoa(n)}

	case "RPUSH":
		if len(args) != 2 {
			return []string{unknownCommand(line)}
		}
		n := h.engine.RPush(strings.ToLower(args[0]), args[1])
		return []string{strconv.Itoa(n)}

	case "LPOP":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		v, ok := h.engine.LPop(strings.ToLower(args[0]))
		if !ok {
			return []string{"(nil)"}
		}
		return []string{v}

	case "RPOP":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		v, ok := h.engine.RPop(strings.ToLower(args[0]))
		if !ok {
			return []string{"(nil)"}
		}
		return []string{v}

	case "LLEN":
		if len(args) != 1 {
			return []string{unknownCommand(line)}
		}
		return []string{strconv.Itoa(h.engine.LLen(strings.ToLower(args[0])))}

	default:
		return []string{unknownCommand(line)}
	}
}

func unknownCommand(line string) string {
	return fmt.Sprintf("ERR unknown command '%s'", line)
}
