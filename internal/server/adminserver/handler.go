package adminserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// StatusProvider reports a read-only operational snapshot of the node.
type StatusProvider interface {
	Status(ctx context.Context) map[string]any
}

// Handler handles local management commands.
type Handler struct {
	status   StatusProvider
	shutdown func()
}

// NewHandler creates a new Handler bound to a status provider and an
// optional shutdown trigger.
func NewHandler(status StatusProvider, shutdown func()) *Handler {
	return &Handler{status: status, shutdown: shutdown}
}

// Execute executes a local management command.
func (h *Handler) Execute(ctx context.Context, w io.Writer, cmd string, args []string) error {
	switch cmd {
	case "status":
		return h.handleStatus(ctx, w)
	case "shutdown":
		return h.handleShutdown(w)
	default:
		_, err := fmt.Fprintf(w, "unknown command: %s\n", cmd)
		return err
	}
}

func (h *Handler) handleStatus(ctx context.Context, w io.Writer) error {
	if h.status == nil {
		_, err := io.WriteString(w, "{}\n")
		return err
	}
	enc := json.NewEncoder(w)
	return enc.Encode(h.status.Status(ctx))
}

func (h *Handler) handleShutdown(w io.Writer) error {
	if h.shutdown != nil {
		h.shutdown()
	}
	_, err := io.WriteString(w, "OK\n")
	return err
}
