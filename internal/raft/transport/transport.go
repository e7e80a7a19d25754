// Package transport carries Raft messages between cluster peers. The
// Transport interface is deliberately small: Consensus only needs to
// send a request and get a response back, addressed by peer ID.
package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tokvault/tokvaultd/internal/raft"
)

// Transport sends Raft RPCs to a named peer and returns the peer's
// response. Implementations must be safe for concurrent use.
type Transport interface {
	// SendVoteRequest delivers a RequestVote RPC to peer and returns its
	// response.
	SendVoteRequest(ctx context.Context, peer string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	// SendAppendEntries delivers an AppendEntries RPC to peer and returns
	// its response.
	SendAppendEntries(ctx context.Context, peer string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	// Close releases any resources (listeners, connections) held by the
	// transport.
	Close() error
}

// Handler is implemented by the consensus layer to answer inbound RPCs
// addressed to this node.
type Handler interface {
	HandleVoteRequest(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error)
	HandleAppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
}

// frame is the on-the-wire envelope: a JSON object carrying the message
// kind and the JSON payload for that kind, sent after a 4-byte length
// prefix (see writeFrame). No version field is present, per the wire
// format this transport implements.
type frame struct {
	Kind raft.MessageKind
	Body json.RawMessage
}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded frame.
func writeFrame(w io.Writer, kind raft.MessageKind, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal payload: %w", err)
	}
	f := frame{Kind: kind, Body: payload}
	encoded, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(encoded)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) (frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 || length > maxFrameSize {
		return frame{}, fmt.Errorf("transport: frame length %d out of bounds", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return frame{}, fmt.Errorf("transport: read frame body: %w", err)
	}
	var f frame
	if err := json.Unmarshal(buf, &f); err != nil {
		return frame{}, fmt.Errorf("transport: unmarshal frame: %w", err)
	}
	return f, nil
}

// maxFrameSize guards against a corrupt or hostile length prefix
// causing an unbounded allocation.
const maxFrameSize = 64 << 20
