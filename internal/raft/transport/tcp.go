package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tokvault/tokvaultd/internal/raft"
)

// TCPConfig configures a TCP transport.
type TCPConfig struct {
	// ListenAddr is the local address to accept inbound RPCs on.
	ListenAddr string
	// DialTimeout bounds connection setup to a peer.
	DialTimeout time.Duration
	// RequestTimeout bounds a full request/response round trip.
	RequestTimeout time.Duration
}

func (c TCPConfig) withDefaults() TCPConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 1 * time.Second
	}
	return c
}

// TCP is a Transport that speaks the length-prefixed JSON frame format
// over a plain TCP connection per peer, opened lazily and reused.
type TCP struct {
	cfg     TCPConfig
	handler Handler
	logger  *slog.Logger

	listener net.Listener

	mu    sync.Mutex
	conns map[string]net.Conn

	// addrs maps peer ID to dial address.
	addrs map[string]string

	closeCh chan struct{}
}

// NewTCP starts listening on cfg.ListenAddr and returns a transport that
// dispatches inbound frames to handler. addrs maps peer ID to its
// "host:port" dial address.
func NewTCP(cfg TCPConfig, addrs map[string]string, handler Handler, logger *slog.Logger) (*TCP, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", cfg.ListenAddr, err)
	}

	t := &TCP{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		listener: ln,
		conns:    make(map[string]net.Conn),
		addrs:    addrs,
		closeCh:  make(chan struct{}),
	}
	go t.acceptLoop()
	return t, nil
}

func (t *TCP) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				t.logger.Error("raft transport accept failed", "error", err)
				return
			}
		}
		go t.serveConn(conn)
	}
}

// serveConn handles one inbound connection: each frame received is a
// complete request, and the handler's response is written back as its
// own frame before reading the next request.
func (t *TCP) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
		switch f.Kind {
		case raft.KindVoteRequest:
			var req raft.RequestVoteRequest
			if err := json.Unmarshal(f.Body, &req); err != nil {
				cancel()
				return
			}
			resp, err := t.handler.HandleVoteRequest(ctx, &req)
			cancel()
			if err != nil || resp == nil {
				return
			}
			if err := writeFrame(conn, raft.KindVoteResponse, resp); err != nil {
				return
			}
		case raft.KindAppendRequest:
			var req raft.AppendEntriesRequest
			if err := json.Unmarshal(f.Body, &req); err != nil {
				cancel()
				return
			}
			resp, err := t.handler.HandleAppendEntries(ctx, &req)
			cancel()
			if err != nil || resp == nil {
				return
			}
			if err := writeFrame(conn, raft.KindAppendResponse, resp); err != nil {
				return
			}
		default:
			cancel()
			return
		}
	}
}

func (t *TCP) dial(peer string) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[peer]; ok {
		return conn, nil
	}
	addr, ok := t.addrs[peer]
	if !ok {
		return nil, fmt.Errorf("transport: no address for peer %s", peer)
	}
	conn, err := net.DialTimeout("tcp", addr, t.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	t.conns[peer] = conn
	return conn, nil
}

// UpdatePeer sets or changes the dial address for peer, dropping any
// cached connection opened against its previous address. Used by
// gossip-based discovery to keep dial targets current as nodes rejoin
// under new addresses; it does not add peer to the consensus module's
// voting set, which stays fixed at startup.
func (t *TCP) UpdatePeer(peer, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peer]; ok {
		conn.Close()
		delete(t.conns, peer)
	}
	t.addrs[peer] = addr
}

// RemovePeer drops peer's dial address and any cached connection. A
// later message to peer fails fast instead of dialing a stale address.
func (t *TCP) RemovePeer(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peer]; ok {
		conn.Close()
		delete(t.conns, peer)
	}
	delete(t.addrs, peer)
}

func (t *TCP) dropConn(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if conn, ok := t.conns[peer]; ok {
		conn.Close()
		delete(t.conns, peer)
	}
}

func (t *TCP) SendVoteRequest(ctx context.Context, peer string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	conn, err := t.dial(peer)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(t.cfg.RequestTimeout))
	}

	if err := writeFrame(conn, raft.KindVoteRequest, req); err != nil {
		t.dropConn(peer)
		return nil, err
	}
	f, err := readFrame(conn)
	if err != nil {
		t.dropConn(peer)
		return nil, err
	}
	var resp raft.RequestVoteResponse
	if err := json.Unmarshal(f.Body, &resp); err != nil {
		return nil, fmt.Errorf("transport: unmarshal vote response: %w", err)
	}
	return &resp, nil
}

func (t *TCP) SendAppendEntries(ctx context.Context, peer string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	conn, err := t.dial(peer)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(t.cfg.RequestTimeout))
	}

	if err := writeFrame(conn, raft.KindAppendRequest, req); err != nil {
		t.dropConn(peer)
		return nil, err
	}
	f, err := readFrame(conn)
	if err != nil {
		t.dropConn(peer)
		return nil, err
	}
	var resp raft.AppendEntriesResponse
	if err := json.Unmarshal(f.Body, &resp); err != nil {
		return nil, fmt.Errorf("transport: unmarshal append response: %w", err)
	}
	return &resp, nil
}

func (t *TCP) Close() error {
	close(t.closeCh)
	err := t.listener.Close()

	t.mu.Lock()
	for peer, conn := range t.conns {
		conn.Close()
		delete(t.conns, peer)
	}
	t.mu.Unlock()

	return err
}
