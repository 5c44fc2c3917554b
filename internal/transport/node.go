package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/Marketen/poi-radio/internal/logger"
)

const (
	alpnProtocol          = "poi-radio/1"
	defaultReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 60 * time.Second
)

// NodeConfig configures the QUIC gossip node.
type NodeConfig struct {
	ListenAddr     string
	BootNodes      []string
	ReconnectDelay time.Duration
}

// Node keeps QUIC connections to peers and moves frames between them. It
// knows nothing about envelopes.
type Node struct {
	listenAddr     string
	bootNodes      []string
	reconnectDelay time.Duration
	tlsConfig      *tls.Config
	quicConfig     *quic.Config

	listener *quic.Listener

	mu    sync.RWMutex
	peers map[*peer]struct{}

	onFrame func(from *peer, frame []byte)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type peer struct {
	addr string
	conn *quic.Conn
	mu   sync.Mutex
}

func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}
	cert, err := selfSignedCertificate(key)
	if err != nil {
		return nil, err
	}

	delay := cfg.ReconnectDelay
	if delay == 0 {
		delay = defaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		listenAddr:     cfg.ListenAddr,
		bootNodes:      cfg.BootNodes,
		reconnectDelay: delay,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // envelopes carry their own signatures
			NextProtos:         []string{alpnProtocol},
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:  make(map[*peer]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start listens for peers and starts dialing the boot nodes.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	for _, addr := range n.bootNodes {
		n.wg.Add(1)
		go n.maintain(addr)
	}
	return nil
}

// Addr returns the listening address, empty before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// PeerCount returns the number of live connections.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Broadcast sends frame to every peer except skip. It returns an error only
// when there were peers and every send failed.
func (n *Node) Broadcast(frame []byte, skip *peer) error {
	n.mu.RLock()
	targets := make([]*peer, 0, len(n.peers))
	for p := range n.peers {
		if p != skip {
			targets = append(targets, p)
		}
	}
	n.mu.RUnlock()

	var lastErr error
	sent := 0
	for _, p := range targets {
		if err := p.send(n.ctx, frame); err != nil {
			logger.Debug("Send to %s failed: %v", p.addr, err)
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (n *Node) Close() error {
	n.cancel()
	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.Lock()
	for p := range n.peers {
		p.conn.CloseWithError(0, "shutdown")
	}
	n.mu.Unlock()

	n.wg.Wait()
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.serve(conn, conn.RemoteAddr().String())
		}()
	}
}

// maintain keeps a connection to addr open, redialing with backoff.
func (n *Node) maintain(addr string) {
	defer n.wg.Done()

	delay := n.reconnectDelay
	for {
		conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
		if err == nil {
			logger.Info("Connected to boot node %s", addr)
			delay = n.reconnectDelay
			n.serve(conn, addr)
		} else {
			logger.Debug("Dial %s failed: %v", addr, err)
		}

		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// serve registers conn as a peer and reads frames until it closes.
func (n *Node) serve(conn *quic.Conn, addr string) {
	p := &peer{addr: addr, conn: conn}

	n.mu.Lock()
	n.peers[p] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.peers, p)
		n.mu.Unlock()
		conn.CloseWithError(0, "closed")
	}()

	for {
		stream, err := conn.AcceptUniStream(n.ctx)
		if err != nil {
			logger.Debug("Peer %s disconnected: %v", addr, err)
			return
		}
		go func() {
			frame, err := readFrame(stream)
			if err != nil {
				logger.Debug("Read from %s failed: %v", addr, err)
				return
			}
			if n.onFrame != nil {
				n.onFrame(p, frame)
			}
		}()
	}
}

func (p *peer) send(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := writeFrame(stream, frame); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}
