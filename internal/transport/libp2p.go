package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// ProtocolID is the Chum stream protocol, negotiated by libp2p's multistream
// handshake before any application frame is exchanged.
const ProtocolID protocol.ID = "/onecore/chum/1.0.0"

// newAccessibleRootTopic is the single best-effort pubsub topic an instance
// publishes to when its accessible set grows (§4.8, §5: "best-effort, the
// importer re-polls anyway" — no per-peer targeting).
const newAccessibleRootTopic = "onecore/chum/new-accessible-root"

// opcode distinguishes text and binary frames over a libp2p stream, which
// (unlike a websocket) carries an undifferentiated byte stream.
type opcode byte

const (
	opText   opcode = 0
	opBinary opcode = 1
)

// LibP2PHost wraps a go-libp2p host plus a gossipsub router, providing both
// the Chum stream protocol (request/response) and the NewAccessibleRoot
// pubsub event. Grounded on the teacher's core/network.go Node: the same
// libp2p.New + pubsub.NewGossipSub construction, generalized from a single
// global topic set to an explicit stream protocol plus one named topic.
type LibP2PHost struct {
	host host.Host
	ps   *pubsub.PubSub
	log  *logrus.Logger

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	incoming chan Session
	closed   chan struct{}
	once     sync.Once
}

// NewLibP2PHost creates and bootstraps a host listening on listenAddr (a
// multiaddr string, e.g. "/ip4/0.0.0.0/tcp/0"), registers the Chum stream
// handler, and joins the NewAccessibleRoot topic.
func NewLibP2PHost(ctx context.Context, listenAddr string, log *logrus.Logger) (*LibP2PHost, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}
	topic, err := ps.Join(newAccessibleRootTopic)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("transport: join accessible-root topic: %w", err)
	}

	lh := &LibP2PHost{
		host:     h,
		ps:       ps,
		log:      log,
		topic:    topic,
		incoming: make(chan Session, 16),
		closed:   make(chan struct{}),
	}
	h.SetStreamHandler(ProtocolID, lh.handleIncomingStream)
	return lh, nil
}

func (h *LibP2PHost) handleIncomingStream(s network.Stream) {
	select {
	case h.incoming <- newStreamSession(s):
	case <-h.closed:
		_ = s.Close()
	}
}

// Accept implements Listener.
func (h *LibP2PHost) Accept(ctx context.Context) (Session, error) {
	select {
	case s := <-h.incoming:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.closed:
		return nil, fmt.Errorf("transport: host closed")
	}
}

// Dial implements Dialer: addr is a libp2p peer multiaddr (as accepted by
// peer.AddrInfoFromString, e.g. "/ip4/.../tcp/.../p2p/<peerID>").
func (h *LibP2PHost) Dial(ctx context.Context, addr string) (Session, error) {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: parse peer addr %q: %w", addr, err)
	}
	if err := h.host.Connect(ctx, *info); err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	s, err := h.host.NewStream(ctx, info.ID, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("transport: open stream to %s: %w", addr, err)
	}
	return newStreamSession(s), nil
}

// PublishNewAccessibleRoot broadcasts the best-effort event of §4.8; the
// payload is empty, matching the wire table's "(event)" response shape.
func (h *LibP2PHost) PublishNewAccessibleRoot(ctx context.Context) error {
	return h.topic.Publish(ctx, []byte{})
}

// SubscribeNewAccessibleRoot returns a channel that receives a value for
// every NewAccessibleRoot event seen on the topic, including ones this host
// itself published (gossipsub delivers to local subscribers too).
func (h *LibP2PHost) SubscribeNewAccessibleRoot(ctx context.Context) (<-chan struct{}, error) {
	sub, err := h.topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe accessible-root topic: %w", err)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			if _, err := sub.Next(ctx); err != nil {
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, nil
}

func (h *LibP2PHost) Addr() string {
	addrs := h.host.Addrs()
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].String() + "/p2p/" + h.host.ID().String()
}

func (h *LibP2PHost) Close() error {
	h.once.Do(func() { close(h.closed) })
	return h.host.Close()
}

// streamSession frames a raw libp2p network.Stream into discrete text/
// binary messages: [1-byte opcode][4-byte big-endian length][payload]. A
// zero-length binary frame is BLOB streaming's terminator (§6).
type streamSession struct {
	stream network.Stream
	reader *bufio.Reader
	wmu    sync.Mutex
}

func newStreamSession(s network.Stream) *streamSession {
	return &streamSession{stream: s, reader: bufio.NewReader(s)}
}

func (s *streamSession) ReadFrame(ctx context.Context) ([]byte, bool, error) {
	opByte, err := s.reader.ReadByte()
	if err != nil {
		return nil, false, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.reader, lenBuf[:]); err != nil {
		return nil, false, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(s.reader, payload); err != nil {
			return nil, false, err
		}
	}
	return payload, opcode(opByte) == opBinary, nil
}

func (s *streamSession) writeFrame(op opcode, payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	header := make([]byte, 5)
	header[0] = byte(op)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := s.stream.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := s.stream.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamSession) WriteText(ctx context.Context, payload []byte) error {
	return s.writeFrame(opText, payload)
}

func (s *streamSession) WriteBinary(ctx context.Context, payload []byte) error {
	return s.writeFrame(opBinary, payload)
}

func (s *streamSession) Close() error { return s.stream.Close() }

func (s *streamSession) RemoteID() string { return s.stream.Conn().RemotePeer().String() }
