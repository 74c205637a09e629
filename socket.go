// Package rudp implements a connection-oriented, reliable,
// message-preserving transport over UDP: a three-way handshake, a
// send/receive queue pair with acknowledgement and bounded
// retransmission, and a periodic liveness probe. See SPEC_FULL.md for
// the full design.
package rudp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"rudp/packet"
	"rudp/queue"
	"rudp/unacked"
)

// Tunable constants from spec §3/§4/§6.
const (
	// MaxTries bounds handshake and per-frame send retries.
	MaxTries = 10
	// ReadinessTimeout is the ceiling on every blocking read or write
	// against the datagram substrate.
	ReadinessTimeout = 2 * time.Second
	// PingInterval is how often the liveness task probes the peer.
	PingInterval = 15 * time.Second
	// LivenessTimeout is how long a peer may stay silent before the
	// session is torn down.
	LivenessTimeout = 60 * time.Second
	// MaxDatagramSize is the assumed substrate MTU, header included.
	MaxDatagramSize = 2048
	// MaxPayloadSize is the largest payload Send will accept.
	MaxPayloadSize = MaxDatagramSize - packet.HeaderSize
	// There is no receive-queue capacity constant: backpressure is a
	// Non-goal, so the queue package has no cap and queue.Queue grows a
	// slice on demand.
)

// datagramConn is the minimal substrate contract spec §6 requires:
// bind/send_to/recv_from with readiness timeouts. net.UDPConn already
// satisfies it; the interface exists so a lossy/reordering fake can
// stand in for it. endpoint_test.go drives real loopback sockets.
type datagramConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// Stats holds operational counters for an Endpoint. All fields are
// updated atomically and safe to read concurrently with Endpoint's
// other operations; see SPEC_FULL.md §4.B.
type Stats struct {
	PacketsSent     atomic.Int64
	PacketsReceived atomic.Int64
	PacketsDropped  atomic.Int64
	Retransmits     atomic.Int64
}

// sendItem is the send queue's element: spec §3's SendItem. Bytes uses
// shared ownership (a []byte backing array is never mutated after
// Build, so aliasing it between the unacked table and a retransmit
// queue entry is safe). Length is the frame's payload length, not its
// wire length: it feeds the same seq+length arithmetic queueAck and
// handleAck use to match a MSG to its ACK, so it has to mean the same
// thing on both sides.
type sendItem struct {
	Bytes    []byte
	Length   int
	Sequence uint32
	Type     packet.Type
}

// Endpoint is a bound, single-peer session: spec §4.B's TBD/Session.
// It is not copyable (copying would duplicate the mutex and duplicate
// ownership of the running tasks); go vet's copylocks check catches
// accidental copies because of the noCopy sync.Mutex field.
type Endpoint struct {
	noCopy sync.Mutex // guards copylocks vet check only; never locked directly

	conn      datagramConn
	localAddr *net.UDPAddr
	peerAddr  *net.UDPAddr

	seqMu    sync.Mutex
	sequence uint32

	connected atomic.Bool
	ponged    atomic.Bool

	sendQ      *queue.Queue[sendItem]
	recvQ      *queue.Queue[[]byte]
	unackedTbl *unacked.Table

	group       *dgroup.Group
	groupCancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	Stats Stats
}

// Bind creates a datagram handle bound to the local address. No peer
// is configured yet and no tasks are spawned; call Listen or Connect
// next. Grounded on original_source/src/rudp.cpp's TBD constructor
// (socket + bind, peer unset).
func Bind(ctx context.Context, localIP string, localPort int) (*Endpoint, error) {
	laddr := &net.UDPAddr{IP: net.ParseIP(localIP), Port: localPort}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrapf(ErrBindFailed, "listen on %s:%d: %v", localIP, localPort, err)
	}
	dlog.Infof(ctx, "rudp: bound to %s", conn.LocalAddr())

	e := &Endpoint{
		conn:       conn,
		localAddr:  laddr,
		sendQ:      queue.New[sendItem](),
		recvQ:      queue.New[[]byte](),
		unackedTbl: unacked.New(),
	}
	return e, nil
}

// LocalAddr returns the endpoint's bound local address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// RemoteAddr returns the configured peer address, or nil before
// Listen/Connect has set one.
func (e *Endpoint) RemoteAddr() net.Addr {
	if e.peerAddr == nil {
		return nil
	}
	return e.peerAddr
}

// Connected reports whether the session has completed its handshake
// and not since been torn down.
func (e *Endpoint) Connected() bool { return e.connected.Load() }

// nextSequence advances the byte-cursor sequence by n and returns the
// value it held before the advance (the sequence the caller should
// stamp its frame with). Only the application thread's Send calls
// this; the handshake driver seeds the value through setSequence.
func (e *Endpoint) nextSequence(n uint32) uint32 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	cur := e.sequence
	e.sequence += n
	return cur
}

// setSequence is used by the handshake driver to seed the initial
// value (1 for the active side, the adopted SYN sequence for the
// passive side).
func (e *Endpoint) setSequence(v uint32) {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	e.sequence = v
}

// Send enqueues one MSG frame carrying payload. It fails immediately
// if the session isn't connected; otherwise it returns as soon as the
// frame is queued, not once it's acknowledged (spec §4.B).
func (e *Endpoint) Send(payload []byte) error {
	if !e.connected.Load() {
		return ErrSocketClosed
	}
	if len(payload) > MaxPayloadSize {
		return errors.Wrapf(ErrInvalidParam, "payload of %d bytes exceeds max %d", len(payload), MaxPayloadSize)
	}
	seq := e.nextSequence(uint32(len(payload)))
	frame := packet.Build(packet.MSG, seq, payload)
	// sendItem.Length (and, via trySend, unacked.Entry.Length) tracks
	// payload length, not the framed wire length: handleAck matches an
	// unacked entry by seq+length==ack.sequence, and queueAck computes
	// the ack's sequence from the received payload's length the same
	// way, so both sides of that arithmetic must agree on what "length"
	// means (spec §4.D's received_len is a payload length, not a frame
	// length).
	e.sendQ.Push(sendItem{Bytes: frame, Length: len(payload), Sequence: seq, Type: packet.MSG})
	return nil
}

// Receive blocks until a MSG payload is available or the session is
// torn down.
func (e *Endpoint) Receive() ([]byte, error) {
	payload, ok := e.recvQ.PopWait()
	if !ok {
		return nil, ErrSocketClosed
	}
	return payload, nil
}

// ReceiveTimeout is Receive bounded by d.
func (e *Endpoint) ReceiveTimeout(d time.Duration) ([]byte, error) {
	payload, ok := e.recvQ.PopWaitTimeout(d)
	if ok {
		return payload, nil
	}
	if !e.connected.Load() {
		return nil, ErrSocketClosed
	}
	return nil, ErrTimeout
}

// spawnTasks starts the sender, receiver, and liveness tasks (D, E, F)
// as a supervised goroutine group, the ambient upgrade over bare `go`
// statements described in SPEC_FULL.md §5. Must only be called once,
// after a successful handshake.
func (e *Endpoint) spawnTasks(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	e.groupCancel = cancel
	e.group = dgroup.NewGroup(gctx, dgroup.GroupConfig{})
	e.group.Go("sender", e.senderLoop)
	e.group.Go("receiver", e.receiverLoop)
	e.group.Go("liveness", e.livenessLoop)
}

// Close tears the session down: flips connected false, releases any
// blocked Receive callers, joins D/E/F, and closes the datagram
// handle. Close is idempotent and safe to call from any goroutine
// except the sender, receiver, and liveness tasks themselves, since it
// waits for them to finish; the liveness task's trip logic therefore
// calls it from a separate goroutine (see tripDisconnect).
//
// original_source/src/rudp.cpp's destructor takes care never to close
// fds <= 2; Go's net.UDPConn can't alias stdin/stdout/stderr the way a
// raw fd can, so that guard has no equivalent here, but the invariant
// it protected — never close a handle you don't own — still holds: the
// conn is only ever closed once, from here.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.connected.Store(false)
		e.sendQ.Close()
		e.recvQ.Close()

		var result *multierror.Error
		if e.groupCancel != nil {
			e.groupCancel()
		}
		if e.group != nil {
			if err := e.group.Wait(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if e.conn != nil {
			if err := e.conn.Close(); err != nil {
				result = multierror.Append(result, errors.Wrap(err, "closing datagram handle"))
			}
		}
		if result != nil {
			e.closeErr = result.ErrorOrNil()
		}
	})
	return e.closeErr
}

// AdoptFrom implements spec §4.B/§9's "move a running session": Go has
// no move constructor, so the source's running tasks are stopped, its
// datagram handle, queues, sequence, and unacked table are transferred
// to e, and D/E/F are respawned bound to e — the "post-move identity of
// the owning endpoint" spec §9 calls for. e's own freshly-bound handle
// is discarded. src is left inert after this call and must not be used
// again; its own eventual Close is then a no-op on the handle, which e
// now owns.
func (e *Endpoint) AdoptFrom(ctx context.Context, src *Endpoint) error {
	if e.connected.Load() {
		return errors.Wrap(ErrInvalidParam, "AdoptFrom: destination is already connected")
	}

	wasConnected := src.connected.Load()
	src.connected.Store(false)
	if src.groupCancel != nil {
		src.groupCancel()
	}
	var taskErr error
	if src.group != nil {
		taskErr = src.group.Wait()
	}

	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			dlog.Debugf(ctx, "rudp: AdoptFrom: closing destination's own handle: %v", err)
		}
	}
	e.conn = src.conn
	e.localAddr = src.localAddr
	src.conn = nil // ownership transferred; src.Close() must not close it again

	e.peerAddr = src.peerAddr
	e.setSequence(src.sequence)
	e.sendQ = src.sendQ
	e.recvQ = src.recvQ
	e.unackedTbl = src.unackedTbl

	// Every live resource src owned (handle, queues, unacked table) now
	// belongs to e. src.group has already been waited on above, and
	// src.conn is nil'd, so a later src.Close() must become a true
	// no-op rather than re-running group.Wait() on the same dgroup.Group
	// (which panics on a second Wait) or closing queues e is now using.
	// Consuming src's closeOnce here, rather than leaving it for
	// whatever src.Close() happens later, does that.
	src.closeOnce.Do(func() {})
	src.group = nil

	if !wasConnected {
		return taskErr
	}
	e.connected.Store(true)
	e.spawnTasks(ctx)
	dlog.Infof(ctx, "rudp: adopted running session from %s, sequence=%d", e.peerAddr, e.sequence)
	return taskErr
}

// writeFrame transmits buf to the configured peer with a bounded
// write-readiness wait, the substrate contract's send_to.
func (e *Endpoint) writeFrame(buf []byte) error {
	if err := e.conn.SetWriteDeadline(time.Now().Add(ReadinessTimeout)); err != nil {
		return err
	}
	n, err := e.conn.WriteTo(buf, e.peerAddr)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// readPacket performs one bounded read-readiness wait and parses
// whatever comes back, the substrate contract's recv_from plus the
// packet codec. It is shared by the handshake driver's synchronous
// send_and_wait and the receiver task's main loop (never concurrently:
// the handshake always completes, one way or another, before D/E/F are
// spawned).
func (e *Endpoint) readPacket(buf []byte, timeout time.Duration) (packet.Packet, net.Addr, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return packet.Packet{}, nil, err
	}
	n, addr, err := e.conn.ReadFrom(buf)
	if err != nil {
		return packet.Packet{}, nil, err
	}
	p, err := packet.Parse(buf[:n])
	if err != nil {
		return packet.Packet{}, addr, err
	}
	return p, addr, nil
}

// sameIP reports whether addr's IP matches the configured peer's IP,
// the peer filter of spec §4.E (port is intentionally not compared:
// original_source/src/rudp.cpp's ProcessPacket only ever checked
// sin_addr, not sin_port).
func (e *Endpoint) sameIP(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || e.peerAddr == nil {
		return false
	}
	return udpAddr.IP.Equal(e.peerAddr.IP)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
