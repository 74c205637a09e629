package rudp

import (
	"context"
	"net"

	"github.com/datawire/dlib/dlog"

	"rudp/packet"
)

// Listen sets the allowed peer and drives the passive side of the
// handshake (spec §4.C). It blocks until the handshake completes or
// the retry budget is exhausted, then spawns the sender, receiver, and
// liveness tasks.
func (e *Endpoint) Listen(ctx context.Context, peerIP string, peerPort int) error {
	e.peerAddr = &net.UDPAddr{IP: net.ParseIP(peerIP), Port: peerPort}

	seq, err := e.handshakePassive(ctx)
	if err != nil {
		return err
	}
	e.setSequence(seq)
	e.connected.Store(true)
	e.spawnTasks(ctx)
	dlog.Infof(ctx, "rudp: connected (passive) to %s, sequence=%d", e.peerAddr, seq)
	return nil
}

// Connect sets the allowed peer and drives the active side of the
// handshake (spec §4.C). It blocks until the handshake completes or
// the retry budget is exhausted, then spawns the sender, receiver, and
// liveness tasks.
func (e *Endpoint) Connect(ctx context.Context, peerIP string, peerPort int) error {
	e.peerAddr = &net.UDPAddr{IP: net.ParseIP(peerIP), Port: peerPort}

	if err := e.handshakeActive(ctx); err != nil {
		return err
	}
	e.connected.Store(true)
	e.spawnTasks(ctx)
	dlog.Infof(ctx, "rudp: connected (active) to %s", e.peerAddr)
	return nil
}

// handshakeActive runs the active side: SYN(seq=1), wait for SYNACK up
// to MaxTries times, then a best-effort ACK(seq=2).
func (e *Endpoint) handshakeActive(ctx context.Context) error {
	e.setSequence(1)
	syn := packet.Build(packet.SYN, 1, nil)

	for attempt := 1; attempt <= MaxTries; attempt++ {
		dlog.Debugf(ctx, "rudp: handshake: sending SYN (attempt %d/%d)", attempt, MaxTries)
		p, addr, err := e.sendAndWait(syn)
		if err != nil {
			dlog.Debugf(ctx, "rudp: handshake: attempt %d failed: %v", attempt, err)
			continue
		}
		if !e.sameIP(addr) {
			dlog.Debugf(ctx, "rudp: handshake: %v: %s", ErrUnrecognizedPeer, addr)
			continue
		}
		if !p.Type.Has(packet.SYNACK) {
			dlog.Debugf(ctx, "rudp: handshake: reply was not SYNACK (got %v)", p.Type)
			continue
		}
		// ACK(sequence=2) is step 3's one-off handshake value, not a new
		// baseline for Send()'s counter: spec §8 S1 pins A's first MSG to
		// seq=1, so the application sequence set on line 49 must stand.
		ack := packet.Build(packet.ACK, 2, nil)
		if err := e.writeFrame(ack); err != nil {
			dlog.Debugf(ctx, "rudp: handshake: best-effort final ACK failed: %v", err)
		}
		return nil
	}
	return ErrHandshakeFailed
}

// handshakePassive runs the passive side: wait for a SYN (up to 6
// attempts), adopt its sequence, then send_and_wait a SYNACK.
func (e *Endpoint) handshakePassive(ctx context.Context) (uint32, error) {
	const passiveSynAttempts = 6

	buf := make([]byte, MaxDatagramSize)
	var synSeq uint32
	found := false
	for attempt := 1; attempt <= passiveSynAttempts; attempt++ {
		dlog.Debugf(ctx, "rudp: handshake: awaiting SYN (attempt %d/%d)", attempt, passiveSynAttempts)
		p, addr, err := e.readPacket(buf, ReadinessTimeout)
		if err != nil {
			continue
		}
		if !e.sameIP(addr) {
			continue
		}
		if p.Type != packet.SYN {
			continue
		}
		synSeq = p.Sequence
		found = true
		break
	}
	if !found {
		return 0, ErrHandshakeFailed
	}

	synack := packet.Build(packet.SYNACK, synSeq, nil)
	for attempt := 1; attempt <= MaxTries; attempt++ {
		p, addr, err := e.sendAndWait(synack)
		if err != nil {
			continue
		}
		if !e.sameIP(addr) {
			continue
		}
		if p.Type.Has(packet.SYNACK) || p.Type == packet.ACK {
			return synSeq, nil
		}
	}
	return 0, ErrHandshakeFailed
}

// sendAndWait transmits buf then performs one bounded read. It is the
// only path that transmits and reads synchronously on the same
// goroutine (spec §4.C); after the handshake, all I/O is split between
// the sender and receiver tasks.
func (e *Endpoint) sendAndWait(buf []byte) (packet.Packet, net.Addr, error) {
	if err := e.writeFrame(buf); err != nil {
		return packet.Packet{}, nil, err
	}
	readBuf := make([]byte, MaxDatagramSize)
	return e.readPacket(readBuf, ReadinessTimeout)
}
