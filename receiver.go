package rudp

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"rudp/packet"
	"rudp/unacked"
)

// receiverLoop is component E: pulls datagrams while connected,
// classifies them by type bits, and dispatches to the ack table, the
// send queue, or the receive queue. Errors are never surfaced past
// this loop (spec §7's propagation policy); every branch logs and
// continues.
func (e *Endpoint) receiverLoop(ctx context.Context) error {
	dlog.Debug(ctx, "rudp: receiver: starting")
	defer dlog.Debug(ctx, "rudp: receiver: stopped")

	buf := make([]byte, MaxDatagramSize)
	for e.connected.Load() {
		p, addr, err := e.readPacket(buf, ReadinessTimeout)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			dlog.Debugf(ctx, "rudp: receiver: read error: %v", err)
			continue
		}

		if !e.sameIP(addr) {
			dlog.Debugf(ctx, "rudp: receiver: %v: %s", ErrUnrecognizedPeer, addr)
			e.Stats.PacketsDropped.Add(1)
			continue
		}

		e.Stats.PacketsReceived.Add(1)
		e.dispatch(ctx, p)
	}
	return nil
}

// dispatch implements the type-bit classification of spec §4.E, in
// the order given there, with two additions over its literal four
// branches (SYNACK / PING / PONG / "otherwise (MSG)"): a plain ACK
// (the ACK bit without the SYN bit) removes the unacked entry it
// matches, which is how spec §3's "removed when a matching ACK
// arrives" lifecycle is actually realized; and the MSG branch only
// fires when the MSG bit is actually set, so a stray or duplicated
// control frame that isn't SYNACK/ACK/PING/PONG (a lone SYN arriving
// after the handshake, most plausibly) is silently dropped rather than
// falling through to "otherwise" and being delivered to the
// application as a bogus empty message. See DESIGN.md's Open Questions
// for the reasoning.
func (e *Endpoint) dispatch(ctx context.Context, p packet.Packet) {
	switch {
	case p.Type.Has(packet.SYNACK):
		e.handleSYNACK(ctx, p)
	case p.Type.Has(packet.ACK):
		e.handleAck(ctx, p)
	case p.Type.Has(packet.PING):
		dlog.Debug(ctx, "rudp: receiver: got PING")
		e.queuePong()
	case p.Type.Has(packet.PONG):
		dlog.Debug(ctx, "rudp: receiver: got PONG")
		e.ponged.Store(true)
	case p.Type.Has(packet.MSG):
		e.handleMsg(ctx, p)
	default:
		dlog.Debugf(ctx, "rudp: receiver: dropping unrecognized frame type %v", p.Type)
		e.Stats.PacketsDropped.Add(1)
	}
}

// handleSYNACK implements the retransmit-selection trigger: a SYNACK
// arriving after the handshake means the peer is behind our sequence
// (it never saw, or never acknowledged, something we already sent);
// re-queue everything still unacked. Per spec §9, selection is
// "sequence > last_acked" — the corrected reading, not tsmap.h's
// actual buggy "<" comparison.
func (e *Endpoint) handleSYNACK(ctx context.Context, p packet.Packet) {
	e.seqMu.Lock()
	localSeq := e.sequence
	e.seqMu.Unlock()

	if p.Sequence >= localSeq {
		return
	}
	entries := e.unackedTbl.ScanGreaterThan(p.Sequence)
	dlog.Debugf(ctx, "rudp: receiver: SYNACK seq=%d < local=%d, retransmitting %d entries", p.Sequence, localSeq, len(entries))
	for _, r := range entries {
		e.queueRetransmit(r.Sequence, r.Entry)
	}
}

// handleAck removes the single unacked entry this ACK matches: spec §4.D
// builds every ACK as sequence = received_seq + received_len, so an
// entry is acknowledged when its own sequence plus its length equals
// the ACK's sequence. This is an exact match, not a "everything below
// this" cumulative removal: spec §5 allows reordering and keeps no
// reorder buffer, so an ACK for a later MSG can arrive while an
// earlier MSG is still lost in flight, and that earlier entry must
// stay in the unacked table for the SYNACK-triggered retransmit scan
// to find (spec §8 S3).
func (e *Endpoint) handleAck(ctx context.Context, p packet.Packet) {
	matches := e.unackedTbl.ScanMatching(func(seq uint32, entry unacked.Entry) bool {
		return seq+uint32(entry.Length) == p.Sequence
	})
	for _, r := range matches {
		if e.unackedTbl.Remove(r.Sequence) {
			dlog.Debugf(ctx, "rudp: receiver: ACK seq=%d acknowledged unacked entry seq=%d", p.Sequence, r.Sequence)
		}
	}
}

// handleMsg delivers a MSG payload to the receive queue and always
// acknowledges, regardless of how many times this exact sequence has
// been seen before (spec §8's testable property 5: duplicate receipts
// each produce their own ACK; deduplication is explicitly not
// guaranteed, spec §9).
func (e *Endpoint) handleMsg(ctx context.Context, p packet.Packet) {
	e.queueAck(p.Sequence, len(p.Payload))
	e.recvQ.Push(p.Payload)
	dlog.Debugf(ctx, "rudp: receiver: delivered %d-byte MSG at seq=%d", len(p.Payload), p.Sequence)
}
