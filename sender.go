package rudp

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"rudp/packet"
	"rudp/unacked"
)

// senderLoop is component D: drains the send queue while connected (or
// while it still holds queued work), retransmitting each item up to
// MaxTries times before giving up on it.
func (e *Endpoint) senderLoop(ctx context.Context) error {
	dlog.Debug(ctx, "rudp: sender: starting")
	defer dlog.Debug(ctx, "rudp: sender: stopped")

	for e.connected.Load() || e.sendQ.Len() > 0 {
		item, ok := e.sendQ.PopWaitTimeout(ReadinessTimeout)
		if !ok {
			continue
		}
		e.trySend(ctx, item)
	}
	return nil
}

// trySend attempts to transmit item up to MaxTries times, inserting it
// into the unacked table as soon as a transmit succeeds and giving up
// (dropping it) if every attempt fails. Only MSG frames are tracked in
// the unacked table: spec §3 scopes insertion to "MSG/SYN frames", and
// SYN is sent and retried by the handshake driver itself (component C)
// before the sender task ever runs, so in steady state only MSG needs
// tracking here.
func (e *Endpoint) trySend(ctx context.Context, item sendItem) {
	for attempt := 1; attempt <= MaxTries; attempt++ {
		if err := e.writeFrame(item.Bytes); err != nil {
			dlog.Debugf(ctx, "rudp: sender: attempt %d/%d for seq=%d failed: %v", attempt, MaxTries, item.Sequence, err)
			continue
		}
		e.Stats.PacketsSent.Add(1)
		if item.Type == packet.MSG {
			e.unackedTbl.Insert(item.Sequence, unacked.Entry{Bytes: item.Bytes, Length: item.Length})
		}
		return
	}
	dlog.Warnf(ctx, "rudp: sender: dropping seq=%d after %d failed attempts", item.Sequence, MaxTries)
	e.Stats.PacketsDropped.Add(1)
}

// queueAck enqueues an ACK for a received frame: sequence =
// received_seq + received_len, per spec §4.D.
func (e *Endpoint) queueAck(receivedSeq uint32, receivedLen int) {
	seq := receivedSeq + uint32(receivedLen)
	frame := packet.Build(packet.ACK, seq, nil)
	e.sendQ.Push(sendItem{Bytes: frame, Length: 0, Sequence: seq, Type: packet.ACK})
}

// queuePong enqueues a PONG reply to a PING.
func (e *Endpoint) queuePong() {
	frame := packet.Build(packet.PONG, 0, nil)
	e.sendQ.Push(sendItem{Bytes: frame, Length: 0, Sequence: 0, Type: packet.PONG})
}

// queuePing enqueues a liveness probe.
func (e *Endpoint) queuePing() {
	frame := packet.Build(packet.PING, 0, nil)
	e.sendQ.Push(sendItem{Bytes: frame, Length: 0, Sequence: 0, Type: packet.PING})
}

// queueRetransmit re-enqueues an already-built frame without rebuilding
// it or touching the sequence counter, per spec §4.D.
func (e *Endpoint) queueRetransmit(seq uint32, entry unacked.Entry) {
	e.Stats.Retransmits.Add(1)
	e.sendQ.Push(sendItem{Bytes: entry.Bytes, Length: entry.Length, Sequence: seq, Type: packet.MSG})
}
