package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/app"
	"github.com/campfire-im/relay/internal/domain"
)

// joinSignaling upserts the sender into the call's peer set and flushes
// any candidates queued while it was unreachable.
func (ctl *Controller) joinSignaling(ctx context.Context, c *wsConn, call domain.CallID, uid domain.UserID, meta map[string]json.RawMessage) bool {
	queued, err := ctl.Relay.AddPeer(ctx, call, uid, meta)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Int64("call_id", int64(call)).Msg("add peer")
		ctl.sendError(c, "internal error")
		return false
	}
	for _, frame := range queued {
		_ = c.TrySend(frame)
	}
	return true
}

func (ctl *Controller) handleCallOffer(ctx context.Context, uid domain.UserID, c *wsConn, data []byte) {
	var p callOfferEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}

	if !ctl.joinSignaling(ctx, c, p.CallID, uid, map[string]json.RawMessage{"offer": p.Offer}) {
		return
	}

	frame := mustMarshal(callOfferFrame{
		Type:       "call_offer",
		CallID:     p.CallID,
		FromUserID: uid,
		Offer:      p.Offer,
	})
	// Offers to an offline target are dropped, not queued.
	if _, err := ctl.Relay.Relay(ctx, p.CallID, p.TargetUserID, app.KindOffer, frame); err != nil {
		log.Error().Err(err).Str("module", "signal").Int64("call_id", int64(p.CallID)).Msg("relay offer")
		ctl.sendError(c, "internal error")
		return
	}
	ctl.sendAck(c, evCallOffer, "sent")
}

func (ctl *Controller) handleCallAnswer(ctx context.Context, uid domain.UserID, c *wsConn, data []byte) {
	var p callAnswerEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}

	if !ctl.joinSignaling(ctx, c, p.CallID, uid, map[string]json.RawMessage{"answer": p.Answer}) {
		return
	}

	frame := mustMarshal(callAnswerFrame{
		Type:       "call_answer",
		CallID:     p.CallID,
		FromUserID: uid,
		Answer:     p.Answer,
	})
	if _, err := ctl.Relay.Relay(ctx, p.CallID, p.TargetUserID, app.KindAnswer, frame); err != nil {
		log.Error().Err(err).Str("module", "signal").Int64("call_id", int64(p.CallID)).Msg("relay answer")
		ctl.sendError(c, "internal error")
		return
	}
	ctl.sendAck(c, evCallAnswer, "sent")
}

// handleIceCandidate relays to the target when one is named, buffering
// for an unreachable target; without a target it fans out to every
// known call peer except the sender.
func (ctl *Controller) handleIceCandidate(ctx context.Context, uid domain.UserID, c *wsConn, data []byte) {
	var p iceCandidateEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}

	frame := mustMarshal(iceCandidateFrame{
		Type:       "ice_candidate",
		CallID:     p.CallID,
		FromUserID: uid,
		Candidate:  p.Candidate,
	})

	if p.TargetUserID != 0 {
		queued, err := ctl.Relay.Relay(ctx, p.CallID, p.TargetUserID, app.KindCandidate, frame)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Int64("call_id", int64(p.CallID)).Msg("relay candidate")
			ctl.sendError(c, "internal error")
			return
		}
		if queued {
			ctl.sendAck(c, evIceCandidate, "queued")
			return
		}
	} else {
		if err := ctl.Relay.RelayBroadcast(ctx, p.CallID, uid, app.KindCandidate, frame); err != nil {
			log.Error().Err(err).Str("module", "signal").Int64("call_id", int64(p.CallID)).Msg("broadcast candidate")
			ctl.sendError(c, "internal error")
			return
		}
	}
	ctl.sendAck(c, evIceCandidate, "sent")
}

func (ctl *Controller) handleCallEnded(ctx context.Context, uid domain.UserID, c *wsConn, data []byte) {
	var p callEndedEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	ctl.removePeerAndNotify(ctx, p.CallID, uid)
	ctl.sendAck(c, evCallEnded, "ended")
}
