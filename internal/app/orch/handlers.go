package orch

import (
	"context"

	"github.com/dkeye/daudio/internal/app/device"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// handle runs on the task queue worker.
func (o *Orchestrator) handle(l *peerLink, ev domain.AudioEvent) {
	log.Debug().Str("module", "orch").Str("peer", l.id).Str("event", ev.Type.String()).Msg("control event")
	switch ev.Type {
	case domain.EventOpenSpeaker:
		o.onOpenSpeaker(l, ev)
	case domain.EventCloseSpeaker:
		o.onClose(l, ev, speakerChannel, domain.EventNotifyCloseSpeakerResult)
	case domain.EventOpenMic:
		o.onOpenMic(l, ev)
	case domain.EventCloseMic:
		o.onClose(l, ev, micChannel, domain.EventNotifyCloseMicResult)
	case domain.EventVolumeSet, domain.EventVolumeMuteSet:
		o.onVolume(l, ev)
	case domain.EventNotifyOpenSpeakerResult:
		o.onOpenSpeakerResult(l, ev)
	case domain.EventNotifyOpenMicResult:
		o.onOpenMicResult(l, ev)
	default:
		o.notifyUpward(ev)
	}
}

// onOpenSpeaker renders what the peer's mic streams on speakerChannel.
func (o *Orchestrator) onOpenSpeaker(l *peerLink, ev domain.AudioEvent) {
	var req domain.OpenPayload
	if err := decodeRequest(ev.Content, &req, &req.DhID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Msg("bad OPEN_SPEAKER content")
		return
	}
	name := speakerChannel(req.DhID)
	sp := device.NewSpeaker(o.deviceOptions(l, req.DhID, name, false))
	err := o.bringUp(l, name, sp, req.Param)
	o.reply(l, domain.EventNotifyOpenSpeakerResult, req.DhID, err)
}

// onOpenMic captures locally and streams to the peer's speaker on micChannel.
func (o *Orchestrator) onOpenMic(l *peerLink, ev domain.AudioEvent) {
	var req domain.OpenPayload
	if err := decodeRequest(ev.Content, &req, &req.DhID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Msg("bad OPEN_MIC content")
		return
	}
	name := micChannel(req.DhID)
	mic := device.NewMic(o.deviceOptions(l, req.DhID, name, true))
	err := o.bringUp(l, name, mic, req.Param)
	o.reply(l, domain.EventNotifyOpenMicResult, req.DhID, err)
}

// bringUp sets up and starts d, registering it under name only on success.
func (o *Orchestrator) bringUp(l *peerLink, name string, d interface {
	deviceSession
	SetUp(domain.AudioParam) error
}, param domain.AudioParam) error {
	if param == (domain.AudioParam{}) {
		param = domain.DefaultAudioParam()
	}
	if !l.addDevice(name, d) {
		return domain.ErrStatus
	}
	if err := d.SetUp(param); err != nil {
		l.takeDevice(name)
		return err
	}
	ctx, cancel := context.WithTimeout(o.baseContext(), o.cfg.OpenTimeout)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		l.takeDevice(name)
		if rerr := d.Release(); rerr != nil {
			log.Warn().Err(rerr).Str("module", "orch").Str("channel", name).Msg("release after failed start")
		}
		return err
	}
	return nil
}

func (o *Orchestrator) onClose(l *peerLink, ev domain.AudioEvent, channelOf func(string) string, result domain.EventType) {
	var req domain.ResultPayload
	if err := decodeRequest(ev.Content, &req, &req.DhID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Str("event", ev.Type.String()).Msg("bad close content")
		return
	}
	_, err := l.closeDevice(channelOf(req.DhID))
	o.reply(l, result, req.DhID, err)
}

func (o *Orchestrator) onVolume(l *peerLink, ev domain.AudioEvent) {
	var req domain.VolumePayload
	if err := decodeRequest(ev.Content, &req, &req.DhID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Msg("bad volume content")
		return
	}
	d, ok := l.device(speakerChannel(req.DhID))
	sp, isSpeaker := d.(*device.Speaker)
	if !ok || !isSpeaker {
		log.Warn().Str("module", "orch").Str("peer", l.id).Str("dh_id", req.DhID).Msg("volume for unknown speaker")
		return
	}
	if err := sp.SetVolume(req.Level, req.Mute); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("dh_id", req.DhID).Msg("set volume")
		return
	}
	if err := l.send(domain.EventVolumeChange, req); err == nil {
		o.notifyUpward(domain.AudioEvent{Type: domain.EventVolumeChange, Content: ev.Content})
	}
}

// onOpenSpeakerResult starts the local mic once the peer's speaker listens.
func (o *Orchestrator) onOpenSpeakerResult(l *peerLink, ev domain.AudioEvent) {
	o.notifyUpward(ev)
	var res domain.ResultPayload
	if err := domain.DecodeContent(ev.Content, &res); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Msg("bad open speaker result")
		return
	}
	name := speakerChannel(res.DhID)
	if res.Result != domain.ResultOK {
		log.Warn().Str("module", "orch").Str("peer", l.id).Str("dh_id", res.DhID).Str("reason", res.Reason).Msg("remote speaker refused")
		if _, err := l.closeDevice(name); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("channel", name).Msg("release local mic")
		}
		return
	}
	d, ok := l.device(name)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(o.baseContext(), o.cfg.OpenTimeout)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Str("dh_id", res.DhID).Msg("start local mic")
	}
}

func (o *Orchestrator) onOpenMicResult(l *peerLink, ev domain.AudioEvent) {
	o.notifyUpward(ev)
	var res domain.ResultPayload
	if err := domain.DecodeContent(ev.Content, &res); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("peer", l.id).Msg("bad open mic result")
		return
	}
	if res.Result == domain.ResultOK {
		return
	}
	log.Warn().Str("module", "orch").Str("peer", l.id).Str("dh_id", res.DhID).Str("reason", res.Reason).Msg("remote mic refused")
	if _, err := l.closeDevice(micChannel(res.DhID)); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("dh_id", res.DhID).Msg("release local speaker")
	}
}

func (o *Orchestrator) reply(l *peerLink, t domain.EventType, dhID string, err error) {
	res := domain.ResultPayload{DhID: dhID, Result: domain.ResultOK}
	if err != nil {
		res.Result = domain.ResultFailed
		res.Reason = err.Error()
		log.Warn().Err(err).Str("module", "orch").Str("peer", l.id).Str("dh_id", dhID).Str("reply", t.String()).Msg("request failed")
	}
	if serr := l.send(t, res); serr != nil {
		return
	}
	o.notifyUpward(domain.AudioEvent{Type: t, Content: mustContent(res)})
}

func mustContent(payload any) string {
	s, err := domain.EncodeContent(payload)
	if err != nil {
		return ""
	}
	return s
}

// decodeRequest decodes content into v and validates the handle id it carries.
func decodeRequest(content string, v any, dhID *string) error {
	if err := domain.DecodeContent(content, v); err != nil {
		return err
	}
	return domain.ValidateDhID(*dhID)
}
