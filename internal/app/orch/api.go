package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/daudio/internal/app/device"
	"github.com/dkeye/daudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// OpenRemoteSpeaker streams local capture to the peer's speaker dhID. The
// local mic starts once the peer reports its speaker open.
func (o *Orchestrator) OpenRemoteSpeaker(ctx context.Context, peer, dhID string, param domain.AudioParam) error {
	l, err := o.connected(ctx, peer, dhID)
	if err != nil {
		return err
	}
	name := speakerChannel(dhID)
	mic := device.NewMic(o.deviceOptions(l, dhID, name, true))
	if !l.addDevice(name, mic) {
		return fmt.Errorf("%w: %s already open towards %s", domain.ErrStatus, name, peer)
	}
	if err := mic.SetUp(param); err != nil {
		l.takeDevice(name)
		return err
	}
	if err := l.send(domain.EventOpenSpeaker, domain.OpenPayload{DhID: dhID, Param: param}); err != nil {
		l.takeDevice(name)
		o.release(mic)
		return err
	}
	log.Info().Str("module", "orch").Str("peer", peer).Str("dh_id", dhID).Msg("remote speaker requested")
	return nil
}

// OpenRemoteMic renders the peer's mic dhID on the local sink.
func (o *Orchestrator) OpenRemoteMic(ctx context.Context, peer, dhID string, param domain.AudioParam) error {
	l, err := o.connected(ctx, peer, dhID)
	if err != nil {
		return err
	}
	name := micChannel(dhID)
	sp := device.NewSpeaker(o.deviceOptions(l, dhID, name, false))
	if !l.addDevice(name, sp) {
		return fmt.Errorf("%w: %s already open towards %s", domain.ErrStatus, name, peer)
	}
	if err := sp.SetUp(param); err != nil {
		l.takeDevice(name)
		return err
	}
	if err := sp.Start(ctx); err != nil {
		l.takeDevice(name)
		o.release(sp)
		return err
	}
	if err := l.send(domain.EventOpenMic, domain.OpenPayload{DhID: dhID, Param: param}); err != nil {
		if _, cerr := l.closeDevice(name); cerr != nil {
			log.Warn().Err(cerr).Str("module", "orch").Str("channel", name).Msg("release local speaker")
		}
		return err
	}
	log.Info().Str("module", "orch").Str("peer", peer).Str("dh_id", dhID).Msg("remote mic requested")
	return nil
}

// CloseRemote closes both directions of dhID towards peer.
func (o *Orchestrator) CloseRemote(_ context.Context, peer, dhID string) error {
	if err := domain.ValidateDhID(dhID); err != nil {
		return err
	}
	l, err := o.peer(peer)
	if err != nil {
		return err
	}
	var firstErr error
	if closed, err := l.closeDevice(speakerChannel(dhID)); closed {
		firstErr = err
		if serr := l.send(domain.EventCloseSpeaker, domain.ResultPayload{DhID: dhID}); serr != nil && firstErr == nil {
			firstErr = serr
		}
	}
	if closed, err := l.closeDevice(micChannel(dhID)); closed {
		if firstErr == nil {
			firstErr = err
		}
		if serr := l.send(domain.EventCloseMic, domain.ResultPayload{DhID: dhID}); serr != nil && firstErr == nil {
			firstErr = serr
		}
	}
	return firstErr
}

// SetRemoteVolume asks the peer to change the volume of the speaker fed by dhID.
func (o *Orchestrator) SetRemoteVolume(_ context.Context, peer, dhID string, level int, mute bool) error {
	if err := domain.ValidateDhID(dhID); err != nil {
		return err
	}
	l, err := o.peer(peer)
	if err != nil {
		return err
	}
	t := domain.EventVolumeSet
	if mute {
		t = domain.EventVolumeMuteSet
	}
	return l.send(t, domain.VolumePayload{DhID: dhID, Level: level, Mute: mute})
}

func (o *Orchestrator) connected(ctx context.Context, peer, dhID string) (*peerLink, error) {
	if err := domain.ValidateDhID(dhID); err != nil {
		return nil, err
	}
	if err := o.Connect(ctx, peer); err != nil {
		return nil, err
	}
	return o.peer(peer)
}

func (o *Orchestrator) release(d deviceSession) {
	if err := d.Release(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("dh_id", d.DhID()).Msg("release device")
	}
}
