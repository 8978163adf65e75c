package callmgr

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/navaz-alani/concord/client"
	"github.com/navaz-alani/concord/core/crypto"
	"github.com/navaz-alani/concord/core/throttle"
	"github.com/navaz-alani/concord/packet"
)

// respTimeout bounds how long a client waits for the manager to answer a
// request packet.
const respTimeout = 5 * time.Second

// Invite is a ring notification relayed by the manager: some peer has
// placed a call towards this client and `CallID` is the handle to answer
// or reject it with.
type Invite struct {
	CallID string
	Peer   string
}

// CallClient is a peer of the CallManager. It registers an alias and then
// deals in opaque call ids only: placing a call yields an id, and every
// subsequent operation (answer, end, merge, audio) quotes that id back to
// the manager.
type CallClient struct {
	callMu     sync.Mutex
	svrAddr    string
	client     client.Client
	pc         packet.PacketCreator
	sampleRate int
	alias      string
	invites    chan Invite
	audioIn    chan audioFrame
	pumpOnce   sync.Once
}

type audioFrame struct {
	callID string
	data   []byte
}

func NewCallClient(svrAddr, listenAddr *net.UDPAddr, sampleRate int, secure bool) (*CallClient, error) {
	concordClient, err := client.NewUDPClient(svrAddr, listenAddr, 10000,
		&packet.JSONPktCreator{}, throttle.Rate100K)
	if err != nil {
		return nil, fmt.Errorf("concord client init err: %s", err.Error())
	}
	if secure {
		privKey, err := ecdsa.GenerateKey(crypto.Curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("private key gen fail: " + err.Error())
		}
		cr, err := crypto.NewCrypto(privKey)
		if err != nil {
			return nil, fmt.Errorf("crypto extension error: " + err.Error())
		}
		cr.Extend("client", concordClient)
	}
	return &CallClient{
		svrAddr:    svrAddr.String(),
		client:     concordClient,
		pc:         &packet.JSONPktCreator{},
		sampleRate: sampleRate,
		invites:    make(chan Invite, 16),
		audioIn:    make(chan audioFrame, 256),
	}, nil
}

// Invites exposes ring notifications relayed by the manager. The pump
// feeding it starts on the first Register.
func (c *CallClient) Invites() <-chan Invite {
	return c.invites
}

// `pump` sorts incoming relayed packets by event kind: invites go to the
// invite channel, audio frames to the audio channel. Unknown events are
// dropped.
func (c *CallClient) pump() {
	for pkt := range c.client.Misc() {
		switch pkt.Meta().Get(KeyEvent) {
		case EventInvite:
			select {
			case c.invites <- Invite{
				CallID: pkt.Meta().Get(KeyCallID),
				Peer:   pkt.Meta().Get(KeyPeer),
			}:
			default: // ring buffer full; drop
			}
		case EventAudio:
			data, err := base64.StdEncoding.DecodeString(string(pkt.Data()))
			if err != nil {
				continue
			}
			select {
			case c.audioIn <- audioFrame{
				callID: pkt.Meta().Get(KeyCallID),
				data:   data,
			}:
			default:
			}
		}
	}
}

// `request` sends a packet with the given target and meta pairs to the
// manager and waits for its response.
func (c *CallClient) request(target string, meta map[string]string) (packet.Packet, error) {
	pkt := c.pc.NewPkt("", c.svrAddr)
	writer := pkt.Writer()
	writer.Meta().Add(packet.KeyTarget, target)
	for k, v := range meta {
		writer.Meta().Add(k, v)
	}
	writer.Close()
	respCh := make(chan packet.Packet, 1)
	c.client.Send(pkt, respCh)
	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(respTimeout):
		return nil, fmt.Errorf("%s: no response from server", target)
	}
}

// Register reserves `alias` for this client on the manager. Until a later
// Unregister, peers can call the alias and the manager will relay invites
// and audio here.
func (c *CallClient) Register(alias string) error {
	if _, err := c.request("register", map[string]string{KeyAlias: alias}); err != nil {
		return err
	}
	c.alias = alias
	c.pumpOnce.Do(func() { go c.pump() })
	return nil
}

// Unregister releases this client's alias.
func (c *CallClient) Unregister() error {
	_, err := c.request("unregister", map[string]string{KeyAlias: c.alias})
	return err
}

// PlaceCall asks the manager to open a call towards `callee` and rings the
// callee. The returned id is the caller's only handle on the call.
func (c *CallClient) PlaceCall(callee string) (string, error) {
	resp, err := c.request("call.place", map[string]string{KeyCallee: callee})
	if err != nil {
		return "", err
	}
	id := resp.Meta().Get(KeyCallID)
	if id == "" {
		return "", fmt.Errorf("place call fail: no call id issued")
	}
	if _, err := c.request("call.invite", map[string]string{KeyCallID: id}); err != nil {
		return "", err
	}
	return id, nil
}

// Answer accepts the ringing call identified by `id`.
func (c *CallClient) Answer(id string) error {
	_, err := c.request("call.answer", map[string]string{KeyCallID: id})
	return err
}

// EndCall tears the identified call down. The id is dead afterwards; the
// manager never reissues it.
func (c *CallClient) EndCall(id string) error {
	_, err := c.request("call.end", map[string]string{KeyCallID: id})
	return err
}

// Merge folds the call identified by `mergeID` into the one identified by
// `id`, returning the id the resulting conference is reachable under.
func (c *CallClient) Merge(id, mergeID string) (string, error) {
	resp, err := c.request("call.merge", map[string]string{
		KeyCallID:  id,
		KeyMergeID: mergeID,
	})
	if err != nil {
		return "", err
	}
	return resp.Meta().Get(KeyCallID), nil
}

// OpenConference asks the manager for a fresh conference hosted by this
// client and returns its conference id.
func (c *CallClient) OpenConference() (string, error) {
	resp, err := c.request("conf.open", nil)
	if err != nil {
		return "", err
	}
	id := resp.Meta().Get(KeyCallID)
	if id == "" {
		return "", fmt.Errorf("conference open fail: no id issued")
	}
	return id, nil
}

// OpenAudioChan runs the audio channel for the call identified by
// `callID`: local audio is recorded, opus-encoded and relayed through the
// manager; relayed frames for this call are decoded and played. The call
// ends locally when `done` is signalled.
func (c *CallClient) OpenAudioChan(done <-chan struct{}, callID string) error {
	c.callMu.Lock() // one audio channel at a time
	defer c.callMu.Unlock()

	codec, err := NewCodec(c.sampleRate)
	if err != nil {
		return fmt.Errorf("codec init err: %s", err.Error())
	}
	a := NewAudioIO(c.sampleRate)
	killStream := make(chan struct{})
	recordStream, err := a.Record(killStream)
	if err != nil {
		return fmt.Errorf("record err: %s", err.Error())
	}
	playStream := make(chan []int16)
	go a.Play(playStream)

	playFrame := a.BuffPool.Get().([]int16)
	for {
		select {
		case <-done:
			goto EXIT
		case chunk := <-recordStream:
			encoded, err := codec.Encode(chunk)
			a.BuffPool.Put(chunk)
			if err != nil {
				continue
			}
			c.relayAudio(callID, encoded)
		case frame := <-c.audioIn:
			// frames for other calls are not ours to play
			if frame.callID != callID {
				continue
			}
			if _, err := codec.Decode(frame.data, playFrame); err != nil {
				continue
			}
			playStream <- playFrame
			playFrame = a.BuffPool.Get().([]int16)
		}
	}
EXIT:
	close(playStream)
	// keep the record stream drained so the recorder can observe the kill
	go func() {
		for range recordStream {
		}
	}()
	killStream <- struct{}{}
	return nil
}

// `relayAudio` ships one encoded frame to the manager for relaying to the
// call's peer. Fire-and-forget: audio is loss-tolerant.
func (c *CallClient) relayAudio(callID string, encoded []byte) {
	pkt := c.pc.NewPkt("", c.svrAddr)
	writer := pkt.Writer()
	writer.Meta().Add(packet.KeyTarget, "call.audio")
	writer.Meta().Add(KeyCallID, callID)
	writer.Write([]byte(base64.StdEncoding.EncodeToString(encoded)))
	writer.Close()
	c.client.Send(pkt, nil)
}
