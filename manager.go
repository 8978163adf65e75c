package callmgr

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/navaz-alani/concord/core"
	"github.com/navaz-alani/concord/core/crypto"
	"github.com/navaz-alani/concord/core/throttle"
	"github.com/navaz-alani/concord/packet"
	"github.com/navaz-alani/concord/server"
)

// Meta keys understood by the CallManager and its clients.
const (
	KeyAlias     string = "callmgr_alias"
	KeyCallee           = "callmgr_callee"
	KeyCallID           = "callmgr_call_id"
	KeyMergeID          = "callmgr_merge_id"
	KeyEvent            = "callmgr_event"
	KeyPeer             = "callmgr_peer"
	KeyStatCalls        = "callmgr_stat_calls"
	KeyStatUsers        = "callmgr_stat_users"
)

// Events carried under KeyEvent on packets relayed to clients.
const (
	EventInvite = "invite"
	EventAudio  = "audio"
)

// CallManager is the call-management server. It owns the alias↔address
// table and the call-id binding table, and exposes both over the concord
// packet transport: peers register an alias, place and answer calls, and
// refer to live calls exclusively by the opaque ids the CallIDMapper
// mints.
//
// All registry state (users, ids) is confined to the manager's run loop;
// packet callbacks, which concord invokes on its own goroutines, dispatch
// onto the loop and wait.
type CallManager struct {
	svr   server.Server
	addr  *net.UDPAddr
	loop  *RunLoop
	ids   *CallIDMapper
	users *BiMap[string, string] /* key = alias, val = addr */
}

func NewCallManager(addr *net.UDPAddr, idPrefix string, secure bool) (*CallManager, error) {
	svr, err := server.NewUDPServer(addr, 10000, &packet.JSONPktCreator{}, throttle.Rate10k)
	if err != nil {
		return nil, fmt.Errorf("server create fail: " + err.Error())
	}
	if secure {
		// generate private key
		privKey, err := ecdsa.GenerateKey(crypto.Curve, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("public key gen fail: " + err.Error())
		}
		// initialize Crypto extension
		cr, err := crypto.NewCrypto(privKey)
		if err != nil {
			return nil, fmt.Errorf("crypto extension error: " + err.Error())
		}
		// install extension on server pipelines
		cr.Extend("server", svr)
	}
	return &CallManager{
		svr:   svr,
		addr:  addr,
		loop:  NewRunLoop(),
		ids:   NewCallIDMapper(idPrefix),
		users: NewBiMap[string, string](1000),
	}, nil
}

// Serve starts the run loop, installs the manager's targets and begins the
// server RW loop.
func (cm *CallManager) Serve() {
	go cm.loop.Run()
	cm.extend()
	cm.svr.Serve()
}

// Stop clears the registry tables and terminates the run loop.
func (cm *CallManager) Stop() {
	cm.loop.DoSync(func() {
		cm.ids.Clear()
		cm.users.Clear()
	})
	cm.loop.Stop()
}

// `extend` installs `CallManager`'s targets on the underlying concord
// server.
func (cm *CallManager) extend() {
	pr := cm.svr.PacketProcessor()
	pr.AddCallback("register", cm.register)
	pr.AddCallback("unregister", cm.unregister)
	pr.AddCallback("call.place", cm.callPlace)
	pr.AddCallback("call.invite", cm.callInvite)
	pr.AddCallback("call.answer", cm.callAnswer)
	pr.AddCallback("call.end", cm.callEnd)
	pr.AddCallback("call.merge", cm.callMerge)
	pr.AddCallback("conf.open", cm.confOpen)
	pr.AddCallback("call.audio", cm.callAudio)
	pr.AddCallback("stats", cm.stats)
}

/*
The `__*__` methods below mutate and read the registry tables. They must
only ever run on the manager's run loop.
*/

// `__register__` reserves the given `alias` for the given `addr`. The
// alias table is reserve-once: a taken alias, or an addr already holding
// an alias, is refused.
func (cm *CallManager) __register__(alias, addr string) error {
	if !cm.users.Put(alias, addr) {
		return fmt.Errorf("alias registered, unregister and try again")
	}
	return nil
}

// `__unregister__` releases the given `alias`, provided `addr` is the
// address it was reserved for.
func (cm *CallManager) __unregister__(alias, addr string) error {
	if aliasAddr, ok := cm.users.Value(alias); !ok {
		return fmt.Errorf("alias unregistered")
	} else if aliasAddr != addr {
		return fmt.Errorf("unauthorized unregistration")
	}
	cm.users.Remove(alias)
	return nil
}

// `__place__` creates the ringing call leg and binds it under a freshly
// minted id, which external peers use as their only handle on the call.
func (cm *CallManager) __place__(callerAddr, calleeAlias string) (string, error) {
	caller, ok := cm.users.Key(callerAddr)
	if !ok {
		return "", fmt.Errorf("caller not registered")
	}
	if _, ok := cm.users.Value(calleeAlias); !ok {
		return "", fmt.Errorf("callee alias not registered")
	}
	call := NewCall(caller, calleeAlias)
	id := cm.ids.AddCall(call)
	if id == "" {
		return "", fmt.Errorf("call bind fail")
	}
	log.Printf("call %s placed (%s -> %s)", id, caller, calleeAlias)
	return id, nil
}

// `__inviteDest__` resolves the relay destination for a call invite: the
// callee's address. Only the caller of the identified call may invite.
func (cm *CallManager) __inviteDest__(tok any, fromAddr string) (caller, calleeAddr string, err error) {
	call := cm.ids.GetCall(tok)
	if call == nil {
		return "", "", fmt.Errorf("unknown call id")
	}
	from, ok := cm.users.Key(fromAddr)
	if !ok || from != call.Caller {
		return "", "", fmt.Errorf("only the caller may invite")
	}
	addr, ok := cm.users.Value(call.Callee)
	if !ok {
		return "", "", fmt.Errorf("callee no longer registered")
	}
	return from, addr, nil
}

// `__answer__` moves the identified call to the active state.
func (cm *CallManager) __answer__(tok any) error {
	call := cm.ids.GetCall(tok)
	if call == nil {
		return fmt.Errorf("unknown call id")
	}
	if call.State != StateRinging {
		return fmt.Errorf("call not ringing")
	}
	call.State = StateActive
	return nil
}

// `__end__` tears the identified call down and unbinds its id. The id is
// never reminted, so stale handles held by peers resolve to nothing from
// here on.
func (cm *CallManager) __end__(tok any) error {
	call := cm.ids.GetCall(tok)
	if call == nil {
		return fmt.Errorf("unknown call id")
	}
	id, _ := cm.ids.GetCallID(call)
	call.State = StateEnded
	cm.ids.RemoveCall(call)
	log.Printf("call %s ended", id)
	return nil
}

// `__merge__` folds two bound calls into one conference call. The
// conference takes over the first call's id (the second call's id is
// unbound), so peers holding that id keep a live handle across the merge.
func (cm *CallManager) __merge__(keepTok, absorbTok any) (string, error) {
	keep := cm.ids.GetCall(keepTok)
	absorb := cm.ids.GetCall(absorbTok)
	if keep == nil || absorb == nil {
		return "", fmt.Errorf("unknown call id")
	}
	if keep == absorb {
		return "", fmt.Errorf("cannot merge a call with itself")
	}
	conf := NewConference(mergeMembers(keep, absorb)...)
	cm.ids.ReplaceCall(conf, keep)
	cm.ids.RemoveCall(absorb)
	keep.State, absorb.State = StateEnded, StateEnded
	id, _ := cm.ids.GetCallID(conf)
	log.Printf("calls merged into conference %s (%d members)", id, len(conf.Members))
	return id, nil
}

// mergeMembers collects the distinct parties of both calls, conference
// host first.
func mergeMembers(a, b *Call) []string {
	seen := make(map[string]struct{})
	var members []string
	add := func(alias string) {
		if alias == "" {
			return
		}
		if _, ok := seen[alias]; ok {
			return
		}
		seen[alias] = struct{}{}
		members = append(members, alias)
	}
	for _, c := range []*Call{a, b} {
		if c.Conference {
			for _, m := range c.Members {
				add(m)
			}
		} else {
			add(c.Caller)
			add(c.Callee)
		}
	}
	return members
}

// `__confOpen__` binds a fresh conference, hosted by the registered owner
// of `hostAddr`, under a uuid-based conference id.
func (cm *CallManager) __confOpen__(hostAddr string) (string, error) {
	host, ok := cm.users.Key(hostAddr)
	if !ok {
		return "", fmt.Errorf("host not registered")
	}
	conf := NewConference(host)
	id := NewConferenceID()
	if !cm.ids.AddCallWithID(conf, id) {
		return "", fmt.Errorf("conference bind fail")
	}
	log.Printf("conference %s opened by %s", id, host)
	return id, nil
}

// `__audioDest__` resolves where an audio packet for the identified call,
// sent from `fromAddr`, should be relayed: the other leg of a two-party
// call, or the conference host for mixing.
func (cm *CallManager) __audioDest__(tok any, fromAddr string) (from, destAddr string, err error) {
	call := cm.ids.GetCall(tok)
	if call == nil {
		return "", "", fmt.Errorf("unknown call id")
	}
	if call.State != StateActive {
		return "", "", fmt.Errorf("call not active")
	}
	from, ok := cm.users.Key(fromAddr)
	if !ok {
		return "", "", fmt.Errorf("sender not registered")
	}
	var dest string
	if call.Conference {
		dest = call.Host()
	} else {
		dest = call.Peer(from)
	}
	if dest == "" || dest == from {
		return "", "", fmt.Errorf("no relay destination for sender")
	}
	addr, ok := cm.users.Value(dest)
	if !ok {
		return "", "", fmt.Errorf("peer no longer registered")
	}
	return from, addr, nil
}

/*
Packet callbacks. concord invokes these on its own goroutines; each one
parses the packet, runs its registry work on the run loop and reports the
outcome through `ctx`/`pw`.
*/

// `register` registers a user onto the `CallManager`.
func (cm *CallManager) register(ctx *core.TargetCtx, pw packet.Writer) {
	// ensure the user has provided an `alias` in the registration packet
	var alias string
	if alias = ctx.Pkt.Meta().Get(KeyAlias); alias == "" {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "registration alias (username) not provided"
		return
	}
	// attempt to register the user's address under the `alias` provided
	var err error
	cm.loop.DoSync(func() { err = cm.__register__(alias, ctx.From) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = err.Error()
	}
}

func (cm *CallManager) unregister(ctx *core.TargetCtx, pw packet.Writer) {
	var alias string
	if alias = ctx.Pkt.Meta().Get(KeyAlias); alias == "" {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "unregistration alias (username) not provided"
		return
	}
	var err error
	cm.loop.DoSync(func() { err = cm.__unregister__(alias, ctx.From) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = err.Error()
	}
}

// `callPlace` creates a call leg towards the callee alias named in the
// packet and responds with the minted call id.
func (cm *CallManager) callPlace(ctx *core.TargetCtx, pw packet.Writer) {
	callee := ctx.Pkt.Meta().Get(KeyCallee)
	if callee == "" {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "callee alias not provided"
		return
	}
	var id string
	var err error
	cm.loop.DoSync(func() { id, err = cm.__place__(ctx.From, callee) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "place error: " + err.Error()
		return
	}
	pw.Meta().Add(KeyCallID, id)
	pw.Close()
}

// `callInvite` relays a ring notification for a placed call to its callee.
func (cm *CallManager) callInvite(ctx *core.TargetCtx, pw packet.Writer) {
	id := ctx.Pkt.Meta().Get(KeyCallID)
	var from, calleeAddr string
	var err error
	cm.loop.DoSync(func() { from, calleeAddr, err = cm.__inviteDest__(id, ctx.From) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "invite error: " + err.Error()
		return
	}
	// set context status so that the server relays the packet underlying
	// `pw` to the callee
	ctx.Stat = core.CodeRelay
	pw.Meta().Add(server.KeyRelayTo, calleeAddr)
	pw.Meta().Add(KeyEvent, EventInvite)
	pw.Meta().Add(KeyCallID, id)
	pw.Meta().Add(KeyPeer, from)
	pw.Write(ctx.Pkt.Data())
	pw.Close()
}

func (cm *CallManager) callAnswer(ctx *core.TargetCtx, pw packet.Writer) {
	id := ctx.Pkt.Meta().Get(KeyCallID)
	var err error
	cm.loop.DoSync(func() { err = cm.__answer__(id) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "answer error: " + err.Error()
	}
}

func (cm *CallManager) callEnd(ctx *core.TargetCtx, pw packet.Writer) {
	id := ctx.Pkt.Meta().Get(KeyCallID)
	var err error
	cm.loop.DoSync(func() { err = cm.__end__(id) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "end error: " + err.Error()
	}
}

// `callMerge` merges the two identified calls into a conference and
// responds with the id the conference is reachable under.
func (cm *CallManager) callMerge(ctx *core.TargetCtx, pw packet.Writer) {
	id := ctx.Pkt.Meta().Get(KeyCallID)
	mergeID := ctx.Pkt.Meta().Get(KeyMergeID)
	var confID string
	var err error
	cm.loop.DoSync(func() { confID, err = cm.__merge__(id, mergeID) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "merge error: " + err.Error()
		return
	}
	pw.Meta().Add(KeyCallID, confID)
	pw.Close()
}

// `confOpen` opens an empty conference hosted by the sender and responds
// with its conference id.
func (cm *CallManager) confOpen(ctx *core.TargetCtx, pw packet.Writer) {
	var id string
	var err error
	cm.loop.DoSync(func() { id, err = cm.__confOpen__(ctx.From) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "conference error: " + err.Error()
		return
	}
	pw.Meta().Add(KeyCallID, id)
	pw.Close()
}

// `callAudio` relays an audio payload between the parties of a bound,
// active call. The call id on the packet is external input and is
// validated by the mapper before any relay happens.
func (cm *CallManager) callAudio(ctx *core.TargetCtx, pw packet.Writer) {
	id := ctx.Pkt.Meta().Get(KeyCallID)
	var from, destAddr string
	var err error
	cm.loop.DoSync(func() { from, destAddr, err = cm.__audioDest__(id, ctx.From) })
	if err != nil {
		ctx.Stat = core.CodeStopError
		ctx.Msg = "audio relay error: " + err.Error()
		return
	}
	ctx.Stat = core.CodeRelay
	pw.Meta().Add(server.KeyRelayTo, destAddr)
	pw.Meta().Add(KeyEvent, EventAudio)
	pw.Meta().Add(KeyCallID, id)
	pw.Meta().Add(KeyPeer, from)
	pw.Write(ctx.Pkt.Data())
	pw.Close()
}

// `stats` responds with the current table sizes.
func (cm *CallManager) stats(ctx *core.TargetCtx, pw packet.Writer) {
	var calls, users int
	cm.loop.DoSync(func() {
		calls = cm.ids.Len()
		users = cm.users.Len()
	})
	pw.Meta().Add(KeyStatCalls, strconv.Itoa(calls))
	pw.Meta().Add(KeyStatUsers, strconv.Itoa(users))
	pw.Close()
}
