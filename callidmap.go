package callmgr

import (
	"strconv"
	"strings"
)

// idSep separates the mapper prefix from the counter in minted call ids.
const idSep = "@"

// CallIDMapper binds live *Call objects to the opaque string ids handed to
// external peers in place of object references. Ids minted by a mapper are
// of the form "<prefix>@<n>" and are never reused within that mapper's
// lifetime. The mapper never owns the calls it binds; creating and tearing
// down call objects is the manager's business.
//
// A CallIDMapper performs no locking: every mutating or reading operation
// on the binding table must be dispatched on the owning manager's run loop
// (see RunLoop). The two validity predicates are the exception — they read
// only the immutable prefix and may be called from any goroutine.
type CallIDMapper struct {
	calls   *BiMap[string, *Call]
	prefix  string
	idCount uint64
}

func NewCallIDMapper(prefix string) *CallIDMapper {
	return &CallIDMapper{
		calls:  NewBiMap[string, *Call](64),
		prefix: prefix + idSep,
	}
}

// AddCallWithID binds `id` to `call`. The bind is refused, returning false
// with the table unchanged, when the call is nil or either the id or the
// call is already bound. A refused call is not registered under any id.
func (m *CallIDMapper) AddCallWithID(call *Call, id string) bool {
	if call == nil {
		return false
	}
	return m.calls.Put(id, call)
}

// AddCall binds `call` under a freshly minted id and returns that id.
// Returns "" when the call is nil or already bound.
func (m *CallIDMapper) AddCall(call *Call) string {
	if call == nil {
		return ""
	}
	id := m.NewID()
	if !m.calls.Put(id, call) {
		return ""
	}
	return id
}

// ReplaceCall re-points the id bound to `callToReplace` at `newCall`, so
// that the new call keeps the old call's id. Any binding `newCall` held
// under another id is dropped. No-op when `newCall` is nil or the old call
// has no binding.
func (m *CallIDMapper) ReplaceCall(newCall, callToReplace *Call) {
	id, ok := m.calls.Key(callToReplace)
	if !ok || newCall == nil {
		return
	}
	m.calls.Remove(id)
	m.calls.RemoveValue(newCall)
	m.calls.Put(id, newCall)
}

// RemoveCall unbinds whichever id is currently bound to `call`, reporting
// whether a binding was removed.
func (m *CallIDMapper) RemoveCall(call *Call) bool {
	if call == nil {
		return false
	}
	return m.calls.RemoveValue(call)
}

// RemoveCallID unbinds `id`, reporting whether a binding was removed.
func (m *CallIDMapper) RemoveCallID(id string) bool {
	return m.calls.Remove(id)
}

// GetCallID returns the id under which `call` is bound.
func (m *CallIDMapper) GetCallID(call *Call) (string, bool) {
	if call == nil {
		return "", false
	}
	return m.calls.Key(call)
}

// GetCall resolves an externally supplied token to a bound call. The token
// crosses a trust boundary: it must be a string, and the string must pass
// either the call-id or the conference-id shape check before the binding
// table is consulted. Returns nil for malformed tokens and unbound ids
// alike.
func (m *CallIDMapper) GetCall(tok any) *Call {
	id, ok := tok.(string)
	if !ok {
		return nil
	}
	if !m.IsValidCallID(id) && !m.IsValidConferenceID(id) {
		return nil
	}
	call, _ := m.calls.Value(id)
	return call
}

// Clear drops every binding in the table.
func (m *CallIDMapper) Clear() {
	m.calls.Clear()
}

// Len returns the number of bound calls.
func (m *CallIDMapper) Len() int {
	return m.calls.Len()
}

// IsValidCallID reports whether `id` has the shape of an id minted by this
// mapper. Side-effect free; safe to call from any goroutine.
func (m *CallIDMapper) IsValidCallID(id string) bool {
	return id != "" && strings.HasPrefix(id, m.prefix)
}

// IsValidConferenceID reports whether `id` is acceptable as a conference
// id. Conference ids are minted outside the mapper (see NewConferenceID)
// and carry no mapper prefix, so any non-empty string is accepted. Safe to
// call from any goroutine.
func (m *CallIDMapper) IsValidConferenceID(id string) bool {
	return id != ""
}

// NewID mints the next id. Ids increase monotonically within a mapper and
// are unique for its lifetime.
func (m *CallIDMapper) NewID() string {
	m.idCount++
	return m.prefix + strconv.FormatUint(m.idCount, 10)
}
