// Package session implements the process-wide session and find-list
// tables: handle allocation, per-session attribute storage, and the
// Resource Manager session that owns no transport.
//
// The table is protected by a single mutex; all I/O against a session's
// transport happens after the table lock has been released, so a slow
// device never blocks an unrelated Open or Close elsewhere in the
// process.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sydrvxd/OpenVISA/discovery"
	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/transport"
	"github.com/sydrvxd/OpenVISA/transport/factory"
	"github.com/sydrvxd/OpenVISA/visa"
)

const (
	// MaxSessions is the session table capacity.
	MaxSessions = 256
	// MaxFindLists is the find-list table capacity.
	MaxFindLists = 128

	defaultTimeout  = 2000 * time.Millisecond
	defaultTermChar = 0x0A
)

// Attributes holds the per-session settings exposed through the VISA
// attribute get/set calls. Defaults match §4 of the resource manager's
// session contract: 2000 ms timeout, line-feed termination character,
// termination-character enable off, send-END enable on.
type Attributes struct {
	TimeoutMillis   int
	TermChar        byte
	TermCharEnabled bool
	SendEndEnabled  bool
}

func defaultAttributes() Attributes {
	return Attributes{
		TimeoutMillis:   int(defaultTimeout / time.Millisecond),
		TermChar:        defaultTermChar,
		TermCharEnabled: false,
		SendEndEnabled:  true,
	}
}

// Timeout returns a as a time.Duration for passing to transport calls.
func (a Attributes) Timeout() time.Duration {
	return time.Duration(a.TimeoutMillis) * time.Millisecond
}

// entry is one slot of the session table. It is never exposed directly;
// callers interact with sessions exclusively through Handle values.
type entry struct {
	active    bool
	handle    int
	isRM      bool
	desc      *resource.Descriptor
	transport transport.Transport
	attrs     Attributes
}

// FindList is one slot of the find-list table: the result of a
// find_resources call plus an enumeration cursor consumed by successive
// find_next calls.
type FindList struct {
	active  bool
	handle  int
	results []string
	cursor  int
}

// Manager owns the session table, the find-list table, and the
// monotonic handle counter. It is a lazily-initialized process-wide
// singleton reached through Default().
type Manager struct {
	mu       sync.Mutex
	sessions [MaxSessions]entry
	finds    [MaxFindLists]FindList
	next     int // monotonic counter; never rewinds, even across frees
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide Manager, constructing an empty one
// on first call. The Resource Manager session is allocated separately,
// by OpenDefaultResourceManager.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultMgr = New()
	})
	return defaultMgr
}

// New constructs an empty Manager. Most callers should use Default;
// New exists so tests can exercise the table without sharing global
// state.
func New() *Manager {
	return &Manager{next: 1}
}

func notFound(op string) error {
	return visa.NewError(op, visa.StatusInvalidObject, nil)
}

// OpenDefaultResourceManager allocates the distinguished Resource
// Manager session: it owns no transport and exists only as a valid
// parent handle for viOpen.
func (m *Manager) OpenDefaultResourceManager() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, handle := m.allocLocked()
	if slot < 0 {
		return 0, visa.NewError("session.OpenDefaultResourceManager", visa.StatusAllocationFailure, nil)
	}
	m.sessions[slot] = entry{
		active: true,
		handle: handle,
		isRM:   true,
		attrs:  defaultAttributes(),
	}
	return handle, nil
}

// allocLocked finds a free slot and assigns it the next handle value.
// Must be called with m.mu held.
func (m *Manager) allocLocked() (slot, handle int) {
	for i := range m.sessions {
		if !m.sessions[i].active {
			h := m.next
			m.next++
			return i, h
		}
	}
	return -1, 0
}

// Open selects and opens a transport for the parsed descriptor desc,
// and registers a new session. The returned handle is valid until Close.
// openTimeout bounds only the transport handshake; subsequent I/O uses
// the session's Timeout attribute.
func (m *Manager) Open(ctx context.Context, desc *resource.Descriptor, openTimeout time.Duration) (int, error) {
	tr, err := factory.New(desc)
	if err != nil {
		return 0, visa.NewError("session.Open", visa.StatusInvalidResourceName, err)
	}
	if err := tr.Open(ctx, desc, openTimeout); err != nil {
		return 0, err
	}

	m.mu.Lock()
	slot, handle := m.allocLocked()
	if slot < 0 {
		m.mu.Unlock()
		tr.Close()
		return 0, visa.NewError("session.Open", visa.StatusAllocationFailure, nil)
	}
	m.sessions[slot] = entry{
		active:    true,
		handle:    handle,
		desc:      desc,
		transport: tr,
		attrs:     defaultAttributes(),
	}
	m.mu.Unlock()
	return handle, nil
}

// lookupLocked returns the slot index for handle, or -1 if it is not a
// live session. Must be called with m.mu held.
func (m *Manager) lookupLocked(handle int) int {
	for i := range m.sessions {
		if m.sessions[i].active && m.sessions[i].handle == handle {
			return i
		}
	}
	return -1
}

// Close tears down the session's transport (if any) and frees its
// slot for reuse. Closing an already-closed or unknown handle returns
// invalid_object.
func (m *Manager) Close(handle int) error {
	m.mu.Lock()
	slot := m.lookupLocked(handle)
	if slot < 0 {
		m.mu.Unlock()
		return notFound("session.Close")
	}
	tr := m.sessions[slot].transport
	m.sessions[slot] = entry{}
	m.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

// transportFor returns the live transport for handle, or an
// invalid_object error if handle is unknown, already closed, or names
// the Resource Manager (which owns no transport).
func (m *Manager) transportFor(op string, handle int) (transport.Transport, Attributes, error) {
	m.mu.Lock()
	slot := m.lookupLocked(handle)
	if slot < 0 {
		m.mu.Unlock()
		return nil, Attributes{}, notFound(op)
	}
	e := m.sessions[slot]
	m.mu.Unlock()

	if e.isRM || e.transport == nil {
		return nil, Attributes{}, visa.NewError(op, visa.StatusInvalidObject, nil)
	}
	return e.transport, e.attrs, nil
}

// Write delivers buf to the session's transport using its configured
// timeout. The table lock is not held during the call.
func (m *Manager) Write(handle int, buf []byte) (int, error) {
	tr, _, err := m.transportFor("session.Write", handle)
	if err != nil {
		return 0, err
	}
	return tr.Write(buf)
}

// Read fills buf from the session's transport, honoring the session's
// Timeout attribute.
func (m *Manager) Read(handle int, buf []byte) (int, visa.TermStatus, error) {
	tr, attrs, err := m.transportFor("session.Read", handle)
	if err != nil {
		return 0, visa.TermNone, err
	}
	return tr.Read(buf, attrs.Timeout())
}

// ReadStatus runs the transport's serial-poll equivalent.
func (m *Manager) ReadStatus(handle int) (uint8, error) {
	tr, _, err := m.transportFor("session.ReadStatus", handle)
	if err != nil {
		return 0, err
	}
	return tr.ReadStatus()
}

// Clear issues a device-clear on the session's transport.
func (m *Manager) Clear(handle int) error {
	tr, _, err := m.transportFor("session.Clear", handle)
	if err != nil {
		return err
	}
	return tr.Clear()
}

// Attributes returns a copy of handle's current attribute set.
func (m *Manager) Attributes(handle int) (Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.lookupLocked(handle)
	if slot < 0 {
		return Attributes{}, notFound("session.Attributes")
	}
	return m.sessions[slot].attrs, nil
}

// SetAttributes replaces handle's attribute set wholesale. Callers
// that only want to change one field should read-modify-write through
// Attributes/SetAttributes.
func (m *Manager) SetAttributes(handle int, attrs Attributes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.lookupLocked(handle)
	if slot < 0 {
		return notFound("session.SetAttributes")
	}
	m.sessions[slot].attrs = attrs
	return nil
}

// FindResources runs the discovery engine for pattern and registers the
// matches as a new find list, returning its handle and the first
// match, mirroring viFindRsrc.
func (m *Manager) FindResources(ctx context.Context, pattern string) (handle int, first string, err error) {
	results, err := discovery.Find(ctx, pattern)
	if err != nil {
		return 0, "", err
	}
	return m.NewFindList(results)
}

// NewFindList registers results under a fresh find-list handle and
// returns it along with the first match (mirroring find_resources,
// which both creates the list and reports the first entry). An empty
// results slice is rejected with resource_not_found, matching §4.8's
// empty-match contract.
func (m *Manager) NewFindList(results []string) (handle int, first string, err error) {
	if len(results) == 0 {
		return 0, "", visa.NewError("session.NewFindList", visa.StatusResourceNotFound, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.finds {
		if !m.finds[i].active {
			h := m.next
			m.next++
			m.finds[i] = FindList{active: true, handle: h, results: results, cursor: 1}
			return h, results[0], nil
		}
	}
	return 0, "", visa.NewError("session.NewFindList", visa.StatusAllocationFailure, nil)
}

// FindNext advances handle's cursor and returns the next resource
// string, or invalid_object once the list is exhausted.
func (m *Manager) FindNext(handle int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.finds {
		f := &m.finds[i]
		if f.active && f.handle == handle {
			if f.cursor >= len(f.results) {
				return "", visa.NewError("session.FindNext", visa.StatusInvalidObject, nil)
			}
			r := f.results[f.cursor]
			f.cursor++
			return r, nil
		}
	}
	return "", notFound("session.FindNext")
}

// CloseFindList releases handle's find-list slot.
func (m *Manager) CloseFindList(handle int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.finds {
		if m.finds[i].active && m.finds[i].handle == handle {
			m.finds[i] = FindList{}
			return nil
		}
	}
	return notFound("session.CloseFindList")
}
