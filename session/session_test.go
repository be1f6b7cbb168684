package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sydrvxd/OpenVISA/resource"
	"github.com/sydrvxd/OpenVISA/visa"
)

func TestResourceManagerOwnsNoTransport(t *testing.T) {
	m := New()
	rm, err := m.OpenDefaultResourceManager()
	require.NoError(t, err)
	assert.NotZero(t, rm)

	_, _, err = m.transportFor("test", rm)
	assert.Equal(t, visa.StatusInvalidObject, visa.StatusOf(err))
}

func TestHandlesAreUniqueAndNotReused(t *testing.T) {
	m := New()
	rm, err := m.OpenDefaultResourceManager()
	require.NoError(t, err)

	desc, err := resource.Parse("TCPIP::127.0.0.1::1::SOCKET")
	require.NoError(t, err)

	// Open will fail to dial before any slot is allocated, and the
	// counter must not rewind: the next handle is fresh and larger.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Open(ctx, desc, 50*time.Millisecond)
	assert.Error(t, err)

	rm2, err := m.OpenDefaultResourceManager()
	require.NoError(t, err)
	assert.NotEqual(t, rm, rm2)
	assert.Greater(t, rm2, rm)
}

func TestCloseUnknownHandleIsInvalidObject(t *testing.T) {
	m := New()
	err := m.Close(9999)
	assert.Equal(t, visa.StatusInvalidObject, visa.StatusOf(err))
}

func TestCloseIsIdempotentlyRejectedAfterFirstClose(t *testing.T) {
	m := New()
	rm, err := m.OpenDefaultResourceManager()
	require.NoError(t, err)

	require.NoError(t, m.Close(rm))
	err = m.Close(rm)
	assert.Equal(t, visa.StatusInvalidObject, visa.StatusOf(err))
}

func TestDefaultAttributes(t *testing.T) {
	m := New()
	rm, err := m.OpenDefaultResourceManager()
	require.NoError(t, err)

	attrs, err := m.Attributes(rm)
	require.NoError(t, err)
	assert.Equal(t, 2000, attrs.TimeoutMillis)
	assert.Equal(t, byte(0x0A), attrs.TermChar)
	assert.False(t, attrs.TermCharEnabled)
}

func TestSetAttributesRoundTrips(t *testing.T) {
	m := New()
	rm, err := m.OpenDefaultResourceManager()
	require.NoError(t, err)

	want := Attributes{TimeoutMillis: 500, TermChar: '\r', TermCharEnabled: true, SendEndEnabled: false}
	require.NoError(t, m.SetAttributes(rm, want))

	got, err := m.Attributes(rm)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindListLifecycle(t *testing.T) {
	m := New()
	handle, first, err := m.NewFindList([]string{"TCPIP0::10.0.0.1::inst0::INSTR", "ASRL1::INSTR"})
	require.NoError(t, err)
	assert.Equal(t, "TCPIP0::10.0.0.1::inst0::INSTR", first)

	next, err := m.FindNext(handle)
	require.NoError(t, err)
	assert.Equal(t, "ASRL1::INSTR", next)

	_, err = m.FindNext(handle)
	assert.Equal(t, visa.StatusInvalidObject, visa.StatusOf(err))

	require.NoError(t, m.CloseFindList(handle))
	assert.Equal(t, visa.StatusInvalidObject, visa.StatusOf(m.CloseFindList(handle)))
}

func TestNewFindListRejectsEmptyResults(t *testing.T) {
	m := New()
	_, _, err := m.NewFindList(nil)
	assert.Equal(t, visa.StatusResourceNotFound, visa.StatusOf(err))
}

func TestSessionTableCapacityExhaustion(t *testing.T) {
	m := New()
	for i := 0; i < MaxSessions; i++ {
		_, err := m.OpenDefaultResourceManager()
		require.NoError(t, err)
	}
	_, err := m.OpenDefaultResourceManager()
	assert.Equal(t, visa.StatusAllocationFailure, visa.StatusOf(err))
}
