package devhandler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

type recordingIntrospector struct {
	err     error
	added   []string
	removed []string
}

func (r *recordingIntrospector) AddHandler(h DeviceHandler) error {
	if r.err != nil {
		return r.err
	}
	r.added = append(r.added, h.Name())
	return nil
}

func (r *recordingIntrospector) RemoveHandler(h DeviceHandler) {
	r.removed = append(r.removed, h.Name())
}

func mustHandler(t *testing.T, m Media) *BlockHandler {
	t.Helper()
	h, err := NewBlockHandler(m, DefaultParams(), &Options{Logger: logging.Nop()})
	require.NoError(t, err)
	return h
}

func TestRegistryRegisterLookup(t *testing.T) {
	in := &recordingIntrospector{}
	r := NewRegistry(in)
	h := mustHandler(t, CDROM)

	require.NoError(t, r.Register(h))

	got, ok := r.Lookup(scsi.TypeROM)
	require.True(t, ok)
	assert.Same(t, h, got)

	got, ok = r.LookupName("dev_cdrom")
	require.True(t, ok)
	assert.Same(t, h, got)

	_, ok = r.Lookup(scsi.TypeDisk)
	assert.False(t, ok)
	assert.Equal(t, []string{"dev_cdrom"}, in.added)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(mustHandler(t, CDROM)))

	err := r.Register(mustHandler(t, CDROM))
	assert.ErrorIs(t, err, ErrRegistrationFailed)

	// Same type under another name
	err = r.Register(mustHandler(t, Media{Name: "dev_sr", Type: scsi.TypeROM, DefaultShift: 11}))
	assert.ErrorIs(t, err, ErrRegistrationFailed)

	err = r.Register(nil)
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.Len(t, r.Handlers(), 1)
}

func TestRegistryIntrospectionFailureRollsBack(t *testing.T) {
	hookErr := errors.New("diagnostics directory unavailable")
	r := NewRegistry(&recordingIntrospector{err: hookErr})

	err := r.Register(mustHandler(t, CDROM))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.ErrorIs(t, err, hookErr)

	_, ok := r.Lookup(scsi.TypeROM)
	assert.False(t, ok)
	_, ok = r.LookupName("dev_cdrom")
	assert.False(t, ok)
}

func TestRegistryUnregister(t *testing.T) {
	in := &recordingIntrospector{}
	r := NewRegistry(in)
	h := mustHandler(t, CDROM)
	require.NoError(t, r.Register(h))

	r.Unregister(h)
	_, ok := r.Lookup(scsi.TypeROM)
	assert.False(t, ok)
	assert.Equal(t, []string{"dev_cdrom"}, in.removed)

	// Idempotent, and a stranger with the same name is ignored
	r.Unregister(h)
	r.Unregister(nil)
	require.NoError(t, r.Register(h))
	r.Unregister(mustHandler(t, CDROM))
	_, ok = r.Lookup(scsi.TypeROM)
	assert.True(t, ok)
	assert.Len(t, in.removed, 1)
}

func TestRegistryHandlersSorted(t *testing.T) {
	r := NewRegistry(nil)
	for _, m := range []Media{Tape, CDROM, Disk} {
		require.NoError(t, r.Register(mustHandler(t, m)))
	}

	var names []string
	for _, h := range r.Handlers() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{"dev_cdrom", "dev_disk", "dev_tape"}, names)

	r.Reset()
	assert.Empty(t, r.Handlers())
}
