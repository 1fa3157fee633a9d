package recorder

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/recbridge/internal/audio"
)

type fakeDevice struct {
	mutex    sync.Mutex
	open     *fakeHandle
	opens    int
	openErr  error
	startErr error
	stopErr  error
	level    float64
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Open(string) (audio.Handle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.openErr != nil {
		return nil, d.openErr
	}
	if d.open != nil {
		return nil, audio.ErrDeviceBusy
	}
	d.opens++
	d.open = &fakeHandle{device: d}
	return d.open, nil
}

func (d *fakeDevice) held() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.open != nil
}

type fakeHandle struct {
	device  *fakeDevice
	running bool
	closes  int
}

func (h *fakeHandle) Start() error {
	if h.device.startErr != nil {
		return h.device.startErr
	}
	h.running = true
	return nil
}

func (h *fakeHandle) Stop() error {
	h.running = false
	return h.device.stopErr
}

func (h *fakeHandle) MaxAmplitude() float64 { return h.device.level }

func (h *fakeHandle) Close() error {
	h.closes++
	h.device.mutex.Lock()
	h.device.open = nil
	h.device.mutex.Unlock()
	return nil
}

func newSession(t *testing.T, device *fakeDevice) *Session {
	t.Helper()
	session, err := New("s1", "/tmp/a.wav", device)
	require.NoError(t, err)
	return session
}

func TestNew_RequiresOutputPath(t *testing.T) {
	device := &fakeDevice{}

	session, err := New("s1", "", device)
	assert.Nil(t, session)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, device.opens, "no resource may be allocated")
}

func TestNew_StartsCreatedWithoutHandle(t *testing.T) {
	session := newSession(t, &fakeDevice{})

	assert.Equal(t, StateCreated, session.State())
	assert.False(t, session.holdsHandle())
	assert.Equal(t, Info{ID: "s1", OutputPath: "/tmp/a.wav", State: "CREATED"}, session.Info())
}

func TestSession_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	device := &fakeDevice{level: 1234}
	session := newSession(t, device)

	require.NoError(t, session.Prepare(ctx))
	assert.Equal(t, StatePrepared, session.State())
	assert.True(t, session.holdsHandle())

	require.NoError(t, session.Start(ctx))
	assert.Equal(t, StateRecording, session.State())
	assert.Equal(t, 1234.0, session.SampleAmplitude())

	require.NoError(t, session.Stop(ctx))
	assert.Equal(t, StatePrepared, session.State())
	assert.True(t, session.holdsHandle())

	session.Release()
	assert.Equal(t, StateReleased, session.State())
	assert.False(t, session.holdsHandle())
	assert.False(t, device.held())
}

func TestSession_StartBeforePrepare(t *testing.T) {
	session := newSession(t, &fakeDevice{})

	err := session.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateCreated, session.State())
	assert.False(t, session.holdsHandle())
}

func TestSession_StopThenStartWithoutPrepare(t *testing.T) {
	ctx := context.Background()
	device := &fakeDevice{}
	session := newSession(t, device)

	require.NoError(t, session.Prepare(ctx))
	require.NoError(t, session.Start(ctx))
	require.NoError(t, session.Stop(ctx))
	require.NoError(t, session.Start(ctx))

	assert.Equal(t, StateRecording, session.State())
	assert.Equal(t, 1, device.opens, "restart must reuse the prepared handle")
}

func TestSession_IllegalTransitions(t *testing.T) {
	ctx := context.Background()
	session := newSession(t, &fakeDevice{})

	assert.ErrorIs(t, session.Stop(ctx), ErrInvalidState)

	require.NoError(t, session.Prepare(ctx))
	assert.ErrorIs(t, session.Prepare(ctx), ErrInvalidState)
	assert.ErrorIs(t, session.Stop(ctx), ErrInvalidState)

	require.NoError(t, session.Start(ctx))
	assert.ErrorIs(t, session.Start(ctx), ErrInvalidState)
	assert.ErrorIs(t, session.Prepare(ctx), ErrInvalidState)
	assert.Equal(t, StateRecording, session.State())
}

func TestSession_ReleasedRejectsTransitions(t *testing.T) {
	ctx := context.Background()
	session := newSession(t, &fakeDevice{})
	session.Release()

	assert.ErrorIs(t, session.Prepare(ctx), ErrInvalidState)
	assert.ErrorIs(t, session.Start(ctx), ErrInvalidState)
	assert.ErrorIs(t, session.Stop(ctx), ErrInvalidState)
	assert.Zero(t, session.SampleAmplitude())
}

func TestSession_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	device := &fakeDevice{}
	session := newSession(t, device)

	require.NoError(t, session.Prepare(ctx))
	require.NoError(t, session.Start(ctx))
	handle := device.open

	session.Release()
	session.Release()

	assert.Equal(t, StateReleased, session.State())
	assert.Equal(t, 1, handle.closes, "handle must be closed exactly once")
}

func TestSession_PrepareResourceUnavailable(t *testing.T) {
	device := &fakeDevice{openErr: errors.New("permission denied")}
	session := newSession(t, device)

	err := session.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, StateCreated, session.State())
	assert.False(t, session.holdsHandle())
}

func TestSession_PrepareDeviceBusy(t *testing.T) {
	ctx := context.Background()
	device := &fakeDevice{}

	first := newSession(t, device)
	require.NoError(t, first.Prepare(ctx))

	second := newSession(t, device)
	err := second.Prepare(ctx)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.ErrorIs(t, err, audio.ErrDeviceBusy)

	first.Release()
	assert.NoError(t, second.Prepare(ctx))
}

func TestSession_StartFailureKeepsPrepared(t *testing.T) {
	ctx := context.Background()
	device := &fakeDevice{startErr: errors.New("pw-record: not found")}
	session := newSession(t, device)

	require.NoError(t, session.Prepare(ctx))
	err := session.Start(ctx)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, StatePrepared, session.State())
	assert.True(t, session.holdsHandle())
}

func TestSession_StopFailureFallsBackToPrepared(t *testing.T) {
	ctx := context.Background()
	device := &fakeDevice{stopErr: errors.New("disk full")}
	session := newSession(t, device)

	require.NoError(t, session.Prepare(ctx))
	require.NoError(t, session.Start(ctx))

	err := session.Stop(ctx)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, StatePrepared, session.State())
	assert.True(t, session.holdsHandle())
}

func TestSession_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := newSession(t, &fakeDevice{})

	assert.ErrorIs(t, session.Prepare(ctx), context.Canceled)
	assert.Equal(t, StateCreated, session.State())
}

func TestSession_AmplitudeOutsideRecording(t *testing.T) {
	ctx := context.Background()
	session := newSession(t, &fakeDevice{level: 500})

	assert.Zero(t, session.SampleAmplitude())
	require.NoError(t, session.Prepare(ctx))
	assert.Zero(t, session.SampleAmplitude())
	require.NoError(t, session.Start(ctx))
	assert.Equal(t, 500.0, session.SampleAmplitude())
	require.NoError(t, session.Stop(ctx))
	assert.Zero(t, session.SampleAmplitude())
}

// Random operation sequences never break the handle invariant.
func TestSession_HandleInvariant(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	operations := []func(*Session){
		func(s *Session) { s.Prepare(ctx) },
		func(s *Session) { s.Start(ctx) },
		func(s *Session) { s.Stop(ctx) },
		func(s *Session) { s.SampleAmplitude() },
		func(s *Session) { s.Release() },
	}

	for run := 0; run < 200; run++ {
		device := &fakeDevice{}
		session := newSession(t, device)

		for step := 0; step < 12; step++ {
			operations[rng.Intn(len(operations))](session)

			state := session.State()
			wantHandle := state == StatePrepared || state == StateRecording
			require.Equal(t, wantHandle, session.holdsHandle(), "run %d step %d state %s", run, step, state)
			require.Equal(t, wantHandle, device.held(), "run %d step %d state %s", run, step, state)
		}
	}
}

func TestSession_RecordsWAVWithSilenceDevice(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "a.wav")
	device := audio.NewSourceDevice("null", audio.SilenceSource{}, goaudio.Format{NumChannels: 1, SampleRate: 8000})

	session, err := New("s1", path, device)
	require.NoError(t, err)

	require.NoError(t, session.Prepare(ctx))
	require.NoError(t, session.Start(ctx))
	assert.GreaterOrEqual(t, session.SampleAmplitude(), 0.0)
	require.NoError(t, session.Stop(ctx))
	session.Release()

	assert.FileExists(t, path)
	assert.False(t, session.holdsHandle())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "RELEASED", StateReleased.String())
	assert.Equal(t, "State(9)", State(9).String())
}
