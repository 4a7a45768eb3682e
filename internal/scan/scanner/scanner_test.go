package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/eduard256/tillscan/internal/camera/camtest"
	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	backCam  = models.CameraDevice{ID: "cam-back", Label: "Back Camera"}
	frontCam = models.CameraDevice{ID: "cam-front", Label: "Front Camera"}
	apples   = models.ResolvedProduct{ID: "17", Name: "Organic Apples", Price: 2.5, Barcode: "222222222", Source: models.SourceCatalog}
)

type fakeResolver struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	product models.ResolvedProduct
	err     error
}

func (r *fakeResolver) Resolve(ctx context.Context, barcode string) (models.ResolvedProduct, error) {
	r.mu.Lock()
	r.calls++
	block := r.block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.ResolvedProduct{}, ctx.Err()
		}
	}
	return r.product, r.err
}

func (r *fakeResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recordingSink struct {
	mu   sync.Mutex
	seen []models.ResolvedProduct
}

func (s *recordingSink) OnResolved(p models.ResolvedProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, p)
}

func (s *recordingSink) Seen() []models.ResolvedProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ResolvedProduct(nil), s.seen...)
}

type cancelCounter struct {
	mu sync.Mutex
	n  int
}

func (c *cancelCounter) CancelAll() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *cancelCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type harness struct {
	t        *testing.T
	backend  *camtest.Backend
	decoder  *camtest.Decoder
	resolver *fakeResolver
	sink     *recordingSink
	choices  *cancelCounter
	scanner  *Scanner
	stop     func()
}

func newHarness(t *testing.T, res *fakeResolver, devices ...models.CameraDevice) *harness {
	t.Helper()
	return newHarnessWithCooldown(t, res, 30*time.Millisecond, devices...)
}

func newHarnessWithCooldown(t *testing.T, res *fakeResolver, cooldown time.Duration, devices ...models.CameraDevice) *harness {
	t.Helper()
	if len(devices) == 0 {
		devices = []models.CameraDevice{frontCam, backCam}
	}
	h := &harness{
		t:        t,
		backend:  camtest.NewBackend(devices...),
		decoder:  camtest.NewDecoder(),
		resolver: res,
		sink:     &recordingSink{},
		choices:  &cancelCounter{},
	}
	acq := device.NewAcquirer(h.backend, []string{"back"}, logger.Discard())
	h.scanner = New(Config{
		SuccessCooldown: cooldown,
		FailureCooldown: cooldown,
		ResolveTimeout:  5 * time.Second,
	}, acq, h.decoder, res, h.sink, h.choices, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.scanner.Run(ctx) }()

	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-errc)
		})
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) waitPhase(want models.Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.scanner.Snapshot().State.Phase == want
	}, 2*time.Second, 2*time.Millisecond, "phase never became %s (now %s)", want, h.scanner.Snapshot().State.Phase)
}

func (h *harness) open() {
	h.t.Helper()
	require.NoError(h.t, h.scanner.Open(context.Background()))
	h.waitPhase(models.PhaseScanning)
}

func TestOpenPrefersBackCamera(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.open()

	snap := h.scanner.Snapshot()
	require.NotNil(t, snap.Device)
	assert.Equal(t, backCam.ID, snap.Device.ID)
	assert.Equal(t, 1, h.backend.LiveFor(backCam.ID))
	assert.True(t, h.decoder.Active())

	// opening a live session does nothing
	require.NoError(t, h.scanner.Open(context.Background()))
	assert.Equal(t, 1, h.backend.Opens())

	list, err := h.scanner.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, list.Devices, 2)
	assert.Equal(t, backCam.ID, list.Preferred)
	assert.Equal(t, backCam.ID, list.Current)
}

func TestConcurrentDetectionsResolveOnce(t *testing.T) {
	res := &fakeResolver{product: apples, block: make(chan struct{})}
	h := newHarness(t, res)
	h.open()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.decoder.Emit("222222222")
		}()
	}
	wg.Wait()
	h.waitPhase(models.PhaseResolving)

	close(res.block)
	h.waitPhase(models.PhaseScanning)

	assert.Equal(t, 1, res.Calls())
	seen := h.sink.Seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "Organic Apples", seen[0].Name)
}

func TestSuccessShowsProductThenCoolsDown(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.open()

	require.True(t, h.decoder.Emit("222222222"))
	require.Eventually(t, func() bool { return len(h.sink.Seen()) == 1 }, 2*time.Second, time.Millisecond)

	h.waitPhase(models.PhaseScanning)
	snap := h.scanner.Snapshot()
	assert.Nil(t, snap.Product)
	assert.Empty(t, snap.Barcode)
}

func TestFailureSetsKindThenResumes(t *testing.T) {
	res := &fakeResolver{err: models.ErrProductNotFound, block: make(chan struct{})}
	h := newHarness(t, res)
	h.open()

	require.True(t, h.decoder.Emit("999"))
	h.waitPhase(models.PhaseResolving)
	close(res.block)

	h.waitPhase(models.PhaseError)
	snap := h.scanner.Snapshot()
	assert.Equal(t, models.KindProductNotFound, snap.State.Kind)
	assert.NotEmpty(t, snap.Message)

	h.waitPhase(models.PhaseScanning)
	assert.Equal(t, models.KindNone, h.scanner.Snapshot().State.Kind)
	assert.Empty(t, h.sink.Seen())
}

func TestCloseReleasesCamera(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.open()
	require.Len(t, h.backend.LiveStreams(), 1)

	require.NoError(t, h.scanner.Close(context.Background()))
	assert.Equal(t, models.PhaseIdle, h.scanner.Snapshot().State.Phase)
	assert.Empty(t, h.backend.LiveStreams())
	assert.False(t, h.decoder.Active())
	assert.False(t, h.decoder.Emit("222222222"))
	assert.GreaterOrEqual(t, h.choices.Count(), 1)
}

func TestCloseFromResultReleasesCamera(t *testing.T) {
	tests := []struct {
		name  string
		res   *fakeResolver
		phase models.Phase
	}{
		{"success", &fakeResolver{product: apples}, models.PhaseSuccess},
		{"error", &fakeResolver{err: models.ErrCatalogUnavailable}, models.PhaseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessWithCooldown(t, tt.res, time.Hour)
			h.open()

			require.True(t, h.decoder.Emit("222222222"))
			h.waitPhase(tt.phase)
			require.Len(t, h.backend.LiveStreams(), 1)

			require.NoError(t, h.scanner.Close(context.Background()))
			assert.Equal(t, models.PhaseIdle, h.scanner.Snapshot().State.Phase)
			assert.Empty(t, h.backend.LiveStreams())
			assert.False(t, h.decoder.Active())
		})
	}
}

func TestRescanAfterSuccessCooldown(t *testing.T) {
	res := &fakeResolver{product: apples}
	h := newHarness(t, res)
	h.open()

	require.True(t, h.decoder.Emit("222222222"))
	require.Eventually(t, func() bool { return len(h.sink.Seen()) == 1 }, 2*time.Second, time.Millisecond)
	h.waitPhase(models.PhaseScanning)

	// the gate keeps the code blocked until its own cool-down ends
	require.Eventually(t, func() bool {
		h.decoder.Emit("222222222")
		return res.Calls() == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.sink.Seen()) == 2 }, 2*time.Second, time.Millisecond)
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.backend.DenyAccess(errors.New("user dismissed prompt"))

	require.NoError(t, h.scanner.Open(context.Background()))
	h.waitPhase(models.PhasePermissionDenied)
	assert.Equal(t, models.KindPermissionDenied, h.scanner.Snapshot().State.Kind)
	assert.Empty(t, h.backend.LiveStreams())

	// open after a failure retries
	h.backend.DenyAccess(nil)
	h.open()
	assert.Len(t, h.backend.LiveStreams(), 1)
}

func TestOpenFailureIsDeviceInUse(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.backend.FailOpen(backCam.ID, errors.New("busy"))

	require.NoError(t, h.scanner.Open(context.Background()))
	h.waitPhase(models.PhasePermissionDenied)
	assert.Equal(t, models.KindDeviceInUse, h.scanner.Snapshot().State.Kind)
	assert.Empty(t, h.backend.LiveStreams())
}

func TestNoCameras(t *testing.T) {
	h := newHarnessWithBackend(t, camtest.NewBackend())

	require.NoError(t, h.scanner.Open(context.Background()))
	h.waitPhase(models.PhasePermissionDenied)
	assert.Equal(t, models.KindNoDeviceFound, h.scanner.Snapshot().State.Kind)
}

func newHarnessWithBackend(t *testing.T, backend *camtest.Backend) *harness {
	t.Helper()
	res := &fakeResolver{}
	h := &harness{
		t:        t,
		backend:  backend,
		decoder:  camtest.NewDecoder(),
		resolver: res,
		sink:     &recordingSink{},
		choices:  &cancelCounter{},
	}
	acq := device.NewAcquirer(backend, nil, logger.Discard())
	h.scanner = New(Config{}, acq, h.decoder, res, h.sink, nil, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.scanner.Run(ctx) }()
	h.stop = func() {
		cancel()
		<-errc
	}
	t.Cleanup(h.stop)
	return h
}

func TestSwitchMovesToNextCamera(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.open()
	before := h.scanner.Snapshot().Token

	require.NoError(t, h.scanner.Switch(context.Background()))
	h.waitPhase(models.PhaseScanning)

	snap := h.scanner.Snapshot()
	require.NotNil(t, snap.Device)
	assert.Equal(t, frontCam.ID, snap.Device.ID)
	assert.Greater(t, snap.Token, before)
	assert.Equal(t, 0, h.backend.LiveFor(backCam.ID))
	assert.Len(t, h.backend.LiveStreams(), 1)
	assert.Equal(t, 2, h.decoder.Attaches())
}

func TestSwitchWithSingleCameraIsNoop(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples}, backCam)
	h.open()
	token := h.scanner.Snapshot().Token

	require.NoError(t, h.scanner.Switch(context.Background()))
	assert.Equal(t, models.PhaseScanning, h.scanner.Snapshot().State.Phase)
	assert.Equal(t, token, h.scanner.Snapshot().Token)
	assert.Equal(t, 1, h.backend.Opens())
}

func TestSwitchDiscardsInFlightResolution(t *testing.T) {
	res := &fakeResolver{product: apples, block: make(chan struct{})}
	h := newHarness(t, res)
	h.open()

	require.True(t, h.decoder.Emit("222222222"))
	h.waitPhase(models.PhaseResolving)

	require.NoError(t, h.scanner.Switch(context.Background()))
	h.waitPhase(models.PhaseScanning)

	close(res.block)
	// the stale result is dropped: the phase and sale are untouched
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.PhaseScanning, h.scanner.Snapshot().State.Phase)
	assert.Empty(t, h.sink.Seen())
	assert.Nil(t, h.scanner.Snapshot().Product)
}

func TestCloseDuringAcquireStopsLateStream(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.backend.SetOpenDelay(50 * time.Millisecond)

	require.NoError(t, h.scanner.Open(context.Background()))
	require.NoError(t, h.scanner.Close(context.Background()))

	require.Eventually(t, func() bool { return h.backend.Opens() == 1 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.backend.LiveStreams())
	assert.Equal(t, models.PhaseIdle, h.scanner.Snapshot().State.Phase)
}

func TestSubmit(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})

	_, err := h.scanner.Submit(context.Background(), "222222222")
	assert.ErrorIs(t, err, ErrNotScanning)

	h.open()
	accepted, err := h.scanner.Submit(context.Background(), " 222222222\n")
	require.NoError(t, err)
	assert.True(t, accepted)

	require.Eventually(t, func() bool { return len(h.sink.Seen()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, "222222222", h.sink.Seen()[0].Barcode)
}

func TestRetryReopens(t *testing.T) {
	h := newHarness(t, &fakeResolver{product: apples})
	h.open()

	require.NoError(t, h.scanner.Retry(context.Background()))
	h.waitPhase(models.PhaseScanning)
	assert.Equal(t, 2, h.backend.Opens())
	assert.Len(t, h.backend.LiveStreams(), 1)
}

func TestStopReleasesEverything(t *testing.T) {
	res := &fakeResolver{product: apples, block: make(chan struct{})}
	h := newHarness(t, res)
	h.open()
	require.True(t, h.decoder.Emit("222222222"))
	h.waitPhase(models.PhaseResolving)

	h.stop()
	assert.Empty(t, h.backend.LiveStreams())
	assert.Equal(t, models.PhaseIdle, h.scanner.Snapshot().State.Phase)

	assert.ErrorIs(t, h.scanner.Open(context.Background()), ErrNotRunning)
}

func TestOnChangeSeesEveryPhase(t *testing.T) {
	backend := camtest.NewBackend(backCam)
	dec := camtest.NewDecoder()
	res := &fakeResolver{product: apples}
	s := New(Config{SuccessCooldown: 10 * time.Millisecond}, device.NewAcquirer(backend, nil, logger.Discard()),
		dec, res, &recordingSink{}, nil, logger.Discard())

	var mu sync.Mutex
	var phases []models.Phase
	s.OnChange(func(snap models.ScannerSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != snap.State.Phase {
			phases = append(phases, snap.State.Phase)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	require.NoError(t, s.Open(context.Background()))
	require.Eventually(t, func() bool { return s.Snapshot().State.Phase == models.PhaseScanning }, time.Second, time.Millisecond)
	require.True(t, dec.Emit("222222222"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(phases) >= 5
	}, 2*time.Second, time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.Phase{
		models.PhaseAcquiring,
		models.PhaseScanning,
		models.PhaseResolving,
		models.PhaseSuccess,
		models.PhaseScanning,
		models.PhaseIdle,
	}, phases[:6])
}
