package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/eduard256/tillscan/internal/camera/decoder"
	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/metrics"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/scan/gate"
	"github.com/eduard256/tillscan/internal/utils/logger"
)

var (
	// ErrNotRunning is returned by commands once Run has returned
	ErrNotRunning = errors.New("scanner is not running")
	// ErrNotScanning rejects a hand-off while no camera session is scanning
	ErrNotScanning = errors.New("scanner is not scanning")
)

// Acquirer provides camera streams
type Acquirer interface {
	RequestPermissionAndListDevices(ctx context.Context) ([]models.CameraDevice, error)
	Preferred(devices []models.CameraDevice) (models.CameraDevice, bool)
	Generation() uint64
	Acquire(ctx context.Context, dev models.CameraDevice, gen uint64) (device.Stream, error)
	Release()
}

// Decoder turns a stream into detections
type Decoder interface {
	Attach(stream device.Stream, onDetect func(models.DecodeEvent)) decoder.Handle
}

// Resolver maps a barcode to a product
type Resolver interface {
	Resolve(ctx context.Context, barcode string) (models.ResolvedProduct, error)
}

// Sink receives every resolved product
type Sink interface {
	OnResolved(p models.ResolvedProduct)
}

// ChoiceCanceller dismisses open product selections when a session ends
type ChoiceCanceller interface {
	CancelAll()
}

// Config holds lifecycle timings
type Config struct {
	SuccessCooldown time.Duration
	FailureCooldown time.Duration
	// ResolveTimeout bounds a whole resolution, operator selection included.
	ResolveTimeout time.Duration
}

// Scanner coordinates camera, decoder, gate and resolver into one visible
// state. All session state is owned by the Run goroutine; other goroutines
// talk to it through messages.
type Scanner struct {
	cfg      Config
	acquirer Acquirer
	decoder  Decoder
	resolver Resolver
	sink     Sink
	choices  ChoiceCanceller
	logger   logger.Logger
	onChange func(models.ScannerSnapshot)

	msgs    chan any
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[models.ScannerSnapshot]

	// owned by Run
	ctx      context.Context
	machine  *fsm.FSM
	token    uint64
	kind     models.ErrorKind
	devices  []models.CameraDevice
	device   *models.CameraDevice
	stream   device.Stream
	decode   decoder.Handle
	stopped  []decoder.Handle
	gate     *gate.Gate
	barcode  string
	product  *models.ResolvedProduct
	message  string
	cooldown *time.Timer
	seq      uint64
	workers  sync.WaitGroup
}

// New creates a scanner. choices may be nil.
func New(cfg Config, acq Acquirer, dec Decoder, res Resolver, sink Sink, choices ChoiceCanceller, log logger.Logger) *Scanner {
	if cfg.SuccessCooldown <= 0 {
		cfg.SuccessCooldown = 1500 * time.Millisecond
	}
	if cfg.FailureCooldown <= 0 {
		cfg.FailureCooldown = 2500 * time.Millisecond
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 90 * time.Second
	}

	s := &Scanner{
		cfg:      cfg,
		acquirer: acq,
		decoder:  dec,
		resolver: res,
		sink:     sink,
		choices:  choices,
		logger:   log,
		msgs:     make(chan any),
		done:     make(chan struct{}),
	}
	s.machine = newMachine()
	s.snap.Store(&models.ScannerSnapshot{
		State:     models.ScannerState{Phase: models.PhaseIdle},
		UpdatedAt: time.Now(),
	})
	return s
}

// OnChange registers fn to receive every new snapshot. fn runs on the
// scanner goroutine and must not block. Must be set before Run.
func (s *Scanner) OnChange(fn func(models.ScannerSnapshot)) {
	s.onChange = fn
}

// Snapshot returns the latest published state
func (s *Scanner) Snapshot() models.ScannerSnapshot {
	return *s.snap.Load()
}

// Run owns the session until ctx ends. On return the camera is released and
// every goroutine the scanner started has exited.
func (s *Scanner) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scanner already running")
	}
	s.ctx = ctx

	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-s.msgs:
			s.handle(m)
		}
	}
}

func (s *Scanner) shutdown() {
	s.endSession()
	s.fire(evClose)
	s.publish()

	close(s.done)
	s.workers.Wait()
	for _, h := range s.stopped {
		<-h.Done()
	}
	s.logger.Debug("scanner stopped")
}

// Open starts a camera session. Opening a live session is a no-op; opening
// after a permission failure retries.
func (s *Scanner) Open(ctx context.Context) error {
	return s.call(ctx, openCmd{})
}

// Close ends the session and releases the camera
func (s *Scanner) Close(ctx context.Context) error {
	return s.call(ctx, closeCmd{})
}

// Switch moves to the next camera. A no-op with fewer than two cameras.
func (s *Scanner) Switch(ctx context.Context) error {
	return s.call(ctx, switchCmd{})
}

// Retry closes and reopens the session
func (s *Scanner) Retry(ctx context.Context) error {
	return s.call(ctx, retryCmd{})
}

// Submit injects a barcode from an external scanner as if the decoder had
// seen it. It reports whether the gate accepted it.
func (s *Scanner) Submit(ctx context.Context, barcode string) (bool, error) {
	reply := make(chan submitReply, 1)
	if err := s.send(ctx, submitCmd{barcode: barcode, reply: reply}); err != nil {
		return false, err
	}
	select {
	case r := <-reply:
		return r.accepted, r.err
	case <-s.done:
		return false, ErrNotRunning
	}
}

// Devices returns the cameras enumerated by the current session
func (s *Scanner) Devices(ctx context.Context) (models.DeviceListResponse, error) {
	reply := make(chan models.DeviceListResponse, 1)
	if err := s.send(ctx, devicesQuery{reply: reply}); err != nil {
		return models.DeviceListResponse{}, err
	}
	select {
	case r := <-reply:
		return r, nil
	case <-s.done:
		return models.DeviceListResponse{}, ErrNotRunning
	}
}

func (s *Scanner) call(ctx context.Context, c command) error {
	reply := make(chan error, 1)
	c = c.withReply(reply)
	if err := s.send(ctx, c); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrNotRunning
	}
}

func (s *Scanner) send(ctx context.Context, m any) error {
	select {
	case s.msgs <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrNotRunning
	}
}

// post delivers an internal message and reports false once the scanner stopped
func (s *Scanner) post(m any) bool {
	select {
	case s.msgs <- m:
		return true
	case <-s.done:
		return false
	}
}

func (s *Scanner) handle(m any) {
	switch m := m.(type) {
	case openCmd:
		m.reply <- s.open()
	case closeCmd:
		s.close("closed by operator")
		m.reply <- nil
	case switchCmd:
		m.reply <- s.switchDevice()
	case retryCmd:
		s.close("retry")
		m.reply <- s.open()
	case submitCmd:
		accepted, err := s.submit(m.barcode)
		m.reply <- submitReply{accepted: accepted, err: err}
	case devicesQuery:
		m.reply <- s.deviceList()
	case detectMsg:
		if m.token == s.token {
			s.detect(m.event.Text)
		}
	case acquiredMsg:
		s.acquired(m)
	case resolvedMsg:
		s.resolved(m)
	case cooldownMsg:
		s.cooldownElapsed(m)
	default:
		s.logger.Warn("unknown scanner message", "type", fmt.Sprintf("%T", m))
	}
}

func (s *Scanner) phase() models.Phase {
	return models.Phase(s.machine.Current())
}

func (s *Scanner) open() error {
	switch s.phase() {
	case models.PhaseIdle:
	case models.PhasePermissionDenied:
		s.close("reopen after failure")
	default:
		return nil
	}

	s.token++
	s.gate = gate.New(s.cfg.SuccessCooldown, s.cfg.FailureCooldown)
	s.kind = models.KindNone
	s.message = ""
	s.fire(evOpen)
	s.publish()

	s.startAcquire(nil)
	return nil
}

// startAcquire requests a stream for want, or for the preferred device when
// want is nil, on a worker goroutine.
func (s *Scanner) startAcquire(want *models.CameraDevice) {
	token := s.token
	gen := s.acquirer.Generation()
	known := s.devices

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()

		devices := known
		var dev models.CameraDevice
		if want != nil {
			dev = *want
		} else {
			var err error
			devices, err = s.acquirer.RequestPermissionAndListDevices(s.ctx)
			if err != nil {
				s.post(acquiredMsg{token: token, err: err})
				return
			}
			dev, _ = s.acquirer.Preferred(devices)
		}

		stream, err := s.acquirer.Acquire(s.ctx, dev, gen)
		if !s.post(acquiredMsg{token: token, devices: devices, device: dev, stream: stream, err: err}) && stream != nil {
			stream.Stop()
		}
	}()
}

func (s *Scanner) acquired(m acquiredMsg) {
	if m.token != s.token {
		if m.stream != nil {
			m.stream.Stop()
		}
		return
	}
	if s.phase() != models.PhaseAcquiring {
		if m.stream != nil {
			m.stream.Stop()
		}
		return
	}

	if m.err != nil {
		if errors.Is(m.err, device.ErrStale) {
			return
		}
		kind := models.KindOf(m.err)
		if kind.Recoverable() {
			kind = models.KindDeviceInUse
		}
		s.logger.Warn("camera acquisition failed", "kind", kind, "error", m.err)

		s.endSession()
		s.kind = kind
		s.message = m.err.Error()
		s.fire(evDeny)
		s.publish()
		return
	}

	dev := m.device
	s.devices = m.devices
	s.device = &dev
	s.stream = m.stream
	token := s.token
	s.decode = s.decoder.Attach(m.stream, func(ev models.DecodeEvent) {
		s.post(detectMsg{token: token, event: ev})
	})
	metrics.SetCameraLive(true)

	s.fire(evAcquired)
	s.publish()
}

func (s *Scanner) submit(barcode string) (bool, error) {
	if s.phase() != models.PhaseScanning {
		return false, ErrNotScanning
	}
	return s.detect(barcode), nil
}

// detect moves to resolving when the gate accepts code. Detections outside
// scanning are dropped, not queued.
func (s *Scanner) detect(text string) bool {
	if s.phase() != models.PhaseScanning {
		return false
	}
	code := models.SanitizeBarcode(text)
	if code == "" || !s.gate.Accept(code) {
		return false
	}

	s.barcode = code
	s.product = nil
	s.message = ""
	s.fire(evDetect)
	s.publish()
	s.logger.Info("barcode accepted", "barcode", code, "token", s.token)

	token, g := s.token, s.gate
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ResolveTimeout)
		defer cancel()

		p, err := s.resolver.Resolve(ctx, code)
		if !s.post(resolvedMsg{token: token, gate: g, barcode: code, product: p, err: err}) {
			g.Finish(code, err == nil)
		}
	}()
	return true
}

func (s *Scanner) resolved(m resolvedMsg) {
	// the gate entry must never stay in flight, whatever happened to the session
	m.gate.Finish(m.barcode, m.err == nil)

	if m.token != s.token || s.phase() != models.PhaseResolving {
		s.logger.Info("discarding stale resolution", "barcode", m.barcode, "token", m.token, "current", s.token)
		return
	}

	if m.err != nil {
		s.kind = models.KindOf(m.err)
		s.message = m.err.Error()
		s.logger.Warn("barcode resolution failed", "barcode", m.barcode, "kind", s.kind)
		s.fire(evResolveFail)
		s.publish()
		s.scheduleCooldown(s.cfg.FailureCooldown)
		return
	}

	p := m.product
	s.product = &p
	s.fire(evResolveOK)
	s.publish()
	s.logger.Info("barcode resolved", "barcode", m.barcode, "product_id", p.ID, "source", p.Source)

	s.sink.OnResolved(p)
	s.scheduleCooldown(s.cfg.SuccessCooldown)
}

func (s *Scanner) scheduleCooldown(d time.Duration) {
	s.stopCooldown()
	s.seq++
	msg := cooldownMsg{token: s.token, seq: s.seq}
	s.cooldown = time.AfterFunc(d, func() { s.post(msg) })
}

func (s *Scanner) stopCooldown() {
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
}

func (s *Scanner) cooldownElapsed(m cooldownMsg) {
	if m.token != s.token || m.seq != s.seq {
		return
	}
	s.cooldown = nil
	s.kind = models.KindNone
	s.barcode = ""
	s.product = nil
	s.message = ""
	s.fire(evCooldown)
	s.publish()
}

func (s *Scanner) switchDevice() error {
	if !s.phase().CameraLive() || s.phase() == models.PhaseAcquiring || s.device == nil {
		return nil
	}
	if len(s.devices) < 2 {
		return nil
	}
	next := device.NextDevice(*s.device, s.devices)

	// new token: results of the old stream are stale from here on
	s.token++
	s.stopCooldown()
	s.releaseCamera()
	if s.choices != nil {
		s.choices.CancelAll()
	}
	s.kind = models.KindNone
	s.barcode = ""
	s.product = nil
	s.message = ""
	s.fire(evSwitch)
	s.publish()
	s.logger.Info("switching camera", "from", s.device.Label, "to", next.Label)

	s.startAcquire(&next)
	return nil
}

func (s *Scanner) close(reason string) {
	if s.phase() == models.PhaseIdle {
		return
	}
	s.endSession()
	s.kind = models.KindNone
	s.message = ""
	s.fire(evClose)
	s.publish()
	s.logger.Info("scanner closed", "reason", reason)
}

// endSession invalidates in-flight work and releases the camera
func (s *Scanner) endSession() {
	s.token++
	s.stopCooldown()
	s.releaseCamera()
	if s.choices != nil {
		s.choices.CancelAll()
	}
	s.gate = nil
	s.devices = nil
	s.device = nil
	s.barcode = ""
	s.product = nil
}

// releaseCamera is the only place streams and decoder handles are stopped
func (s *Scanner) releaseCamera() {
	if s.decode != nil {
		s.decode.Stop()
		s.stopped = append(s.stopped, s.decode)
		s.decode = nil
	}
	s.acquirer.Release()
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	metrics.SetCameraLive(false)
	s.pruneStopped()
}

// pruneStopped forgets decoder handles whose loops have exited
func (s *Scanner) pruneStopped() {
	live := s.stopped[:0]
	for _, h := range s.stopped {
		select {
		case <-h.Done():
		default:
			live = append(live, h)
		}
	}
	s.stopped = live
}

func (s *Scanner) deviceList() models.DeviceListResponse {
	resp := models.DeviceListResponse{Devices: append([]models.CameraDevice(nil), s.devices...)}
	if pref, ok := s.acquirer.Preferred(s.devices); ok {
		resp.Preferred = pref.ID
	}
	if s.device != nil {
		resp.Current = s.device.ID
	}
	return resp
}

func (s *Scanner) fire(event string) {
	if !s.machine.Can(event) {
		return
	}
	if err := s.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.logger.Error("scanner transition failed", err, "event", event, "state", s.machine.Current())
		}
	}
}

func (s *Scanner) publish() {
	snap := models.ScannerSnapshot{
		State:     models.ScannerState{Phase: s.phase()},
		Token:     s.token,
		Barcode:   s.barcode,
		Product:   s.product,
		Message:   s.message,
		UpdatedAt: time.Now(),
	}
	if snap.State.Phase == models.PhaseError || snap.State.Phase == models.PhasePermissionDenied {
		snap.State.Kind = s.kind
	}
	if s.device != nil {
		d := *s.device
		snap.Device = &d
	}
	s.snap.Store(&snap)
	if s.onChange != nil {
		s.onChange(snap)
	}
}
