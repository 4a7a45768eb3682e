package scanner

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/eduard256/tillscan/internal/camera/device"
	"github.com/eduard256/tillscan/internal/metrics"
	"github.com/eduard256/tillscan/internal/models"
	"github.com/eduard256/tillscan/internal/scan/gate"
)

const (
	evOpen        = "open"
	evAcquired    = "acquired"
	evDeny        = "deny"
	evDetect      = "detect"
	evResolveOK   = "resolve_ok"
	evResolveFail = "resolve_fail"
	evCooldown    = "cooldown"
	evSwitch      = "switch"
	evClose       = "close"
)

func phases(p ...models.Phase) []string {
	out := make([]string, len(p))
	for i := range p {
		out[i] = string(p[i])
	}
	return out
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(models.PhaseIdle),
		fsm.Events{
			{Name: evOpen, Src: phases(models.PhaseIdle), Dst: string(models.PhaseAcquiring)},
			{Name: evAcquired, Src: phases(models.PhaseAcquiring), Dst: string(models.PhaseScanning)},
			{Name: evDeny, Src: phases(models.PhaseAcquiring), Dst: string(models.PhasePermissionDenied)},
			{Name: evDetect, Src: phases(models.PhaseScanning), Dst: string(models.PhaseResolving)},
			{Name: evResolveOK, Src: phases(models.PhaseResolving), Dst: string(models.PhaseSuccess)},
			{Name: evResolveFail, Src: phases(models.PhaseResolving), Dst: string(models.PhaseError)},
			{Name: evCooldown, Src: phases(models.PhaseSuccess, models.PhaseError), Dst: string(models.PhaseScanning)},
			{
				Name: evSwitch,
				Src:  phases(models.PhaseScanning, models.PhaseResolving, models.PhaseSuccess, models.PhaseError),
				Dst:  string(models.PhaseAcquiring),
			},
			{
				Name: evClose,
				Src: phases(models.PhaseAcquiring, models.PhaseScanning, models.PhaseResolving,
					models.PhaseSuccess, models.PhaseError, models.PhasePermissionDenied),
				Dst: string(models.PhaseIdle),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				metrics.ScannerTransitionsTotal.WithLabelValues(e.Dst).Inc()
			},
		},
	)
}

// command is a caller request answered on reply
type command interface {
	withReply(reply chan error) command
}

type openCmd struct{ reply chan error }

func (c openCmd) withReply(r chan error) command { c.reply = r; return c }

type closeCmd struct{ reply chan error }

func (c closeCmd) withReply(r chan error) command { c.reply = r; return c }

type switchCmd struct{ reply chan error }

func (c switchCmd) withReply(r chan error) command { c.reply = r; return c }

type retryCmd struct{ reply chan error }

func (c retryCmd) withReply(r chan error) command { c.reply = r; return c }

type submitReply struct {
	accepted bool
	err      error
}

type submitCmd struct {
	barcode string
	reply   chan submitReply
}

type devicesQuery struct {
	reply chan models.DeviceListResponse
}

// internal messages carry the session token they were started under

type detectMsg struct {
	token uint64
	event models.DecodeEvent
}

type acquiredMsg struct {
	token   uint64
	devices []models.CameraDevice
	device  models.CameraDevice
	stream  device.Stream
	err     error
}

type resolvedMsg struct {
	token   uint64
	gate    *gate.Gate
	barcode string
	product models.ResolvedProduct
	err     error
}

type cooldownMsg struct {
	token uint64
	seq   uint64
}
