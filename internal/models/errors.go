package models

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied       = errors.New("camera permission denied")
	ErrNoDeviceFound          = errors.New("no camera device found")
	ErrDeviceInUse            = errors.New("camera is in use or could not be started")
	ErrDecode                 = errors.New("frame decode failed")
	ErrProductNotFound        = errors.New("product not found")
	ErrCatalogUnavailable     = errors.New("catalog unavailable")
	ErrGenerativeLookupFailed = errors.New("generative lookup failed")
	ErrSelectionCancelled     = errors.New("product selection cancelled")
)

// ErrorKind is the stable name of an error class used in states and API payloads
type ErrorKind string

const (
	KindNone               ErrorKind = ""
	KindPermissionDenied   ErrorKind = "permission_denied"
	KindNoDeviceFound      ErrorKind = "no_device_found"
	KindDeviceInUse        ErrorKind = "device_in_use"
	KindDecode             ErrorKind = "decode_error"
	KindProductNotFound    ErrorKind = "product_not_found"
	KindCatalogUnavailable ErrorKind = "catalog_unavailable"
	KindGenerativeFailed   ErrorKind = "generative_lookup_failed"
	KindSelectionCancelled ErrorKind = "selection_cancelled"
	KindUnknown            ErrorKind = "unknown"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrNoDeviceFound, KindNoDeviceFound},
	{ErrDeviceInUse, KindDeviceInUse},
	{ErrDecode, KindDecode},
	{ErrProductNotFound, KindProductNotFound},
	{ErrCatalogUnavailable, KindCatalogUnavailable},
	{ErrGenerativeLookupFailed, KindGenerativeFailed},
	{ErrSelectionCancelled, KindSelectionCancelled},
}

// KindOf classifies err. Unclassified errors are KindUnknown, nil is KindNone.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindCatalogUnavailable
	}
	return KindUnknown
}

// Recoverable reports whether the scanner returns to scanning after this error
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindPermissionDenied, KindNoDeviceFound, KindDeviceInUse:
		return false
	}
	return true
}
