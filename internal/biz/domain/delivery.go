package domain

import (
	"errors"
	"time"
)

var (
	ErrTransientDelivery = errors.New("transient delivery failure")
	ErrPermanentDelivery = errors.New("permanent delivery failure")
)

// DeliveryError is a classified provider API failure
type DeliveryError struct {
	Transient  bool
	RetryAfter time.Duration // provider-requested wait, 0 if none
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err == nil {
		return kind + " delivery failure"
	}
	return kind + " delivery failure: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransientDelivery or ErrPermanentDelivery by class
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrTransientDelivery:
		return e.Transient
	case ErrPermanentDelivery:
		return !e.Transient
	}
	return false
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientDelivery)
}

// RetryAfterOf returns the provider-requested wait carried by err
func RetryAfterOf(err error) time.Duration {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.RetryAfter
	}
	return 0
}
