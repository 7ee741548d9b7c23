package subscription

import (
	"errors"
	"fmt"
)

// Reason classifies the outcome of Subscribe and Unsubscribe.
type Reason uint8

const (
	Success Reason = iota
	AlreadySubscribed
	NotSubscribed
	StateUpdateFailed
	SubscriptionFailed
	ResubscriptionRegistrationFailed
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case Success:
		return "success"
	case AlreadySubscribed:
		return "already subscribed"
	case NotSubscribed:
		return "not subscribed"
	case StateUpdateFailed:
		return "state update failed"
	case SubscriptionFailed:
		return "subscription failed"
	case ResubscriptionRegistrationFailed:
		return "resubscription registration failed"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Failure reasons as errors, for errors.Is on Result.Err.
var (
	ErrAlreadySubscribed                = errors.New("already subscribed")
	ErrNotSubscribed                    = errors.New("not subscribed")
	ErrStateUpdateFailed                = errors.New("state update failed")
	ErrSubscriptionFailed               = errors.New("subscription failed")
	ErrResubscriptionRegistrationFailed = errors.New("resubscription registration failed")
)

// Err returns the sentinel error for r, nil for Success.
func (r Reason) Err() error {
	switch r {
	case Success:
		return nil
	case AlreadySubscribed:
		return ErrAlreadySubscribed
	case NotSubscribed:
		return ErrNotSubscribed
	case StateUpdateFailed:
		return ErrStateUpdateFailed
	case SubscriptionFailed:
		return ErrSubscriptionFailed
	case ResubscriptionRegistrationFailed:
		return ErrResubscriptionRegistrationFailed
	default:
		return fmt.Errorf("unknown reason %d", uint8(r))
	}
}

// Result is the outcome of a manager operation. Err is nil on success and
// otherwise wraps the reason's sentinel together with the cause.
type Result struct {
	Reason Reason
	Err    error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Reason == Success
}

func (r Result) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Reason.String()
}

func succeeded() Result {
	return Result{Reason: Success}
}

func failed(reason Reason, cause error) Result {
	err := reason.Err()
	if cause != nil {
		err = fmt.Errorf("%w: %v", err, cause)
	}
	return Result{Reason: reason, Err: err}
}
