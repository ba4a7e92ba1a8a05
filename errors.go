package basicpaxos

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by Send, without retry, when the client has
// no peers configured (spec §7's not_ready kind). The client does not
// track the quorum's leader or liveness, so a quorum with no leader or
// fewer than a majority alive does not produce ErrNotReady; such a
// request fails with a RequestError once its retries are exhausted.
// Unlike ErrorCode, not_ready never travels on the wire — it is a
// purely local observation the request queue makes before it ever
// dials the leader.
var ErrNotReady = errors.New("basicpaxos: not_ready")

// RequestError is the terminal error surfaced on a client's Send
// future when every retry has been exhausted (spec §7's request_error
// kind). Code preserves the wire ErrorCode of the last failed attempt,
// if any.
type RequestError struct {
	Code ErrorCode
	Err  error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("basicpaxos: request_error (last: %s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("basicpaxos: request_error (last: %s)", e.Code)
}

func (e *RequestError) Unwrap() error { return e.Err }

// roundError is the internal error the leader-side round state
// machine and the follower-side Connection dispatch raise; it carries
// a wire ErrorCode so callers upstream (the request queue) can decide
// whether to retry.
type roundError struct {
	code ErrorCode
	err  error
}

func (e *roundError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("basicpaxos: %s: %v", e.code, e.err)
	}
	return fmt.Sprintf("basicpaxos: %s", e.code)
}

func (e *roundError) Unwrap() error { return e.err }

func newRoundError(code ErrorCode, err error) *roundError {
	return &roundError{code: code, err: err}
}

// transportErrorCode maps a Connection-layer failure to the ErrorCode
// reported upward: ErrorConnectionClosed for ErrConnectionClosed,
// ErrorTimeout for anything else.
func transportErrorCode(err error) ErrorCode {
	if errors.Is(err, ErrConnectionClosed) {
		return ErrorConnectionClosed
	}
	return ErrorTimeout
}
