package authn

import (
	"context"
	"time"
)

// timeNow is indirected for tests.
var timeNow = func() time.Time { return time.Now().UTC() }

// Static is an Authenticator that returns a fixed outcome. It stands in for
// platform ceremonies (biometric, passkey) in tests and demos.
type Static struct {
	Result Result
	Err    error
}

var _ Authenticator = Static{}

func (s Static) ProveIdentity(ctx context.Context, method Method, _ *Credentials) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.Err != nil {
		return Result{}, s.Err
	}
	r := s.Result
	r.Proof = method
	if r.Timestamp.IsZero() {
		r.Timestamp = timeNow()
	}
	return r, nil
}
