package parental

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler abstracts wall-clock timers so tests can drive relocks deterministically.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler runs callbacks on real timers.
type SystemScheduler struct{}

func (SystemScheduler) Now() time.Time { return time.Now().UTC() }

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// BcryptPIN holds the configured PIN as a bcrypt hash.
type BcryptPIN struct {
	hash []byte
}

// NewBcryptPIN hashes pin with the given cost; a non-positive cost uses bcrypt.DefaultCost.
func NewBcryptPIN(pin string, cost int) (*BcryptPIN, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return nil, err
	}
	return &BcryptPIN{hash: hash}, nil
}

func (p *BcryptPIN) Check(pin string) bool {
	return bcrypt.CompareHashAndPassword(p.hash, []byte(pin)) == nil
}
