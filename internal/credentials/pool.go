package credentials

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"github.com/vidmirror/backend/internal/models"
)

// ErrNoCredentialAvailable indicates no eligible account has usable credentials.
var ErrNoCredentialAvailable = errors.New("no credential available")

// Credential is a decrypted platform access token borrowed from an account.
type Credential struct {
	UserID            int64
	Username          string
	AccessToken       string
	AccessTokenSecret string
}

// Source lists accounts that hold stored credentials.
type Source interface {
	ListCredentialed(ctx context.Context, privileged bool) ([]models.User, error)
}

// Strategy picks an index in [0, n).
type Strategy interface {
	Select(n int) int
}

// RoundRobin cycles through candidates in order.
type RoundRobin struct {
	next atomic.Uint64
}

// Select implements Strategy.
func (r *RoundRobin) Select(n int) int {
	if n <= 0 {
		return 0
	}
	return int((r.next.Add(1) - 1) % uint64(n))
}

// Random picks a uniformly random candidate.
type Random struct{}

// Select implements Strategy.
func (Random) Select(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

// NewStrategy maps a configured name onto a Strategy, defaulting to round-robin.
func NewStrategy(name string) Strategy {
	if name == "random" {
		return Random{}
	}
	return &RoundRobin{}
}

// Pool selects credentials among eligible accounts.
type Pool struct {
	source   Source
	codec    *Codec
	strategy Strategy
}

// NewPool constructs a credential pool. A nil codec means tokens are stored in
// plaintext; a nil strategy selects round-robin.
func NewPool(source Source, codec *Codec, strategy Strategy) *Pool {
	if strategy == nil {
		strategy = &RoundRobin{}
	}
	return &Pool{source: source, codec: codec, strategy: strategy}
}

// Acquire returns one credential; privileged restricts candidates to staff and admins.
func (p *Pool) Acquire(ctx context.Context, requirePrivileged bool) (Credential, error) {
	if p == nil || p.source == nil {
		return Credential{}, ErrNoCredentialAvailable
	}

	users, err := p.source.ListCredentialed(ctx, requirePrivileged)
	if err != nil {
		return Credential{}, fmt.Errorf("list credentialed users: %w", err)
	}

	candidates := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.AccessToken == "" {
			continue
		}
		if requirePrivileged && !u.Privileged() {
			continue
		}
		candidates = append(candidates, u)
	}
	if len(candidates) == 0 {
		return Credential{}, ErrNoCredentialAvailable
	}

	chosen := candidates[p.strategy.Select(len(candidates))]

	token, err := p.open(chosen.AccessToken)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypt access token for user %d: %w", chosen.ID, err)
	}
	secret, err := p.open(chosen.AccessTokenSecret)
	if err != nil {
		return Credential{}, fmt.Errorf("decrypt access token secret for user %d: %w", chosen.ID, err)
	}

	return Credential{
		UserID:            chosen.ID,
		Username:          chosen.Username,
		AccessToken:       token,
		AccessTokenSecret: secret,
	}, nil
}

func (p *Pool) open(value string) (string, error) {
	if value == "" || p.codec == nil {
		return value, nil
	}
	return p.codec.Open(value)
}
