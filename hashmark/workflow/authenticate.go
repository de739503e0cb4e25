package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/hashmark-protocol/hashmark/hashmark/fingerprint"
	"github.com/hashmark-protocol/hashmark/hashmark/ledger"
	"github.com/hashmark-protocol/hashmark/hashmark/proof"
	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
)

// ErrConfirmationPending is returned when the caller stopped waiting after
// the registration was broadcast. The transaction may still be included.
var ErrConfirmationPending = errors.New("confirmation pending")

// Transition is published to the observer on every state change.
type Transition struct {
	From, To State
	Digest   fingerprint.Digest
	TxHash   common.Hash
	Failure  FailureKind
	At       time.Time
}

// Outcome is where a run stopped. State is Confirmed or Failed unless the
// caller's context ended first: then it is the state the run was suspended
// in and Err carries the context error. A signed transaction whose sending
// failed also stops in AwaitingConfirmation, with TxHash set and Err
// matching ErrConfirmationPending.
type Outcome struct {
	State   State
	Failure FailureKind
	Digest  fingerprint.Digest
	Record  *proof.Record
	TxHash  common.Hash
	Err     error
}

type Option func(*Authenticator)

// WithObserver publishes transitions to ch. Sends block, so ch must be
// drained for the run to make progress.
func WithObserver(ch chan<- Transition) Option {
	return func(a *Authenticator) { a.observer = ch }
}

func WithLogger(l log.Logger) Option {
	return func(a *Authenticator) { a.log = l }
}

// Authenticator runs the authentication workflow. It holds no per-run state;
// concurrent runs are independent and rely on the ledger to settle races.
type Authenticator struct {
	ledger   Ledger
	wallet   wallet.Provider
	observer chan<- Transition
	log      log.Logger
}

func NewAuthenticator(l Ledger, w wallet.Provider, opts ...Option) *Authenticator {
	a := &Authenticator{ledger: l, wallet: w, log: log.New("module", "workflow")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type run struct {
	a   *Authenticator
	out Outcome
}

func (r *run) advance(to State) {
	t := Transition{From: r.out.State, To: to, Digest: r.out.Digest, TxHash: r.out.TxHash, Failure: r.out.Failure, At: time.Now()}
	r.out.State = to
	r.a.log.Trace("Workflow transition", "from", t.From, "to", to, "digest", t.Digest)
	if r.a.observer != nil {
		r.a.observer <- t
	}
}

func (r *run) fail(kind FailureKind, err error) *Outcome {
	r.out.Failure, r.out.Err = kind, err
	r.advance(Failed)
	return &r.out
}

// suspend stops the run in its current state because the caller's context
// ended. Nothing is rolled back.
func (r *run) suspend(err error) *Outcome {
	r.out.Err = err
	r.a.log.Debug("Workflow suspended", "state", r.out.State, "digest", r.out.Digest, "err", err)
	return &r.out
}

// Authenticate registers the fingerprint of in. A digest that is already
// registered ends in Failed with AlreadyAuthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, in Input) *Outcome {
	r := &run{a: a}

	r.advance(Hashing)
	d, err := in.Resolve()
	if err != nil {
		return r.fail(FailureOf(err), err)
	}
	r.out.Digest = d

	r.advance(AwaitingSigningCapability)
	if a.wallet == nil {
		return r.fail(Unauthorized, wallet.ErrNoCapability)
	}
	chainID, err := a.ledger.ChainID(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return r.suspend(ctx.Err())
		}
		return r.fail(FailureOf(err), err)
	}
	c, err := a.awaitCapability(ctx, chainID)
	if err != nil {
		if ctx.Err() != nil {
			return r.suspend(ctx.Err())
		}
		return r.fail(FailureOf(err), err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(Canceled, err)
	}

	r.advance(Submitting)
	tx, err := a.ledger.Broadcast(ctx, c, d)
	if err != nil {
		// A signed transaction may have reached the node before the failure.
		if tx != nil && (ctx.Err() != nil || errors.Is(err, ledger.ErrNetworkUnavailable)) {
			r.out.TxHash = tx.Hash()
			r.advance(AwaitingConfirmation)
			return r.suspend(fmt.Errorf("%w: transaction %s: %v", ErrConfirmationPending, tx.Hash().Hex(), err))
		}
		if ctx.Err() != nil {
			return r.fail(Canceled, err)
		}
		return r.fail(FailureOf(err), err)
	}
	r.out.TxHash = tx.Hash()

	r.advance(AwaitingConfirmation)
	rec, err := a.ledger.AwaitConfirmation(ctx, tx, d)
	if err != nil {
		if ctx.Err() != nil {
			return r.suspend(fmt.Errorf("%w: transaction %s: %v", ErrConfirmationPending, tx.Hash().Hex(), ctx.Err()))
		}
		return r.fail(FailureOf(err), err)
	}
	r.out.Record = rec
	r.advance(Confirmed)
	a.log.Info("Authentication confirmed", "digest", d, "tx", rec.TxHash, "block", rec.BlockNumber)
	return &r.out
}

// awaitCapability parks until the wallet offers a capability on chainID.
// Every wallet event triggers a new query.
func (a *Authenticator) awaitCapability(ctx context.Context, chainID *big.Int) (*wallet.Capability, error) {
	events := make(chan wallet.Event, 16)
	sub := a.wallet.Subscribe(events)
	defer sub.Unsubscribe()

	for {
		c, err := a.wallet.Capability(ctx)
		switch {
		case err == nil && c.On(chainID):
			return c, nil
		case err == nil:
			a.log.Debug("Wallet on another chain", "account", c.Account, "chainid", c.ChainID, "want", chainID)
		case !errors.Is(err, wallet.ErrNoCapability):
			return nil, err
		}
		select {
		case ev := <-events:
			a.log.Trace("Wallet event", "kind", ev.Kind, "account", ev.Account, "chainid", ev.ChainID)
		case err := <-sub.Err():
			if err == nil {
				err = wallet.ErrNoCapability
			}
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
