package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/hashmark-protocol/hashmark/hashmark/wallet"
)

// Error kinds. Every error leaving the gateway matches exactly one of them
// with errors.Is.
var (
	ErrDuplicateProof     = errors.New("digest already authenticated")
	ErrUnauthorized       = errors.New("no signing capability")
	ErrNetworkUnavailable = errors.New("ledger network unavailable")
	ErrSigningRejected    = errors.New("signing rejected")
	ErrUnclassified       = errors.New("ledger error")
)

var ErrFaucetDisabled = errors.New("faucet disabled")

// Registry revert reasons. These strings live in the deployed contract.
const (
	duplicateReason = "Already authenticated"
	absentReason    = "Not authenticated"
)

// EIP-1193 code for a request the user declined.
const userRejectedCode = 4001

var kinds = []error{ErrDuplicateProof, ErrUnauthorized, ErrNetworkUnavailable, ErrSigningRejected, ErrUnclassified}

// Error is a classified ledger failure. It matches both its kind and the
// underlying cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Classify maps a raw node, contract or wallet error to its kind. Errors that
// are already classified and context cancellation pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) || errors.Is(err, context.Canceled) {
		return err
	}
	return newError(kindOf(err), op, err)
}

// KindOf returns the kind err was classified as, or ErrUnclassified.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnclassified
}

func kindOf(err error) error {
	switch {
	case isRejection(err):
		return ErrSigningRejected
	case errors.Is(err, wallet.ErrNoCapability),
		errors.Is(err, wallet.ErrWrongChain),
		errors.Is(err, bind.ErrNotAuthorized),
		errors.Is(err, keystore.ErrLocked):
		return ErrUnauthorized
	case strings.Contains(revertReason(err), duplicateReason):
		return ErrDuplicateProof
	case isNetwork(err):
		return ErrNetworkUnavailable
	}
	return ErrUnclassified
}

// isAbsent reports a verifyVideo revert meaning "no record", raised by
// registry deployments that revert instead of returning zero values.
func isAbsent(err error) bool {
	return strings.Contains(revertReason(err), absentReason)
}

// revertReason decodes Error(string) revert data when the node attached it
// and falls back to the error text.
func revertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	return err.Error()
}

func isRejection(err error) bool {
	if errors.Is(err, wallet.ErrRejected) {
		return true
	}
	var re rpc.Error
	if errors.As(err, &re) && re.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

func isNetwork(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 502, 503, 504:
			return true
		}
	}
	// bind flattens some transport errors into text.
	msg := err.Error()
	for _, s := range networkMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var networkMessages = []string{"connection refused", "connection reset", "no such host", "i/o timeout", "network is unreachable"}
