package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"goldchain/crypto"
)

const (
	defaultAllowedSkew = 2 * time.Minute
	maxAllowedSkew     = time.Hour
	maxNonceLength     = 128
	noncePruneInterval = time.Minute
)

var (
	ErrSignedCallMalformed = errors.New("rpc: malformed signed call")
	ErrMethodMismatch      = errors.New("rpc: signed payload method mismatch")
	ErrTimestampSkew       = errors.New("rpc: signed payload timestamp outside allowed skew")
	ErrNonceInvalid        = errors.New("rpc: nonce must be 1-128 bytes")
	ErrNonceReplayed       = errors.New("rpc: nonce already used")
)

// SignedCall is the parameter object of every state-changing method. Payload
// is the exact JSON text that was signed.
type SignedCall struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// SignedPayload is the content of SignedCall.Payload.
type SignedPayload struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Nonce     string          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
}

// NewSignedCall encodes and signs a payload for method with key.
func NewSignedCall(key *crypto.PrivateKey, method string, params interface{}, nonce string, ts time.Time) (SignedCall, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return SignedCall{}, err
	}
	payload, err := json.Marshal(SignedPayload{
		Method:    method,
		Params:    rawParams,
		Nonce:     nonce,
		Timestamp: ts.Unix(),
	})
	if err != nil {
		return SignedCall{}, err
	}
	sig, err := key.Sign(payload)
	if err != nil {
		return SignedCall{}, err
	}
	return SignedCall{Payload: string(payload), Signature: "0x" + hex.EncodeToString(sig)}, nil
}

// Verifier authenticates signed calls: it recovers the caller from the
// signature, enforces the timestamp window and rejects reused nonces.
type Verifier struct {
	skew   time.Duration
	nonces NonceStore
	nowFn  func() time.Time

	pruneMu    sync.Mutex
	lastPruned time.Time
}

// NewVerifier clamps skew to a sane window. A nil store falls back to an
// in-memory nonce set.
func NewVerifier(skew time.Duration, nonces NonceStore, nowFn func() time.Time) *Verifier {
	if skew <= 0 {
		skew = defaultAllowedSkew
	}
	if skew > maxAllowedSkew {
		skew = maxAllowedSkew
	}
	if nonces == nil {
		nonces = NewMemoryNonceStore()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Verifier{skew: skew, nonces: nonces, nowFn: nowFn}
}

// Verify authenticates call for method and returns the caller identity along
// with the signed params.
func (v *Verifier) Verify(ctx context.Context, method string, call SignedCall) ([20]byte, json.RawMessage, error) {
	var caller [20]byte
	if strings.TrimSpace(call.Payload) == "" || strings.TrimSpace(call.Signature) == "" {
		return caller, nil, fmt.Errorf("%w: payload and signature required", ErrSignedCallMalformed)
	}
	var payload SignedPayload
	if err := json.Unmarshal([]byte(call.Payload), &payload); err != nil {
		return caller, nil, fmt.Errorf("%w: %v", ErrSignedCallMalformed, err)
	}
	if payload.Method != method {
		return caller, nil, fmt.Errorf("%w: signed %q, called %q", ErrMethodMismatch, payload.Method, method)
	}
	if len(payload.Nonce) == 0 || len(payload.Nonce) > maxNonceLength {
		return caller, nil, ErrNonceInvalid
	}
	now := v.nowFn()
	signedAt := time.Unix(payload.Timestamp, 0)
	if delta := now.Sub(signedAt); delta > v.skew || delta < -v.skew {
		return caller, nil, ErrTimestampSkew
	}
	sig, err := decodeHex(call.Signature)
	if err != nil {
		return caller, nil, fmt.Errorf("%w: %v", crypto.ErrInvalidSignature, err)
	}
	addr, err := crypto.RecoverAddress([]byte(call.Payload), sig)
	if err != nil {
		return caller, nil, err
	}
	caller = addr.Identity()

	v.maybePrune(ctx, now)
	seen, err := v.nonces.Remember(ctx, caller, payload.Nonce, now)
	if err != nil {
		return caller, nil, fmt.Errorf("rpc: record nonce: %w", err)
	}
	if seen {
		return caller, nil, ErrNonceReplayed
	}
	return caller, payload.Params, nil
}

// Nonces older than twice the skew can no longer pass the timestamp check.
func (v *Verifier) maybePrune(ctx context.Context, now time.Time) {
	v.pruneMu.Lock()
	defer v.pruneMu.Unlock()
	if now.Sub(v.lastPruned) < noncePruneInterval {
		return
	}
	v.lastPruned = now
	_ = v.nonces.Prune(ctx, now.Add(-2*v.skew))
}

func decodeHex(s string) ([]byte, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	return hex.DecodeString(trimmed)
}
