package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"trigger-keeper/internal/domain"
)

// Request authentication headers. The caller signs SigningPayload with the
// key of the X-Caller account as an EIP-191 personal message.
const (
	CallerHeader    = "X-Caller"
	TimestampHeader = "X-Timestamp" // unix milliseconds
	SignatureHeader = "X-Signature" // 65-byte r||s||v, hex
)

// DefaultSignatureWindow is how far a request timestamp may sit from the
// server clock in either direction.
const DefaultSignatureWindow = 5 * time.Minute

var errUnauthenticated = errors.New("unauthenticated")

// SigningPayload returns the message signed for a request: method, request
// URI, hex SHA-256 of the body and the timestamp, one per line.
func SigningPayload(method, uri string, body []byte, timestampMs int64) []byte {
	sum := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%s\n%s\n%d", method, uri, hex.EncodeToString(sum[:]), timestampMs))
}

// authenticator verifies signed requests and rejects a payload seen twice
// inside the window.
type authenticator struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[[32]byte]time.Time // payload digest -> forget after
}

func newAuthenticator() *authenticator {
	return &authenticator{
		window: DefaultSignatureWindow,
		now:    time.Now,
		seen:   make(map[[32]byte]time.Time),
	}
}

func unauthenticated(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUnauthenticated, fmt.Sprintf(format, args...))
}

// verify returns the X-Caller account if the request carries a fresh
// signature by that account over body.
func (a *authenticator) verify(r *http.Request, body []byte) (domain.Address, error) {
	h := r.Header.Get(CallerHeader)
	if h == "" {
		return domain.Address{}, unauthenticated("missing %s header", CallerHeader)
	}
	claimed, err := domain.ParseAddress(h)
	if err != nil {
		return domain.Address{}, err
	}

	tsRaw, sigRaw := r.Header.Get(TimestampHeader), r.Header.Get(SignatureHeader)
	if tsRaw == "" || sigRaw == "" {
		return domain.Address{}, unauthenticated("missing %s or %s header", TimestampHeader, SignatureHeader)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return domain.Address{}, unauthenticated("malformed %s header", TimestampHeader)
	}
	at, now := time.UnixMilli(ts), a.now()
	if at.Before(now.Add(-a.window)) || at.After(now.Add(a.window)) {
		return domain.Address{}, unauthenticated("request timestamp outside %s window", a.window)
	}

	sig, err := hexutil.Decode(sigRaw)
	if err != nil || len(sig) != crypto.SignatureLength {
		return domain.Address{}, unauthenticated("malformed %s header", SignatureHeader)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := accounts.TextHash(SigningPayload(r.Method, r.URL.RequestURI(), body, ts))
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return domain.Address{}, unauthenticated("signature does not recover")
	}
	if crypto.PubkeyToAddress(*pub) != claimed {
		return domain.Address{}, unauthenticated("signature is not by %s", claimed.Hex())
	}

	var key [32]byte
	copy(key[:], digest)
	if !a.remember(key, at.Add(a.window), now) {
		return domain.Address{}, unauthenticated("request replayed")
	}
	return claimed, nil
}

// remember records key until expiry and reports whether it was new.
func (a *authenticator) remember(key [32]byte, expiry, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, until := range a.seen {
		if now.After(until) {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = expiry
	return true
}

// callerOf authenticates r. The body is buffered for verification and
// restored for the handler.
func (s *Server) callerOf(w http.ResponseWriter, r *http.Request) (domain.Address, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return domain.Address{}, domain.NewInvalidInput("request body: %v", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return s.auth.verify(r, body)
}
