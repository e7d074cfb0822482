package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

const (
	headerTrader    = "X-Trader"
	headerSignature = "X-Signature"
	headerNonce     = "X-Nonce"

	maxBodyBytes = 1 << 20
)

type traderKey struct{}

func traderFrom(ctx context.Context) common.Address {
	addr, _ := ctx.Value(traderKey{}).(common.Address)
	return addr
}

// requireSignature authenticates a mutation: X-Signature must be the X-Trader key's
// signature over the request digest (method, path, X-Nonce and raw body), and X-Nonce
// must be above the last nonce accepted from that trader.
func (s *Server) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traderHex := r.Header.Get(headerTrader)
		if !common.IsHexAddress(traderHex) {
			respondError(w, http.StatusUnauthorized, "missing or invalid "+headerTrader, "")
			return
		}
		sig, err := hexutil.Decode(r.Header.Get(headerSignature))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "missing or invalid "+headerSignature, err.Error())
			return
		}

		nonce, err := strconv.ParseUint(r.Header.Get(headerNonce), 10, 64)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "missing or invalid "+headerNonce, err.Error())
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
			return
		}

		trader := common.HexToAddress(traderHex)
		if err := crypto.VerifyRequest(trader, r.Method, r.URL.Path, nonce, body, sig); err != nil {
			s.logger.Info("rejected unsigned request",
				zap.String("trader", trader.Hex()),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			respondError(w, http.StatusUnauthorized, "bad signature", err.Error())
			return
		}

		if err := s.nonces.use(trader, nonce); err != nil {
			s.logger.Info("rejected replayed request",
				zap.String("trader", trader.Hex()),
				zap.String("path", r.URL.Path),
				zap.Uint64("nonce", nonce),
				zap.Error(err))
			if errors.Is(err, ErrStaleNonce) {
				respondError(w, http.StatusUnauthorized, "stale nonce", err.Error())
			} else {
				respondError(w, http.StatusInternalServerError, "internal error", err.Error())
			}
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traderKey{}, trader)))
	})
}
