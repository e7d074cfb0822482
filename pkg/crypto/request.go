package crypto

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const requestDomain = "hyperdex:"

var ErrSignatureMismatch = errors.New("signature does not match trader")

// RequestDigest is keccak256("hyperdex:" + METHOD + " " + PATH + "\n" + NONCE + "\n" + BODY)
// with NONCE in decimal. The nonce is per trader and must increase with every request.
func RequestDigest(method, path string, nonce uint64, body []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(requestDomain))
	h.Write([]byte(method))
	h.Write([]byte(" "))
	h.Write([]byte(path))
	h.Write([]byte("\n"))
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	h.Write([]byte("\n"))
	h.Write(body)
	return h.Sum(nil)
}

// VerifyRequest checks that signature over the request was produced by trader
func VerifyRequest(trader common.Address, method, path string, nonce uint64, body, signature []byte) error {
	recovered, err := RecoverAddress(RequestDigest(method, path, nonce, body), signature)
	if err != nil {
		return err
	}
	if recovered != trader {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrSignatureMismatch, recovered.Hex(), trader.Hex())
	}
	return nil
}
