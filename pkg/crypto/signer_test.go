package crypto

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	// 32 bytes
	if privHex := signer.PrivateKeyHex(); len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestRecoverAddress(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("Test message"))

	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Fatalf("signature length = %d, want 65", len(signature))
	}

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// wallets send V as 27/28
	walletSig := append([]byte(nil), signature...)
	walletSig[64] += 27
	recovered, err = RecoverAddress(hash, walletSig)
	if err != nil {
		t.Fatalf("failed to recover with 27/28 V: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
	if walletSig[64] < 27 {
		t.Error("input signature was modified")
	}
}

func TestRequestDigestMatchesKeccak(t *testing.T) {
	body := []byte(`{"symbol":"BAT","amount":"10"}`)
	want := eth_crypto.Keccak256([]byte("hyperdex:POST /api/v1/deposit\n7\n" + string(body)))
	got := RequestDigest("POST", "/api/v1/deposit", 7, body)
	if common.BytesToHash(got) != common.BytesToHash(want) {
		t.Errorf("digest = %x, want %x", got, want)
	}
}

func TestVerifyRequest(t *testing.T) {
	signer, _ := GenerateKey()
	other, _ := GenerateKey()
	body := []byte(`{"symbol":"BAT","amount":"10"}`)

	sig, err := signer.SignRequest("POST", "/api/v1/deposit", 1, body)
	if err != nil {
		t.Fatalf("failed to sign request: %v", err)
	}

	if err := VerifyRequest(signer.Address(), "POST", "/api/v1/deposit", 1, body, sig); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		trader common.Address
		path   string
		nonce  uint64
		body   []byte
	}{
		{"wrong trader", other.Address(), "/api/v1/deposit", 1, body},
		{"different path", signer.Address(), "/api/v1/withdraw", 1, body},
		{"different nonce", signer.Address(), "/api/v1/deposit", 2, body},
		{"tampered body", signer.Address(), "/api/v1/deposit", 1, []byte(`{"symbol":"BAT","amount":"99"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyRequest(tt.trader, "POST", tt.path, tt.nonce, tt.body, sig)
			if !errors.Is(err, ErrSignatureMismatch) {
				t.Errorf("err = %v, want ErrSignatureMismatch", err)
			}
		})
	}
}

func TestInvalidSignature(t *testing.T) {
	hash := common.BytesToHash([]byte("test")).Bytes()

	if _, err := RecoverAddress(hash, []byte{1, 2, 3}); err == nil {
		t.Error("short signature should not recover")
	}
	if _, err := RecoverAddress([]byte("short"), make([]byte, 65)); err == nil {
		t.Error("short hash should not recover")
	}
}
