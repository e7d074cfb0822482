// sign-request prints the headers needed to call a signed API route.
//
//	sign-request -key <hex> -method POST -path /api/v1/deposit -body '{"symbol":"DAI","amount":"100"}'
//
// Without -key a fresh key pair is generated and printed. Without -nonce the current Unix time
// in milliseconds is used, which keeps nonces increasing across invocations.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

func main() {
	keyHex := flag.String("key", os.Getenv("TRADER_KEY"), "hex private key (default $TRADER_KEY)")
	method := flag.String("method", "POST", "HTTP method")
	path := flag.String("path", "/api/v1/deposit", "request path")
	body := flag.String("body", "", "raw request body")
	nonce := flag.Uint64("nonce", uint64(time.Now().UnixMilli()), "request nonce, must exceed the last one used")
	flag.Parse()

	var (
		signer *crypto.Signer
		err    error
	)
	if *keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Printf("Generated key (KEEP SECRET!): %s\n", signer.PrivateKeyHex())
		}
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sig, err := signer.SignRequest(*method, *path, *nonce, []byte(*body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing: %v\n", err)
		os.Exit(1)
	}

	// Verify before printing
	if err := crypto.VerifyRequest(signer.Address(), *method, *path, *nonce, []byte(*body), sig); err != nil {
		fmt.Fprintf(os.Stderr, "Self-check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("X-Trader: %s\n", signer.Address().Hex())
	fmt.Printf("X-Signature: %s\n", hexutil.Encode(sig))
	fmt.Printf("X-Nonce: %d\n", *nonce)
}
