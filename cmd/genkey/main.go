package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/ncecere/sophnet_gateway/internal/auth"
)

func main() {
	name := flag.String("name", "default", "label recorded with the key")
	flag.Parse()

	prefix, secret, token, err := auth.GenerateAPIKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		log.Fatalf("hash secret: %v", err)
	}

	fmt.Printf("# hand this token to the caller; it is not stored anywhere\n")
	fmt.Printf("# %s\n", token)
	fmt.Printf("gateway:\n  api_keys:\n    - name: %q\n      prefix: %q\n      secret_hash: %q\n", *name, prefix, hash)
}
