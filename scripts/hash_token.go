//go:build ignore

// Script to generate the bcrypt hash of an admin API token.
// Run with: go run scripts/hash_token.go -token <token>
// and set ADMIN_TOKEN_HASH to the printed value.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	token := flag.String("token", "", "Admin token to hash (generated when empty)")
	cost := flag.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	flag.Parse()

	if *token == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		*token = hex.EncodeToString(buf)
		fmt.Printf("Generated token: %s\n", *token)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*token), *cost)
	if err != nil {
		log.Fatalf("Failed to hash token: %v", err)
	}

	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
}
