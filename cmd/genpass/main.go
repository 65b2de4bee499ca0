package main

import (
	"flag"
	"fmt"

	"github.com/wpamesh/sonny-mesh/pkg/auth"
)

func main() {
	length := flag.Int("length", 16, "Random password length in bytes (hex encoded, so output is 2x this)")
	username := flag.String("username", "", "Credential username, conventionally <family>-<node>")
	flag.Parse()

	password, err := auth.RandomHex(*length)
	if err != nil {
		fmt.Printf("Error generating password: %v\n", err)
		return
	}

	hash, salt := auth.GenerateHashAndSalt(password)

	fmt.Printf("Password: %s\n", password)
	fmt.Println()
	fmt.Println("Relay credential, add under credentials: in sonny-relay.yaml:")
	fmt.Printf("  - username: %q\n", *username)
	fmt.Printf("    salt: %q\n", salt)
	fmt.Printf("    passwordhash: %q\n", hash)
}
