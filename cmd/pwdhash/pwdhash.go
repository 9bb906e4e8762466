package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/edsphinx/log-o/pkg/pwdhash"
)

// Takes a password as the first argument, and prints out a base64 encoded version of the hashed password.
// You can use this to set a user's password in the database manually, for example to recover a
// locked-out admin account.

func main() {
	if len(os.Args) != 2 {
		fmt.Printf("Usage: pwdhash <password>\n")
		os.Exit(1)
	}
	hash, err := pwdhash.HashPassword(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%v\n", base64.StdEncoding.EncodeToString(hash))
}
