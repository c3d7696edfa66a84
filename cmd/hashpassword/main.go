// hashpassword prints a bcrypt hash (bcrypt.DefaultCost) for a password,
// the same hashing identity.LocalServer.Register applies. LocalServer keeps
// its accounts in memory and has no way to load a precomputed hash.
package main

import (
	"bufio"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	var password string
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		fmt.Fprint(os.Stderr, "password: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			password = scanner.Text()
		}
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "usage: hashpassword <password>")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashpassword: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hash))
}
