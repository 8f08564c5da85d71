// Command arbkey seals a venue API secret for at-rest storage. The result is
// referenced from config.toml as encrypted_secret_path.
//
//	ARBKEY_PASSWORD=... arbkey -out binance.secret < secret.txt
//	ARBKEY_PASSWORD=... arbkey -check binance.secret
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alanyoungcy/arbcore/internal/crypto"
)

func main() {
	out := flag.String("out", "", "file to write the sealed secret to")
	check := flag.String("check", "", "sealed secret file to verify against the password")
	passwordEnv := flag.String("password-env", "ARBKEY_PASSWORD", "environment variable holding the password")
	flag.Parse()

	password := os.Getenv(*passwordEnv)
	if password == "" {
		fatalf("password not set: export %s", *passwordEnv)
	}

	if *check != "" {
		data, err := os.ReadFile(*check)
		if err != nil {
			fatalf("read %s: %v", *check, err)
		}
		secret, err := crypto.DecryptSecret(data, password)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("ok: %d-byte secret\n", len(secret))
		return
	}

	if *out == "" {
		fatalf("-out is required")
	}
	secret, err := readSecret(os.Stdin)
	if err != nil {
		fatalf("read secret: %v", err)
	}
	blob, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		fatalf("%v", err)
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("sealed secret written to %s\n", *out)
}

// readSecret returns the first line of r without surrounding whitespace.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty input")
	}
	return line, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "arbkey: "+format+"\n", args...)
	os.Exit(1)
}
