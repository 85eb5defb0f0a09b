// spiro-passwd prints the Argon2id hash of an operator password, for
// security.password_hash in the spiro configuration.
//
//	spiro-passwd            prompts twice on the terminal
//	echo secret | spiro-passwd -stdin
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/nicolatrozzi/spiro/internal/auth"
)

var errMismatch = errors.New("passwords do not match")

func main() {
	fromStdin := flag.Bool("stdin", false, "read the password from standard input")
	flag.Parse()

	hash, err := run(*fromStdin, os.Stdin, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func run(fromStdin bool, in *os.File, prompt io.Writer) (string, error) {
	var password string
	if fromStdin || !term.IsTerminal(int(in.Fd())) {
		p, err := readLine(in)
		if err != nil {
			return "", err
		}
		password = p
	} else {
		first, err := readHidden(in, prompt, "Password: ")
		if err != nil {
			return "", err
		}
		second, err := readHidden(in, prompt, "Repeat: ")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", errMismatch
		}
		password = first
	}
	return hashPassword(password)
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return auth.HashPassword(password)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func readHidden(in *os.File, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)
	b, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
