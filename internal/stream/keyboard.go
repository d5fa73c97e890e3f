package stream

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// ReadKeys reads r line by line and passes the first non-blank character of
// each line to push. It returns when r is exhausted or ctx is done.
func ReadKeys(ctx context.Context, r io.Reader, push func(rune)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, _ := utf8.DecodeRuneInString(line)
		push(key)
	}
}

// StartKeyboard forwards terminal input to push when stdin is a terminal.
// Keys are delivered after Enter so log output stays line buffered.
func StartKeyboard(ctx context.Context, push func(rune)) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}

	go ReadKeys(ctx, os.Stdin, push)
	log.Printf("[Keyboard] Reading keys from terminal")
	return true
}
