package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

// prompter reads interactive input. Tests swap in a scripted one.
type prompter interface {
	Line(prompt string) (string, error)
	Secret(prompt string) (string, error)
}

// readPassword is replaced in tests to avoid touching the terminal.
var readPassword = term.ReadPassword

type terminal struct {
	in  *os.File
	r   *bufio.Reader
	out io.Writer
}

func newTerminal(in *os.File, out io.Writer) *terminal {
	return &terminal{in: in, r: bufio.NewReader(in), out: out}
}

func (t *terminal) Line(prompt string) (string, error) {
	if _, err := fmt.Fprint(t.out, prompt); err != nil {
		return "", err
	}
	line, err := t.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Secret reads without echo on a terminal and falls back to a plain line
// when stdin is a pipe.
func (t *terminal) Secret(prompt string) (string, error) {
	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		line, err := t.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if _, err := fmt.Fprint(t.out, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

const minPasswordLen = 8

// newPassword asks twice and enforces the minimum length.
func newPassword(p prompter) (string, error) {
	pw, err := p.Secret("New admin password: ")
	if err != nil {
		return "", err
	}
	if len(pw) < minPasswordLen {
		return "", xerrors.Newf("password must be at least %d characters", minPasswordLen)
	}
	again, err := p.Secret("Confirm password: ")
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", xerrors.New("passwords do not match")
	}
	return pw, nil
}
