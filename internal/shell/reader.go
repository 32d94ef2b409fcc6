package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// LineReader reads one line of user input after showing prompt.
// It returns io.EOF when input ends.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

// NewLineReader picks a line-editing terminal when in is a TTY and a plain
// scanner otherwise.
func NewLineReader(in *os.File, out io.Writer, words []string) LineReader {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		return newTerminalReader(fd, in, out, words)
	}
	return NewScannerReader(in, out)
}

// ScannerReader reads newline-terminated input without line editing.
type ScannerReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func NewScannerReader(in io.Reader, out io.Writer) *ScannerReader {
	return &ScannerReader{scanner: bufio.NewScanner(in), out: out}
}

func (r *ScannerReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimRight(r.scanner.Text(), "\r"), nil
}

// terminalReader puts the terminal in raw mode only while a line is being
// edited, so transfer progress and command output print normally.
type terminalReader struct {
	fd int
	t  *term.Terminal
}

func newTerminalReader(fd int, in io.Reader, out io.Writer, words []string) *terminalReader {
	rw := struct {
		io.Reader
		io.Writer
	}{in, out}
	t := term.NewTerminal(rw, "")
	t.AutoCompleteCallback = completer(words)
	return &terminalReader{fd: fd, t: t}
}

func (r *terminalReader) ReadLine(prompt string) (string, error) {
	state, err := term.MakeRaw(r.fd)
	if err != nil {
		return "", fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(r.fd, state)

	r.t.SetPrompt(prompt)
	return r.t.ReadLine()
}

// completer completes the command word on tab. With several candidates it
// extends the word to their longest common prefix.
func completer(words []string) func(line string, pos int, key rune) (string, int, bool) {
	return func(line string, pos int, key rune) (string, int, bool) {
		if key != '\t' || pos != len(line) || strings.ContainsRune(line, ' ') {
			return "", 0, false
		}
		var matches []string
		for _, w := range words {
			if strings.HasPrefix(w, strings.ToLower(line)) {
				matches = append(matches, w)
			}
		}
		switch len(matches) {
		case 0:
			return "", 0, false
		case 1:
			return matches[0] + " ", len(matches[0]) + 1, true
		}
		prefix := commonPrefix(matches)
		if len(prefix) <= len(line) {
			return "", 0, false
		}
		return prefix, len(prefix), true
	}
}

func commonPrefix(words []string) string {
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
