package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// credentialReader reads credentials from a command's stdin, one per line.
// A terminal gets a prompt with echo disabled.
type credentialReader struct {
	cmd *cobra.Command
	buf *bufio.Reader
}

func newCredentialReader(cmd *cobra.Command) *credentialReader {
	return &credentialReader{cmd: cmd}
}

// read returns flagValue if set, otherwise the next credential from stdin
func (r *credentialReader) read(flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	in := r.cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprintf(r.cmd.ErrOrStderr(), "%s: ", prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(r.cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(prompt), err)
		}
		return string(b), nil
	}

	if r.buf == nil {
		r.buf = bufio.NewReader(in)
	}
	line, err := r.buf.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(prompt), err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(prompt))
	}
	return line, nil
}
