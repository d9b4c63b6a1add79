package sim

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Serve runs the board as a line-oriented console on rw: it prints a banner
// and prompt, then echoes each command line followed by its output and a new
// prompt. It returns when rw reaches EOF.
func (b *Board) Serve(rw io.ReadWriter) error {
	prompt := "=> "
	if _, err := fmt.Fprintf(rw, "\r\n%s\r\n\r\n%s", b.cfg.Version, prompt); err != nil {
		return err
	}

	sc := bufio.NewScanner(rw)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		b.mu.Lock()
		b.history = append(b.history, Record{Line: line, Timeout: b.timeout})
		out := b.exec(line)
		b.mu.Unlock()

		resp := line + "\r\n"
		if out != "" {
			resp += strings.ReplaceAll(out, "\n", "\r\n") + "\r\n"
		}
		if _, err := io.WriteString(rw, resp+prompt); err != nil {
			return err
		}
	}
	return sc.Err()
}
