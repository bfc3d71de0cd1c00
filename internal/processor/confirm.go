package processor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ConsoleConfirmer asks for confirmation on the wrapped reader/writer pair.
// A cancelled context resolves the gate as a cancellation even while the
// read is still blocking.
type ConsoleConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// Confirm prompts and reads one line. Only an explicit "y"/"yes" proceeds.
func (c *ConsoleConfirmer) Confirm(ctx context.Context) (bool, error) {
	fmt.Fprint(c.Out, "Apply these changes? [y/N] ")

	lines := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(c.In)
		line, _ := reader.ReadString('\n')
		lines <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-lines:
		answer := strings.TrimSpace(strings.ToLower(line))
		return answer == "y" || answer == "yes", nil
	}
}
