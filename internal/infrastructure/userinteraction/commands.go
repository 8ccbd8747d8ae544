package userinteraction

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Command is one line typed into a running session, split on whitespace.
type Command struct {
	Name string
	Args []string
}

// ReadCommands streams the non-empty lines of r as commands. The channel is
// closed when r is exhausted or ctx is done.
func ReadCommands(ctx context.Context, r io.Reader) <-chan Command {
	out := make(chan Command)
	go func() {
		defer close(out)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			if fields := strings.Fields(line); len(fields) > 0 {
				cmd := Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
				select {
				case out <- cmd:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
