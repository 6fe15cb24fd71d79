package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/jingkaihe/playbook/pkg/skills"
	"github.com/pkg/errors"
)

// terminal answers input requests on a line-oriented reader and writer.
// A single goroutine reads lines so a cancelled request never swallows the
// answer meant for the next one.
type terminal struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	once    sync.Once
	lines   chan string
	readErr error
}

var _ skills.Interactor = (*terminal)(nil)

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: in, out: out, lines: make(chan string)}
}

func (t *terminal) start() {
	go func() {
		defer close(t.lines)
		reader := bufio.NewReader(t.in)
		for {
			line, err := reader.ReadString('\n')
			if line != "" || err == nil {
				t.lines <- strings.TrimRight(line, "\r\n")
			}
			if err != nil {
				t.readErr = err
				return
			}
		}
	}()
}

func (t *terminal) readLine(ctx context.Context) (string, error) {
	t.once.Do(t.start)
	select {
	case line, ok := <-t.lines:
		if !ok {
			if errors.Is(t.readErr, io.EOF) {
				return "", errors.New("input closed")
			}
			return "", errors.Wrap(t.readErr, "failed to read input")
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *terminal) RequestInput(ctx context.Context, prompt string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	color.New(color.FgCyan).Fprintf(t.out, "%s: ", strings.TrimSpace(prompt))
	return t.readLine(ctx)
}

func (t *terminal) PickFile(ctx context.Context, prompt string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no files to pick from")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	color.New(color.FgCyan).Fprintf(t.out, "%s\n", strings.TrimSpace(prompt))
	for i, c := range candidates {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, c)
	}
	color.New(color.FgCyan).Fprintf(t.out, "Choose [1-%d]: ", len(candidates))

	answer, err := t.readLine(ctx)
	if err != nil {
		return "", err
	}
	return pickCandidate(strings.TrimSpace(answer), candidates)
}

// pickCandidate accepts a 1-based index or a candidate path.
func pickCandidate(answer string, candidates []string) (string, error) {
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(candidates) {
			return "", errors.Errorf("choice %d is out of range", n)
		}
		return candidates[n-1], nil
	}
	for _, c := range candidates {
		if c == answer {
			return c, nil
		}
	}
	return "", errors.Errorf("%q is not one of the offered files", answer)
}
