package login

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Prompter asks the user yes/no questions. Confirm returns ctx.Err() when ctx
// ends before an answer arrives.
type Prompter interface {
	Confirm(ctx context.Context, question string, defaultYes bool) (bool, error)
}

// AutoPrompter answers every question with its default, for non-interactive use
type AutoPrompter struct{}

// Confirm returns defaultYes
func (AutoPrompter) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return defaultYes, nil
}

type line struct {
	text string
	err  error
}

// LinePrompter reads answers line by line. A single goroutine owns the reader
// so an abandoned question never leaves two reads racing on it.
type LinePrompter struct {
	in    *bufio.Reader
	out   io.Writer
	start sync.Once
	lines chan line
}

// NewLinePrompter reads answers from in and writes questions to out
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out, lines: make(chan line)}
}

func (p *LinePrompter) read() {
	for {
		text, err := p.in.ReadString('\n')
		p.lines <- line{text: text, err: err}
		if err != nil {
			close(p.lines)
			return
		}
	}
}

func (p *LinePrompter) next(ctx context.Context) (string, error) {
	p.start.Do(func() { go p.read() })
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return l.text, l.err
	}
}

// Confirm asks question; an empty answer or end of input selects the default
func (p *LinePrompter) Confirm(ctx context.Context, question string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	for {
		fmt.Fprintf(p.out, "%s %s ", question, hint)

		text, err := p.next(ctx)
		if ctx.Err() != nil {
			fmt.Fprintln(p.out)
			return false, ctx.Err()
		}
		if err != nil && err != io.EOF {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(text)) {
		case "":
			if err == io.EOF {
				fmt.Fprintln(p.out)
			}
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err == io.EOF {
			return defaultYes, nil
		}
		fmt.Fprintln(p.out, "Please answer yes or no.")
	}
}
