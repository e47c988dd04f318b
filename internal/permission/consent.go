package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cjeanneret/StillGo/internal/debug"
)

// Prompter asks the user to allow caps.
type Prompter interface {
	Ask(ctx context.Context, caps []Capability) (bool, error)
}

// Consent is a Platform that asks the user through a Prompter. Answers are
// kept in memory for the life of the process only.
type Consent struct {
	prompter Prompter

	mu     sync.Mutex
	states map[Capability]State
}

// NewConsent returns a consent platform with nothing granted.
func NewConsent(p Prompter) *Consent {
	return &Consent{prompter: p, states: make(map[Capability]State)}
}

func (p *Consent) Status(c Capability) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[c]
}

// Reset forgets every answer.
func (p *Consent) Reset() {
	p.mu.Lock()
	p.states = make(map[Capability]State)
	p.mu.Unlock()
}

func (p *Consent) Request(ctx context.Context, caps []Capability, done func(map[Capability]State)) {
	go func() {
		var pending []Capability
		for _, c := range caps {
			if p.Status(c) != Granted {
				pending = append(pending, c)
			}
		}

		allowed := true
		if len(pending) > 0 {
			ok, err := p.prompter.Ask(ctx, pending)
			if err != nil {
				debug.Errorf("permission prompt: %v", err)
				ok = false
			}
			allowed = ok
		}
		if ctx.Err() != nil {
			debug.Verbose("Permission: request abandoned: %v", ctx.Err())
			return
		}

		states := make(map[Capability]State, len(caps))
		p.mu.Lock()
		for _, c := range pending {
			if allowed {
				p.states[c] = Granted
			} else {
				p.states[c] = Denied
			}
		}
		for _, c := range caps {
			states[c] = p.states[c]
		}
		p.mu.Unlock()
		done(states)
	}()
}

// TerminalPrompter asks a y/N question on a terminal.
//
// One goroutine reads In line by line for the prompter's lifetime. A read
// still pending when Ask's ctx is cancelled cannot be interrupted: it is
// abandoned to that goroutine and its line goes to the next Ask.
type TerminalPrompter struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string
	err   error // set before lines is closed
}

// NewTerminalPrompter returns a prompter reading answers from in and
// writing questions to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out}
}

func (t *TerminalPrompter) readLines() {
	t.lines = make(chan string)
	go func() {
		r := bufio.NewReader(t.in)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				t.lines <- line
			}
			if err != nil {
				t.err = err
				close(t.lines)
				return
			}
		}
	}()
}

func (t *TerminalPrompter) Ask(ctx context.Context, caps []Capability) (bool, error) {
	t.once.Do(t.readLines)

	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	fmt.Fprintf(t.out, "Allow StillGo to access: %s? [y/N] ", strings.Join(names, ", "))

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			if t.err == io.EOF {
				return false, nil
			}
			return false, fmt.Errorf("read answer: %w", t.err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
