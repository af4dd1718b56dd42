package params

import (
	"bufio"
	"context"
	"io"
	"log"
)

// Passer reads operator messages line by line and stages them. It never
// touches controller state.
type Passer struct {
	in     io.Reader
	shared *Shared
}

func NewPasser(in io.Reader, shared *Shared) *Passer {
	return &Passer{in: in, shared: shared}
}

// Run returns after a quit message, at end of input, or when ctx is done.
// A read blocked on a terminal cannot be interrupted; its goroutine is left
// to exit with the process.
func (p *Passer) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			msg, err := Parse(line)
			if err != nil {
				log.Printf("params: %v", err)
				continue
			}
			if err := p.shared.Handle(msg); err != nil {
				log.Printf("params: %v", err)
				continue
			}
			switch msg.Kind {
			case Quit:
				log.Println("params: quitting")
				return nil
			case Update:
				log.Printf("params: staged %q", line)
			}
		}
	}
}
