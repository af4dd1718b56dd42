// Package params stages live parameter updates for the control loop. Typed
// messages and config file edits are applied to a staged copy of the
// configuration; the loop picks the staged copy up at a tick boundary.
package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/hip_exo/internal/config"
)

// Kind of a parsed message.
type Kind int

const (
	// Reapply asks the loop to push the staged config again.
	Reapply Kind = iota
	Quit
	Update
)

// Message is one parsed line of operator input.
type Message struct {
	Kind   Kind
	Letter byte
	Args   []float64
	Note   string
}

const usage = `message must be "a", "quit" or a letter followed by its values and "!", e.g. k300! or c12,0.55,15,0.2!`

// argument counts per letter; f and e take one or two values
var arity = map[byte][]int{
	'v': {4},
	'k': {1},
	's': {1},
	'p': {1},
	'f': {1, 2},
	'e': {1, 2},
	'c': {4},
	't': {4},
	'u': {8},
}

// Parse turns one input line into a Message. Malformed input returns an
// error wrapping config.ErrConfiguration.
func Parse(line string) (Message, error) {
	msg := strings.TrimSpace(line)
	switch {
	case msg == "a":
		return Message{Kind: Reapply}, nil
	case len(msg) < 3:
		return Message{}, fmt.Errorf("%w: %s", config.ErrConfiguration, usage)
	case strings.EqualFold(msg, "quit"):
		return Message{Kind: Quit}, nil
	case !strings.HasSuffix(msg, "!"):
		return Message{}, fmt.Errorf("%w: cannot interpret %q", config.ErrConfiguration, msg)
	}

	letter := msg[0]
	content := msg[1 : len(msg)-1]
	if letter == '-' {
		return Message{Kind: Update, Letter: letter, Note: content}, nil
	}

	counts, ok := arity[letter]
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown parameter letter %q", config.ErrConfiguration, letter)
	}

	var args []float64
	for _, field := range strings.Split(content, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %c message: bad number %q", config.ErrConfiguration, letter, field)
		}
		args = append(args, v)
	}
	if !containsInt(counts, len(args)) {
		return Message{}, fmt.Errorf("%w: %c message takes %v values, got %d", config.ErrConfiguration, letter, counts, len(args))
	}

	switch letter {
	case 'k':
		if args[0] < 0 || args[0] != math.Trunc(args[0]) {
			return Message{}, fmt.Errorf("%w: k needs a single non-negative integer", config.ErrConfiguration)
		}
	case 's':
		if args[0] != math.Trunc(args[0]) {
			return Message{}, fmt.Errorf("%w: s needs a single integer", config.ErrConfiguration)
		}
	case 'p':
		if args[0] != math.Trunc(args[0]) || args[0] < 0 || args[0] > 40 {
			return Message{}, fmt.Errorf("%w: p needs an integer peak torque in 0..40", config.ErrConfiguration)
		}
	}

	return Message{Kind: Update, Letter: letter, Args: args}, nil
}

func containsInt(vs []int, v int) bool {
	for _, x := range vs {
		if x == v {
			return true
		}
	}
	return false
}

// Apply writes an Update message into cfg. Reapply and Quit do nothing.
func (m Message) Apply(cfg *config.Config) error {
	if m.Kind != Update {
		return nil
	}
	a := m.Args
	switch m.Letter {
	case 'v':
		cfg.RiseFraction, cfg.PeakTorque, cfg.PeakFraction, cfg.FallFraction = a[0], a[1], a[2], a[3]
	case 'k':
		cfg.KVal = int(a[0])
		cfg.BVal = int(math.Round(cfg.BRatio * a[0]))
	case 's':
		cfg.SetPoint = a[0]
	case 'p':
		cfg.PeakTorque = a[0]
	case 'f':
		cfg.FlexionMaxTorque = a[0]
		if len(a) == 2 {
			cfg.PeakFraction = a[1]
		}
	case 'e':
		// magnitude of extension, stored as a negative torque
		cfg.ExtensionMinTorque = -a[0]
		if len(a) == 2 {
			cfg.MinFraction = a[1]
		}
	case 'c':
		applyHipShape(cfg, a)
	case 't':
		applyHipTiming(cfg, a)
	case 'u':
		applyHipTiming(cfg, a[:4])
		applyHipShape(cfg, a[4:])
	case '-':
		cfg.ExperimenterNotes = m.Note
	default:
		return fmt.Errorf("%w: unknown parameter letter %q", config.ErrConfiguration, m.Letter)
	}
	return nil
}

// flexion max, peak fraction, extension magnitude, min fraction
func applyHipShape(cfg *config.Config, a []float64) {
	cfg.FlexionMaxTorque = a[0]
	cfg.PeakFraction = a[1]
	cfg.ExtensionMinTorque = -a[2]
	cfg.MinFraction = a[3]
}

// peak fraction, first zero, min fraction, second zero
func applyHipTiming(cfg *config.Config, a []float64) {
	cfg.PeakFraction = a[0]
	cfg.FirstZero = a[1]
	cfg.MinFraction = a[2]
	cfg.SecondZero = a[3]
}
