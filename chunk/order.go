package chunk

import "fmt"

// Order validates a stream of frame tags against START, CONTINUE..., FINAL.
// The zero value expects a START or START_FINAL.
type Order struct {
	open bool
	last Tag
}

// Observe records tag, returning ErrOutOfOrder if it cannot follow the
// previously observed tags. An out-of-order tag resets the tracker.
func (o *Order) Observe(tag Tag) error {
	switch tag {
	case TagStart:
		if o.open {
			return o.reject(tag)
		}
		o.open = true
	case TagStartFinal:
		if o.open {
			return o.reject(tag)
		}
	case TagContinue:
		if !o.open {
			return o.reject(tag)
		}
	case TagFinal:
		if !o.open {
			return o.reject(tag)
		}
		o.open = false
	default:
		return o.reject(tag)
	}
	o.last = tag
	return nil
}

// Active reports whether a sequence is started but not finished.
func (o *Order) Active() bool {
	return o.open
}

// Reset discards any started sequence.
func (o *Order) Reset() {
	o.open = false
	o.last = 0
}

func (o *Order) reject(tag Tag) error {
	prev := "nothing"
	if o.open {
		prev = o.last.String()
	}
	o.Reset()
	return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, tag, prev)
}
