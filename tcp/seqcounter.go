package tcp

// DefaultSeqStart is the first tag handed out by a counter created with
// NewSeqCounter(DefaultSeqStart).
const DefaultSeqStart = 1

// SeqCounter hands out the 8 bit tag stamped into the low byte of the
// sequence number of every emitted SYN. It wraps silently from 255 to 0.
//
// A SeqCounter is not a sequence space. Stampers sharing a counter
// share one monotonic (mod 256) tag stream across all destinations.
type SeqCounter struct {
	next uint8
}

// NewSeqCounter returns a counter whose first call to Next returns start.
func NewSeqCounter(start uint8) *SeqCounter {
	return &SeqCounter{next: start}
}

// Next returns the current tag and advances the counter.
func (c *SeqCounter) Next() uint8 {
	v := c.next
	c.next++
	return v
}

// Peek returns the tag the next call to Next will return.
func (c *SeqCounter) Peek() uint8 { return c.next }
