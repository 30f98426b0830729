package tui

import "strings"

// DefaultBufferSize is the default number of engine output lines kept.
const DefaultBufferSize = 500

// RingBuffer provides fixed-size line storage with O(1) operations.
// When the buffer is full, the oldest lines are discarded.
type RingBuffer struct {
	data  []string
	size  int
	head  int // next write position
	tail  int // oldest element
	count int
}

// NewRingBuffer creates a new RingBuffer with the specified capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		data: make([]string, capacity),
		size: capacity,
	}
}

// Append adds a line to the buffer, overwriting the oldest when full.
func (rb *RingBuffer) Append(line string) {
	rb.data[rb.head] = line
	rb.head = (rb.head + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.tail = (rb.tail + 1) % rb.size
	}
}

// Lines returns all lines from oldest to newest.
func (rb *RingBuffer) Lines() []string {
	if rb.count == 0 {
		return nil
	}

	result := make([]string, rb.count)
	for i := 0; i < rb.count; i++ {
		result[i] = rb.data[(rb.tail+i)%rb.size]
	}
	return result
}

// Last returns up to n of the newest lines.
func (rb *RingBuffer) Last(n int) []string {
	lines := rb.Lines()
	if n >= 0 && len(lines) > n {
		return lines[len(lines)-n:]
	}
	return lines
}

// Count returns the number of lines currently in the buffer.
func (rb *RingBuffer) Count() int {
	return rb.count
}

// Clear removes all lines from the buffer.
func (rb *RingBuffer) Clear() {
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// OutputStream splits raw engine chunks into display lines. Engines redraw
// progress with carriage returns, so \r ends a line like \n does.
type OutputStream struct {
	buffer  *RingBuffer
	partial strings.Builder
}

// NewOutputStream creates an OutputStream keeping bufferSize lines.
func NewOutputStream(bufferSize int) *OutputStream {
	return &OutputStream{buffer: NewRingBuffer(bufferSize)}
}

// Write appends a chunk of output.
func (o *OutputStream) Write(data []byte) {
	for _, b := range data {
		switch b {
		case '\n', '\r':
			o.flush()
		default:
			o.partial.WriteByte(b)
		}
	}
}

func (o *OutputStream) flush() {
	if o.partial.Len() == 0 {
		return
	}
	o.buffer.Append(o.partial.String())
	o.partial.Reset()
}

// Tail returns the newest n complete lines followed by any partial line.
func (o *OutputStream) Tail(n int) []string {
	if o.partial.Len() == 0 {
		return o.buffer.Last(n)
	}
	if n <= 1 {
		return []string{o.partial.String()}
	}
	return append(o.buffer.Last(n-1), o.partial.String())
}

// Reset discards all output.
func (o *OutputStream) Reset() {
	o.buffer.Clear()
	o.partial.Reset()
}
