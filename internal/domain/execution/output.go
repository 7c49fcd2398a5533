package execution

import "encoding/json"

// OutputBuffer keeps the most recent stdout lines of a run. Older lines are
// overwritten.
type OutputBuffer struct {
	lines []string
	next  int
	count int
}

// NewOutputBuffer creates a buffer holding up to size lines.
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = DefaultOutputLines
	}
	return &OutputBuffer{lines: make([]string, size)}
}

// Push appends a line, discarding the oldest when full.
func (b *OutputBuffer) Push(line string) {
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.count < len(b.lines) {
		b.count++
	}
}

// Lines returns the retained lines, oldest first.
func (b *OutputBuffer) Lines() []string {
	if b == nil || b.count == 0 {
		return nil
	}
	out := make([]string, 0, b.count)
	start := (b.next - b.count + len(b.lines)) % len(b.lines)
	for i := range b.count {
		out = append(out, b.lines[(start+i)%len(b.lines)])
	}
	return out
}

// Len returns the number of retained lines.
func (b *OutputBuffer) Len() int {
	return b.count
}

// Clone returns an independent copy.
func (b *OutputBuffer) Clone() *OutputBuffer {
	if b == nil {
		return nil
	}
	cp := &OutputBuffer{lines: make([]string, len(b.lines)), next: b.next, count: b.count}
	copy(cp.lines, b.lines)
	return cp
}

// MarshalJSON encodes the retained lines as an array.
func (b *OutputBuffer) MarshalJSON() ([]byte, error) {
	lines := b.Lines()
	if lines == nil {
		lines = []string{}
	}
	return json.Marshal(lines)
}

// UnmarshalJSON restores lines, keeping the buffer capacity when already set.
func (b *OutputBuffer) UnmarshalJSON(data []byte) error {
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	size := len(b.lines)
	if size == 0 {
		size = max(len(lines), DefaultOutputLines)
	}
	*b = *NewOutputBuffer(size)
	for _, l := range lines {
		b.Push(l)
	}
	return nil
}
