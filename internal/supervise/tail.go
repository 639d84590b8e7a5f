package supervise

import "sync"

// tailBuffer keeps the last maxBytes of captured output. Truncation happens
// at line granularity; the oldest lines go first.
type tailBuffer struct {
	mu       sync.Mutex
	lines    []string
	size     int
	maxBytes int
}

func newTailBuffer(maxBytes int) *tailBuffer {
	return &tailBuffer{maxBytes: maxBytes}
}

// WriteLine appends a line, evicting from the front when over budget
func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lines = append(t.lines, line)
	t.size += len(line) + 1

	for t.maxBytes > 0 && t.size > t.maxBytes && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

// String returns the buffered tail joined with newlines
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.lines) == 0 {
		return ""
	}

	out := make([]byte, 0, t.size)
	for i, line := range t.lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, line...)
	}
	return string(out)
}
