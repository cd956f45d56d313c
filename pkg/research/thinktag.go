package research

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

type tagState int

const (
	outsideTag tagState = iota
	insideTag
)

// ThinkTagProcessor splits a token stream into visible text and the
// reasoning enclosed in think tags. Markers may be split across chunks at
// any byte; bytes that could still be the start of a marker are held back
// until the next chunk decides them. A non-empty partial means the processor
// is matching a partial marker.
//
// A processor handles exactly one stream and is not safe for concurrent use.
type ThinkTagProcessor struct {
	open    string
	close   string
	state   tagState
	partial []byte
}

// NewThinkTagProcessor returns a processor for <think>...</think>.
func NewThinkTagProcessor() *ThinkTagProcessor {
	return NewTagProcessor(thinkOpenTag, thinkCloseTag)
}

// NewTagProcessor returns a processor for an arbitrary marker pair.
func NewTagProcessor(open, close string) *ThinkTagProcessor {
	return &ThinkTagProcessor{open: open, close: close}
}

func (p *ThinkTagProcessor) marker() string {
	if p.state == insideTag {
		return p.close
	}
	return p.open
}

// ProcessChunk routes chunk to onVisible or onReasoning. Output is delivered
// in arrival order; each callback invocation carries a non-empty string.
func (p *ThinkTagProcessor) ProcessChunk(chunk string, onVisible, onReasoning func(string)) {
	var out []byte
	flush := func() {
		if len(out) == 0 {
			return
		}
		if p.state == insideTag {
			onReasoning(string(out))
		} else {
			onVisible(string(out))
		}
		out = out[:0]
	}

	for i := 0; i < len(chunk); i++ {
		m := p.marker()
		p.partial = append(p.partial, chunk[i])
		n := len(p.partial)

		if p.partial[n-1] == m[n-1] {
			if n == len(m) {
				flush()
				p.partial = p.partial[:0]
				p.toggle()
			}
			continue
		}

		// Mismatch: release everything except the longest suffix that may
		// still begin the marker.
		keep := overlap(p.partial, m)
		out = append(out, p.partial[:n-keep]...)
		p.partial = append(p.partial[:0], p.partial[n-keep:]...)
	}
	flush()
}

// End flushes a held-back partial marker as visible text. It must be called
// once, after the last chunk.
func (p *ThinkTagProcessor) End(onVisible func(string)) {
	if len(p.partial) > 0 {
		onVisible(string(p.partial))
		p.partial = p.partial[:0]
	}
}

// Reasoning reports whether the processor is inside a think region.
func (p *ThinkTagProcessor) Reasoning() bool {
	return p.state == insideTag
}

func (p *ThinkTagProcessor) toggle() {
	if p.state == insideTag {
		p.state = outsideTag
	} else {
		p.state = insideTag
	}
}

// overlap returns the length of the longest proper suffix of b that is a
// prefix of m.
func overlap(b []byte, m string) int {
	for k := min(len(b)-1, len(m)-1); k > 0; k-- {
		if string(b[len(b)-k:]) == m[:k] {
			return k
		}
	}
	return 0
}
