package buffer

// Arena is a fixed-capacity byte buffer with an explicit valid-length cursor.
// Bytes past Len are scratch and must not be read. The backing array is
// allocated once and reused until the arena is discarded.
type Arena struct {
	name string
	data []byte
	n    int
}

// NewArena allocates an arena of the given capacity.
func NewArena(name string, capacity int) *Arena {
	return &Arena{name: name, data: make([]byte, capacity)}
}

func (a *Arena) Cap() int { return len(a.data) }
func (a *Arena) Len() int { return a.n }

// Bytes returns the valid region. The slice aliases the arena and is only
// good until the next Reset or Reserve.
func (a *Arena) Bytes() []byte { return a.data[:a.n] }

// Reset discards the valid region.
func (a *Arena) Reset() { a.n = 0 }

// Reserve extends the valid region by n bytes and returns it for the caller
// to fill in place.
func (a *Arena) Reserve(n int) ([]byte, error) {
	if n < 0 || a.n+n > len(a.data) {
		return nil, &CapacityError{Owner: a.name, Required: a.n + n, Capacity: len(a.data)}
	}
	b := a.data[a.n : a.n+n]
	a.n += n
	return b, nil
}

// Append copies p after the valid region.
func (a *Arena) Append(p []byte) error {
	b, err := a.Reserve(len(p))
	if err != nil {
		return err
	}
	copy(b, p)
	return nil
}

// Truncate shrinks the valid region to n bytes.
func (a *Arena) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < a.n {
		a.n = n
	}
}
