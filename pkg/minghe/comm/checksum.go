package comm

// Checksum accumulates the LRC of a frame.
// It is reset at the start of every frame and is not safe for concurrent use.
type Checksum struct {
	counter byte
}

// Reset clears the accumulated state.
func (c *Checksum) Reset() {
	c.counter = 0
}

// Add accumulates one byte.
func (c *Checksum) Add(b byte) {
	// repeated subtraction, the sum never exceeds 25+255.
	n := uint16(c.counter) + uint16(b)
	for n >= 26 {
		n -= 26
	}
	c.counter = byte(n)
}

// Write implements io.Writer and never fails.
func (c *Checksum) Write(p []byte) (int, error) {
	for _, b := range p {
		c.Add(b)
	}
	return len(p), nil
}

// Char returns the LRC character for the bytes added since last Reset.
func (c *Checksum) Char() byte {
	return 'A' + c.counter
}

// ChecksumOf computes the LRC character of p.
func ChecksumOf(p []byte) byte {
	var c Checksum
	c.Write(p)
	return c.Char()
}

func isUpper(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
