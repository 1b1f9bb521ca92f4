package resp

import (
	"bufio"
	"io"
)

// countingReader wraps a *bufio.Reader and tracks bytes consumed, so
// ReadCommand can report exactly how much wire traffic one command
// accounted for (spec §4.7: "every byte consumed is added to a
// per-server inbound-bytes counter").
type countingReader struct {
	r *bufio.Reader
	n int
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(c.r, p)
	c.n += n
	return n, err
}

// readLine reads up to and including a CRLF, returning the line without
// the terminator. maxLen bounds the line length excluding the
// terminator; exceeding it is a protocol violation (spec §4.7's 16 KiB
// inline-line cap, reused here as the general line cap since every
// non-bulk-data line in the protocol is inline-sized).
func readLine(c *countingReader, maxLen int) ([]byte, error) {
	var line []byte
	for {
		b, err := c.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) == 0 {
				return nil, err
			}
			return nil, protoErr("unexpected read error: %v", err)
		}
		if b == '\r' {
			nxt, err := c.ReadByte()
			if err != nil {
				return nil, protoErr("unexpected read error: %v", err)
			}
			if nxt != '\n' {
				return nil, protoErr("expected \\n after \\r")
			}
			return line, nil
		}
		line = append(line, b)
		if maxLen > 0 && len(line) > maxLen {
			return nil, protoErr("inline request too long, exceeds %d bytes", maxLen)
		}
	}
}

func readFull(c *countingReader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := c.Read(buf)
	if err != nil {
		return n, protoErr("unexpected read error: %v", err)
	}
	return n, nil
}

func readCRLF(c *countingReader) (int, error) {
	buf := make([]byte, 2)
	n, err := c.Read(buf)
	if err != nil {
		return n, protoErr("unexpected read error: %v", err)
	}
	if buf[0] != '\r' || buf[1] != '\n' {
		return n, protoErr("expected trailing CRLF after bulk data")
	}
	return n, nil
}
