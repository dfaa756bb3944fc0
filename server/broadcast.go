package server

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// transferBuf returns the single reusable read/write buffer, allocating
// it on first use. Its size is the larger of the system page size and the
// source pipe's preferred block size, and is fixed for the remaining
// lifetime of the server.
func (s *Server) transferBuf() ([]byte, error) {
	if s.buf != nil {
		return s.buf, nil
	}

	size := os.Getpagesize()
	if f, ok := s.source.out.(*os.File); ok {
		var st unix.Stat_t
		if err := unix.Fstat(int(f.Fd()), &st); err != nil {
			return nil, fmt.Errorf("statting source pipe: %w", err)
		}
		if int(st.Blksize) > size {
			size = int(st.Blksize)
		}
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid transfer buffer size %d", size)
	}

	s.log.Debugf("transfer buffer size: %d", size)
	s.buf = make([]byte, size)
	return s.buf, nil
}

// pump reads one full buffer from the source and writes it to every
// registered client in order. A failed or short read (including EOF) is
// fatal for the whole server. A write failure drops only the failing
// client; delivery to the remaining clients continues.
func (s *Server) pump() error {
	buf, err := s.transferBuf()
	if err != nil {
		return err
	}

	if _, err := io.ReadFull(s.source.out, buf); err != nil {
		return fmt.Errorf("reading from source: %w", err)
	}

	i := 0
	for i < s.clients.len() {
		c := s.clients.at(i)
		if _, err := c.conn.Write(buf); err != nil {
			s.log.Infof("drop client %s (%d/%d -> %d): %s", c.id, i, s.clients.len(), s.clients.len()-1, err)
			c.conn.Close()
			s.clients.removeAt(i)
			continue
		}
		i++
	}
	return nil
}
