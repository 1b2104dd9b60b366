// Package fetchertest provides an in-memory FTP server for tests that
// download address archives.
package fetchertest

import (
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
)

// FTPServer serves files from memory over the passive-mode subset of FTP
// that the fetcher uses: USER, PASS, TYPE, EPSV, PASV, RETR and QUIT.
// Logins are always accepted.
type FTPServer struct {
	ln    net.Listener
	files map[string][]byte

	mu      sync.Mutex
	busy    map[string]int
	aborted map[string]int
	retrs   map[string]int

	wg sync.WaitGroup
}

// NewFTPServer starts a server on a loopback port. It is closed when the test ends.
func NewFTPServer(tb testing.TB, files map[string][]byte) *FTPServer {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("fetchertest: listen: %v", err)
	}
	s := &FTPServer{
		ln:      ln,
		files:   files,
		busy:    map[string]int{},
		aborted: map[string]int{},
		retrs:   map[string]int{},
	}
	s.wg.Add(1)
	go s.accept()
	tb.Cleanup(s.Close)
	return s
}

// URL returns the ftp:// URL of path on this server.
func (s *FTPServer) URL(path string) string {
	return "ftp://" + s.ln.Addr().String() + path
}

// Busy makes the next n retrievals of path fail with "450 file busy".
func (s *FTPServer) Busy(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[path] = n
}

// Abort makes the next n retrievals of path send half the file and then
// report "426 transfer aborted".
func (s *FTPServer) Abort(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted[path] = n
}

// Retrievals returns how many times path was requested with RETR.
func (s *FTPServer) Retrievals(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrs[path]
}

// Close stops the server and waits for open sessions to end.
func (s *FTPServer) Close() {
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *FTPServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

// session is one control connection.
type session struct {
	srv  *FTPServer
	ctl  *textproto.Conn
	data net.Listener
}

func (s *FTPServer) serve(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	ss := &session{srv: s, ctl: textproto.NewConn(conn)}
	defer ss.ctl.Close() //nolint:errcheck
	defer ss.closeData()

	if ss.reply(220, "address archive server ready") != nil {
		return
	}
	for {
		line, err := ss.ctl.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "USER", "PASS":
			err = ss.reply(230, "logged in")
		case "TYPE":
			err = ss.reply(200, "type set to "+arg)
		case "EPSV":
			err = ss.passive(true)
		case "PASV":
			err = ss.passive(false)
		case "RETR":
			err = ss.retrieve(arg)
		case "QUIT":
			_ = ss.reply(221, "bye")
			return
		default:
			err = ss.reply(502, "not implemented")
		}
		if err != nil {
			return
		}
	}
}

func (ss *session) reply(code int, msg string) error {
	return ss.ctl.PrintfLine("%d %s", code, msg)
}

func (ss *session) closeData() {
	if ss.data != nil {
		_ = ss.data.Close()
		ss.data = nil
	}
}

func (ss *session) passive(extended bool) error {
	ss.closeData()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return ss.reply(425, "cannot open data connection")
	}
	ss.data = ln
	port := ln.Addr().(*net.TCPAddr).Port
	if extended {
		return ss.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", port))
	}
	return ss.reply(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256))
}

// outcome decides how a RETR of path is answered and counts the request.
func (s *FTPServer) outcome(path string) (content []byte, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrs[path]++

	content, ok := s.files[path]
	switch {
	case !ok:
		return nil, 550
	case s.busy[path] > 0:
		s.busy[path]--
		return nil, 450
	case s.aborted[path] > 0:
		s.aborted[path]--
		return content[:len(content)/2], 426
	}
	return content, 226
}

func (ss *session) retrieve(path string) error {
	if ss.data == nil {
		return ss.reply(425, "use EPSV or PASV first")
	}
	defer ss.closeData()

	content, code := ss.srv.outcome(path)
	switch code {
	case 550:
		return ss.reply(550, "file not found")
	case 450:
		return ss.reply(450, "file busy, try again later")
	}

	if err := ss.reply(150, "opening data connection"); err != nil {
		return err
	}
	conn, err := ss.data.Accept()
	if err != nil {
		return ss.reply(425, "cannot open data connection")
	}
	_, _ = conn.Write(content)
	_ = conn.Close()

	if code == 426 {
		return ss.reply(426, "connection closed, transfer aborted")
	}
	return ss.reply(226, "transfer complete")
}
