package console_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/srg/bluest/console"
	"github.com/srg/bluest/internal/ptyio"
	"github.com/srg/bluest/registry"
)

func (s *ConsoleTestSuite) TestBridge() {
	// GOAL: the PTY bridge relays in both directions
	//
	// TEST SCENARIO: open bridge with symlink → node output appears on the slave →
	// text typed on the slave is written to the terminal characteristic → close removes link
	s.open()
	link := filepath.Join(s.T().TempDir(), "node")

	b, err := console.NewBridge(s.console, console.BridgeOptions{
		Link:   link,
		Logger: s.helper.Logger,
		PTY:    ptyio.Options{PollTimeout: 10 * time.Millisecond},
	})
	if err != nil {
		s.T().Skipf("PTY not available: %v", err)
	}

	target, err := os.Readlink(link)
	s.Require().NoError(err)
	s.Equal(b.TTYName(), target)
	s.Equal(link, b.Link())

	slave, err := os.OpenFile(b.TTYName(), os.O_RDWR, 0)
	s.Require().NoError(err)
	defer slave.Close()

	s.transport.Notify(consoleAddr, registry.DebugTerminal, []byte("ready"))
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := slave.Read(buf)
		got <- string(buf[:n])
	}()
	select {
	case text := <-got:
		s.Equal("ready", text)
	case <-time.After(2 * time.Second):
		s.Fail("node output never reached the terminal")
	}

	_, err = slave.Write([]byte("help\n"))
	s.Require().NoError(err)
	s.Eventually(func() bool {
		for _, w := range s.transport.Writes() {
			if string(w.Data) == "help\n" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	s.Require().NoError(b.Close())
	_, err = os.Lstat(link)
	s.True(os.IsNotExist(err))
}
