package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/srg/bluest/internal/ptyio"
	"github.com/srg/bluest/registry"
)

func (s *CommandTestSuite) TestConsole_RequiresAddress() {
	_, err := s.ExecuteCommand("console")
	s.Require().Error(err)
	s.Contains(err.Error(), "accepts 1 arg(s), received 0")
}

func (s *CommandTestSuite) TestConsole_Bridge() {
	// GOAL: Verify console exposes the debug service on a PTY behind --link
	//
	// TEST SCENARIO: node with debug characteristics → console --link → symlink appears,
	//                stdout subscribed → on exit symlink removed and subscriptions closed

	probe, err := ptyio.Open(ptyio.Options{})
	if err != nil {
		s.T().Skipf("PTY not available: %v", err)
	}
	_ = probe.Close()

	link := filepath.Join(s.T().TempDir(), "node")
	s.envNode(0, registry.DebugTerminal, registry.DebugStderr)

	done := s.runAsync("console", addrA, "--link", link, "--duration", "300ms")
	s.waitSubscribed(registry.DebugTerminal)
	s.Require().Eventually(func() bool {
		_, err := os.Lstat(link)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond, "symlink MUST be created")
	s.True(s.transport.Subscribed(addrA, registry.DebugStderr))

	res := <-done
	s.Require().NoError(res.err)
	s.Contains(res.out, "Console of ENV @00000A on ")
	s.Contains(res.out, "Symlink: "+link)

	_, err = os.Lstat(link)
	s.True(os.IsNotExist(err), "symlink MUST be removed on exit")
	s.False(s.transport.Subscribed(addrA, registry.DebugTerminal))
}

func (s *CommandTestSuite) TestConsole_NoDebugService() {
	// GOAL: Verify nodes without a debug terminal are reported
	//
	// TEST SCENARIO: node exposes only a feature characteristic → console fails to open

	s.envNode(temperatureMask, temperatureChar)

	_, err := s.ExecuteCommand("console", addrA)
	s.Require().Error(err)
	s.Equal(1, s.transport.Calls("Disconnect"), "the link MUST be closed on failure")
}
