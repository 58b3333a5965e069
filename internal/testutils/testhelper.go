package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records every entry.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// CreateAdvertisement starts a BlueST advertisement for address.
func CreateAdvertisement(address string, deviceType uint8, mask uint32) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithAddress(address).WithDeviceType(deviceType).WithFeatureMask(mask)
}

func CreateAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

func CreateFakeTransportFromJSON(jsonStrFmt string, args ...interface{}) *FakeTransport {
	return NewFakeTransport().FromJSON(jsonStrFmt, args...)
}

// InlineScheduler runs every task immediately on the calling goroutine and
// remembers the keys it was given.
type InlineScheduler struct {
	mu   sync.Mutex
	keys []string
	// Err, when set, is returned instead of running the task.
	Err error
}

func (s *InlineScheduler) Schedule(key string, task func()) error {
	s.mu.Lock()
	if s.Err != nil {
		err := s.Err
		s.mu.Unlock()
		return err
	}
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	task()
	return nil
}

// Keys returns the keys of every task run so far.
func (s *InlineScheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// LoadScript reads a Lua script by its path from the module root, so tests
// in any package can load the decoders shipped under scripts/.
func LoadScript(path string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("load script %s: module root not found", path)
		}
		dir = up
	}

	src, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		return "", fmt.Errorf("load script %s: %w", path, err)
	}
	return string(src), nil
}
