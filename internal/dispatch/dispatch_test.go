package dispatch

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type DispatcherTestSuite struct {
	suite.Suite
	hook *test.Hook
	d    *Dispatcher
}

func (suite *DispatcherTestSuite) SetupTest() {
	logger, hook := test.NewNullLogger()
	suite.hook = hook
	d, err := New(Config{Lanes: 4, QueueSize: 8}, WithLogger(logger))
	suite.Require().NoError(err)
	suite.d = d
}

func (suite *DispatcherTestSuite) TearDownTest() {
	suite.NoError(suite.d.Stop(time.Second))
}

func (suite *DispatcherTestSuite) TestSameKeyRunsInOrder() {
	// GOAL: Verify tasks submitted under one key run serially in submission order
	//
	// TEST SCENARIO: Submit 200 tasks on one key → wait for all → recorded order equals submission order
	const n = 200
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		suite.Require().NoError(suite.d.Schedule("feature/AA/Temperature", func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	suite.Require().Len(order, n)
	for i := range order {
		suite.Equal(i, order[i])
	}
}

func (suite *DispatcherTestSuite) TestDifferentKeysRunConcurrently() {
	// GOAL: Verify a blocked lane does not stall keys that hash to other lanes
	//
	// TEST SCENARIO: Block one lane → schedule on a key of another lane → it completes while the first is still blocked
	blocked := "node/AA"
	other := ""
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("node/%02d", i)
		if suite.d.Lane(k) != suite.d.Lane(blocked) {
			other = k
			break
		}
	}
	suite.Require().NotEmpty(other)

	release := make(chan struct{})
	suite.Require().NoError(suite.d.Schedule(blocked, func() { <-release }))

	done := make(chan struct{})
	suite.Require().NoError(suite.d.Schedule(other, func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		suite.Fail("task on another lane did not run")
	}
	close(release)
}

func (suite *DispatcherTestSuite) TestPanicIsRecoveredAndLogged() {
	done := make(chan struct{})
	suite.Require().NoError(suite.d.Schedule("manager", func() { panic("listener bug") }))
	suite.Require().NoError(suite.d.Schedule("manager", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		suite.Fail("lane stopped after a panic")
	}

	suite.Require().NotEmpty(suite.hook.AllEntries())
	entry := suite.hook.AllEntries()[0]
	suite.Equal(logrus.ErrorLevel, entry.Level)
	suite.Equal("listener bug", entry.Data["panic"])
	suite.Equal(int64(1), suite.d.Stats().Failed)
}

func (suite *DispatcherTestSuite) TestLaneIsStable() {
	suite.Equal(suite.d.Lane("node/AA:BB"), suite.d.Lane("node/AA:BB"))
	suite.GreaterOrEqual(suite.d.Lane("x"), 0)
	suite.Less(suite.d.Lane("x"), 4)
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func TestDispatcher_StopDrainsAndRejects(t *testing.T) {
	d, err := New(Config{Lanes: 2, QueueSize: 16})
	require.NoError(t, err)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Schedule("node/AA", func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}

	require.NoError(t, d.Stop(time.Second))
	assert.Equal(t, 10, ran)
	assert.ErrorIs(t, d.Schedule("node/AA", func() {}), ErrDispatcherStopped)
	assert.NoError(t, d.Stop(time.Second))
}

func TestDispatcher_Defaults(t *testing.T) {
	d, err := New(Config{}, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer func() { _ = d.Stop(time.Second) }()

	stats := d.Stats()
	assert.Equal(t, 8, stats.Workers)
	assert.Equal(t, 8*256, stats.QueueSize)
}

func TestDispatcher_InvalidConfig(t *testing.T) {
	_, err := New(Config{Lanes: -1})
	assert.Error(t, err)
}

func TestDispatcher_ScheduleRacingStop(t *testing.T) {
	d, err := New(Config{Lanes: 2, QueueSize: 4})
	require.NoError(t, err)

	var ran, accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for {
				if err := d.Schedule(key, func() { ran.Add(1) }); err != nil {
					assert.ErrorIs(t, err, ErrDispatcherStopped)
					return
				}
				accepted.Add(1)
			}
		}("node/" + strconv.Itoa(i))
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, d.Stop(5*time.Second))
	wg.Wait()
	assert.Equal(t, accepted.Load(), ran.Load(), "a task Schedule accepted always runs")
}

func TestSerial_OrdersTasksPerKey(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewSerial(logger)

	var mu sync.Mutex
	got := map[string][]int{}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		for _, key := range []string{"feature/AA/Temperature", "feature/AA/Humidity"} {
			wg.Add(1)
			require.NoError(t, s.Schedule(key, func() {
				defer wg.Done()
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			}))
		}
	}
	wg.Add(1)
	require.NoError(t, s.Schedule("feature/AA/Temperature", func() {
		defer wg.Done()
		panic("boom")
	}))
	wg.Add(1)
	require.NoError(t, s.Schedule("feature/AA/Temperature", func() { wg.Done() }))
	wg.Wait()

	for key, seq := range got {
		require.Len(t, seq, 100, key)
		for i, v := range seq {
			assert.Equal(t, i, v, "%s runs in submission order", key)
		}
	}
	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Listener panicked" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}
