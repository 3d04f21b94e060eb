package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendermint/aquarius/internal/chain"
	"github.com/tendermint/aquarius/libs/log"
)

func TestProcessCurrentBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	m := NewMonitor(log.TestingLogger(), f.indexer, MonitorConfig{StartBlock: 5, ChunkSize: 4})

	last, err := m.LastBlock(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 4, last)

	f.publishPlain(t, chain.EventMetadataCreated, 7, testDDO())
	f.node.SetHeight(14)
	require.NoError(t, m.ProcessCurrentBlocks(ctx))
	f.get(t)

	last, err = m.LastBlock(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 14, last)

	// 5-8, 9-12, 13-14, three event groups each
	assert.Len(t, f.node.GetLogsCalls, 9)
	assert.EqualValues(t, 5, f.node.GetLogsCalls[0].FromBlock)
	assert.EqualValues(t, 8, f.node.GetLogsCalls[0].ToBlock)
	assert.EqualValues(t, 13, f.node.GetLogsCalls[8].FromBlock)

	// nothing new
	require.NoError(t, m.ProcessCurrentBlocks(ctx))
	assert.Len(t, f.node.GetLogsCalls, 9)
}

func TestProcessCurrentBlocksKeepsLastBlockOnError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	m := NewMonitor(log.TestingLogger(), f.indexer, MonitorConfig{ChunkSize: 10})
	f.node.SetHeight(5)
	require.NoError(t, m.ProcessCurrentBlocks(ctx))

	f.node.SetHeight(30)
	f.node.Err = assert.AnError
	require.Error(t, m.ProcessCurrentBlocks(ctx))
	f.node.Err = nil

	last, err := m.LastBlock(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, last)
}

func TestResetChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.publishPlain(t, chain.EventMetadataCreated, 3, testDDO())
	require.NoError(t, f.indexer.ProcessBlockRange(ctx, 0, 3))
	require.NoError(t, f.store.SetLastBlock(ctx, testChainID, 3))

	n, err := ResetChain(ctx, f.store, testChainID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.missing(t)
	_, ok, err := f.store.LastBlock(ctx, testChainID)
	require.NoError(t, err)
	assert.False(t, ok)
}

type countingUpdater struct{ n int32 }

func (u *countingUpdater) Update(context.Context) error {
	atomic.AddInt32(&u.n, 1)
	return nil
}

func (u *countingUpdater) count() int32 { return atomic.LoadInt32(&u.n) }

func TestMonitorStartStop(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, Config{})
	f.publishPlain(t, chain.EventMetadataCreated, 3, testDDO())
	heads := make(chan int64)
	updater := &countingUpdater{}
	m := NewMonitor(log.TestingLogger(), f.indexer, MonitorConfig{
		ChunkSize: 100,
		SleepTime: time.Hour,
	}, WithHeads(heads), WithUpdaters(updater))

	require.NoError(t, m.Start(ctx))
	require.Eventually(t, func() bool { return updater.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	f.get(t)

	chains, err := f.store.Chains(ctx)
	require.NoError(t, err)
	assert.True(t, chains["8996"])

	// a new head cuts the sleep short
	f.node.SetHeight(20)
	heads <- 20
	require.Eventually(t, func() bool { return updater.count() == 2 }, 5*time.Second, 10*time.Millisecond)
	last, err := m.LastBlock(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 20, last)

	require.NoError(t, m.Stop())
	cancel()
	m.Wait()
}

func TestMonitorCleanStart(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, Config{})
	stale := testDDO()
	require.NoError(t, f.store.Put(ctx, stale))
	require.NoError(t, f.store.SetLastBlock(ctx, testChainID, 50))

	updater := &countingUpdater{}
	m := NewMonitor(log.TestingLogger(), f.indexer, MonitorConfig{
		StartBlock: 10,
		ChunkSize:  100,
		SleepTime:  time.Hour,
		CleanStart: true,
	}, WithUpdaters(updater))
	require.NoError(t, m.Start(ctx))
	require.Eventually(t, func() bool { return updater.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	f.missing(t)
	// height 0 is below the start block: nothing recorded yet
	last, err := m.LastBlock(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 9, last)

	require.NoError(t, m.Stop())
	cancel()
	m.Wait()
}
