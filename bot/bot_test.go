package bot

import (
	"testing"

	bc "backtestcore"
	"backtestcore/assettype"
	"backtestcore/feemodel"
	"backtestcore/latency"
	"backtestcore/sched"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	events []bc.Event
	i      int
	closed bool
}

func (s *sliceSource) Next() (bc.Event, bool) {
	if s.i >= len(s.events) {
		return bc.Event{}, false
	}
	ev := s.events[s.i]
	s.i++
	return ev, true
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

func validBuilder(src sched.EventSource) *AssetBuilder {
	return NewAssetBuilder().
		Data(src).
		LatencyModel(latency.Constant{Entry: 10, Response: 10}).
		AssetType(assettype.Linear{}).
		FeeModel(feemodel.MakerTaker{}).
		Depth(1.0, 0.0, 1000.0).
		StartingCash(100000)
}

func TestConfigBuildRequiresAtLeastOneAsset(t *testing.T) {
	_, err := NewConfig().Build()
	assert.Error(t, err)
}

func TestAssetBuilderRequiresMandatoryFields(t *testing.T) {
	_, err := NewConfig().AddAsset(NewAssetBuilder()).Build()
	assert.Error(t, err, "missing data/latency/asset type/fee model/tick size")
}

func TestConfigBuildSucceedsWithValidAsset(t *testing.T) {
	src := &sliceSource{}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestDepthPositionOrdersOutOfRangeAssetErrors(t *testing.T) {
	src := &sliceSource{}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)

	_, err = b.Depth(1)
	assert.Error(t, err)
	_, err = b.Position(5)
	assert.Error(t, err)
}

func TestSubmitBuyOrderWithoutWaitReturnsImmediately(t *testing.T) {
	src := &sliceSource{}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)

	require.NoError(t, b.SubmitBuyOrder(0, 1, 100.0, 5.0, bc.GTC, bc.Limit, false))
	orders, err := b.Orders(0)
	require.NoError(t, err)
	assert.Contains(t, orders, bc.OrderID(1))
}

func TestSubmitBuyOrderWithWaitResolvesToNewStatus(t *testing.T) {
	src := &sliceSource{}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)

	require.NoError(t, b.SubmitBuyOrder(0, 1, 100.0, 5.0, bc.GTC, bc.Limit, true))
	orders, err := b.Orders(0)
	require.NoError(t, err)
	assert.Equal(t, bc.StatusNew, orders[1].Status)
}

func TestCancelWithWaitResolvesOrder(t *testing.T) {
	src := &sliceSource{}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)

	require.NoError(t, b.SubmitBuyOrder(0, 1, 100.0, 5.0, bc.GTC, bc.Limit, true))
	require.NoError(t, b.Cancel(0, 1, true))

	orders, err := b.Orders(0)
	require.NoError(t, err)
	assert.Equal(t, bc.StatusCanceled, orders[1].Status)
}

func TestElapseStopsAtFirstAssetEndOfData(t *testing.T) {
	events := []bc.Event{
		{Flags: bc.ExchEvent | bc.LocalEvent | bc.AddOrderEvent | bc.BidFlag, Side: bc.Buy, Px: 100.0, Qty: 1.0, OrderID: 1, ExchTs: 5, LocalTs: 5},
	}
	src := &sliceSource{events: events}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)

	res, err := b.Elapse(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, sched.EndOfData, res)
}

func TestCloseClosesUnderlyingEventSources(t *testing.T) {
	src := &sliceSource{}
	b, err := NewConfig().AddAsset(validBuilder(src)).Build()
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.True(t, src.closed)
}
