// Package bot assembles the Exchange/Local/Scheduler triad into the
// strategy-facing surface of spec.md §6's Bot interface, and provides the
// builder-pattern configuration (spec.md §6's "Configuration" option set)
// a strategy uses to stand one up.
//
// Grounded on the cexoms-style BacktestConfig option-struct in
// other_examples/94e5e9ad_...internal-backtest-engine.go.go and the
// teacher's explicit constructor functions (engine.New(supportedAssets...)),
// generalized into a fluent builder since this package's config surface has
// more independently-optional knobs than the teacher's single constructor
// call.
package bot

import (
	"errors"
	"fmt"
	"io"

	bc "backtestcore"
	"backtestcore/assettype"
	"backtestcore/depth"
	"backtestcore/exchange"
	"backtestcore/feemodel"
	"backtestcore/latency"
	"backtestcore/local"
	"backtestcore/queuemodel"
	"backtestcore/sched"
	"backtestcore/state"

	"github.com/rs/zerolog"
)

// defaultResponseTimeout bounds how long WaitOrderResponse will advance the
// simulation looking for a specific order's response before giving up;
// spec.md's Bot surface does not name a unit for "wait", so this is simply
// "effectively the rest of the data" rather than a real wall/sim deadline.
const defaultResponseTimeout int64 = 1 << 60

// Bot is the strategy-facing surface of spec.md §6: a multi-asset handle
// onto elapse/depth/position/orders and order entry.
type Bot interface {
	Elapse(nanos int64) (sched.ElapseResult, error)
	CurrentTimestamp() int64

	Depth(assetNo int) (depth.L3MarketDepth, error)
	Position(assetNo int) (float64, error)
	StateValues(assetNo int) (state.Values, error)
	Orders(assetNo int) (map[bc.OrderID]bc.Order, error)
	LastTrades(assetNo int) ([]bc.Event, error)
	ClearLastTrades(assetNo int) error

	SubmitBuyOrder(assetNo int, id bc.OrderID, price, qty float64, tif bc.TimeInForce, ordType bc.OrdType, waitResponse bool) error
	SubmitSellOrder(assetNo int, id bc.OrderID, price, qty float64, tif bc.TimeInForce, ordType bc.OrdType, waitResponse bool) error
	Cancel(assetNo int, id bc.OrderID, wait bool) error
	ClearInactiveOrders(assetNo int) error

	Close() error
}

type asset struct {
	scheduler       *sched.Scheduler
	local           *local.LocalProcessor
	exchange        *exchange.PartialFillExchange
	data            sched.EventSource
	responseTimeout int64
}

type defaultBot struct {
	assets []*asset
	now    int64
}

// AssetBuilder collects one asset's configuration, per spec.md §6's
// per-asset option set (data, latency_model, asset_type, fee_model,
// last_trades_capacity, exchange, queue_model, depth).
type AssetBuilder struct {
	data               sched.EventSource
	latencyModel       latency.Model
	assetType          assettype.AssetType
	feeModel           feemodel.FeeModel
	lastTradesCapacity int
	tickSize           float64
	lowPrice, highPrice float64
	startingCash       float64
	responseTimeout    int64
	logger             zerolog.Logger
}

// NewAssetBuilder starts a fresh per-asset configuration.
func NewAssetBuilder() *AssetBuilder {
	return &AssetBuilder{
		responseTimeout: defaultResponseTimeout,
		logger:          zerolog.Nop(),
	}
}

func (b *AssetBuilder) Data(d sched.EventSource) *AssetBuilder { b.data = d; return b }
func (b *AssetBuilder) LatencyModel(m latency.Model) *AssetBuilder {
	b.latencyModel = m
	return b
}
func (b *AssetBuilder) AssetType(a assettype.AssetType) *AssetBuilder { b.assetType = a; return b }
func (b *AssetBuilder) FeeModel(f feemodel.FeeModel) *AssetBuilder    { b.feeModel = f; return b }
func (b *AssetBuilder) LastTradesCapacity(n int) *AssetBuilder {
	b.lastTradesCapacity = n
	return b
}
func (b *AssetBuilder) Depth(tickSize, lowPrice, highPrice float64) *AssetBuilder {
	b.tickSize = tickSize
	b.lowPrice = lowPrice
	b.highPrice = highPrice
	return b
}
func (b *AssetBuilder) StartingCash(cash float64) *AssetBuilder { b.startingCash = cash; return b }
func (b *AssetBuilder) ResponseTimeout(ns int64) *AssetBuilder  { b.responseTimeout = ns; return b }
func (b *AssetBuilder) Logger(l zerolog.Logger) *AssetBuilder   { b.logger = l; return b }

func (b *AssetBuilder) build() (*asset, error) {
	if b.data == nil {
		return nil, errors.New("bot: asset requires a data source")
	}
	if b.latencyModel == nil {
		return nil, errors.New("bot: asset requires a latency model")
	}
	if b.assetType == nil {
		return nil, errors.New("bot: asset requires an asset type")
	}
	if b.feeModel == nil {
		return nil, errors.New("bot: asset requires a fee model")
	}
	if b.tickSize <= 0 {
		return nil, errors.New("bot: asset requires a positive tick size")
	}

	exchDepth := depth.NewBTreeDepth(b.tickSize, b.lowPrice, b.highPrice)
	localDepth := depth.NewBTreeDepth(b.tickSize, b.lowPrice, b.highPrice)
	qm := queuemodel.NewL3FIFOQueueModel()

	exchState := state.New(b.assetType, b.feeModel, b.startingCash)
	localState := state.New(b.assetType, b.feeModel, b.startingCash)

	x := exchange.New(exchDepth, qm, exchState, b.latencyModel, b.logger)
	l := local.New(localDepth, localState, b.latencyModel, b.lastTradesCapacity, b.logger)
	s := sched.New(b.data, x, l, b.logger)

	return &asset{
		scheduler:       s,
		local:           l,
		exchange:        x,
		data:            b.data,
		responseTimeout: b.responseTimeout,
	}, nil
}

// Config collects every asset's configuration for a multi-asset run.
type Config struct {
	builders []*AssetBuilder
}

// NewConfig starts an empty multi-asset configuration.
func NewConfig() *Config { return &Config{} }

// AddAsset registers one asset's builder, in the order assetNo addresses
// refer to it by.
func (c *Config) AddAsset(b *AssetBuilder) *Config {
	c.builders = append(c.builders, b)
	return c
}

// Build validates and constructs every configured asset's Exchange/Local/
// Scheduler triad, returning a ready-to-run Bot.
func (c *Config) Build() (Bot, error) {
	if len(c.builders) == 0 {
		return nil, errors.New("bot: at least one asset is required")
	}
	assets := make([]*asset, 0, len(c.builders))
	for i, b := range c.builders {
		a, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("bot: asset %d: %w", i, err)
		}
		assets = append(assets, a)
	}
	return &defaultBot{assets: assets}, nil
}

func (bt *defaultBot) assetAt(assetNo int) (*asset, error) {
	if assetNo < 0 || assetNo >= len(bt.assets) {
		return nil, fmt.Errorf("bot: asset %d out of range", assetNo)
	}
	return bt.assets[assetNo], nil
}

// Elapse advances every asset's scheduler by ns nanoseconds. Assets are
// independent event streams, so they are stepped one at a time; the first
// EndOfData or error from any asset ends the call, per spec.md §4.6.
func (bt *defaultBot) Elapse(nanos int64) (sched.ElapseResult, error) {
	for _, a := range bt.assets {
		res, err := a.scheduler.Elapse(nanos)
		if err != nil {
			return sched.Ok, err
		}
		if res == sched.EndOfData {
			return sched.EndOfData, nil
		}
	}
	bt.now += nanos
	return sched.Ok, nil
}

func (bt *defaultBot) CurrentTimestamp() int64 { return bt.now }

func (bt *defaultBot) Depth(assetNo int) (depth.L3MarketDepth, error) {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return nil, err
	}
	return a.local.Depth(), nil
}

func (bt *defaultBot) Position(assetNo int) (float64, error) {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return 0, err
	}
	return a.local.Position(), nil
}

func (bt *defaultBot) StateValues(assetNo int) (state.Values, error) {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return state.Values{}, err
	}
	return a.local.StateValues(), nil
}

func (bt *defaultBot) Orders(assetNo int) (map[bc.OrderID]bc.Order, error) {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return nil, err
	}
	return a.local.Orders(), nil
}

func (bt *defaultBot) LastTrades(assetNo int) ([]bc.Event, error) {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return nil, err
	}
	return a.local.LastTrades(), nil
}

func (bt *defaultBot) ClearLastTrades(assetNo int) error {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return err
	}
	a.local.ClearLastTrades()
	return nil
}

func (bt *defaultBot) SubmitBuyOrder(assetNo int, id bc.OrderID, price, qty float64, tif bc.TimeInForce, ordType bc.OrdType, waitResponse bool) error {
	return bt.submit(assetNo, id, bc.Buy, price, qty, tif, ordType, waitResponse)
}

func (bt *defaultBot) SubmitSellOrder(assetNo int, id bc.OrderID, price, qty float64, tif bc.TimeInForce, ordType bc.OrdType, waitResponse bool) error {
	return bt.submit(assetNo, id, bc.Sell, price, qty, tif, ordType, waitResponse)
}

func (bt *defaultBot) submit(assetNo int, id bc.OrderID, side bc.Side, price, qty float64, tif bc.TimeInForce, ordType bc.OrdType, waitResponse bool) error {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return err
	}
	if err := a.local.SubmitOrder(id, side, price, qty, ordType, tif, a.scheduler.CurrentTimestamp()); err != nil {
		return err
	}
	if waitResponse {
		_, err := a.scheduler.WaitOrderResponse(id, a.responseTimeout)
		return err
	}
	return nil
}

func (bt *defaultBot) Cancel(assetNo int, id bc.OrderID, wait bool) error {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return err
	}
	if err := a.local.Cancel(id, a.scheduler.CurrentTimestamp()); err != nil {
		return err
	}
	if wait {
		_, err := a.scheduler.WaitOrderResponse(id, a.responseTimeout)
		return err
	}
	return nil
}

func (bt *defaultBot) ClearInactiveOrders(assetNo int) error {
	a, err := bt.assetAt(assetNo)
	if err != nil {
		return err
	}
	a.local.ClearInactiveOrders()
	return nil
}

// Close releases any closeable resources held by the configured event
// sources (e.g. an open file), per spec.md §5's resource discipline note.
func (bt *defaultBot) Close() error {
	for _, a := range bt.assets {
		if c, ok := a.data.(io.Closer); ok {
			if err := c.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
