package shop

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxelforge/fabric/pkg/storage"
	"github.com/voxelforge/fabric/pkg/types"
)

type refundCall struct {
	To      string
	Value   float64
	Message string
}

type fakeRefunder struct {
	calls []refundCall
	err   error
}

func (f *fakeRefunder) Refund(_ context.Context, to string, value float64, message string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, refundCall{to, value, message})
	return nil
}

type fakeDispenser struct {
	avail uint
	err   error
}

func (f *fakeDispenser) Dispense(_ context.Context, _ *types.Product, qty uint) (uint, error) {
	if qty > f.avail {
		qty = f.avail
	}
	f.avail -= qty
	return qty, f.err
}

type fakeStock map[types.ItemKey]uint

func (f fakeStock) StockOf(key types.ItemKey) uint { return f[key] }

var coalKey = types.ItemKey{BaseID: "minecraft:coal"}

type shopFixture struct {
	engine    *Engine
	store     storage.Store
	refunder  *fakeRefunder
	dispenser *fakeDispenser
	stock     fakeStock
}

func newShopFixture(t *testing.T) *shopFixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &shopFixture{
		store:     store,
		refunder:  &fakeRefunder{},
		dispenser: &fakeDispenser{avail: 1000},
		stock:     fakeStock{coalKey: 100},
	}
	f.engine = New(store, f.refunder, f.dispenser, f.stock, nil, nil,
		"Send an amount with a product name, e.g. 'coal'.", zerolog.Nop())

	require.NoError(t, f.engine.AddProduct(&types.Product{
		Name:  "coal",
		Item:  coalKey,
		Price: 0.5,
		Aisle: "aisle_chest_1",
	}))
	return f
}

func (f *shopFixture) handle(t *testing.T, tx *types.Transaction) {
	t.Helper()
	f.engine.HandleTransaction(context.Background(), tx)
}

func TestPurchaseWithChange(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 3.25, Metadata: "coal"})

	// 3.25 at 0.50 each buys 6; the 0.25 remainder comes back.
	require.Len(t, f.refunder.calls, 1)
	assert.Equal(t, "buyer", f.refunder.calls[0].To)
	assert.InDelta(t, 0.25, f.refunder.calls[0].Value, 1e-9)
	assert.Equal(t, "Here is your refund. Thank you for shopping with us!", f.refunder.calls[0].Message)

	sales, err := f.store.ListSales()
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, uint(6), sales[0].Qty)
	assert.InDelta(t, 3.0, sales[0].Value, 1e-9)
	assert.InDelta(t, 0.25, sales[0].Refunded, 1e-9)
}

func TestPurchaseExactValueNoRefund(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 2.0, Metadata: "coal"})

	assert.Empty(t, f.refunder.calls)
	sales, err := f.store.ListSales()
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, uint(4), sales[0].Qty)
}

func TestPurchaseCappedByStock(t *testing.T) {
	f := newShopFixture(t)
	f.stock[coalKey] = 4

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 5.0, Metadata: "coal"})

	sales, err := f.store.ListSales()
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, uint(4), sales[0].Qty)

	require.Len(t, f.refunder.calls, 1)
	assert.InDelta(t, 3.0, f.refunder.calls[0].Value, 1e-9, "pays back the unspent remainder")
}

func TestOutOfStockRefundsEverything(t *testing.T) {
	f := newShopFixture(t)
	f.stock[coalKey] = 0

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 5.0, Metadata: "coal"})

	require.Len(t, f.refunder.calls, 1)
	assert.InDelta(t, 5.0, f.refunder.calls[0].Value, 1e-9)
	assert.Contains(t, f.refunder.calls[0].Message, "out of stock")

	sales, err := f.store.ListSales()
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestUnknownProductRefundsWithHelp(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 1.0, Metadata: "diamondz"})

	require.Len(t, f.refunder.calls, 1)
	assert.InDelta(t, 1.0, f.refunder.calls[0].Value, 1e-9)
	assert.Contains(t, f.refunder.calls[0].Message, "product name")
}

func TestValueBelowPriceRefunds(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 0.25, Metadata: "coal"})

	require.Len(t, f.refunder.calls, 1)
	assert.Contains(t, f.refunder.calls[0].Message, "costs")
}

func TestOperatorMetadataQuarantined(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 5.0, Metadata: "message=already refunded;coal"})
	f.handle(t, &types.Transaction{ID: "tx2", From: "buyer", Value: 2.0, Metadata: "error=gateway hiccup"})

	// No automatic refund: a refund with operator metadata would bounce
	// back to the stream and loop.
	assert.Empty(t, f.refunder.calls)

	pending, err := f.store.ListPendingRefunds()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestProcessPendingRefunds(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "alice", Value: 5.0, Metadata: "message=x"})
	f.handle(t, &types.Transaction{ID: "tx2", From: "bob", Value: 2.0, Metadata: "error=y"})

	done, err := f.engine.ProcessPendingRefunds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Len(t, f.refunder.calls, 2)

	pending, err := f.store.ListPendingRefunds()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessPendingRefundsKeepsFailures(t *testing.T) {
	f := newShopFixture(t)
	f.handle(t, &types.Transaction{ID: "tx1", From: "alice", Value: 5.0, Metadata: "message=x"})

	f.refunder.err = errors.New("gateway down")
	done, err := f.engine.ProcessPendingRefunds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, done)

	pending, err := f.store.ListPendingRefunds()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "failed refunds stay queued")
}

func TestDispenseFailureRefunds(t *testing.T) {
	f := newShopFixture(t)
	f.dispenser.avail = 0

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 2.0, Metadata: "coal"})

	require.Len(t, f.refunder.calls, 1)
	assert.InDelta(t, 2.0, f.refunder.calls[0].Value, 1e-9)
	assert.Contains(t, f.refunder.calls[0].Message, "Could not dispense")
}

func TestPartialDispenseChargesOnlyDelivered(t *testing.T) {
	f := newShopFixture(t)
	f.dispenser.avail = 3

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 3.0, Metadata: "coal"})

	sales, err := f.store.ListSales()
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, uint(3), sales[0].Qty)

	require.Len(t, f.refunder.calls, 1)
	assert.InDelta(t, 1.5, f.refunder.calls[0].Value, 1e-9)
}

func TestProductNamesCaseInsensitive(t *testing.T) {
	f := newShopFixture(t)

	f.handle(t, &types.Transaction{ID: "tx1", From: "buyer", Value: 0.5, Metadata: "Coal"})

	sales, err := f.store.ListSales()
	require.NoError(t, err)
	assert.Len(t, sales, 1)
}

func TestAddProductValidates(t *testing.T) {
	f := newShopFixture(t)

	assert.Error(t, f.engine.AddProduct(&types.Product{Name: "", Price: 1, Item: coalKey}))
	assert.Error(t, f.engine.AddProduct(&types.Product{Name: "x", Price: 0, Item: coalKey}))
	assert.Error(t, f.engine.AddProduct(&types.Product{Name: "x", Price: 1}))
}

func TestProductsSortedByName(t *testing.T) {
	f := newShopFixture(t)
	require.NoError(t, f.engine.AddProduct(&types.Product{
		Name: "anvil", Item: types.ItemKey{BaseID: "minecraft:anvil"}, Price: 10,
	}))

	products, err := f.engine.Products()
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "anvil", products[0].Name)
	assert.Equal(t, "coal", products[1].Name)
}
