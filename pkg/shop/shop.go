package shop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxelforge/fabric/pkg/bus"
	"github.com/voxelforge/fabric/pkg/events"
	"github.com/voxelforge/fabric/pkg/metrics"
	"github.com/voxelforge/fabric/pkg/storage"
	"github.com/voxelforge/fabric/pkg/types"
)

// ErrProductNotFound is returned for catalogue lookups by unknown name.
var ErrProductNotFound = errors.New("product not found")

// Refunder pays value back to a buyer through the opaque payment
// gateway.
type Refunder interface {
	Refund(ctx context.Context, to string, value float64, message string) error
}

// Dispenser moves qty of a product into its aisle container and
// returns the amount actually dispensed.
type Dispenser interface {
	Dispense(ctx context.Context, product *types.Product, qty uint) (uint, error)
}

// StockSource measures live stock of an item; the catalogue never
// stores counts.
type StockSource interface {
	StockOf(key types.ItemKey) uint
}

// Engine is the shop point of sale. It consumes the transaction
// stream, matches metadata against the catalogue, dispenses through
// aisle agents and refunds the remainder. Transactions already
// carrying operator metadata are quarantined instead of refunded so
// refund loops cannot form.
type Engine struct {
	store     storage.Store
	refunder  Refunder
	dispenser Dispenser
	stocks    StockSource
	broker    *events.Broker
	bus       *bus.Bus
	log       zerolog.Logger

	helpMessage string

	mu sync.Mutex
}

// New creates a shop engine. The bus may be nil when running without
// SHOPSYNC adverts.
func New(store storage.Store, refunder Refunder, dispenser Dispenser, stocks StockSource, broker *events.Broker, b *bus.Bus, helpMessage string, logger zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		refunder:    refunder,
		dispenser:   dispenser,
		stocks:      stocks,
		broker:      broker,
		bus:         b,
		log:         logger.With().Str("component", "shop").Logger(),
		helpMessage: helpMessage,
	}
}

// HandleTransaction processes one record from the transaction stream.
func (e *Engine) HandleTransaction(ctx context.Context, tx *types.Transaction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.publish(events.EventTransaction, "transaction seen", map[string]any{
		"id": tx.ID, "from": tx.From, "value": tx.Value,
	})

	meta := ParseMetadata(tx.Metadata)
	if meta.Has("message") || meta.Has("error") {
		e.quarantine(tx)
		return
	}

	name := meta.FirstBare()
	product, err := e.lookup(name)
	if err != nil {
		e.refund(ctx, tx.From, tx.Value, e.helpMessage, "help")
		return
	}

	qty := uint(math.Floor(tx.Value/product.Price + 1e-9))
	if qty == 0 {
		e.refund(ctx, tx.From, tx.Value, fmt.Sprintf("%s costs %.2f each.", product.Name, product.Price), "help")
		return
	}
	if stock := e.stocks.StockOf(product.Item); qty > stock {
		qty = stock
	}
	if qty == 0 {
		e.refund(ctx, tx.From, tx.Value, fmt.Sprintf("%s is out of stock, sorry.", product.Name), "out_of_stock")
		return
	}

	dispensed, err := e.dispenser.Dispense(ctx, product, qty)
	if err != nil {
		e.log.Warn().Err(err).Str("product", product.Name).Msg("dispense failed")
	}
	if dispensed == 0 {
		e.refund(ctx, tx.From, tx.Value, fmt.Sprintf("Could not dispense %s, refunding.", product.Name), "dispense_failed")
		return
	}

	spent := float64(dispensed) * product.Price
	if change := tx.Value - spent; change > 1e-9 {
		e.refund(ctx, tx.From, change, "Here is your refund. Thank you for shopping with us!", "change")
	}

	sale := &types.Sale{
		ID:        uuid.New().String(),
		Product:   product.Name,
		Buyer:     tx.From,
		Qty:       dispensed,
		Value:     spent,
		Refunded:  tx.Value - spent,
		Timestamp: time.Now(),
	}
	if err := e.store.AppendSale(sale); err != nil {
		e.log.Error().Err(err).Msg("sale record write failed")
	}
	metrics.PurchasesTotal.Inc()
	e.publish(events.EventPurchase, "purchase", map[string]any{
		"product": product.Name, "buyer": tx.From, "qty": dispensed, "value": spent,
	})
	e.log.Info().Str("product", product.Name).Str("buyer", tx.From).Uint64("qty", uint64(dispensed)).Float64("value", spent).Msg("sold")
}

// quarantine parks a transaction in the pending-refund store for
// operator action.
func (e *Engine) quarantine(tx *types.Transaction) {
	if err := e.store.EnqueuePendingRefund(tx); err != nil {
		e.log.Error().Err(err).Str("tx", tx.ID).Msg("pending refund write failed")
		return
	}
	metrics.RefundsTotal.WithLabelValues("quarantined").Inc()
	e.log.Info().Str("tx", tx.ID).Str("from", tx.From).Msg("transaction quarantined for manual refund")
}

// ProcessPendingRefunds pays out every quarantined transaction. Meant
// for an explicit operator trigger, not a tick.
func (e *Engine) ProcessPendingRefunds(ctx context.Context) (int, error) {
	pending, err := e.store.ListPendingRefunds()
	if err != nil {
		return 0, err
	}
	var done int
	for _, tx := range pending {
		if err := e.refunder.Refund(ctx, tx.From, tx.Value, "Manual refund from the operator."); err != nil {
			e.log.Warn().Err(err).Str("tx", tx.ID).Msg("pending refund failed, kept in queue")
			continue
		}
		if err := e.store.DeletePendingRefund(tx.ID); err != nil {
			return done, err
		}
		metrics.RefundsTotal.WithLabelValues("manual").Inc()
		done++
	}
	return done, nil
}

func (e *Engine) refund(ctx context.Context, to string, value float64, message, kind string) {
	if err := e.refunder.Refund(ctx, to, value, message); err != nil {
		e.log.Error().Err(err).Str("to", to).Float64("value", value).Msg("refund failed")
		return
	}
	metrics.RefundsTotal.WithLabelValues(kind).Inc()
}

func (e *Engine) lookup(name string) (*types.Product, error) {
	if name == "" {
		return nil, ErrProductNotFound
	}
	product, err := e.store.GetProduct(strings.ToLower(name))
	if err != nil || product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

// AddProduct creates or replaces a catalogue entry. Names are stored
// lowercased; matching is case-insensitive.
func (e *Engine) AddProduct(p *types.Product) error {
	if p.Name == "" || p.Price <= 0 || p.Item.IsZero() {
		return fmt.Errorf("product needs a name, a positive price and an item")
	}
	p.Name = strings.ToLower(p.Name)
	now := time.Now()
	eventType := events.EventProductCreate
	if existing, err := e.store.GetProduct(p.Name); err == nil && existing != nil {
		p.CreatedAt = existing.CreatedAt
		eventType = events.EventProductUpdate
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := e.store.SaveProduct(p); err != nil {
		return err
	}
	e.publish(eventType, "catalogue changed", map[string]any{"product": p.Name})
	return nil
}

// DeleteProduct removes a catalogue entry.
func (e *Engine) DeleteProduct(name string) error {
	name = strings.ToLower(name)
	if err := e.store.DeleteProduct(name); err != nil {
		return err
	}
	e.publish(events.EventProductDelete, "catalogue changed", map[string]any{"product": name})
	return nil
}

// Products lists the catalogue sorted by name.
func (e *Engine) Products() ([]*types.Product, error) {
	products, err := e.store.ListProducts()
	if err != nil {
		return nil, err
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// BroadcastSync sends the SHOPSYNC discovery advert: the catalogue
// with live stock counts.
func (e *Engine) BroadcastSync(info string) error {
	if e.bus == nil {
		return nil
	}
	products, err := e.Products()
	if err != nil {
		return err
	}
	items := make([]map[string]any, 0, len(products))
	for _, p := range products {
		items = append(items, map[string]any{
			"name":  p.Name,
			"item":  p.Item.String(),
			"price": p.Price,
			"stock": e.stocks.StockOf(p.Item),
		})
	}
	return e.bus.Broadcast(bus.MsgShopSync, map[string]any{
		"info":  info,
		"items": items,
	})
}

func (e *Engine) publish(t events.EventType, msg string, data map[string]any) {
	if e.broker != nil {
		e.broker.Publish(events.New(t, msg, data))
	}
}
