// Package aggregation reduces per-LPN stock records into SKU and batch level
// summaries.
package aggregation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-freight/odyssey-freight/internal/warehouse/stock"
)

// noBatch names the bucket of records without a resolvable batch.
const noBatch = "null"

// Key is skuID + "_" + batch number, or skuID + "_null".
type Key string

// KeyFor builds the aggregation key.
func KeyFor(skuID, batch string) Key {
	if batch == "" {
		batch = noBatch
	}
	return Key(skuID + "_" + batch)
}

// Item is the aggregate of every stock record sharing a Key.
type Item struct {
	Key            Key        `json:"key"`
	SKUID          string     `json:"sku_id"`
	SKUCode        string     `json:"sku_code,omitempty"`
	SKUDescription string     `json:"sku_description,omitempty"`
	BatchNumber    string     `json:"batch_number,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	Attribute1     string     `json:"attribute1,omitempty"`
	Attribute2     string     `json:"attribute2,omitempty"`
	CustomerName   string     `json:"customer_name,omitempty"`

	QtyAvailable  float64 `json:"qty_available"`
	QtyAllocated  float64 `json:"qty_allocated"`
	QtyPicked     float64 `json:"qty_picked"`
	QtyDispatched float64 `json:"qty_dispatched"`
	QtyHold       float64 `json:"qty_hold"`
	QtyReceived   float64 `json:"qty_received"`
	LPNCount      int     `json:"lpn_count"`

	BatchNumbers       []string `json:"batch_numbers"`
	LPNNumbers         []string `json:"lpn_numbers"`
	Locations          []string `json:"locations"`
	Statuses           []string `json:"statuses"`
	OrderCodes         []string `json:"order_codes"`
	CustomerReferences []string `json:"customer_references"`
	ContainerNumbers   []string `json:"container_numbers"`
}

// Total is the sum of the five status buckets.
func (it *Item) Total() float64 {
	return decimal.Sum(
		decimal.NewFromFloat(it.QtyAvailable),
		decimal.NewFromFloat(it.QtyAllocated),
		decimal.NewFromFloat(it.QtyPicked),
		decimal.NewFromFloat(it.QtyDispatched),
		decimal.NewFromFloat(it.QtyHold),
	).InexactFloat64()
}

type sums struct {
	available, allocated, picked, dispatched, hold, received decimal.Decimal
}

type set struct {
	seen   map[string]struct{}
	values *[]string
}

func (s set) add(v string) {
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	*s.values = append(*s.values, v)
}

type entry struct {
	item  *Item
	sums  sums
	lists []set
}

// accumulator holds the state of one Aggregate call. Received quantities are
// counted once per source key within the call.
type accumulator struct {
	entries  map[Key]*entry
	received map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		entries:  make(map[Key]*entry),
		received: make(map[string]struct{}),
	}
}

func (a *accumulator) entry(key Key, r stock.StockRecord, info stock.BatchInfo) *entry {
	if e, ok := a.entries[key]; ok {
		return e
	}
	it := &Item{
		Key:                key,
		SKUID:              r.SKU.ID,
		SKUCode:            r.SKU.Code,
		SKUDescription:     r.SKU.Description,
		BatchNumber:        info.BatchNumber,
		BatchNumbers:       []string{},
		LPNNumbers:         []string{},
		Locations:          []string{},
		Statuses:           []string{},
		OrderCodes:         []string{},
		CustomerReferences: []string{},
		ContainerNumbers:   []string{},
	}
	e := &entry{item: it}
	for _, values := range []*[]string{
		&it.BatchNumbers, &it.LPNNumbers, &it.Locations, &it.Statuses,
		&it.OrderCodes, &it.CustomerReferences, &it.ContainerNumbers,
	} {
		e.lists = append(e.lists, set{seen: make(map[string]struct{}), values: values})
	}
	a.entries[key] = e
	return e
}

func (a *accumulator) add(r stock.StockRecord) {
	info := r.Batch()
	key := KeyFor(r.SKU.ID, info.BatchNumber)
	e := a.entry(key, r, info)
	it := e.item

	qty := decimal.NewFromFloat(r.HUQty)
	switch r.Status {
	case stock.StatusAvailable:
		e.sums.available = e.sums.available.Add(qty)
	case stock.StatusAllocated:
		e.sums.allocated = e.sums.allocated.Add(qty)
	case stock.StatusPicked:
		e.sums.picked = e.sums.picked.Add(qty)
	case stock.StatusDispatched:
		e.sums.dispatched = e.sums.dispatched.Add(qty)
	case stock.StatusReserved:
		e.sums.hold = e.sums.hold.Add(qty)
	}

	if info.Resolved && info.ReceivedKey != "" {
		if _, counted := a.received[info.ReceivedKey]; !counted {
			a.received[info.ReceivedKey] = struct{}{}
			e.sums.received = e.sums.received.Add(decimal.NewFromFloat(info.ReceivedQty))
		}
	}

	it.LPNCount++
	if it.SKUCode == "" {
		it.SKUCode = r.SKU.Code
	}
	if it.SKUDescription == "" {
		it.SKUDescription = r.SKU.Description
	}
	if it.ExpiryDate == nil && info.ExpiryDate != nil {
		expiry := *info.ExpiryDate
		it.ExpiryDate = &expiry
	}
	if it.Attribute1 == "" {
		it.Attribute1 = info.Attribute1
	}
	if it.Attribute2 == "" {
		it.Attribute2 = info.Attribute2
	}
	if it.CustomerName == "" {
		it.CustomerName = info.Origin.CustomerName
	}

	for i, v := range []string{
		info.BatchNumber, r.LPNNumber, r.Location, string(r.Status),
		info.Origin.OrderCode, info.Origin.CustomerReference, info.Origin.ContainerNumber,
	} {
		e.lists[i].add(v)
	}
}

func (a *accumulator) result() map[Key]*Item {
	out := make(map[Key]*Item, len(a.entries))
	for key, e := range a.entries {
		it := e.item
		it.QtyAvailable = e.sums.available.InexactFloat64()
		it.QtyAllocated = e.sums.allocated.InexactFloat64()
		it.QtyPicked = e.sums.picked.InexactFloat64()
		it.QtyDispatched = e.sums.dispatched.InexactFloat64()
		it.QtyHold = e.sums.hold.InexactFloat64()
		it.QtyReceived = e.sums.received.InexactFloat64()
		out[key] = it
	}
	return out
}

// Aggregate groups records by SKU and batch. Deleted records are ignored.
// Each record lands in exactly one status bucket.
func Aggregate(records []stock.StockRecord) map[Key]*Item {
	acc := newAccumulator()
	for _, r := range records {
		if r.IsDeleted {
			continue
		}
		acc.add(r)
	}
	return acc.result()
}

// Sorted returns the items ordered by key.
func Sorted(items map[Key]*Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
