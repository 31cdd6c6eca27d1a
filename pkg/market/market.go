// Package market implements the listing, bid, conversation and message services
// on top of the table store. Services hold no entity state of their own: every
// call reloads the relevant tables, mutates them in memory and writes them back.
package market

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"campusmarket/pkg/store"
)

// Latency is the artificial delay applied before each service operation.
// The wait is not interruptible: once started, the operation always runs.
type Latency struct {
	Min    time.Duration
	Jitter time.Duration
}

// DefaultLatency mirrors a slow campus network: 300ms plus up to 500ms jitter.
func DefaultLatency() Latency {
	return Latency{Min: 300 * time.Millisecond, Jitter: 500 * time.Millisecond}
}

func (l Latency) wait() {
	d := l.Min
	if l.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(l.Jitter)))
	}
	if d > 0 {
		time.Sleep(d)
	}
}

type options struct {
	latency Latency
	now     func() time.Time
}

// Option customizes the services.
type Option func(*options)

// WithLatency overrides the simulated latency. A zero Latency disables it.
func WithLatency(l Latency) Option {
	return func(o *options) {
		o.latency = l
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type base struct {
	tables  *store.Tables
	latency Latency
	now     func() time.Time
}

func newBase(tables *store.Tables, opts []Option) base {
	o := options{
		latency: DefaultLatency(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return base{tables: tables, latency: o.latency, now: o.now}
}

func (b base) stamp() time.Time {
	return b.now().UTC()
}

// Services bundles the four entity services and the bid workflow over one store.
type Services struct {
	Listings      *ListingService
	Bids          *BidService
	Conversations *ConversationService
	Messages      *MessageService
	Workflow      *BidWorkflow
}

// New builds every service over the same tables.
func New(tables *store.Tables, opts ...Option) *Services {
	return &Services{
		Listings:      NewListingService(tables, opts...),
		Bids:          NewBidService(tables, opts...),
		Conversations: NewConversationService(tables, opts...),
		Messages:      NewMessageService(tables, opts...),
		Workflow:      NewBidWorkflow(tables, opts...),
	}
}

func newEntityID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Message ids sort in creation order.
func newMessageID() string {
	return "msg-" + ulid.Make().String()
}
