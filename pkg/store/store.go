package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"campusmarket/pkg/domain"
)

// Table keys used in the substrate. Each key holds one JSON-serialized collection.
const (
	ListingsKey      = "campus_marketplace_listings"
	BidsKey          = "campus_marketplace_bids"
	ConversationsKey = "campus_marketplace_conversations"
	MessagesKey      = "campus_marketplace_messages"
)

// Substrate is a string key/value persistence backend.
type Substrate interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Tables reads and writes whole collections per logical table.
//
// Every load decodes from the serialized value, so callers never share memory
// with each other or with the substrate. Writers within one process are
// serialized per table through Update*; writers in other processes are not
// coordinated and the last Set wins.
type Tables struct {
	sub Substrate

	listingsMu      sync.Mutex
	bidsMu          sync.Mutex
	conversationsMu sync.Mutex
	messagesMu      sync.Mutex
}

type openOptions struct {
	seed bool
}

// OpenOption customizes Open.
type OpenOption func(*openOptions)

// WithoutSeed skips writing sample data into absent tables.
func WithoutSeed() OpenOption {
	return func(o *openOptions) {
		o.seed = false
	}
}

// Open wraps a substrate and seeds every absent table with sample data.
// Tables that already exist are left untouched.
func Open(ctx context.Context, sub Substrate, options ...OpenOption) (*Tables, error) {
	if sub == nil {
		return nil, fmt.Errorf("store substrate required")
	}
	opts := openOptions{seed: true}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	t := &Tables{sub: sub}
	if !opts.seed {
		return t, nil
	}
	seeds := []struct {
		key   string
		value any
	}{
		{ListingsKey, SampleListings()},
		{BidsKey, SampleBids()},
		{ConversationsKey, SampleConversations()},
		{MessagesKey, SampleMessages()},
	}
	for _, s := range seeds {
		_, ok, err := sub.Get(ctx, s.key)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", s.key, err)
		}
		if ok {
			continue
		}
		if err := save(ctx, sub, s.key, s.value); err != nil {
			return nil, fmt.Errorf("seed %s: %w", s.key, err)
		}
	}
	return t, nil
}

// Listings loads the listings table in storage order.
func (t *Tables) Listings(ctx context.Context) ([]domain.Listing, error) {
	out := []domain.Listing{}
	if err := load(ctx, t.sub, ListingsKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveListings replaces the listings table.
func (t *Tables) SaveListings(ctx context.Context, listings []domain.Listing) error {
	return save(ctx, t.sub, ListingsKey, nonNil(listings))
}

// Bids loads the bids table in storage order.
func (t *Tables) Bids(ctx context.Context) ([]domain.Bid, error) {
	out := []domain.Bid{}
	if err := load(ctx, t.sub, BidsKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveBids replaces the bids table. The transient Listing field is never persisted.
func (t *Tables) SaveBids(ctx context.Context, bids []domain.Bid) error {
	clean := make([]domain.Bid, len(bids))
	for i, b := range bids {
		b.Listing = nil
		clean[i] = b
	}
	return save(ctx, t.sub, BidsKey, clean)
}

// Conversations loads the conversations table in storage order.
func (t *Tables) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	out := []domain.Conversation{}
	if err := load(ctx, t.sub, ConversationsKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveConversations replaces the conversations table.
func (t *Tables) SaveConversations(ctx context.Context, convs []domain.Conversation) error {
	return save(ctx, t.sub, ConversationsKey, nonNil(convs))
}

// Messages loads the conversationId -> messages mapping.
func (t *Tables) Messages(ctx context.Context) (map[string][]domain.Message, error) {
	out := map[string][]domain.Message{}
	if err := load(ctx, t.sub, MessagesKey, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveMessages replaces the messages mapping.
func (t *Tables) SaveMessages(ctx context.Context, msgs map[string][]domain.Message) error {
	if msgs == nil {
		msgs = map[string][]domain.Message{}
	}
	return save(ctx, t.sub, MessagesKey, msgs)
}

// UpdateListings runs a read-modify-write cycle on the listings table while
// holding its lock. fn reports whether the table changed; unchanged tables are
// not written back.
func (t *Tables) UpdateListings(ctx context.Context, fn func([]domain.Listing) ([]domain.Listing, bool, error)) error {
	t.listingsMu.Lock()
	defer t.listingsMu.Unlock()
	return t.updateListingsLocked(ctx, fn)
}

func (t *Tables) updateListingsLocked(ctx context.Context, fn func([]domain.Listing) ([]domain.Listing, bool, error)) error {
	listings, err := t.Listings(ctx)
	if err != nil {
		return err
	}
	next, changed, err := fn(listings)
	if err != nil || !changed {
		return err
	}
	return t.SaveListings(ctx, next)
}

// UpdateBids runs a read-modify-write cycle on the bids table.
func (t *Tables) UpdateBids(ctx context.Context, fn func([]domain.Bid) ([]domain.Bid, bool, error)) error {
	t.bidsMu.Lock()
	defer t.bidsMu.Unlock()
	return t.updateBidsLocked(ctx, fn)
}

func (t *Tables) updateBidsLocked(ctx context.Context, fn func([]domain.Bid) ([]domain.Bid, bool, error)) error {
	bids, err := t.Bids(ctx)
	if err != nil {
		return err
	}
	next, changed, err := fn(bids)
	if err != nil || !changed {
		return err
	}
	return t.SaveBids(ctx, next)
}

// UpdateConversations runs a read-modify-write cycle on the conversations table.
func (t *Tables) UpdateConversations(ctx context.Context, fn func([]domain.Conversation) ([]domain.Conversation, bool, error)) error {
	t.conversationsMu.Lock()
	defer t.conversationsMu.Unlock()
	return t.updateConversationsLocked(ctx, fn)
}

func (t *Tables) updateConversationsLocked(ctx context.Context, fn func([]domain.Conversation) ([]domain.Conversation, bool, error)) error {
	convs, err := t.Conversations(ctx)
	if err != nil {
		return err
	}
	next, changed, err := fn(convs)
	if err != nil || !changed {
		return err
	}
	return t.SaveConversations(ctx, next)
}

// UpdateMessages runs a read-modify-write cycle on the messages mapping.
func (t *Tables) UpdateMessages(ctx context.Context, fn func(map[string][]domain.Message) (bool, error)) error {
	t.messagesMu.Lock()
	defer t.messagesMu.Unlock()
	return t.updateMessagesLocked(ctx, fn)
}

func (t *Tables) updateMessagesLocked(ctx context.Context, fn func(map[string][]domain.Message) (bool, error)) error {
	msgs, err := t.Messages(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(msgs)
	if err != nil || !changed {
		return err
	}
	return t.SaveMessages(ctx, msgs)
}

// UpdateListingsAndBids holds both locks (listings first) for operations that
// touch both tables, such as a cascading listing delete.
func (t *Tables) UpdateListingsAndBids(ctx context.Context,
	listingsFn func([]domain.Listing) ([]domain.Listing, bool, error),
	bidsFn func([]domain.Bid) ([]domain.Bid, bool, error),
) error {
	t.listingsMu.Lock()
	defer t.listingsMu.Unlock()
	t.bidsMu.Lock()
	defer t.bidsMu.Unlock()
	if err := t.updateListingsLocked(ctx, listingsFn); err != nil {
		return err
	}
	return t.updateBidsLocked(ctx, bidsFn)
}

// UpdateConversationsAndMessages holds both locks (conversations first).
// The messages table is written before the conversations table.
func (t *Tables) UpdateConversationsAndMessages(ctx context.Context,
	messagesFn func(map[string][]domain.Message) (bool, error),
	conversationsFn func([]domain.Conversation) ([]domain.Conversation, bool, error),
) error {
	t.conversationsMu.Lock()
	defer t.conversationsMu.Unlock()
	t.messagesMu.Lock()
	defer t.messagesMu.Unlock()
	if err := t.updateMessagesLocked(ctx, messagesFn); err != nil {
		return err
	}
	return t.updateConversationsLocked(ctx, conversationsFn)
}

func load(ctx context.Context, sub Substrate, key string, out any) error {
	raw, ok, err := sub.Get(ctx, key)
	if err != nil {
		observeTable(key, "load", err)
		return fmt.Errorf("load %s: %w", key, err)
	}
	observeTable(key, "load", nil)
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func save(ctx context.Context, sub Substrate, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := sub.Set(ctx, key, string(data)); err != nil {
		observeTable(key, "save", err)
		return fmt.Errorf("save %s: %w", key, err)
	}
	observeTable(key, "save", nil)
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
