package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"campusmarket/internal/events"
	"campusmarket/internal/util"
	"campusmarket/pkg/domain"
	"campusmarket/pkg/market"
	"campusmarket/pkg/store"
)

const (
	maxTitleLen   = 120
	maxTextLen    = 4000
	maxBidMessage = 500
	bidFanOut     = 4
)

// Config holds runtime configuration for the core application.
type Config struct {
	// Substrate overrides SubstrateConfig when set.
	Substrate       store.Substrate
	SubstrateConfig SubstrateConfig
	Seed            bool
	Latency         market.Latency
	Events          events.Publisher
}

// App enforces marketplace policy (ownership, participation, validation) on
// top of the entity services and publishes domain events after each change.
type App struct {
	tables  *store.Tables
	svc     *market.Services
	events  events.Publisher
	closers []io.Closer
}

// New opens the store, seeding absent tables when cfg.Seed is set.
func New(ctx context.Context, cfg Config) (*App, error) {
	var closers []io.Closer
	sub := cfg.Substrate
	if sub == nil {
		var (
			closer io.Closer
			err    error
		)
		sub, closer, err = openSubstrate(cfg.SubstrateConfig)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
	}
	var opts []store.OpenOption
	if !cfg.Seed {
		opts = append(opts, store.WithoutSeed())
	}
	tables, err := store.Open(ctx, sub, opts...)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, fmt.Errorf("open store: %w", err)
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = events.NewPublisher("", "")
	}
	return &App{
		tables:  tables,
		svc:     market.New(tables, market.WithLatency(cfg.Latency)),
		events:  publisher,
		closers: append(closers, publisher),
	}, nil
}

// Close releases the publisher and the store connection.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks that the store answers.
func (a *App) Ping(ctx context.Context) error {
	_, err := a.tables.Listings(ctx)
	return err
}

// ListingDraft is the caller-editable part of a new listing.
type ListingDraft struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Price       float64          `json:"price"`
	Category    domain.Category  `json:"category"`
	Condition   domain.Condition `json:"condition"`
	ImageURL    string           `json:"imageUrl"`
}

// Listings returns every listing, or the filtered subset when q has any filter.
func (a *App) Listings(ctx context.Context, q market.SearchQuery) ([]domain.Listing, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Category != "" && !q.Category.Valid() {
		return nil, invalid("unknown category %q", q.Category)
	}
	if q.MinPrice != nil && q.MaxPrice != nil && *q.MinPrice > *q.MaxPrice {
		return nil, invalid("minPrice exceeds maxPrice")
	}
	if q.Query == "" && q.Category == "" && q.MinPrice == nil && q.MaxPrice == nil {
		return a.svc.Listings.All(ctx)
	}
	return a.svc.Listings.Search(ctx, q)
}

// Listing returns one listing.
func (a *App) Listing(ctx context.Context, id string) (domain.Listing, error) {
	listing, ok, err := a.svc.Listings.ByID(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if !ok {
		return domain.Listing{}, ErrListingNotFound
	}
	return listing, nil
}

// MyListings returns the caller's listings.
func (a *App) MyListings(ctx context.Context, user domain.User) ([]domain.Listing, error) {
	return a.svc.Listings.BySellerID(ctx, user.ID)
}

// CreateListing publishes a listing owned by user. Seller fields are taken
// from the authenticated user, never from the draft.
func (a *App) CreateListing(ctx context.Context, user domain.User, draft ListingDraft) (domain.Listing, error) {
	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.ImageURL = strings.TrimSpace(draft.ImageURL)
	if err := validateDraft(draft); err != nil {
		return domain.Listing{}, err
	}
	listing, err := a.svc.Listings.Create(ctx, market.ListingInput{
		Title:        draft.Title,
		Description:  draft.Description,
		Price:        draft.Price,
		Category:     draft.Category,
		Condition:    draft.Condition,
		ImageURL:     draft.ImageURL,
		SellerID:     user.ID,
		SellerName:   user.Name,
		SellerAvatar: user.Avatar,
	})
	if err != nil {
		return domain.Listing{}, err
	}
	a.publish(ctx, events.ListingCreated, user.ID, listing)
	return listing, nil
}

// UpdateListing applies patch to a listing the caller owns.
func (a *App) UpdateListing(ctx context.Context, user domain.User, id string, patch market.ListingPatch) (domain.Listing, error) {
	if _, err := a.ownedListing(ctx, user, id); err != nil {
		return domain.Listing{}, err
	}
	patch.SellerName, patch.SellerAvatar = nil, nil
	if err := validatePatch(&patch); err != nil {
		return domain.Listing{}, err
	}
	updated, ok, err := a.svc.Listings.Update(ctx, id, patch)
	if err != nil {
		return domain.Listing{}, err
	}
	if !ok {
		return domain.Listing{}, ErrListingNotFound
	}
	a.publish(ctx, events.ListingUpdated, user.ID, updated)
	return updated, nil
}

// DeleteListing removes a listing the caller owns, together with its bids.
func (a *App) DeleteListing(ctx context.Context, user domain.User, id string) error {
	if _, err := a.ownedListing(ctx, user, id); err != nil {
		return err
	}
	if _, err := a.svc.Listings.Delete(ctx, id); err != nil {
		return err
	}
	a.publish(ctx, events.ListingDeleted, user.ID, map[string]string{"listingId": id})
	return nil
}

func (a *App) ownedListing(ctx context.Context, user domain.User, id string) (domain.Listing, error) {
	listing, err := a.Listing(ctx, id)
	if err != nil {
		return domain.Listing{}, err
	}
	if listing.SellerID != user.ID {
		return domain.Listing{}, fmt.Errorf("%w: listing belongs to another seller", ErrForbidden)
	}
	return listing, nil
}

// ListingBids returns every bid on the listing to its seller, and only the
// caller's own bids to anyone else.
func (a *App) ListingBids(ctx context.Context, user domain.User, listingID string) ([]domain.Bid, error) {
	listing, err := a.Listing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	bids, err := a.svc.Bids.ByListingID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == user.ID {
		return bids, nil
	}
	own := make([]domain.Bid, 0, len(bids))
	for _, b := range bids {
		if b.BuyerID == user.ID {
			own = append(own, b)
		}
	}
	return own, nil
}

// BidDraft is the caller-supplied part of a new bid.
type BidDraft struct {
	Amount  float64 `json:"amount"`
	Message string  `json:"message"`
}

// PlaceBid records a pending bid by user on someone else's listing.
func (a *App) PlaceBid(ctx context.Context, user domain.User, listingID string, draft BidDraft) (domain.Bid, error) {
	draft.Message = strings.TrimSpace(draft.Message)
	if draft.Amount <= 0 {
		return domain.Bid{}, invalid("amount must be greater than zero")
	}
	if len(draft.Message) > maxBidMessage {
		return domain.Bid{}, invalid("message is too long")
	}
	listing, err := a.Listing(ctx, listingID)
	if err != nil {
		return domain.Bid{}, err
	}
	if listing.SellerID == user.ID {
		return domain.Bid{}, ErrOwnListing
	}
	bid, err := a.svc.Bids.Create(ctx, market.BidInput{
		ListingID:   listingID,
		BuyerID:     user.ID,
		BuyerName:   user.Name,
		BuyerAvatar: user.Avatar,
		Amount:      draft.Amount,
		Message:     draft.Message,
	})
	if err != nil {
		return domain.Bid{}, err
	}
	a.publish(ctx, events.BidCreated, user.ID, bid)
	return bid, nil
}

// IncomingBids returns the bids on all of the seller's listings, each with its
// listing attached. Per-listing lookups run concurrently.
func (a *App) IncomingBids(ctx context.Context, user domain.User) ([]domain.Bid, error) {
	listings, err := a.svc.Listings.BySellerID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	perListing := make([][]domain.Bid, len(listings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bidFanOut)
	for i := range listings {
		g.Go(func() error {
			bids, err := a.svc.Bids.ByListingID(gctx, listings[i].ID)
			if err != nil {
				return fmt.Errorf("bids for listing %s: %w", listings[i].ID, err)
			}
			for j := range bids {
				l := listings[i]
				bids[j].Listing = &l
			}
			perListing[i] = bids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := []domain.Bid{}
	for _, bids := range perListing {
		out = append(out, bids...)
	}
	return out, nil
}

// OutgoingBids returns the caller's bids with their listings attached. Bids
// whose listing no longer exists keep a nil Listing.
func (a *App) OutgoingBids(ctx context.Context, user domain.User) ([]domain.Bid, error) {
	bids, err := a.svc.Bids.ByBuyerID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return bids, nil
	}
	listings, err := a.svc.Listings.All(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}
	for i := range bids {
		if l, ok := byID[bids[i].ListingID]; ok {
			bids[i].Listing = &l
		}
	}
	return bids, nil
}

// AcceptBid accepts a pending bid on one of the caller's listings and rejects
// the other pending bids on it.
func (a *App) AcceptBid(ctx context.Context, user domain.User, bidID string) (market.AcceptResult, error) {
	if _, err := a.sellerBid(ctx, user, bidID); err != nil {
		return market.AcceptResult{}, err
	}
	res, err := a.svc.Workflow.Accept(ctx, bidID)
	if err != nil {
		return market.AcceptResult{}, mapWorkflowErr(err)
	}
	a.publish(ctx, events.BidAccepted, user.ID, res.Accepted)
	for _, b := range res.Rejected {
		a.publish(ctx, events.BidRejected, user.ID, b)
	}
	return res, nil
}

// RejectBid rejects a pending bid on one of the caller's listings.
func (a *App) RejectBid(ctx context.Context, user domain.User, bidID string) (domain.Bid, error) {
	if _, err := a.sellerBid(ctx, user, bidID); err != nil {
		return domain.Bid{}, err
	}
	bid, err := a.svc.Workflow.Reject(ctx, bidID)
	if err != nil {
		return domain.Bid{}, mapWorkflowErr(err)
	}
	a.publish(ctx, events.BidRejected, user.ID, bid)
	return bid, nil
}

// WithdrawBid deletes one of the caller's pending bids.
func (a *App) WithdrawBid(ctx context.Context, user domain.User, bidID string) error {
	bid, ok, err := a.svc.Bids.ByID(ctx, bidID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBidNotFound
	}
	if bid.BuyerID != user.ID {
		return fmt.Errorf("%w: bid belongs to another buyer", ErrForbidden)
	}
	if bid.Status != domain.BidPending {
		return ErrBidNotPending
	}
	if _, err := a.svc.Bids.Delete(ctx, bidID); err != nil {
		return err
	}
	a.publish(ctx, events.BidWithdrawn, user.ID, bid)
	return nil
}

func (a *App) sellerBid(ctx context.Context, user domain.User, bidID string) (domain.Bid, error) {
	bid, ok, err := a.svc.Bids.ByID(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	if !ok {
		return domain.Bid{}, ErrBidNotFound
	}
	if _, err := a.ownedListing(ctx, user, bid.ListingID); err != nil {
		return domain.Bid{}, err
	}
	return bid, nil
}

func mapWorkflowErr(err error) error {
	if errors.Is(err, market.ErrBidNotFound) {
		return ErrBidNotFound
	}
	return err
}

// Conversations returns the caller's conversations.
func (a *App) Conversations(ctx context.Context, user domain.User) ([]domain.Conversation, error) {
	return a.svc.Conversations.ByUserID(ctx, user.ID)
}

// Contact identifies the other party when starting a conversation.
type Contact struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// StartConversation returns the caller's conversation with other, creating it
// on first contact.
func (a *App) StartConversation(ctx context.Context, user domain.User, other Contact) (domain.Conversation, error) {
	other.UserID = strings.TrimSpace(other.UserID)
	other.Name = strings.TrimSpace(other.Name)
	if other.UserID == "" {
		return domain.Conversation{}, invalid("userId is required")
	}
	if other.UserID == user.ID {
		return domain.Conversation{}, ErrSelfConversation
	}
	if other.Name == "" {
		other.Name = other.UserID
	}
	return a.svc.Conversations.FindOrCreate(ctx,
		market.Participant{ID: user.ID, Name: user.Name, Avatar: user.Avatar},
		market.Participant{ID: other.UserID, Name: other.Name, Avatar: strings.TrimSpace(other.Avatar)},
	)
}

// Conversation returns a conversation the caller takes part in.
func (a *App) Conversation(ctx context.Context, user domain.User, id string) (domain.Conversation, error) {
	conv, ok, err := a.svc.Conversations.ByID(ctx, id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if !conv.HasParticipant(user.ID) {
		return domain.Conversation{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	return conv, nil
}

// OpenConversation marks the conversation read for the caller and returns its
// messages.
func (a *App) OpenConversation(ctx context.Context, user domain.User, id string) ([]domain.Message, error) {
	if _, err := a.Conversation(ctx, user, id); err != nil {
		return nil, err
	}
	if err := a.svc.Messages.MarkAsRead(ctx, id, user.ID); err != nil {
		return nil, err
	}
	if err := a.svc.Conversations.ResetUnread(ctx, id, user.ID); err != nil {
		return nil, err
	}
	return a.svc.Messages.ByConversationID(ctx, id)
}

// SendMessage appends a message from the caller to the other participant.
func (a *App) SendMessage(ctx context.Context, user domain.User, conversationID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, invalid("content is required")
	}
	if len(content) > maxTextLen {
		return domain.Message{}, invalid("content is too long")
	}
	conv, err := a.Conversation(ctx, user, conversationID)
	if err != nil {
		return domain.Message{}, err
	}
	idx := conv.Counterpart(user.ID)
	if idx < 0 {
		return domain.Message{}, invalid("conversation has no other participant")
	}
	msg, err := a.svc.Messages.Send(ctx, conversationID, market.MessageInput{
		SenderID:   user.ID,
		ReceiverID: conv.ParticipantIDs[idx],
		Content:    content,
	})
	if err != nil {
		return domain.Message{}, err
	}
	a.publish(ctx, events.MessageSent, user.ID, map[string]any{
		"conversationId": conversationID,
		"message":        msg,
	})
	return msg, nil
}

// MarkRead clears the caller's unread state in a conversation.
func (a *App) MarkRead(ctx context.Context, user domain.User, conversationID string) error {
	if _, err := a.Conversation(ctx, user, conversationID); err != nil {
		return err
	}
	return a.svc.Messages.MarkAsRead(ctx, conversationID, user.ID)
}

// publish never fails the caller: the change is already committed.
func (a *App) publish(ctx context.Context, eventType, actorID string, payload any) {
	env := events.NewEnvelope(eventType, actorID, util.RequestIDFromContext(ctx), payload)
	if err := a.events.Publish(ctx, env); err != nil {
		util.LoggerFromContext(ctx).Warn("event publish failed", "event_type", eventType, "err", err)
	}
}

func validateDraft(d ListingDraft) error {
	switch {
	case d.Title == "":
		return invalid("title is required")
	case len(d.Title) > maxTitleLen:
		return invalid("title is too long")
	case d.Description == "":
		return invalid("description is required")
	case len(d.Description) > maxTextLen:
		return invalid("description is too long")
	case d.Price <= 0:
		return invalid("price must be greater than zero")
	case !d.Category.Valid():
		return invalid("unknown category %q", d.Category)
	case !d.Condition.Valid():
		return invalid("unknown condition %q", d.Condition)
	}
	return nil
}

func validatePatch(p *market.ListingPatch) error {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" || len(t) > maxTitleLen {
			return invalid("title must be 1-%d characters", maxTitleLen)
		}
		p.Title = &t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if d == "" || len(d) > maxTextLen {
			return invalid("description must be 1-%d characters", maxTextLen)
		}
		p.Description = &d
	}
	if p.Price != nil && *p.Price <= 0 {
		return invalid("price must be greater than zero")
	}
	if p.Category != nil && !p.Category.Valid() {
		return invalid("unknown category %q", *p.Category)
	}
	if p.Condition != nil && !p.Condition.Valid() {
		return invalid("unknown condition %q", *p.Condition)
	}
	return nil
}
