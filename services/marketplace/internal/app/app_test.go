package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"campusmarket/internal/events"
	"campusmarket/pkg/domain"
	"campusmarket/pkg/market"
	"campusmarket/pkg/store"
)

var (
	alice = domain.User{ID: "alice", Name: "Alice", Avatar: "https://img.campus.edu/alice.png"}
	bob   = domain.User{ID: "bob", Name: "Bob"}
	carol = domain.User{ID: "carol", Name: "Carol"}
)

func newTestApp(t *testing.T) (*App, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	a, err := New(context.Background(), Config{Substrate: store.NewMemoryStore(), Events: rec})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, rec
}

func draft(title string, price float64) ListingDraft {
	return ListingDraft{
		Title:       title,
		Description: "barely used",
		Price:       price,
		Category:    domain.CategoryTextbooks,
		Condition:   domain.ConditionLikeNew,
	}
}

func mustListing(t *testing.T, a *App, user domain.User, title string) domain.Listing {
	t.Helper()
	l, err := a.CreateListing(context.Background(), user, draft(title, 40))
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return l
}

func TestCreateListingValidation(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	cases := []struct {
		name   string
		mutate func(*ListingDraft)
	}{
		{"blank title", func(d *ListingDraft) { d.Title = "  " }},
		{"long title", func(d *ListingDraft) { d.Title = strings.Repeat("x", maxTitleLen+1) }},
		{"blank description", func(d *ListingDraft) { d.Description = "" }},
		{"zero price", func(d *ListingDraft) { d.Price = 0 }},
		{"unknown category", func(d *ListingDraft) { d.Category = "boats" }},
		{"unknown condition", func(d *ListingDraft) { d.Condition = "mint" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := draft("Calculus", 40)
			tc.mutate(&d)
			if _, err := a.CreateListing(ctx, alice, d); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	l, err := a.CreateListing(ctx, alice, draft("  Calculus  ", 40))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Title != "Calculus" || l.SellerID != alice.ID || l.SellerAvatar != alice.Avatar {
		t.Fatalf("unexpected listing: %+v", l)
	}
}

func TestListingsFiltering(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	mustListing(t, a, alice, "Linear Algebra")
	mustListing(t, a, bob, "Organic Chemistry")

	all, err := a.Listings(ctx, market.SearchQuery{Query: "   "})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected all listings, got %d err=%v", len(all), err)
	}
	hits, err := a.Listings(ctx, market.SearchQuery{Query: "algebra"})
	if err != nil || len(hits) != 1 || hits[0].SellerID != alice.ID {
		t.Fatalf("expected one search hit, got %+v err=%v", hits, err)
	}
	lo, hi := 50.0, 10.0
	if _, err := a.Listings(ctx, market.SearchQuery{MinPrice: &lo, MaxPrice: &hi}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("inverted range should be invalid, got %v", err)
	}
	if _, err := a.Listings(ctx, market.SearchQuery{Category: "boats"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown category should be invalid, got %v", err)
	}
	mine, err := a.MyListings(ctx, bob)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected bob's one listing, got %d err=%v", len(mine), err)
	}
}

func TestUpdateAndDeleteRequireOwner(t *testing.T) {
	a, rec := newTestApp(t)
	ctx := context.Background()
	l := mustListing(t, a, alice, "Lab coat")
	price := 25.0

	if _, err := a.UpdateListing(ctx, bob, l.ID, market.ListingPatch{Price: &price}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner update should be forbidden, got %v", err)
	}
	if err := a.DeleteListing(ctx, bob, l.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner delete should be forbidden, got %v", err)
	}
	if _, err := a.UpdateListing(ctx, alice, "missing", market.ListingPatch{Price: &price}); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}

	spoof := "Mallory"
	updated, err := a.UpdateListing(ctx, alice, l.ID, market.ListingPatch{Price: &price, SellerName: &spoof})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Price != price || updated.SellerName != alice.Name {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	if _, err := a.PlaceBid(ctx, bob, l.ID, BidDraft{Amount: 20}); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if err := a.DeleteListing(ctx, alice, l.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, err := a.OutgoingBids(ctx, bob)
	if err != nil || len(out) != 0 {
		t.Fatalf("delete should cascade to bids, got %d err=%v", len(out), err)
	}
	want := "listing.created,listing.updated,bid.created,listing.deleted"
	if got := strings.Join(rec.Types(), ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}

func TestPlaceBidRules(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	l := mustListing(t, a, alice, "Mini fridge")

	if _, err := a.PlaceBid(ctx, alice, l.ID, BidDraft{Amount: 10}); !errors.Is(err, ErrOwnListing) {
		t.Fatalf("expected ErrOwnListing, got %v", err)
	}
	if _, err := a.PlaceBid(ctx, bob, l.ID, BidDraft{Amount: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := a.PlaceBid(ctx, bob, "missing", BidDraft{Amount: 10}); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
	bid, err := a.PlaceBid(ctx, bob, l.ID, BidDraft{Amount: 30, Message: " pick up friday "})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if bid.Status != domain.BidPending || bid.BuyerName != bob.Name || bid.Message != "pick up friday" {
		t.Fatalf("unexpected bid: %+v", bid)
	}
}

func TestIncomingAndOutgoingBidsCarryListings(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	var listings []domain.Listing
	for i := range 6 {
		listings = append(listings, mustListing(t, a, alice, fmt.Sprintf("Item %d", i)))
	}
	for _, l := range listings {
		if _, err := a.PlaceBid(ctx, bob, l.ID, BidDraft{Amount: 5}); err != nil {
			t.Fatalf("bid: %v", err)
		}
	}
	if _, err := a.PlaceBid(ctx, carol, listings[2].ID, BidDraft{Amount: 6}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	in, err := a.IncomingBids(ctx, alice)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(in) != 7 {
		t.Fatalf("expected 7 incoming bids, got %d", len(in))
	}
	for i, b := range in {
		if b.Listing == nil || b.Listing.ID != b.ListingID {
			t.Fatalf("bid %d missing its listing: %+v", i, b)
		}
	}
	// grouped in seller listing order
	if in[0].ListingID != listings[0].ID || in[len(in)-1].ListingID != listings[5].ID {
		t.Fatalf("incoming bids not grouped by listing order")
	}

	none, err := a.IncomingBids(ctx, bob)
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v err=%v", none, err)
	}

	out, err := a.OutgoingBids(ctx, carol)
	if err != nil || len(out) != 1 || out[0].Listing == nil || out[0].Listing.Title != "Item 2" {
		t.Fatalf("unexpected outgoing bids: %+v err=%v", out, err)
	}
}

func TestAcceptRejectWithdraw(t *testing.T) {
	a, rec := newTestApp(t)
	ctx := context.Background()
	l := mustListing(t, a, alice, "Desk")
	b1, _ := a.PlaceBid(ctx, bob, l.ID, BidDraft{Amount: 50})
	b2, _ := a.PlaceBid(ctx, carol, l.ID, BidDraft{Amount: 45})

	if _, err := a.AcceptBid(ctx, bob, b1.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("buyer cannot accept, got %v", err)
	}
	if _, err := a.AcceptBid(ctx, alice, "missing"); !errors.Is(err, ErrBidNotFound) {
		t.Fatalf("expected ErrBidNotFound, got %v", err)
	}
	if err := a.WithdrawBid(ctx, carol, b1.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("only the buyer may withdraw, got %v", err)
	}

	res, err := a.AcceptBid(ctx, alice, b1.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Accepted.ID != b1.ID || len(res.Rejected) != 1 || res.Rejected[0].ID != b2.ID {
		t.Fatalf("unexpected accept result: %+v", res)
	}
	if _, err := a.RejectBid(ctx, alice, b2.ID); !errors.Is(err, ErrBidNotPending) {
		t.Fatalf("rejecting a rejected bid should fail, got %v", err)
	}
	if err := a.WithdrawBid(ctx, bob, b1.ID); !errors.Is(err, ErrBidNotPending) {
		t.Fatalf("withdrawing an accepted bid should fail, got %v", err)
	}

	b3, _ := a.PlaceBid(ctx, carol, l.ID, BidDraft{Amount: 55})
	if err := a.WithdrawBid(ctx, carol, b3.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if bids, _ := a.ListingBids(ctx, alice, l.ID); len(bids) != 2 {
		t.Fatalf("expected withdrawn bid gone, got %d bids", len(bids))
	}

	want := "listing.created,bid.created,bid.created,bid.accepted,bid.rejected,bid.created,bid.withdrawn"
	if got := strings.Join(rec.Types(), ","); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
}

func TestConversationPolicy(t *testing.T) {
	a, rec := newTestApp(t)
	ctx := context.Background()

	if _, err := a.StartConversation(ctx, bob, Contact{UserID: "bob"}); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
	if _, err := a.StartConversation(ctx, bob, Contact{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing userId to be invalid, got %v", err)
	}
	conv, err := a.StartConversation(ctx, bob, Contact{UserID: alice.ID, Name: alice.Name})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	again, err := a.StartConversation(ctx, alice, Contact{UserID: bob.ID, Name: bob.Name})
	if err != nil || again.ID != conv.ID {
		t.Fatalf("expected the same conversation from either side, got %s vs %s err=%v", again.ID, conv.ID, err)
	}

	if _, err := a.Conversation(ctx, carol, conv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider should be forbidden, got %v", err)
	}
	if _, err := a.SendMessage(ctx, carol, conv.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider send should be forbidden, got %v", err)
	}
	if _, err := a.Conversation(ctx, bob, "missing"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	msg, err := a.SendMessage(ctx, bob, conv.ID, "  still available?  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ReceiverID != alice.ID || msg.Content != "still available?" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if _, err := a.SendMessage(ctx, bob, conv.ID, " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank content should be invalid, got %v", err)
	}

	// bob opening the thread does not clear alice's unread state
	if _, err := a.OpenConversation(ctx, bob, conv.ID); err != nil {
		t.Fatalf("open: %v", err)
	}
	c, _ := a.Conversation(ctx, alice, conv.ID)
	if c.UnreadBy[alice.ID] != 1 {
		t.Fatalf("alice should still have one unread, got %+v", c.UnreadBy)
	}

	msgs, err := a.OpenConversation(ctx, alice, conv.ID)
	if err != nil || len(msgs) != 1 || !msgs[0].Read {
		t.Fatalf("open should return read messages, got %+v err=%v", msgs, err)
	}
	c, _ = a.Conversation(ctx, alice, conv.ID)
	if c.UnreadCount != 0 || c.UnreadBy[alice.ID] != 0 {
		t.Fatalf("unread not cleared: %+v", c)
	}
	if err := a.MarkRead(ctx, carol, conv.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider mark-read should be forbidden, got %v", err)
	}

	list, err := a.Conversations(ctx, alice)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one conversation for alice, got %d err=%v", len(list), err)
	}
	if got := strings.Join(rec.Types(), ","); got != events.MessageSent {
		t.Fatalf("events = %s", got)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{SubstrateConfig: SubstrateConfig{Backend: "cassandra"}})
	if err == nil || !strings.Contains(err.Error(), "cassandra") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestSeededAppServesSampleData(t *testing.T) {
	a, err := New(context.Background(), Config{SubstrateConfig: SubstrateConfig{Backend: BackendMemory}, Seed: true})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	all, err := a.Listings(context.Background(), market.SearchQuery{})
	if err != nil || len(all) == 0 {
		t.Fatalf("expected seeded listings, got %d err=%v", len(all), err)
	}
}
