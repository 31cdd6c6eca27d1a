package market

import (
	"context"
	"fmt"

	"campusmarket/pkg/domain"
	"campusmarket/pkg/store"
)

// BidInput carries the caller-supplied fields of a new bid.
type BidInput struct {
	ListingID   string
	BuyerID     string
	BuyerName   string
	BuyerAvatar string
	Amount      float64
	Message     string
}

// BidService manages the bids table. It does not enforce the status machine;
// see BidWorkflow for guarded transitions.
type BidService struct {
	base
}

func NewBidService(tables *store.Tables, opts ...Option) *BidService {
	return &BidService{base: newBase(tables, opts)}
}

// ByID returns the bid with id.
func (s *BidService) ByID(ctx context.Context, id string) (domain.Bid, bool, error) {
	s.latency.wait()
	bids, err := s.tables.Bids(ctx)
	if err != nil {
		return domain.Bid{}, false, err
	}
	for _, b := range bids {
		if b.ID == id {
			return b, true, nil
		}
	}
	return domain.Bid{}, false, nil
}

// ByListingID returns the listing's bids in storage order.
func (s *BidService) ByListingID(ctx context.Context, listingID string) ([]domain.Bid, error) {
	return s.filter(ctx, func(b domain.Bid) bool { return b.ListingID == listingID })
}

// ByBuyerID returns the buyer's bids in storage order.
func (s *BidService) ByBuyerID(ctx context.Context, buyerID string) ([]domain.Bid, error) {
	return s.filter(ctx, func(b domain.Bid) bool { return b.BuyerID == buyerID })
}

func (s *BidService) filter(ctx context.Context, keep func(domain.Bid) bool) ([]domain.Bid, error) {
	s.latency.wait()
	bids, err := s.tables.Bids(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Bid, 0, len(bids))
	for _, b := range bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Create appends a pending bid.
func (s *BidService) Create(ctx context.Context, in BidInput) (domain.Bid, error) {
	s.latency.wait()
	bid := domain.Bid{
		ID:          newEntityID("bid"),
		ListingID:   in.ListingID,
		BuyerID:     in.BuyerID,
		BuyerName:   in.BuyerName,
		BuyerAvatar: in.BuyerAvatar,
		Amount:      in.Amount,
		Message:     in.Message,
		Status:      domain.BidPending,
		CreatedAt:   s.stamp(),
	}
	err := s.tables.UpdateBids(ctx, func(bids []domain.Bid) ([]domain.Bid, bool, error) {
		return append(bids, bid), true, nil
	})
	if err != nil {
		return domain.Bid{}, fmt.Errorf("create bid: %w", err)
	}
	return bid, nil
}

// UpdateStatus overwrites the bid's status unconditionally. Sibling bids are
// not touched.
func (s *BidService) UpdateStatus(ctx context.Context, id string, status domain.BidStatus) (domain.Bid, bool, error) {
	s.latency.wait()
	var (
		updated domain.Bid
		found   bool
	)
	err := s.tables.UpdateBids(ctx, func(bids []domain.Bid) ([]domain.Bid, bool, error) {
		for i := range bids {
			if bids[i].ID == id {
				bids[i].Status = status
				updated, found = bids[i], true
				return bids, true, nil
			}
		}
		return bids, false, nil
	})
	if err != nil {
		return domain.Bid{}, false, fmt.Errorf("update bid status: %w", err)
	}
	return updated, found, nil
}

// Delete removes the bid. It reports true even when the id did not exist.
func (s *BidService) Delete(ctx context.Context, id string) (bool, error) {
	s.latency.wait()
	err := s.tables.UpdateBids(ctx, func(bids []domain.Bid) ([]domain.Bid, bool, error) {
		out := bids[:0]
		for _, b := range bids {
			if b.ID != id {
				out = append(out, b)
			}
		}
		return out, true, nil
	})
	if err != nil {
		return false, fmt.Errorf("delete bid: %w", err)
	}
	return true, nil
}
