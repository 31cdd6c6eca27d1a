package market

import (
	"context"
	"errors"
	"fmt"

	"campusmarket/pkg/domain"
	"campusmarket/pkg/store"
)

var (
	// ErrBidNotFound indicates the bid id does not exist.
	ErrBidNotFound = errors.New("bid not found")
	// ErrBidNotPending indicates the bid already reached a terminal status.
	ErrBidNotPending = errors.New("bid not pending")
)

// AcceptResult describes the outcome of accepting a bid.
type AcceptResult struct {
	Accepted domain.Bid
	Rejected []domain.Bid
}

// BidWorkflow applies guarded status transitions: only pending bids move, and
// accepting one bid rejects the other pending bids on the same listing.
type BidWorkflow struct {
	base
}

func NewBidWorkflow(tables *store.Tables, opts ...Option) *BidWorkflow {
	return &BidWorkflow{base: newBase(tables, opts)}
}

// Accept marks the bid accepted and rejects its pending siblings in a single
// write of the bids table. Accepted or rejected siblings keep their status.
func (w *BidWorkflow) Accept(ctx context.Context, bidID string) (AcceptResult, error) {
	w.latency.wait()
	var res AcceptResult
	err := w.tables.UpdateBids(ctx, func(bids []domain.Bid) ([]domain.Bid, bool, error) {
		idx := indexOfBid(bids, bidID)
		if idx < 0 {
			return bids, false, ErrBidNotFound
		}
		if bids[idx].Status != domain.BidPending {
			return bids, false, ErrBidNotPending
		}
		bids[idx].Status = domain.BidAccepted
		res.Accepted = bids[idx]
		for i := range bids {
			if i == idx || bids[i].ListingID != bids[idx].ListingID || bids[i].Status != domain.BidPending {
				continue
			}
			bids[i].Status = domain.BidRejected
			res.Rejected = append(res.Rejected, bids[i])
		}
		return bids, true, nil
	})
	if err != nil {
		return AcceptResult{}, fmt.Errorf("accept bid %s: %w", bidID, err)
	}
	return res, nil
}

// Reject marks a pending bid rejected.
func (w *BidWorkflow) Reject(ctx context.Context, bidID string) (domain.Bid, error) {
	w.latency.wait()
	var rejected domain.Bid
	err := w.tables.UpdateBids(ctx, func(bids []domain.Bid) ([]domain.Bid, bool, error) {
		idx := indexOfBid(bids, bidID)
		if idx < 0 {
			return bids, false, ErrBidNotFound
		}
		if bids[idx].Status != domain.BidPending {
			return bids, false, ErrBidNotPending
		}
		bids[idx].Status = domain.BidRejected
		rejected = bids[idx]
		return bids, true, nil
	})
	if err != nil {
		return domain.Bid{}, fmt.Errorf("reject bid %s: %w", bidID, err)
	}
	return rejected, nil
}

func indexOfBid(bids []domain.Bid, id string) int {
	for i := range bids {
		if bids[i].ID == id {
			return i
		}
	}
	return -1
}
