package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campusmarket/pkg/domain"
	"campusmarket/pkg/store"
)

// ListingInput carries the caller-supplied fields of a new listing.
type ListingInput struct {
	Title        string
	Description  string
	Price        float64
	Category     domain.Category
	Condition    domain.Condition
	ImageURL     string
	SellerID     string
	SellerName   string
	SellerAvatar string
}

// ListingPatch is a partial update; nil fields are left unchanged.
type ListingPatch struct {
	Title        *string           `json:"title,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Price        *float64          `json:"price,omitempty"`
	Category     *domain.Category  `json:"category,omitempty"`
	Condition    *domain.Condition `json:"condition,omitempty"`
	ImageURL     *string           `json:"imageUrl,omitempty"`
	SellerName   *string           `json:"sellerName,omitempty"`
	SellerAvatar *string           `json:"sellerAvatar,omitempty"`
}

// SearchQuery filters listings. Zero values mean "no filter".
type SearchQuery struct {
	Query    string
	Category domain.Category
	MinPrice *float64
	MaxPrice *float64
}

// ListingService manages the listings table.
type ListingService struct {
	base
}

func NewListingService(tables *store.Tables, opts ...Option) *ListingService {
	return &ListingService{base: newBase(tables, opts)}
}

// All returns every listing in storage order.
func (s *ListingService) All(ctx context.Context) ([]domain.Listing, error) {
	s.latency.wait()
	return s.tables.Listings(ctx)
}

// ByID returns the first listing with id.
func (s *ListingService) ByID(ctx context.Context, id string) (domain.Listing, bool, error) {
	s.latency.wait()
	listings, err := s.tables.Listings(ctx)
	if err != nil {
		return domain.Listing{}, false, err
	}
	for _, l := range listings {
		if l.ID == id {
			return l, true, nil
		}
	}
	return domain.Listing{}, false, nil
}

// BySellerID returns the seller's listings in storage order.
func (s *ListingService) BySellerID(ctx context.Context, sellerID string) ([]domain.Listing, error) {
	s.latency.wait()
	listings, err := s.tables.Listings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	return out, nil
}

// Create appends a new listing with a fresh id and both timestamps set to now.
func (s *ListingService) Create(ctx context.Context, in ListingInput) (domain.Listing, error) {
	s.latency.wait()
	now := s.stamp()
	listing := domain.Listing{
		ID:           newEntityID("listing"),
		Title:        in.Title,
		Description:  in.Description,
		Price:        in.Price,
		Category:     in.Category,
		Condition:    in.Condition,
		ImageURL:     in.ImageURL,
		SellerID:     in.SellerID,
		SellerName:   in.SellerName,
		SellerAvatar: in.SellerAvatar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.tables.UpdateListings(ctx, func(ls []domain.Listing) ([]domain.Listing, bool, error) {
		return append(ls, listing), true, nil
	})
	if err != nil {
		return domain.Listing{}, fmt.Errorf("create listing: %w", err)
	}
	return listing, nil
}

// Update merges patch onto the listing and advances UpdatedAt.
// A missing id reports ok=false without error.
func (s *ListingService) Update(ctx context.Context, id string, patch ListingPatch) (domain.Listing, bool, error) {
	s.latency.wait()
	var (
		updated domain.Listing
		found   bool
	)
	err := s.tables.UpdateListings(ctx, func(ls []domain.Listing) ([]domain.Listing, bool, error) {
		for i := range ls {
			if ls[i].ID != id {
				continue
			}
			applyPatch(&ls[i], patch)
			ls[i].UpdatedAt = advance(ls[i].UpdatedAt, s.stamp())
			updated, found = ls[i], true
			return ls, true, nil
		}
		return ls, false, nil
	})
	if err != nil {
		return domain.Listing{}, false, fmt.Errorf("update listing: %w", err)
	}
	return updated, found, nil
}

// Delete removes the listing and every bid that references it. It reports true
// even when the id did not exist.
func (s *ListingService) Delete(ctx context.Context, id string) (bool, error) {
	s.latency.wait()
	err := s.tables.UpdateListingsAndBids(ctx,
		func(ls []domain.Listing) ([]domain.Listing, bool, error) {
			out := ls[:0]
			for _, l := range ls {
				if l.ID != id {
					out = append(out, l)
				}
			}
			return out, true, nil
		},
		func(bids []domain.Bid) ([]domain.Bid, bool, error) {
			out := bids[:0]
			for _, b := range bids {
				if b.ListingID != id {
					out = append(out, b)
				}
			}
			return out, true, nil
		},
	)
	if err != nil {
		return false, fmt.Errorf("delete listing: %w", err)
	}
	return true, nil
}

// Search applies the AND-combined filters in q.
func (s *ListingService) Search(ctx context.Context, q SearchQuery) ([]domain.Listing, error) {
	s.latency.wait()
	listings, err := s.tables.Listings(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(q.Query)
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if needle != "" &&
			!strings.Contains(strings.ToLower(l.Title), needle) &&
			!strings.Contains(strings.ToLower(l.Description), needle) {
			continue
		}
		if q.Category != "" && l.Category != q.Category {
			continue
		}
		if q.MinPrice != nil && l.Price < *q.MinPrice {
			continue
		}
		if q.MaxPrice != nil && l.Price > *q.MaxPrice {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func applyPatch(l *domain.Listing, p ListingPatch) {
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Price != nil {
		l.Price = *p.Price
	}
	if p.Category != nil {
		l.Category = *p.Category
	}
	if p.Condition != nil {
		l.Condition = *p.Condition
	}
	if p.ImageURL != nil {
		l.ImageURL = *p.ImageURL
	}
	if p.SellerName != nil {
		l.SellerName = *p.SellerName
	}
	if p.SellerAvatar != nil {
		l.SellerAvatar = *p.SellerAvatar
	}
}

// advance returns now, or a nanosecond past prev when the clock has not moved.
func advance(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
