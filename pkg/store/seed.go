package store

import (
	"time"

	"campusmarket/pkg/domain"
)

func seedTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		panic(err)
	}
	return t
}

func seedTimePtr(v string) *time.Time {
	t := seedTime(v)
	return &t
}

// SampleListings returns the listings written on first open.
func SampleListings() []domain.Listing {
	return []domain.Listing{
		{
			ID:          "1",
			Title:       "Computer Science Textbook",
			Description: "Introduction to Algorithms by Cormen, slightly used. Great condition with no markings or highlights.",
			Price:       40,
			Category:    domain.CategoryTextbooks,
			Condition:   domain.ConditionGood,
			ImageURL:    "https://images.unsplash.com/photo-1581087607783-3d091715642d?q=80&w=2000&auto=format&fit=crop",
			SellerID:    "user1",
			SellerName:  "Alex Johnson",
			CreatedAt:   seedTime("2023-05-15T14:48:00Z"),
			UpdatedAt:   seedTime("2023-05-15T14:48:00Z"),
		},
		{
			ID:          "2",
			Title:       "Mini Refrigerator",
			Description: "Perfect for dorm rooms. 2.7 cubic feet with freezer compartment. Works great!",
			Price:       75,
			Category:    domain.CategoryElectronics,
			Condition:   domain.ConditionGood,
			ImageURL:    "https://images.unsplash.com/photo-1571175443880-49e1d25b2bc5?q=80&w=2000&auto=format&fit=crop",
			SellerID:    "user2",
			SellerName:  "Jamie Smith",
			CreatedAt:   seedTime("2023-05-18T09:30:00Z"),
			UpdatedAt:   seedTime("2023-05-18T09:30:00Z"),
		},
		{
			ID:          "3",
			Title:       "Desk Lamp",
			Description: "Adjustable LED desk lamp with multiple brightness settings and USB charging port.",
			Price:       25,
			Category:    domain.CategoryElectronics,
			Condition:   domain.ConditionLikeNew,
			ImageURL:    "https://images.unsplash.com/photo-1534381025218-07e4a1d7bf85?q=80&w=2000&auto=format&fit=crop",
			SellerID:    "user1",
			SellerName:  "Alex Johnson",
			CreatedAt:   seedTime("2023-05-20T16:15:00Z"),
			UpdatedAt:   seedTime("2023-05-20T16:15:00Z"),
		},
		{
			ID:          "4",
			Title:       "Comfortable Futon",
			Description: "Converts from sofa to bed. Black microfiber cover. 1 year old but in excellent condition.",
			Price:       120,
			Category:    domain.CategoryFurniture,
			Condition:   domain.ConditionGood,
			ImageURL:    "https://images.unsplash.com/photo-1540574163026-643ea20ade25?q=80&w=2000&auto=format&fit=crop",
			SellerID:    "user3",
			SellerName:  "Taylor Wilson",
			CreatedAt:   seedTime("2023-05-22T11:20:00Z"),
			UpdatedAt:   seedTime("2023-05-22T11:20:00Z"),
		},
		{
			ID:          "5",
			Title:       "Calculus Textbook",
			Description: "Calculus: Early Transcendentals, 8th Edition. No highlights or notes.",
			Price:       50,
			Category:    domain.CategoryTextbooks,
			Condition:   domain.ConditionLikeNew,
			ImageURL:    "https://images.unsplash.com/photo-1544947950-fa07a98d237f?q=80&w=2000&auto=format&fit=crop",
			SellerID:    "user4",
			SellerName:  "Jordan Lee",
			CreatedAt:   seedTime("2023-05-25T08:45:00Z"),
			UpdatedAt:   seedTime("2023-05-25T08:45:00Z"),
		},
		{
			ID:          "6",
			Title:       "Wireless Headphones",
			Description: "Noise-cancelling wireless headphones. 30-hour battery life. Minor wear on ear pads.",
			Price:       65,
			Category:    domain.CategoryElectronics,
			Condition:   domain.ConditionGood,
			ImageURL:    "https://images.unsplash.com/photo-1505740420928-5e560c06d30e?q=80&w=2000&auto=format&fit=crop",
			SellerID:    "user2",
			SellerName:  "Jamie Smith",
			CreatedAt:   seedTime("2023-05-28T13:10:00Z"),
			UpdatedAt:   seedTime("2023-05-28T13:10:00Z"),
		},
	}
}

// SampleBids returns the bids written on first open.
func SampleBids() []domain.Bid {
	return []domain.Bid{
		{
			ID:        "bid1",
			ListingID: "1",
			BuyerID:   "user2",
			BuyerName: "Jamie Smith",
			Amount:    35,
			Message:   "Would you take $35?",
			Status:    domain.BidPending,
			CreatedAt: seedTime("2023-05-16T10:30:00Z"),
		},
		{
			ID:        "bid2",
			ListingID: "1",
			BuyerID:   "user3",
			BuyerName: "Taylor Wilson",
			Amount:    38,
			Message:   "I can pick up today!",
			Status:    domain.BidPending,
			CreatedAt: seedTime("2023-05-16T14:45:00Z"),
		},
		{
			ID:        "bid3",
			ListingID: "4",
			BuyerID:   "user1",
			BuyerName: "Alex Johnson",
			Amount:    110,
			Message:   "Would you consider $110?",
			Status:    domain.BidPending,
			CreatedAt: seedTime("2023-05-23T09:20:00Z"),
		},
	}
}

// SampleConversations returns the conversations written on first open.
func SampleConversations() []domain.Conversation {
	return []domain.Conversation{
		{
			ID:               "conv1",
			ParticipantIDs:   []string{"user1", "user2"},
			ParticipantNames: []string{"Alex Johnson", "Jamie Smith"},
			LastMessage:      "Is the textbook still available?",
			LastMessageDate:  seedTimePtr("2023-05-16T10:35:00Z"),
			UnreadCount:      1,
			UnreadBy:         map[string]int{"user1": 1},
		},
		{
			ID:               "conv2",
			ParticipantIDs:   []string{"user1", "user3"},
			ParticipantNames: []string{"Alex Johnson", "Taylor Wilson"},
			LastMessage:      "Can I see more photos of the lamp?",
			LastMessageDate:  seedTimePtr("2023-05-20T16:30:00Z"),
			UnreadCount:      0,
		},
	}
}

// SampleMessages returns the conversationId -> messages mapping written on first open.
func SampleMessages() map[string][]domain.Message {
	return map[string][]domain.Message{
		"conv1": {
			{ID: "msg1", SenderID: "user2", ReceiverID: "user1", Content: "Hi, is the textbook still available?", CreatedAt: seedTime("2023-05-16T10:30:00Z"), Read: true},
			{ID: "msg2", SenderID: "user1", ReceiverID: "user2", Content: "Yes, it is! Are you interested?", CreatedAt: seedTime("2023-05-16T10:32:00Z"), Read: true},
			{ID: "msg3", SenderID: "user2", ReceiverID: "user1", Content: "Is the textbook still available?", CreatedAt: seedTime("2023-05-16T10:35:00Z"), Read: false},
		},
		"conv2": {
			{ID: "msg4", SenderID: "user3", ReceiverID: "user1", Content: "Hello! I'm interested in your desk lamp.", CreatedAt: seedTime("2023-05-20T16:30:00Z"), Read: true},
			{ID: "msg5", SenderID: "user1", ReceiverID: "user3", Content: "Great! It's still available.", CreatedAt: seedTime("2023-05-20T16:45:00Z"), Read: true},
			{ID: "msg6", SenderID: "user3", ReceiverID: "user1", Content: "Can I see more photos of the lamp?", CreatedAt: seedTime("2023-05-20T17:20:00Z"), Read: true},
		},
	}
}
