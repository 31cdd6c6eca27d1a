package domain

import "time"

type Category string

const (
	CategoryTextbooks        Category = "textbooks"
	CategoryElectronics      Category = "electronics"
	CategoryFurniture        Category = "furniture"
	CategoryClothing         Category = "clothing"
	CategoryKitchen          Category = "kitchen"
	CategorySchoolSupplies   Category = "school_supplies"
	CategoryEngineeringTools Category = "engineering_tools"
	CategoryLabEquipment     Category = "lab_equipment"
	CategoryDormEssentials   Category = "dorm_essentials"
	CategoryOther            Category = "other"
)

type Condition string

const (
	ConditionNew     Condition = "new"
	ConditionLikeNew Condition = "like_new"
	ConditionGood    Condition = "good"
	ConditionFair    Condition = "fair"
	ConditionPoor    Condition = "poor"
)

type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// User is the identity snapshot supplied by the external identity service.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Listing is an item for sale. SellerName and SellerAvatar are copied from the
// seller at creation time and are not refreshed when the seller profile changes.
type Listing struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	Category     Category  `json:"category"`
	Condition    Condition `json:"condition"`
	ImageURL     string    `json:"imageUrl"`
	SellerID     string    `json:"sellerId"`
	SellerName   string    `json:"sellerName"`
	SellerAvatar string    `json:"sellerAvatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Bid is an offer against a listing. Listing is filled in by callers through a
// separate lookup and is never written to the bids table.
type Bid struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listingId"`
	BuyerID     string    `json:"buyerId"`
	BuyerName   string    `json:"buyerName"`
	BuyerAvatar string    `json:"buyerAvatar,omitempty"`
	Amount      float64   `json:"amount"`
	Message     string    `json:"message,omitempty"`
	Status      BidStatus `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	Listing     *Listing  `json:"listing,omitempty"`
}

// Conversation is a two-party thread. ParticipantNames and ParticipantAvatars
// are parallel to ParticipantIDs.
type Conversation struct {
	ID                 string         `json:"id"`
	ParticipantIDs     []string       `json:"participantIds"`
	ParticipantNames   []string       `json:"participantNames"`
	ParticipantAvatars []string       `json:"participantAvatars,omitempty"`
	LastMessage        string         `json:"lastMessage,omitempty"`
	LastMessageDate    *time.Time     `json:"lastMessageDate,omitempty"`
	UnreadCount        int            `json:"unreadCount"`
	UnreadBy           map[string]int `json:"unreadBy,omitempty"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Counterpart returns the index of the participant that is not userID, or -1.
func (c Conversation) Counterpart(userID string) int {
	if !c.HasParticipant(userID) {
		return -1
	}
	for i, id := range c.ParticipantIDs {
		if id != userID {
			return i
		}
	}
	return -1
}

type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	Read       bool      `json:"read"`
}

// Option is a value/label pair for enum catalogs.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var categoryLabels = []Option{
	{Value: string(CategoryTextbooks), Label: "Textbooks"},
	{Value: string(CategoryElectronics), Label: "Electronics"},
	{Value: string(CategoryFurniture), Label: "Furniture"},
	{Value: string(CategoryClothing), Label: "Clothing"},
	{Value: string(CategoryKitchen), Label: "Kitchen"},
	{Value: string(CategorySchoolSupplies), Label: "School Supplies"},
	{Value: string(CategoryEngineeringTools), Label: "Engineering Tools"},
	{Value: string(CategoryLabEquipment), Label: "Lab Equipment"},
	{Value: string(CategoryDormEssentials), Label: "Dorm Essentials"},
	{Value: string(CategoryOther), Label: "Other"},
}

var conditionLabels = []Option{
	{Value: string(ConditionNew), Label: "New"},
	{Value: string(ConditionLikeNew), Label: "Like New"},
	{Value: string(ConditionGood), Label: "Good"},
	{Value: string(ConditionFair), Label: "Fair"},
	{Value: string(ConditionPoor), Label: "Poor"},
}

// Categories returns the category catalog in display order.
func Categories() []Option {
	return append([]Option(nil), categoryLabels...)
}

// Conditions returns the condition catalog in display order.
func Conditions() []Option {
	return append([]Option(nil), conditionLabels...)
}

func (c Category) Valid() bool {
	for _, opt := range categoryLabels {
		if opt.Value == string(c) {
			return true
		}
	}
	return false
}

func (c Condition) Valid() bool {
	for _, opt := range conditionLabels {
		if opt.Value == string(c) {
			return true
		}
	}
	return false
}
