package domain

import "strconv"

// ItemID is the store-assigned identifier of an item. It never changes once assigned.
type ItemID int64

// String returns the decimal form of the identifier
func (id ItemID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseItemID parses the decimal form produced by String
func ParseItemID(s string) (ItemID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ItemID(v), nil
}

// Item statuses
const (
	StatusNew       = "NEW"
	StatusProcessed = "PROCESSED"
)

// Item represents a stored record
type Item struct {
	ID          ItemID `json:"id" reindex:"id,,pk"`
	Name        string `json:"name" reindex:"name"`
	Description string `json:"description" reindex:"description"`
	Status      string `json:"status" reindex:"status"`
	Email       string `json:"email" reindex:"email" validate:"required,email"`
}

// Clone returns a copy that shares no memory with the receiver
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
