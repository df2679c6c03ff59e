package schema

import (
	"time"
)

// Status represents the review status of a payment document.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Variant is the product variant chosen by the customer.
type Variant struct {
	Label string `bson:"label,omitempty" json:"label,omitempty"`
	Price any    `bson:"price,omitempty" json:"price,omitempty"`
}

// ExtraField is a free-form label/value pair captured at checkout.
type ExtraField struct {
	Label string `bson:"label" json:"label"`
	Value any    `bson:"value" json:"value"`
}

// OrderItem is a line in the order. Older writers only populate the order
// items and leave the top-level product fields empty.
type OrderItem struct {
	Name        string       `bson:"name,omitempty" json:"name,omitempty"`
	Price       any          `bson:"price,omitempty" json:"price,omitempty"`
	Variant     *Variant     `bson:"variant,omitempty" json:"variant,omitempty"`
	ExtraFields []ExtraField `bson:"extraFields,omitempty" json:"extraFields,omitempty"`
}

// PaymentFields holds the descriptive attributes of a payment document.
// The same logical fact may live in more than one place; see the
// formatter's resolvers for the lookup order.
type PaymentFields struct {
	FullName      string       `bson:"fullName,omitempty" json:"fullName,omitempty"`
	Phone         string       `bson:"phone,omitempty" json:"phone,omitempty"`
	Email         string       `bson:"email,omitempty" json:"email,omitempty"`
	ProductName   string       `bson:"productName,omitempty" json:"productName,omitempty"`
	OrderTotal    string       `bson:"orderTotal,omitempty" json:"orderTotal,omitempty"`
	Price         any          `bson:"price,omitempty" json:"price,omitempty"`
	Variant       *Variant     `bson:"variant,omitempty" json:"variant,omitempty"`
	ExtraFields   []ExtraField `bson:"extraFields,omitempty" json:"extraFields,omitempty"`
	OrderItems    []OrderItem  `bson:"orderItems,omitempty" json:"orderItems,omitempty"`
	PaymentMethod string       `bson:"paymentMethod,omitempty" json:"paymentMethod,omitempty"`
	CreatedAt     *Timestamp   `bson:"createdAt,omitempty" json:"createdAt,omitempty"`
	Timestamp     *time.Time   `bson:"timestamp,omitempty" json:"timestamp,omitempty"`
	TimeStamp     *time.Time   `bson:"timeStamp,omitempty" json:"timeStamp,omitempty"`
}

// FirstItem returns the first order item, or nil when the order has none.
func (f PaymentFields) FirstItem() *OrderItem {
	if len(f.OrderItems) == 0 {
		return nil
	}
	return &f.OrderItems[0]
}

// PaymentRecord is a payment document as read back from the store.
type PaymentRecord struct {
	ID                      string     `bson:"-" json:"id"`
	Status                  Status     `bson:"status,omitempty" json:"status,omitempty"`
	NeedsManualVerification bool       `bson:"needsManualVerification" json:"needsManualVerification"`
	ReviewedAt              *time.Time `bson:"reviewedAt,omitempty" json:"reviewedAt,omitempty"`
	ApprovedAt              *time.Time `bson:"approvedAt,omitempty" json:"approvedAt,omitempty"`
	RejectedAt              *time.Time `bson:"rejectedAt,omitempty" json:"rejectedAt,omitempty"`
	PaymentFields           `bson:",inline"`
}

// EffectiveStatus treats documents without a status as pending.
func (r *PaymentRecord) EffectiveStatus() Status {
	if r.Status == "" {
		return StatusPending
	}
	return r.Status
}

// ChangeEvent is emitted once per newly observed payment document.
type ChangeEvent struct {
	ID         string
	Fields     PaymentFields
	DetectedAt time.Time
}

// NewChangeEvent creates a ChangeEvent stamped with the detection time.
func NewChangeEvent(id string, fields PaymentFields) ChangeEvent {
	return ChangeEvent{
		ID:         id,
		Fields:     fields,
		DetectedAt: time.Now(),
	}
}

// PaymentUpdate is the partial document written when a payment is reviewed.
type PaymentUpdate struct {
	Status                  Status
	NeedsManualVerification bool
	ReviewedAt              time.Time
	ApprovedAt              *time.Time
	RejectedAt              *time.Time
}

// NewReviewUpdate builds the update for moving a payment to status at now.
func NewReviewUpdate(status Status, now time.Time) PaymentUpdate {
	update := PaymentUpdate{
		Status:                  status,
		NeedsManualVerification: false,
		ReviewedAt:              now,
	}
	switch status {
	case StatusApproved:
		update.ApprovedAt = &now
	case StatusRejected:
		update.RejectedAt = &now
	}
	return update
}
