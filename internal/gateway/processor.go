package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Processor represents a connector to an external payment processor.
type Processor interface {
	AuthorizePurchase(ctx context.Context, input PurchaseAuthorization) (AuthorizationDecision, error)
}

// AuthorizationDecision captures the processor's response.
type AuthorizationDecision struct {
	Reference string
	Status    string
}

// Decision statuses.
const (
	StatusApproved = "approved"
	StatusDeclined = "declined"
)

// ErrDeclined occurs when the processor rejects a purchase.
var ErrDeclined = errors.New("payment declined")

// PurchaseAuthorization encapsulates details of a credit purchase.
type PurchaseAuthorization struct {
	CircleID string
	UserID   string
	Amount   int64
}

// StaticProcessor simulates a successful processor integration.
type StaticProcessor struct{}

// AuthorizePurchase approves the purchase with a synthetic reference.
func (StaticProcessor) AuthorizePurchase(_ context.Context, _ PurchaseAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{Reference: uuid.NewString(), Status: StatusApproved}, nil
}
