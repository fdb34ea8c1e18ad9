package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SandboxGateway settles charges locally for development. It is selected
// only by PAYMENT_MODE=sandbox and is never used as a fallback for a live
// gateway error.
type SandboxGateway struct {
	// DeclineAmount, when set, makes charges of exactly this amount fail
	DeclineAmount decimal.Decimal
}

// NewSandboxGateway creates a sandbox gateway
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{}
}

// GetName returns the gateway name
func (g *SandboxGateway) GetName() string {
	return "sandbox"
}

// Charge approves every charge except DeclineAmount
func (g *SandboxGateway) Charge(ctx context.Context, reference string, amount decimal.Decimal, _ Contact) (*ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrGatewayTimeout
	}
	if !g.DeclineAmount.IsZero() && amount.Equal(g.DeclineAmount) {
		return &ChargeResult{Status: StatusFailure, Detail: "sandbox decline"}, nil
	}
	return &ChargeResult{
		Status:        StatusSuccess,
		TransactionID: "SBX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16],
		Detail:        "sandbox approval for " + reference,
	}, nil
}
