package ledger

import (
	"encoding/json"
	"fmt"
)

// OperationKind discriminates the meta payload carried by an entry pair.
type OperationKind string

const (
	OpDeposit          OperationKind = "deposit"
	OpEscrowLock       OperationKind = "escrow_lock"
	OpEscrowRelease    OperationKind = "escrow_release"
	OpFee              OperationKind = "fee"
	OpInsurancePremium OperationKind = "insurance_premium"
	OpInsurancePayout  OperationKind = "insurance_payout"
	OpLoanIssue        OperationKind = "loan_issue"
	OpLoanRepay        OperationKind = "loan_repay"
	OpSpend            OperationKind = "spend"
	OpTreasuryFund     OperationKind = "treasury_fund"
	OpAllowance        OperationKind = "allowance"
)

// Meta is the tagged operation payload on an entry. Each operation kind has
// its own variant carrying only the fields relevant to it; entries are
// immutable, so a meta value is never reinterpreted after write.
type Meta interface {
	Kind() OperationKind
}

// DepositMeta records where externally acquired credits came from.
type DepositMeta struct {
	Source     string `json:"source,omitempty"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

func (DepositMeta) Kind() OperationKind { return OpDeposit }

// EscrowLockMeta correlates a lock with the booking it secures.
type EscrowLockMeta struct {
	BookingID string `json:"booking_id,omitempty"`
}

func (EscrowLockMeta) Kind() OperationKind { return OpEscrowLock }

// EscrowReleaseMeta correlates a release with the booking it resolves.
type EscrowReleaseMeta struct {
	BookingID string `json:"booking_id,omitempty"`
}

func (EscrowReleaseMeta) Kind() OperationKind { return OpEscrowRelease }

// FeeMeta records what a captured fee was charged for.
type FeeMeta struct {
	BookingID string `json:"booking_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (FeeMeta) Kind() OperationKind { return OpFee }

// InsurancePremiumMeta marks a premium payment into the pool.
type InsurancePremiumMeta struct {
	Note string `json:"note,omitempty"`
}

func (InsurancePremiumMeta) Kind() OperationKind { return OpInsurancePremium }

// InsurancePayoutMeta correlates a payout with the approved claim.
type InsurancePayoutMeta struct {
	ClaimID string `json:"claim_id,omitempty"`
}

func (InsurancePayoutMeta) Kind() OperationKind { return OpInsurancePayout }

// LoanIssueMeta links a disbursement to its loan record.
type LoanIssueMeta struct {
	LoanID string `json:"loan_id"`
}

func (LoanIssueMeta) Kind() OperationKind { return OpLoanIssue }

// LoanRepayMeta links a repayment to its loan and installment.
type LoanRepayMeta struct {
	LoanID      string `json:"loan_id"`
	Installment int    `json:"installment,omitempty"`
	Automatic   bool   `json:"automatic,omitempty"`
}

func (LoanRepayMeta) Kind() OperationKind { return OpLoanRepay }

// SpendMeta records a generic debit with no designated recipient, such as
// demurrage decay.
type SpendMeta struct {
	Reason string `json:"reason,omitempty"`
}

func (SpendMeta) Kind() OperationKind { return OpSpend }

// TreasuryFundMeta records external funding of the circle treasury.
type TreasuryFundMeta struct {
	Source string `json:"source,omitempty"`
}

func (TreasuryFundMeta) Kind() OperationKind { return OpTreasuryFund }

// AllowanceMeta records a scheduled allowance distribution.
type AllowanceMeta struct {
	Period string `json:"period,omitempty"`
}

func (AllowanceMeta) Kind() OperationKind { return OpAllowance }

type metaEnvelope struct {
	Kind OperationKind   `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalMeta encodes a meta value into its storage envelope.
func MarshalMeta(m Meta) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("meta is required")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metaEnvelope{Kind: m.Kind(), Data: data})
}

// UnmarshalMeta decodes a storage envelope back into its typed variant.
func UnmarshalMeta(raw []byte) (Meta, error) {
	var env metaEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	var m Meta
	switch env.Kind {
	case OpDeposit:
		m = &DepositMeta{}
	case OpEscrowLock:
		m = &EscrowLockMeta{}
	case OpEscrowRelease:
		m = &EscrowReleaseMeta{}
	case OpFee:
		m = &FeeMeta{}
	case OpInsurancePremium:
		m = &InsurancePremiumMeta{}
	case OpInsurancePayout:
		m = &InsurancePayoutMeta{}
	case OpLoanIssue:
		m = &LoanIssueMeta{}
	case OpLoanRepay:
		m = &LoanRepayMeta{}
	case OpSpend:
		m = &SpendMeta{}
	case OpTreasuryFund:
		m = &TreasuryFundMeta{}
	case OpAllowance:
		m = &AllowanceMeta{}
	default:
		return nil, fmt.Errorf("unknown operation kind %q", env.Kind)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, m); err != nil {
			return nil, err
		}
	}
	return derefMeta(m), nil
}

// derefMeta returns the value form so decoded metas compare equal to the
// values operations write.
func derefMeta(m Meta) Meta {
	switch v := m.(type) {
	case *DepositMeta:
		return *v
	case *EscrowLockMeta:
		return *v
	case *EscrowReleaseMeta:
		return *v
	case *FeeMeta:
		return *v
	case *InsurancePremiumMeta:
		return *v
	case *InsurancePayoutMeta:
		return *v
	case *LoanIssueMeta:
		return *v
	case *LoanRepayMeta:
		return *v
	case *SpendMeta:
		return *v
	case *TreasuryFundMeta:
		return *v
	case *AllowanceMeta:
		return *v
	default:
		return m
	}
}
