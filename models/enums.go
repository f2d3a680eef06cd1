package models

type DestinationClass string

const (
	DestinationClassOwnUnit DestinationClass = "OwnUnit"
	DestinationClassJobber  DestinationClass = "Jobber"
)

func (c DestinationClass) IsValid() bool {
	return c == DestinationClassOwnUnit || c == DestinationClassJobber
}

type IssueStatus string

const (
	IssueStatusNew       IssueStatus = "New"
	IssueStatusPartial   IssueStatus = "Partial"
	IssueStatusCompleted IssueStatus = "Completed"
	IssueStatusCancelled IssueStatus = "Cancelled"
)

// FulfillmentState is tracked per (issue record, product).
type FulfillmentState string

const (
	FulfillmentStateNew       FulfillmentState = "New"
	FulfillmentStatePartial   FulfillmentState = "Partial"
	FulfillmentStateCompleted FulfillmentState = "Completed"
)

type InwardEventStatus string

const (
	InwardEventStatusDraft     InwardEventStatus = "Draft"
	InwardEventStatusApproved  InwardEventStatus = "Approved"
	InwardEventStatusCancelled InwardEventStatus = "Cancelled"
)

func (s InwardEventStatus) IsValid() bool {
	switch s {
	case InwardEventStatusDraft, InwardEventStatusApproved, InwardEventStatusCancelled:
		return true
	}
	return false
}

type OutwardEventStatus string

const (
	OutwardEventStatusActive    OutwardEventStatus = "Active"
	OutwardEventStatusCancelled OutwardEventStatus = "Cancelled"
)

type ReceiptStatus string

const (
	ReceiptStatusActive    ReceiptStatus = "Active"
	ReceiptStatusCancelled ReceiptStatus = "Cancelled"
)

type DamageStatus string

const (
	DamageStatusPending  DamageStatus = "Pending"
	DamageStatusApproved DamageStatus = "Approved"
	DamageStatusRejected DamageStatus = "Rejected"
)

type AnomalyType string

const (
	AnomalyTypeNegativeClamp        AnomalyType = "NegativeClamp"
	AnomalyTypeUnknownMaterial      AnomalyType = "UnknownMaterial"
	AnomalyTypeWIPMismatch          AnomalyType = "WIPMismatch"
	AnomalyTypeRejectedInboundEvent AnomalyType = "RejectedInboundEvent"
)

type AnomalySource string

const (
	AnomalySourceCapture        AnomalySource = "capture"
	AnomalySourcePosting        AnomalySource = "posting"
	AnomalySourceRecompute      AnomalySource = "recompute"
	AnomalySourceInbound        AnomalySource = "inbound"
	AnomalySourceReconciliation AnomalySource = "reconciliation"
)

type AnomalyReviewStatus string

const (
	AnomalyReviewStatusOpen         AnomalyReviewStatus = "Open"
	AnomalyReviewStatusAcknowledged AnomalyReviewStatus = "Acknowledged"
)

type MovementType string

const (
	MovementTypeIssueCreated     MovementType = "IssueCreated"
	MovementTypeIssueCancelled   MovementType = "IssueCancelled"
	MovementTypeReceiptAccepted  MovementType = "ReceiptAccepted"
	MovementTypeReceiptCancelled MovementType = "ReceiptCancelled"
	MovementTypeWriteOff         MovementType = "WriteOff"
	MovementTypeGoodsReceived    MovementType = "GoodsReceived"
	MovementTypeDirectIssue      MovementType = "DirectIssue"
)

const (
	ReferenceTypeIssueRecord   = "IssueRecord"
	ReferenceTypeReceiptRecord = "ReceiptRecord"
	ReferenceTypeWIPWriteOff   = "WIPWriteOff"
	ReferenceTypeInwardEvent   = "InwardReceiptEvent"
	ReferenceTypeOutwardEvent  = "OutwardIssueEvent"
)
