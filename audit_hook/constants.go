package audithook

// Action constants for audit events.
const (
	// Wallet actions
	ActionWalletDeposited = "wallet.deposited"

	// Escrow actions
	ActionEscrowLocked   = "escrow.locked"
	ActionEscrowReleased = "escrow.released"

	// Membership actions
	ActionSubscriptionCreated = "subscription.created"
	ActionSubscriptionRenewed = "subscription.renewed"
	ActionSubscriptionExpired = "subscription.expired"
	ActionMembershipUpgraded  = "membership.upgraded"

	// Failures and limits
	ActionOperationFailed = "operation.failed"
	ActionQuotaExceeded   = "quota.exceeded"
)

// Resource constants for audit events.
const (
	ResourceTransaction  = "wallet_transaction"
	ResourceCase         = "case"
	ResourceSubscription = "subscription"
	ResourceUser         = "user"
	ResourceChat         = "ai_chat"
	ResourceOperation    = "operation"
)

// Category constants for audit events.
const (
	CategoryWallet       = "wallet"
	CategoryEscrow       = "escrow"
	CategorySubscription = "subscription"
	CategoryUsage        = "usage"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
