package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for the extension.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithEnabledActions limits auditing to the given actions.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, action := range actions {
			e.enabled[action] = true
		}
	}
}

// WithDisabledActions audits everything except the given actions.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = make(map[string]bool)
			for _, action := range AllActions() {
				e.enabled[action] = true
			}
		}
		for _, action := range actions {
			delete(e.enabled, action)
		}
	}
}

// AllActions lists every action the extension can record.
func AllActions() []string {
	return []string{
		ActionWalletDeposited,
		ActionEscrowLocked,
		ActionEscrowReleased,
		ActionSubscriptionCreated,
		ActionSubscriptionRenewed,
		ActionSubscriptionExpired,
		ActionMembershipUpgraded,
		ActionOperationFailed,
		ActionQuotaExceeded,
	}
}
