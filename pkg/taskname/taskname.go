package taskname

const (
	// Payout tasks
	PayoutRunDue      = "payout:run_due"
	PayoutRunCampaign = "payout:run_campaign"

	// Reconciliation tasks
	ReconcileSweep = "reconcile:sweep"

	// Balance tasks
	BalanceCheck = "balance:check"

	// Notification tasks, consumed by the push service
	NotificationPush = "notification:push"
)

// Queues
const (
	QueueCritical      = "critical"
	QueueDefault       = "default"
	QueueNotifications = "notifications"
)
