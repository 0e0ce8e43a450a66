package rediskey

import "fmt"

// Payout keys (global convention across workers)
const (
	PayoutPrefix      = "payout"
	PayoutLeasePrefix = "payout:lease:campaign"
	SweepLeaseKey     = "payout:lease:sweep"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// CampaignLease returns "payout:lease:campaign:{campaignID}"
func CampaignLease(campaignID string) string {
	return NamespaceKey(PayoutLeasePrefix, campaignID)
}
