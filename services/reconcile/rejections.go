package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"smallbiznis-payout/pkg/alert"
	"smallbiznis-payout/services/ledger"

	"go.uber.org/zap"
)

const maxAlertAccounts = 20

// rejections tallies ledger rejections that another sweep will not fix.
// Insufficient balance is left to the balance monitor.
type rejections struct {
	codes    map[string]int
	accounts map[string]struct{}
	total    int
}

func (r *rejections) add(err error, account string) {
	var le *ledger.LedgerError
	if !errors.As(err, &le) || le.Transient() || le.Code == ledger.CodeInsufficientBalance {
		return
	}
	if r.codes == nil {
		r.codes = map[string]int{}
		r.accounts = map[string]struct{}{}
	}

	code := le.Code
	if code == "" {
		code = strconv.Itoa(le.StatusCode)
	}
	r.codes[code]++
	r.accounts[account] = struct{}{}
	r.total++
}

func (r *rejections) summary() (codes, accounts string) {
	cs := make([]string, 0, len(r.codes))
	for c, n := range r.codes {
		cs = append(cs, fmt.Sprintf("%s=%d", c, n))
	}
	sort.Strings(cs)

	as := make([]string, 0, len(r.accounts))
	for a := range r.accounts {
		as = append(as, a)
	}
	sort.Strings(as)
	if len(as) > maxAlertAccounts {
		as = append(as[:maxAlertAccounts], fmt.Sprintf("+%d more", len(r.accounts)-maxAlertAccounts))
	}
	return strings.Join(cs, ", "), strings.Join(as, ", ")
}

// alertRejections sends one alert per pass summarizing its rejected rows.
func (s *Sweeper) alertRejections(ctx context.Context, runID, pass string, r *rejections) {
	if r.total == 0 {
		return
	}

	codes, accounts := r.summary()
	err := s.alerter.Alert(context.WithoutCancel(ctx), alert.Message{
		Severity: alert.SeverityCritical,
		Title:    "Reconciliation transfers rejected",
		Text:     fmt.Sprintf("The ledger rejected %d transfers in the %s pass; they stay FAILED until fixed by hand.", r.total, pass),
		Fields: map[string]string{
			"run_id":   runID,
			"pass":     pass,
			"rejected": strconv.Itoa(r.total),
			"codes":    codes,
			"accounts": accounts,
		},
	})
	if err != nil {
		zap.L().Warn("failed to deliver rejection alert", zap.String("pass", pass), zap.Error(err))
	}
}
