/**
 * @description
 * This file defines the view models served by the admin surface: the dashboard
 * aggregate, the system health report with the token supply reconciliation and
 * the price floor status.
 */

package domain

// AdminDashboard is the aggregate served to the admin console landing page.
type AdminDashboard struct {
	TotalUsers         int               `json:"total_users"`
	TotalINRBalances   float64           `json:"total_inr_balances"`
	Pool               MarketPool        `json:"pool"`
	Price              float64           `json:"price"`
	PendingDeposits    int               `json:"pending_deposits"`
	Withdrawals        WithdrawalStats   `json:"withdrawals"`
	TaxCollected       float64           `json:"tax_collected"`
	RecentTransactions []Transaction     `json:"recent_transactions"`
	RecentAuditEntries []AdminAuditEntry `json:"recent_audit_entries"`
}

// SystemHealth is the diagnostic report: pool state, supply reconciliation and
// the liquidity guards.
type SystemHealth struct {
	Pool           MarketPool       `json:"pool"`
	Price          float64          `json:"price"`
	Reconciliation Reconciliation   `json:"reconciliation"`
	PriceFloor     PriceFloorStatus `json:"price_floor"`
}

// PriceFloorStatus reports the floor guard and the pool's distance from it.
type PriceFloorStatus struct {
	Floor        float64 `json:"price_floor"`
	CurrentPrice float64 `json:"current_price"`
	AboveFloor   bool    `json:"above_floor"`
	Margin       float64 `json:"margin"`
}
