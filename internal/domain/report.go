package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Dashboard (aggregates over stored boletos)
// ============================================================

// StatusTotal is the count and nominal sum of boletos in one status.
type StatusTotal struct {
	Status BoletoStatus
	Count  int
	Value  decimal.Decimal
}

// Dashboard summarises the stored portfolio.
type Dashboard struct {
	Total            int                  `json:"total"`
	ByStatus         map[BoletoStatus]int `json:"byStatus"`
	Pending          int                  `json:"pending"`
	Registered       int                  `json:"registered"`
	PastDue          int                  `json:"pastDue"`
	Settled          int                  `json:"settled"`
	Cancelled        int                  `json:"cancelled"`
	Failed           int                  `json:"failed"`
	OpenValue        decimal.Decimal      `json:"openValue"`
	SettledValue     decimal.Decimal      `json:"settledValue"`
	CreatedToday     int                  `json:"createdToday"`
	CreatedThisMonth int                  `json:"createdThisMonth"`
	GeneratedAt      time.Time            `json:"generatedAt"`
}

// NewDashboard folds per-status totals into a dashboard. Open value covers
// Registered and PastDue documents, which the bank can still collect.
func NewDashboard(totals []StatusTotal, createdToday, createdThisMonth int, now time.Time) *Dashboard {
	d := &Dashboard{
		ByStatus:         make(map[BoletoStatus]int, len(totals)),
		OpenValue:        decimal.Zero,
		SettledValue:     decimal.Zero,
		CreatedToday:     createdToday,
		CreatedThisMonth: createdThisMonth,
		GeneratedAt:      now,
	}
	for _, t := range totals {
		d.Total += t.Count
		d.ByStatus[t.Status] += t.Count
		switch t.Status {
		case StatusPending:
			d.Pending += t.Count
		case StatusRegistered:
			d.Registered += t.Count
			d.OpenValue = d.OpenValue.Add(t.Value)
		case StatusPastDue:
			d.PastDue += t.Count
			d.OpenValue = d.OpenValue.Add(t.Value)
		case StatusSettled:
			d.Settled += t.Count
			d.SettledValue = d.SettledValue.Add(t.Value)
		case StatusCancelled:
			d.Cancelled += t.Count
		case StatusFailed:
			d.Failed += t.Count
		}
	}
	return d
}

// ============================================================
// Settlements per period
// ============================================================

// SettlementPeriod selects the window of a settlement report.
type SettlementPeriod string

const (
	PeriodDay   SettlementPeriod = "day"
	PeriodWeek  SettlementPeriod = "week"
	PeriodMonth SettlementPeriod = "month"
)

// ParseSettlementPeriod accepts day, week or month; empty means week.
func ParseSettlementPeriod(s string) (SettlementPeriod, error) {
	switch SettlementPeriod(strings.ToLower(strings.TrimSpace(s))) {
	case "", PeriodWeek:
		return PeriodWeek, nil
	case PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	}
	return "", &ErrArgument{Field: "period", Message: "must be day, week or month"}
}

// Days is the number of calendar days the period covers, today included.
func (p SettlementPeriod) Days() int {
	switch p {
	case PeriodDay:
		return 1
	case PeriodMonth:
		return 30
	}
	return 7
}

// SettledBoleto is one settled boleto as the report needs it.
type SettledBoleto struct {
	BoletoID  string
	Value     decimal.Decimal
	SettledAt time.Time
}

// SettledDay is one bucket of a settlement report.
type SettledDay struct {
	Date    string          `json:"date"`
	Weekday string          `json:"weekday"`
	Count   int             `json:"count"`
	Value   decimal.Decimal `json:"value"`
}

// SettlementReport lists settlements per day over a period, with empty
// days included.
type SettlementReport struct {
	Period SettlementPeriod `json:"period"`
	From   string           `json:"from"`
	To     string           `json:"to"`
	Days   int              `json:"days"`
	Count  int              `json:"count"`
	Value  decimal.Decimal  `json:"value"`
	Series []SettledDay     `json:"series"`
}

// NewSettlementReport buckets settlements by day from start (a midnight)
// for p.Days() days. Settlements outside the window are ignored.
func NewSettlementReport(p SettlementPeriod, start time.Time, settlements []SettledBoleto) *SettlementReport {
	days := p.Days()
	r := &SettlementReport{
		Period: p,
		From:   start.Format(DateLayout),
		To:     start.AddDate(0, 0, days-1).Format(DateLayout),
		Days:   days,
		Value:  decimal.Zero,
		Series: make([]SettledDay, days),
	}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		key := day.Format(DateLayout)
		index[key] = i
		r.Series[i] = SettledDay{Date: key, Weekday: day.Weekday().String()[:3], Value: decimal.Zero}
	}
	for _, s := range settlements {
		i, ok := index[s.SettledAt.In(start.Location()).Format(DateLayout)]
		if !ok {
			continue
		}
		r.Series[i].Count++
		r.Series[i].Value = r.Series[i].Value.Add(s.Value)
		r.Count++
		r.Value = r.Value.Add(s.Value)
	}
	return r
}
