// Package reports declares the built-in analytical entities: asset
// depreciation, membership and leave reports. Each is one instance of the
// backing-view pattern; the runtime itself lives under internal/domain.
package reports

import (
	"analytica/internal/domain/descriptor"
	"analytica/internal/domain/query"
	"analytica/internal/domain/rewrite"
	"analytica/internal/infrastructure/storage/postgres"
)

// ReservedTables lists the transactional tables the seed tool creates.
// Analytical entity names must not collide with these.
var ReservedTables = []string{
	"account_asset",
	"asset_depreciation_line",
	"membership_line",
	"res_partner",
	"hr_employee",
	"hr_leave",
}

// NameSources maps referenced entities to their display-name tables.
func NameSources() map[string]postgres.NameSource {
	return map[string]postgres.NameSource{
		"asset":    {Table: "account_asset", NameColumn: "name"},
		"partner":  {Table: "res_partner", NameColumn: "name"},
		"employee": {Table: "hr_employee", NameColumn: "name"},
	}
}

// Register declares every built-in report and its rewrite rules.
// Called once at module load; the registry is read-only afterwards.
func Register(registrar *postgres.Registrar, rewriter *rewrite.Rewriter,
	periods rewrite.PeriodService) error {

	if err := registrar.Register(assetReport()); err != nil {
		return err
	}
	if err := registrar.Register(membershipReport()); err != nil {
		return err
	}
	if err := registrar.Register(leaveReport()); err != nil {
		return err
	}

	// The current-year filter on membership years is a rewrite rule, not a
	// search override.
	rewriter.RegisterPeriodSentinel("membership_report", "year", "current_year", periods)
	rewriter.RegisterPeriodSentinel("asset_report", "purchase_year", "current_year", periods)

	return nil
}

// assetReport is one row per depreciation line joined to its asset.
func assetReport() (*descriptor.Descriptor, query.Template) {
	d := descriptor.MustNew("asset_report", "Asset Depreciation Analysis",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "asset", Label: "Asset", Type: descriptor.TypeReference,
				Column: "asset_id", RefEntity: "asset"},
			{Name: "purchase_year", Label: "Purchase Year", Type: descriptor.TypeText},
			{Name: "purchase_month", Label: "Purchase Month", Type: descriptor.TypeText},
			{Name: "currency", Label: "Currency", Type: descriptor.TypeText},
			{Name: "gross_value", Label: "Gross Value", Type: descriptor.TypeDecimal,
				Scale: 2, Aggregator: descriptor.AggAvg},
			{Name: "posted_value", Label: "Posted Value", Type: descriptor.TypeDecimal, Scale: 2},
		},
		"purchase_year")

	t := query.Template{
		Alias: "asset depreciation lines by purchase period",
		Projection: []query.Column{
			{Name: "id", Expr: "min(l.id)", Type: descriptor.TypeInteger},
			{Name: "asset_id", Expr: "a.id", Type: descriptor.TypeInteger},
			{Name: "purchase_year", Expr: "to_char(a.purchase_date, 'YYYY')", Type: descriptor.TypeText},
			{Name: "purchase_month", Expr: "to_char(a.purchase_date, 'YYYY-MM')", Type: descriptor.TypeText},
			{Name: "currency", Expr: "a.currency", Type: descriptor.TypeText},
			{Name: "gross_value", Expr: "a.gross_value", Type: descriptor.TypeDecimal},
			{Name: "posted_value", Expr: "l.amount", Type: descriptor.TypeDecimal},
		},
		From: "account_asset a JOIN asset_depreciation_line l ON l.asset_id = a.id",
		GroupBy: []string{
			"l.id", "a.id",
			"to_char(a.purchase_date, 'YYYY')",
			"to_char(a.purchase_date, 'YYYY-MM')",
			"a.currency", "a.gross_value", "l.amount",
		},
	}
	return d, t
}

// membershipReport is one row per membership line with its partner and state.
func membershipReport() (*descriptor.Descriptor, query.Template) {
	d := descriptor.MustNew("membership_report", "Membership Analysis",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "partner", Label: "Member", Type: descriptor.TypeReference,
				Column: "partner_id", RefEntity: "partner"},
			{Name: "state", Label: "State", Type: descriptor.TypeEnum,
				Options: []descriptor.EnumOption{
					{Code: "waiting", Label: "Waiting"},
					{Code: "invoiced", Label: "Invoiced"},
					{Code: "paid", Label: "Paid"},
					{Code: "cancel", Label: "Cancelled"},
				}},
			{Name: "year", Label: "Year", Type: descriptor.TypeText},
			{Name: "currency", Label: "Currency", Type: descriptor.TypeText},
			{Name: "amount", Label: "Amount", Type: descriptor.TypeMonetary,
				CurrencyAttr: "currency"},
		},
		"year")

	t := query.Template{
		Alias: "membership lines by partner and state",
		Projection: []query.Column{
			{Name: "id", Expr: "min(m.id)", Type: descriptor.TypeInteger},
			{Name: "partner_id", Expr: "m.partner_id", Type: descriptor.TypeInteger},
			{Name: "state", Expr: "m.state", Type: descriptor.TypeText},
			{Name: "year", Expr: "to_char(m.date_from, 'YYYY')", Type: descriptor.TypeText},
			{Name: "currency", Expr: "m.currency", Type: descriptor.TypeText},
			{Name: "amount", Expr: "m.amount", Type: descriptor.TypeDecimal},
		},
		From: "membership_line m",
		GroupBy: []string{
			"m.id", "m.partner_id", "m.state",
			"to_char(m.date_from, 'YYYY')", "m.currency", "m.amount",
		},
	}
	return d, t
}

// leaveReport is one row per leave request with its employee and period.
func leaveReport() (*descriptor.Descriptor, query.Template) {
	d := descriptor.MustNew("leave_report", "Leaves Analysis",
		[]descriptor.Attribute{
			{Name: "id", Type: descriptor.TypeInteger},
			{Name: "employee", Label: "Employee", Type: descriptor.TypeReference,
				Column: "employee_id", RefEntity: "employee"},
			{Name: "leave_type", Label: "Leave Type", Type: descriptor.TypeText},
			{Name: "period_start", Label: "Start Date", Type: descriptor.TypeDate},
			{Name: "number_of_days", Label: "Number of Days", Type: descriptor.TypeDecimal, Scale: 1},
		},
		"period_start")

	t := query.Template{
		Alias: "leave requests by employee and period",
		Projection: []query.Column{
			{Name: "id", Expr: "min(h.id)", Type: descriptor.TypeInteger},
			{Name: "employee_id", Expr: "h.employee_id", Type: descriptor.TypeInteger},
			{Name: "leave_type", Expr: "h.leave_type", Type: descriptor.TypeText},
			{Name: "period_start", Expr: "h.date_from::date", Type: descriptor.TypeDate},
			{Name: "number_of_days", Expr: "h.number_of_days", Type: descriptor.TypeDecimal},
		},
		From: "hr_leave h",
		GroupBy: []string{
			"h.id", "h.employee_id", "h.leave_type",
			"h.date_from::date", "h.number_of_days",
		},
	}
	return d, t
}
