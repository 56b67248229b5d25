package main

import (
	"strconv"

	"github.com/InsulaLabs/csmap/journal"
	"github.com/InsulaLabs/csmap/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	emptyStyle  = lipgloss.NewStyle().Faint(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func renderPairs(pairs []models.MappingPair) string {
	if len(pairs) == 0 {
		return emptyStyle.Render("no tenants mapped")
	}
	t := newTable("vCD Tenant", "Cohesity Tenant")
	for _, p := range pairs {
		t.Row(p.VcdTenant, p.CohesityTenant)
	}
	return t.String()
}

func renderTenants(names []string) string {
	if len(names) == 0 {
		return emptyStyle.Render("no tenants mapped")
	}
	t := newTable("vCD Tenant")
	for _, name := range names {
		t.Row(name)
	}
	return t.String()
}

func renderJournal(entries []journal.Entry) string {
	if len(entries) == 0 {
		return emptyStyle.Render("journal is empty")
	}
	t := newTable("Time", "Operation", "Seq", "Step", "Action", "Org", "Key", "Existed")
	for _, e := range entries {
		t.Row(
			e.Time.Local().Format("2006-01-02 15:04:05"),
			e.OperationID,
			strconv.Itoa(e.Seq),
			e.Step,
			string(e.Action),
			e.OrgID,
			e.Key,
			strconv.FormatBool(e.Existed),
		)
	}
	return t.String()
}
