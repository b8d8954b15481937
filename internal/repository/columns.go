package repository

import (
	"strconv"
	"strings"
)

// Column lists must match the migrations exactly.

// LeadColumns defines the columns for the leads table.
var LeadColumns = TableColumns{
	TableName: "leads",
	Columns: []string{
		"id",
		"nombre",
		"telefono",
		"email",
		"servicio",
		"mensaje",
		"source",
		"status",
		"created_at",
	},
}

// OutcomeColumns defines the columns for the automation_outcomes table.
// The serial id is omitted.
var OutcomeColumns = TableColumns{
	TableName: "automation_outcomes",
	Columns: []string{
		"lead_id",
		"channel",
		"delivered",
		"skipped",
		"error",
		"duration_ms",
		"created_at",
	},
}

// TableColumns provides helper methods for generating SQL fragments.
type TableColumns struct {
	TableName string
	Columns   []string
}

// Select returns a comma-separated list of columns for SELECT queries.
// Example: "id, nombre, telefono"
func (tc TableColumns) Select() string {
	return strings.Join(tc.Columns, ", ")
}

// SelectPrefixed returns columns prefixed with table name for joins.
// Example: "leads.id, leads.nombre"
func (tc TableColumns) SelectPrefixed() string {
	prefixed := make([]string, len(tc.Columns))
	for i, col := range tc.Columns {
		prefixed[i] = tc.TableName + "." + col
	}
	return strings.Join(prefixed, ", ")
}

// Placeholders returns numbered placeholders for the columns.
// Example: "$1, $2, $3, $4" for 4 columns
func (tc TableColumns) Placeholders() string {
	return tc.PlaceholdersFrom(1)
}

// PlaceholdersFrom returns numbered placeholders starting from a given number.
func (tc TableColumns) PlaceholdersFrom(start int) string {
	placeholders := make([]string, len(tc.Columns))
	for i := range tc.Columns {
		placeholders[i] = "$" + strconv.Itoa(start+i)
	}
	return strings.Join(placeholders, ", ")
}

// InsertColumns returns a comma-separated list of columns for INSERT queries.
func (tc TableColumns) InsertColumns() string {
	return tc.Select()
}

// Count returns the number of columns.
func (tc TableColumns) Count() int {
	return len(tc.Columns)
}

// Without returns a new TableColumns excluding the specified columns.
func (tc TableColumns) Without(exclude ...string) TableColumns {
	excludeMap := make(map[string]bool, len(exclude))
	for _, col := range exclude {
		excludeMap[col] = true
	}

	filtered := make([]string, 0, len(tc.Columns))
	for _, col := range tc.Columns {
		if !excludeMap[col] {
			filtered = append(filtered, col)
		}
	}

	return TableColumns{
		TableName: tc.TableName,
		Columns:   filtered,
	}
}
