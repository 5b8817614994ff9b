// Package testutil provides shared fixtures for package tests: a small
// sales schema with one handler and its targets, and deterministic
// identifier generation.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
)

// SalesHandler is the handler defined by SalesDefinition.
const SalesHandler = "sales"

func ref(alias, column string) model.SideDef {
	return model.SideDef{Alias: alias, Column: column}
}

// SalesDefinition returns the sales schema:
//
//	customers(id, name)
//	orders(id, customer_id, status, total)
//	order_lines(order_id, line_no, sku, qty)
//
// and the handler "sales" with three targets:
//
//	order_view   orders o joined to customers c
//	open_orders  orders filtered on status = 'open'
//	line_view    order_lines l left joined to orders o
func SalesDefinition() model.Definition {
	return model.Definition{
		Tables: []model.TableDef{
			{
				Name: "customers",
				Columns: []data.Column{
					{Name: "id", Type: data.TypeInt},
					{Name: "name", Type: data.TypeString},
				},
				Key: []string{"id"},
			},
			{
				Name: "orders",
				Columns: []data.Column{
					{Name: "id", Type: data.TypeInt},
					{Name: "customer_id", Type: data.TypeInt},
					{Name: "status", Type: data.TypeString},
					{Name: "total", Type: data.TypeFloat},
				},
				Key: []string{"id"},
			},
			{
				Name: "order_lines",
				Columns: []data.Column{
					{Name: "order_id", Type: data.TypeInt},
					{Name: "line_no", Type: data.TypeInt},
					{Name: "sku", Type: data.TypeString},
					{Name: "qty", Type: data.TypeInt},
				},
				Key: []string{"order_id", "line_no"},
			},
		},
		Handlers: []model.HandlerDef{{
			Name: SalesHandler,
			Targets: []model.TargetDef{
				{
					Name: "order_view",
					Sources: []model.SourceDef{
						{Table: "orders", Alias: "o"},
						{Table: "customers", Alias: "c", Conditions: []model.ConditionDef{
							{First: ref("c", "id"), Second: ref("o", "customer_id")},
						}},
					},
					Columns: []model.ColumnDef{
						{Alias: "o", Column: "id"},
						{Alias: "o", Column: "customer_id"},
						{Alias: "o", Column: "status"},
						{Name: "customer_name", Alias: "c", Column: "name"},
					},
					Key: []string{"id"},
				},
				{
					Name: "open_orders",
					Sources: []model.SourceDef{
						{Table: "orders", Conditions: []model.ConditionDef{
							{First: ref("", "status"), Second: model.SideDef{Literal: data.String("open")}},
						}},
					},
					Columns: []model.ColumnDef{
						{Column: "id"},
						{Column: "total"},
					},
					Key: []string{"id"},
				},
				{
					Name: "line_view",
					Sources: []model.SourceDef{
						{Table: "order_lines", Alias: "l"},
						{Table: "orders", Alias: "o", Mode: model.JoinLeft, Conditions: []model.ConditionDef{
							{First: ref("o", "id"), Second: ref("l", "order_id")},
						}},
					},
					Columns: []model.ColumnDef{
						{Alias: "l", Column: "order_id"},
						{Alias: "l", Column: "line_no"},
						{Alias: "l", Column: "sku"},
						{Alias: "o", Column: "status"},
					},
					Key: []string{"order_id", "line_no"},
				},
			},
		}},
	}
}

// SalesMetadata builds SalesDefinition and fails the test on any issue.
func SalesMetadata(t testing.TB) *model.Metadata {
	t.Helper()
	meta := model.Build(SalesDefinition())
	require.Empty(t, meta.Issues, "sales fixture must build cleanly")
	return meta
}

// SalesTarget returns one target of the sales handler.
func SalesTarget(t testing.TB, name string) *model.Target {
	t.Helper()
	target := SalesMetadata(t).Target(SalesHandler, name)
	require.NotNil(t, target, "unknown sales target %s", name)
	return target
}
