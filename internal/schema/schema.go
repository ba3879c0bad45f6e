package schema

import (
	"sort"
	"strings"
)

type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ForeignKey is one column-level edge: ParentTable.ParentColumn references
// ReferencedTable.ReferencedColumn.
type ForeignKey struct {
	ParentTable      string `json:"parent_table"`
	ParentColumn     string `json:"parent_column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Description is built once per connection and shared read-only between
// requests. Use New to get a normalized copy; callers must not mutate the
// slices afterwards.
type Description struct {
	Tables      []Table      `json:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}

func New(tables []Table, foreignKeys []ForeignKey) Description {
	ownedTables := make([]Table, 0, len(tables))
	for _, table := range tables {
		ownedTables = append(ownedTables, Table{
			Name:    table.Name,
			Columns: append([]Column(nil), table.Columns...),
		})
	}
	sort.SliceStable(ownedTables, func(i, j int) bool {
		return ownedTables[i].Name < ownedTables[j].Name
	})

	ownedKeys := append([]ForeignKey(nil), foreignKeys...)
	SortForeignKeys(ownedKeys)

	return Description{Tables: ownedTables, ForeignKeys: ownedKeys}
}

// SortForeignKeys orders keys by (parent table, parent column, referenced
// table, referenced column).
func SortForeignKeys(keys []ForeignKey) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ParentTable != b.ParentTable {
			return a.ParentTable < b.ParentTable
		}
		if a.ParentColumn != b.ParentColumn {
			return a.ParentColumn < b.ParentColumn
		}
		if a.ReferencedTable != b.ReferencedTable {
			return a.ReferencedTable < b.ReferencedTable
		}
		return a.ReferencedColumn < b.ReferencedColumn
	})
}

func (d Description) Table(name string) (Table, bool) {
	for _, table := range d.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return Table{}, false
}

func (d Description) IsEmpty() bool {
	return len(d.Tables) == 0
}

const (
	tablesHeader    = "Tablas y columnas:"
	relationsHeader = "Relaciones entre tablas:(clave foránea -> clave primaria)"
)

// Text renders the description as the grounding context handed to the
// language model:
//
//	Tablas y columnas:
//	- orders: id(int), customer_id(int)
//
//	Relaciones entre tablas:(clave foránea -> clave primaria)
//	- orders(customer_id) -> customers(id)
func (d Description) Text() string {
	var b strings.Builder
	b.WriteString(tablesHeader)
	b.WriteString("\n")
	for _, table := range d.Tables {
		b.WriteString("- ")
		b.WriteString(table.Name)
		b.WriteString(": ")
		for i, column := range table.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(column.Name)
			b.WriteString("(")
			b.WriteString(column.DataType)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(relationsHeader)
	b.WriteString("\n")
	for _, fk := range d.ForeignKeys {
		b.WriteString("- ")
		b.WriteString(fk.ParentTable)
		b.WriteString("(")
		b.WriteString(fk.ParentColumn)
		b.WriteString(") -> ")
		b.WriteString(fk.ReferencedTable)
		b.WriteString("(")
		b.WriteString(fk.ReferencedColumn)
		b.WriteString(")\n")
	}
	return b.String()
}
