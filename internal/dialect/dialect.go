// Package dialect handles vendor-specific SQL generation: identifier
// quoting, qualified names, and the translation of vendor column types into
// the portable DDL that target adapters execute.
package dialect

import (
	"fmt"
	"strings"

	"dbferry/internal/adapter"
)

// Quote quotes an identifier for the given vendor.
func Quote(vendor, ident string) string {
	switch vendor {
	case "mssql":
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	case "mysql":
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// Qualify returns the quoted schema-qualified table name.
func Qualify(vendor string, ref adapter.TableRef) string {
	if ref.Schema == "" {
		return Quote(vendor, ref.Name)
	}
	return Quote(vendor, ref.Schema) + "." + Quote(vendor, ref.Name)
}

// simpleTypes maps vendor type names to the portable type used in target
// DDL. Types absent here fall through unchanged.
var simpleTypes = map[string]map[string]string{
	"mssql": {
		"bit":              "boolean",
		"tinyint":          "smallint",
		"smallint":         "smallint",
		"int":              "integer",
		"bigint":           "bigint",
		"float":            "double precision",
		"real":             "real",
		"money":            "numeric(19,4)",
		"smallmoney":       "numeric(10,4)",
		"date":             "date",
		"time":             "time",
		"datetime":         "timestamp",
		"datetime2":        "timestamp",
		"smalldatetime":    "timestamp",
		"datetimeoffset":   "timestamptz",
		"uniqueidentifier": "uuid",
		"xml":              "xml",
		"text":             "text",
		"ntext":            "text",
		"image":            "bytea",
		"binary":           "bytea",
		"varbinary":        "bytea",
		"hierarchyid":      "text",
		"sql_variant":      "text",
	},
	"mysql": {
		"tinyint":    "smallint",
		"smallint":   "smallint",
		"mediumint":  "integer",
		"int":        "integer",
		"bigint":     "bigint",
		"float":      "real",
		"double":     "double precision",
		"datetime":   "timestamp",
		"timestamp":  "timestamptz",
		"date":       "date",
		"time":       "time",
		"year":       "smallint",
		"tinytext":   "text",
		"mediumtext": "text",
		"longtext":   "text",
		"text":       "text",
		"tinyblob":   "bytea",
		"blob":       "bytea",
		"mediumblob": "bytea",
		"longblob":   "bytea",
		"binary":     "bytea",
		"varbinary":  "bytea",
		"json":       "jsonb",
		"enum":       "text",
		"set":        "text",
	},
	"postgres": {
		"bool":    "boolean",
		"int2":    "smallint",
		"int4":    "integer",
		"int8":    "bigint",
		"float4":  "real",
		"float8":  "double precision",
		"bpchar":  "char",
		"serial":  "integer",
		"serial8": "bigint",
	},
}

// sizedTypes lists vendor types whose length or precision carries over.
var sizedTypes = map[string]map[string]string{
	"mssql": {
		"char":     "char",
		"nchar":    "char",
		"varchar":  "varchar",
		"nvarchar": "varchar",
		"decimal":  "numeric",
		"numeric":  "numeric",
	},
	"mysql": {
		"char":    "char",
		"varchar": "varchar",
		"decimal": "numeric",
		"numeric": "numeric",
	},
	"postgres": {
		"char":    "char",
		"varchar": "varchar",
		"numeric": "numeric",
	},
}

// TranslateType maps a vendor column type to the portable target type.
// MSSQL's varchar(max) convention (length -1) becomes text.
func TranslateType(vendor string, c adapter.Column) string {
	dt := strings.ToLower(strings.TrimSpace(c.DataType))

	if mapped, ok := simpleTypes[vendor][dt]; ok {
		return mapped
	}
	if base, ok := sizedTypes[vendor][dt]; ok {
		switch base {
		case "char", "varchar":
			if c.Length <= 0 {
				return "text"
			}
			return fmt.Sprintf("%s(%d)", base, c.Length)
		case "numeric":
			if c.Precision > 0 {
				return fmt.Sprintf("numeric(%d,%d)", c.Precision, c.Scale)
			}
			return "numeric"
		}
	}
	return dt
}

// RenderCreateTable builds the portable CREATE TABLE statement for a table,
// translating every column type from the source vendor. Only the primary
// key constraint carries over; secondary indexes and foreign keys are not
// part of structure migration.
func RenderCreateTable(vendor string, ts *adapter.TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", Qualify("postgres", ts.Ref))

	for i, c := range ts.Columns {
		fmt.Fprintf(&b, "    %s %s", Quote("postgres", c.Name), TranslateType(vendor, c))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(ts.Columns)-1 || len(ts.PrimaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	if len(ts.PrimaryKey) > 0 {
		quoted := make([]string, len(ts.PrimaryKey))
		for i, col := range ts.PrimaryKey {
			quoted[i] = Quote("postgres", col)
		}
		fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n", strings.Join(quoted, ", "))
	}

	b.WriteString(")")
	return b.String()
}

// RenderSourceCreate builds a vendor-flavored CREATE TABLE for the record
// kept alongside the translated DDL.
func RenderSourceCreate(vendor string, ts *adapter.TableSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", Qualify(vendor, ts.Ref))

	for i, c := range ts.Columns {
		fmt.Fprintf(&b, "    %s %s", Quote(vendor, c.Name), sourceType(c))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(ts.Columns)-1 || len(ts.PrimaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	if len(ts.PrimaryKey) > 0 {
		quoted := make([]string, len(ts.PrimaryKey))
		for i, col := range ts.PrimaryKey {
			quoted[i] = Quote(vendor, col)
		}
		fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n", strings.Join(quoted, ", "))
	}

	b.WriteString(")")
	return b.String()
}

func sourceType(c adapter.Column) string {
	dt := strings.ToLower(c.DataType)
	switch dt {
	case "char", "nchar", "varchar", "nvarchar":
		if c.Length > 0 {
			return fmt.Sprintf("%s(%d)", dt, c.Length)
		}
	case "decimal", "numeric":
		if c.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", dt, c.Precision, c.Scale)
		}
	}
	return dt
}
