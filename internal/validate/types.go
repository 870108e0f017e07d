package validate

import (
	"strings"
)

// typeFamily buckets vendor datatypes into equivalence classes. Cross-family
// pairs fail the datatype check; within a family any pair passes.
type typeFamily int

const (
	familyUnknown typeFamily = iota
	familyInteger
	familyText
	familyFloat
	familyBinary
	familyDatetime
	familyBoolean
)

var typeFamilies = map[string]typeFamily{
	// integer family
	"int": familyInteger, "integer": familyInteger, "bigint": familyInteger,
	"smallint": familyInteger, "tinyint": familyInteger, "mediumint": familyInteger,
	"int2": familyInteger, "int4": familyInteger, "int8": familyInteger,
	"serial": familyInteger, "bigserial": familyInteger, "smallserial": familyInteger,

	// text family
	"char": familyText, "nchar": familyText, "varchar": familyText,
	"nvarchar": familyText, "text": familyText, "ntext": familyText,
	"character": familyText, "character varying": familyText,
	"longtext": familyText, "mediumtext": familyText, "tinytext": familyText,
	"clob": familyText, "uuid": familyText, "uniqueidentifier": familyText,
	"json": familyText, "jsonb": familyText, "xml": familyText,

	// float family (fixed and floating precision both land here)
	"float": familyFloat, "real": familyFloat, "double": familyFloat,
	"double precision": familyFloat, "decimal": familyFloat,
	"numeric": familyFloat, "number": familyFloat, "money": familyFloat,
	"smallmoney": familyFloat, "float4": familyFloat, "float8": familyFloat,

	// binary family
	"binary": familyBinary, "varbinary": familyBinary, "blob": familyBinary,
	"bytea": familyBinary, "image": familyBinary, "longblob": familyBinary,
	"mediumblob": familyBinary, "tinyblob": familyBinary,

	// datetime family
	"date": familyDatetime, "time": familyDatetime, "datetime": familyDatetime,
	"datetime2": familyDatetime, "smalldatetime": familyDatetime,
	"datetimeoffset": familyDatetime, "timestamp": familyDatetime,
	"timestamptz": familyDatetime, "timestamp with time zone": familyDatetime,
	"timestamp without time zone": familyDatetime,

	// boolean family
	"bit": familyBoolean, "bool": familyBoolean, "boolean": familyBoolean,
}

// familyOf normalizes a vendor type name and returns its equivalence class.
func familyOf(dataType string) typeFamily {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if f, ok := typeFamilies[t]; ok {
		return f
	}
	return familyUnknown
}

// compatibleTypes reports whether two datatypes belong to the same family.
// Two unknown types are compatible only when their normalized names match.
func compatibleTypes(source, target string) bool {
	sf, tf := familyOf(source), familyOf(target)
	if sf == familyUnknown && tf == familyUnknown {
		return strings.EqualFold(strings.TrimSpace(source), strings.TrimSpace(target))
	}
	return sf == tf
}

// normalizeDefault strips the wrapping noise vendors add around default
// expressions so they compare as strings: parens, quotes, whitespace, case.
func normalizeDefault(def string) string {
	s := strings.TrimSpace(strings.ToLower(def))
	for {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) >= 2 && trimmed[0] == '(' && trimmed[len(trimmed)-1] == ')' {
			s = trimmed[1 : len(trimmed)-1]
			continue
		}
		if len(trimmed) >= 2 && trimmed[0] == '\'' && trimmed[len(trimmed)-1] == '\'' {
			s = trimmed[1 : len(trimmed)-1]
			continue
		}
		return trimmed
	}
}
