package validate

import "testing"

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		in   string
		want typeFamily
	}{
		{"int", familyInteger},
		{"BIGINT", familyInteger},
		{"varchar(50)", familyText},
		{"nvarchar", familyText},
		{"uniqueidentifier", familyText},
		{"numeric(10,2)", familyFloat},
		{"double precision", familyFloat},
		{"varbinary", familyBinary},
		{"bytea", familyBinary},
		{"datetime2", familyDatetime},
		{"timestamp with time zone", familyDatetime},
		{"bit", familyBoolean},
		{"hierarchyid", familyUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := familyOf(tt.in); got != tt.want {
				t.Errorf("familyOf(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompatibleTypes(t *testing.T) {
	tests := []struct {
		src, dst string
		want     bool
	}{
		{"int", "bigint", true},
		{"tinyint", "smallint", true},
		{"nvarchar", "varchar", true},
		{"datetime2", "timestamp", true},
		{"bit", "boolean", true},
		{"decimal", "numeric", true},
		{"int", "varchar", false},
		{"varbinary", "text", false},
		{"geometry", "geometry", true},   // unknown-unknown, same name
		{"geometry", "geography", false}, // unknown-unknown, different name
	}
	for _, tt := range tests {
		t.Run(tt.src+"/"+tt.dst, func(t *testing.T) {
			if got := compatibleTypes(tt.src, tt.dst); got != tt.want {
				t.Errorf("compatibleTypes(%q, %q) = %t, want %t", tt.src, tt.dst, got, tt.want)
			}
		})
	}
}

func TestNormalizeDefault(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"((0))", "0"},
		{"('active')", "active"},
		{"'active'", "active"},
		{"GETDATE()", "getdate()"},
		{"  NULL  ", "null"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeDefault(tt.in); got != tt.want {
			t.Errorf("normalizeDefault(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
