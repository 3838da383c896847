package sqlqueue

import (
	"errors"
	"testing"
)

func TestParseTableName(t *testing.T) {
	cases := []struct {
		input string
		want  TableName
		err   error
	}{
		{input: "messages", want: TableName{Name: "messages"}},
		{input: "queue.messages", want: TableName{Schema: "queue", Name: "messages"}},
		{input: `"my schema"."my.table"`, want: TableName{Schema: "my schema", Name: "my.table"}},
		{input: `"Messages"`, want: TableName{Name: "Messages"}},
		{input: "", err: ErrTableNameRequired},
		{input: "a.b.c", err: ErrInvalidTableName},
		{input: "bad-name", err: ErrInvalidTableName},
		{input: "x; drop table y", err: ErrInvalidTableName},
		{input: `"open`, err: ErrInvalidTableName},
		{input: "schema.", err: ErrInvalidTableName},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseTableName(tc.input)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestTableNameDefaultsAndString(t *testing.T) {
	name := MustParseTableName("messages").WithDefaultSchema("public")
	if name.String() != "public.messages" {
		t.Fatalf("unexpected name %q", name)
	}
	if other := MustParseTableName("app.messages").WithDefaultSchema("public"); other.Schema != "app" {
		t.Fatalf("explicit schema overridden: %+v", other)
	}
	if err := (TableName{Name: "a\"b"}).Validate(); !errors.Is(err, ErrInvalidTableName) {
		t.Fatalf("expected ErrInvalidTableName, got %v", err)
	}
}
