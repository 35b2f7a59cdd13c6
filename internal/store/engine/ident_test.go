package engine_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jensholdgaard/discord-scrim-bot/internal/store"
	"github.com/jensholdgaard/discord-scrim-bot/internal/store/engine"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "users", false},
		{"underscore", "team_membership", false},
		{"leading digit", "1st", false},
		{"leading underscore", "_private", false},
		{"inner space", "match results", false},
		{"max length", strings.Repeat("a", engine.MaxIdentifierLength), false},
		{"too long", strings.Repeat("a", engine.MaxIdentifierLength+1), true},
		{"empty", "", true},
		{"leading space", " users", true},
		{"semicolon", "users;", true},
		{"injection", "users; DROP TABLE users", true},
		{"quote", `us"ers`, true},
		{"hyphen", "team-members", true},
		{"dot", "main.users", true},
		{"comment", "users--", true},
		{"unicode", "usérs", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateIdentifier("table name", tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, store.ErrValidation) {
				t.Errorf("error %v does not match store.ErrValidation", err)
			}
		})
	}
}

func TestQuoteIdentifier(t *testing.T) {
	got, err := engine.QuoteIdentifier("column name", "display_name")
	if err != nil {
		t.Fatalf("QuoteIdentifier: %v", err)
	}
	if got != `"display_name"` {
		t.Errorf("got %s, want %q", got, `"display_name"`)
	}

	if _, err := engine.QuoteIdentifier("column name", `x" OR 1=1`); err == nil {
		t.Error("expected error for embedded quote")
	}
}

func TestValidateOrderBy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"single column", "name", false},
		{"direction", "name DESC", false},
		{"multiple", "joined_date ASC, user_id", false},
		{"newline", "name,\nid", false},
		{"parenthesis", "LENGTH(name)", true},
		{"semicolon", "name; DROP TABLE users", true},
		{"comment", "name -- x", true},
		{"block comment", "name /* x */", true},
		{"drop keyword", "name, drop", true},
		{"lower case keyword", "insert", true},
		{"keyword as substring", "created_date", true},
		{"updated substring", "updated_date DESC", true},
		{"exec substring", "executor", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateOrderBy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOrderBy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, store.ErrValidation) {
				t.Errorf("error %v does not match store.ErrValidation", err)
			}
		})
	}
}
