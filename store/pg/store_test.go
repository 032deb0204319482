package pg

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/candleclock"
)

func namedTimer(name string) *candleclock.Timer {
	now := time.Now().UTC()
	t := &candleclock.Timer{
		ID:         uuid.Must(uuid.NewV7()),
		Module:     "billing",
		Function:   "close_invoice",
		ExpiresAt:  &now,
		InsertedAt: now,
		UpdatedAt:  now,
	}
	if name != "" {
		t.Name = &name
	}
	return t
}

func TestDedupeByNameKeepsLast(t *testing.T) {
	first := namedTimer("nightly")
	second := namedTimer("weekly")
	third := namedTimer("nightly")
	anon := namedTimer("")

	got := dedupeByName([]*candleclock.Timer{first, second, third, anon})
	if len(got) != 3 {
		t.Fatalf("kept %d rows, want 3", len(got))
	}
	if got[0] != second || got[1] != third || got[2] != anon {
		t.Errorf("kept rows in wrong order: %v", got)
	}
	for _, timer := range got {
		if timer == first {
			t.Error("earlier duplicate survived")
		}
	}
}

func TestDedupeByNamePassesThroughDistinct(t *testing.T) {
	in := []*candleclock.Timer{namedTimer("a"), namedTimer("b"), namedTimer(""), namedTimer("")}
	got := dedupeByName(in)
	if len(got) != len(in) {
		t.Fatalf("kept %d rows, want %d", len(got), len(in))
	}
}

func TestNewTimerStoreRejectsBadTableName(t *testing.T) {
	if _, err := NewTimerStore(&sql.DB{}, WithTable("timers; DROP TABLE x")); err == nil {
		t.Fatal("expected an error for a malformed table name")
	}
	if _, err := NewTimerStore(&sql.DB{}, WithTable("tenant_7_timers")); err != nil {
		t.Fatalf("valid table name rejected: %v", err)
	}
}
