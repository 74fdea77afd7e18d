package sqlq

import (
	"database/sql"
	"testing"
	"time"
)

func TestNullConversions(t *testing.T) {
	if Float(sql.NullFloat64{}) != nil || Int(sql.NullInt64{}) != nil || String(sql.NullString{}) != nil || Bool(sql.NullBool{}) != nil || Time(sql.NullTime{}) != nil {
		t.Fatalf("invalid values must map to nil")
	}
	if f := Float(sql.NullFloat64{Float64: 0, Valid: true}); f == nil || *f != 0 {
		t.Fatalf("valid zero must stay distinct from NULL")
	}
	if i := Int(sql.NullInt64{Int64: 7, Valid: true}); i == nil || *i != 7 {
		t.Fatalf("unexpected int %v", i)
	}
	if s := String(sql.NullString{String: "LB", Valid: true}); s == nil || *s != "LB" {
		t.Fatalf("unexpected string %v", s)
	}
	if b := Bool(sql.NullBool{Bool: false, Valid: true}); b == nil || *b {
		t.Fatalf("valid false must stay distinct from NULL")
	}
	loc := time.FixedZone("x", 3600)
	ts := Time(sql.NullTime{Time: time.Date(2024, 1, 2, 3, 0, 0, 0, loc), Valid: true})
	if ts == nil || ts.Location() != time.UTC || ts.Hour() != 2 {
		t.Fatalf("expected UTC normalized time, got %v", ts)
	}
}
