package sqlguard

import (
	"strings"
	"testing"
)

func TestIsSafeRejectsMutatingKeywordsInAnyCase(t *testing.T) {
	cases := []string{
		"DELETE FROM orders",
		"delete from orders",
		"Delete From orders",
		"UPDATE orders SET total = 0",
		"insert into orders values (1)",
		"SELECT * FROM orders; DROP TABLE orders",
		"ALTER TABLE orders ADD x int",
		"truncate table orders",
		"CREATE TABLE t (id int)",
		"MERGE INTO t USING s ON 1=1 WHEN MATCHED THEN DELETE;",
		"SELECT 1;\nuPdAtE t SET a = 1",
		"SELECT * FROM t WHERE note = 'please drop by'",
	}
	for _, sqlText := range cases {
		if IsSafe(sqlText) {
			t.Fatalf("IsSafe(%q) = true, want false", sqlText)
		}
	}
}

func TestIsSafeAcceptsReadOnlyStatements(t *testing.T) {
	cases := []string{
		"SELECT created_at FROM orders",
		"SELECT o.id, c.name FROM orders o JOIN customers c ON c.id = o.customer_id WHERE o.total > 10",
		"WITH recent AS (SELECT * FROM orders WHERE updated_at > '2024-01-01') SELECT COUNT(*) FROM recent",
		"SELECT last_update, deleted_flag, inserted_by, dropoff_point, altered, merged_into FROM logs",
		"SELECT TOP 10 c_name FROM customer ORDER BY c_acctbal DESC",
		"SELECT createdate FROM t",
	}
	for _, sqlText := range cases {
		if !IsSafe(sqlText) {
			t.Fatalf("IsSafe(%q) = false, want true", sqlText)
		}
	}
}

func TestViolationsAreDistinctAndOrdered(t *testing.T) {
	got := Violations("drop table a; DELETE FROM b; DROP TABLE c")
	if strings.Join(got, ",") != "DROP,DELETE" {
		t.Fatalf("Violations() = %v", got)
	}
	if Violations("SELECT 1") != nil {
		t.Fatal("expected no violations")
	}
}

func TestGuardCheck(t *testing.T) {
	var guard Guard
	if ok, reason := guard.Check("SELECT 1"); !ok || reason != "" {
		t.Fatalf("Check(SELECT 1) = %v, %q", ok, reason)
	}
	ok, reason := guard.Check("SELECT * FROM orders; DROP TABLE orders")
	if ok {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(reason, "DROP") {
		t.Fatalf("reason = %q", reason)
	}
	if ok, _ := guard.Check("   "); ok {
		t.Fatal("expected empty statement rejection")
	}
	if ok, _ := guard.Check("EXEC sp_who"); !ok {
		t.Fatal("blacklist-only guard should accept EXEC")
	}
}

func TestGuardRequireSelect(t *testing.T) {
	guard := Guard{RequireSelect: true}
	if ok, _ := guard.Check("EXEC sp_who"); ok {
		t.Fatal("expected EXEC rejection in strict mode")
	}
	if ok, _ := guard.Check("  (SELECT 1)"); !ok {
		t.Fatal("expected parenthesized select to pass")
	}
	if ok, _ := guard.Check("with x as (select 1 as a) select a from x"); !ok {
		t.Fatal("expected CTE to pass")
	}
}
