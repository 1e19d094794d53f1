/**
 * @description
 * Guards the startup DDL against drifting away from the queries that depend
 * on it. The repository's idempotency guarantees live in the schema's
 * constraints, so this keeps the two in one piece.
 */
package store

import (
	"strings"
	"testing"
)

func TestSchemaDeclaresEveryDocumentColumn(t *testing.T) {
	for _, col := range strings.Split(documentColumns, ",") {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if !strings.Contains(schemaDDL, col) {
			t.Errorf("schema DDL is missing documents column %q", col)
		}
	}
}

func TestSchemaDeclaresIdempotencyConstraints(t *testing.T) {
	constraints := []string{
		"PRIMARY KEY (template_id, period)",
		"UNIQUE (merchant_id, number)",
		"connected_account_id TEXT UNIQUE",
	}
	for _, c := range constraints {
		if !strings.Contains(schemaDDL, c) {
			t.Errorf("schema DDL is missing constraint %q", c)
		}
	}
}

func TestSchemaIsIdempotent(t *testing.T) {
	if strings.Count(schemaDDL, "CREATE TABLE") != strings.Count(schemaDDL, "CREATE TABLE IF NOT EXISTS") {
		t.Error("every CREATE TABLE must be guarded with IF NOT EXISTS")
	}
	if strings.Count(schemaDDL, "CREATE INDEX") != strings.Count(schemaDDL, "CREATE INDEX IF NOT EXISTS") {
		t.Error("every CREATE INDEX must be guarded with IF NOT EXISTS")
	}
}
