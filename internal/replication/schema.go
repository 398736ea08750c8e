package replication

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// coreTables is the fixed-order DDL for the domain's built-in entities,
// emitted ahead of anything discovered under the entities directory.
// Dependency order matters: invoices reference quotes and customers, and
// quotes reference customers; certificates carry no foreign keys.
var coreTables = []string{
	`CREATE TABLE IF NOT EXISTS customers (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  name TEXT NOT NULL,
  email TEXT NOT NULL,
  phone TEXT NOT NULL,
  address JSONB NOT NULL,
  contact_person TEXT,
  notes TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_customers_email ON customers(email);
CREATE INDEX IF NOT EXISTS idx_customers_name ON customers(name);

`,
	`CREATE TABLE IF NOT EXISTS quotes (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  quote_number TEXT NOT NULL UNIQUE,
  customer_id UUID,
  title TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  items JSONB NOT NULL,
  subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
  tax_rate NUMERIC(6,3) NOT NULL DEFAULT 0,
  tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  notes TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT fk_quotes_customer FOREIGN KEY(customer_id) REFERENCES customers(id)
);
CREATE INDEX IF NOT EXISTS idx_quotes_status ON quotes(status);
CREATE INDEX IF NOT EXISTS idx_quotes_customer_id ON quotes(customer_id);

`,
	`CREATE TABLE IF NOT EXISTS invoices (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  invoice_number TEXT NOT NULL UNIQUE,
  quote_id UUID,
  customer_id UUID,
  title TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'draft',
  items JSONB NOT NULL,
  subtotal NUMERIC(12,2) NOT NULL DEFAULT 0,
  tax_rate NUMERIC(6,3) NOT NULL DEFAULT 0,
  tax_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  paid_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  due_date TIMESTAMPTZ,
  notes TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT fk_invoices_customer FOREIGN KEY(customer_id) REFERENCES customers(id),
  CONSTRAINT fk_invoices_quote FOREIGN KEY(quote_id) REFERENCES quotes(id)
);
CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
CREATE INDEX IF NOT EXISTS idx_invoices_customer_id ON invoices(customer_id);

`,
	`CREATE TABLE IF NOT EXISTS certificates (
  id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  certificate_number TEXT NOT NULL UNIQUE,
  student_name TEXT NOT NULL,
  company_name TEXT NOT NULL,
  total_hours NUMERIC(10,2) NOT NULL DEFAULT 0,
  start_date DATE NOT NULL,
  end_date DATE NOT NULL,
  tasks_description TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_certificates_student ON certificates(student_name);
CREATE INDEX IF NOT EXISTS idx_certificates_company ON certificates(company_name);

`,
}

// jsonSchema is the subset of a JSON Schema document this generator reads.
type jsonSchema struct {
	Properties map[string]struct {
		Type   string `json:"type"`
		Format string `json:"format"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// GenerateInitialSQL emits the bootstrap DDL script for a replication
// target: a header comment, the fixed-order core tables, then one table
// per JSON-schema file found under entitiesDir (sorted by filename for a
// deterministic script). A missing or empty entitiesDir yields the core
// tables alone.
func GenerateInitialSQL(entitiesDir string) (string, error) {
	var out strings.Builder
	out.WriteString("-- QuoteFlow initial schema\n\n")
	for _, t := range coreTables {
		out.WriteString(t)
	}

	entitySQL, err := sqlFromJSONEntities(entitiesDir)
	if err != nil {
		return "", fmt.Errorf("replication: generate entity tables: %w", err)
	}
	out.WriteString(entitySQL)

	return out.String(), nil
}

func sqlFromJSONEntities(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out strings.Builder
	for _, name := range names {
		sql, err := tableSQLFromJSONFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		out.WriteString(sql)
	}
	return out.String(), nil
}

func tableSQLFromJSONFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var schema jsonSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return "", err
	}

	table := pluralizeSnake(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))

	type column struct {
		name string
		ddl  string
	}
	cols := []column{{"id", "UUID PRIMARY KEY DEFAULT gen_random_uuid()"}}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	propNames := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)

	for _, name := range propNames {
		prop := schema.Properties[name]
		cols = append(cols, column{name, pgTypeFromJSONSchema(prop.Type, prop.Format, required[name])})
	}

	cols = append(cols,
		column{"created_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
		column{"updated_at", "TIMESTAMPTZ NOT NULL DEFAULT now()"},
	)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	for i, c := range cols {
		sep := ","
		if i == len(cols)-1 {
			sep = ""
		}
		fmt.Fprintf(&b, "  %s %s%s\n", c.name, c.ddl, sep)
	}
	b.WriteString(");\n\n")

	for _, c := range cols {
		if c.name != "id" && strings.HasSuffix(c.name, "_id") {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s);\n", table, c.name, table, c.name)
		}
	}
	b.WriteString("\n")

	return b.String(), nil
}

// pgTypeFromJSONSchema maps a JSON-schema type/format pair to a Postgres
// column type per the external-interfaces mapping table.
func pgTypeFromJSONSchema(schemaType, format string, notNull bool) string {
	var base string
	switch {
	case schemaType == "string" && format == "date":
		base = "DATE"
	case schemaType == "string" && format == "date-time":
		base = "TIMESTAMPTZ"
	case schemaType == "string":
		base = "TEXT"
	case schemaType == "integer":
		base = "INTEGER"
	case schemaType == "number":
		base = "DOUBLE PRECISION"
	case schemaType == "boolean":
		base = "BOOLEAN"
	case schemaType == "array", schemaType == "object":
		base = "JSONB"
	default:
		base = "TEXT"
	}
	if notNull {
		return base + " NOT NULL"
	}
	return base
}

// pluralizeSnake converts a CamelCase or snake_case entity file stem into
// a plural snake_case table name (category -> categories, blog -> blogs).
func pluralizeSnake(name string) string {
	snake := toSnakeCase(name)
	switch {
	case strings.HasSuffix(snake, "y"):
		return snake[:len(snake)-1] + "ies"
	case strings.HasSuffix(snake, "s"):
		return snake
	default:
		return snake + "s"
	}
}

func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
