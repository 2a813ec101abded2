package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresStore is a Postgres-backed KeyValueStore. Each path's collection
// (its first "/"-delimited segment) maps to a table of the same name holding
// (id text primary key, fields jsonb, embedding vector) rows. Grounded on
// the teacher's internal/storage/cockroach.go CockroachStore, narrowed from
// the teacher's per-entity typed tables to one generic jsonb-document table
// shape, since spec.md §6 describes KeyValueStore as schema-agnostic.
//
// The "vector" column uses pgvector's `vector(768)` type; VectorWhere queries
// compile to `1 - (embedding <=> $1) >= $2 ORDER BY embedding <=> $1`
// (cosine distance), matching spec.md §6's "vector field type carrying
// float32[768] with cosineSimilarity querying".
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB. Callers own the
// connection's lifecycle (internal/storage/cockroach_config.go's DSN/pooling
// concerns are the caller's responsibility, not this type's).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func splitPath(path string) (collection, id string, err error) {
	idx := strings.IndexByte(path, '/')
	if idx < 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("storage: path %q must be <collection>/<id>", path)
	}
	return path[:idx], path[idx+1:], nil
}

func (p *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	collection, id, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	return p.getTx(ctx, p.db, collection, id)
}

func (p *PostgresStore) getTx(ctx context.Context, q querier, collection, id string) (*Document, error) {
	query := fmt.Sprintf(`SELECT fields FROM %s WHERE id = $1`, quoteIdent(collection))
	var raw []byte
	err := q.QueryRowContext(ctx, query, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", path(collection, id), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", path(collection, id), err)
	}
	return &Document{Fields: fields}, nil
}

func (p *PostgresStore) Set(ctx context.Context, pth string, doc *Document) error {
	return p.setTx(ctx, p.db, pth, doc)
}

func (p *PostgresStore) setTx(ctx context.Context, q querier, pth string, doc *Document) error {
	collection, id, err := splitPath(pth)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", pth, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, fields) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET fields = EXCLUDED.fields`, quoteIdent(collection))
	_, err = q.ExecContext(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("storage: set %s: %w", pth, err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, pth string, patch map[string]any) error {
	collection, id, err := splitPath(pth)
	if err != nil {
		return err
	}
	patchRaw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("storage: encode patch for %s: %w", pth, err)
	}
	query := fmt.Sprintf(`UPDATE %s SET fields = fields || $2::jsonb WHERE id = $1`, quoteIdent(collection))
	res, err := p.db.ExecContext(ctx, query, id, patchRaw)
	if err != nil {
		return fmt.Errorf("storage: update %s: %w", pth, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, pth string) error {
	collection, id, err := splitPath(pth)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(collection))
	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", pth, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Query(ctx context.Context, collection string, opts QueryOptions) ([]*Document, error) {
	var sb strings.Builder
	args := []any{}
	fmt.Fprintf(&sb, "SELECT fields FROM %s", quoteIdent(collection))

	var whereClauses []string
	for _, w := range opts.Where {
		if w.Op == "contains" {
			args = append(args, "%"+fmt.Sprint(w.Value)+"%")
			whereClauses = append(whereClauses, fmt.Sprintf("(fields->>'%s') LIKE $%d", w.Field, len(args)))
			continue
		}
		args = append(args, w.Value)
		whereClauses = append(whereClauses, fmt.Sprintf("(fields->>'%s') %s $%d", w.Field, sqlOp(w.Op), len(args)))
	}
	if opts.VectorWhere != nil {
		args = append(args, pgvectorLiteral(opts.VectorWhere.Against))
		whereClauses = append(whereClauses, fmt.Sprintf("(1 - (embedding <=> $%d::vector)) >= %v", len(args), opts.VectorWhere.MinScore))
	}
	if len(whereClauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereClauses, " AND "))
	}
	if opts.VectorWhere != nil {
		sb.WriteString(fmt.Sprintf(" ORDER BY embedding <=> $%d::vector", len(args)))
	} else if len(opts.OrderBy) > 0 {
		var orders []string
		for _, ob := range opts.OrderBy {
			dir := "ASC"
			if ob.Desc {
				dir = "DESC"
			}
			orders = append(orders, fmt.Sprintf("(fields->>'%s') %s", ob.Field, dir))
		}
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	if opts.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", opts.Limit))
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		docs = append(docs, &Document{Fields: fields})
	}
	return docs, rows.Err()
}

// Transaction runs fn against a *sql.Tx wrapped as a KeyValueStore, so every
// Get/Set/Update/Delete issued inside fn is part of one atomic commit,
// matching spec.md §6's Transaction(fn) contract.
func (p *PostgresStore) Transaction(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	txStore := &postgresTxStore{tx: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}
	return nil
}

// querier is the subset of *sql.DB/*sql.Tx used by get/set helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// postgresTxStore is a KeyValueStore bound to one in-flight *sql.Tx, handed
// to Transaction's fn. Query is not supported inside a transaction (the
// teacher's cockroach.go transactions are write-only too); Transaction
// itself is not re-entrant.
type postgresTxStore struct {
	tx *sql.Tx
}

func (t *postgresTxStore) Get(ctx context.Context, pth string) (*Document, error) {
	collection, id, err := splitPath(pth)
	if err != nil {
		return nil, err
	}
	return (&PostgresStore{}).getTx(ctx, t.tx, collection, id)
}

func (t *postgresTxStore) Set(ctx context.Context, pth string, doc *Document) error {
	return (&PostgresStore{}).setTx(ctx, t.tx, pth, doc)
}

func (t *postgresTxStore) Update(ctx context.Context, pth string, patch map[string]any) error {
	collection, id, err := splitPath(pth)
	if err != nil {
		return err
	}
	patchRaw, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET fields = fields || $2::jsonb WHERE id = $1`, quoteIdent(collection))
	res, err := t.tx.ExecContext(ctx, query, id, patchRaw)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTxStore) Delete(ctx context.Context, pth string) error {
	collection, id, err := splitPath(pth)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(collection))
	res, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTxStore) Query(context.Context, string, QueryOptions) ([]*Document, error) {
	return nil, fmt.Errorf("storage: Query is not supported inside a Transaction")
}

func (t *postgresTxStore) Transaction(context.Context, TxFunc) error {
	return fmt.Errorf("storage: Transaction is not re-entrant")
}

func path(collection, id string) string { return collection + "/" + id }

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func sqlOp(op string) string {
	switch op {
	case "", "==":
		return "="
	case "!=", ">", ">=", "<", "<=":
		return op
	default:
		return "="
	}
}

func pgvectorLiteral(v Vector) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
