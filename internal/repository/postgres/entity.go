package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lalith-99/viewify/internal/models"
	"github.com/lalith-99/viewify/internal/repository"
)

// table describes how one entity kind is laid out in Postgres.
//
// Every table has id, created_at and updated_at. The remaining columns map
// onto Entity fields; a column listed as "" for a field means the kind has
// no such field.
type table struct {
	name      string
	postID    string
	parentID  string
	authorID  string
	recipient string
	text      string
	read      string
}

var tables = map[models.Kind]table{
	models.KindComment: {
		name:     "comments",
		postID:   "post_id",
		parentID: "parent_id",
		authorID: "author_id",
		text:     "content",
	},
	models.KindMessage: {
		name:      "messages",
		authorID:  "sender_id",
		recipient: "receiver_id",
		text:      "body",
		read:      "read",
	},
	models.KindFollow: {
		name:      "follows",
		authorID:  "follower_id",
		recipient: "followed_id",
	},
}

func tableFor(kind models.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("unknown kind %q", kind)
	}
	return t, nil
}

// columns returns the SELECT/RETURNING list in the order scanInto expects.
func (t table) columns() string {
	cols := []string{"id::text", "created_at", "updated_at", t.authorID}
	for _, c := range []string{t.postID, t.parentID, t.recipient, t.text, t.read} {
		if c == "" {
			continue
		}
		if c == t.parentID {
			c = "coalesce(" + c + "::text, '')"
		}
		cols = append(cols, c)
	}
	return strings.Join(cols, ", ")
}

func (t table) scanInto(row pgx.Row, kind models.Kind) (models.Entity, error) {
	e := models.Entity{Kind: kind, State: models.StateConfirmed}
	dest := []any{&e.ID, &e.CreatedAt, &e.UpdatedAt, &e.AuthorID}
	if t.postID != "" {
		dest = append(dest, &e.PostID)
	}
	if t.parentID != "" {
		dest = append(dest, &e.ParentID)
	}
	if t.recipient != "" {
		dest = append(dest, &e.RecipientID)
	}
	if t.text != "" {
		dest = append(dest, &e.Text)
	}
	if t.read != "" {
		dest = append(dest, &e.Read)
	}
	if err := row.Scan(dest...); err != nil {
		return models.Entity{}, err
	}
	return e, nil
}

// EntityStore implements repository.EntityStore on the comments, messages
// and follows tables.
type EntityStore struct {
	pool *pgxpool.Pool
}

func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

func (s *EntityStore) Create(ctx context.Context, e models.Entity) (models.Entity, error) {
	t, err := tableFor(e.Kind)
	if err != nil {
		return models.Entity{}, fmt.Errorf("insert entity: %w", err)
	}

	cols := []string{t.authorID}
	args := []any{e.AuthorID}
	if t.postID != "" {
		cols = append(cols, t.postID)
		args = append(args, e.PostID)
	}
	if t.parentID != "" {
		cols = append(cols, t.parentID)
		args = append(args, nullableUUID(e.ParentID))
	}
	if t.recipient != "" {
		cols = append(cols, t.recipient)
		args = append(args, e.RecipientID)
	}
	if t.text != "" {
		cols = append(cols, t.text)
		args = append(args, e.Text)
	}
	if t.read != "" {
		cols = append(cols, t.read)
		args = append(args, e.Read)
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, created_at, updated_at)
		VALUES (%s, now(), now())
		RETURNING %s`,
		t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", "), t.columns())

	created, err := t.scanInto(s.pool.QueryRow(ctx, query, args...), e.Kind)
	if err != nil {
		return models.Entity{}, fmt.Errorf("insert %s: %w", e.Kind, err)
	}
	return created, nil
}

func (s *EntityStore) Get(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return models.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return models.Entity{}, repository.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, t.columns(), t.name)
	e, err := t.scanInto(s.pool.QueryRow(ctx, query, uid), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entity{}, repository.ErrNotFound
		}
		return models.Entity{}, fmt.Errorf("get %s: %w", kind, err)
	}
	return e, nil
}

func (s *EntityStore) List(ctx context.Context, kind models.Kind, filter repository.Filter, opts repository.ListOptions) ([]models.Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}

	where, args := t.where(filter)

	order, cmp := "ASC", ">"
	if opts.Order == repository.OrderDesc {
		order, cmp = "DESC", "<"
	}
	if opts.Cursor != "" {
		cursor, err := uuid.Parse(opts.Cursor)
		if err != nil {
			return nil, fmt.Errorf("list %s: invalid cursor: %w", kind, err)
		}
		args = append(args, cursor)
		where = append(where, fmt.Sprintf(
			"(created_at, id) %s (SELECT created_at, id FROM %s WHERE id = $%d)", cmp, t.name, len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, t.columns(), t.name)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at %s, id %s", order, order)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	out := make([]models.Entity, 0)
	for rows.Next() {
		e, err := t.scanInto(rows, kind)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

// where turns a Filter into SQL conditions. Filter fields the table has no
// column for are ignored.
func (t table) where(f repository.Filter) ([]string, []any) {
	var conds []string
	var args []any
	add := func(col, op string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s %s $%d", col, op, len(args)))
	}

	if f.PostID != "" && t.postID != "" {
		add(t.postID, "=", f.PostID)
	}
	if f.ParentID != "" && t.parentID != "" {
		add(t.parentID+"::text", "=", f.ParentID)
	}
	if f.RootOnly && t.parentID != "" {
		conds = append(conds, t.parentID+" IS NULL")
	}
	if f.AuthorID != "" {
		add(t.authorID, "=", f.AuthorID)
	}
	if f.RecipientID != "" && t.recipient != "" {
		add(t.recipient, "=", f.RecipientID)
	}
	if (f.Participants[0] != "" || f.Participants[1] != "") && t.recipient != "" {
		args = append(args, f.Participants[0], f.Participants[1])
		a, b := len(args)-1, len(args)
		conds = append(conds, fmt.Sprintf("((%[1]s = $%[3]d AND %[2]s = $%[4]d) OR (%[1]s = $%[4]d AND %[2]s = $%[3]d))",
			t.authorID, t.recipient, a, b))
	}
	if f.UnreadOnly && t.read != "" {
		conds = append(conds, t.read+" = false")
	}
	return conds, args
}

func (s *EntityStore) Update(ctx context.Context, kind models.Kind, id string, patch models.Patch) (models.Entity, error) {
	t, err := tableFor(kind)
	if err != nil {
		return models.Entity{}, fmt.Errorf("update entity: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return models.Entity{}, repository.ErrNotFound
	}

	sets := []string{"updated_at = now()"}
	args := []any{uid}
	if patch.Text != nil && t.text != "" {
		args = append(args, *patch.Text)
		sets = append(sets, fmt.Sprintf("%s = $%d", t.text, len(args)))
	}
	if patch.Read != nil && t.read != "" {
		args = append(args, *patch.Read)
		sets = append(sets, fmt.Sprintf("%s = $%d", t.read, len(args)))
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING %s`,
		t.name, strings.Join(sets, ", "), t.columns())

	e, err := t.scanInto(s.pool.QueryRow(ctx, query, args...), kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Entity{}, repository.ErrNotFound
		}
		return models.Entity{}, fmt.Errorf("update %s: %w", kind, err)
	}
	return e, nil
}

func (s *EntityStore) Delete(ctx context.Context, kind models.Kind, id string) error {
	t, err := tableFor(kind)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return repository.ErrNotFound
	}

	// Replies keep their parent_id; there is no ON DELETE CASCADE on
	// comments.parent_id.
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, t.name), uid)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func nullableUUID(id string) *uuid.UUID {
	if id == "" {
		return nil
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return nil
	}
	return &u
}
