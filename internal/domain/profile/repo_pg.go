package profile

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations returns the SQL files that create the profile tables, for use
// with db.NewMigrator.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

const uniqueViolation = "23505"

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) Repository {
	return &profileRepoPG{pool: pool}
}

const profileCols = `id, name, description, hl7_version, mappings, created_at, updated_at`

func (r *profileRepoPG) scanRow(row pgx.Row) (*Profile, error) {
	var (
		p   Profile
		raw []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Version, &raw, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &p.Mappings); err != nil {
		return nil, fmt.Errorf("decode mappings of profile %s: %w", p.ID, err)
	}
	return &p, nil
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateName
	}
	return err
}

func (r *profileRepoPG) Create(ctx context.Context, p *Profile) error {
	mappings, err := json.Marshal(p.Mappings)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	p.ID = uuid.New()
	err = r.pool.QueryRow(ctx, `
		INSERT INTO mapping_profiles (id, name, description, hl7_version, mappings)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Version, mappings,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapWriteErr(err)
}

func (r *profileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	return r.scanRow(r.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM mapping_profiles WHERE id = $1`, id))
}

func (r *profileRepoPG) GetByName(ctx context.Context, name string) (*Profile, error) {
	return r.scanRow(r.pool.QueryRow(ctx, `SELECT `+profileCols+` FROM mapping_profiles WHERE LOWER(name) = LOWER($1)`, name))
}

func (r *profileRepoPG) Update(ctx context.Context, p *Profile) error {
	mappings, err := json.Marshal(p.Mappings)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	err = r.pool.QueryRow(ctx, `
		UPDATE mapping_profiles SET name=$2, description=$3, hl7_version=$4, mappings=$5,
			updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Version, mappings,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapWriteErr(err)
}

func (r *profileRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM mapping_profiles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *profileRepoPG) List(ctx context.Context, nameFilter string, limit, offset int) ([]*Profile, int, error) {
	where, args := "", []interface{}{}
	if nameFilter != "" {
		where = ` WHERE name ILIKE $1`
		args = append(args, "%"+escapeLike(nameFilter)+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mapping_profiles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM mapping_profiles%s ORDER BY LOWER(name) LIMIT $%d OFFSET $%d`,
		profileCols, where, n+1, n+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Profile
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
