package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
)

// tables maps each role to its record set. Table names are interpolated into
// SQL, so they must only ever come from here.
var tables = map[domain.Role]string{
	domain.RoleAdministrator: "administrators",
	domain.RoleStaff:         "staff",
	domain.RolePrimaryUser:   "primary_users",
	domain.RoleGuardian:      "guardians",
}

const principalColumns = `id, identifier, secret_hash, display_name, active, attributes, created_at, updated_at`

type principalsRepo struct {
	db    dbtx
	role  domain.Role
	table string
}

func newPrincipalsRepo(db dbtx, role domain.Role) *principalsRepo {
	return &principalsRepo{db: db, role: role, table: tables[role]}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *principalsRepo) scan(row rowScanner) (domain.Principal, error) {
	var (
		p                    domain.Principal
		attrs                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.Identifier, &p.SecretHash, &p.DisplayName, &p.Active, &attrs, &createdAt, &updatedAt); err != nil {
		return domain.Principal{}, err
	}
	if attrs != "" && attrs != "{}" {
		if err := json.Unmarshal([]byte(attrs), &p.Attributes); err != nil {
			return domain.Principal{}, fmt.Errorf("sqlite: %s attributes: %w", r.table, err)
		}
	}
	p.Role = r.role
	p.CreatedAt = fromUnix(createdAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return p, nil
}

func (r *principalsRepo) GetByID(ctx context.Context, id string) (domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM `+r.table+` WHERE id = ?`, id)
	p, err := r.scan(row)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	return p, nil
}

func (r *principalsRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.Principal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM `+r.table+` WHERE identifier = ?`,
		domain.NormalizeIdentifier(identifier))
	p, err := r.scan(row)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	return p, nil
}

func (r *principalsRepo) Create(ctx context.Context, p domain.Principal) error {
	attrs := []byte("{}")
	if len(p.Attributes) > 0 {
		var err error
		if attrs, err = json.Marshal(p.Attributes); err != nil {
			return fmt.Errorf("sqlite: %s attributes: %w", r.table, err)
		}
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table+` (`+principalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		domain.NormalizeIdentifier(p.Identifier),
		p.SecretHash,
		p.DisplayName,
		p.Active,
		string(attrs),
		unixTime(p.CreatedAt),
		unixTime(p.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *principalsRepo) UpdateSecretHash(ctx context.Context, id, hash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET secret_hash = ?, updated_at = ? WHERE id = ?`,
		hash, unixTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *principalsRepo) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET active = ?, updated_at = ? WHERE id = ?`,
		active, unixTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *principalsRepo) List(ctx context.Context) ([]domain.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM `+r.table+` ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Principal
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
