package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/rollcall/internal/auth/domain"
	"github.com/aussiebroadwan/rollcall/internal/auth/store"
)

const credentialColumns = `id, principal_role, principal_id, credential_id, public_key, algorithm, sign_count, created_at, last_used_at`

type credentialsRepo struct {
	db dbtx
}

func scanCredential(row rowScanner) (domain.Credential, error) {
	var (
		c         domain.Credential
		role      string
		signCount int64
		createdAt int64
		lastUsed  sql.NullInt64
	)
	err := row.Scan(&c.ID, &role, &c.PrincipalID, &c.CredentialID, &c.PublicKey,
		&c.Algorithm, &signCount, &createdAt, &lastUsed)
	if err != nil {
		return domain.Credential{}, err
	}
	c.PrincipalRole = domain.Role(role)
	c.SignCount = uint32(signCount) // #nosec G115 - column only ever holds uint32 values
	c.CreatedAt = fromUnix(createdAt)
	c.LastUsedAt = mapNullUnixPtr(lastUsed)
	return c, nil
}

func (r *credentialsRepo) Create(ctx context.Context, c domain.Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO passkey_credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		c.ID,
		string(c.PrincipalRole),
		c.PrincipalID,
		c.CredentialID,
		c.PublicKey,
		c.Algorithm,
		int64(c.SignCount),
		unixTime(c.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *credentialsRepo) GetByCredentialID(ctx context.Context, credentialID []byte) (domain.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM passkey_credentials WHERE credential_id = ?`, credentialID)
	c, err := scanCredential(row)
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return c, nil
}

func (r *credentialsRepo) ListForPrincipal(ctx context.Context, role domain.Role, principalID string) ([]domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM passkey_credentials
		 WHERE principal_role = ? AND principal_id = ?
		 ORDER BY created_at, id`,
		string(role), principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *credentialsRepo) UpdateSignCount(ctx context.Context, credentialID []byte, old, next uint32, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passkey_credentials SET sign_count = ?, last_used_at = ?
		 WHERE credential_id = ? AND sign_count = ?`,
		int64(next), unixTime(usedAt), credentialID, int64(old))
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Tell a vanished credential apart from a counter that moved.
	if _, err := r.GetByCredentialID(ctx, credentialID); err != nil {
		return err
	}
	return store.ErrConflict
}
