package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"bugtracker.org/internal/auth"
	"bugtracker.org/internal/tracker"
)

const (
	userAllColumns     = `id, email_address, password_hash, given_name, family_name, full_name, roles, created_on, created_by, last_updated_on, last_updated_by`
	userSummaryColumns = `id, email_address, given_name, family_name, full_name, roles, created_on`
)

type users struct{ s *Store }

func rolesJSON(set auth.RoleSet) (string, error) {
	names := set.Strings()
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode roles: %w", err)
	}
	return string(data), nil
}

func (u users) Create(ctx context.Context, user *tracker.User) error {
	roles, err := rolesJSON(user.Role)
	if err != nil {
		return err
	}
	_, err = u.s.db.ExecContext(ctx, `
		insert into users (`+userAllColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, user.ID.Hex(), tracker.NormalizeEmail(user.EmailAddress), user.Password,
		user.GivenName, user.FamilyName, user.FullName, roles,
		user.CreatedOn.UTC(), nullRef(user.CreatedBy), nullTime(user.LastUpdatedOn), nullRef(user.LastUpdatedBy))
	return translate(err)
}

func (u users) Get(ctx context.Context, id primitive.ObjectID) (*tracker.User, error) {
	row := u.s.db.QueryRowContext(ctx, `select `+userAllColumns+` from users where id = $1`, id.Hex())
	return scanUser(row)
}

func (u users) GetByEmail(ctx context.Context, email string) (*tracker.User, error) {
	row := u.s.db.QueryRowContext(ctx, `select `+userAllColumns+` from users where email_address = $1`, tracker.NormalizeEmail(email))
	return scanUser(row)
}

func scanUser(row scanner) (*tracker.User, error) {
	var (
		u                    tracker.User
		id                   string
		roles                []byte
		createdBy, updatedBy sql.NullString
		updatedOn            sql.NullTime
	)
	err := row.Scan(&id, &u.EmailAddress, &u.Password, &u.GivenName, &u.FamilyName, &u.FullName,
		&roles, &u.CreatedOn, &createdBy, &updatedOn, &updatedBy)
	if err != nil {
		return nil, translate(err)
	}
	var d decoder
	u.ID = d.id(id)
	u.CreatedBy = d.ref(createdBy)
	u.LastUpdatedBy = d.ref(updatedBy)
	if d.err != nil {
		return nil, d.err
	}
	u.CreatedOn = u.CreatedOn.UTC()
	u.LastUpdatedOn = timePtr(updatedOn)
	if err := json.Unmarshal(roles, &u.Role); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return &u, nil
}

func (u users) List(ctx context.Context, q tracker.UserQuery) ([]tracker.UserSummary, error) {
	query, args := userListQuery(q, u.s.now())
	rows, err := u.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []tracker.UserSummary
	for rows.Next() {
		var (
			sum   tracker.UserSummary
			id    string
			roles []byte
		)
		if err := rows.Scan(&id, &sum.EmailAddress, &sum.GivenName, &sum.FamilyName, &sum.FullName, &roles, &sum.CreatedOn); err != nil {
			return nil, err
		}
		var d decoder
		sum.ID = d.id(id)
		if d.err != nil {
			return nil, d.err
		}
		sum.CreatedOn = sum.CreatedOn.UTC()
		if err := json.Unmarshal(roles, &sum.Role); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (u users) Update(ctx context.Context, id primitive.ObjectID, upd tracker.UserUpdate) error {
	var a assignments
	if upd.Password != nil {
		a.set("password_hash", *upd.Password)
	}
	if upd.GivenName != nil {
		a.set("given_name", *upd.GivenName)
	}
	if upd.FamilyName != nil {
		a.set("family_name", *upd.FamilyName)
	}
	if upd.FullName != nil {
		a.set("full_name", *upd.FullName)
	}
	if upd.Role != nil {
		roles, err := rolesJSON(auth.NewRoleSet(*upd.Role...))
		if err != nil {
			return err
		}
		a.set("roles", roles)
	}
	a.set("last_updated_on", upd.LastUpdatedOn.UTC())
	a.set("last_updated_by", upd.LastUpdatedBy.Hex())

	query, args := a.update("users", id.Hex())
	res, err := u.s.db.ExecContext(ctx, query, args...)
	return affectedOrNotFound(res, err)
}

func (u users) Delete(ctx context.Context, id primitive.ObjectID) error {
	res, err := u.s.db.ExecContext(ctx, `delete from users where id = $1`, id.Hex())
	return affectedOrNotFound(res, err)
}
