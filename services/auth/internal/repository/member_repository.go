package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	onePrimaryIndex = "community_memberships_one_primary"
)

type memberRepository struct {
	pool *pgxpool.Pool
}

func NewMemberRepository(pool *pgxpool.Pool) MemberRepository {
	return &memberRepository{pool: pool}
}

const memberCols = `id, email, first_name, last_name, phone, whatsapp, is_active, created_at, updated_at`

const membershipSelect = `
	SELECT cm.id, cm.member_id, cm.community_id, cm.role, cm.is_primary, cm.status, cm.joined_at,
	       c.name, c.slug, o.id, o.name
	FROM community_memberships cm
	JOIN communities c ON c.id = cm.community_id
	LEFT JOIN organizations o ON o.id = c.organization_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner, extra ...any) (*domain.Member, error) {
	var m domain.Member
	dest := append([]any{
		&m.ID, &m.Email, &m.FirstName, &m.LastName, &m.Phone, &m.WhatsApp, &m.IsActive, &m.CreatedAt, &m.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMembership(row scanner) (*domain.Membership, error) {
	var (
		ms      domain.Membership
		c       domain.Community
		role    *string
		status  string
		orgID   *string
		orgName *string
	)
	if err := row.Scan(
		&ms.ID, &ms.MemberID, &ms.CommunityID, &role, &ms.IsPrimary, &status, &ms.JoinedAt,
		&c.Name, &c.Slug, &orgID, &orgName,
	); err != nil {
		return nil, err
	}
	return buildMembership(ms, c, role, status, orgID, orgName)
}

func buildMembership(ms domain.Membership, c domain.Community, role *string, status string, orgID, orgName *string) (*domain.Membership, error) {
	var err error
	if ms.Role, err = access.ParseNullableRole(role); err != nil {
		return nil, fmt.Errorf("membership %s: %w", ms.ID, err)
	}
	if ms.Status, err = access.ParseMembershipStatus(status); err != nil {
		return nil, fmt.Errorf("membership %s: %w", ms.ID, err)
	}
	c.ID = ms.CommunityID
	if orgID != nil {
		c.Organization = &domain.Organization{ID: *orgID}
		if orgName != nil {
			c.Organization.Name = *orgName
		}
	}
	ms.Community = &c
	return &ms, nil
}

func (r *memberRepository) FindOrCreateByEmail(ctx context.Context, email string) (*domain.Member, bool, error) {
	// xmax is zero only for a freshly inserted row.
	const q = `
		INSERT INTO members (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING ` + memberCols + `, (xmax = 0) AS created`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var created bool
	m, err := scanMember(r.pool.QueryRow(ctx, q, uuid.NewString(), email), &created)
	if err != nil {
		return nil, false, err
	}
	return m, created, nil
}

func (r *memberRepository) FindByID(ctx context.Context, id string) (*domain.Member, error) {
	const q = `SELECT ` + memberCols + ` FROM members WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	m, err := scanMember(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, membershipSelect+`
		WHERE cm.member_id = $1
		ORDER BY cm.is_primary DESC, cm.joined_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m.Memberships = []domain.Membership{}
	for rows.Next() {
		ms, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		m.Memberships = append(m.Memberships, *ms)
	}
	return m, rows.Err()
}

func (r *memberRepository) UpdateProfile(ctx context.Context, id string, req *domain.UpdateProfileRequest) error {
	// An empty phone or whatsapp clears the column.
	const q = `
		UPDATE members
		SET
			first_name = COALESCE($2, first_name),
			last_name = COALESCE($3, last_name),
			phone = CASE WHEN $4::text IS NULL THEN phone ELSE NULLIF($4, '') END,
			whatsapp = CASE WHEN $5::text IS NULL THEN whatsapp ELSE NULLIF($5, '') END,
			updated_at = now()
		WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, id, req.FirstName, req.LastName, req.Phone, req.WhatsApp)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *memberRepository) List(ctx context.Context, limit, offset int) ([]domain.Member, error) {
	const q = `
		SELECT ` + memberCols + `
		FROM members
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []domain.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (r *memberRepository) CommunityExists(ctx context.Context, communityID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM communities WHERE id = $1)`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, q, communityID).Scan(&exists)
	return exists, err
}

func (r *memberRepository) JoinCommunity(ctx context.Context, memberID, communityID string) (*domain.Membership, error) {
	// The first membership of a member becomes primary. Two concurrent first
	// joins can both see no primary; the loser trips the one-primary index
	// and is retried as a non-primary membership.
	const q = `
		INSERT INTO community_memberships (id, member_id, community_id, role, is_primary, status)
		SELECT $1, $2, $3, 'USER',
		       $4::boolean AND NOT EXISTS (SELECT 1 FROM community_memberships WHERE member_id = $2 AND is_primary),
		       'ACTIVE'
		RETURNING id`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id string
	err := r.pool.QueryRow(ctx, q, uuid.NewString(), memberID, communityID, true).Scan(&id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == onePrimaryIndex {
		err = r.pool.QueryRow(ctx, q, uuid.NewString(), memberID, communityID, false).Scan(&id)
	}
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return nil, fmt.Errorf("%w: already a member of this community", domain.ErrConflict)
		case pgForeignKeyViolation:
			return nil, domain.ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	return r.GetMembership(ctx, id)
}

func (r *memberRepository) GetMembership(ctx context.Context, membershipID string) (*domain.Membership, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ms, err := scanMembership(r.pool.QueryRow(ctx, membershipSelect+` WHERE cm.id = $1`, membershipID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return ms, err
}

func (r *memberRepository) SetPrimaryMembership(ctx context.Context, memberID, membershipID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Clear first so the one-primary index never sees two rows.
	if _, err := tx.Exec(ctx, `
		UPDATE community_memberships
		SET is_primary = false
		WHERE member_id = $1 AND is_primary AND id <> $2`, memberID, membershipID); err != nil {
		return err
	}

	result, err := tx.Exec(ctx, `
		UPDATE community_memberships
		SET is_primary = true
		WHERE id = $1 AND member_id = $2`, membershipID, memberID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *memberRepository) ListByCommunity(ctx context.Context, communityID string) ([]domain.Member, error) {
	const q = `
		SELECT m.id, m.email, m.first_name, m.last_name, m.phone, m.whatsapp, m.is_active, m.created_at, m.updated_at,
		       cm.id, cm.member_id, cm.community_id, cm.role, cm.is_primary, cm.status, cm.joined_at,
		       c.name, c.slug, o.id, o.name
		FROM community_memberships cm
		JOIN members m ON m.id = cm.member_id
		JOIN communities c ON c.id = cm.community_id
		LEFT JOIN organizations o ON o.id = c.organization_id
		WHERE cm.community_id = $1
		ORDER BY cm.joined_at, m.email`

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []domain.Member{}
	for rows.Next() {
		var (
			ms      domain.Membership
			c       domain.Community
			role    *string
			status  string
			orgID   *string
			orgName *string
		)
		m, err := scanMember(rows,
			&ms.ID, &ms.MemberID, &ms.CommunityID, &role, &ms.IsPrimary, &status, &ms.JoinedAt,
			&c.Name, &c.Slug, &orgID, &orgName,
		)
		if err != nil {
			return nil, err
		}
		built, err := buildMembership(ms, c, role, status, orgID, orgName)
		if err != nil {
			return nil, err
		}
		m.Memberships = []domain.Membership{*built}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (r *memberRepository) UpdateMembership(ctx context.Context, membershipID string, status *access.MembershipStatus, role *access.Role) (*domain.Membership, error) {
	const q = `
		UPDATE community_memberships
		SET
			status = COALESCE($2, status),
			role = CASE WHEN $3::boolean THEN $4 ELSE role END
		WHERE id = $1
		RETURNING id`

	var (
		statusArg *string
		setRole   bool
		roleArg   *string
	)
	if status != nil {
		s := string(*status)
		statusArg = &s
	}
	if role != nil {
		setRole = true
		roleArg = role.Nullable()
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var id string
	err := r.pool.QueryRow(ctx, q, membershipID, statusArg, setRole, roleArg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.GetMembership(ctx, id)
}
