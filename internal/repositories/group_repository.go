package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"classchat-service/internal/models"
)

var (
	ErrGroupNotFound  = errors.New("group not found")
	ErrDuplicateGroup = errors.New("group already exists")
)

// GroupRepository abstracts group persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, id, name, ownerID string, studentIDs, instructorIDs []string) (models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	Exists(ctx context.Context, groupID string) (bool, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup creates a group and its member rows atomically. A duplicate id
// or name maps to ErrDuplicateGroup.
func (r *GroupRepo) CreateGroup(ctx context.Context, id, name, ownerID string, studentIDs, instructorIDs []string) (models.Group, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Group{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var group models.Group
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO groups (id, name, owner_id) VALUES ($1, $2, $3) RETURNING id, name, owner_id, created_at`,
		id, name, ownerID).
		Scan(&group.ID, &group.Name, &group.OwnerID, &group.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateGroup
		}
		return models.Group{}, err
	}

	group.StudentIDs = lo.Uniq(studentIDs)
	group.InstructorIDs = lo.Uniq(instructorIDs)

	for _, userID := range group.StudentIDs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, member_role) VALUES ($1, $2, $3)`,
			group.ID, userID, models.RoleStudent); err != nil {
			return models.Group{}, err
		}
	}
	for _, userID := range group.InstructorIDs {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, member_role) VALUES ($1, $2, $3)`,
			group.ID, userID, models.RoleInstructor); err != nil {
			if isUniqueViolation(err) {
				err = ErrDuplicateGroup
			}
			return models.Group{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Group{}, err
	}
	return group, nil
}

// ListGroupsForUser returns groups that include the user as owner or member,
// member sets populated.
func (r *GroupRepo) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups,
		`SELECT DISTINCT g.id, g.name, g.owner_id, g.created_at
		 FROM groups g
		 LEFT JOIN group_members gm ON gm.group_id = g.id
		 WHERE g.owner_id = $1 OR gm.user_id = $1
		 ORDER BY g.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}

	ids := lo.Map(groups, func(g models.Group, _ int) string { return g.ID })
	members, err := r.loadMembers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range groups {
		groups[i].StudentIDs = members[groups[i].ID][models.RoleStudent]
		groups[i].InstructorIDs = members[groups[i].ID][models.RoleInstructor]
	}
	return groups, nil
}

// IsMember checks membership; the owner counts as a member.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(
			SELECT 1 FROM groups WHERE id=$1 AND owner_id=$2
			UNION
			SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2
		)`, groupID, userID)
	return exists, err
}

// GetGroup fetches a single group with member sets.
func (r *GroupRepo) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	var group models.Group
	err := r.db.GetContext(ctx, &group,
		`SELECT id, name, owner_id, created_at FROM groups WHERE id=$1`, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Group{}, ErrGroupNotFound
	}
	if err != nil {
		return models.Group{}, err
	}

	members, err := r.loadMembers(ctx, []string{groupID})
	if err != nil {
		return models.Group{}, err
	}
	group.StudentIDs = members[groupID][models.RoleStudent]
	group.InstructorIDs = members[groupID][models.RoleInstructor]
	return group, nil
}

// Exists reports whether the group id is known.
func (r *GroupRepo) Exists(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM groups WHERE id=$1)`, groupID)
	return exists, err
}

func (r *GroupRepo) loadMembers(ctx context.Context, groupIDs []string) (map[string]map[models.Role][]string, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT group_id, user_id, member_role FROM group_members WHERE group_id = ANY($1) ORDER BY user_id`,
		pq.Array(groupIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make(map[string]map[models.Role][]string)
	for rows.Next() {
		var groupID, userID string
		var role models.Role
		if err := rows.Scan(&groupID, &userID, &role); err != nil {
			return nil, err
		}
		if members[groupID] == nil {
			members[groupID] = make(map[models.Role][]string)
		}
		members[groupID][role] = append(members[groupID][role], userID)
	}
	return members, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
