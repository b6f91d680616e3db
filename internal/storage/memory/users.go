// Package memory holds in-process repositories for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/arisu-i18n/arisu/internal/domain/users"
)

// UserRepository is a users.Repository backed by maps. Username and email
// uniqueness is case-insensitive, matching the postgres indexes.
type UserRepository struct {
	mu            sync.RWMutex
	users         map[string]users.User
	projects      []users.Project
	organisations []users.Organisation
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]users.User)}
}

var _ users.Repository = (*UserRepository)(nil)

func (r *UserRepository) Create(_ context.Context, user *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Username, user.Username) {
			return users.ErrUsernameTaken
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return users.ErrEmailTaken
		}
	}
	r.users[user.ID] = cloneUser(*user)
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return r.withOwnership(user), nil
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (*users.User, error) {
	return r.find(func(u users.User) bool { return strings.EqualFold(u.Username, username) })
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*users.User, error) {
	return r.find(func(u users.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *UserRepository) find(match func(users.User) bool) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if match(user) {
			return r.withOwnership(user), nil
		}
	}
	return nil, users.ErrUserNotFound
}

func (r *UserRepository) Update(_ context.Context, id string, patch users.Patch) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	if patch.Username != nil && *patch.Username != user.Username {
		for otherID, other := range r.users {
			if otherID != id && strings.EqualFold(other.Username, *patch.Username) {
				return nil, users.ErrUsernameTaken
			}
		}
		user.Username = *patch.Username
		user.JWT = ""
	}
	if patch.Contributor != nil {
		user.Contributor = *patch.Contributor
	}
	if patch.Translator != nil {
		user.Translator = *patch.Translator
	}
	r.users[id] = user
	return r.withOwnership(user), nil
}

func (r *UserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return users.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *UserRepository) CompareAndSwapToken(_ context.Context, id, expected, next string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return "", users.ErrUserNotFound
	}
	if user.JWT != expected {
		return user.JWT, nil
	}
	user.JWT = next
	r.users[id] = user
	return next, nil
}

// AddProject records a project owned by project.OwnerID.
func (r *UserRepository) AddProject(project users.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects = append(r.projects, project)
}

// AddOrganisation records an organisation owned by org.OwnerID.
func (r *UserRepository) AddOrganisation(org users.Organisation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.organisations = append(r.organisations, org)
}

func (r *UserRepository) ListProjects(_ context.Context, ownerID string) ([]users.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []users.Project
	for _, p := range r.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *UserRepository) ListOrganisations(_ context.Context, ownerID string) ([]users.Organisation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []users.Organisation
	for _, o := range r.organisations {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// withOwnership returns a copy of user with its owned project and
// organisation ids filled in. Callers must hold r.mu.
func (r *UserRepository) withOwnership(user users.User) *users.User {
	out := cloneUser(user)
	out.Projects = nil
	out.Organisations = nil
	for _, p := range r.projects {
		if p.OwnerID == user.ID {
			out.Projects = append(out.Projects, p.ID)
		}
	}
	for _, o := range r.organisations {
		if o.OwnerID == user.ID {
			out.Organisations = append(out.Organisations, o.ID)
		}
	}
	return &out
}

func cloneUser(user users.User) users.User {
	user.Projects = append([]string(nil), user.Projects...)
	user.Organisations = append([]string(nil), user.Organisations...)
	return user
}
