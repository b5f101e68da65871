package service

import (
	"context"
	"errors"
	"strings"

	accountdomain "jauth/internal/account/domain"
	auditdomain "jauth/internal/audit/domain"
	"jauth/internal/principal"
	projectdomain "jauth/internal/project/domain"
	sessiondomain "jauth/internal/session/domain"
	userdomain "jauth/internal/user/domain"
)

// ProfileUpdate holds the fields a principal may change on itself. Empty fields are left alone.
// NewPassword is only accepted together with the correct OldPassword.
type ProfileUpdate struct {
	Name        string
	Email       string
	OldPassword string
	NewPassword string
}

// UpdateAccount changes the account's own name, email or password.
func (s *AuthService) UpdateAccount(ctx context.Context, accountID string, upd ProfileUpdate) (*accountdomain.Account, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	changed, err := s.applyProfile(&a.Name, &a.Email, &a.PasswordHash, upd)
	if err != nil {
		return nil, err
	}
	a.UpdatedAt = s.now()
	if err := s.accounts.Update(ctx, a); err != nil {
		return nil, emailTaken(err)
	}
	s.record(ctx, principal.TierAccount, "", a.ID, auditdomain.ActionProfileUpdated, "", changed)
	return a, nil
}

// UpdateUser changes a user's own name, email or password.
func (s *AuthService) UpdateUser(ctx context.Context, projectID, userID string, upd ProfileUpdate) (*userdomain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil || u.ProjectID != projectID {
		return nil, ErrUserNotFound
	}
	changed, err := s.applyProfile(&u.Name, &u.Email, &u.PasswordHash, upd)
	if err != nil {
		return nil, err
	}
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, emailTaken(err)
	}
	s.record(ctx, principal.TierUser, projectID, u.ID, auditdomain.ActionProfileUpdated, "", changed)
	return u, nil
}

// DeleteAccount removes the account with all of its projects. Every session of the account and of
// its projects' users ends, and the projects' keypairs are deleted.
func (s *AuthService) DeleteAccount(ctx context.Context, accountID string) error {
	projects, err := s.projects.ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := s.removeProject(ctx, p); err != nil {
			return err
		}
	}
	if err := s.account.Sessions.DeleteByUserID(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return err
	}
	s.record(ctx, principal.TierAccount, "", accountID, auditdomain.ActionAccountDeleted, "", "")
	return nil
}

// GetProject returns one of the account's projects.
func (s *AuthService) GetProject(ctx context.Context, accountID, projectID string) (*projectdomain.Project, error) {
	return s.ownedProject(ctx, accountID, projectID)
}

// RenameProject changes the name of one of the account's projects.
func (s *AuthService) RenameProject(ctx context.Context, accountID, projectID, name string) (*projectdomain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Message: "name is required"}
	}
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return nil, err
	}
	p.Name = name
	if err := s.projects.Update(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, principal.TierAccount, p.ID, accountID, auditdomain.ActionProjectUpdated, "", "")
	return p, nil
}

// DeleteProject removes one of the account's projects together with its users' sessions and its keypair.
func (s *AuthService) DeleteProject(ctx context.Context, accountID, projectID string) error {
	p, err := s.ownedProject(ctx, accountID, projectID)
	if err != nil {
		return err
	}
	if err := s.removeProject(ctx, p); err != nil {
		return err
	}
	s.record(ctx, principal.TierAccount, p.ID, accountID, auditdomain.ActionProjectDeleted, "", "")
	return nil
}

// ListProjectUsers returns the users of one of the account's projects.
func (s *AuthService) ListProjectUsers(ctx context.Context, accountID, projectID string) ([]*userdomain.User, error) {
	if _, err := s.ownedProject(ctx, accountID, projectID); err != nil {
		return nil, err
	}
	return s.users.ListByProject(ctx, projectID)
}

// GetProjectUser returns a user of one of the account's projects.
func (s *AuthService) GetProjectUser(ctx context.Context, accountID, projectID, userID string) (*userdomain.User, error) {
	return s.ownedUser(ctx, accountID, projectID, userID)
}

// ListUserSessions returns the live sessions of a user of one of the account's projects.
func (s *AuthService) ListUserSessions(ctx context.Context, accountID, userID string) ([]*sessiondomain.SessionIteration, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	if _, err := s.ownedProject(ctx, accountID, u.ProjectID); err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.user.Sessions.ListByUserID(ctx, userID)
}

// KillUserSession ends a session of a user of one of the account's projects. Sessions of users
// outside the account's projects are reported as not found.
func (s *AuthService) KillUserSession(ctx context.Context, accountID, sessionID string) error {
	sess, err := s.user.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	u, err := s.users.GetByID(ctx, sess.PrincipalID)
	if err != nil {
		return err
	}
	if u == nil {
		return ErrSessionNotFound
	}
	if _, err := s.ownedProject(ctx, accountID, u.ProjectID); err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	if err := s.user.Sessions.KillSession(ctx, sessionID); err != nil {
		return err
	}
	s.record(ctx, principal.TierUser, u.ProjectID, u.ID, auditdomain.ActionSessionKilled, "", "session "+sessionID+" by account "+accountID)
	return nil
}

func (s *AuthService) removeProject(ctx context.Context, p *projectdomain.Project) error {
	users, err := s.users.ListByProject(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := s.user.Sessions.DeleteByUserID(ctx, u.ID); err != nil {
			return err
		}
	}
	if err := s.projects.Delete(ctx, p.ID); err != nil {
		return err
	}
	if s.keys != nil {
		if err := s.keys.Delete(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// applyProfile validates upd and writes it into the principal's fields. It returns the names of
// the changed fields for the audit log.
func (s *AuthService) applyProfile(name, email, passwordHash *string, upd ProfileUpdate) (string, error) {
	var changed []string
	if n := strings.TrimSpace(upd.Name); n != "" {
		*name = n
		changed = append(changed, "name")
	}
	if upd.Email != "" {
		e := normalizeEmail(upd.Email)
		if err := validateEmail(e); err != nil {
			return "", err
		}
		*email = e
		changed = append(changed, "email")
	}
	if upd.NewPassword != "" {
		if err := validatePassword(upd.NewPassword); err != nil {
			return "", err
		}
		if upd.OldPassword == "" || s.hasher.Compare(*passwordHash, []byte(upd.OldPassword)) != nil {
			return "", ErrInvalidCredentials
		}
		hashed, err := s.hasher.Hash([]byte(upd.NewPassword))
		if err != nil {
			return "", err
		}
		*passwordHash = hashed
		changed = append(changed, "password")
	}
	if len(changed) == 0 {
		return "", &ValidationError{Message: "nothing to update"}
	}
	return strings.Join(changed, ","), nil
}

func emailTaken(err error) error {
	if errors.Is(err, principal.ErrEmailTaken) {
		return ErrEmailAlreadyRegistered
	}
	return err
}
