package council

import (
	"context"
	"net/http"
	"net/url"
)

// AdminStore manages accounts. Every call needs a session whose user is an
// admin; the backend answers 403 otherwise.
type AdminStore struct {
	api *apiClient
}

func NewAdminStore(opts Options, creds Credentials) *AdminStore {
	return &AdminStore{api: newAPI(opts, creds)}
}

func userPath(id string) string {
	return "/api/admin/users/" + url.PathEscape(id)
}

func (s *AdminStore) Users(ctx context.Context) ([]User, error) {
	req, err := s.api.newRequest(ctx, http.MethodGet, "/api/admin/users", nil)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := s.api.do(req, "list users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *AdminStore) User(ctx context.Context, id string) (*User, error) {
	req, err := s.api.newRequest(ctx, http.MethodGet, userPath(id), nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := s.api.do(req, "get user", &u); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

// Conversations lists the metadata of another user's conversations. The
// backend returns an empty list for unknown users.
func (s *AdminStore) Conversations(ctx context.Context, id string) ([]Conversation, error) {
	req, err := s.api.newRequest(ctx, http.MethodGet, userPath(id)+"/conversations", nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := s.api.do(req, "list user conversations", &convs); err != nil {
		return nil, notFound(err, "user", id)
	}
	return convs, nil
}

func (s *AdminStore) DeleteUser(ctx context.Context, id string) error {
	req, err := s.api.newRequest(ctx, http.MethodDelete, userPath(id), nil)
	if err != nil {
		return err
	}
	return notFound(s.api.do(req, "delete user", nil), "user", id)
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (s *AdminStore) ResetPassword(ctx context.Context, id, newPassword string) error {
	req, err := s.api.newRequest(ctx, http.MethodPost, userPath(id)+"/reset-password", resetPasswordRequest{NewPassword: newPassword})
	if err != nil {
		return err
	}
	return notFound(s.api.do(req, "reset password", nil), "user", id)
}
