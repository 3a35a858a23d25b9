package api

import (
	"errors"
	"net/http"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/auth"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/logging"

	"go.uber.org/zap"
)

type createAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type updateAccountRequest struct {
	Name     *string `json:"name"`
	Password *string `json:"password"`
	Status   *string `json:"status"`
}

// accountCreated is returned by the create endpoint. It carries the token
// but never the password.
type accountCreated struct {
	ID       int64          `json:"id"`
	Username string         `json:"username"`
	Name     string         `json:"name,omitempty"`
	Status   account.Status `json:"status"`
	Token    string         `json:"token"`
}

type tokenUsage struct {
	Token   string `json:"token"`
	Type    string `json:"type"`
	Expires string `json:"expires"`
	UseWith string `json:"use_with"`
}

// handleCreateAccount registers an account, or refreshes an existing one
// with the same username.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !s.bindJSON(w, r, &req) {
		return
	}
	if err := requireFields(field{"username", req.Username}, field{"password", req.Password}); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := checkField(field{"name", req.Name}); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	existing, err := s.deps.Accounts.FindByUsername(ctx, req.Username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if existing != nil {
		s.refreshAccount(w, r, existing, req.Password)
		return
	}

	token, err := account.GenerateToken(req.Username, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc := &account.Account{
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
		Status:   account.StatusActive,
		Token:    token,
	}
	id, err := s.deps.Accounts.Create(ctx, acc)
	if errors.Is(err, account.ErrDuplicateUsername) {
		s.writeError(w, r, apperr.Conflict("username already exists"))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logging.FromContext(ctx, s.logger).Info("Account created", zap.Int64("id", id), zap.String("username", req.Username))
	writeJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "account created",
		Data: accountCreated{
			ID:       id,
			Username: req.Username,
			Name:     req.Name,
			Status:   account.StatusActive,
			Token:    token,
		},
		Auth: tokenUsage{
			Token:   token,
			Type:    "Bearer",
			Expires: "never",
			UseWith: "Authorization: Bearer header, X-API-Key header or ?token= query parameter",
		},
	})
}

// refreshAccount handles a create request for a username that already
// exists. The token is always rotated. A new password is stored and used
// for a fresh backend login; the same password triggers a status probe.
func (s *Server) refreshAccount(w http.ResponseWriter, r *http.Request, existing *account.Account, password string) {
	ctx := r.Context()
	logger := logging.FromContext(ctx, s.logger)

	token, err := account.GenerateToken(existing.Username, existing.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data := accountCreated{
		ID:       existing.ID,
		Username: existing.Username,
		Name:     existing.Name,
		Status:   existing.Status,
		Token:    token,
	}

	if existing.Password != password {
		if _, err := s.deps.Accounts.Update(ctx, existing.ID, account.Update{Password: &password, Token: &token}); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.deps.Service.Logout(existing.Username)

		updated, err := s.deps.Accounts.FindByID(ctx, existing.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if updated != nil {
			res := s.deps.Service.Login(ctx, updated)
			logger.Info("Password updated, relogin attempted",
				zap.String("username", existing.Username),
				zap.Bool("success", res.Success),
			)
		}

		writeJSON(w, http.StatusOK, envelope{
			Success: true,
			Message: "password updated and logged in again",
			Data:    data,
		})
		return
	}

	status := s.deps.Service.CheckLoginStatus(ctx, existing)
	if _, err := s.deps.Accounts.Update(ctx, existing.ID, account.Update{Token: &token}); err != nil {
		s.writeError(w, r, err)
		return
	}

	msg := status.Message
	if !status.Success && status.ErrorType == bank.ErrorInvalidCredentials {
		msg = "the password may have changed at the bank, please update it"
	}
	writeJSON(w, http.StatusOK, envelope{
		Success:   status.Success,
		Message:   msg,
		Data:      data,
		ErrorType: string(status.ErrorType),
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Accounts.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	views := make([]account.View, 0, len(all))
	for _, a := range all {
		views = append(views, a.Public())
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: views})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, r, apperr.NotFound("account not found"))
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: acc.PublicNoToken()})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: acc.Public()})
}

// handleUpdateAccount applies a partial update. A password change rotates
// the token and drops the cached banking session.
func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}

	var req updateAccountRequest
	if !s.bindJSON(w, r, &req) {
		return
	}

	var u account.Update
	if req.Name != nil {
		if err := checkField(field{"name", *req.Name}); err != nil {
			s.writeError(w, r, err)
			return
		}
		u.Name = req.Name
	}
	if req.Status != nil {
		st := account.Status(*req.Status)
		if !st.Valid() {
			s.writeError(w, r, apperr.BadRequest("status must be one of active, inactive, locked"))
			return
		}
		u.Status = &st
	}
	if req.Password != nil {
		if err := requireFields(field{"password", *req.Password}); err != nil {
			s.writeError(w, r, err)
			return
		}
		token, err := account.GenerateToken(acc.Username, acc.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		u.Password = req.Password
		u.Token = &token
	}
	if u.Empty() {
		s.writeError(w, r, apperr.BadRequest("no data to update"))
		return
	}

	updated, err := s.deps.Accounts.Update(r.Context(), acc.ID, u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !updated {
		s.writeError(w, r, apperr.BadRequest("no data to update"))
		return
	}
	if u.Password != nil {
		s.deps.Service.Logout(acc.Username)
	}

	u.Apply(acc)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "account updated", Data: acc.Public()})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}

	deleted, err := s.deps.Accounts.Delete(r.Context(), acc.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !deleted {
		s.writeError(w, r, apperr.NotFound("account not found"))
		return
	}
	s.deps.Service.Logout(acc.Username)

	logging.FromContext(r.Context(), s.logger).Info("Account deleted", zap.Int64("id", acc.ID))
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "account deleted"})
}

// accountByID resolves the {id} path variable. It renders the failure and
// returns false when the id is invalid or unknown.
func (s *Server) accountByID(w http.ResponseWriter, r *http.Request) (*account.Account, bool) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	acc, err := s.deps.Accounts.FindByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if acc == nil {
		s.writeError(w, r, apperr.NotFound("account not found"))
		return nil, false
	}
	return acc, true
}
