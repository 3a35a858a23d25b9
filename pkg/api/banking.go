package api

import (
	"net/http"

	"bank-gateway/pkg/account"
	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/auth"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/session"
)

// handleLogin forces a backend login for the account with the given id.
// It is reachable without a credential.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}

	res := s.deps.Service.Login(r.Context(), acc)
	if !res.Success {
		writeJSON(w, http.StatusUnauthorized, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if acc, ok := s.accountByID(w, r); ok {
		s.writeStatus(w, r, acc)
	}
}

func (s *Server) handleMyStatus(w http.ResponseWriter, r *http.Request) {
	if acc, ok := s.principal(w, r); ok {
		s.writeStatus(w, r, acc)
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, acc *account.Account) {
	res := s.deps.Service.CheckLoginStatus(r.Context(), acc)
	if res.Success {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if res.ErrorType == bank.ErrorInvalidCredentials {
		res = session.Result{
			Success:   false,
			Message:   "wrong username or password, please update the stored credentials",
			ErrorType: res.ErrorType,
		}
	}
	writeJSON(w, http.StatusUnauthorized, res)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if acc, ok := s.accountByID(w, r); ok {
		s.writeBalance(w, r, acc)
	}
}

func (s *Server) handleMyBalance(w http.ResponseWriter, r *http.Request) {
	if acc, ok := s.principal(w, r); ok {
		s.writeBalance(w, r, acc)
	}
}

func (s *Server) writeBalance(w http.ResponseWriter, r *http.Request, acc *account.Account) {
	data, err := s.deps.Service.GetBalance(r.Context(), acc)
	if err != nil {
		s.writeBankError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}
	params, err := transactionParams(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransactions(w, r, acc, params)
}

func (s *Server) handleMyTransactions(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.principal(w, r)
	if !ok {
		return
	}
	params, err := transactionParams(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransactions(w, r, acc, params)
}

func (s *Server) handleTransactionsByDays(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}
	params, err := daysParams(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransactions(w, r, acc, params)
}

func (s *Server) handleMyTransactionsByDays(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.principal(w, r)
	if !ok {
		return
	}
	params, err := daysParams(r.URL.Query(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeTransactions(w, r, acc, params)
}

func (s *Server) writeTransactions(w http.ResponseWriter, r *http.Request, acc *account.Account, params bank.TransactionParams) {
	data, err := s.deps.Service.GetTransactionHistory(r.Context(), acc, params)
	if err != nil {
		s.writeBankError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.accountByID(w, r)
	if !ok {
		return
	}
	s.deps.Service.Logout(acc.Username)
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "logged out"})
}

// principal returns the authenticated account for /me routes.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (*account.Account, bool) {
	acc, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		s.writeError(w, r, apperr.Unauthorized("no credential presented"))
		return nil, false
	}
	return acc, true
}
