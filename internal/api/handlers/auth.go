package handlers

import (
	"net/http"

	"github.com/aistylehub/tokenledger/internal/api/httpx"
	"github.com/aistylehub/tokenledger/internal/api/validate"
	"github.com/aistylehub/tokenledger/internal/services"
)

type AuthHandler struct {
	accounts *services.AccountService
}

func NewAuthHandler(a *services.AccountService) *AuthHandler {
	return &AuthHandler{accounts: a}
}

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "malformed request body", nil)
		return
	}
	var errs validate.Errs
	if e := validate.Required("email", req.Email); e != nil {
		errs = append(errs, *e)
	} else if e := validate.Email("email", req.Email); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.Required("password", req.Password); e != nil {
		errs = append(errs, *e)
	} else if e := validate.MinInt("password_length", int64(len(req.Password)), 8); e != nil {
		errs = append(errs, *e)
	}
	if len(errs) > 0 {
		writeServiceError(w, errs)
		return
	}

	res, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := httpx.Decode(r, &req); err != nil || req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "email and password are required", nil)
		return
	}
	pair, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := httpx.Decode(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "bad_json", "refresh_token is required", nil)
		return
	}
	pair, err := h.accounts.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pair)
}
