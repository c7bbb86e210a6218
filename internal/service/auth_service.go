package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"rental-marketplace/internal/apperrors"
	"rental-marketplace/internal/auth"
	"rental-marketplace/internal/models"
	"rental-marketplace/internal/redisclient"
	"rental-marketplace/internal/store"
	"rental-marketplace/internal/util"

	"go.uber.org/zap"
)

const (
	loginAttemptsPerWindow = 10
	loginWindow            = 15 * time.Minute
)

// AuthService handles registration, login and profiles
type AuthService struct {
	users   UserStore
	tokens  *auth.Tokens
	limiter RateLimiter
	logger  *zap.Logger
}

// NewAuthService creates a new auth service. limiter may be nil.
func NewAuthService(users UserStore, tokens *auth.Tokens, limiter RateLimiter) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		limiter: limiter,
		logger:  util.GetLogger(),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	FullName string `json:"full_name" binding:"required,max=120"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdateProfileRequest changes only the fields that are set
type UpdateProfileRequest struct {
	FullName  *string `json:"full_name" binding:"omitempty,min=1,max=120"`
	Phone     *string `json:"phone" binding:"omitempty,max=32"`
	Bio       *string `json:"bio" binding:"omitempty,max=2000"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,url"`
}

type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs the user in
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Register")
	defer span.End()

	if len(req.Password) < auth.MinPasswordLength {
		return nil, apperrors.Validation("Password must be at least 8 characters")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.Internal("Failed to hash password", err)
	}

	user := &models.User{
		Email:        normalizeEmail(req.Email),
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperrors.Conflict("Email is already registered")
		}
		util.RecordError(span, err)
		return nil, apperrors.Internal("Failed to create user", err)
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID))
	return s.issue(user)
}

// Login verifies credentials. Attempts are rate limited per email.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.Login")
	defer span.End()

	email := normalizeEmail(req.Email)

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, redisclient.RateLimitKey("login", email), loginAttemptsPerWindow, loginWindow)
		if err != nil {
			s.logger.Warn("Login rate limiter unavailable", zap.Error(err))
		} else if !ok {
			return nil, apperrors.TooManyRequests("Too many login attempts, try again later")
		}
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.Unauthorized("Invalid email or password")
		}
		return nil, apperrors.Internal("Failed to load user", err)
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return nil, apperrors.Unauthorized("Invalid email or password")
	}

	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*AuthResponse, error) {
	token, expires, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperrors.Internal("Failed to issue token", err)
	}
	return &AuthResponse{Token: token, ExpiresAt: expires, User: user}, nil
}

// GetProfile returns the user's account
func (s *AuthService) GetProfile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

// UpdateProfile applies the set fields of req
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, req *UpdateProfileRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.UpdateProfile")
	defer span.End()

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user")
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, apperrors.Validation("Full name cannot be empty")
		}
		user.FullName = name
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Bio != nil {
		user.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		user.AvatarURL = *req.AvatarURL
	}

	if err := s.users.UpdateUserProfile(ctx, user); err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}
