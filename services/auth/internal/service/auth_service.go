package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakashimaa/go-order-saga/pkg/mylogger"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/repository"
	"github.com/sakashimaa/go-order-saga/services/auth/pkg/utils"
	"github.com/sakashimaa/go-order-saga/services/auth/pkg/validator"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (string, time.Time, error)
	VerifyToken(ctx context.Context, token string) (*domain.Verification, error)
}

type TokenManager interface {
	Generate(userID int64) (string, time.Time, error)
	Validate(token string) (*utils.Claims, error)
}

type authService struct {
	userRepo  repository.UserRepository
	tokens    TokenManager
	validator validator.Validator
	logger    *zap.Logger
}

func NewAuthService(
	userRepo repository.UserRepository,
	tokens TokenManager,
	validator validator.Validator,
	logger *zap.Logger,
) AuthService {
	return &authService{
		userRepo:  userRepo,
		tokens:    tokens,
		validator: validator,
		logger:    logger,
	}
}

func (s *authService) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := s.validator.ValidateCredentials(email, password); err != nil {
		return "", time.Time{}, err
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			mylogger.Info(ctx, s.logger, "Login for unknown email", zap.String("email", email))
			return "", time.Time{}, domain.ErrInvalidCredentials
		}

		return "", time.Time{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		mylogger.Info(ctx, s.logger, "Login with wrong password", zap.Int64("user_id", user.ID))
		return "", time.Time{}, domain.ErrInvalidCredentials
	}

	if !user.IsActivated {
		return "", time.Time{}, domain.ErrUserNotActivated
	}

	token, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error generating token",
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)

		return "", time.Time{}, fmt.Errorf("error generating token: %w", err)
	}

	return token, expiresAt, nil
}

// VerifyToken answers Valid=false for any credential that does not map to an
// existing activated user. Only storage failures are returned as errors.
func (s *authService) VerifyToken(ctx context.Context, token string) (*domain.Verification, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		mylogger.Debug(ctx, s.logger, "Token rejected", zap.Error(err))
		return &domain.Verification{Valid: false}, nil
	}

	user, err := s.userRepo.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			mylogger.Warn(ctx, s.logger, "Token for unknown user", zap.Int64("user_id", claims.UserID))
			return &domain.Verification{Valid: false}, nil
		}

		return nil, err
	}

	if !user.IsActivated {
		return &domain.Verification{UserID: user.ID, Valid: false}, nil
	}

	return &domain.Verification{
		UserID:    user.ID,
		Valid:     true,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
