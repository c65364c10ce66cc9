package tests

import (
	"time"

	"github.com/sakashimaa/go-order-saga/services/auth/internal/domain"
	"github.com/sakashimaa/go-order-saga/services/auth/internal/repository"
)

func (s *IntegrationTestSuite) TestLogin_Success() {
	user := s.createUser("test@example.com", "supersecret123qwe", true)

	token, expiresAt, err := s.AuthService.Login(s.Ctx, "test@example.com", "supersecret123qwe")
	s.Require().NoError(err)
	s.Require().True(expiresAt.After(time.Now()))

	claims, err := s.Tokens.Validate(token)
	s.Require().NoError(err)
	s.Require().Equal(user.ID, claims.UserID)
}

func (s *IntegrationTestSuite) TestLogin_Failure() {
	s.createUser("test@example.com", "supersecret123qwe", true)

	_, _, err := s.AuthService.Login(s.Ctx, "invalid@example.com", "supersecret123qwe")
	s.Require().ErrorIs(err, domain.ErrInvalidCredentials)

	_, _, err = s.AuthService.Login(s.Ctx, "test@example.com", "invalidsecret")
	s.Require().ErrorIs(err, domain.ErrInvalidCredentials)
}

func (s *IntegrationTestSuite) TestCreate_DuplicateEmail() {
	s.createUser("test@example.com", "supersecret123qwe", true)

	_, err := s.Users.Create(s.Ctx, &domain.User{Email: "test@example.com", Password: "x"})
	s.Require().ErrorIs(err, repository.ErrUserAlreadyExists)
}

func (s *IntegrationTestSuite) TestVerifyToken_FollowsActivation() {
	user := s.createUser("test@example.com", "supersecret123qwe", true)

	token, _, err := s.Tokens.Generate(user.ID)
	s.Require().NoError(err)

	res, err := s.AuthService.VerifyToken(s.Ctx, token)
	s.Require().NoError(err)
	s.Require().True(res.Valid)
	s.Require().Equal(user.ID, res.UserID)

	_, err = s.DbPool.Exec(s.Ctx, `UPDATE users SET is_activated = FALSE WHERE id = $1`, user.ID)
	s.Require().NoError(err)

	res, err = s.AuthService.VerifyToken(s.Ctx, token)
	s.Require().NoError(err)
	s.Require().False(res.Valid)
}

func (s *IntegrationTestSuite) TestVerifyToken_DeletedUser() {
	user := s.createUser("test@example.com", "supersecret123qwe", true)

	token, _, err := s.Tokens.Generate(user.ID)
	s.Require().NoError(err)

	_, err = s.DbPool.Exec(s.Ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	s.Require().NoError(err)

	res, err := s.AuthService.VerifyToken(s.Ctx, token)
	s.Require().NoError(err)
	s.Require().False(res.Valid)
}
