package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guo-collabhash/SIweidaotu/internal/common"
	"github.com/Guo-collabhash/SIweidaotu/pkg/config"
	"github.com/Guo-collabhash/SIweidaotu/pkg/types"
	"github.com/Guo-collabhash/SIweidaotu/pkg/utils"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken is returned when registering with an email that
	// already belongs to an account
	ErrEmailTaken = errors.New("email is already registered")

	// ErrInvalidCredentials is returned for both unknown email and wrong
	// password so the two cases are indistinguishable to the caller
	ErrInvalidCredentials = errors.New("user does not exist or password is incorrect")
)

// Service handles account registration and login
type Service struct {
	db     *common.Database
	config *config.AuthConfig
}

// NewService creates a new accounts service
func NewService(db *common.Database, config *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		config: config,
	}
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error) {
	var existing types.User
	err := s.db.WithContext(ctx).Where("email = ?", req.Email).First(&existing).Error
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hashed, err := utils.HashPassword(req.Password, s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Email:    req.Email,
		Username: req.Username,
		Password: hashed,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Info().
		Str("user_id", user.ID.String()).
		Str("email", user.Email).
		Msg("registered new user")

	// Never return the hash
	user.Password = ""
	return user, nil
}

// Login verifies credentials and returns the matching user
func (s *Service) Login(ctx context.Context, req *types.LoginRequest) (*types.User, error) {
	var user types.User
	if err := s.db.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	user.Password = ""
	return &user, nil
}
