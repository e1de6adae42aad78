package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/internal/utils"
	"github.com/Baaaki/teamchat/pkg/logger"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthService issues credentials for local deployments without an external
// identity provider.
type AuthService struct {
	userRepo      *repository.UserRepository
	channels      *ChannelService
	jwtSecret     string
	jwtExpiration time.Duration
	environment   string
	hashParams    utils.Argon2Params
}

func NewAuthService(userRepo *repository.UserRepository, channels *ChannelService, jwtSecret string, jwtExpiration time.Duration, environment string) *AuthService {
	return &AuthService{
		userRepo:      userRepo,
		channels:      channels,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		environment:   environment,
		hashParams:    utils.DefaultParams,
	}
}

// WithHashParams overrides the Argon2 parameters used for new passwords.
func (s *AuthService) WithHashParams(p utils.Argon2Params) *AuthService {
	s.hashParams = p
	return s
}

// IsProduction returns true if running in production environment
func (s *AuthService) IsProduction() bool {
	return s.environment == "production"
}

// TokenTTL is the lifetime of issued tokens.
func (s *AuthService) TokenTTL() time.Duration {
	return s.jwtExpiration
}

type RegisterInput struct {
	Email         string        `json:"email" binding:"required"`
	Password      string        `json:"password" binding:"required"`
	DisplayName   string        `json:"display_name" binding:"required"`
	DisplayNameAr string        `json:"display_name_ar"`
	Department    string        `json:"department"`
	Position      string        `json:"position"`
	PositionAr    string        `json:"position_ar"`
	Locale        models.Locale `json:"locale"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	start := time.Now()
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.DisplayNameAr = strings.TrimSpace(in.DisplayNameAr)
	if in.Locale == "" {
		in.Locale = models.LocaleEnglish
	}

	logger.Log.Debug("Processing user registration", zap.String("email", in.Email))

	// 1. Validate input
	if err := validateRegisterInput(in); err != nil {
		logger.Log.Warn("Registration validation failed",
			zap.String("email", in.Email),
			zap.Error(err),
		)
		return nil, "", err
	}

	// 2. Check if email already exists
	existingUser, err := s.userRepo.GetByEmail(ctx, in.Email)
	if err != nil {
		logger.Log.Error("Failed to check email existence",
			zap.String("email", in.Email),
			zap.Error(err),
		)
		return nil, "", storeError(err)
	}
	if existingUser != nil {
		logger.Log.Warn("Email already exists", zap.String("email", in.Email))
		return nil, "", ErrEmailAlreadyExists
	}

	// 3. Hash password (Argon2)
	hashStart := time.Now()
	hashedPassword, err := utils.HashPasswordWith(in.Password, s.hashParams)
	if err != nil {
		logger.Log.Error("Failed to hash password", zap.Error(err))
		return nil, "", RetryPrompt
	}
	hashDuration := time.Since(hashStart)

	// 4. Create user
	user := &models.User{
		Email:         in.Email,
		PasswordHash:  hashedPassword,
		DisplayName:   in.DisplayName,
		DisplayNameAr: in.DisplayNameAr,
		Department:    strings.TrimSpace(in.Department),
		Position:      strings.TrimSpace(in.Position),
		PositionAr:    strings.TrimSpace(in.PositionAr),
		Role:          models.RoleEmployee,
		Locale:        in.Locale,
		IsActive:      true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		logger.Log.Error("Failed to create user in database",
			zap.String("email", in.Email),
			zap.Error(err),
		)
		return nil, "", storeError(err)
	}

	// 5. Join default channels; the account is usable without them
	if s.channels != nil {
		if err := s.channels.JoinDefaults(ctx, user.ID); err != nil {
			logger.Log.Warn("Failed to join default channels",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
		}
	}

	// 6. Generate JWT token
	token, err := utils.GenerateToken(user, s.jwtSecret, s.jwtExpiration)
	if err != nil {
		logger.Log.Error("Failed to generate JWT token",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return nil, "", RetryPrompt
	}

	logger.Log.Info("User registered successfully",
		zap.String("user_id", user.ID.String()),
		zap.String("email", in.Email),
		zap.Duration("hash_duration", hashDuration),
		zap.Duration("total_duration", time.Since(start)),
	)
	return user, token, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	start := time.Now()
	email = strings.ToLower(strings.TrimSpace(email))

	// 1. Get user by email
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		logger.Log.Error("Failed to get user by email",
			zap.String("email", email),
			zap.Error(err),
		)
		return nil, "", storeError(err)
	}
	if user == nil {
		logger.Log.Warn("Login failed: user not found", zap.String("email", email))
		return nil, "", ErrInvalidCredentials
	}

	// 2. Verify password
	verifyStart := time.Now()
	valid, err := utils.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		logger.Log.Error("Failed to verify password",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return nil, "", ErrInvalidCredentials
	}
	verifyDuration := time.Since(verifyStart)

	if !valid {
		logger.Log.Warn("Login failed: invalid password",
			zap.String("email", email),
			zap.String("user_id", user.ID.String()),
		)
		return nil, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		logger.Log.Warn("Login failed: account deactivated", zap.String("user_id", user.ID.String()))
		return nil, "", ErrAccountDeactivated
	}

	// 3. Generate JWT token
	token, err := utils.GenerateToken(user, s.jwtSecret, s.jwtExpiration)
	if err != nil {
		logger.Log.Error("Failed to generate JWT token",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
		return nil, "", RetryPrompt
	}

	logger.Log.Info("User logged in successfully",
		zap.String("user_id", user.ID.String()),
		zap.Duration("password_verify_duration", verifyDuration),
		zap.Duration("total_duration", time.Since(start)),
	)
	return user, token, nil
}

func validateRegisterInput(in RegisterInput) error {
	n := len([]rune(in.DisplayName))
	if n < 2 || n > 100 {
		return validationError("Display name must be between 2 and 100 characters", "يجب أن يكون الاسم بين 2 و 100 حرف")
	}
	if len([]rune(in.DisplayNameAr)) > 100 {
		return validationError("Arabic display name is too long", "الاسم العربي طويل جداً")
	}
	if !emailRegex.MatchString(in.Email) || len(in.Email) > 100 {
		return validationError("Invalid email format", "صيغة البريد الإلكتروني غير صحيحة")
	}
	if len(in.Password) < 8 {
		return validationError("Password must be at least 8 characters", "يجب أن تتكون كلمة المرور من 8 أحرف على الأقل")
	}
	if len(in.Password) > 128 {
		return validationError("Password is too long", "كلمة المرور طويلة جداً")
	}
	if !in.Locale.Valid() {
		return validationError("Unsupported language", "اللغة غير مدعومة")
	}
	return nil
}
