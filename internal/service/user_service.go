package service

import (
	"context"
	"strings"

	"github.com/Baaaki/teamchat/internal/database"
	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/repository"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type UserService struct {
	users    *repository.UserRepository
	presence *PresenceService
}

func NewUserService(users *repository.UserRepository, presence *PresenceService) *UserService {
	return &UserService{users: users, presence: presence}
}

// DirectoryEntry is a user as shown in the people directory.
type DirectoryEntry struct {
	models.User
	Presence UserStatus `json:"presence"`
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

type UpdateProfileInput struct {
	DisplayName   *string        `json:"display_name"`
	DisplayNameAr *string        `json:"display_name_ar"`
	Department    *string        `json:"department"`
	Position      *string        `json:"position"`
	PositionAr    *string        `json:"position_ar"`
	Locale        *models.Locale `json:"locale"`
}

// UpdateProfile applies the non-nil fields to the caller's profile.
func (s *UserService) UpdateProfile(ctx context.Context, callerID uuid.UUID, in UpdateProfileInput) (*models.User, error) {
	fields := map[string]any{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if n := len([]rune(name)); n < 2 || n > 100 {
			return nil, validationError("Display name must be between 2 and 100 characters", "يجب أن يكون الاسم بين 2 و 100 حرف")
		}
		fields["display_name"] = name
	}
	if in.DisplayNameAr != nil {
		name := strings.TrimSpace(*in.DisplayNameAr)
		if len([]rune(name)) > 100 {
			return nil, validationError("Arabic display name is too long", "الاسم العربي طويل جداً")
		}
		fields["display_name_ar"] = name
	}
	if in.Department != nil {
		fields["department"] = strings.TrimSpace(*in.Department)
	}
	if in.Position != nil {
		fields["position"] = strings.TrimSpace(*in.Position)
	}
	if in.PositionAr != nil {
		fields["position_ar"] = strings.TrimSpace(*in.PositionAr)
	}
	if in.Locale != nil {
		if !in.Locale.Valid() {
			return nil, validationError("Unsupported language", "اللغة غير مدعومة")
		}
		fields["locale"] = *in.Locale
	}

	if len(fields) > 0 {
		fields["updated_at"] = database.Now()
		ok, err := s.users.Update(ctx, callerID, fields)
		if err != nil {
			return nil, storeError(err)
		}
		if !ok {
			return nil, ErrUserNotFound
		}
	}
	return s.Get(ctx, callerID)
}

// SetPushToken registers the device token used for push delivery. An empty
// token revokes push.
func (s *UserService) SetPushToken(ctx context.Context, callerID uuid.UUID, token string) error {
	token = strings.TrimSpace(token)
	if len(token) > 500 {
		return validationError("Push token is too long", "رمز الإشعارات طويل جداً")
	}
	ok, err := s.users.Update(ctx, callerID, map[string]any{"push_token": token})
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

// Directory lists active users with their resolved presence.
func (s *UserService) Directory(ctx context.Context) ([]DirectoryEntry, error) {
	users, err := s.users.ListActive(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	statuses := map[uuid.UUID]UserStatus{}
	if s.presence != nil {
		list, err := s.presence.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, st := range list {
			statuses[st.UserID] = st
		}
	}

	out := make([]DirectoryEntry, 0, len(users))
	for _, u := range users {
		st, ok := statuses[u.ID]
		if !ok {
			st = UserStatus{UserID: u.ID, Status: models.StatusOffline}
		}
		out = append(out, DirectoryEntry{User: u, Presence: st})
	}
	return out, nil
}

// ListAll returns every user including deactivated ones.
func (s *UserService) ListAll(ctx context.Context) ([]models.User, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return users, nil
}

// SetActive deactivates or reactivates an account. Users are never deleted.
func (s *UserService) SetActive(ctx context.Context, adminID, userID uuid.UUID, active bool) error {
	if adminID == userID && !active {
		return validationError("You cannot deactivate your own account", "لا يمكنك تعطيل حسابك")
	}
	ok, err := s.users.SetActive(ctx, userID, active)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return ErrUserNotFound
	}

	logger.Log.Info("User activation changed",
		zap.String("user_id", userID.String()),
		zap.String("admin_id", adminID.String()),
		zap.Bool("active", active),
	)
	if !active && s.presence != nil {
		s.presence.Offline(ctx, userID)
	}
	return nil
}

// DeactivateBulk deactivates several users and returns how many changed.
func (s *UserService) DeactivateBulk(ctx context.Context, adminID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, validationError("No user ids provided", "لم يتم تحديد أي مستخدم")
	}
	changed := 0
	for _, id := range ids {
		if id == adminID {
			continue
		}
		ok, err := s.users.SetActive(ctx, id, false)
		if err != nil {
			return changed, storeError(err)
		}
		if ok {
			changed++
		}
	}
	logger.Log.Info("Users deactivated",
		zap.String("admin_id", adminID.String()),
		zap.Int("count", changed),
	)
	return changed, nil
}
