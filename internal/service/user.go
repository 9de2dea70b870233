package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/models"
	"chatrelay/internal/store"

	"github.com/rs/zerolog/log"
)

// UserService 封装登录与管理员初始化。
type UserService struct {
	st  *store.Store
	cfg config.Config
}

func NewUserService(st *store.Store, cfg config.Config) *UserService {
	return &UserService{st: st, cfg: cfg}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"-"`
}

// Login 签发访问令牌。设置过密码的用户（管理员）必须校验密码，
// 其他名字首次出现时自动创建。
func (s *UserService) Login(ctx context.Context, name, password string) (*LoginResult, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 64 {
		return nil, ErrInvalidName
	}

	var user *models.User
	if s.isAdminName(name) {
		u, err := s.st.FindUserByName(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}
		user = u
	} else {
		u, err := s.st.ResolveOrCreateUser(ctx, name)
		if err != nil {
			return nil, err
		}
		user = u
	}
	if user.PasswordHash != "" || user.Role == models.RoleAdmin {
		if !auth.VerifyPassword(user.PasswordHash, password) {
			return nil, ErrInvalidCredentials
		}
	}

	at, err := auth.GenerateAccessToken(*user, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{AccessToken: at, User: *user}, nil
}

func (s *UserService) isAdminName(name string) bool {
	return s.cfg.AdminName != "" && strings.EqualFold(name, s.cfg.AdminName)
}

// EnsureAdmin 按配置创建或更新管理员账号，未配置密码时跳过。
func (s *UserService) EnsureAdmin(ctx context.Context) error {
	if s.cfg.AdminName == "" || s.cfg.AdminPassword == "" {
		log.Warn().Msg("admin account not configured, room management disabled")
		return nil
	}
	hash, err := auth.HashPassword(s.cfg.AdminPassword)
	if err != nil {
		return err
	}
	if err := s.st.SaveAdmin(ctx, s.cfg.AdminName, hash); err != nil {
		return err
	}
	log.Info().Str("admin", s.cfg.AdminName).Msg("admin account ready")
	return nil
}
