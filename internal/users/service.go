package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service はユーザーの作成と認証を担うサービスです。
// パスワードのハッシュ化と照合はこのサービスの内部で完結します。
type Service struct {
	store  Store
	cost   int
	logger *zap.Logger
}

// NewService は Service を作成します。cost が 0 の場合は bcrypt.DefaultCost を使います。
func NewService(store Store, cost int, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		cost:   cost,
		logger: logger.Named("users.service"),
	}, nil
}

// Signup はパスワードをハッシュ化してユーザーを作成します。
// 重複がある場合は ErrUsernameTaken または ErrEmailTaken を返します。
func (s *Service) Signup(ctx context.Context, in SignupInput) (_ *User, err error) {
	log := s.logger.With(zap.String("username", in.Username))

	defer func() {
		if err != nil {
			log.Warn("signup failed", zap.Error(err))
		} else {
			log.Debug("user created")
		}
	}()

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.Create(ctx, NewUser{
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login はユーザー名またはメールアドレスとパスワードで認証します。
// 認証に失敗した場合はエラーではなく (nil, nil) を返します。
func (s *Service) Login(ctx context.Context, in LoginInput) (*User, error) {
	user, err := s.store.FindByCredential(ctx, in.Credential)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		s.logger.Debug("login rejected: unknown credential")
		return nil, nil
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(in.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Debug("login rejected: password mismatch", zap.String("userId", user.ID))
			return nil, nil
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}
	return user, nil
}

// FindByUsername はユーザー名でユーザーを検索します。
func (s *Service) FindByUsername(ctx context.Context, username string) (*User, error) {
	return s.store.FindByUsername(ctx, username)
}

// FindByEmail はメールアドレスでユーザーを検索します。
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.store.FindByEmail(ctx, email)
}

// FindByID はIDでユーザーを検索します。
func (s *Service) FindByID(ctx context.Context, id string) (*User, error) {
	return s.store.FindByID(ctx, id)
}

// UpdateProfile は氏名をまとめて1回で更新します。
func (s *Service) UpdateProfile(ctx context.Context, id string, profile Profile) (*User, error) {
	user, err := s.store.UpdateProfile(ctx, id, profile)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}
