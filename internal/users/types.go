// Package users はアカウント作成・ログインのワークフローと HTTP ハンドラーを提供します。
package users

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUserAlreadyExists はユーザー名またはメールアドレスが既に使われている場合に返されます。
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUsernameTaken はユーザー名の重複を表します（ErrUserAlreadyExists を含みます）。
	ErrUsernameTaken = fmt.Errorf("username taken: %w", ErrUserAlreadyExists)
	// ErrEmailTaken はメールアドレスの重複を表します（ErrUserAlreadyExists を含みます）。
	ErrEmailTaken = fmt.Errorf("email taken: %w", ErrUserAlreadyExists)
	// ErrUserNotFound は該当ユーザーが存在しない場合に返されます。
	ErrUserNotFound = errors.New("user not found")
)

// User は認証済みユーザーを表します。レスポンスにそのまま埋め込める形です。
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"` // アクティビティジョブが更新する
	PasswordHash []byte     `json:"-"`
}

// SignupInput は /api/users および /api/users/Signup のリクエストボディです。
type SignupInput struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	Password  string `json:"password"`
}

// LoginInput は /api/users/login のリクエストボディです。
type LoginInput struct {
	Credential string `json:"credential"`
	Password   string `json:"password"`
}

// Profile はユーザー作成後に更新するプロフィール項目です。
type Profile struct {
	FirstName string
	LastName  string
}

// NewUser はストアに保存するための新規ユーザーです。
type NewUser struct {
	Email        string
	Username     string
	PasswordHash []byte
}

// Store はユーザーの永続化を担います。
type Store interface {
	// Create は新しいユーザーを保存します。
	// ユーザー名の重複は ErrUsernameTaken、メールアドレスの重複は ErrEmailTaken を返します。
	Create(ctx context.Context, user NewUser) (*User, error)
	// FindByID / FindByUsername / FindByEmail は見つからない場合 (nil, nil) を返します。
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByCredential はユーザー名またはメールアドレスで検索します。
	FindByCredential(ctx context.Context, credential string) (*User, error)
	UpdateProfile(ctx context.Context, id string, profile Profile) (*User, error)
	// TouchLogin は最終ログイン日時を記録します。
	TouchLogin(ctx context.Context, id string, at time.Time) error
	Close() error
}
