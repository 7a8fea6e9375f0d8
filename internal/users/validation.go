package users

import (
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Rule は1つの入力ルールです。Check が false を返すと Message がエラー一覧に追加されます。
type Rule[T any] struct {
	Message string
	Check   func(in T) bool
}

var validate = validator.New()

// isEmail は validator の email ルールでアドレス形式を判定します。
func isEmail(value string) bool {
	return value != "" && validate.Var(value, "email") == nil
}

// hasMinLength は値が存在し、かつ n 文字以上であるかを判定します。
func hasMinLength(value string, n int) bool {
	return value != "" && validate.Var(value, "min="+strconv.Itoa(n)) == nil
}

func present(value string) bool {
	return value != ""
}

// SignupRules は基本サインアップの入力ルールです。
var SignupRules = []Rule[SignupInput]{
	{
		Message: "Please provide a valid email.",
		Check:   func(in SignupInput) bool { return isEmail(in.Email) },
	},
	{
		Message: "Please provide a username with at least 4 characters.",
		Check:   func(in SignupInput) bool { return hasMinLength(in.Username, 4) },
	},
	{
		Message: "Username cannot be an email.",
		Check:   func(in SignupInput) bool { return !isEmail(in.Username) },
	},
	{
		Message: "Password must be 6 characters or more.",
		Check:   func(in SignupInput) bool { return hasMinLength(in.Password, 6) },
	},
}

// ProfileSignupRules は氏名付きサインアップの入力ルールです。
var ProfileSignupRules = append(append([]Rule[SignupInput]{}, SignupRules...),
	Rule[SignupInput]{
		Message: "First Name is required",
		Check:   func(in SignupInput) bool { return present(in.FirstName) },
	},
	Rule[SignupInput]{
		Message: "Last Name is required",
		Check:   func(in SignupInput) bool { return present(in.LastName) },
	},
)

// LoginRules はログインの入力ルールです。
var LoginRules = []Rule[LoginInput]{
	{
		Message: "Email or username is required",
		Check:   func(in LoginInput) bool { return present(in.Credential) },
	},
	{
		Message: "Password is required",
		Check:   func(in LoginInput) bool { return present(in.Password) },
	},
}

// Validate はすべてのルールを評価し、失敗したルールのメッセージを定義順に返します。
// 途中で打ち切らないため、複数の違反があれば全件が返ります。
func Validate[T any](rules []Rule[T], in T) []string {
	var failed []string
	for _, rule := range rules {
		if !rule.Check(in) {
			failed = append(failed, rule.Message)
		}
	}
	return failed
}
