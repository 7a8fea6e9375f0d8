// Package storage はユーザー情報の永続化を提供します。
//
// SQLite（modernc.org/sqlite、cgo 不要）を使用し、ユーザー名とメールアドレスの
// 一意性はテーブルの UNIQUE 制約で保証します。
package storage
