package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Diagram はユーザーが所有するダイアグラム文書を表す。
type Diagram struct {
	ID        int64
	UserID    int64
	Title     string
	Code      string
	Thumbnail *string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Optional はJSON上で「未指定」と「値あり（nullを含む）」を区別するフィールド型。
// キーが存在した場合のみSetがtrueになる。
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some は値ありのOptionalを返す。
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// UnmarshalJSON はキーが存在した時点でSetをtrueにする。
// nullは値の型のゼロ値として扱う。
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value = zero
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// DiagramPatch はダイアグラムの部分更新内容。
// Setがfalseのフィールドは変更しない。
type DiagramPatch struct {
	Title     Optional[string]
	Code      Optional[string]
	Thumbnail Optional[*string]
}

// Empty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p DiagramPatch) Empty() bool {
	return !p.Title.Set && !p.Code.Set && !p.Thumbnail.Set
}
