package wecom

import (
	"errors"
	"fmt"
)

// ErrInvalidMessage は送信前の形式チェックに失敗したことを表す。
var ErrInvalidMessage = errors.New("メッセージの形式が不正です")

// UpstreamAuthError はaccess_tokenの取得に失敗したことを表す。
// 上流がエラーコードを返した場合はCodeに設定され、通信エラーの場合はErrに原因が入る。
type UpstreamAuthError struct {
	// Code は上流が返したerrcode。通信エラーの場合はnil。
	Code *int
	// Message は上流が返したerrmsg、または通信エラーの説明。
	Message string
	// Err は通信エラーの原因。
	Err error
}

func (e *UpstreamAuthError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("access_tokenの取得に失敗: %s (errcode=%d)", e.Message, *e.Code)
	}
	return fmt.Sprintf("access_tokenの取得に失敗: %s", e.Message)
}

func (e *UpstreamAuthError) Unwrap() error {
	return e.Err
}

// UpstreamSendError はメッセージ送信が上流に拒否された、または通信に失敗したことを表す。
type UpstreamSendError struct {
	// Code は上流が返したerrcode。通信エラーの場合はnil。
	Code *int
	// Message はエラーの説明。
	Message string
}

func (e *UpstreamSendError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("メッセージ送信に失敗: %s (errcode=%d)", e.Message, *e.Code)
	}
	return fmt.Sprintf("メッセージ送信に失敗: %s", e.Message)
}
