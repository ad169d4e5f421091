package auditlog

import "fmt"

// StorageError は監査ログストアへの読み書きに失敗したことを表す。
type StorageError struct {
	// Op は失敗した操作名。
	Op string
	// Err は原因となったエラー。
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("監査ログの%sに失敗: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
