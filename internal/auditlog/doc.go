// Package auditlog は/sendへのリクエストを記録する監査ログストアを提供する。
//
// SQLiteの単一テーブル request_logs に1リクエスト1行で記録し、
// 直近の一覧、企業IDでの絞り込み、期間指定の統計、保持期間を過ぎた行の削除を行う。
// 日時はUTCの固定長文字列で保存するため、文字列比較で範囲検索できる。
package auditlog
