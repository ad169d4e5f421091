// Package httpclient は外部APIとのJSON通信を行うHTTPクライアントを提供する。
//
// 企業微信APIへのトークン取得・メッセージ送信など、
// ゲートウェイから外部へ出ていく通信パターンを統一する。
// タイムアウトは既定で10秒とし、呼び出し元の同期リクエストを長く待たせない。
package httpclient
