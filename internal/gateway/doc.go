// Package gateway は企業微信への通知を中継するHTTPゲートウェイを提供する。
//
// /send は呼び出し元が指定した企業ID・Secret・AgentIdでメッセージを1回だけ送信し、
// 成否にかかわらず全てのリクエストを監査ログに記録する。
// 監査ログの閲覧・検索・統計・削除と、管理者ログインのエンドポイントも持つ。
package gateway
