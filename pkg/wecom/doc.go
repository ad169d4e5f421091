// Package wecom は企業微信（WeCom）アプリメッセージAPIのクライアントを提供する。
//
// Clientは1組の企業ID・Secret・AgentIdに束縛され、access_tokenを
// 有効期限の5分前までキャッシュする。送信はテキスト、Markdown、
// テキストカード、ニュースの4形式に対応し、上流の応答は
// SendResultに正規化される。再送は行わない。
package wecom
