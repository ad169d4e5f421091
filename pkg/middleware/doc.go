// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 管理者JWTの検証、APIトークンによる呼び出し元認証、リクエストID付与、
// パニックリカバリ、CORS設定など、ゲートウェイの各ルートで共通して使用する
// ミドルウェアを含む。各ミドルウェアは処理を継続するか、
// 終端レスポンスを返して中断するかのどちらかを行う。
package middleware
