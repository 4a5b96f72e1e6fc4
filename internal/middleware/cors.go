package middleware

import "net/http"

// NewCORSMiddleware はエクスポート/インポートAPI向けのCORSミドルウェアを返す。
// リクエストのOriginがallowedOriginと一致した場合だけ許可ヘッダーを付ける。
// allowedOriginが"*"の場合はリクエストのOriginをそのまま返す（credentialsと共存させるため）。
// OPTIONSプリフライトには次のハンドラーを呼ばずに204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && (allowedOrigin == "*" || origin == allowedOrigin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Allow-Credentials", "true")
				// CSVエクスポートのファイル名をブラウザから参照できるようにする
				h.Set("Access-Control-Expose-Headers", "Content-Disposition")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
