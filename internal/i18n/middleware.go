package i18n

import "net/http"

// Middleware injects a localizer matching the request's Accept-Language
// header into the request context.
func (tr *Translator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept-Language")
		w.Header().Set("Content-Language", tr.Match(accept).String())
		ctx := WithLocalizer(r.Context(), tr.NewLocalizer(accept))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
