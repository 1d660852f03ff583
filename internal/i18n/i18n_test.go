package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestTranslator(t *testing.T) *Translator {
	t.Helper()
	tr, err := New("en")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func ctxFor(tr *Translator, lang string) context.Context {
	return WithLocalizer(context.Background(), tr.NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		lang string
		want string
	}{
		{"en", "You have used all your attempts for this assessment."},
		{"ru", "Вы использовали все попытки для этого задания."},
		{"ru-RU,ru;q=0.9,en;q=0.5", "Вы использовали все попытки для этого задания."},
		{"de", "You have used all your attempts for this assessment."},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			if got := tr.T(ctxFor(tr, tt.lang), "ErrAttemptLimitExceeded"); got != tt.want {
				t.Errorf("T = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "1 attempt remaining."},
		{"en", 3, "3 attempts remaining."},
		{"ru", 1, "Осталась 1 попытка."},
		{"ru", 3, "Осталось 3 попытки."},
		{"ru", 5, "Осталось 5 попыток."},
	}
	for _, tt := range tests {
		if got := tr.Tp(ctxFor(tr, tt.lang), "AttemptsRemaining", tt.count); got != tt.want {
			t.Errorf("Tp(%s, %d) = %q, want %q", tt.lang, tt.count, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	tr := newTestTranslator(t)
	got := tr.Td(ctxFor(tr, "en"), "ErrValidation", map[string]any{"Detail": "answer is required"})
	if got != "Your submission is invalid: answer is required" {
		t.Errorf("Td = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	tr := newTestTranslator(t)
	if got := tr.T(context.Background(), "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}

func TestEveryMessageIsTranslated(t *testing.T) {
	tr := newTestTranslator(t)
	ids := []string{
		"ErrCourseNotFound", "ErrMappingNotFound", "ErrHandlerNotFound", "ErrAttemptLimitExceeded",
		"ErrGenerationService", "ErrPersistence", "ErrInternal", "AttemptsUnlimited",
	}
	en, ru := ctxFor(tr, "en"), ctxFor(tr, "ru")
	for _, id := range ids {
		if tr.T(en, id) == id || tr.T(ru, id) == id {
			t.Errorf("%s is missing a translation", id)
		}
		if tr.T(en, id) == tr.T(ru, id) {
			t.Errorf("%s has the same text in en and ru", id)
		}
	}
}

func TestMiddleware(t *testing.T) {
	tr := newTestTranslator(t)
	var got string
	h := tr.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = tr.T(r.Context(), "ErrCourseNotFound")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got != "Этот курс недоступен." {
		t.Errorf("localized message = %q", got)
	}
	if cl := rec.Header().Get("Content-Language"); cl != "ru" {
		t.Errorf("Content-Language = %q, want ru", cl)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got != "This course is not available." {
		t.Errorf("default message = %q", got)
	}
	if cl := rec.Header().Get("Content-Language"); cl != "en" {
		t.Errorf("Content-Language = %q, want en", cl)
	}
}
