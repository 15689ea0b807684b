package pg

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// WithDefaultParams добавляет к DSN параметры, которых в нем еще нет.
// Поддерживаются URL-формат (postgres://...) и формат key=value.
// Явно заданные пользователем параметры не перезаписываются.
//
//	WithDefaultParams("postgres://u@db/app", map[string]string{"application_name": "jobpool"})
//	// postgres://u@db/app?application_name=jobpool
func WithDefaultParams(dsn string, params map[string]string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("dsn is empty")
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid dsn: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			if q.Get(k) == "" {
				q.Set(k, v)
			}
		}
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	// key=value формат
	present := make(map[string]bool)
	for _, field := range strings.Fields(dsn) {
		if k, _, ok := strings.Cut(field, "="); ok {
			present[k] = true
		}
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if present[k] {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", k, quoteValue(params[k]))
	}
	return b.String(), nil
}

func quoteValue(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
	}
	return v
}
