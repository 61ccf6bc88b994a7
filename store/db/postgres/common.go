package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
)

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// jsonOrDefault marshals v for a JSONB column, falling back to def for nil values.
func jsonOrDefault(v any, def string) (string, error) {
	if v == nil {
		return def, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return def, nil
	}
	return string(b), nil
}
