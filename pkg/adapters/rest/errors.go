package rest

import (
	"encoding/json"
	"strings"

	"github.com/aretw0/docket/pkg/domain"
)

// errorBody is the service's error envelope. Detail is either a plain
// message or an object carrying a reason and an optional suggestion.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type errorDetail struct {
	Detail     string  `json:"detail"`
	Message    string  `json:"message"`
	Error      string  `json:"error"`
	Suggestion *string `json:"suggestion"`
}

// parseRejection interprets a rejected answer's body.
// A suggested value takes precedence over the plain message shapes.
func parseRejection(body []byte) *domain.RejectionError {
	rej := &domain.RejectionError{}

	var env errorBody
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		rej.Reason = strings.TrimSpace(string(body))
		return rej
	}

	var text string
	if err := json.Unmarshal(env.Detail, &text); err == nil {
		rej.Reason = text
		return rej
	}

	var d errorDetail
	if err := json.Unmarshal(env.Detail, &d); err == nil {
		rej.Reason = firstNonEmpty(d.Message, d.Detail, d.Error)
		if d.Suggestion != nil && strings.TrimSpace(*d.Suggestion) != "" {
			rej.Suggestion = *d.Suggestion
		}
		return rej
	}

	// FastAPI validation errors arrive as a list.
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &list); err == nil && len(list) > 0 {
		rej.Reason = list[0].Msg
		return rej
	}

	rej.Reason = string(env.Detail)
	return rej
}

// detailText extracts a human-readable message from an error body.
func detailText(body []byte) string {
	return parseRejection(body).Reason
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
