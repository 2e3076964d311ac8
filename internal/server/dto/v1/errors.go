package v1

import "github.com/hAIvemind-dev/haivemind/internal/server/dto"

func errRequired(field string) error {
	return dto.BadRequest(field + " is required")
}
