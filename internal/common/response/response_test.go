package response

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"color-server/internal/service"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{nil, 200, CodeSuccess},
		{service.ErrAlreadySettled, 200, CodeSuccess},
		{fmt.Errorf("%w: stake below minimum", service.ErrValidation), 400, CodeBadRequest},
		{service.ErrInsufficientFunds, 400, CodeInsufficientBalance},
		{fmt.Errorf("%w: round t1-00000001 locked", service.ErrRoundClosed), 409, CodeRoundClosed},
		{service.ErrConflict, 409, CodeConflict},
		{fmt.Errorf("%w: %w", service.ErrSettlementStalled, service.ErrDraw), 409, CodeSettlementStalled},
		{service.ErrDuplicateInFlight, 202, CodeDuplicateInFlight},
		{service.ErrRoundNotFound, 404, CodeNotFound},
		{context.DeadlineExceeded, 503, CodeServiceUnavailable},
		{fmt.Errorf("%w: boom", service.ErrStorage), 500, CodeSystemError},
		{errors.New("unexpected"), 500, CodeSystemError},
	}
	for _, tc := range cases {
		status, code := Status(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("%v: got (%d,%d) want (%d,%d)", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	for _, code := range []int{CodeBadRequest, CodeConflict, CodeRoundClosed, CodeInsufficientBalance,
		CodeSettlementStalled, CodeDuplicateInFlight, CodeNotFound, CodeSystemError, CodeServiceUnavailable,
		CodeUnauthorized, CodeRateLimitExceeded} {
		if getErrorMessage(code) == "未知错误" {
			t.Errorf("code %d has no message", code)
		}
	}
}
