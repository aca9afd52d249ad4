package service

import (
	"context"
	"errors"
	"fmt"

	"color-server/internal/game"
	"color-server/internal/store"
)

// 业务错误，调用方使用 errors.Is 判断，细节通过 %w 附加
var (
	ErrValidation        = errors.New("validation failed")
	ErrRoundClosed       = errors.New("round closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrConflict          = errors.New("conflict")
	ErrAlreadySettled    = errors.New("round already settled")
	ErrStorage           = errors.New("storage failure")
	ErrLedger            = errors.New("ledger failure")
	ErrDraw              = game.ErrDraw

	ErrRoundNotFound     = errors.New("round not found")
	ErrDuplicateInFlight = errors.New("duplicate request in flight")
	ErrSettlementStalled = errors.New("settlement stalled")
)

var sentinels = []error{
	ErrValidation, ErrRoundClosed, ErrInsufficientFunds, ErrConflict, ErrAlreadySettled,
	ErrStorage, ErrLedger, ErrDraw, ErrRoundNotFound, ErrDuplicateInFlight, ErrSettlementStalled,
}

// storageErr 已分类的错误原样返回，其余归为 ErrStorage
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// roundNotFound 把存储层 NotFound 转为业务错误
func roundNotFound(err error, roundID string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}
	return err
}
