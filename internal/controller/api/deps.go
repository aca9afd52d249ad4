package api

import (
	"color-server/internal/service"
	"color-server/internal/store"
)

// Deps 控制器依赖，由 main 装配后通过 Bind 注入
type Deps struct {
	Store   store.Store
	Rounds  *service.RoundService
	Bets    *service.BetService
	Settle  *service.SettleService
	Wallets *service.WalletService
	Admin   *service.AdminService
}

var deps Deps

func Bind(d Deps) { deps = d }
