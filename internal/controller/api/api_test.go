package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"color-server/common"
	"color-server/internal/common/response"
	"color-server/internal/config"
	"color-server/internal/game"
	"color-server/internal/model"
	"color-server/internal/service"
	"color-server/internal/store"

	beegocontext "github.com/beego/beego/v2/server/web/context"
)

type apiEnv struct {
	rounds  *service.RoundService
	admin   *service.AdminService
	wallets *service.WalletService
	round   *model.Round
}

func setup(t *testing.T) *apiEnv {
	t.Helper()
	st := store.NewMemory()
	opts := []service.Option{
		service.WithGameConfig(config.DefaultGame()),
		service.WithGenerator(&game.FixedGenerator{Numbers: []int{5}}),
	}
	rounds := service.NewRoundService(st, opts...)
	settle := service.NewSettleService(st, opts...)
	wallets := service.NewWalletService(st, opts...)
	pipeline := service.NewPipeline(rounds, settle)
	admin := service.NewAdminService(st, rounds, pipeline, wallets, opts...)
	prev := deps
	Bind(Deps{
		Store:   st,
		Rounds:  rounds,
		Bets:    service.NewBetService(st, opts...),
		Settle:  settle,
		Wallets: wallets,
		Admin:   admin,
	})
	t.Cleanup(func() { deps = prev })

	ctx := context.Background()
	if _, err := wallets.Adjust(ctx, 7, 1000, "test funding", service.OperatorAdmin); err != nil {
		t.Fatal(err)
	}
	r, err := rounds.OpenNextRound(ctx, "30s")
	if err != nil {
		t.Fatal(err)
	}
	return &apiEnv{rounds: rounds, admin: admin, wallets: wallets, round: r}
}

func newRequest(method, target, body string, userID int64) (*beegocontext.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ctx := beegocontext.NewContext()
	ctx.Reset(rec, req)
	if userID > 0 {
		ctx.Input.SetData("user_id", userID)
	}
	return ctx, rec
}

type betResponse struct {
	Code int `json:"code"`
	Data struct {
		Bet struct {
			BetID        string `json:"bet_id"`
			Stake        int64  `json:"stake"`
			StakeDisplay string `json:"stake_display"`
			OutcomeName  string `json:"outcome_name"`
		} `json:"bet"`
		Balance        int64  `json:"balance"`
		BalanceDisplay string `json:"balance_display"`
		Replayed       bool   `json:"replayed"`
	} `json:"data"`
}

func postBet(t *testing.T, body string, userID int64) (*httptest.ResponseRecorder, betResponse) {
	t.Helper()
	ctx, rec := newRequest("POST", "/api/bet", body, userID)
	c := &BetController{}
	c.Init(ctx, "BetController", "Bet", c)
	c.Bet()
	var out betResponse
	if err := common.JsonUnmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func TestBetPlacesAndReturnsBalance(t *testing.T) {
	e := setup(t)
	body := `{"round_id":"` + e.round.RoundID + `","kind":"color","value":"red","stake":200,"idempotency_key":"k1"}`

	rec, out := postBet(t, body, 7)
	if rec.Code != 200 || out.Code != response.CodeSuccess {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if out.Data.Bet.BetID == "" || out.Data.Bet.Stake != 200 || out.Data.Bet.StakeDisplay != "2.00" || out.Data.Bet.OutcomeName != "pending" {
		t.Fatalf("bet: %+v", out.Data.Bet)
	}
	if out.Data.Balance != 800 || out.Data.BalanceDisplay != "8.00" || out.Data.Replayed {
		t.Fatalf("data: %+v", out.Data)
	}

	rec, again := postBet(t, body, 7)
	if rec.Code != 200 || !again.Data.Replayed || again.Data.Bet.BetID != out.Data.Bet.BetID {
		t.Fatalf("replay: %d %+v", rec.Code, again.Data)
	}
	if rec.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("missing replay header")
	}
	if w, _ := e.wallets.Balance(context.Background(), 7); w.Balance != 800 {
		t.Fatalf("balance = %d", w.Balance)
	}
}

func TestBetErrors(t *testing.T) {
	e := setup(t)
	good := `{"round_id":"` + e.round.RoundID + `","kind":"size","value":"big","stake":100}`
	cases := []struct {
		name    string
		body    string
		userID  int64
		prepare func()
		status  int
		code    int
	}{
		{"no user", good, 0, nil, 401, response.CodeUnauthorized},
		{"bad selection", `{"round_id":"` + e.round.RoundID + `","kind":"color","value":"blue","stake":100}`, 7, nil, 400, response.CodeBadRequest},
		{"zero stake", `{"round_id":"` + e.round.RoundID + `","kind":"size","value":"big","stake":0}`, 7, nil, 400, response.CodeBadRequest},
		{"unknown round", `{"round_id":"30s-99999999","kind":"size","value":"big","stake":100}`, 7, nil, 404, response.CodeNotFound},
		{"insufficient funds", `{"round_id":"` + e.round.RoundID + `","kind":"size","value":"big","stake":5000}`, 7, nil, 400, response.CodeInsufficientBalance},
		{"after lock", good, 7, func() {
			if _, err := e.admin.ForceEndRound(context.Background(), "30s", e.round.RoundID); err != nil {
				t.Fatal(err)
			}
		}, 409, response.CodeRoundClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prepare != nil {
				tc.prepare()
			}
			rec, out := postBet(t, tc.body, tc.userID)
			if rec.Code != tc.status || out.Code != tc.code {
				t.Fatalf("status %d code %d body %s", rec.Code, out.Code, rec.Body.String())
			}
		})
	}
}

func TestRoundDetailIncludesSettlement(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	_, out := postBet(t, `{"round_id":"`+e.round.RoundID+`","kind":"number","value":"5","stake":100}`, 7)
	if out.Code != response.CodeSuccess {
		t.Fatalf("place: %+v", out)
	}
	if _, err := e.admin.ForceEndRound(ctx, "30s", e.round.RoundID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.admin.RetrySettlement(ctx, e.round.RoundID); err != nil {
		t.Fatal(err)
	}

	reqCtx, rec := newRequest("GET", "/api/rounds/"+e.round.RoundID, "", 0)
	reqCtx.Input.SetParam(":round_id", e.round.RoundID)
	c := &RoundController{}
	c.Init(reqCtx, "RoundController", "Get", c)
	c.Get()

	var got struct {
		Code int `json:"code"`
		Data struct {
			RoundID    string `json:"round_id"`
			StateName  string `json:"state_name"`
			Settlement *struct {
				Winners     int   `json:"winners"`
				TotalPayout int64 `json:"total_payout"`
			} `json:"settlement"`
		} `json:"data"`
	}
	if err := common.JsonUnmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if rec.Code != 200 || got.Data.RoundID != e.round.RoundID || got.Data.StateName != "archived" {
		t.Fatalf("round: %s", rec.Body.String())
	}
	if got.Data.Settlement == nil || got.Data.Settlement.Winners != 1 || got.Data.Settlement.TotalPayout != 900 {
		t.Fatalf("settlement: %s", rec.Body.String())
	}
}
