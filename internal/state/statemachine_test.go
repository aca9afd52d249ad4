package state

import "testing"

func TestNextState(t *testing.T) {
	cases := []struct {
		cur, evt, want string
		ok             bool
	}{
		{StateOpen, EvtLock, StateLocked, true},
		{StateLocked, EvtDraw, StateDrawn, true},
		{StateDrawn, EvtSettle, StateSettled, true},
		{StateSettled, EvtArchive, StateArchived, true},
		{StateOpen, EvtDraw, StateOpen, false},
		{StateLocked, EvtLock, StateLocked, false},
		{StateSettled, EvtSettle, StateSettled, false},
		{StateArchived, EvtLock, StateArchived, false},
	}
	for _, tc := range cases {
		t.Run(tc.cur+"/"+tc.evt, func(t *testing.T) {
			got, err := NextState(tc.cur, tc.evt)
			if (err == nil) != tc.ok {
				t.Fatalf("err=%v ok=%v", err, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestCodesRoundTrip(t *testing.T) {
	for _, s := range []string{StateOpen, StateLocked, StateDrawn, StateSettled, StateArchived} {
		if FromCode(ToCode(s)) != s {
			t.Fatalf("code mapping broken for %s", s)
		}
	}
	if ToCode("bogus") != 0 || FromCode(42) != "" {
		t.Fatal("unknown values should map to zero")
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []string{StateOpen, StateLocked, StateDrawn, StateSettled} {
		if Terminal(ToCode(s)) {
			t.Fatalf("%s reported terminal", s)
		}
	}
	if !Terminal(CodeArchived) {
		t.Fatal("archived not terminal")
	}
}
