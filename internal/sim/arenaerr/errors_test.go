package arenaerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeKinds(t *testing.T) {
	cases := map[Code]Kind{
		CodeMonsterNotFound:  KindNotFound,
		CodePlayerNotFound:   KindNotFound,
		CodeNoSnapshot:       KindNotFound,
		CodeIndexOutOfRange:  KindNotFound,
		CodeAlreadyOnline:    KindInvalidState,
		CodeNotOnline:        KindInvalidState,
		CodeNoUnsecuredAsset: KindPrecondition,
		CodeOutsideSafeZone:  KindPrecondition,
		CodeOutOfRange:       KindPrecondition,
		CodeSelfSteal:        KindPrecondition,
		CodeLedgerFailure:    KindLedger,
		CodeBadAction:        KindBadRequest,
		Code("E_WHAT"):       KindUnknown,
	}
	for code, want := range cases {
		if got := code.Kind(); got != want {
			t.Fatalf("%s: kind=%s want %s", code, got, want)
		}
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("apply: %w", New(CodeNotOnline, "player %s is offline", "P1"))
	if !errors.Is(err, ErrNotOnline) {
		t.Fatalf("expected errors.Is to match ErrNotOnline: %v", err)
	}
	if errors.Is(err, ErrAlreadyOnline) {
		t.Fatalf("unexpected match against ErrAlreadyOnline")
	}
	if got := CodeOf(err); got != CodeNotOnline {
		t.Fatalf("CodeOf=%s", got)
	}
	if got := KindOf(err); got != KindInvalidState {
		t.Fatalf("KindOf=%s", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("asset frozen")
	err := Wrap(CodeLedgerFailure, "transfer", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost")
	}
	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors should map to CodeUnknown")
	}
	if CodeOf(nil) != "" || KindOf(nil) != "" {
		t.Fatalf("nil error should have empty code and kind")
	}
}
