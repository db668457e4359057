package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Errorf(CodeLargeArgs, "name is %d bytes", 9000)
	if !errors.Is(err, ErrLargeArgs) {
		t.Fatalf("expected ErrLargeArgs match, got %v", err)
	}
	if errors.Is(err, ErrInvalidArgs) {
		t.Fatalf("unexpected ErrInvalidArgs match")
	}

	wrapped := fmt.Errorf("push value: %w", err)
	if !errors.Is(wrapped, ErrLargeArgs) {
		t.Fatalf("expected wrapped match, got %v", wrapped)
	}
	if CodeOf(wrapped) != CodeLargeArgs {
		t.Fatalf("unexpected code: %v", CodeOf(wrapped))
	}
}

func TestFromStatus(t *testing.T) {
	if err := FromStatus(uint32(CodeOK), "ping"); err != nil {
		t.Fatalf("expected nil for ok status, got %v", err)
	}
	err := FromStatus(uint32(CodeProcNotFound), "exec_proc")
	if !errors.Is(err, ErrProcNotFound) {
		t.Fatalf("expected ErrProcNotFound, got %v", err)
	}
	if CodeOf(errors.New("io")) != CodeGeneralError {
		t.Fatalf("foreign errors should map to general error")
	}
}

func TestFatalCodes(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{CodeOutOfSync, true},
		{CodeServerBusy, true},
		{CodeConnectionTimeout, true},
		{CodeInvalidFrame, true},
		{CodeProcRuntimeError, false},
		{CodeIncompleteCommand, false},
		{CodeInvalidArgs, false},
	}
	for _, tc := range tests {
		t.Run(tc.code.String(), func(t *testing.T) {
			if got := tc.code.Fatal(); got != tc.fatal {
				t.Fatalf("fatal=%v want %v", got, tc.fatal)
			}
		})
	}
}

func TestCommandTagsArePairedByParity(t *testing.T) {
	for cmd := range commandNames {
		if !IsRequest(cmd) {
			t.Fatalf("command %#04x is not a request tag", cmd)
		}
		if CommandName(Response(cmd)) != CommandName(cmd) {
			t.Fatalf("response of %#04x does not fold onto request", cmd)
		}
	}
	if IsRequest(CmdInvalid) {
		t.Fatalf("invalid tag reported as request")
	}
}
