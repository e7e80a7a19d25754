package raft_test

import (
	"context"
	"testing"

	"github.com/tokvault/tokvaultd/internal/raft"
)

type fakeHandler struct{ term uint64 }

func (f *fakeHandler) HandleVoteRequest(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	return &raft.RequestVoteResponse{Term: f.term, VoteGranted: true}, nil
}

func (f *fakeHandler) HandleAppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	return &raft.AppendEntriesResponse{Term: f.term, Success: true}, nil
}

func TestHandlerSlot_ErrorsBeforeSet(t *testing.T) {
	slot := raft.NewHandlerSlot()
	if _, err := slot.HandleVoteRequest(context.Background(), &raft.RequestVoteRequest{}); err == nil {
		t.Error("expected error before Set")
	}
}

func TestHandlerSlot_DelegatesAfterSet(t *testing.T) {
	slot := raft.NewHandlerSlot()
	slot.Set(&fakeHandler{term: 7})

	resp, err := slot.HandleVoteRequest(context.Background(), &raft.RequestVoteRequest{})
	if err != nil {
		t.Fatalf("HandleVoteRequest() error = %v", err)
	}
	if resp.Term != 7 || !resp.VoteGranted {
		t.Errorf("resp = %+v", resp)
	}
}
