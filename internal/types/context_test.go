package types

import (
	"context"
	"testing"
)

func TestWithActor_GetActor(t *testing.T) {
	actor := Actor{
		ExternalID: "user_2abc",
		AccountID:  42,
		Type:       ActorTypeUser,
		PlanClaim:  "u:viberesume_pro",
	}
	ctx := WithActor(context.Background(), actor)

	got, ok := GetActor(ctx)
	if !ok {
		t.Fatal("expected ok to be true, got false")
	}
	if got != actor {
		t.Errorf("GetActor() = %+v, want %+v", got, actor)
	}

	p := got.Principal()
	if p.AccountID != 42 || p.ExternalID != "user_2abc" {
		t.Errorf("Principal() = %+v", p)
	}
}

func TestGetActor_Missing(t *testing.T) {
	if _, ok := GetActor(context.Background()); ok {
		t.Error("expected ok to be false for empty context")
	}
}

func TestRequestID(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("expected empty request id, got %q", id)
	}
	ctx := WithRequestID(context.Background(), "req-1")
	if id := GetRequestID(ctx); id != "req-1" {
		t.Errorf("GetRequestID() = %q, want req-1", id)
	}
}
