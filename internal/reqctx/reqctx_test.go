package reqctx

import (
	"context"
	"testing"
)

func TestClientInfo_RoundTrip(t *testing.T) {
	ctx := WithClientInfo(context.Background(), ClientInfo{IPAddress: "192.0.2.1", UserAgent: "test-agent"})

	got := ClientInfoFrom(ctx)
	if got.IPAddress != "192.0.2.1" || got.UserAgent != "test-agent" {
		t.Errorf("ClientInfoFrom = %+v", got)
	}
}

func TestClientInfoFrom_Unset(t *testing.T) {
	if got := ClientInfoFrom(context.Background()); got != (ClientInfo{}) {
		t.Errorf("ClientInfoFrom(empty) = %+v, want zero value", got)
	}
}
