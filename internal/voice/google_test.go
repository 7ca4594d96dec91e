package voice

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ent0n29/aspen/internal/stages"
)

func TestClassifyGRPC(t *testing.T) {
	cases := []struct {
		err  error
		want stages.Kind
	}{
		{status.Error(codes.ResourceExhausted, "quota"), stages.KindQuota},
		{status.Error(codes.Unavailable, "try later"), stages.KindTransient},
		{status.Error(codes.DeadlineExceeded, "slow"), stages.KindTransient},
		{status.Error(codes.InvalidArgument, "bad ssml"), stages.KindMalformed},
		{status.Error(codes.Canceled, "gone"), stages.KindCancelled},
		{status.Error(codes.PermissionDenied, "nope"), stages.KindFatal},
		{context.Canceled, stages.KindCancelled},
		{errors.New("plain"), stages.KindFatal},
	}
	for _, tc := range cases {
		if got := stages.Classify(classifyGRPC("google-tts", tc.err)); got != tc.want {
			t.Fatalf("classifyGRPC(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
