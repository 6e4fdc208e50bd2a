package auth

import (
	"net/http"
	"testing"

	"github.com/MGallo-Code/gatehouse/internal/apperror"
	"github.com/MGallo-Code/gatehouse/internal/store"
)

func TestRequirements(t *testing.T) {
	anon := RequestContext{State: StateAnonymous}
	unverified := RequestContext{State: StateUnverified, User: &store.User{AuthStrategy: store.StrategyLocal}}
	verified := RequestContext{State: StateVerified, User: &store.User{AuthStrategy: store.StrategyLocal, EmailVerified: true}}
	google := RequestContext{State: StateVerified, User: &store.User{AuthStrategy: store.StrategyGoogle, EmailVerified: true}}

	tests := []struct {
		name string
		req  Requirement
		rc   RequestContext
		want int // 0 admits
	}{
		{"anonymous admits anonymous", RequireAnonymous, anon, 0},
		{"anonymous rejects session", RequireAnonymous, verified, http.StatusForbidden},
		{"authenticated rejects anonymous", RequireAuthenticated, anon, http.StatusUnauthorized},
		{"authenticated admits unverified", RequireAuthenticated, unverified, 0},
		{"verified rejects anonymous", RequireVerified, anon, http.StatusUnauthorized},
		{"verified rejects unverified", RequireVerified, unverified, http.StatusForbidden},
		{"verified admits verified", RequireVerified, verified, 0},
		{"local rejects anonymous", RequireLocal, anon, http.StatusUnauthorized},
		{"local rejects oauth", RequireLocal, google, http.StatusForbidden},
		{"local admits local", RequireLocal, unverified, 0},
		{"unverified rejects verified", RequireUnverified, verified, http.StatusForbidden},
		{"unverified admits unverified", RequireUnverified, unverified, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req(tt.rc)
			if tt.want == 0 {
				if err != nil {
					t.Errorf("expected admit, got %v", err)
				}
				return
			}
			if got := apperror.HTTPStatus(err); got != tt.want {
				t.Errorf("status: expected %d, got %d (%v)", tt.want, got, err)
			}
		})
	}
}

func TestStateFor(t *testing.T) {
	if stateFor(&store.User{}) != StateUnverified {
		t.Error("unverified user should map to StateUnverified")
	}
	if stateFor(&store.User{EmailVerified: true}) != StateVerified {
		t.Error("verified user should map to StateVerified")
	}
	if s := FromContext(t.Context()); s.State != StateAnonymous || s.User != nil {
		t.Errorf("bare context should be anonymous, got %+v", s)
	}
}
