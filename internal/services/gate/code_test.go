package gate

import (
	"fmt"
	"time"

	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/services/hasher"
	"github.com/mcoot/logingate/internal/services/ratelimit"
	"github.com/mcoot/logingate/internal/testutil"
)

// Web codes

func (s *GateSuite) TestWebCodeAuthenticatesWithoutPassword() {
	s.random.QueueString("WebCode1")

	code, err := s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("WebCode1", code.Code)
	s.Equal(model.CodeKindWeb, code.Kind)
	s.Equal(s.clock.Now().Add(10*time.Minute), code.ExpiresAt)

	_, err = s.b.OnConnect(s.ctx, "alice", "10.0.0.1")
	s.Require().NoError(err)
	d, err := s.b.RedeemCode(s.ctx, "alice", "10.0.0.1", "WebCode1")
	s.Require().NoError(err)
	s.True(d.Authorized)
	s.True(s.b.IsAuthorized("alice"))

	lease, err := s.store.GetSession(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("server-b", lease.OriginServerID)

	events := s.bus.published()
	s.Require().NotEmpty(events)
	s.Equal(model.SessionGranted, events[len(events)-1].Kind)
}

func (s *GateSuite) TestWebCodeIsSingleUse() {
	s.random.QueueString("WebCode1")
	_, err := s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)

	d, err := s.b.RedeemCode(s.ctx, "alice", "10.0.0.1", "WebCode1")
	s.Require().NoError(err)
	s.True(d.Authorized)

	d, err = s.a.RedeemCode(s.ctx, "alice", "10.0.0.2", "WebCode1")
	s.ErrorIs(err, model.ErrInvalidCode)
	s.False(d.Authorized)
	s.Equal(model.ReasonInvalidCode, d.Reason)
	s.False(s.a.IsAuthorized("alice"))
}

func (s *GateSuite) TestWebCodeIsBoundToItsPrincipal() {
	s.random.QueueString("WebCode1")
	_, err := s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)

	d, err := s.a.RedeemCode(s.ctx, "mallory", "10.0.0.9", "WebCode1")
	s.ErrorIs(err, model.ErrInvalidCode)
	s.False(d.Authorized)
	state, _ := s.a.State("mallory")
	s.Equal(model.ConnStateRejected, state)

	// Presenting it for the wrong principal burned it
	_, err = s.a.RedeemCode(s.ctx, "alice", "10.0.0.1", "WebCode1")
	s.ErrorIs(err, model.ErrInvalidCode)
}

func (s *GateSuite) TestWebCodeExpires() {
	s.random.QueueString("WebCode1")
	_, err := s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)

	s.clock.Advance(10 * time.Minute)

	_, err = s.a.RedeemCode(s.ctx, "alice", "10.0.0.1", "WebCode1")
	s.ErrorIs(err, model.ErrInvalidCode)
}

func (s *GateSuite) TestBadCodesCountTowardsRateLimit() {
	for i := 1; i <= 3; i++ {
		_, err := s.a.RedeemCode(s.ctx, "alice", "10.0.0.1", fmt.Sprintf("Nope%04d", i))
		s.ErrorIs(err, model.ErrInvalidCode)
	}

	s.random.QueueString("WebCode1")
	_, err := s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)

	d, err := s.a.RedeemCode(s.ctx, "alice", "10.0.0.1", "WebCode1")
	s.ErrorIs(err, model.ErrRateLimited)
	s.Equal(model.ReasonRateLimited, d.Reason)
	s.False(s.a.IsAuthorized("alice"))
}

func (s *GateSuite) TestMalformedCodeRejected() {
	for _, code := range []string{"", "short", "has space", "Code-001", "WebCode12"} {
		d, err := s.a.RedeemCode(s.ctx, "alice", "10.0.0.1", code)
		s.ErrorIs(err, model.ErrInvalidCode, code)
		s.Equal(model.ReasonInvalidCode, d.Reason)
	}
}

func (s *GateSuite) TestWebCodeEvictsSessionElsewhere() {
	s.registerAndLogin(s.a, "alice", "pw1")
	s.random.QueueString("WebCode1")
	_, err := s.b.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)

	d, err := s.b.RedeemCode(s.ctx, "alice", "10.0.0.2", "WebCode1")
	s.Require().NoError(err)
	s.True(d.Authorized)

	s.False(s.a.IsAuthorized("alice"))
	s.Equal([]demotion{{principal: "alice", reason: model.ReasonLoggedOutByPeer}}, s.demotionsFor("server-a"))
}

func (s *GateSuite) TestCodeCollisionRedraws() {
	s.random.QueueString("Dup00001", "Dup00001", "Fresh001")

	first, err := s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)
	second, err := s.a.IssueWebCode(s.ctx, "bob")
	s.Require().NoError(err)

	s.Equal("Dup00001", first.Code)
	s.Equal("Fresh001", second.Code)
}

// Login codes

func (s *GateSuite) TestLoginCodeIsReusedAndExtended() {
	s.random.QueueString("Login001", "Login002")

	first, err := s.a.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Login001", first.Code)
	s.Equal(s.clock.Now().Add(5*time.Minute), first.ExpiresAt)

	s.clock.Advance(3 * time.Minute)

	// Any server finds the live code
	again, err := s.b.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Login001", again.Code)
	s.Equal(s.clock.Now().Add(5*time.Minute), again.ExpiresAt)

	s.clock.Advance(3 * time.Minute)
	principal, err := s.a.ClaimLoginCode(s.ctx, "203.0.113.9", "Login001")
	s.Require().NoError(err)
	s.Equal(model.Principal("alice"), principal)

	next, err := s.a.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("Login002", next.Code)
}

func (s *GateSuite) TestLoginCodeClaimsOnce() {
	s.random.QueueString("Login001")
	_, err := s.a.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)

	_, err = s.b.ClaimLoginCode(s.ctx, "203.0.113.9", "Login001")
	s.Require().NoError(err)

	_, err = s.a.ClaimLoginCode(s.ctx, "203.0.113.9", "Login001")
	s.ErrorIs(err, model.ErrInvalidCode)
}

func (s *GateSuite) TestCodeKindsAreNotInterchangeable() {
	s.random.QueueString("Login001", "WebCode1")
	_, err := s.a.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	_, err = s.a.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)

	_, err = s.a.RedeemCode(s.ctx, "alice", "10.0.0.1", "Login001")
	s.ErrorIs(err, model.ErrInvalidCode)
	_, err = s.a.ClaimLoginCode(s.ctx, "203.0.113.9", "WebCode1")
	s.ErrorIs(err, model.ErrInvalidCode)
}

func (s *GateSuite) TestClaimFailuresBlockAddress() {
	for i := 1; i <= 3; i++ {
		_, err := s.a.ClaimLoginCode(s.ctx, "203.0.113.9", fmt.Sprintf("Nope%04d", i))
		s.ErrorIs(err, model.ErrInvalidCode)
	}

	s.random.QueueString("Login001")
	_, err := s.a.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)

	_, err = s.a.ClaimLoginCode(s.ctx, "203.0.113.9", "Login001")
	s.ErrorIs(err, model.ErrRateLimited)
	principal, err := s.a.ClaimLoginCode(s.ctx, "198.51.100.4", "Login001")
	s.Require().NoError(err)
	s.Equal(model.Principal("alice"), principal)
}

func (s *GateSuite) TestLoginURL() {
	s.Empty(s.a.LoginURL("Login001"))

	g := s.newGate("server-c", s.store, func(cfg *Config) {
		cfg.CodeURL = "https://example.com/login?code={code}"
	})
	s.Equal("https://example.com/login?code=Login001", g.LoginURL("Login001"))
}

func (s *GateSuite) TestIssueCodeRejectsInvalidPrincipal() {
	_, err := s.a.IssueLoginCode(s.ctx, "bad principal")
	s.ErrorIs(err, model.ErrInvalidPrincipal)
	_, err = s.a.IssueWebCode(s.ctx, "")
	s.ErrorIs(err, model.ErrInvalidPrincipal)
}

func (s *GateSuite) TestCodesNeverLogged() {
	logger, buf := testutil.CaptureLogger()
	pool := hasher.NewPool(fastArgon(1), 1)
	limiter := ratelimit.New(s.store, ratelimit.DefaultConfig(), logger)
	g := New(s.store, pool, limiter, nil, s.clock, s.random, DefaultConfig(), logger)
	s.random.QueueString("Login001", "WebCode1")

	_, err := g.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	_, err = g.IssueLoginCode(s.ctx, "alice")
	s.Require().NoError(err)
	_, err = g.ClaimLoginCode(s.ctx, "203.0.113.9", "Login001")
	s.Require().NoError(err)
	_, err = g.IssueWebCode(s.ctx, "alice")
	s.Require().NoError(err)
	_, _ = g.RedeemCode(s.ctx, "alice", "10.0.0.1", "WebCode1")

	out := buf.String()
	s.Contains(out, "code issued")
	s.NotContains(out, "Login001")
	s.NotContains(out, "WebCode1")
}
