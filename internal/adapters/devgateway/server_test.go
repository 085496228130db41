package devgateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"libres/internal/adapters/email"
	"libres/internal/adapters/gateway"
	"libres/internal/application/remote"
	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

// captureSender records outgoing email instead of sending it.
type captureSender struct {
	mu       sync.Mutex
	messages []email.Message
}

func (c *captureSender) Send(_ context.Context, msg email.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

var tokenPattern = regexp.MustCompile(`token=([0-9a-fA-F-]+)`)

// lastToken extracts the emailed single-use token from the most recent
// message sent to addr.
func (c *captureSender) lastToken(t *testing.T, addr string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].To != addr {
			continue
		}
		m := tokenPattern.FindStringSubmatch(c.messages[i].HTML)
		if m == nil {
			t.Fatalf("no token link in email to %s", addr)
		}
		return m[1]
	}
	t.Fatalf("no email captured for %s", addr)
	return ""
}

type testGateway struct {
	srv    *Server
	store  *Store
	sender *captureSender
	client *gateway.Client
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	// The pool must not fan out over separate in-memory databases.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	sender := &captureSender{}
	srv := NewServer(Options{
		Store:     store,
		Sender:    sender,
		JWTSecret: "test-secret",
		BaseURL:   "http://portal.test",
		EmailFrom: "noreply@libres.example",
	})

	if err := Seed(context.Background(), store, "admin@test.example", "admin-pass-123"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	return &testGateway{
		srv:    srv,
		store:  store,
		sender: sender,
		client: gateway.New(hs.URL),
	}
}

// registerVerified walks an account through register and verify, leaves the
// client signed in as that account and returns the profile plus the bearer
// token so tests can switch identities later.
func (tg *testGateway) registerVerified(t *testing.T, name, addr, password string) (session.Profile, string) {
	t.Helper()
	ctx := context.Background()
	if _, err := tg.client.Register(ctx, remote.RegisterInput{Name: name, Email: addr, Password: password}); err != nil {
		t.Fatalf("register %s: %v", addr, err)
	}
	authn, err := tg.client.VerifyEmail(ctx, tg.sender.lastToken(t, addr), addr)
	if err != nil {
		t.Fatalf("verify %s: %v", addr, err)
	}
	tg.client.SetToken(authn.Token)
	return authn.User, authn.Token
}

// loginAdmin signs the client in as the seeded admin.
func (tg *testGateway) loginAdmin(t *testing.T) session.Profile {
	t.Helper()
	authn, err := tg.client.Login(context.Background(), "admin@test.example", "admin-pass-123")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	tg.client.SetToken(authn.Token)
	return authn.User
}

func (tg *testGateway) submit(t *testing.T, activity string, participants int) request.Record {
	t.Helper()
	now := time.Now()
	rec, err := tg.client.SubmitRequest(context.Background(), remote.Submission{
		Kind:         request.KindBooking,
		Activity:     activity,
		StartsAt:     now.Add(24 * time.Hour),
		EndsAt:       now.Add(26 * time.Hour),
		Participants: participants,
	})
	if err != nil {
		t.Fatalf("submit %q: %v", activity, err)
	}
	return rec
}

func TestRegisterVerifyLogin(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	user, err := tg.client.Register(ctx, remote.RegisterInput{
		Name: "Ana", Email: "ana@test.example", Password: "secret-pass-1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.IsVerified {
		t.Error("fresh registration should be unverified")
	}
	if user.Role != session.RoleUser {
		t.Errorf("role = %q, want %q", user.Role, session.RoleUser)
	}

	// Signing in before verification is rejected with the verification flag.
	_, err = tg.client.Login(ctx, "ana@test.example", "secret-pass-1")
	if err == nil {
		t.Fatal("expected unverified login to fail")
	}
	if !remote.NeedsVerification(err) {
		t.Errorf("expected needsVerification on unverified login, got %v", err)
	}

	authn, err := tg.client.VerifyEmail(ctx, tg.sender.lastToken(t, "ana@test.example"), "ana@test.example")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !authn.User.IsVerified {
		t.Error("verified account should report IsVerified")
	}
	if authn.Token == "" {
		t.Error("verification should issue a session token")
	}

	if _, err := tg.client.Login(ctx, "ana@test.example", "secret-pass-1"); err != nil {
		t.Fatalf("login after verification: %v", err)
	}
}

func TestVerificationTokenIsSingleUse(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	if _, err := tg.client.Register(ctx, remote.RegisterInput{
		Name: "Bo", Email: "bo@test.example", Password: "secret-pass-1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	token := tg.sender.lastToken(t, "bo@test.example")

	if _, err := tg.client.VerifyEmail(ctx, token, "bo@test.example"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if _, err := tg.client.VerifyEmail(ctx, token, "bo@test.example"); err == nil {
		t.Fatal("second redemption should fail")
	}
}

func TestVerificationTokenExpires(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	if _, err := tg.client.Register(ctx, remote.RegisterInput{
		Name: "Cy", Email: "cy@test.example", Password: "secret-pass-1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	token := tg.sender.lastToken(t, "cy@test.example")

	tg.srv.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if _, err := tg.client.VerifyEmail(ctx, token, "cy@test.example"); err == nil {
		t.Fatal("expired token should fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()
	tg.registerVerified(t, "Dia", "dia@test.example", "old-pass-123")
	tg.client.SetToken("") // reset is an anonymous flow

	if err := tg.client.ForgotPassword(ctx, "dia@test.example"); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	token := tg.sender.lastToken(t, "dia@test.example")

	authn, err := tg.client.ResetPassword(ctx, token, "dia@test.example", "new-pass-456")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if authn.Token == "" {
		t.Error("reset should issue a session token")
	}

	if _, err := tg.client.Login(ctx, "dia@test.example", "old-pass-123"); err == nil {
		t.Error("old password should no longer work")
	}
	if _, err := tg.client.Login(ctx, "dia@test.example", "new-pass-456"); err != nil {
		t.Errorf("new password should work: %v", err)
	}
}

func TestForgotPasswordHidesUnknownEmails(t *testing.T) {
	tg := newTestGateway(t)
	if err := tg.client.ForgotPassword(context.Background(), "nobody@test.example"); err != nil {
		t.Fatalf("forgot for unknown email should still succeed: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()
	tg.registerVerified(t, "Eli", "eli@test.example", "first-pass-123")

	if _, err := tg.client.ChangePassword(ctx, "wrong-pass", "second-pass-456"); err == nil {
		t.Fatal("wrong current password should fail")
	}

	authn, err := tg.client.ChangePassword(ctx, "first-pass-123", "second-pass-456")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if authn.Token == "" {
		t.Error("password change should rotate the session token")
	}
	if _, err := tg.client.Login(ctx, "eli@test.example", "second-pass-456"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()
	tg.registerVerified(t, "Fay", "fay@test.example", "secret-pass-1")

	user, err := tg.client.UpdateProfile(ctx, remote.ProfileUpdate{Name: "Fay Renamed", Email: "fay2@test.example"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if user.Name != "Fay Renamed" || user.Email != "fay2@test.example" {
		t.Errorf("profile not updated: %+v", user)
	}

	got, err := tg.client.GetCurrentUser(ctx)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if got.Email != "fay2@test.example" {
		t.Errorf("persisted email = %q", got.Email)
	}
}

func TestInvalidTokenIsUnauthorized(t *testing.T) {
	tg := newTestGateway(t)
	tg.client.SetToken("not-a-jwt")

	_, err := tg.client.GetCurrentUser(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if !remote.TokenInvalid(err) {
		t.Errorf("expected invalid-token classification, got %v", err)
	}
}

func TestLoginRateLimit(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	var last error
	for i := 0; i < 10; i++ {
		_, last = tg.client.Login(ctx, "hammer@test.example", "bad-pass")
	}
	var ge *remote.Error
	if !errors.As(last, &ge) || ge.StatusCode != 429 {
		t.Errorf("expected 429 after repeated attempts, got %v", last)
	}
}

func TestRequestLifecycle(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	owner, ownerToken := tg.registerVerified(t, "Gil", "gil@test.example", "secret-pass-1")
	rec := tg.submit(t, "Reading room A", 3)
	if rec.Status != request.StatusPending {
		t.Fatalf("new request status = %q", rec.Status)
	}
	if rec.OwnerUserID != owner.ID {
		t.Fatalf("owner = %q, want %q", rec.OwnerUserID, owner.ID)
	}

	tg.loginAdmin(t)

	// A decision without a note is rejected and the record stays pending.
	err := tg.client.UpdateRequestStatus(ctx, rec.ID, request.StatusApproved, "   ")
	var ge *remote.Error
	if !errors.As(err, &ge) || ge.StatusCode != 422 {
		t.Fatalf("blank note: want 422, got %v", err)
	}

	// Skipping approval is an illegal transition.
	err = tg.client.UpdateRequestStatus(ctx, rec.ID, request.StatusCompleted, "done")
	if !errors.As(err, &ge) || ge.StatusCode != 409 {
		t.Fatalf("pending->completed: want 409, got %v", err)
	}

	if err := tg.client.UpdateRequestStatus(ctx, rec.ID, request.StatusApproved, "Room is free."); err != nil {
		t.Fatalf("approve: %v", err)
	}
	stored, err := tg.store.GetRequest(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != request.StatusApproved || stored.AdminNote != "Room is free." {
		t.Errorf("stored = %q / %q", stored.Status, stored.AdminNote)
	}

	if err := tg.client.UpdateRequestStatus(ctx, rec.ID, request.StatusCompleted, "Went fine."); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A non-admin cannot decide on requests.
	tg.client.SetToken(ownerToken)
	second := tg.submit(t, "Reading room B", 2)
	err = tg.client.UpdateRequestStatus(ctx, second.ID, request.StatusApproved, "sneaky")
	if !errors.As(err, &ge) || ge.StatusCode != 403 {
		t.Fatalf("non-admin decision: want 403, got %v", err)
	}

	// The owner cancels a pending request without a note.
	if err := tg.client.UpdateRequestStatus(ctx, second.ID, request.StatusCancelled, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	err = tg.client.UpdateRequestStatus(ctx, second.ID, request.StatusCancelled, "")
	if !errors.As(err, &ge) || ge.StatusCode != 409 {
		t.Fatalf("double cancel: want 409, got %v", err)
	}
}

func TestDeleteRules(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	_, ownerToken := tg.registerVerified(t, "Hal", "hal@test.example", "secret-pass-1")
	pending := tg.submit(t, "Microfilm station", 1)
	decided := tg.submit(t, "Lecture hall", 30)

	tg.loginAdmin(t)
	if err := tg.client.UpdateRequestStatus(ctx, decided.ID, request.StatusApproved, "Fine."); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// Admins may only delete terminal records.
	err := tg.client.DeleteRequest(ctx, decided.ID)
	var ge *remote.Error
	if !errors.As(err, &ge) || ge.StatusCode != 403 {
		t.Fatalf("admin delete of approved: want 403, got %v", err)
	}

	// Owners may delete their own pending records.
	tg.client.SetToken(ownerToken)
	if err := tg.client.DeleteRequest(ctx, pending.ID); err != nil {
		t.Fatalf("owner delete pending: %v", err)
	}
	if _, err := tg.store.GetRequest(ctx, pending.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("record should be gone, got %v", err)
	}

	err = tg.client.DeleteRequest(ctx, decided.ID)
	if !errors.As(err, &ge) || ge.StatusCode != 403 {
		t.Fatalf("owner delete of approved: want 403, got %v", err)
	}

	err = tg.client.DeleteRequest(ctx, "no-such-id")
	if !errors.As(err, &ge) || ge.StatusCode != 404 {
		t.Fatalf("delete missing: want 404, got %v", err)
	}
}

func TestListFilteringAndPagination(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	_, ownerToken := tg.registerVerified(t, "Ida", "ida@test.example", "secret-pass-1")
	for i := 0; i < 5; i++ {
		tg.submit(t, fmt.Sprintf("Study room %d", i), i+1)
	}
	tg.submit(t, "Telescope night", 2)

	// Another user's records never leak into the first user's listing.
	tg.registerVerified(t, "Jo", "jo@test.example", "secret-pass-1")
	tg.submit(t, "Study room X", 2)

	tg.client.SetToken(ownerToken)

	page, err := tg.client.ListRequests(ctx, remote.Query{Page: 1, Limit: 4, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 6 || page.Pages != 2 || len(page.Records) != 4 {
		t.Fatalf("total=%d pages=%d len=%d, want 6/2/4", page.Total, page.Pages, len(page.Records))
	}
	for _, rec := range page.Records {
		if strings.Contains(rec.Activity, "X") {
			t.Errorf("foreign record leaked: %q", rec.Activity)
		}
	}

	// Search narrows by activity substring, case-insensitive.
	page, err = tg.client.ListRequests(ctx, remote.Query{Page: 1, Limit: 20, Search: "telescope", SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 1 || page.Records[0].Activity != "Telescope night" {
		t.Fatalf("search result total=%d", page.Total)
	}

	// An out-of-range page clamps to the last page.
	page, err = tg.client.ListRequests(ctx, remote.Query{Page: 99, Limit: 4, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("clamp: %v", err)
	}
	if page.Page != 2 || len(page.Records) != 2 {
		t.Fatalf("page=%d len=%d, want 2/2", page.Page, len(page.Records))
	}

	// Sorting by activity ascending is stable and whitelisted.
	page, err = tg.client.ListRequests(ctx, remote.Query{Page: 1, Limit: 20, SortBy: "activityName", SortOrder: "asc"})
	if err != nil {
		t.Fatalf("sort: %v", err)
	}
	if page.Records[0].Activity != "Study room 0" {
		t.Errorf("first sorted record = %q", page.Records[0].Activity)
	}

	// A status filter only returns matching records.
	page, err = tg.client.ListRequests(ctx, remote.Query{Page: 1, Limit: 20, Status: request.StatusApproved, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("status filter: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("no approved records yet, got %d", page.Total)
	}
}

func TestAdminSeesAllAndStats(t *testing.T) {
	tg := newTestGateway(t)
	ctx := context.Background()

	_, userToken := tg.registerVerified(t, "Kim", "kim@test.example", "secret-pass-1")
	tg.submit(t, "Seminar room", 10)

	tg.loginAdmin(t)

	page, err := tg.client.ListRequests(ctx, remote.Query{Page: 1, Limit: 50, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	// Seeded samples plus Kim's submission.
	if page.Total != 5 {
		t.Fatalf("admin total = %d, want 5", page.Total)
	}

	stats, err := tg.client.GetRequestStats(ctx, "all")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 5 || stats.Pending != 2 || stats.Approved != 1 || stats.Rejected != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	// Stats are admin only.
	tg.client.SetToken(userToken)
	_, err = tg.client.GetRequestStats(ctx, "all")
	var ge *remote.Error
	if !errors.As(err, &ge) || ge.StatusCode != 403 {
		t.Errorf("user stats: want 403, got %v", err)
	}
}
