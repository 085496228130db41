// Command libres is the resource portal client: it signs in against the
// gateway, keeps the session token in a local SQLite file, and drives the
// request lifecycle from the terminal.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	_ "modernc.org/sqlite"

	"libres/internal/adapters/gateway"
	tokenStore "libres/internal/adapters/storage/token"
	"libres/internal/application/authflow"
	"libres/internal/application/lifecycle"
	"libres/internal/application/listquery"
	"libres/internal/application/notegate"
	"libres/internal/application/policy"
	"libres/internal/application/remote"
	"libres/internal/config"
	"libres/internal/domain/request"
	"libres/internal/domain/session"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: libres <command> [flags]

session:
  login --email E --password P   sign in and store the session token
  logout                         sign out and clear the stored token
  whoami                         show the restored session

account:
  register --name N --email E --password P
  verify --token T --email E     redeem an emailed verification token
  resend --email E               request a fresh verification email
  forgot --email E               request a password reset email
  reset --token T --email E --password P
  change-password --current C --new N
  profile --name N --email E     update the signed-in profile

requests:
  submit --type booking|tour --activity A --start T --end T --participants N
  list [--search S] [--status S] [--sort F] [--order asc|desc]
       [--page N] [--limit N] [--from D] [--to D]
  approve ID --note TEXT
  reject ID --note TEXT
  complete ID --note TEXT
  cancel ID
  delete ID --confirm
  stats [--period week|month|all]
`)
}

func run(command string, args []string) error {
	cfg, err := config.LoadPortal()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.TokenDB)
	if err != nil {
		return fmt.Errorf("open token db: %w", err)
	}
	defer db.Close()

	tokens, err := tokenStore.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("init token store: %w", err)
	}

	client := gateway.New(cfg.GatewayURL)
	auth := authflow.New(client, tokens)
	a := &app{cfg: cfg, client: client, auth: auth}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "register":
		return a.register(ctx, args)
	case "verify":
		return a.verify(ctx, args)
	case "resend":
		return a.resend(ctx, args)
	case "forgot":
		return a.forgot(ctx, args)
	case "reset":
		return a.reset(ctx, args)
	case "change-password":
		return a.changePassword(ctx, args)
	case "profile":
		return a.updateProfile(ctx, args)
	case "submit":
		return a.submit(ctx, args)
	case "list":
		return a.list(ctx, args)
	case "approve":
		return a.decide(ctx, "approve", request.StatusApproved, args)
	case "reject":
		return a.decide(ctx, "reject", request.StatusRejected, args)
	case "complete":
		return a.decide(ctx, "complete", request.StatusCompleted, args)
	case "cancel":
		return a.cancel(ctx, args)
	case "delete":
		return a.deleteRequest(ctx, args)
	case "stats":
		return a.stats(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

type app struct {
	cfg    config.Portal
	client *gateway.Client
	auth   *authflow.Manager
}

// resultErr turns a failed authflow result into an error for the CLI.
func resultErr(res authflow.Result) error {
	if res.Success {
		return nil
	}
	if res.NeedsVerification {
		return fmt.Errorf("%s (run: libres resend --email <your email>)", res.Error)
	}
	return fmt.Errorf("%s", res.Error)
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	if err := resultErr(a.auth.Login(ctx, *email, *password)); err != nil {
		return err
	}
	sess := a.auth.Session()
	fmt.Printf("signed in as %s (%s)\n", sess.User.Name, sess.User.Role)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	a.auth.Restore(ctx)
	a.auth.Logout(ctx)
	fmt.Println("signed out")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	a.auth.Restore(ctx)
	sess := a.auth.Session()
	if !sess.IsAuthenticated() {
		fmt.Println("not signed in")
		return nil
	}
	fmt.Printf("%s <%s>\nrole: %s\nverified: %v\n", sess.User.Name, sess.User.Email, sess.User.Role, sess.User.IsVerified)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args)

	res := a.auth.Register(ctx, remote.RegisterInput{Name: *name, Email: *email, Password: *password})
	if err := resultErr(res); err != nil {
		return err
	}
	fmt.Println("registered; check your email for the verification link")
	return nil
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	token := fs.String("token", "", "verification token from the email link")
	email := fs.String("email", "", "account email")
	fs.Parse(args)

	if err := resultErr(a.auth.VerifyEmail(ctx, *token, *email)); err != nil {
		return err
	}
	fmt.Println("email verified; you are signed in")
	return nil
}

func (a *app) resend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resend", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	fs.Parse(args)

	if err := resultErr(a.auth.ResendVerification(ctx, *email)); err != nil {
		return err
	}
	fmt.Println("verification email sent if the address is registered")
	return nil
}

func (a *app) forgot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forgot", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	fs.Parse(args)

	if err := resultErr(a.auth.ForgotPassword(ctx, *email)); err != nil {
		return err
	}
	fmt.Println("reset email sent if the address is registered")
	return nil
}

func (a *app) reset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	token := fs.String("token", "", "reset token from the email link")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "new password")
	fs.Parse(args)

	if err := resultErr(a.auth.ResetPassword(ctx, *token, *email, *password)); err != nil {
		return err
	}
	fmt.Println("password reset; you are signed in")
	return nil
}

func (a *app) changePassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("change-password", flag.ExitOnError)
	current := fs.String("current", "", "current password")
	newPass := fs.String("new", "", "new password")
	fs.Parse(args)

	if err := a.requireAccess(ctx, "/settings", ""); err != nil {
		return err
	}
	if err := resultErr(a.auth.ChangePassword(ctx, *current, *newPass)); err != nil {
		return err
	}
	fmt.Println("password changed")
	return nil
}

func (a *app) updateProfile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	fs.Parse(args)

	if err := a.requireAccess(ctx, "/settings", ""); err != nil {
		return err
	}
	if err := resultErr(a.auth.UpdateProfile(ctx, remote.ProfileUpdate{Name: *name, Email: *email})); err != nil {
		return err
	}
	fmt.Println("profile updated")
	return nil
}

// requireAccess restores the stored session and evaluates the access
// policy for a protected surface. requiredRole may be empty.
func (a *app) requireAccess(ctx context.Context, path, requiredRole string) error {
	res := a.auth.Restore(ctx)
	dec := policy.Evaluate(a.auth.Session(), path, requiredRole)
	return accessError(dec, requiredRole, res)
}

// accessError maps a policy decision into a CLI error. Render means
// proceed; everything else names what the user has to do first.
func accessError(dec policy.Decision, requiredRole string, restore authflow.Result) error {
	switch dec.Action {
	case policy.Render:
		return nil
	case policy.RedirectToLogin:
		if !restore.Success && restore.Error != "" {
			return fmt.Errorf("%s", restore.Error)
		}
		return fmt.Errorf("not signed in (run: libres login)")
	case policy.RedirectToVerify:
		return fmt.Errorf("email %s is not verified (run: libres verify)", dec.Email)
	case policy.RedirectToRoleHome:
		return fmt.Errorf("this command needs the %s role", requiredRole)
	default:
		return fmt.Errorf("session is still loading, try again")
	}
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	kind := fs.String("type", request.KindBooking, "booking or tour")
	activity := fs.String("activity", "", "activity name")
	start := fs.String("start", "", "start time (RFC 3339)")
	end := fs.String("end", "", "end time (RFC 3339)")
	participants := fs.Int("participants", 1, "number of participants")
	fs.Parse(args)

	if err := a.requireAccess(ctx, "/requests", ""); err != nil {
		return err
	}
	startsAt, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		return fmt.Errorf("--start must be RFC 3339, e.g. 2026-09-01T14:00:00Z")
	}
	endsAt, err := time.Parse(time.RFC3339, *end)
	if err != nil {
		return fmt.Errorf("--end must be RFC 3339, e.g. 2026-09-01T16:00:00Z")
	}

	rec, err := a.client.SubmitRequest(ctx, remote.Submission{
		Kind:         *kind,
		Activity:     *activity,
		StartsAt:     startsAt,
		EndsAt:       endsAt,
		Participants: *participants,
	})
	if err != nil {
		return fmt.Errorf("%s", remote.Message(err))
	}
	fmt.Printf("submitted %s %s (%s)\n", rec.Kind, rec.ID, rec.Status)
	return nil
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	search := fs.String("search", "", "activity search term")
	status := fs.String("status", "", "status filter")
	sortBy := fs.String("sort", "createdAt", "sort field")
	order := fs.String("order", "desc", "asc or desc")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", a.cfg.PageSize, "rows per page")
	from := fs.String("from", "", "earliest start date (YYYY-MM-DD)")
	to := fs.String("to", "", "latest start date (YYYY-MM-DD)")
	fs.Parse(args)

	if err := a.requireAccess(ctx, "/requests", ""); err != nil {
		return err
	}

	_, results, err := a.runQuery(ctx, query{
		search: *search, status: *status,
		sortBy: *sortBy, sortOrder: *order,
		page: *page, limit: *limit,
		startDate: *from, endDate: *to,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tACTIVITY\tSTART\tPEOPLE\tNOTE")
	for _, rec := range results.Records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.Kind, rec.Status, rec.Activity,
			rec.StartsAt.Local().Format("2006-01-02 15:04"), rec.Participants, rec.AdminNote)
	}
	w.Flush()
	fmt.Printf("page %d of %d (%d total)\n", results.Page, results.TotalPages, results.Total)
	return nil
}

// query carries the list command's parameters into the engine.
type query struct {
	search, status     string
	sortBy, sortOrder  string
	startDate, endDate string
	page, limit        int
}

// runQuery drives a list engine through one command's worth of parameter
// changes and waits for the surviving fetch to settle. Interim responses
// superseded by later parameter changes are discarded by the engine, so
// the last delivered result is the one matching the full parameter set.
func (a *app) runQuery(ctx context.Context, q query) (*listquery.Engine, listquery.Results, error) {
	resCh := make(chan listquery.Results, 8)
	errCh := make(chan string, 8)
	eng := listquery.New(ctx, listquery.Config{
		Fetcher:   a.client,
		Window:    a.cfg.SearchDebounce,
		PageSize:  q.limit,
		SortBy:    q.sortBy,
		SortOrder: q.sortOrder,
		OnResults: func(r listquery.Results) { resCh <- r },
		OnError:   func(msg string) { errCh <- msg },
	})

	if q.status != "" {
		eng.SetStatusFilter(q.status)
	}
	if q.startDate != "" || q.endDate != "" {
		eng.SetDateRange(q.startDate, q.endDate)
	}
	if q.search != "" {
		eng.SetSearch(q.search)
	}
	eng.Refresh()

	// The settle window must outlast the search debounce, or we would
	// return the pre-search page.
	settle := a.cfg.SearchDebounce + 200*time.Millisecond

	var (
		last    listquery.Results
		errMsg  string
		settled bool
	)
	quiet := time.NewTimer(settle)
	defer quiet.Stop()
	for {
		select {
		case r := <-resCh:
			last, settled, errMsg = r, true, ""
			quiet.Reset(settle)
		case m := <-errCh:
			errMsg = m
			quiet.Reset(settle)
		case <-quiet.C:
			if errMsg != "" {
				return nil, listquery.Results{}, fmt.Errorf("%s", errMsg)
			}
			if !settled {
				return nil, listquery.Results{}, fmt.Errorf("no response from gateway")
			}
			if q.page > 1 {
				eng.SetPage(q.page)
				q.page = 0
				quiet.Reset(settle)
				continue
			}
			return eng, last, nil
		case <-ctx.Done():
			return nil, listquery.Results{}, ctx.Err()
		}
	}
}

// locate pages through the listing until the record is in the engine's
// cache, so lifecycle decisions validate against fresh data.
func (a *app) locate(ctx context.Context, id string) (*listquery.Engine, error) {
	eng, results, err := a.runQuery(ctx, query{sortBy: "createdAt", sortOrder: "desc", page: 1, limit: 100})
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := eng.Get(id); ok {
			return eng, nil
		}
		if results.Page >= results.TotalPages {
			return nil, fmt.Errorf("request %s not found", id)
		}
		eng, results, err = a.runQuery(ctx, query{sortBy: "createdAt", sortOrder: "desc", page: results.Page + 1, limit: 100})
		if err != nil {
			return nil, err
		}
	}
}

func (a *app) decide(ctx context.Context, name, target string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	note := fs.String("note", "", "admin note explaining the decision (required)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: libres %s <request-id> --note TEXT", name)
	}
	id := fs.Arg(0)

	if err := a.requireAccess(ctx, "/admin", session.RoleAdmin); err != nil {
		return err
	}
	eng, err := a.locate(ctx, id)
	if err != nil {
		return err
	}

	engine := lifecycle.New(a.client, eng)
	gate := notegate.New(engine.RequestTransition)
	if err := gate.Open(notegate.Action{RecordID: id, TargetStatus: target}); err != nil {
		return err
	}
	if err := gate.Confirm(ctx, *note); err != nil {
		return err
	}
	fmt.Printf("request %s is now %s\n", id, target)
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: libres cancel <request-id>")
	}
	id := args[0]

	if err := a.requireAccess(ctx, "/requests", ""); err != nil {
		return err
	}
	eng, err := a.locate(ctx, id)
	if err != nil {
		return err
	}
	if err := lifecycle.New(a.client, eng).Cancel(ctx, id); err != nil {
		return err
	}
	fmt.Printf("request %s cancelled\n", id)
	return nil
}

func (a *app) deleteRequest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	confirmed := fs.Bool("confirm", false, "confirm the irreversible deletion")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: libres delete <request-id> --confirm")
	}
	id := fs.Arg(0)

	if err := a.requireAccess(ctx, "/requests", ""); err != nil {
		return err
	}
	eng, err := a.locate(ctx, id)
	if err != nil {
		return err
	}
	actor := *a.auth.Session().User
	if err := lifecycle.New(a.client, eng).Delete(ctx, id, actor, *confirmed); err != nil {
		return err
	}
	fmt.Printf("request %s deleted\n", id)
	return nil
}

func (a *app) stats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	period := fs.String("period", "all", "week, month or all")
	fs.Parse(args)

	if err := a.requireAccess(ctx, "/admin", session.RoleAdmin); err != nil {
		return err
	}
	stats, err := lifecycle.New(a.client, noopCache{}).FetchStats(ctx, *period)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "approved\t%d\n", stats.Approved)
	fmt.Fprintf(w, "rejected\t%d\n", stats.Rejected)
	fmt.Fprintf(w, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(w, "cancelled\t%d\n", stats.Cancelled)
	w.Flush()
	return nil
}

// noopCache satisfies the lifecycle cache for commands that never touch
// records, like stats.
type noopCache struct{}

func (noopCache) Get(string) (request.Record, bool) { return request.Record{}, false }
func (noopCache) Patch(request.Record)              {}
func (noopCache) Remove(string)                     {}
