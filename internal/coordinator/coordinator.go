// Package coordinator runs one refresh cycle against the ENGIE API and
// assembles a normalized snapshot.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"engiero/internal/auth"
	"engiero/internal/engie"
	"engiero/internal/normalize"
	"engiero/internal/snapshot"
)

const (
	DefaultInterval = 1800 * time.Second
	MinInterval     = 300 * time.Second

	dateLayout = "2006-01-02"
)

var (
	ErrDiscovery = errors.New("place-of-consumption discovery failed")
	ErrProfile   = errors.New("user profile fetch failed")
	ErrReauth    = errors.New("re-authentication after 401 failed")
)

// TokenSource is implemented by *auth.Manager.
type TokenSource interface {
	Mode() auth.Mode
	EnsureValidToken(ctx context.Context) (string, error)
	RefreshAfter401(ctx context.Context) (string, error)
	Headers(token string) engie.HeaderBuilder
}

// Upstream is implemented by *engie.Client.
type Upstream interface {
	UserMe(ctx context.Context, h engie.HeaderBuilder) (any, error)
	PlacesOfConsumption(ctx context.Context, h engie.HeaderBuilder) (any, error)
	Divisions(ctx context.Context, poc string, h engie.HeaderBuilder) (any, error)
	Index(ctx context.Context, poc string, q engie.IndexQuery, h engie.HeaderBuilder) (any, error)
	Balance(ctx context.Context, contractAccount string, h engie.HeaderBuilder) (any, error)
	InvoiceDetails(ctx context.Context, contractAccount string, h engie.HeaderBuilder) (any, error)
	Consumption(ctx context.Context, poc, startDate, endDate, pa string, h engie.HeaderBuilder) (any, error)
	IndexHistory(ctx context.Context, req engie.IndexHistoryRequest, h engie.HeaderBuilder) (any, error)
	InvoiceHistory(ctx context.Context, poc, startDate, endDate, pa string, h engie.HeaderBuilder) (any, error)
}

// Config holds per-entry orchestration settings.
type Config struct {
	// POC selects one place when the account has several. Empty picks the first.
	POC string
}

// Orchestrator builds snapshots. It is safe for use by one cycle at a time.
type Orchestrator struct {
	tokens    TokenSource
	api       Upstream
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	onFailure func(section string, err error)

	succeeded atomic.Bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithSectionHook registers a callback run for every failed section.
func WithSectionHook(fn func(section string, err error)) Option {
	return func(o *Orchestrator) {
		o.onFailure = fn
	}
}

// New creates an orchestrator
func New(tokens TokenSource, api Upstream, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tokens: tokens,
		api:    api,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ClampInterval applies the default and the floor to a refresh interval.
func ClampInterval(d time.Duration) (time.Duration, bool) {
	switch {
	case d <= 0:
		return DefaultInterval, false
	case d < MinInterval:
		return MinInterval, true
	default:
		return d, false
	}
}

// Refresh runs one cycle. Token acquisition, place discovery, a first
// profile fetch and a failed re-authentication fail the cycle. Every other
// section failure is recorded in the snapshot's errors.
func (o *Orchestrator) Refresh(ctx context.Context) (*snapshot.Snapshot, error) {
	token, err := o.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	now := o.now()
	c := &cycle{
		o:     o,
		token: token,
		snap:  snapshot.New(now, string(o.tokens.Mode())),
	}

	userRaw, err := c.call(ctx, func(h engie.HeaderBuilder) (any, error) {
		return o.api.UserMe(ctx, h)
	})
	switch {
	case aborts(err):
		return nil, err
	case err != nil && !o.succeeded.Load():
		return nil, fmt.Errorf("%w: %w", ErrProfile, err)
	case err != nil:
		c.fail(snapshot.SectionUser, err)
	default:
		c.snap.User = normalize.UserSchema.Apply(normalize.Object(userRaw))
	}

	placesRaw, err := c.call(ctx, func(h engie.HeaderBuilder) (any, error) {
		return o.api.PlacesOfConsumption(ctx, h)
	})
	if aborts(err) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
	c.snap.Places = normalize.PlaceSchema.ApplyAll(placeList(placesRaw))
	c.snap.Account = o.selectPlace(c.snap.Places)

	if err := c.sections(ctx, now); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.snap.Token = c.token
	o.succeeded.Store(true)
	return c.snap, nil
}

// HasSucceeded reports whether any cycle has completed.
func (o *Orchestrator) HasSucceeded() bool {
	return o.succeeded.Load()
}

func (o *Orchestrator) selectPlace(places []normalize.Record) normalize.Record {
	if len(places) == 0 {
		return normalize.PlaceSchema.Empty()
	}
	want := engie.Clean(o.cfg.POC)
	if want == "" {
		return places[0]
	}
	for _, p := range places {
		if normalize.Text(p["poc"]) == want {
			return p
		}
	}
	o.logger.Warn("Configured place of consumption not found, using first", "poc", want)
	return places[0]
}

// placeList accepts a list response or a single place object.
func placeList(raw any) []any {
	if list := normalize.Records(raw); list != nil {
		return list
	}
	if obj := normalize.Object(raw); obj != nil {
		return []any{obj}
	}
	return nil
}

// cycle carries the state of one refresh.
type cycle struct {
	o     *Orchestrator
	token string
	snap  *snapshot.Snapshot
}

// call runs fn with the current token. A 401 triggers one re-authentication
// and one retry; a failed re-authentication fails the whole cycle.
func (c *cycle) call(ctx context.Context, fn func(h engie.HeaderBuilder) (any, error)) (any, error) {
	res, err := fn(c.o.tokens.Headers(c.token))
	if err == nil || !engie.IsUnauthorized(err) {
		return res, err
	}

	token, rerr := c.o.tokens.RefreshAfter401(ctx)
	if rerr != nil {
		if errors.Is(rerr, auth.ErrReauthRequired) {
			return nil, rerr
		}
		return nil, fmt.Errorf("%w: %w", ErrReauth, rerr)
	}
	c.token = token
	return fn(c.o.tokens.Headers(token))
}

// aborts reports whether err ends the cycle instead of one section.
func aborts(err error) bool {
	return errors.Is(err, auth.ErrReauthRequired) || errors.Is(err, ErrReauth)
}

// guard runs one dependent section. Only re-authentication failures escape.
func (c *cycle) guard(ctx context.Context, section string, fn func(h engie.HeaderBuilder) (any, error), apply func(raw any)) error {
	raw, err := c.call(ctx, fn)
	if err != nil {
		if aborts(err) {
			return err
		}
		c.fail(section, err)
		return nil
	}
	apply(raw)
	return nil
}

func (c *cycle) fail(section string, err error) {
	c.o.logger.Warn("Section failed", "section", section, "error", err)
	c.snap.Fail(section, err)
	if c.o.onFailure != nil {
		c.o.onFailure(section, err)
	}
}

func (c *cycle) sections(ctx context.Context, now time.Time) error {
	api := c.o.api
	snap := c.snap
	acct := snap.Account

	poc := normalize.Text(acct["poc"])
	pa := normalize.Text(acct["pa"])
	division := normalize.Text(acct["division"])
	installation := normalize.Text(acct["installation_number"])
	autocit := normalize.Text(acct["autocit"])

	var balanceRaw, detailsRaw any

	if poc == "" {
		snap.Skip(snapshot.SectionDivisions, "poc")
	} else if err := c.guard(ctx, snapshot.SectionDivisions,
		func(h engie.HeaderBuilder) (any, error) { return api.Divisions(ctx, poc, h) },
		func(raw any) {
			snap.Divisions = divisionList(raw)
			if division == "" {
				division = firstDivision(snap.Divisions)
			}
		}); err != nil {
		return err
	}

	if poc == "" {
		snap.Skip(snapshot.SectionIndexWindow, "poc")
	} else if err := c.guard(ctx, snapshot.SectionIndexWindow,
		func(h engie.HeaderBuilder) (any, error) {
			return api.Index(ctx, poc, engie.IndexQuery{Division: division, PA: pa, InstallationNumber: installation}, h)
		},
		func(raw any) { snap.IndexWindow = normalize.IndexWindowSchema.Apply(normalize.Object(raw)) }); err != nil {
		return err
	}

	if pa == "" {
		snap.Skip(snapshot.SectionBalance, "pa")
		snap.Skip(snapshot.SectionInvoices, "pa")
	} else {
		if err := c.guard(ctx, snapshot.SectionBalance,
			func(h engie.HeaderBuilder) (any, error) { return api.Balance(ctx, pa, h) },
			func(raw any) {
				balanceRaw = raw
				snap.Balance = normalize.BalanceSchema.Apply(normalize.Object(raw))
			}); err != nil {
			return err
		}
		if err := c.guard(ctx, snapshot.SectionInvoices,
			func(h engie.HeaderBuilder) (any, error) { return api.InvoiceDetails(ctx, pa, h) },
			func(raw any) {
				detailsRaw = raw
				snap.Invoices = normalize.InvoiceSchema.ApplyAll(normalize.Records(raw))
			}); err != nil {
			return err
		}
	}

	today := now.Format(dateLayout)

	if poc == "" {
		snap.Skip(snapshot.SectionConsumption, "poc")
	} else if err := c.guard(ctx, snapshot.SectionConsumption,
		func(h engie.HeaderBuilder) (any, error) {
			return api.Consumption(ctx, poc, now.AddDate(-1, 0, 0).Format(dateLayout), today, pa, h)
		},
		func(raw any) { snap.Consumption = normalize.ConsumptionSchema.ApplyAll(normalize.Records(raw)) }); err != nil {
		return err
	}

	switch {
	case poc == "":
		snap.Skip(snapshot.SectionIndexHistory, "poc")
	case division == "":
		snap.Skip(snapshot.SectionIndexHistory, "division")
	default:
		req := engie.IndexHistoryRequest{
			Autocit:   autocit,
			POCNumber: poc,
			Division:  division,
			StartDate: now.AddDate(-3, 0, 0).Format(dateLayout),
		}
		if err := c.guard(ctx, snapshot.SectionIndexHistory,
			func(h engie.HeaderBuilder) (any, error) { return api.IndexHistory(ctx, req, h) },
			func(raw any) { snap.IndexHistory = normalize.IndexReadingSchema.ApplyAll(normalize.Records(raw)) }); err != nil {
			return err
		}
	}

	if poc == "" {
		snap.Skip(snapshot.SectionInvoiceHistory, "poc")
	} else {
		start := time.Date(now.Year()-1, time.January, 1, 0, 0, 0, 0, now.Location()).Format(dateLayout)
		if err := c.guard(ctx, snapshot.SectionInvoiceHistory,
			func(h engie.HeaderBuilder) (any, error) { return api.InvoiceHistory(ctx, poc, start, today, pa, h) },
			func(raw any) { snap.InvoiceHistory = normalize.InvoiceSchema.ApplyAll(normalize.Records(raw)) }); err != nil {
			return err
		}
	}

	snap.UnpaidTotal = snapshot.UnpaidTotal(detailsRaw, balanceRaw)
	snap.InvoicesCurrentYear, snap.InvoicesPriorYear = snapshot.SplitByYear(snap.InvoiceHistory, now)
	snap.LatestIndex = snapshot.LatestIndex(snap.IndexHistory)
	if len(snap.InvoiceHistory) > 0 {
		snap.LatestInvoice = snapshot.LatestInvoice(snap.InvoiceHistory)
	} else {
		snap.LatestInvoice = snapshot.LatestInvoice(snap.Invoices)
	}
	return nil
}

func divisionList(raw any) []any {
	if list := normalize.Records(raw); list != nil {
		return list
	}
	if obj := normalize.Object(raw); obj != nil {
		return []any{obj}
	}
	return []any{}
}

func firstDivision(divisions []any) string {
	for _, d := range divisions {
		switch t := d.(type) {
		case string:
			if s := engie.Clean(t); s != "" {
				return s
			}
		case map[string]any:
			if s := normalize.FirstText(t, "division", "Division", "energietyp", "name"); s != "" {
				return s
			}
		}
	}
	return ""
}
